package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/brianly1003/cbridge/internal/domain"
)

// Validate validates the configuration.
func Validate(cfg *Config) error {
	if err := validateServer(&cfg.Server); err != nil {
		return err
	}
	if err := validateTmux(&cfg.Tmux); err != nil {
		return err
	}
	if err := validateAgent(&cfg.Agent); err != nil {
		return err
	}
	if err := validateSession(&cfg.Session); err != nil {
		return err
	}
	if err := validateGateway(&cfg.Gateway); err != nil {
		return err
	}
	if cfg.Workspace.StateDir == "" {
		return fmt.Errorf("workspace.state_dir cannot be empty")
	}
	if cfg.Persistence.Enabled && cfg.Persistence.Path == "" {
		return fmt.Errorf("persistence.path cannot be empty when persistence is enabled")
	}
	return validateLogging(&cfg.Logging)
}

func validateServer(cfg *ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if cfg.Host == "" {
		return fmt.Errorf("server.host cannot be empty")
	}
	if cfg.ExternalURL != "" {
		if err := validateExternalURL(cfg.ExternalURL, "server.external_url", []string{"http", "https"}); err != nil {
			return err
		}
	}
	return nil
}

// validateExternalURL validates that a URL is well-formed and uses an allowed scheme.
func validateExternalURL(rawURL, fieldName string, allowedSchemes []string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", fieldName, err)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%s must include a host", fieldName)
	}
	for _, scheme := range allowedSchemes {
		if strings.EqualFold(parsed.Scheme, scheme) {
			return nil
		}
	}
	return fmt.Errorf("%s must use one of these schemes: %s", fieldName, strings.Join(allowedSchemes, ", "))
}

func validateTmux(cfg *TmuxConfig) error {
	if cfg.Command == "" {
		return fmt.Errorf("tmux.command cannot be empty")
	}
	if cfg.LogDir == "" {
		return fmt.Errorf("tmux.log_dir cannot be empty")
	}
	if cfg.PollIntervalMS < 10 || cfg.PollIntervalMS > 60000 {
		return fmt.Errorf("tmux.poll_interval_ms must be between 10 and 60000")
	}
	if cfg.InterruptKey == "" {
		return fmt.Errorf("tmux.interrupt_key cannot be empty")
	}
	return nil
}

func validateAgent(cfg *AgentConfig) error {
	if cfg.Command == "" {
		return fmt.Errorf("agent.command cannot be empty")
	}
	for mode, command := range cfg.ModeCommands {
		if _, err := domain.ParseMode(mode); err != nil || mode == "" {
			return fmt.Errorf("agent.mode_commands: unknown mode %q", mode)
		}
		if command == "" {
			return fmt.Errorf("agent.mode_commands.%s cannot be empty", mode)
		}
	}
	return nil
}

func validateSession(cfg *SessionConfig) error {
	if cfg.BufferCapacity < 1 {
		return fmt.Errorf("session.buffer_capacity must be positive")
	}
	if cfg.MaxSessions < 1 {
		return fmt.Errorf("session.max_sessions must be positive")
	}
	if cfg.ToolResultMaxBytes < 1 {
		return fmt.Errorf("session.tool_result_max_bytes must be positive")
	}
	if cfg.EchoQueueSize < 1 {
		return fmt.Errorf("session.echo_queue_size must be positive")
	}
	return nil
}

func validateGateway(cfg *GatewayConfig) error {
	if cfg.SendBufferSize < 1 {
		return fmt.Errorf("gateway.send_buffer_size must be positive")
	}
	if cfg.MaxMessageSize < 1024 {
		return fmt.Errorf("gateway.max_message_size must be at least 1024")
	}
	if cfg.HeartbeatIntervalSec < 1 {
		return fmt.Errorf("gateway.heartbeat_interval_secs must be positive")
	}
	return nil
}

func validateLogging(cfg *LoggingConfig) error {
	if _, err := zerolog.ParseLevel(cfg.Level); err != nil || cfg.Level == "" {
		return fmt.Errorf("logging.level %q is not a valid level", cfg.Level)
	}
	switch cfg.Format {
	case "console", "json":
		return nil
	}
	return fmt.Errorf("logging.format must be console or json")
}

// Package config handles configuration management for cbridge.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. CBRIDGE_SERVER_PORT.
const EnvPrefix = "CBRIDGE"

// Config holds all configuration for the application.
type Config struct {
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Tmux        TmuxConfig        `mapstructure:"tmux" yaml:"tmux"`
	Agent       AgentConfig       `mapstructure:"agent" yaml:"agent"`
	Session     SessionConfig     `mapstructure:"session" yaml:"session"`
	Gateway     GatewayConfig     `mapstructure:"gateway" yaml:"gateway"`
	Workspace   WorkspaceConfig   `mapstructure:"workspace" yaml:"workspace"`
	Persistence PersistenceConfig `mapstructure:"persistence" yaml:"persistence"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig holds the listener configuration.
type ServerConfig struct {
	Host           string   `mapstructure:"host" yaml:"host"`
	Port           int      `mapstructure:"port" yaml:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	ShowQR         bool     `mapstructure:"show_qr" yaml:"show_qr"`
	// ExternalURL is advertised in the pairing QR code instead of host:port.
	ExternalURL string `mapstructure:"external_url" yaml:"external_url,omitempty"`
}

// TmuxConfig configures the terminal multiplexer backing sessions.
type TmuxConfig struct {
	Command        string `mapstructure:"command" yaml:"command"`
	Socket         string `mapstructure:"socket" yaml:"socket,omitempty"`
	LogDir         string `mapstructure:"log_dir" yaml:"log_dir"`
	PollIntervalMS int    `mapstructure:"poll_interval_ms" yaml:"poll_interval_ms"`
	InterruptKey   string `mapstructure:"interrupt_key" yaml:"interrupt_key"`
}

// AgentConfig is the command started in every new pane.
type AgentConfig struct {
	Command string   `mapstructure:"command" yaml:"command"`
	Args    []string `mapstructure:"args" yaml:"args"`
	// ModeCommands replaces Command for sessions created in a given mode.
	ModeCommands map[string]string `mapstructure:"mode_commands" yaml:"mode_commands"`
}

// SessionConfig holds per-session limits.
type SessionConfig struct {
	BufferCapacity     int `mapstructure:"buffer_capacity" yaml:"buffer_capacity"`
	MaxSessions        int `mapstructure:"max_sessions" yaml:"max_sessions"`
	ToolResultMaxBytes int `mapstructure:"tool_result_max_bytes" yaml:"tool_result_max_bytes"`
	EchoQueueSize      int `mapstructure:"echo_queue_size" yaml:"echo_queue_size"`
}

// GatewayConfig holds per-connection limits.
type GatewayConfig struct {
	SendBufferSize       int   `mapstructure:"send_buffer_size" yaml:"send_buffer_size"`
	MaxMessageSize       int64 `mapstructure:"max_message_size" yaml:"max_message_size"`
	HeartbeatIntervalSec int   `mapstructure:"heartbeat_interval_secs" yaml:"heartbeat_interval_secs"`
}

// WorkspaceConfig configures where worktrees and throwaway clones live.
type WorkspaceConfig struct {
	StateDir   string `mapstructure:"state_dir" yaml:"state_dir"`
	GitCommand string `mapstructure:"git_command" yaml:"git_command"`
}

// PersistenceConfig controls the session snapshot.
type PersistenceConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Load loads configuration from files and environment.
func Load(configPath string) (*Config, error) {
	v, err := read(configPath)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

// Default returns the built-in configuration, ignoring files and environment.
func Default() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	return decode(v)
}

// Lookup returns the effective value of one dotted key, e.g. "server.port".
func Lookup(configPath, key string) (any, error) {
	v, err := read(configPath)
	if err != nil {
		return nil, err
	}
	if !v.IsSet(key) {
		return nil, fmt.Errorf("unknown config key %q", key)
	}
	return v.Get(key), nil
}

// ConfigFileUsed returns the file Load would read, or "" when none exists.
func ConfigFileUsed(configPath string) (string, error) {
	v, err := read(configPath)
	if err != nil {
		return "", err
	}
	return v.ConfigFileUsed(), nil
}

func read(configPath string) (*viper.Viper, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.cbridge")
		v.AddConfigPath("/etc/cbridge")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// A missing config file is fine; defaults and env apply.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	if err := postProcess(&cfg); err != nil {
		return nil, err
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8766)
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.show_qr", false)
	v.SetDefault("server.external_url", "")

	// Tmux defaults
	v.SetDefault("tmux.command", "tmux")
	v.SetDefault("tmux.socket", "")
	v.SetDefault("tmux.log_dir", "~/.cbridge/panes")
	v.SetDefault("tmux.poll_interval_ms", 500)
	v.SetDefault("tmux.interrupt_key", "Escape")

	// Agent defaults
	v.SetDefault("agent.command", "claude")
	v.SetDefault("agent.args", []string{})
	v.SetDefault("agent.mode_commands", map[string]string{})

	// Session defaults
	v.SetDefault("session.buffer_capacity", 5000)
	v.SetDefault("session.max_sessions", 16)
	v.SetDefault("session.tool_result_max_bytes", 4096)
	v.SetDefault("session.echo_queue_size", 32)

	// Gateway defaults
	v.SetDefault("gateway.send_buffer_size", 256)
	v.SetDefault("gateway.max_message_size", 512*1024)
	v.SetDefault("gateway.heartbeat_interval_secs", 30)

	// Workspace defaults
	v.SetDefault("workspace.state_dir", "~/.cbridge/workspaces")
	v.SetDefault("workspace.git_command", "git")

	// Persistence defaults
	v.SetDefault("persistence.enabled", true)
	v.SetDefault("persistence.path", "~/.cbridge/sessions.db")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// postProcess expands ~ in path settings and resolves them to absolute paths.
func postProcess(cfg *Config) error {
	paths := []*string{&cfg.Tmux.LogDir, &cfg.Workspace.StateDir, &cfg.Persistence.Path}
	for _, p := range paths {
		if *p == "" {
			continue
		}
		expanded, err := expandHome(*p)
		if err != nil {
			return err
		}
		abs, err := filepath.Abs(expanded)
		if err != nil {
			return fmt.Errorf("failed to resolve path %s: %w", *p, err)
		}
		*p = abs
	}
	if cfg.Agent.ModeCommands == nil {
		cfg.Agent.ModeCommands = map[string]string{}
	}
	return nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// YAML renders the configuration as YAML.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// GetConfigDir returns the user config directory for cbridge.
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".cbridge"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() (string, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

// isolate keeps Load from picking up a config file from the working
// directory or the real home directory.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Chdir(t.TempDir())
	return home
}

func TestLoad_Defaults(t *testing.T) {
	home := isolate(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8766 {
		t.Errorf("default Port = %d, want 8766", cfg.Server.Port)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("default Host = %s, want 127.0.0.1", cfg.Server.Host)
	}
	if cfg.Server.ShowQR {
		t.Error("default ShowQR should be false")
	}
	if cfg.Tmux.Command != "tmux" || cfg.Tmux.PollIntervalMS != 500 || cfg.Tmux.InterruptKey != "Escape" {
		t.Errorf("default Tmux = %+v", cfg.Tmux)
	}
	if cfg.Agent.Command != "claude" {
		t.Errorf("default Agent.Command = %s, want claude", cfg.Agent.Command)
	}
	if cfg.Session.BufferCapacity != 5000 || cfg.Session.MaxSessions != 16 {
		t.Errorf("default Session = %+v", cfg.Session)
	}
	if cfg.Gateway.SendBufferSize != 256 || cfg.Gateway.MaxMessageSize != 512*1024 {
		t.Errorf("default Gateway = %+v", cfg.Gateway)
	}
	if !cfg.Persistence.Enabled {
		t.Error("default Persistence.Enabled should be true")
	}
	if want := filepath.Join(home, ".cbridge", "sessions.db"); cfg.Persistence.Path != want {
		t.Errorf("Persistence.Path = %s, want %s", cfg.Persistence.Path, want)
	}
	if want := filepath.Join(home, ".cbridge", "panes"); cfg.Tmux.LogDir != want {
		t.Errorf("Tmux.LogDir = %s, want %s", cfg.Tmux.LogDir, want)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "console" {
		t.Errorf("default Logging = %+v", cfg.Logging)
	}
}

func TestLoad_FromFile(t *testing.T) {
	isolate(t)
	tempDir := t.TempDir()

	configContent := `
server:
  port: 9000
  host: "0.0.0.0"
  allowed_origins: ["https://app.example.com"]
  show_qr: true

tmux:
  socket: /tmp/cb.sock
  poll_interval_ms: 250

agent:
  command: /usr/local/bin/claude
  args: ["--model", "opus"]
  mode_commands:
    swarm: claude-swarm

session:
  buffer_capacity: 100

logging:
  level: debug
  format: json
`
	configPath := filepath.Join(tempDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9000 || cfg.Server.Host != "0.0.0.0" || !cfg.Server.ShowQR {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "https://app.example.com" {
		t.Errorf("AllowedOrigins = %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Tmux.Socket != "/tmp/cb.sock" || cfg.Tmux.PollIntervalMS != 250 {
		t.Errorf("Tmux = %+v", cfg.Tmux)
	}
	if cfg.Agent.Command != "/usr/local/bin/claude" || len(cfg.Agent.Args) != 2 {
		t.Errorf("Agent = %+v", cfg.Agent)
	}
	if cfg.Agent.ModeCommands["swarm"] != "claude-swarm" {
		t.Errorf("ModeCommands = %v", cfg.Agent.ModeCommands)
	}
	if cfg.Session.BufferCapacity != 100 || cfg.Session.MaxSessions != 16 {
		t.Errorf("Session = %+v", cfg.Session)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("CBRIDGE_SERVER_PORT", "9123")
	t.Setenv("CBRIDGE_SESSION_MAX_SESSIONS", "4")
	t.Setenv("CBRIDGE_PERSISTENCE_ENABLED", "false")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9123 {
		t.Errorf("Server.Port = %d, want 9123", cfg.Server.Port)
	}
	if cfg.Session.MaxSessions != 4 {
		t.Errorf("Session.MaxSessions = %d, want 4", cfg.Session.MaxSessions)
	}
	if cfg.Persistence.Enabled {
		t.Error("Persistence.Enabled should be false")
	}
}

func TestLoad_InvalidFile(t *testing.T) {
	isolate(t)
	tempDir := t.TempDir()

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad yaml", "server: [", "error reading config file"},
		{"bad port", "server:\n  port: 0\n", "server.port"},
		{"bad format", "logging:\n  format: xml\n", "logging.format"},
		{"bad mode", "agent:\n  mode_commands:\n    solo: x\n", "unknown mode"},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(tempDir, "c"+string(rune('a'+i))+".yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			_, err := Load(path)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLookup(t *testing.T) {
	isolate(t)
	t.Setenv("CBRIDGE_TMUX_COMMAND", "/opt/tmux")

	got, err := Lookup("", "tmux.command")
	if err != nil {
		t.Fatal(err)
	}
	if got != "/opt/tmux" {
		t.Errorf("Lookup(tmux.command) = %v", got)
	}

	if _, err := Lookup("", "tmux.nonsense"); err == nil {
		t.Error("Lookup of unknown key should fail")
	}
}

func TestConfig_YAMLRoundTrip(t *testing.T) {
	isolate(t)
	cfg, err := Default()
	if err != nil {
		t.Fatal(err)
	}

	data, err := cfg.YAML()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "buffer_capacity: 5000") {
		t.Errorf("YAML() missing session settings:\n%s", data)
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load(generated) error = %v", err)
	}
	if loaded.Server.Port != cfg.Server.Port || loaded.Session != cfg.Session || loaded.Persistence != cfg.Persistence {
		t.Errorf("loaded = %+v", loaded.Server)
	}

	var generic map[string]any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		t.Fatalf("YAML() output is not valid yaml: %v", err)
	}
}

func TestConfig_Addr(t *testing.T) {
	cfg := &Config{Server: ServerConfig{Host: "0.0.0.0", Port: 8080}}
	if cfg.Addr() != "0.0.0.0:8080" {
		t.Errorf("Addr() = %s", cfg.Addr())
	}
}

func TestGetConfigDir(t *testing.T) {
	home := isolate(t)

	dir, err := GetConfigDir()
	if err != nil {
		t.Fatalf("GetConfigDir() error = %v", err)
	}
	if dir != filepath.Join(home, ".cbridge") {
		t.Errorf("GetConfigDir() = %s", dir)
	}

	dir, err = EnsureConfigDir()
	if err != nil {
		t.Fatalf("EnsureConfigDir() error = %v", err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Errorf("config dir %s not created", dir)
	}
}

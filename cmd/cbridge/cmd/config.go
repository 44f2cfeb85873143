package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/brianly1003/cbridge/internal/config"
)

var (
	configInitLocal bool
	configInitForce bool
)

// configCmd displays or manages configuration.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Display and manage configuration",
	Long: `Display and manage cbridge configuration.

Without subcommands, prints the effective configuration as YAML.

Examples:
  cbridge config                      # Show effective config
  cbridge config init                 # Create config file with defaults
  cbridge config path                 # Show config file location
  cbridge config get tmux.command     # Get a config value
  cbridge config set server.port 9000 # Set a config value`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		data, err := cfg.YAML()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

// configInitCmd creates a config file with defaults.
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a config file with default settings",
	Long: `Create a config file with default settings.

By default, creates ~/.cbridge/config.yaml.
Use --local to create ./config.yaml in the current directory.`,
	RunE: runConfigInit,
}

// configPathCmd shows config file location.
var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show config file location",
	RunE:  runConfigPath,
}

// configGetCmd gets a config value.
var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a configuration value",
	Long: `Get the effective value of a configuration key.

Examples:
  cbridge config get server.port
  cbridge config get session.buffer_capacity`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigGet,
}

// configSetCmd sets a config value.
var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in ~/.cbridge/config.yaml.

Creates the config file if it doesn't exist.

Examples:
  cbridge config set server.port 9000
  cbridge config set logging.level debug`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)

	configInitCmd.Flags().BoolVar(&configInitLocal, "local", false, "create config in current directory instead of ~/.cbridge/")
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite existing config file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configPath := "config.yaml"
	if !configInitLocal {
		configDir, err := config.EnsureConfigDir()
		if err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
		configPath = filepath.Join(configDir, "config.yaml")
	}

	if _, err := os.Stat(configPath); err == nil && !configInitForce {
		return fmt.Errorf("config file already exists: %s\nUse --force to overwrite", configPath)
	}

	if err := writeDefaultConfig(configPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", configPath)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	used, err := config.ConfigFileUsed(cfgFile)
	if err != nil {
		return err
	}
	if used != "" {
		fmt.Fprintf(out, "Using: %s\n\n", used)
	} else {
		fmt.Fprint(out, "Using: built-in defaults\n\n")
	}

	configDir, err := config.GetConfigDir()
	if err != nil {
		return err
	}
	locations := []string{
		"./config.yaml",
		filepath.Join(configDir, "config.yaml"),
		"/etc/cbridge/config.yaml",
	}

	fmt.Fprintln(out, "Config search paths (in order):")
	for i, loc := range locations {
		exists := "not found"
		if _, err := os.Stat(loc); err == nil {
			exists = "exists"
		}
		fmt.Fprintf(out, "  %d. %s (%s)\n", i+1, loc, exists)
	}
	return nil
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	value, err := config.Lookup(cfgFile, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), value)
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]

	configPath := cfgFile
	if configPath == "" {
		configDir, err := config.EnsureConfigDir()
		if err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
		configPath = filepath.Join(configDir, "config.yaml")
	}

	data := make(map[string]any)
	if content, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(content, &data); err != nil {
			return fmt.Errorf("failed to parse existing config: %w", err)
		}
		if data == nil {
			data = make(map[string]any)
		}
	}

	if err := setNestedValue(data, key, parseValue(value)); err != nil {
		return err
	}

	content, err := yaml.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	// Reject values the daemon would refuse to start with.
	if err := validateConfigBytes(content); err != nil {
		return err
	}

	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s in %s\n", key, value, configPath)
	return nil
}

func validateConfigBytes(content []byte) error {
	tmp, err := os.CreateTemp("", "cbridge-config-*.yaml")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if _, err := config.Load(tmp.Name()); err != nil {
		return fmt.Errorf("invalid value: %w", err)
	}
	return nil
}

func setNestedValue(data map[string]any, key string, value any) error {
	parts := strings.Split(key, ".")

	current := data
	for i := 0; i < len(parts)-1; i++ {
		if _, ok := current[parts[i]]; !ok {
			current[parts[i]] = make(map[string]any)
		}
		nested, ok := current[parts[i]].(map[string]any)
		if !ok {
			return fmt.Errorf("cannot set nested value: %s is not a map", parts[i])
		}
		current = nested
	}

	current[parts[len(parts)-1]] = value
	return nil
}

// parseValue converts a command-line value to a bool or int when it looks
// like one.
func parseValue(value string) any {
	switch value {
	case "true":
		return true
	case "false":
		return false
	}
	if i, err := strconv.Atoi(value); err == nil {
		return i
	}
	return value
}

const defaultConfigHeader = `# cbridge configuration
# Copy this file to ~/.cbridge/config.yaml and modify as needed.
# Every key can also be set through the environment, e.g.
# CBRIDGE_SERVER_PORT=9000 or CBRIDGE_TMUX_COMMAND=/usr/local/bin/tmux.

`

func writeDefaultConfig(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if err := renderDefaultConfig(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func renderDefaultConfig(w io.Writer) error {
	cfg, err := config.Default()
	if err != nil {
		return err
	}
	data, err := cfg.YAML()
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, defaultConfigHeader); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

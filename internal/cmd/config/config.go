// Package config provides CLI commands for managing sessiond configuration.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	appconfig "github.com/Iron-Ham/sessiond/internal/config"
	"github.com/Iron-Ham/sessiond/internal/logging"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify sessiond configuration",
	Long: `View or modify sessiond configuration.

Use 'config show' to print the effective configuration, including defaults
and environment overrides. Use subcommands to modify settings or create a
config file.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration as YAML",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the user's config file.

Keys use dot notation, e.g.:
  sessiond config set session.backlog_max 200
  sessiond config set session.idle_expiry 1h
  sessiond config set logging.level DEBUG

Valid keys:
  session.backlog_max     - Messages kept per session (oldest evicted first)
  session.idle_expiry     - Idle time before a session expires (0 disables)
  session.expiry_warning  - Warn this long before expiry
  session.sweep_interval  - How often idle sessions are checked
  session.warm_start      - Restore persisted sessions on startup (true/false)
  store.dir               - Session store directory
  store.required          - Fail instead of running memory-only (true/false)
  store.flush_interval    - How often dirty sessions are saved
  store.flush_workers     - Parallel saves per flush
  store.min_free_mb       - Warn when the store disk has less free space
  dispatch.queue_size     - Capacity of the event queue
  dispatch.default_scope  - Scope of kinds without a rule: session, user, all
  logging.level           - DEBUG, INFO, WARN, ERROR
  logging.format          - auto, json, text
  logging.dir             - Log directory (empty logs to stderr)
  server.listen           - Ops HTTP address (empty disables)`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/sessiond/config.yaml with all available options.`,
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	Args:  cobra.NoArgs,
	RunE:  runConfigPath,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

// Register adds all config-related commands to the given parent command.
func Register(parent *cobra.Command) {
	parent.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := appconfig.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	out := cmd.OutOrStdout()
	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Fprintf(out, "# Config file: %s\n", used)
	} else {
		fmt.Fprintln(out, "# Config file: (none - using defaults)")
	}
	return writeYAML(out, cfg)
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// keyKind is how a settable key's value is parsed.
type keyKind int

const (
	kindString keyKind = iota
	kindInt
	kindBool
	kindDuration
	kindLevel
	kindFormat
	kindScope
)

var settableKeys = map[string]keyKind{
	"session.backlog_max":    kindInt,
	"session.idle_expiry":    kindDuration,
	"session.expiry_warning": kindDuration,
	"session.sweep_interval": kindDuration,
	"session.warm_start":     kindBool,
	"store.dir":              kindString,
	"store.required":         kindBool,
	"store.flush_interval":   kindDuration,
	"store.flush_workers":    kindInt,
	"store.min_free_mb":      kindInt,
	"dispatch.queue_size":    kindInt,
	"dispatch.default_scope": kindScope,
	"logging.level":          kindLevel,
	"logging.format":         kindFormat,
	"logging.dir":            kindString,
	"server.listen":          kindString,
}

// parseValue converts value to the type key expects.
func parseValue(key, value string) (any, error) {
	kind, ok := settableKeys[key]
	if !ok {
		return nil, fmt.Errorf("unknown configuration key: %s\nRun 'sessiond config set --help' to see valid keys", key)
	}

	switch kind {
	case kindInt:
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected integer", key)
		}
		if n < 0 {
			return nil, fmt.Errorf("invalid value for %s: must be non-negative", key)
		}
		return n, nil
	case kindBool:
		if value != "true" && value != "false" {
			return nil, fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		return value == "true", nil
	case kindDuration:
		d, err := time.ParseDuration(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected a duration such as 30s or 5m", key)
		}
		return d.String(), nil
	case kindLevel:
		return oneOf(key, strings.ToUpper(value), logging.ValidLevels())
	case kindFormat:
		return oneOf(key, strings.ToLower(value), logging.ValidFormats())
	case kindScope:
		return oneOf(key, strings.ToLower(value), appconfig.ValidScopes())
	default:
		return value, nil
	}
}

func oneOf(key, value string, valid []string) (any, error) {
	if !slices.Contains(valid, value) {
		return nil, fmt.Errorf("invalid value for %s: %s\nValid options: %s",
			key, value, strings.Join(valid, ", "))
	}
	return value, nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	typedValue, err := parseValue(key, args[1])
	if err != nil {
		return err
	}

	viper.Set(key, typedValue)

	// Reject combinations that would stop the server from starting.
	if _, err := appconfig.Load(); err != nil {
		return fmt.Errorf("refusing to save: %w", err)
	}

	configFile := viper.ConfigFileUsed()
	if configFile == "" {
		configFile = appconfig.ConfigFile()
	}
	if err := os.MkdirAll(filepath.Dir(configFile), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Set %s = %v\n", key, typedValue)
	fmt.Fprintf(out, "Config saved to %s\n", configFile)
	return nil
}

const configHeader = `# sessiond configuration
#
# Durations use Go syntax: 30s, 5m, 1h.
# Environment variables override any key: SESSIOND_<SECTION>_<KEY>,
# e.g. SESSIOND_SESSION_BACKLOG_MAX=200.
#
# dispatch.scopes maps event kind patterns to delivery scopes:
#   session - only the session the event names
#   user    - also every other session of the same user
#   all     - every live session
# Patterns are globs over dot-separated kinds ("log.*", "system.**").

`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configFile := appconfig.ConfigFile()

	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'sessiond config set' to modify values", configFile)
	}
	if err := os.MkdirAll(filepath.Dir(configFile), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(configHeader)
	if err := writeYAML(&sb, appconfig.Default()); err != nil {
		return fmt.Errorf("failed to render default config: %w", err)
	}
	if err := os.WriteFile(configFile, []byte(sb.String()), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created config file at %s\n", configFile)
	fmt.Fprintln(out, "Edit this file to customize sessiond. A running server picks up changes to logging.level and session.backlog_max.")
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Fprintf(out, "Active config: %s\n", used)
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", appconfig.ConfigFile())
	}

	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", appconfig.ConfigFile())
	fmt.Fprintf(out, "  2. $HOME/.config/sessiond/config.yaml\n")
	fmt.Fprintf(out, "  3. ./config.yaml (current directory)\n")
	fmt.Fprintf(out, "\nEnvironment variables: %s_* (e.g., %s_STORE_DIR)\n", appconfig.EnvPrefix, appconfig.EnvPrefix)
	return nil
}

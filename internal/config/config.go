package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete sessiond configuration
type Config struct {
	Session  SessionConfig  `mapstructure:"session" yaml:"session"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store"`
	Dispatch DispatchConfig `mapstructure:"dispatch" yaml:"dispatch"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
}

// SessionConfig controls the in-memory session lifecycle
type SessionConfig struct {
	// BacklogMax is the number of messages retained per session before the
	// oldest is evicted.
	BacklogMax int `mapstructure:"backlog_max" yaml:"backlog_max"`

	// IdleExpiry is how long a session may go untouched before the sweeper
	// removes it. 0 disables expiry.
	IdleExpiry time.Duration `mapstructure:"idle_expiry" yaml:"idle_expiry"`

	// ExpiryWarning is the window before expiry in which a session.expiring
	// event is emitted once.
	ExpiryWarning time.Duration `mapstructure:"expiry_warning" yaml:"expiry_warning"`

	// SweepInterval is how often the sweeper runs.
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`

	// WarmStart loads every persisted record into the registry at startup.
	WarmStart bool `mapstructure:"warm_start" yaml:"warm_start"`
}

// StoreConfig controls on-disk session persistence
type StoreConfig struct {
	// Dir holds one record per session.
	Dir string `mapstructure:"dir" yaml:"dir"`

	// Required makes an unusable Dir fatal at startup. When false the server
	// degrades to memory-only sessions and logs a warning.
	Required bool `mapstructure:"required" yaml:"required"`

	// FlushInterval is how often dirty sessions are written.
	FlushInterval time.Duration `mapstructure:"flush_interval" yaml:"flush_interval"`

	// FlushWorkers bounds concurrent saves during a flush.
	FlushWorkers int `mapstructure:"flush_workers" yaml:"flush_workers"`

	// MinFreeMB triggers a startup warning when the store volume has less
	// free space than this.
	MinFreeMB int `mapstructure:"min_free_mb" yaml:"min_free_mb"`
}

// DispatchConfig controls event routing
type DispatchConfig struct {
	// QueueSize bounds the asynchronous submit queue. Events submitted while
	// it is full are dropped and counted.
	QueueSize int `mapstructure:"queue_size" yaml:"queue_size"`

	// DefaultScope applies to event kinds that match no rule in Scopes.
	DefaultScope string `mapstructure:"default_scope" yaml:"default_scope"`

	// Scopes maps event kind glob patterns to broadcast scopes. The first
	// matching rule wins.
	Scopes []ScopeRule `mapstructure:"scopes" yaml:"scopes"`
}

// ScopeRule assigns a broadcast scope to event kinds matching Pattern.
type ScopeRule struct {
	Pattern string `mapstructure:"pattern" yaml:"pattern"`
	Scope   string `mapstructure:"scope" yaml:"scope"`
}

// LoggingConfig controls log output
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	Dir        string `mapstructure:"dir" yaml:"dir"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
}

// ServerConfig controls the operational HTTP listener of `sessiond serve`
type ServerConfig struct {
	// Listen is the address for /metrics, /healthz and /debug/sessions.
	// Empty disables the listener.
	Listen string `mapstructure:"listen" yaml:"listen"`
}

// Scope names accepted in DispatchConfig.
const (
	ScopeSession = "session"
	ScopeUser    = "user"
	ScopeAll     = "all"
)

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Session: SessionConfig{
			BacklogMax:    100,
			IdleExpiry:    30 * time.Minute,
			ExpiryWarning: 5 * time.Minute,
			SweepInterval: 30 * time.Second,
			WarmStart:     true,
		},
		Store: StoreConfig{
			Dir:           DefaultStoreDir(),
			Required:      false,
			FlushInterval: 5 * time.Second,
			FlushWorkers:  4,
			MinFreeMB:     64,
		},
		Dispatch: DispatchConfig{
			QueueSize:    1024,
			DefaultScope: ScopeSession,
			Scopes: []ScopeRule{
				{Pattern: "log.*", Scope: ScopeUser},
			},
		},
		Logging: LoggingConfig{
			Level:      "INFO",
			Format:     "auto",
			Dir:        "",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Server: ServerConfig{
			Listen: "127.0.0.1:9464",
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	setDefaults(viper.GetViper())
}

func setDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("session.backlog_max", defaults.Session.BacklogMax)
	v.SetDefault("session.idle_expiry", defaults.Session.IdleExpiry)
	v.SetDefault("session.expiry_warning", defaults.Session.ExpiryWarning)
	v.SetDefault("session.sweep_interval", defaults.Session.SweepInterval)
	v.SetDefault("session.warm_start", defaults.Session.WarmStart)

	v.SetDefault("store.dir", defaults.Store.Dir)
	v.SetDefault("store.required", defaults.Store.Required)
	v.SetDefault("store.flush_interval", defaults.Store.FlushInterval)
	v.SetDefault("store.flush_workers", defaults.Store.FlushWorkers)
	v.SetDefault("store.min_free_mb", defaults.Store.MinFreeMB)

	v.SetDefault("dispatch.queue_size", defaults.Dispatch.QueueSize)
	v.SetDefault("dispatch.default_scope", defaults.Dispatch.DefaultScope)
	v.SetDefault("dispatch.scopes", defaults.Dispatch.Scopes)

	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.format", defaults.Logging.Format)
	v.SetDefault("logging.dir", defaults.Logging.Dir)
	v.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)

	v.SetDefault("server.listen", defaults.Server.Listen)
}

// EnvPrefix prefixes environment overrides, e.g. SESSIOND_SESSION_BACKLOG_MAX
// for session.backlog_max.
const EnvPrefix = "SESSIOND"

// BindEnv enables environment overrides on v.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom is Load against a specific viper instance.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "sessiond")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".sessiond"
	}
	return filepath.Join(home, ".config", "sessiond")
}

// ConfigFile returns the path to the default config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// DefaultStoreDir returns the default session store directory.
func DefaultStoreDir() string {
	return filepath.Join(ConfigDir(), ".http-sessions")
}

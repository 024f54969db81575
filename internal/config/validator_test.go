package config

import (
	"strings"
	"testing"
	"time"
)

func TestValidationError_Error(t *testing.T) {
	err := ValidationError{Field: "session.backlog_max", Value: -1, Message: "must be positive"}
	want := "session.backlog_max: must be positive (got: -1)"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestValidationErrors_Error(t *testing.T) {
	if got := (ValidationErrors{}).Error(); got != "" {
		t.Errorf("empty Error() = %q", got)
	}

	errs := ValidationErrors{
		{Field: "a", Value: 1, Message: "bad"},
		{Field: "b", Value: 2, Message: "worse"},
	}
	got := errs.Error()
	if !strings.HasPrefix(got, "2 validation errors:") {
		t.Errorf("Error() = %q", got)
	}
	if !strings.Contains(got, "1. a: bad") || !strings.Contains(got, "2. b: worse") {
		t.Errorf("Error() = %q", got)
	}
}

func TestConfig_Validate_DefaultConfig(t *testing.T) {
	if errs := Default().Validate(); len(errs) != 0 {
		t.Errorf("default config should be valid, got %v", errs)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{"zero backlog", func(c *Config) { c.Session.BacklogMax = 0 }, "session.backlog_max"},
		{"negative backlog", func(c *Config) { c.Session.BacklogMax = -5 }, "session.backlog_max"},
		{"negative idle expiry", func(c *Config) { c.Session.IdleExpiry = -time.Second }, "session.idle_expiry"},
		{"warning not shorter than expiry", func(c *Config) {
			c.Session.IdleExpiry = time.Minute
			c.Session.ExpiryWarning = time.Minute
		}, "session.expiry_warning"},
		{"zero sweep interval", func(c *Config) { c.Session.SweepInterval = 0 }, "session.sweep_interval"},
		{"empty store dir", func(c *Config) { c.Store.Dir = "  " }, "store.dir"},
		{"zero flush interval", func(c *Config) { c.Store.FlushInterval = 0 }, "store.flush_interval"},
		{"too many flush workers", func(c *Config) { c.Store.FlushWorkers = 65 }, "store.flush_workers"},
		{"negative min free", func(c *Config) { c.Store.MinFreeMB = -1 }, "store.min_free_mb"},
		{"zero queue", func(c *Config) { c.Dispatch.QueueSize = 0 }, "dispatch.queue_size"},
		{"bad default scope", func(c *Config) { c.Dispatch.DefaultScope = "device" }, "dispatch.default_scope"},
		{"bad glob", func(c *Config) {
			c.Dispatch.Scopes = []ScopeRule{{Pattern: "task.[", Scope: ScopeUser}}
		}, "dispatch.scopes[0].pattern"},
		{"empty pattern", func(c *Config) {
			c.Dispatch.Scopes = []ScopeRule{{Pattern: "", Scope: ScopeUser}}
		}, "dispatch.scopes[0].pattern"},
		{"bad rule scope", func(c *Config) {
			c.Dispatch.Scopes = []ScopeRule{{Pattern: "task.*", Scope: "tab"}}
		}, "dispatch.scopes[0].scope"},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"huge log size", func(c *Config) { c.Logging.MaxSizeMB = 5000 }, "logging.max_size_mb"},
		{"negative backups", func(c *Config) { c.Logging.MaxBackups = -1 }, "logging.max_backups"},
		{"bad listen", func(c *Config) { c.Server.Listen = "localhost" }, "server.listen"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			errs := cfg.Validate()
			if len(errs) != 1 {
				t.Fatalf("Validate() returned %d errors, want 1: %v", len(errs), errs)
			}
			if errs[0].Field != tt.wantField {
				t.Errorf("Field = %q, want %q", errs[0].Field, tt.wantField)
			}
		})
	}
}

func TestConfig_Validate_Accepts(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"expiry disabled with warning set", func(c *Config) { c.Session.IdleExpiry = 0 }},
		{"lowercase level", func(c *Config) { c.Logging.Level = "debug" }},
		{"listener disabled", func(c *Config) { c.Server.Listen = "" }},
		{"doublestar glob", func(c *Config) {
			c.Dispatch.Scopes = []ScopeRule{{Pattern: "**", Scope: ScopeAll}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if errs := cfg.Validate(); len(errs) != 0 {
				t.Errorf("Validate() = %v, want no errors", errs)
			}
		})
	}
}

func TestConfig_Validate_MultipleErrors(t *testing.T) {
	cfg := Default()
	cfg.Session.BacklogMax = 0
	cfg.Dispatch.QueueSize = 0
	cfg.Logging.Level = "loud"

	if errs := cfg.Validate(); len(errs) != 3 {
		t.Errorf("Validate() returned %d errors, want 3: %v", len(errs), errs)
	}
}

func TestValidScopes(t *testing.T) {
	scopes := ValidScopes()
	if len(scopes) != 3 || scopes[0] != ScopeSession {
		t.Errorf("ValidScopes() = %v", scopes)
	}
}

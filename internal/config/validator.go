package config

import (
	"fmt"
	"net"
	"slices"
	"strings"

	"github.com/gobwas/glob"

	"github.com/Iron-Ham/sessiond/internal/logging"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "session.backlog_max")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidScopes returns the list of valid dispatch scopes
func ValidScopes() []string {
	return []string{ScopeSession, ScopeUser, ScopeAll}
}

const maxFlushWorkers = 64

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateSession()...)
	errors = append(errors, c.validateStore()...)
	errors = append(errors, c.validateDispatch()...)
	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validateServer()...)

	return errors
}

func (c *Config) validateSession() []ValidationError {
	var errors []ValidationError
	s := c.Session

	if s.BacklogMax <= 0 {
		errors = append(errors, ValidationError{
			Field:   "session.backlog_max",
			Value:   s.BacklogMax,
			Message: "must be positive",
		})
	}

	if s.IdleExpiry < 0 {
		errors = append(errors, ValidationError{
			Field:   "session.idle_expiry",
			Value:   s.IdleExpiry,
			Message: "must be non-negative (0 disables expiry)",
		})
	}

	if s.ExpiryWarning < 0 {
		errors = append(errors, ValidationError{
			Field:   "session.expiry_warning",
			Value:   s.ExpiryWarning,
			Message: "must be non-negative",
		})
	} else if s.IdleExpiry > 0 && s.ExpiryWarning >= s.IdleExpiry {
		errors = append(errors, ValidationError{
			Field:   "session.expiry_warning",
			Value:   s.ExpiryWarning,
			Message: fmt.Sprintf("must be shorter than session.idle_expiry (%s)", s.IdleExpiry),
		})
	}

	if s.SweepInterval <= 0 {
		errors = append(errors, ValidationError{
			Field:   "session.sweep_interval",
			Value:   s.SweepInterval,
			Message: "must be positive",
		})
	}

	return errors
}

func (c *Config) validateStore() []ValidationError {
	var errors []ValidationError
	s := c.Store

	if strings.TrimSpace(s.Dir) == "" {
		errors = append(errors, ValidationError{
			Field:   "store.dir",
			Value:   s.Dir,
			Message: "must not be empty",
		})
	}

	if s.FlushInterval <= 0 {
		errors = append(errors, ValidationError{
			Field:   "store.flush_interval",
			Value:   s.FlushInterval,
			Message: "must be positive",
		})
	}

	if s.FlushWorkers < 1 || s.FlushWorkers > maxFlushWorkers {
		errors = append(errors, ValidationError{
			Field:   "store.flush_workers",
			Value:   s.FlushWorkers,
			Message: fmt.Sprintf("must be between 1 and %d", maxFlushWorkers),
		})
	}

	if s.MinFreeMB < 0 {
		errors = append(errors, ValidationError{
			Field:   "store.min_free_mb",
			Value:   s.MinFreeMB,
			Message: "must be non-negative",
		})
	}

	return errors
}

func (c *Config) validateDispatch() []ValidationError {
	var errors []ValidationError
	d := c.Dispatch

	if d.QueueSize <= 0 {
		errors = append(errors, ValidationError{
			Field:   "dispatch.queue_size",
			Value:   d.QueueSize,
			Message: "must be positive",
		})
	}

	if !slices.Contains(ValidScopes(), d.DefaultScope) {
		errors = append(errors, ValidationError{
			Field:   "dispatch.default_scope",
			Value:   d.DefaultScope,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidScopes(), ", ")),
		})
	}

	for i, rule := range d.Scopes {
		field := fmt.Sprintf("dispatch.scopes[%d]", i)
		if rule.Pattern == "" {
			errors = append(errors, ValidationError{
				Field:   field + ".pattern",
				Value:   rule.Pattern,
				Message: "must not be empty",
			})
		} else if _, err := glob.Compile(rule.Pattern, '.'); err != nil {
			errors = append(errors, ValidationError{
				Field:   field + ".pattern",
				Value:   rule.Pattern,
				Message: fmt.Sprintf("invalid glob: %v", err),
			})
		}
		if !slices.Contains(ValidScopes(), rule.Scope) {
			errors = append(errors, ValidationError{
				Field:   field + ".scope",
				Value:   rule.Scope,
				Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidScopes(), ", ")),
			})
		}
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError
	l := c.Logging

	if l.Level != "" && !slices.Contains(logging.ValidLevels(), strings.ToUpper(l.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   l.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(logging.ValidLevels(), ", ")),
		})
	}

	if l.Format != "" && !slices.Contains(logging.ValidFormats(), strings.ToLower(l.Format)) {
		errors = append(errors, ValidationError{
			Field:   "logging.format",
			Value:   l.Format,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(logging.ValidFormats(), ", ")),
		})
	}

	const maxLogSizeMB = 1000
	if l.MaxSizeMB < 0 || l.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   l.MaxSizeMB,
			Message: fmt.Sprintf("must be between 0 and %d", maxLogSizeMB),
		})
	}

	if l.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   l.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}

func (c *Config) validateServer() []ValidationError {
	if c.Server.Listen == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(c.Server.Listen); err != nil {
		return []ValidationError{{
			Field:   "server.listen",
			Value:   c.Server.Listen,
			Message: "must be host:port",
		}}
	}
	return nil
}

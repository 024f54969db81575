package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/term"
)

// Log levels supported by the logger
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// Output formats. FormatAuto picks text for an interactive stderr and JSON
// everywhere else.
const (
	FormatAuto = "auto"
	FormatJSON = "json"
	FormatText = "text"
)

// LogFileName is the name of the log file created inside Options.Dir.
const LogFileName = "sessiond.log"

// Options configures a Logger.
type Options struct {
	// Dir is the directory for the log file. Empty means stderr.
	Dir string
	// Level is one of ValidLevels; unknown values fall back to INFO.
	Level string
	// Format is one of ValidFormats. File output is always JSON.
	Format string
	// Rotation applies to file output only.
	Rotation RotationConfig
}

// Logger provides structured logging with context propagation.
// It is safe for concurrent use.
type Logger struct {
	logger *slog.Logger
	level  *slog.LevelVar
	writer *RotatingWriter
	attrs  []slog.Attr
}

// New creates a Logger from opts.
func New(opts Options) (*Logger, error) {
	level := new(slog.LevelVar)
	level.Set(parseLevel(opts.Level))
	handlerOpts := &slog.HandlerOptions{Level: level}

	if opts.Dir == "" {
		return &Logger{
			logger: slog.New(newHandler(os.Stderr, opts.Format, isTerminal(os.Stderr), handlerOpts)),
			level:  level,
		}, nil
	}

	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	rw, err := NewRotatingWriter(filepath.Join(opts.Dir, LogFileName), opts.Rotation)
	if err != nil {
		return nil, err
	}
	return &Logger{
		logger: slog.New(slog.NewJSONHandler(rw, handlerOpts)),
		level:  level,
		writer: rw,
	}, nil
}

// NewLogger creates a Logger writing JSON to {dir}/sessiond.log with the
// default rotation policy. An empty dir writes to stderr.
func NewLogger(dir string, level string) (*Logger, error) {
	return New(Options{Dir: dir, Level: level, Format: FormatJSON, Rotation: DefaultRotationConfig()})
}

// NewWriterLogger creates a JSON Logger over an arbitrary writer. Tests use
// it to capture output.
func NewWriterLogger(w io.Writer, level string) *Logger {
	lv := new(slog.LevelVar)
	lv.Set(parseLevel(level))
	return &Logger{
		logger: slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lv})),
		level:  lv,
	}
}

func newHandler(w io.Writer, format string, tty bool, opts *slog.HandlerOptions) slog.Handler {
	switch strings.ToLower(format) {
	case FormatText:
		return slog.NewTextHandler(w, opts)
	case FormatJSON:
		return slog.NewJSONHandler(w, opts)
	default:
		if tty {
			return slog.NewTextHandler(w, opts)
		}
		return slog.NewJSONHandler(w, opts)
	}
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// parseLevel converts a string log level to slog.Level.
// Defaults to INFO if the level string is not recognized.
func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetLevel changes the minimum level of this logger and every logger derived
// from it.
func (l *Logger) SetLevel(level string) {
	if l.level != nil {
		l.level.Set(parseLevel(level))
	}
}

// Level returns the current minimum level as one of ValidLevels.
func (l *Logger) Level() string {
	if l.level == nil {
		return LevelInfo
	}
	switch l.level.Level() {
	case slog.LevelDebug:
		return LevelDebug
	case slog.LevelWarn:
		return LevelWarn
	case slog.LevelError:
		return LevelError
	default:
		return LevelInfo
	}
}

// WithSession returns a new Logger with the session ID added to all log entries.
func (l *Logger) WithSession(sessionID string) *Logger {
	return l.withAttr(slog.String("session_id", sessionID))
}

// WithComponent returns a new Logger tagged with a component name such as
// "router" or "store".
func (l *Logger) WithComponent(name string) *Logger {
	return l.withAttr(slog.String("component", name))
}

// With returns a new Logger with arbitrary key-value attributes.
// Keys and values are provided as alternating arguments.
func (l *Logger) With(args ...any) *Logger {
	if len(args) == 0 {
		return l
	}

	newAttrs := make([]slog.Attr, 0, len(l.attrs)+len(args)/2)
	newAttrs = append(newAttrs, l.attrs...)
	for i := 0; i < len(args)-1; i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		newAttrs = append(newAttrs, slog.Any(key, args[i+1]))
	}

	return &Logger{logger: l.logger, level: l.level, writer: l.writer, attrs: newAttrs}
}

func (l *Logger) withAttr(attr slog.Attr) *Logger {
	newAttrs := make([]slog.Attr, len(l.attrs)+1)
	copy(newAttrs, l.attrs)
	newAttrs[len(l.attrs)] = attr
	return &Logger{logger: l.logger, level: l.level, writer: l.writer, attrs: newAttrs}
}

// Debug logs a message at DEBUG level with optional key-value pairs.
func (l *Logger) Debug(msg string, args ...any) {
	l.log(slog.LevelDebug, msg, args...)
}

// Info logs a message at INFO level with optional key-value pairs.
func (l *Logger) Info(msg string, args ...any) {
	l.log(slog.LevelInfo, msg, args...)
}

// Warn logs a message at WARN level with optional key-value pairs.
func (l *Logger) Warn(msg string, args ...any) {
	l.log(slog.LevelWarn, msg, args...)
}

// Error logs a message at ERROR level with optional key-value pairs.
func (l *Logger) Error(msg string, args ...any) {
	l.log(slog.LevelError, msg, args...)
}

func (l *Logger) log(level slog.Level, msg string, args ...any) {
	ctx := context.Background()
	if !l.logger.Enabled(ctx, level) {
		return
	}
	allArgs := make([]any, 0, len(l.attrs)*2+len(args))
	for _, attr := range l.attrs {
		allArgs = append(allArgs, attr.Key, attr.Value.Any())
	}
	allArgs = append(allArgs, args...)

	l.logger.Log(ctx, level, msg, allArgs...)
}

// Close flushes and closes the log file.
// If the logger writes to stderr, this method is a no-op.
func (l *Logger) Close() error {
	if l.writer == nil {
		return nil
	}
	return l.writer.Close()
}

// NopLogger returns a Logger that discards all log output.
func NopLogger() *Logger {
	return &Logger{
		logger: slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}
}

// ParseLevel converts a string level to the corresponding constant.
// Returns LevelInfo if the level string is not recognized.
func ParseLevel(level string) string {
	switch strings.ToUpper(level) {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return strings.ToUpper(level)
	default:
		return LevelInfo
	}
}

// ValidLevels returns the list of valid log level strings.
func ValidLevels() []string {
	return []string{LevelDebug, LevelInfo, LevelWarn, LevelError}
}

// ValidFormats returns the list of valid output formats.
func ValidFormats() []string {
	return []string{FormatAuto, FormatJSON, FormatText}
}

package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Iron-Ham/sessiond/internal/config"
	"github.com/Iron-Ham/sessiond/internal/logging"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View server logs",
	Long: `View and filter the server log written to logging.dir.

Examples:
  # Show the last 50 entries
  sessiond logs

  # Everything logged about one session
  sessiond logs -s 01J2Z8Q4C6V3M1N5P7R9S2T4W6 -n 0

  # Follow warnings and errors from the store
  sessiond logs -f --level warn --component store

  # Show logs from the last hour matching a pattern
  sessiond logs --since 1h --grep "corrupt|failed"`,
	Args: cobra.NoArgs,
	RunE: runLogs,
}

var (
	logsSessionID string
	logsComponent string
	logsTail      int
	logsFollow    bool
	logsLevel     string
	logsSince     string
	logsGrep      string
)

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().StringVarP(&logsSessionID, "session", "s", "", "Only entries for this session ID")
	logsCmd.Flags().StringVar(&logsComponent, "component", "", "Only entries from this component (router, registry, store, flusher, sweeper, ops)")
	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "Number of entries to show (0 for all)")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output (like tail -f)")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "Filter by minimum level (debug/info/warn/error)")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "Show logs since duration ago (e.g., 1h, 30m)")
	logsCmd.Flags().StringVar(&logsGrep, "grep", "", "Filter logs matching pattern (regex)")
}

// logEntry is one parsed JSON log line.
type logEntry struct {
	Time      time.Time      `json:"time"`
	Level     string         `json:"level"`
	Msg       string         `json:"msg"`
	SessionID string         `json:"session_id,omitempty"`
	Component string         `json:"component,omitempty"`
	Extra     map[string]any `json:"-"`
}

// UnmarshalJSON keeps the fields without a struct field in Extra.
func (e *logEntry) UnmarshalJSON(data []byte) error {
	type alias logEntry
	if err := json.Unmarshal(data, (*alias)(e)); err != nil {
		return err
	}

	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, k := range []string{"time", "level", "msg", "session_id", "component"} {
		delete(all, k)
	}
	if len(all) > 0 {
		e.Extra = all
	}
	return nil
}

// logFilter selects entries to print.
type logFilter struct {
	sessionID string
	component string
	minLevel  int
	since     time.Time
	grep      *regexp.Regexp
}

// ANSI color codes for terminal output
const (
	colorReset  = "\033[0m"
	colorGray   = "\033[90m"
	colorBlue   = "\033[34m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorCyan   = "\033[36m"
)

func levelColor(level string) string {
	switch strings.ToUpper(level) {
	case logging.LevelDebug:
		return colorGray
	case logging.LevelInfo:
		return colorBlue
	case logging.LevelWarn:
		return colorYellow
	case logging.LevelError:
		return colorRed
	default:
		return colorReset
	}
}

// levelPriority orders levels for --level; unknown levels are -1.
func levelPriority(level string) int {
	return slices.Index(logging.ValidLevels(), strings.ToUpper(level))
}

// formatLogEntry renders an entry on one line. Extra fields are sorted so
// output is stable.
func formatLogEntry(entry *logEntry, color bool) string {
	paint := func(c, s string) string {
		if !color {
			return s
		}
		return c + s + colorReset
	}

	var sb strings.Builder
	sb.WriteString(paint(colorGray, "["+entry.Time.Local().Format("15:04:05.000")+"]"))
	sb.WriteString(" ")
	sb.WriteString(paint(levelColor(entry.Level), "["+strings.ToUpper(entry.Level)+"]"))
	if entry.Component != "" {
		sb.WriteString(" ")
		sb.WriteString(paint(colorCyan, entry.Component+":"))
	}
	sb.WriteString(" ")
	sb.WriteString(entry.Msg)

	if entry.SessionID != "" {
		sb.WriteString(" ")
		sb.WriteString(paint(colorCyan, "session_id="))
		sb.WriteString(entry.SessionID)
	}
	for _, key := range slices.Sorted(maps.Keys(entry.Extra)) {
		sb.WriteString(" ")
		sb.WriteString(paint(colorCyan, key+"="))
		sb.WriteString(fmt.Sprintf("%v", entry.Extra[key]))
	}
	return sb.String()
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	out := cmd.OutOrStdout()
	if cfg.Logging.Dir == "" {
		fmt.Fprintln(out, "logging.dir is not set; the server logs to stderr.")
		return nil
	}
	logPath := filepath.Join(cfg.Logging.Dir, logging.LogFileName)
	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		fmt.Fprintf(out, "No log file at %s\n", logPath)
		return nil
	}

	filter, err := newLogFilter()
	if err != nil {
		return err
	}

	color := false
	if f, ok := out.(*os.File); ok {
		color = term.IsTerminal(int(f.Fd()))
	}

	if logsFollow {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return followLogs(ctx, out, logPath, filter, color)
	}
	return displayLogs(out, logPath, logsTail, filter, color)
}

func newLogFilter() (logFilter, error) {
	f := logFilter{
		sessionID: logsSessionID,
		component: logsComponent,
		minLevel:  -1,
	}
	if logsLevel != "" {
		f.minLevel = levelPriority(logging.ParseLevel(logsLevel))
	}
	if logsSince != "" {
		d, err := time.ParseDuration(logsSince)
		if err != nil {
			return f, fmt.Errorf("invalid duration format: %w", err)
		}
		f.since = time.Now().Add(-d)
	}
	if logsGrep != "" {
		re, err := regexp.Compile(logsGrep)
		if err != nil {
			return f, fmt.Errorf("invalid grep pattern: %w", err)
		}
		f.grep = re
	}
	return f, nil
}

// render parses one log line. It returns "" for lines the filter rejects.
// Lines that are not JSON are passed through unless a filter is active.
func (f logFilter) render(line string, color bool) string {
	var entry logEntry
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		if f.active() {
			return ""
		}
		return line
	}
	if !f.passes(&entry) {
		return ""
	}
	return formatLogEntry(&entry, color)
}

func (f logFilter) active() bool {
	return f.sessionID != "" || f.component != "" || f.minLevel >= 0 || !f.since.IsZero() || f.grep != nil
}

func (f logFilter) passes(entry *logEntry) bool {
	if f.sessionID != "" && entry.SessionID != f.sessionID {
		return false
	}
	if f.component != "" && entry.Component != f.component {
		return false
	}
	if f.minLevel >= 0 && levelPriority(entry.Level) < f.minLevel {
		return false
	}
	if !f.since.IsZero() && entry.Time.Before(f.since) {
		return false
	}
	if f.grep != nil {
		searchText := entry.Msg
		for _, v := range entry.Extra {
			searchText += " " + fmt.Sprintf("%v", v)
		}
		if !f.grep.MatchString(searchText) {
			return false
		}
	}
	return true
}

// displayLogs prints the last tail matching entries of the log file.
func displayLogs(out io.Writer, logPath string, tail int, filter logFilter, color bool) error {
	file, err := os.Open(logPath)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer file.Close()

	var entries []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if s := filter.render(line, color); s != "" {
			entries = append(entries, s)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading log file: %w", err)
	}

	if tail > 0 && len(entries) > tail {
		entries = entries[len(entries)-tail:]
	}
	for _, entry := range entries {
		fmt.Fprintln(out, entry)
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "No matching log entries found.")
	}
	return nil
}

// followLogs prints entries appended to the log file until ctx is done.
func followLogs(ctx context.Context, out io.Writer, logPath string, filter logFilter, color bool) error {
	file, err := os.Open(logPath)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer file.Close()

	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek to end: %w", err)
	}

	fmt.Fprintf(out, "Following %s... (Ctrl+C to stop)\n\n", logPath)

	reader := bufio.NewReader(file)
	var partial string
	for {
		chunk, err := reader.ReadString('\n')
		if err == io.EOF {
			// Keep an unterminated line until the writer finishes it.
			partial += chunk
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("error reading log file: %w", err)
		}

		line := strings.TrimSpace(partial + chunk)
		partial = ""
		if line == "" {
			continue
		}
		if s := filter.render(line, color); s != "" {
			fmt.Fprintln(out, s)
		}
	}
}

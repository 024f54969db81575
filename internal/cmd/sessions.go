package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/sessiond/internal/config"
	"github.com/Iron-Ham/sessiond/internal/errors"
	"github.com/Iron-Ham/sessiond/internal/session"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and clean up persisted sessions",
	Long: `Commands for listing, inspecting and removing session records in the
store directory. They operate on disk only; a running server keeps its
in-memory copy.`,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List persisted sessions",
	Args:  cobra.NoArgs,
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show one persisted session and its pending messages",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsRmCmd = &cobra.Command{
	Use:   "rm <session-id>",
	Short: "Delete a persisted session",
	Long: `Delete a persisted session record.

Refuses to run while a live server holds the store lock, since the server
would write the session back on its next flush. Use --force to delete anyway.`,
	Args: cobra.ExactArgs(1),
	RunE: runSessionsRm,
}

var sessionsGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Delete expired and corrupt session records",
	Long: `Delete session records whose last access is older than --older-than
(default: session.idle_expiry), and records that cannot be decoded.

Refuses to run while a live server holds the store lock unless --force.`,
	Args: cobra.NoArgs,
	RunE: runSessionsGC,
}

var (
	sessionsStoreDir string
	listJSON         bool
	rmForce          bool
	gcOlderThan      time.Duration
	gcDryRun         bool
	gcForce          bool
)

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsRmCmd)
	sessionsCmd.AddCommand(sessionsGCCmd)

	sessionsCmd.PersistentFlags().StringVar(&sessionsStoreDir, "store-dir", "", "session store directory (default: store.dir)")
	sessionsListCmd.Flags().BoolVar(&listJSON, "json", false, "Print records as JSON")
	sessionsRmCmd.Flags().BoolVar(&rmForce, "force", false, "Delete even if a server holds the store lock")
	sessionsGCCmd.Flags().DurationVar(&gcOlderThan, "older-than", 0, "Idle age after which a record is deleted (default: session.idle_expiry)")
	sessionsGCCmd.Flags().BoolVar(&gcDryRun, "dry-run", false, "Only print what would be deleted")
	sessionsGCCmd.Flags().BoolVar(&gcForce, "force", false, "Run even if a server holds the store lock")
}

// openFileStore returns the store named by --store-dir or the config.
func openFileStore() (*session.FileStore, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	dir := cfg.Store.Dir
	if sessionsStoreDir != "" {
		dir = sessionsStoreDir
	}
	return session.NewFileStore(dir, nil), cfg, nil
}

// checkStoreLock fails if a live server holds the lock on store, unless
// force is set.
func checkStoreLock(w io.Writer, store *session.FileStore, force bool) error {
	lock, held := session.IsStoreLocked(store.Dir())
	if !held {
		return nil
	}
	if !force {
		return fmt.Errorf("%w (pid %d on %s, since %s); stop the server or use --force",
			errors.ErrStoreLocked, lock.PID, lock.Hostname, lock.StartedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "warning: store is locked by pid %d; continuing because of --force\n", lock.PID)
	return nil
}

// recordSummary is the list view of one record.
type recordSummary struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastAccess time.Time `json:"last_access"`
	Messages   int       `json:"messages"`
	Error      string    `json:"error,omitempty"`
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	store, _, err := openFileStore()
	if err != nil {
		return err
	}
	ids, err := store.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	records := make([]recordSummary, 0, len(ids))
	for _, id := range ids {
		rec := recordSummary{ID: id}
		st, err := store.Load(cmd.Context(), id)
		if err != nil {
			rec.Error = err.Error()
		} else {
			rec.CreatedAt = st.CreatedAt
			rec.LastAccess = st.LastAccess
			rec.Messages = len(st.Messages)
			if st.User != nil {
				rec.UserID = st.User.ID
			}
		}
		records = append(records, rec)
	}

	out := cmd.OutOrStdout()
	if listJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	if len(records) == 0 {
		fmt.Fprintf(out, "No sessions in %s\n", store.Dir())
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUSER\tLAST ACCESS\tMESSAGES")
	for _, r := range records {
		if r.Error != "" {
			fmt.Fprintf(tw, "%s\t-\t-\tunreadable: %s\n", r.ID, r.Error)
			continue
		}
		user := r.UserID
		if user == "" {
			user = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", r.ID, user, r.LastAccess.Local().Format(time.RFC822), r.Messages)
	}
	return tw.Flush()
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	store, _, err := openFileStore()
	if err != nil {
		return err
	}
	id := args[0]
	st, err := store.Load(cmd.Context(), id)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return fmt.Errorf("session %s not found in %s", id, store.Dir())
		}
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Session:     %s\n", st.ID)
	if st.User != nil {
		fmt.Fprintf(out, "User:        %s %s\n", st.User.ID, st.User.Name)
	}
	fmt.Fprintf(out, "Created:     %s\n", st.CreatedAt.Local().Format(time.RFC822))
	fmt.Fprintf(out, "Last access: %s\n", st.LastAccess.Local().Format(time.RFC822))
	fmt.Fprintf(out, "Backlog:     %d/%d\n", len(st.Messages), st.BacklogLimit)
	if len(st.Messages) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, strings.Repeat("─", 60))
	}
	for _, m := range st.Messages {
		fmt.Fprintf(out, "%s  %-7s  %s\n", m.Timestamp.Local().Format(time.TimeOnly), m.Type, m.Text)
	}
	return nil
}

func runSessionsRm(cmd *cobra.Command, args []string) error {
	store, _, err := openFileStore()
	if err != nil {
		return err
	}
	if err := checkStoreLock(cmd.ErrOrStderr(), store, rmForce); err != nil {
		return err
	}
	id := args[0]
	if !store.Exists(id) {
		return fmt.Errorf("session %s not found in %s", id, store.Dir())
	}
	if err := store.Delete(cmd.Context(), id); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed session %s\n", id)
	return nil
}

func runSessionsGC(cmd *cobra.Command, args []string) error {
	store, cfg, err := openFileStore()
	if err != nil {
		return err
	}
	if err := checkStoreLock(cmd.ErrOrStderr(), store, gcForce); err != nil {
		return err
	}

	olderThan := gcOlderThan
	if olderThan <= 0 {
		olderThan = cfg.Session.IdleExpiry
	}
	if olderThan <= 0 {
		return fmt.Errorf("no expiry configured; pass --older-than")
	}

	res, err := collectGarbage(cmd, store, time.Now().Add(-olderThan), gcDryRun)
	if err != nil {
		return err
	}
	verb := "Removed"
	if gcDryRun {
		verb = "Would remove"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %d expired and %d corrupt session(s); %d kept\n",
		verb, res.expired, res.corrupt, res.kept)
	return nil
}

type gcResult struct {
	expired, corrupt, kept int
}

// collectGarbage deletes records last accessed before cutoff and records
// that cannot be decoded. I/O failures are reported and the record is kept.
func collectGarbage(cmd *cobra.Command, store *session.FileStore, cutoff time.Time, dryRun bool) (gcResult, error) {
	var res gcResult
	ids, err := store.List(cmd.Context())
	if err != nil {
		return res, fmt.Errorf("failed to list sessions: %w", err)
	}

	out := cmd.OutOrStdout()
	for _, id := range ids {
		st, err := store.Load(cmd.Context(), id)
		var why string
		switch {
		case errors.Is(err, errors.ErrStoreCorrupt):
			why = "corrupt"
			res.corrupt++
		case err != nil:
			fmt.Fprintf(cmd.ErrOrStderr(), "skipping %s: %v\n", id, err)
			res.kept++
			continue
		case st.LastAccess.Before(cutoff):
			why = "expired"
			res.expired++
		default:
			res.kept++
			continue
		}

		fmt.Fprintf(out, "  %s (%s)\n", id, why)
		if dryRun {
			continue
		}
		if err := store.Delete(cmd.Context(), id); err != nil {
			return res, err
		}
	}
	return res, nil
}

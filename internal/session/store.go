package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/Iron-Ham/sessiond/internal/errors"
	"github.com/Iron-Ham/sessiond/internal/logging"
	"github.com/Iron-Ham/sessiond/internal/metrics"
)

// recordExt is the file extension of session records.
const recordExt = ".json"

// tempPrefix marks in-progress writes. Files with this prefix are never
// treated as records.
const tempPrefix = ".tmp-"

// maxRecordName is the longest record file name, extension included. Most
// filesystems cap a name at 255 bytes.
const maxRecordName = 255

// hashedPrefix starts the name of a record whose escaped id is too long to
// be a file name. PathEscape never emits it, so the two forms cannot
// collide.
const hashedPrefix = "%h-"

// recordName returns the file name of the record for id. Short ids are
// escaped reversibly, with a leading dot escaped so the record is not
// hidden. Longer ids are named by the SHA-256 of the id, and the id itself
// is read back from the record.
func recordName(id string) string {
	name := url.PathEscape(id)
	if strings.HasPrefix(name, ".") {
		name = "%2E" + name[1:]
	}
	if len(name)+len(recordExt) > maxRecordName {
		sum := sha256.Sum256([]byte(id))
		name = hashedPrefix + hex.EncodeToString(sum[:])
	}
	return name + recordExt
}

// Store persists session state by identifier.
//
// Load returns an error matching errors.ErrNotFound when no record exists,
// errors.ErrStoreCorrupt when the record cannot be decoded, and
// errors.ErrIOFailure for other read failures. Save and Delete return
// errors matching errors.ErrIOFailure. Deleting an absent record succeeds.
type Store interface {
	Load(ctx context.Context, id string) (State, error)
	Save(ctx context.Context, id string, st State) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]string, error)

	// Persistent reports whether saved state survives a restart.
	Persistent() bool
}

// -----------------------------------------------------------------------------
// FileStore
// -----------------------------------------------------------------------------

// FileStore keeps one JSON record per session in a directory. Saves are
// atomic: the record is written to a temp file in the same directory and
// renamed over the old one, so a reader sees either the old or the new
// record. Writes to the same record are serialized; different records are
// independent.
type FileStore struct {
	dir     string
	locks   stripedMutex
	metrics *metrics.Metrics
}

// NewFileStore creates a FileStore rooted at dir. It does not touch the
// filesystem; call EnsureDir before first use.
func NewFileStore(dir string, m *metrics.Metrics) *FileStore {
	return &FileStore{dir: dir, metrics: m}
}

// Dir returns the store directory.
func (fs *FileStore) Dir() string { return fs.dir }

// Persistent always returns true.
func (fs *FileStore) Persistent() bool { return true }

// Path returns the record path for id. The id is escaped so that it cannot
// name a file outside the store directory.
func (fs *FileStore) Path(id string) string {
	return filepath.Join(fs.dir, recordName(id))
}

// EnsureDir creates the store directory if needed and verifies that it is
// writable. It is idempotent.
func (fs *FileStore) EnsureDir() error {
	if err := os.MkdirAll(fs.dir, 0o700); err != nil {
		return errors.NewStoreError("ensure_dir", errors.ErrIOFailure, err).WithPath(fs.dir)
	}
	probe, err := os.CreateTemp(fs.dir, tempPrefix+"probe-*")
	if err != nil {
		return errors.NewStoreError("ensure_dir", errors.ErrIOFailure, err).WithPath(fs.dir)
	}
	name := probe.Name()
	_ = probe.Close()
	if err := os.Remove(name); err != nil {
		return errors.NewStoreError("ensure_dir", errors.ErrIOFailure, err).WithPath(fs.dir)
	}
	return nil
}

// DiskFree returns the free and total bytes of the filesystem holding the
// store directory.
func (fs *FileStore) DiskFree() (free, total uint64, err error) {
	usage, err := disk.Usage(fs.dir)
	if err != nil {
		return 0, 0, err
	}
	return usage.Free, usage.Total, nil
}

// Load reads the record for id.
func (fs *FileStore) Load(_ context.Context, id string) (st State, err error) {
	defer fs.observe("load", time.Now(), &err)

	if err := ValidateID(id); err != nil {
		return State{}, err
	}
	path := fs.Path(id)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, errors.NewStoreError("load", errors.ErrNotFound, nil).WithSessionID(id).WithPath(path)
		}
		return State{}, errors.NewStoreError("load", errors.ErrIOFailure, err).WithSessionID(id).WithPath(path)
	}

	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, errors.NewStoreError("load", errors.ErrStoreCorrupt, err).WithSessionID(id).WithPath(path)
	}
	if err := st.validate(id); err != nil {
		return State{}, errors.NewStoreError("load", errors.ErrStoreCorrupt, err).WithSessionID(id).WithPath(path)
	}
	return st, nil
}

// Save writes the record for id, replacing any existing record atomically.
func (fs *FileStore) Save(_ context.Context, id string, st State) (err error) {
	defer fs.observe("save", time.Now(), &err)

	if err := ValidateID(id); err != nil {
		return err
	}
	if st.Version == 0 {
		st.Version = StateVersion
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return errors.NewStoreError("save", errors.ErrIOFailure, err).WithSessionID(id)
	}

	unlock := fs.locks.lock(id)
	defer unlock()

	path := fs.Path(id)
	if err := atomicWriteFile(path, data, 0o600); err != nil {
		return errors.NewStoreError("save", errors.ErrIOFailure, err).WithSessionID(id).WithPath(path)
	}
	return nil
}

// Delete removes the record for id. A missing record is not an error.
func (fs *FileStore) Delete(_ context.Context, id string) (err error) {
	defer fs.observe("delete", time.Now(), &err)

	if err := ValidateID(id); err != nil {
		return err
	}
	unlock := fs.locks.lock(id)
	defer unlock()

	path := fs.Path(id)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.NewStoreError("delete", errors.ErrIOFailure, err).WithSessionID(id).WithPath(path)
	}
	return nil
}

// Exists reports whether a record exists for id.
func (fs *FileStore) Exists(id string) bool {
	if ValidateID(id) != nil {
		return false
	}
	_, err := os.Stat(fs.Path(id))
	return err == nil
}

// List returns the ids of all records in directory order. Temp files, the
// lock file and anything that is not a record are skipped.
func (fs *FileStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.NewStoreError("list", errors.ErrIOFailure, err).WithPath(fs.dir)
	}

	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, recordExt) {
			continue
		}
		if id, ok := fs.recordID(name); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// recordID recovers the id stored under the file name. Only canonical names,
// those recordName would produce for the recovered id, are records.
func (fs *FileStore) recordID(name string) (string, bool) {
	var id string
	if strings.HasPrefix(name, hashedPrefix) {
		data, err := os.ReadFile(filepath.Join(fs.dir, name))
		if err != nil {
			return "", false
		}
		var head struct {
			ID string `json:"id"`
		}
		if json.Unmarshal(data, &head) != nil {
			return "", false
		}
		id = head.ID
	} else {
		var err error
		if id, err = url.PathUnescape(strings.TrimSuffix(name, recordExt)); err != nil {
			return "", false
		}
	}
	if ValidateID(id) != nil || recordName(id) != name {
		return "", false
	}
	return id, true
}

func (fs *FileStore) observe(op string, start time.Time, errp *error) {
	fs.metrics.StoreOp(op, resultLabel(*errp), time.Since(start))
}

// resultLabel classifies an error for the store_operations_total metric.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, errors.ErrNotFound):
		return "not_found"
	case errors.Is(err, errors.ErrStoreCorrupt):
		return "corrupt"
	case errors.Is(err, errors.ErrInvalidSessionID):
		return "invalid"
	default:
		return "io"
	}
}

// atomicWriteFile writes data to a temp file in the same directory, syncs
// it, and renames it over path.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}

	success = true
	return nil
}

// -----------------------------------------------------------------------------
// MemoryStore
// -----------------------------------------------------------------------------

// MemoryStore is the store used when persistence is disabled. Nothing is
// written; sessions live only in the Registry and are lost on restart.
type MemoryStore struct{}

func (MemoryStore) Load(_ context.Context, id string) (State, error) {
	return State{}, errors.NewStoreError("load", errors.ErrNotFound, nil).WithSessionID(id)
}

func (MemoryStore) Save(context.Context, string, State) error { return nil }
func (MemoryStore) Delete(context.Context, string) error      { return nil }
func (MemoryStore) List(context.Context) ([]string, error)    { return nil, nil }
func (MemoryStore) Persistent() bool                          { return false }

// -----------------------------------------------------------------------------
// Opening
// -----------------------------------------------------------------------------

// StoreOptions configures OpenStore.
type StoreOptions struct {
	Dir string

	// Required makes an unusable directory a fatal error instead of a fall
	// back to memory-only mode.
	Required bool

	// MinFreeMB logs a warning when the store filesystem has less free space.
	MinFreeMB int
}

// OpenStore prepares the session store directory and returns a FileStore.
//
// If the directory cannot be created or written and persistence is not
// required, it logs a warning and returns a MemoryStore so the server keeps
// running with memory-only sessions. If persistence is required the error
// matches errors.ErrPersistenceDisabled.
func OpenStore(opts StoreOptions, logger *logging.Logger, m *metrics.Metrics) (Store, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	fs := NewFileStore(opts.Dir, m)

	if err := fs.EnsureDir(); err != nil {
		if opts.Required {
			return nil, fmt.Errorf("%w: %w", errors.ErrPersistenceDisabled, err)
		}
		logger.Warn("session store unavailable, sessions are memory-only and will not survive a restart",
			"dir", opts.Dir,
			"error", err.Error(),
		)
		return MemoryStore{}, nil
	}

	free, total, err := fs.DiskFree()
	switch {
	case err != nil:
		logger.Debug("could not read store disk usage", "dir", opts.Dir, "error", err.Error())
	case opts.MinFreeMB > 0 && free < uint64(opts.MinFreeMB)<<20:
		logger.Warn("session store is low on disk space",
			"dir", opts.Dir,
			"free_mb", free>>20,
			"min_free_mb", opts.MinFreeMB,
		)
	default:
		logger.Debug("session store disk usage", "dir", opts.Dir, "free_mb", free>>20, "total_mb", total>>20)
	}

	logger.Info("session store ready", "dir", opts.Dir)
	return fs, nil
}

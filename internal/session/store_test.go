package session

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/sessiond/internal/errors"
	"github.com/Iron-Ham/sessiond/internal/logging"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	fs := NewFileStore(t.TempDir(), nil)
	if err := fs.EnsureDir(); err != nil {
		t.Fatalf("EnsureDir: %v", err)
	}
	return fs
}

func sampleState(id string, texts ...string) State {
	created := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	st := State{
		Version:      StateVersion,
		ID:           id,
		CreatedAt:    created,
		LastAccess:   created.Add(time.Minute),
		User:         &UserRef{ID: "u1", Name: "Ada"},
		BacklogLimit: 10,
		Messages:     []Message{},
	}
	for i, text := range texts {
		m := NewMessage(MessageInfo, text, map[string]string{"n": text})
		m.Timestamp = created.Add(time.Duration(i) * time.Second)
		st.Messages = append(st.Messages, m)
	}
	return st
}

func assertStateEqual(t *testing.T, got, want State) {
	t.Helper()
	if got.Version != want.Version || got.ID != want.ID || got.BacklogLimit != want.BacklogLimit {
		t.Errorf("header = {%d %q %d}, want {%d %q %d}",
			got.Version, got.ID, got.BacklogLimit, want.Version, want.ID, want.BacklogLimit)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) || !got.LastAccess.Equal(want.LastAccess) {
		t.Errorf("times = %v/%v, want %v/%v", got.CreatedAt, got.LastAccess, want.CreatedAt, want.LastAccess)
	}
	if (got.User == nil) != (want.User == nil) || (got.User != nil && *got.User != *want.User) {
		t.Errorf("user = %+v, want %+v", got.User, want.User)
	}
	if len(got.Messages) != len(want.Messages) {
		t.Fatalf("messages = %d, want %d", len(got.Messages), len(want.Messages))
	}
	for i := range want.Messages {
		g, w := got.Messages[i], want.Messages[i]
		if g.ID != w.ID || g.Type != w.Type || g.Text != w.Text || !g.Timestamp.Equal(w.Timestamp) || len(g.Attrs) != len(w.Attrs) {
			t.Errorf("message %d = %+v, want %+v", i, g, w)
		}
		for k, v := range w.Attrs {
			if g.Attrs[k] != v {
				t.Errorf("message %d attr %s = %q, want %q", i, k, g.Attrs[k], v)
			}
		}
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	fs := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		state State
	}{
		{"empty backlog", sampleState("s-empty")},
		{"with messages", sampleState("s-full", "one", "two", "three")},
		{"anonymous", func() State { st := sampleState("s-anon", "x"); st.User = nil; return st }()},
		{"escaped id", sampleState("user/42:tab 1", "a")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := fs.Save(ctx, tt.state.ID, tt.state); err != nil {
				t.Fatalf("Save: %v", err)
			}
			got, err := fs.Load(ctx, tt.state.ID)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			assertStateEqual(t, got, tt.state)
		})
	}
}

func TestFileStore_RoundTrip_FromSession(t *testing.T) {
	fs := newTestStore(t)
	ctx := context.Background()

	s := New("s1", 5)
	s.SetUser(&UserRef{ID: "u1"})
	for _, text := range []string{"a", "b", "c"} {
		s.AddMessage(NewMessage(MessageWarning, text, nil))
	}
	want, _ := s.Snapshot()

	if err := fs.Save(ctx, "s1", want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := fs.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	assertStateEqual(t, got, want)
}

func TestFileStore_Load_NotFound(t *testing.T) {
	fs := newTestStore(t)

	_, err := fs.Load(context.Background(), "missing")
	if !errors.Is(err, errors.ErrNotFound) {
		t.Fatalf("Load error = %v, want ErrNotFound", err)
	}
	if errors.GetSeverity(err) != errors.SeverityDebug {
		t.Error("not found should be debug severity")
	}
}

func TestFileStore_Load_Corrupt(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"truncated json", `{"version":1,"id":"s1","messages":[`},
		{"not json", "garbage"},
		{"wrong version", `{"version":99,"id":"s1","created_at":"2024-06-01T12:00:00Z"}`},
		{"id mismatch", `{"version":1,"id":"other","created_at":"2024-06-01T12:00:00Z"}`},
		{"no creation time", `{"version":1,"id":"s1"}`},
		{"bad message type", `{"version":1,"id":"s1","created_at":"2024-06-01T12:00:00Z","messages":[{"type":"LOUD"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := newTestStore(t)
			if err := os.WriteFile(fs.Path("s1"), []byte(tt.content), 0o600); err != nil {
				t.Fatal(err)
			}

			_, err := fs.Load(context.Background(), "s1")
			if !errors.Is(err, errors.ErrStoreCorrupt) {
				t.Fatalf("Load error = %v, want ErrStoreCorrupt", err)
			}
			var storeErr *errors.StoreError
			if !errors.As(err, &storeErr) || storeErr.Path != fs.Path("s1") {
				t.Errorf("expected StoreError with path, got %v", err)
			}
			if errors.IsRetryable(err) {
				t.Error("corrupt records are not retryable")
			}
		})
	}
}

func TestFileStore_Save_NoTempFilesLeft(t *testing.T) {
	fs := newTestStore(t)
	ctx := context.Background()

	for i := range 5 {
		if err := fs.Save(ctx, "s1", sampleState("s1", strings.Repeat("x", i))); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	entries, err := os.ReadDir(fs.Dir())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "s1.json" {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("directory contents = %v, want [s1.json]", names)
	}
}

func TestFileStore_Save_IOFailure(t *testing.T) {
	fs := NewFileStore(filepath.Join(t.TempDir(), "does-not-exist"), nil)

	err := fs.Save(context.Background(), "s1", sampleState("s1"))
	if !errors.Is(err, errors.ErrIOFailure) {
		t.Fatalf("Save error = %v, want ErrIOFailure", err)
	}
	if !errors.IsRetryable(err) {
		t.Error("i/o failures should be retryable")
	}
}

func TestFileStore_ConcurrentSaveSameRecord(t *testing.T) {
	fs := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Go(func() {
			bodies := make([]string, i%5)
			for j := range bodies {
				bodies[j] = "m"
			}
			if err := fs.Save(ctx, "s1", sampleState("s1", bodies...)); err != nil {
				t.Errorf("Save: %v", err)
			}
		})
	}

	// Readers must always see a complete record.
	stop := make(chan struct{})
	var readers sync.WaitGroup
	readers.Go(func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			if _, err := fs.Load(ctx, "s1"); err != nil && !errors.Is(err, errors.ErrNotFound) {
				t.Errorf("Load during concurrent saves: %v", err)
				return
			}
		}
	})

	wg.Wait()
	close(stop)
	readers.Wait()

	if _, err := fs.Load(ctx, "s1"); err != nil {
		t.Fatalf("final Load: %v", err)
	}
}

func TestFileStore_Delete(t *testing.T) {
	fs := newTestStore(t)
	ctx := context.Background()

	if err := fs.Save(ctx, "s1", sampleState("s1")); err != nil {
		t.Fatal(err)
	}
	if !fs.Exists("s1") {
		t.Fatal("record should exist")
	}
	if err := fs.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if fs.Exists("s1") {
		t.Error("record should be gone")
	}
	if err := fs.Delete(ctx, "s1"); err != nil {
		t.Errorf("Delete of absent record = %v, want nil", err)
	}
}

func TestFileStore_List(t *testing.T) {
	fs := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b/c", "d e"} {
		if err := fs.Save(ctx, id, sampleState(id)); err != nil {
			t.Fatal(err)
		}
	}
	// Noise that must be ignored.
	for _, name := range []string{".tmp-123", LockFileName, "notes.txt", ".hidden.json"} {
		if err := os.WriteFile(filepath.Join(fs.Dir(), name), []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(fs.Dir(), "sub.json"), 0o700); err != nil {
		t.Fatal(err)
	}

	ids, err := fs.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	got := map[string]bool{}
	for _, id := range ids {
		got[id] = true
	}
	if len(ids) != 3 || !got["a"] || !got["b/c"] || !got["d e"] {
		t.Errorf("List() = %v, want [a b/c d e]", ids)
	}
}

func TestFileStore_PathStaysInsideDir(t *testing.T) {
	fs := newTestStore(t)
	for _, id := range []string{"../escape", "a/../../b", `..\windows`} {
		path := fs.Path(id)
		if filepath.Dir(path) != fs.Dir() {
			t.Errorf("Path(%q) = %q escapes %q", id, path, fs.Dir())
		}
	}
}

func TestFileStore_RejectsInvalidIDs(t *testing.T) {
	fs := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"", ".", ".."} {
		if err := fs.Save(ctx, id, State{}); !errors.Is(err, errors.ErrInvalidSessionID) {
			t.Errorf("Save(%q) = %v, want ErrInvalidSessionID", id, err)
		}
		if _, err := fs.Load(ctx, id); !errors.Is(err, errors.ErrInvalidSessionID) {
			t.Errorf("Load(%q) = %v, want ErrInvalidSessionID", id, err)
		}
	}
}

func TestFileStore_RecordNames(t *testing.T) {
	fs := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name string
		id   string
	}{
		{"leading dot", ".hidden"},
		{"multibyte at limit", strings.Repeat("ж", maxIDLength/2)},
		{"reserved at limit", strings.Repeat("/", maxIDLength)},
		{"percent", "%h-abc"},
	}

	want := map[string]bool{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := filepath.Base(fs.Path(tt.id))
			if len(base) > maxRecordName || strings.HasPrefix(base, ".") {
				t.Errorf("record name %q is not a usable file name", base)
			}
			st := sampleState(tt.id, "hello")
			if err := fs.Save(ctx, tt.id, st); err != nil {
				t.Fatalf("Save: %v", err)
			}
			got, err := fs.Load(ctx, tt.id)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			assertStateEqual(t, got, st)
		})
		want[tt.id] = true
	}

	// Hashed names whose record is unreadable or belongs to another id are
	// not records.
	for name, data := range map[string]string{
		hashedPrefix + strings.Repeat("0", 64) + recordExt: "{not json",
		hashedPrefix + strings.Repeat("1", 64) + recordExt: `{"id":"a"}`,
	} {
		if err := os.WriteFile(filepath.Join(fs.Dir(), name), []byte(data), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	ids, err := fs.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ids) != len(want) {
		t.Errorf("List() returned %d ids, want %d", len(ids), len(want))
	}
	for _, id := range ids {
		if !want[id] {
			t.Errorf("List() returned unexpected id %q", id)
		}
	}
}

func TestFileStore_EnsureDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "store")
	fs := NewFileStore(dir, nil)

	for range 2 {
		if err := fs.EnsureDir(); err != nil {
			t.Fatalf("EnsureDir: %v", err)
		}
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("probe file left behind: %v", entries)
	}
}

func TestOpenStore(t *testing.T) {
	t.Run("usable directory", func(t *testing.T) {
		st, err := OpenStore(StoreOptions{Dir: t.TempDir()}, nil, nil)
		if err != nil {
			t.Fatalf("OpenStore: %v", err)
		}
		if !st.Persistent() {
			t.Error("expected a persistent store")
		}
	})

	// A regular file where the directory should be makes MkdirAll fail.
	blocked := func(t *testing.T) string {
		path := filepath.Join(t.TempDir(), "blocked")
		if err := os.WriteFile(path, nil, 0o600); err != nil {
			t.Fatal(err)
		}
		return filepath.Join(path, "sessions")
	}

	t.Run("unusable directory degrades to memory", func(t *testing.T) {
		var buf strings.Builder
		logger := logging.NewWriterLogger(&buf, logging.LevelDebug)

		st, err := OpenStore(StoreOptions{Dir: blocked(t)}, logger, nil)
		if err != nil {
			t.Fatalf("OpenStore: %v", err)
		}
		if st.Persistent() {
			t.Error("expected memory-only store")
		}
		if !strings.Contains(buf.String(), "memory-only") {
			t.Errorf("expected a memory-only warning, log:\n%s", buf.String())
		}
	})

	t.Run("unusable directory with persistence required", func(t *testing.T) {
		_, err := OpenStore(StoreOptions{Dir: blocked(t), Required: true}, nil, nil)
		if !errors.Is(err, errors.ErrPersistenceDisabled) {
			t.Fatalf("OpenStore error = %v, want ErrPersistenceDisabled", err)
		}
		if !errors.Is(err, errors.ErrIOFailure) {
			t.Error("cause should be preserved")
		}
	})

	t.Run("low disk space warns", func(t *testing.T) {
		var buf strings.Builder
		logger := logging.NewWriterLogger(&buf, logging.LevelDebug)

		// No filesystem has this much free space.
		if _, err := OpenStore(StoreOptions{Dir: t.TempDir(), MinFreeMB: 1 << 40}, logger, nil); err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(buf.String(), "low on disk space") {
			t.Errorf("expected low disk warning, log:\n%s", buf.String())
		}
	})
}

func TestMemoryStore(t *testing.T) {
	var st Store = MemoryStore{}
	ctx := context.Background()

	if err := st.Save(ctx, "s1", sampleState("s1")); err != nil {
		t.Fatal(err)
	}
	if _, err := st.Load(ctx, "s1"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Load = %v, want ErrNotFound", err)
	}
	if st.Persistent() {
		t.Error("memory store must not report persistence")
	}
}

package session

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Iron-Ham/sessiond/internal/errors"
	"github.com/Iron-Ham/sessiond/internal/logging"
	"github.com/Iron-Ham/sessiond/internal/metrics"
)

// Origins reported to the sessions_registered_total metric.
const (
	OriginNew             = "new"
	OriginRestored        = "restored"
	OriginReplacedCorrupt = "replaced_corrupt"
)

// RemoveReason says why a session left the Registry.
type RemoveReason string

const (
	ReasonExplicit    RemoveReason = "explicit"
	ReasonExpired     RemoveReason = "expired"
	ReasonInvalidated RemoveReason = "invalidated"
)

// AppendHook is called after a message is appended to any registered
// session. The transport uses it to learn that a backlog has pending
// messages. It runs on the appending goroutine, outside all locks.
type AppendHook func(sessionID string, msg Message)

// Registry is the authoritative in-memory index of live sessions.
//
// The map is guarded by an RWMutex that is held only for lookups and
// structural changes, never across store I/O. Store operations for one ID
// are serialized by a per-ID persist lock so that creation, saves and
// removal of the same record never interleave.
type Registry struct {
	store   Store
	logger  *logging.Logger
	metrics *metrics.Metrics
	clock   func() time.Time
	hook    AppendHook

	mu           sync.RWMutex
	sessions     map[string]*Session
	backlogLimit int

	inflight singleflight.Group
	persist  stripedMutex
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l *logging.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

// WithClock overrides time.Now, for tests.
func WithClock(clock func() time.Time) RegistryOption {
	return func(r *Registry) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithAppendHook registers a callback for every appended message.
func WithAppendHook(h AppendHook) RegistryOption {
	return func(r *Registry) { r.hook = h }
}

// NewRegistry creates a Registry backed by store. A nil store means
// memory-only operation.
func NewRegistry(store Store, backlogLimit int, opts ...RegistryOption) *Registry {
	if store == nil {
		store = MemoryStore{}
	}
	if backlogLimit <= 0 {
		backlogLimit = DefaultBacklogLimit
	}
	r := &Registry{
		store:        store,
		logger:       logging.NopLogger(),
		clock:        time.Now,
		sessions:     make(map[string]*Session),
		backlogLimit: backlogLimit,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Persistent reports whether sessions survive a restart.
func (r *Registry) Persistent() bool { return r.store.Persistent() }

// Store returns the backing store.
func (r *Registry) Store() Store { return r.store }

// Get returns the live session for id, or an error matching
// errors.ErrNotFound.
func (r *Registry) Get(id string) (*Session, error) {
	if s, ok := r.lookup(id); ok {
		return s, nil
	}
	return nil, errors.NewNotFoundError("session", id)
}

func (r *Registry) lookup(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// GetOrCreate returns the live session for id, creating it if needed.
//
// Concurrent callers for the same id all receive the same instance. A
// persisted record is restored if one exists; otherwise a new session is
// created and saved once. A corrupt record is logged and replaced by a fresh
// session. The only errors are an invalid id or a cancelled context.
func (r *Registry) GetOrCreate(ctx context.Context, id string) (*Session, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	if s, ok := r.lookup(id); ok {
		return s, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v, err, _ := r.inflight.Do(id, func() (any, error) {
		return r.create(ctx, id), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// create loads or builds the session for id and registers it. It runs at
// most once at a time per id.
func (r *Registry) create(ctx context.Context, id string) *Session {
	unlock := r.persist.lock(id)
	defer unlock()

	// A previous flight may have finished between the caller's lookup and
	// this one starting.
	if s, ok := r.lookup(id); ok {
		return s
	}

	limit := r.limit()
	origin := OriginRestored
	save := false

	var s *Session
	st, err := r.store.Load(ctx, id)
	switch {
	case err == nil:
		s = restoreSession(st, limit, r.clock, r.onAppend)
	case errors.Is(err, errors.ErrNotFound):
		s = newSession(id, limit, r.clock, r.onAppend)
		origin, save = OriginNew, true
	case errors.Is(err, errors.ErrStoreCorrupt):
		r.logger.Warn("corrupt session record replaced with a fresh session",
			"session_id", id,
			"error", err.Error(),
		)
		s = newSession(id, limit, r.clock, r.onAppend)
		origin, save = OriginReplacedCorrupt, true
	default:
		// The record may still be good; leave it alone until this session
		// is mutated and flushed.
		r.logger.Error("failed to load session record, starting fresh",
			"session_id", id,
			"error", err.Error(),
		)
		s = newSession(id, limit, r.clock, r.onAppend)
		s.saved = s.version
		origin = OriginNew
	}

	if save {
		snap, version := s.Snapshot()
		if err := r.store.Save(ctx, id, snap); err != nil {
			r.logger.Warn("failed to save new session record",
				"session_id", id,
				"error", err.Error(),
			)
		} else {
			s.MarkSaved(version)
		}
	}

	r.mu.Lock()
	r.sessions[id] = s
	n := len(r.sessions)
	r.mu.Unlock()

	r.metrics.SessionRegistered(origin)
	r.metrics.SetActiveSessions(n)
	r.logger.Debug("session registered", "session_id", id, "origin", origin)
	return s
}

func (r *Registry) onAppend(sessionID string, msg Message, evicted int) {
	r.metrics.MessageAppended(evicted)
	if r.hook != nil {
		r.hook(sessionID, msg)
	}
}

// Remove unregisters the session and deletes its record. A failed delete is
// logged, not returned. Returns false if id was not registered.
func (r *Registry) Remove(ctx context.Context, id string, reason RemoveReason) bool {
	return r.removeIf(ctx, id, reason, nil)
}

// removeIf removes id if it is registered and cond, when non-nil, holds for
// the live session.
func (r *Registry) removeIf(ctx context.Context, id string, reason RemoveReason, cond func(*Session) bool) bool {
	unlock := r.persist.lock(id)
	defer unlock()

	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok && cond != nil && !cond(s) {
		ok = false
	}
	if ok {
		delete(r.sessions, id)
	}
	n := len(r.sessions)
	r.mu.Unlock()

	if !ok {
		return false
	}
	r.metrics.SessionRemoved(string(reason))
	r.metrics.SetActiveSessions(n)

	if err := r.store.Delete(ctx, id); err != nil {
		r.logger.Warn("failed to delete session record",
			"session_id", id,
			"reason", string(reason),
			"error", err.Error(),
		)
	}
	r.logger.Info("session removed", "session_id", id, "reason", string(reason))
	return true
}

// Persist saves s if it is dirty and still the registered instance for its
// ID. A removed session is never written back.
func (r *Registry) Persist(ctx context.Context, s *Session) error {
	unlock := r.persist.lock(s.ID())
	defer unlock()

	if cur, ok := r.lookup(s.ID()); !ok || cur != s {
		return nil
	}
	if !s.Dirty() {
		return nil
	}
	snap, version := s.Snapshot()
	if err := r.store.Save(ctx, s.ID(), snap); err != nil {
		return err
	}
	s.MarkSaved(version)
	return nil
}

// ForEachActive calls fn for every live session until fn returns false.
// It iterates over a snapshot, so fn may register or remove sessions, and
// sessions removed after the snapshot may still be visited.
func (r *Registry) ForEachActive(fn func(*Session) bool) {
	for _, s := range r.snapshot() {
		if !fn(s) {
			return
		}
	}
}

func (r *Registry) snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// IDs returns the ids of all live sessions in no particular order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

func (r *Registry) limit() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.backlogLimit
}

// SetBacklogLimit changes the backlog limit for new sessions and resizes
// every live session.
func (r *Registry) SetBacklogLimit(n int) {
	if n <= 0 {
		return
	}
	r.mu.Lock()
	r.backlogLimit = n
	r.mu.Unlock()

	r.ForEachActive(func(s *Session) bool {
		if evicted := s.SetBacklogLimit(n); evicted > 0 {
			r.metrics.MessagesEvicted(evicted)
		}
		return true
	})
}

// Sweep removes sessions idle for longer than idle as of now and returns
// their ids. A non-positive idle disables expiry.
func (r *Registry) Sweep(ctx context.Context, now time.Time, idle time.Duration) []string {
	if idle <= 0 {
		return nil
	}
	isIdle := func(s *Session) bool { return s.IdleFor(now) > idle }

	var expired []string
	r.ForEachActive(func(s *Session) bool {
		if isIdle(s) {
			expired = append(expired, s.ID())
		}
		return true
	})

	// Re-checked under the lock in case the session was touched meanwhile.
	removed := expired[:0]
	for _, id := range expired {
		if r.removeIf(ctx, id, ReasonExpired, isIdle) {
			removed = append(removed, id)
		}
	}
	return removed
}

// Restore registers every session found in the store. Records that fail to
// load are logged and skipped, and ids already live are left alone.
// Returns the number restored.
func (r *Registry) Restore(ctx context.Context) (int, error) {
	ids, err := r.store.List(ctx)
	if err != nil {
		return 0, err
	}

	restored := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return restored, err
		}
		if r.restoreOne(ctx, id) {
			restored++
		}
	}
	if restored > 0 {
		r.logger.Info("sessions restored from store", "count", restored)
	}
	return restored, nil
}

func (r *Registry) restoreOne(ctx context.Context, id string) bool {
	unlock := r.persist.lock(id)
	defer unlock()

	if _, ok := r.lookup(id); ok {
		return false
	}
	st, err := r.store.Load(ctx, id)
	if err != nil {
		if !errors.IsExpected(err) {
			r.logger.Warn("skipping unreadable session record", "session_id", id, "error", err.Error())
		}
		return false
	}
	s := restoreSession(st, r.limit(), r.clock, r.onAppend)

	r.mu.Lock()
	if _, ok := r.sessions[id]; ok {
		r.mu.Unlock()
		return false
	}
	r.sessions[id] = s
	n := len(r.sessions)
	r.mu.Unlock()

	r.metrics.SessionRegistered(OriginRestored)
	r.metrics.SetActiveSessions(n)
	return true
}

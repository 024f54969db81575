package session

import (
	"sync"
	"time"
)

// DefaultBacklogLimit is used when a session is created with a non-positive limit.
const DefaultBacklogLimit = 100

// UserRef identifies the authenticated user a session belongs to.
type UserRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// appendFunc is called after a message is appended, outside the session lock.
type appendFunc func(sessionID string, msg Message, evicted int)

// Session is the server-side state of one client connection: identity
// metadata plus a bounded backlog of messages awaiting delivery.
//
// All mutation is serialized by the session's own mutex. The Registry owns
// the canonical instance for each ID.
type Session struct {
	id        string
	createdAt time.Time
	clock     func() time.Time
	onAppend  appendFunc

	mu           sync.Mutex
	lastAccess   time.Time
	user         *UserRef
	backlog      *backlog
	invalidated  bool
	expiryWarned bool

	// version counts mutations; saved is the version last persisted.
	version uint64
	saved   uint64
}

// New creates a detached session with the given backlog limit. Sessions that
// should be routed to are created through Registry.GetOrCreate instead.
func New(id string, backlogLimit int) *Session {
	return newSession(id, backlogLimit, time.Now, nil)
}

func newSession(id string, backlogLimit int, clock func() time.Time, onAppend appendFunc) *Session {
	if backlogLimit <= 0 {
		backlogLimit = DefaultBacklogLimit
	}
	now := clock().UTC()
	return &Session{
		id:         id,
		createdAt:  now,
		clock:      clock,
		onAppend:   onAppend,
		lastAccess: now,
		backlog:    newBacklog(backlogLimit),
		version:    1,
	}
}

// ID returns the session identifier. It never changes.
func (s *Session) ID() string { return s.id }

// CreatedAt returns when the session was first created.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// MatchesIdentifier reports whether candidate is exactly this session's ID.
// It is the only identity primitive handlers use; there is no prefix or fuzzy
// matching.
func (s *Session) MatchesIdentifier(candidate string) bool {
	return candidate == s.id
}

// AddMessage appends msg to the backlog, evicting the oldest message when the
// backlog is full. Concurrent calls are serialized and appear in call order.
func (s *Session) AddMessage(msg Message) {
	s.mu.Lock()
	evicted := s.backlog.push(msg)
	s.version++
	s.mu.Unlock()

	if s.onAppend != nil {
		s.onAppend(s.id, msg, evicted)
	}
}

// Messages returns a copy of the backlog, oldest first.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backlog.items()
}

// TakeMessages returns the backlog and clears it. The transport calls this
// when it delivers pending messages to the client.
func (s *Session) TakeMessages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.backlog.items()
	if len(msgs) > 0 {
		s.backlog.clear()
		s.version++
	}
	return msgs
}

// Len returns the number of messages in the backlog.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backlog.len()
}

// BacklogLimit returns the maximum backlog size.
func (s *Session) BacklogLimit() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backlog.limit()
}

// SetBacklogLimit changes the maximum backlog size. Shrinking evicts the
// oldest messages immediately. Returns the number evicted.
func (s *Session) SetBacklogLimit(n int) int {
	if n <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if n == s.backlog.limit() {
		return 0
	}
	evicted := s.backlog.resize(n)
	if evicted > 0 {
		s.version++
	}
	return evicted
}

// Touch records client activity and re-arms the expiry warning.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if now := s.clock().UTC(); now.After(s.lastAccess) {
		s.lastAccess = now
	}
	s.expiryWarned = false
	s.version++
}

// LastAccess returns the time of the last Touch, or the creation time.
func (s *Session) LastAccess() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAccess
}

// IdleFor returns how long the session has been idle as of now.
func (s *Session) IdleFor(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastAccess)
}

// SetUser associates the session with an authenticated user. nil clears it.
func (s *Session) SetUser(u *UserRef) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u == nil {
		s.user = nil
	} else {
		cp := *u
		s.user = &cp
	}
	s.version++
}

// User returns a copy of the session's user, or nil if anonymous.
func (s *Session) User() *UserRef {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.user == nil {
		return nil
	}
	cp := *s.user
	return &cp
}

// BelongsTo reports whether the session's user has the given ID.
// Anonymous sessions belong to no one.
func (s *Session) BelongsTo(userID string) bool {
	if userID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user != nil && s.user.ID == userID
}

// Invalidate marks the session for removal. The router unregisters
// invalidated sessions once the current event has been dispatched.
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidated = true
}

// Invalidated reports whether Invalidate was called.
func (s *Session) Invalidated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invalidated
}

// Dirty reports whether the session has changed since it was last saved.
func (s *Session) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version != s.saved
}

// Snapshot returns the persistable state along with the mutation version it
// reflects. Pass the version to MarkSaved after a successful save.
func (s *Session) Snapshot() (State, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var user *UserRef
	if s.user != nil {
		cp := *s.user
		user = &cp
	}
	return State{
		Version:      StateVersion,
		ID:           s.id,
		CreatedAt:    s.createdAt,
		LastAccess:   s.lastAccess,
		User:         user,
		BacklogLimit: s.backlog.limit(),
		Messages:     s.backlog.items(),
	}, s.version
}

// MarkSaved records that the state at version has been persisted.
func (s *Session) MarkSaved(version uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if version > s.saved {
		s.saved = version
	}
}

// markExpiryWarned sets the expiry-warned flag and reports whether it was
// previously clear.
func (s *Session) markExpiryWarned() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expiryWarned {
		return false
	}
	s.expiryWarned = true
	return true
}

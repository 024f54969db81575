package session

import (
	"fmt"
	"time"
)

// StateVersion is the current persisted record format.
const StateVersion = 1

// State is the persisted form of a Session. It round-trips through JSON
// without loss.
type State struct {
	Version      int       `json:"version"`
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccess   time.Time `json:"last_access"`
	User         *UserRef  `json:"user,omitempty"`
	BacklogLimit int       `json:"backlog_limit"`
	Messages     []Message `json:"messages"`
}

// validate checks a decoded record. A failure means the record is corrupt.
func (st State) validate(id string) error {
	if st.Version != StateVersion {
		return fmt.Errorf("unsupported record version %d", st.Version)
	}
	if st.ID != id {
		return fmt.Errorf("record id %q does not match %q", st.ID, id)
	}
	if st.CreatedAt.IsZero() {
		return fmt.Errorf("record has no creation time")
	}
	for i, m := range st.Messages {
		if !m.Type.Valid() {
			return fmt.Errorf("message %d has unknown type %q", i, m.Type)
		}
	}
	return nil
}

// restoreSession rebuilds a session from persisted state. The backlog limit
// is the caller's current limit; if the record holds more messages than
// that, only the newest are kept. The restored session is clean.
func restoreSession(st State, backlogLimit int, clock func() time.Time, onAppend appendFunc) *Session {
	s := newSession(st.ID, backlogLimit, clock, onAppend)
	s.createdAt = st.CreatedAt
	s.lastAccess = st.LastAccess
	if st.User != nil {
		u := *st.User
		s.user = &u
	}

	msgs := st.Messages
	if over := len(msgs) - s.backlog.limit(); over > 0 {
		msgs = msgs[over:]
	}
	for _, m := range msgs {
		s.backlog.push(m)
	}
	s.saved = s.version
	return s
}

package event

import "time"

// Kind is the tag identifying which variant of Event occurred.
// Convention: "category.action" (e.g., "task.succeeded", "session.invalidated").
type Kind string

// Event kinds with built-in handlers.
const (
	KindTaskSucceeded      Kind = "task.succeeded"
	KindTaskFailed         Kind = "task.failed"
	KindLogUpdated         Kind = "log.updated"
	KindSessionInvalidated Kind = "session.invalidated"
	KindSessionExpiring    Kind = "session.expiring"
)

// Event is the interface every event variant implements. Variants are
// immutable values; the fields used to find the target session(s) are
// exposed through SessionID and UserID.
//
// New variants are declared by embedding Base.
type Event interface {
	Kind() Kind
	Timestamp() time.Time

	// SessionID is the session the event was produced for. It may be empty
	// for events addressed to a user or to every session.
	SessionID() string

	// UserID is the authenticated user the event concerns, if any.
	UserID() string

	base() Base
}

// Target identifies the session and user an event is addressed to.
type Target struct {
	SessionID string
	UserID    string
}

// Base carries the fields common to all events. Embed it in a variant to
// satisfy Event.
type Base struct {
	kind      Kind
	timestamp time.Time
	target    Target
}

// NewBase creates a Base stamped with the current time.
func NewBase(kind Kind, target Target) Base {
	return Base{kind: kind, timestamp: time.Now(), target: target}
}

func (b Base) Kind() Kind           { return b.kind }
func (b Base) Timestamp() time.Time { return b.timestamp }
func (b Base) SessionID() string    { return b.target.SessionID }
func (b Base) UserID() string       { return b.target.UserID }
func (b Base) base() Base           { return b }

// ForSession is shorthand for a Target naming only a session.
func ForSession(sessionID string) Target {
	return Target{SessionID: sessionID}
}

// ForUser is shorthand for a Target naming a session and its user.
func ForUser(sessionID, userID string) Target {
	return Target{SessionID: sessionID, UserID: userID}
}

// -----------------------------------------------------------------------------
// Task Events
// -----------------------------------------------------------------------------

// TaskSuccessfulEvent is emitted when an asynchronous task started from a
// session finishes successfully.
type TaskSuccessfulEvent struct {
	Base
	TaskID string
}

// NewTaskSuccessfulEvent creates a TaskSuccessfulEvent.
func NewTaskSuccessfulEvent(target Target, taskID string) TaskSuccessfulEvent {
	return TaskSuccessfulEvent{
		Base:   NewBase(KindTaskSucceeded, target),
		TaskID: taskID,
	}
}

// TaskFailedEvent is emitted when an asynchronous task fails.
type TaskFailedEvent struct {
	Base
	TaskID string
	Reason string
}

// NewTaskFailedEvent creates a TaskFailedEvent.
func NewTaskFailedEvent(target Target, taskID, reason string) TaskFailedEvent {
	return TaskFailedEvent{
		Base:   NewBase(KindTaskFailed, target),
		TaskID: taskID,
		Reason: reason,
	}
}

// -----------------------------------------------------------------------------
// Log Events
// -----------------------------------------------------------------------------

// LogUpdatedEvent is emitted when new server log entries are available for
// a user. It is usually broadcast to all of that user's sessions.
type LogUpdatedEvent struct {
	Base
	Source string
	Lines  int
}

// NewLogUpdatedEvent creates a LogUpdatedEvent.
func NewLogUpdatedEvent(target Target, source string, lines int) LogUpdatedEvent {
	return LogUpdatedEvent{
		Base:   NewBase(KindLogUpdated, target),
		Source: source,
		Lines:  lines,
	}
}

// -----------------------------------------------------------------------------
// Session State Events
// -----------------------------------------------------------------------------

// SessionInvalidatedEvent is emitted when an external authority (logout,
// credential revocation) invalidates a session. The session is removed
// after the event is applied.
type SessionInvalidatedEvent struct {
	Base
	Reason string
}

// NewSessionInvalidatedEvent creates a SessionInvalidatedEvent.
func NewSessionInvalidatedEvent(target Target, reason string) SessionInvalidatedEvent {
	return SessionInvalidatedEvent{
		Base:   NewBase(KindSessionInvalidated, target),
		Reason: reason,
	}
}

// SessionExpiringEvent warns a session that it will expire after Remaining
// unless it is touched.
type SessionExpiringEvent struct {
	Base
	Remaining time.Duration
}

// NewSessionExpiringEvent creates a SessionExpiringEvent.
func NewSessionExpiringEvent(sessionID string, remaining time.Duration) SessionExpiringEvent {
	return SessionExpiringEvent{
		Base:      NewBase(KindSessionExpiring, ForSession(sessionID)),
		Remaining: remaining,
	}
}

// -----------------------------------------------------------------------------
// Raw Events
// -----------------------------------------------------------------------------

// RawEvent carries an arbitrary kind with a string payload. Producers use it
// for kinds that have no dedicated variant.
type RawEvent struct {
	Base
	Payload map[string]string
}

// NewRawEvent creates a RawEvent. The payload map is copied.
func NewRawEvent(kind Kind, target Target, payload map[string]string) RawEvent {
	var p map[string]string
	if len(payload) > 0 {
		p = make(map[string]string, len(payload))
		for k, v := range payload {
			p[k] = v
		}
	}
	return RawEvent{Base: NewBase(kind, target), Payload: p}
}

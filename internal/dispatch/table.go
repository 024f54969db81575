package dispatch

import (
	"slices"
	"sync"

	"github.com/Iron-Ham/sessiond/internal/errors"
	"github.com/Iron-Ham/sessiond/internal/event"
	"github.com/Iron-Ham/sessiond/internal/session"
)

var (
	// ErrDuplicateHandler is returned when a kind already has a handler.
	ErrDuplicateHandler = errors.New("handler already registered for event kind")
	// ErrTableFrozen is returned by Register after Freeze.
	ErrTableFrozen = errors.New("handler table is frozen")
)

// Handler is the effect of one event kind on session state.
//
// Accepts decides whether the event concerns the session and must not
// mutate anything. Apply performs the mutation and is only called when
// Accepts returned true.
type Handler struct {
	Accepts func(s *session.Session, ev event.Event) bool
	Apply   func(s *session.Session, ev event.Event)
}

// Table maps event kinds to handlers. It is built at startup and frozen
// before events flow; after Freeze it is read-only.
type Table struct {
	mu       sync.RWMutex
	handlers map[event.Kind]Handler
	frozen   bool
}

// NewTable creates an empty Table.
func NewTable() *Table {
	return &Table{handlers: make(map[event.Kind]Handler)}
}

// Register adds the handler for kind. At most one handler per kind is
// allowed.
func (t *Table) Register(kind event.Kind, h Handler) error {
	if kind == "" {
		return errors.NewValidationError("event kind must not be empty").WithField("kind")
	}
	if h.Accepts == nil || h.Apply == nil {
		return errors.NewValidationError("handler must define Accepts and Apply").
			WithField("kind").
			WithValue(string(kind))
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.frozen {
		return errors.Wrapf(ErrTableFrozen, "register %s", kind)
	}
	if _, ok := t.handlers[kind]; ok {
		return errors.Wrapf(ErrDuplicateHandler, "register %s", kind)
	}
	t.handlers[kind] = h
	return nil
}

// Freeze makes the table read-only.
func (t *Table) Freeze() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frozen = true
}

// Frozen reports whether Freeze was called.
func (t *Table) Frozen() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.frozen
}

// Lookup returns the handler for kind.
func (t *Table) Lookup(kind event.Kind) (Handler, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.handlers[kind]
	return h, ok
}

// Kinds returns the registered kinds in sorted order.
func (t *Table) Kinds() []event.Kind {
	t.mu.RLock()
	defer t.mu.RUnlock()

	kinds := make([]event.Kind, 0, len(t.handlers))
	for k := range t.handlers {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// Apply dispatches ev against s: the handler's mutation runs only if its
// predicate accepts the pair. It reports whether the mutation ran. Applying
// the same event twice mutates twice.
//
// An event kind with no handler yields an error matching
// errors.ErrUnknownEventKind.
func (t *Table) Apply(s *session.Session, ev event.Event) (bool, error) {
	h, ok := t.Lookup(ev.Kind())
	if !ok {
		return false, errors.NewDispatchError(string(ev.Kind()), "no handler registered", errors.ErrUnknownEventKind).
			WithSessionID(s.ID()).
			WithSeverity(errors.SeverityDebug)
	}
	if !h.Accepts(s, ev) {
		return false, nil
	}
	h.Apply(s, ev)
	return true, nil
}

// Typed is a Handler written against one concrete event variant.
type Typed[E event.Event] struct {
	Accepts func(s *session.Session, ev E) bool
	Apply   func(s *session.Session, ev E)
}

// Register adds a typed handler for kind. Events are accepted as E or *E;
// an event of kind with any other dynamic type is never accepted.
func Register[E event.Event](t *Table, kind event.Kind, h Typed[E]) error {
	if h.Accepts == nil || h.Apply == nil {
		return t.Register(kind, Handler{})
	}
	return t.Register(kind, Handler{
		Accepts: func(s *session.Session, ev event.Event) bool {
			e, ok := as[E](ev)
			return ok && h.Accepts(s, e)
		},
		Apply: func(s *session.Session, ev event.Event) {
			if e, ok := as[E](ev); ok {
				h.Apply(s, e)
			}
		},
	})
}

// as converts ev to the variant E, dereferencing a non-nil *E.
func as[E event.Event](ev event.Event) (E, bool) {
	switch e := any(ev).(type) {
	case E:
		return e, true
	case *E:
		if e != nil {
			return *e, true
		}
	}
	var zero E
	return zero, false
}

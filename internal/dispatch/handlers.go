package dispatch

import (
	"fmt"
	"strconv"
	"time"

	"github.com/Iron-Ham/sessiond/internal/event"
	"github.com/Iron-Ham/sessiond/internal/session"
)

// RegisterDefaults registers the built-in handlers on t. Every predicate is
// policy.Matches, so the delivery scope of each kind is configuration.
func RegisterDefaults(t *Table, policy *ScopePolicy) error {
	regs := []func() error{
		func() error {
			return Register(t, event.KindTaskSucceeded, Typed[event.TaskSuccessfulEvent]{
				Accepts: accepts[event.TaskSuccessfulEvent](policy),
				Apply: func(s *session.Session, ev event.TaskSuccessfulEvent) {
					s.AddMessage(session.NewMessage(session.MessageInfo, ev.TaskID, map[string]string{
						"task_id": ev.TaskID,
					}))
				},
			})
		},
		func() error {
			return Register(t, event.KindTaskFailed, Typed[event.TaskFailedEvent]{
				Accepts: accepts[event.TaskFailedEvent](policy),
				Apply: func(s *session.Session, ev event.TaskFailedEvent) {
					s.AddMessage(session.NewMessage(session.MessageError, ev.TaskID+": "+ev.Reason, map[string]string{
						"task_id": ev.TaskID,
						"reason":  ev.Reason,
					}))
				},
			})
		},
		func() error {
			return Register(t, event.KindLogUpdated, Typed[event.LogUpdatedEvent]{
				Accepts: accepts[event.LogUpdatedEvent](policy),
				Apply: func(s *session.Session, ev event.LogUpdatedEvent) {
					s.AddMessage(session.NewMessage(session.MessageInfo, "log updated: "+ev.Source, map[string]string{
						"source": ev.Source,
						"lines":  strconv.Itoa(ev.Lines),
					}))
				},
			})
		},
		func() error {
			return Register(t, event.KindSessionInvalidated, Typed[event.SessionInvalidatedEvent]{
				Accepts: accepts[event.SessionInvalidatedEvent](policy),
				Apply: func(s *session.Session, ev event.SessionInvalidatedEvent) {
					text := "session invalidated"
					if ev.Reason != "" {
						text += ": " + ev.Reason
					}
					s.AddMessage(session.NewMessage(session.MessageWarning, text, nil))
					s.Invalidate()
				},
			})
		},
		func() error {
			return Register(t, event.KindSessionExpiring, Typed[event.SessionExpiringEvent]{
				Accepts: accepts[event.SessionExpiringEvent](policy),
				Apply: func(s *session.Session, ev event.SessionExpiringEvent) {
					s.AddMessage(session.NewMessage(session.MessageWarning,
						fmt.Sprintf("session expires in %s", ev.Remaining.Round(time.Second)),
						map[string]string{"remaining_seconds": strconv.Itoa(int(ev.Remaining.Seconds()))},
					))
				},
			})
		},
	}

	for _, reg := range regs {
		if err := reg(); err != nil {
			return err
		}
	}
	return nil
}

// DefaultTable returns a table holding the built-in handlers. It is not
// frozen, so callers can add their own kinds first.
func DefaultTable(policy *ScopePolicy) *Table {
	t := NewTable()
	if err := RegisterDefaults(t, policy); err != nil {
		// Only possible if the built-in kinds collide, which is a bug.
		panic(err)
	}
	return t
}

func accepts[E event.Event](policy *ScopePolicy) func(*session.Session, E) bool {
	return func(s *session.Session, ev E) bool {
		return policy.Matches(s, ev)
	}
}

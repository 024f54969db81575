// Package event defines the events delivered to sessions and the bus that
// producers publish them on.
//
// # Event variants
//
// [Event] is a tagged variant: every concrete type embeds [Base], which
// carries the [Kind] tag, a timestamp and the [Target] (session and user)
// the event is addressed to. The built-in variants are:
//
//   - [TaskSuccessfulEvent] (task.succeeded)
//   - [TaskFailedEvent] (task.failed)
//   - [LogUpdatedEvent] (log.updated)
//   - [SessionInvalidatedEvent] (session.invalidated)
//   - [SessionExpiringEvent] (session.expiring)
//   - [RawEvent] for any other kind
//
// Events are immutable and never persisted; only their effect on a session's
// message backlog is.
//
// # Bus
//
// [Bus] is a synchronous pub-sub dispatcher keyed by kind. Handlers run on
// the publisher's goroutine with panic recovery, so consumers that do real
// work should hand the event off rather than process it inline.
//
//	bus := event.NewBus()
//	bus.Publish(event.NewTaskSuccessfulEvent(event.ForSession(id), "export-42"))
package event

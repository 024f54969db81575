// Package router delivers domain events to the sessions they concern.
//
// For each event the router resolves candidate sessions from the event's
// scope, runs the dispatch table against each candidate, and isolates
// failures so one session's panic never blocks delivery to the others.
// Producers either call Route synchronously or Submit to a bounded queue
// drained by Run.
package router

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/panics"
	"golang.org/x/time/rate"

	"github.com/Iron-Ham/sessiond/internal/dispatch"
	"github.com/Iron-Ham/sessiond/internal/errors"
	"github.com/Iron-Ham/sessiond/internal/event"
	"github.com/Iron-Ham/sessiond/internal/logging"
	"github.com/Iron-Ham/sessiond/internal/metrics"
	"github.com/Iron-Ham/sessiond/internal/session"
)

// DefaultQueueSize is the Submit queue capacity when none is configured.
const DefaultQueueSize = 1024

var (
	// ErrRunning is returned by Run when another Run is active.
	ErrRunning = errors.New("router is already running")
	// ErrStopped is returned by Run after the router has been stopped.
	ErrStopped = errors.New("router is stopped")
)

// Result summarizes the delivery of one event.
type Result struct {
	Kind       event.Kind
	Candidates int  // sessions the handler was evaluated against
	Applied    int  // sessions whose state was mutated
	Failed     int  // sessions whose handler panicked
	Dropped    bool // no handler for the kind
}

// Router routes events through a frozen dispatch table.
type Router struct {
	registry *session.Registry
	table    *dispatch.Table
	policy   *dispatch.ScopePolicy
	logger   *logging.Logger
	metrics  *metrics.Metrics

	queue   chan event.Event
	running atomic.Bool

	// stopMu orders Submit's send against the stop transition, so every
	// accepted event is seen by the final drain.
	stopMu  sync.RWMutex
	stopped atomic.Bool

	unknownLog *rate.Limiter
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the router logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// WithQueueSize sets the Submit queue capacity.
func WithQueueSize(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.queue = make(chan event.Event, n)
		}
	}
}

// New creates a Router. The table should be frozen before events flow.
func New(reg *session.Registry, table *dispatch.Table, policy *dispatch.ScopePolicy, opts ...Option) *Router {
	r := &Router{
		registry:   reg,
		table:      table,
		policy:     policy,
		logger:     logging.NopLogger(),
		unknownLog: rate.NewLimiter(rate.Every(time.Second), 5),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.queue == nil {
		r.queue = make(chan event.Event, DefaultQueueSize)
	}
	r.logger = r.logger.WithComponent("router")
	return r
}

// Route delivers ev synchronously. Every candidate session is evaluated
// exactly once; a failure in one does not stop the others. An event whose
// target session is gone is a no-op. Sessions invalidated by the event are
// removed from the registry afterwards.
func (r *Router) Route(ctx context.Context, ev event.Event) Result {
	res := Result{Kind: ev.Kind()}

	if _, ok := r.table.Lookup(ev.Kind()); !ok {
		res.Dropped = true
		r.metrics.EventDropped(metrics.DropUnknownKind)
		if r.unknownLog.Allow() {
			r.logger.Debug("dropping event with no handler", "kind", string(ev.Kind()))
		}
		return res
	}
	r.metrics.EventRouted(string(ev.Kind()))

	var invalidated []*session.Session
	for _, s := range r.candidates(ev) {
		// A broadcast snapshot may include sessions removed since.
		if cur, err := r.registry.Get(s.ID()); err != nil || cur != s {
			continue
		}
		res.Candidates++

		applied, err := r.apply(s, ev)
		switch {
		case err != nil:
			res.Failed++
			r.metrics.DispatchFailed(string(ev.Kind()))
			r.logger.Error("event handler failed",
				"kind", string(ev.Kind()),
				"session_id", s.ID(),
				"error", err.Error(),
			)
			continue
		case applied:
			res.Applied++
			r.metrics.DispatchApplied(string(ev.Kind()))
		}
		if s.Invalidated() {
			invalidated = append(invalidated, s)
		}
	}

	for _, s := range invalidated {
		r.registry.Remove(ctx, s.ID(), session.ReasonInvalidated)
	}

	r.logger.Debug("event routed",
		"kind", string(ev.Kind()),
		"candidates", res.Candidates,
		"applied", res.Applied,
		"failed", res.Failed,
	)
	return res
}

// candidates returns the sessions ev may concern. Session-scoped kinds look
// up the addressed session directly; wider scopes iterate a snapshot of
// every live session and let the handler predicate decide.
func (r *Router) candidates(ev event.Event) []*session.Session {
	if r.policy.ScopeFor(ev.Kind()) == dispatch.ScopeSession {
		s, err := r.registry.Get(ev.SessionID())
		if err != nil {
			return nil
		}
		return []*session.Session{s}
	}

	var out []*session.Session
	r.registry.ForEachActive(func(s *session.Session) bool {
		out = append(out, s)
		return true
	})
	return out
}

func (r *Router) apply(s *session.Session, ev event.Event) (applied bool, err error) {
	var pc panics.Catcher
	pc.Try(func() {
		applied, err = r.table.Apply(s, ev)
	})
	if rec := pc.Recovered(); rec != nil {
		return false, errors.NewDispatchError(string(ev.Kind()), "handler panicked", rec.AsError()).
			WithSessionID(s.ID())
	}
	return applied, err
}

// Submit enqueues ev for Run without blocking. It returns false, and counts
// a drop, if the queue is full or the router has stopped.
func (r *Router) Submit(ev event.Event) bool {
	r.stopMu.RLock()
	defer r.stopMu.RUnlock()

	if r.stopped.Load() {
		r.metrics.EventDropped(metrics.DropClosed)
		return false
	}
	select {
	case r.queue <- ev:
		r.metrics.SetQueueDepth(len(r.queue))
		return true
	default:
		r.metrics.EventDropped(metrics.DropQueueFull)
		r.logger.Warn("event queue full, dropping event", "kind", string(ev.Kind()))
		return false
	}
}

// QueueLen returns the number of events waiting for Run.
func (r *Router) QueueLen() int { return len(r.queue) }

// Run routes queued events one at a time until ctx is cancelled. On
// cancellation it stops accepting new events and routes what is already
// queued before returning. A router runs at most once.
func (r *Router) Run(ctx context.Context) error {
	if r.stopped.Load() {
		return ErrStopped
	}
	if !r.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer r.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			r.stopMu.Lock()
			r.stopped.Store(true)
			r.stopMu.Unlock()
			n := r.drain(context.WithoutCancel(ctx))
			r.logger.Info("router stopped", "drained", n)
			return nil
		case ev := <-r.queue:
			r.metrics.SetQueueDepth(len(r.queue))
			r.Route(ctx, ev)
		}
	}
}

func (r *Router) drain(ctx context.Context) int {
	n := 0
	for {
		select {
		case ev := <-r.queue:
			r.Route(ctx, ev)
			n++
		default:
			r.metrics.SetQueueDepth(0)
			return n
		}
	}
}

// Attach subscribes the router to every event published on bus. The
// returned func detaches it.
func (r *Router) Attach(bus *event.Bus) func() {
	id := bus.SubscribeAll(func(ev event.Event) { r.Submit(ev) })
	return func() { bus.Unsubscribe(id) }
}

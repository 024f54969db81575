// Package dispatch maps event kinds to their effect on session state.
//
// A [Handler] is a pair of functions: a pure predicate deciding whether an
// event concerns a session, and a mutator that updates the session
// (usually by appending one message). Handlers live in a [Table] keyed by
// [event.Kind], at most one per kind. The table is populated at startup,
// frozen, and passed to the router; there is no global registry.
//
// [Register] adapts a handler written against a concrete event variant:
//
//	dispatch.Register(table, "export.ready", dispatch.Typed[ExportReady]{
//		Accepts: func(s *session.Session, ev ExportReady) bool { return s.MatchesIdentifier(ev.SessionID()) },
//		Apply:   func(s *session.Session, ev ExportReady) { s.AddMessage(...) },
//	})
//
// # Scope
//
// Which sessions an event may reach is configuration, not code. A
// [ScopePolicy] maps kind patterns to [ScopeSession], [ScopeUser] or
// [ScopeAll]; the built-in handlers use [ScopePolicy.Matches] as their
// predicate, and the router uses [ScopePolicy.ScopeFor] to decide whether to
// look up one session or iterate all of them.
package dispatch

// Package session holds live client sessions and persists them across
// restarts.
//
// # Session
//
// A [Session] carries identity metadata (ID, creation and last-access times,
// an optional [UserRef]) and a bounded FIFO backlog of [Message] values
// waiting to be delivered by the transport. When the backlog is full the
// oldest message is evicted. All mutation goes through the session's mutex,
// so appends from concurrent event deliveries land in call order.
//
// # Registry
//
// The [Registry] is the single in-memory index of live sessions.
// [Registry.GetOrCreate] guarantees one instance per ID even under
// contention: concurrent callers share one load-or-create flight, and the
// store is never touched while the registry lock is held.
// [Registry.ForEachActive] iterates a snapshot, which keeps broadcasts from
// blocking registration.
//
// # Store
//
// [FileStore] keeps one JSON record per session, named after the
// path-escaped ID, and replaces records atomically with a temp file and
// rename. [OpenStore] falls back to [MemoryStore] when the directory is
// unusable and persistence is optional, and logs that it did so.
// [AcquireStoreLock] keeps two servers from sharing a directory.
//
// # Background work
//
// [Flusher] saves dirty sessions on an interval and once more at shutdown.
// [Sweeper] removes idle sessions and publishes a session.expiring event
// shortly before it does.
package session

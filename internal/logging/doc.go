// Package logging provides structured logging for sessiond.
//
// It wraps log/slog with a small Logger type that carries persistent
// attributes (session ID, component) into every entry. Output goes either to
// stderr, as text when stderr is a terminal and JSON otherwise, or to a
// size-rotated JSON file in a configured directory.
//
// The level of a Logger and all of its children can be changed at runtime
// with SetLevel, which the server uses when the config file is reloaded.
//
//	logger, err := logging.New(logging.Options{Level: "INFO", Format: "auto"})
//	if err != nil {
//		return err
//	}
//	defer logger.Close()
//
//	logger.WithSession(id).Warn("session record corrupt, starting fresh", "error", err)
package logging

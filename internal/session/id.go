package session

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/Iron-Ham/sessiond/internal/errors"
)

// maxIDLength bounds identifiers. Record names for long ids are hashed, so
// this limit is independent of filename limits.
const maxIDLength = 200

// NewID returns a new lexically sortable session identifier.
func NewID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// ValidateID rejects identifiers that cannot name a session record.
// Any other string supplied by the transport is accepted as-is.
func ValidateID(id string) error {
	var reason string
	switch {
	case id == "":
		reason = "session id must not be empty"
	case id == "." || id == "..":
		reason = "session id must not be a path element"
	case len(id) > maxIDLength:
		reason = "session id is too long"
	default:
		return nil
	}
	return errors.NewValidationError(reason).
		WithField("session_id").
		WithCause(errors.ErrInvalidSessionID)
}

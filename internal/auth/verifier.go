// Package auth consumes the external session-issuance collaborator. This
// service never mints tokens; it only asks whether one is valid and whose it
// is.
package auth

import (
	"context"

	"github.com/google/uuid"
)

// Session is the result of a successful token verification.
type Session struct {
	UserID    uuid.UUID
	SessionID uuid.UUID
}

// Verifier checks a bearer token. A nil Session with nil error means the
// token is invalid or expired; non-nil errors are infrastructure failures.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Session, error)
}

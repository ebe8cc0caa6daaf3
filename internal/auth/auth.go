// Package auth confirms player identity during login. In online mode it
// queries a Mojang-compatible session service over HTTPS; in offline mode
// it derives a deterministic UUID from the username.
package auth

import (
	"context"

	"github.com/google/uuid"
)

// Profile is a verified player identity.
type Profile struct {
	UUID uuid.UUID
	Name string
}

// Verifier confirms that a player completed the session handshake with the
// identity service. Implementations are network-bound, fallible and slow;
// callers bound each Verify with a context timeout.
type Verifier interface {
	Verify(ctx context.Context, username string, sharedSecret, publicKeyDER []byte) (Profile, error)
}

package entity

import (
	"crypto/subtle"

	"github.com/google/uuid"
)

// AccessToken is an unguessable capability secret granting access to a request or
// a signer item without authentication. It is only ever compared in constant time.
type AccessToken string

// NewAccessToken generates a fresh random token
func NewAccessToken() AccessToken {
	return AccessToken(uuid.NewString())
}

// Matches reports whether presented equals the token. Empty values never match.
func (t AccessToken) Matches(presented string) bool {
	if t == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(t), []byte(presented)) == 1
}

// Reveal returns the raw secret for building links and persisting it
func (t AccessToken) Reveal() string {
	return string(t)
}

// String masks the secret so tokens never end up in log lines
func (t AccessToken) String() string {
	if t == "" {
		return ""
	}
	return "********"
}

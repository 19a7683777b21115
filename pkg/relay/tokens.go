package relay

import (
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
)

// TokenSet is the live set of ephemeral bearer tokens. A token is valid
// from the moment it's issued until its TTL passes or it is revoked.
type TokenSet struct {
	m *xsync.MapOf[string, time.Time]
}

func NewTokenSet() *TokenSet {
	return &TokenSet{m: xsync.NewMapOf[string, time.Time]()}
}

// Issue mints a fresh random token valid for ttl and schedules its
// expiry.
func (ts *TokenSet) Issue(ttl time.Duration) (token string, expiresAt time.Time) {
	token = uuid.NewString()
	expiresAt = time.Now().Add(ttl)
	ts.m.Store(token, expiresAt)

	time.AfterFunc(ttl, func() {
		ts.Revoke(token)
	})

	return token, expiresAt
}

// Validate reports whether the token is live. The deadline check covers
// the window between TTL passing and the expiry timer firing.
func (ts *TokenSet) Validate(token string) bool {
	deadline, ok := ts.m.Load(token)
	if !ok {
		return false
	}
	return time.Now().Before(deadline)
}

// Revoke drops a token from the live set.
func (ts *TokenSet) Revoke(token string) {
	ts.m.Delete(token)
}

// Len returns the number of live tokens.
func (ts *TokenSet) Len() int {
	return ts.m.Size()
}

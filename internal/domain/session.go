package domain

// SessionState is the lifecycle state of an authenticated session.
type SessionState string

// Session lifecycle constants.
const (
	SessionActive  SessionState = "active"
	SessionExpired SessionState = "expired"
	SessionRevoked SessionState = "revoked"
)

// Session is an authenticated context used to access a gated provider.
// Owned exclusively by the session manager; other components hold the
// ID only and never mutate the struct.
type Session struct {
	ID           string
	AccountRef   string // account id the session authenticates
	Token        string // provider-issued bearer token
	Fingerprint  Fingerprint
	Proxy        string // proxy endpoint the session is pinned to, "" if direct
	CreatedAt    int64  // Unix timestamp in milliseconds
	ExpiresAt    int64  // Unix timestamp in milliseconds
	State        SessionState
	RequestCount int64
}

// ExpiredAt reports whether the session token TTL has elapsed at the
// given time. Revoked sessions are not expired, they are gone.
func (s Session) ExpiredAt(nowMillis int64) bool {
	return s.State == SessionActive && s.ExpiresAt > 0 && s.ExpiresAt <= nowMillis
}

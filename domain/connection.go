package domain

import "time"

// DefaultConnectionTTL is the lease of a connection entry from connect time.
const DefaultConnectionTTL = 30 * 24 * time.Hour

// Connection is one live client transport session.
// A handle maps to exactly one user; a user may own many handles.
type Connection struct {
	Handle      string
	UserID      string
	ConnectedAt time.Time
	LastSeen    time.Time
	ExpiresAt   time.Time
	UserAgent   string
	SourceIP    string
}

// Expired reports whether the entry is past its lease.
// Expired entries are skipped by enumeration, never treated as an error.
func (c Connection) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// ConnectInfo carries optional transport details captured at connect.
type ConnectInfo struct {
	UserAgent string
	SourceIP  string
}

// Identity is what the credential verifier yields for a valid bearer token.
type Identity struct {
	UserID   string
	Username string
	Email    string
	TokenUse string
	Expiry   time.Time
}

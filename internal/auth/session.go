package auth

import (
	"time"
)

// SessionRecord is the registry row for a live session, keyed by session ID.
type SessionRecord struct {
	SessionID  string    `json:"sessionId"`
	UserID     uint64    `json:"userId"`
	Username   string    `json:"username"`
	RefreshID  string    `json:"refreshId"`
	RememberMe bool      `json:"rememberMe"`
	IssuedAt   time.Time `json:"issuedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
	ClientIP   string    `json:"clientIp"`
	UserAgent  string    `json:"userAgent"`
	Device     string    `json:"device"`
}

// RefreshRecord marks a refresh token as issued and unconsumed, keyed by the
// token's jti. Consuming the record is what makes the token single use.
type RefreshRecord struct {
	RefreshID string    `json:"refreshId"`
	SessionID string    `json:"sessionId"`
	UserID    uint64    `json:"userId"`
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// UserSession is the request-scoped identity parsed from an access token.
type UserSession struct {
	UserID    uint64
	SessionID string
	Username  string
	Roles     []string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

func (s *UserSession) IsValid() bool {
	return time.Now().Before(s.ExpiresAt)
}

func (s *UserSession) HasRole(role string) bool {
	for _, r := range s.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (s *UserSession) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if s.HasRole(role) {
			return true
		}
	}
	return false
}

// RemainingSeconds reports how long the session token stays valid, zero if
// already expired.
func (s *UserSession) RemainingSeconds() int64 {
	remaining := time.Until(s.ExpiresAt)
	if remaining < 0 {
		return 0
	}
	return int64(remaining.Seconds())
}

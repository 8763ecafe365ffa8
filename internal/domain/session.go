package domain

import "time"

// SessionClaims represents the claims carried by a session cookie
type SessionClaims struct {
	SessionID string `json:"sid"`
	UserID    string `json:"user_id"`
	Exp       int64  `json:"exp"`
	Iat       int64  `json:"iat"`
}

// Session is an issued session token with its expiry
type Session struct {
	Token     string
	SessionID string
	ExpiresAt time.Time
}

// TTL returns the remaining lifetime of the session
func (sc SessionClaims) TTL() time.Duration {
	return time.Until(time.Unix(sc.Exp, 0))
}

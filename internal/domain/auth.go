package domain

import "time"

// Session is an issued operator session token.
type Session struct {
	Token     string
	ExpiresAt time.Time
	Operator  *Operator
}

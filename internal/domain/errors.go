package domain

import "errors"

// Sentinel errors shared by the escalation core. Callers match them with errors.Is.
var (
	ErrCooldownActive    = errors.New("cooldown active")
	ErrAlreadyOpen       = errors.New("issue already open for check")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrWrongLevel        = errors.New("wrong level")
	ErrInvalidSignature  = errors.New("invalid signature")
	ErrReportNotAllowed  = errors.New("report not allowed")
	ErrNotFound          = errors.New("not found")
	ErrStaleIssue        = errors.New("issue changed concurrently")
	ErrNotDue            = errors.New("escalation not due")
)

// Suppressed reports whether err is a creation suppression rather than a failure.
func Suppressed(err error) bool {
	return errors.Is(err, ErrCooldownActive) || errors.Is(err, ErrAlreadyOpen)
}

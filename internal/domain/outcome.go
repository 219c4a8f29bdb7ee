package domain

import "strconv"

// Outcome is the normalized result of one delivery attempt.
type Outcome struct {
	// OK is true iff the HTTP status was in [200,300).
	OK bool
	// Code is the HTTP status code, 0 on a connection-level failure.
	Code int
	// Error is set only on non-HTTP failures (DNS, TLS, timeout).
	Error string
	// Preview is the cleaned response body, at most 300 characters.
	Preview string
}

// FailureMessage describes a failed outcome for error histories:
// the transport error when present, otherwise "HTTP <code>".
func (o Outcome) FailureMessage() string {
	if o.Error != "" {
		return o.Error
	}
	return "HTTP " + strconv.Itoa(o.Code)
}

package domain

import "time"

// Settings holds the global delivery knobs. They are read from the
// configuration store at dispatch and queue-processing time; RetryMax and
// RetryDelay are additionally snapshotted into tasks at enqueue time.
type Settings struct {
	RateLimitEnabled bool
	RateLimitMax     int
	RateLimitWindow  time.Duration

	// RetryMax of 0 disables the retry queue entirely.
	RetryMax   int
	RetryDelay time.Duration

	NotifyOnFailure bool
	// NotifyEmail is the failure-notice recipient; empty means the
	// operator's default address.
	NotifyEmail string
}

// DefaultSettings mirrors the configuration store's seed values.
func DefaultSettings() Settings {
	return Settings{
		RateLimitEnabled: true,
		RateLimitMax:     5,
		RateLimitWindow:  time.Hour,
		RetryMax:         3,
		RetryDelay:       15 * time.Minute,
		NotifyOnFailure:  false,
	}
}

package core

import "time"

// RateLimitState is the persisted usage record for one provider.
type RateLimitState struct {
	// RequestCount counts provider invocations since WindowStart.
	RequestCount int       `json:"request_count"`
	WindowStart  time.Time `json:"window_start"`

	// RateLimitCount counts 429 responses since WindowStart.
	RateLimitCount int        `json:"rate_limit_count"`
	BackoffUntil   *time.Time `json:"backoff_until,omitempty"`
	Last429At      *time.Time `json:"last_429_at,omitempty"`
}

// InBackoff reports whether the provider asked callers to wait past now.
func (s *RateLimitState) InBackoff(now time.Time) bool {
	return s != nil && s.BackoffUntil != nil && now.Before(*s.BackoffUntil)
}

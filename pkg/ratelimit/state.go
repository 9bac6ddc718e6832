// Package ratelimit bounds concurrent in-flight requests and enforces a
// minimum interval between request admissions.
//
// A Limiter is an explicit value owned by a batch run and handed to the API
// client, so independent runs (and tests) never share admission state.
package ratelimit

import (
	"time"
)

// Stats is a snapshot of a Limiter's admission state.
type Stats struct {
	// Admitted is the number of requests admitted so far.
	Admitted int64 `json:"admitted"`

	// InFlight is the number of admitted requests not yet released.
	InFlight int64 `json:"in_flight"`

	// TotalWait is the cumulative time callers spent blocked in Acquire.
	TotalWait time.Duration `json:"total_wait"`

	// LastAdmission is when the most recent request was admitted.
	// Admission timestamps never decrease.
	LastAdmission time.Time `json:"last_admission"`
}

// AverageWait returns the mean time a caller waited for admission.
// Returns 0 if nothing has been admitted.
func (s Stats) AverageWait() time.Duration {
	if s.Admitted == 0 {
		return 0
	}
	return s.TotalWait / time.Duration(s.Admitted)
}

// IdleFor returns how long ago the last admission happened.
// Returns 0 if nothing has been admitted.
func (s Stats) IdleFor() time.Duration {
	if s.LastAdmission.IsZero() {
		return 0
	}
	return time.Since(s.LastAdmission)
}

// MinInterval returns the minimum spacing between admissions for qps.
// A qps of 0 means no spacing.
func MinInterval(qps float64) time.Duration {
	if qps <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / qps)
}

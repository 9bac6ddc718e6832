package ratelimit

import (
	"testing"
	"time"
)

func TestStats_AverageWait(t *testing.T) {
	tests := []struct {
		name     string
		stats    Stats
		expected time.Duration
	}{
		{
			name:     "nothing admitted",
			stats:    Stats{},
			expected: 0,
		},
		{
			name:     "single admission",
			stats:    Stats{Admitted: 1, TotalWait: 300 * time.Millisecond},
			expected: 300 * time.Millisecond,
		},
		{
			name:     "several admissions",
			stats:    Stats{Admitted: 4, TotalWait: 2 * time.Second},
			expected: 500 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.stats.AverageWait()
			if result != tt.expected {
				t.Errorf("AverageWait() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestStats_IdleFor(t *testing.T) {
	tests := []struct {
		name      string
		last      time.Time
		expected  time.Duration
		tolerance time.Duration
	}{
		{
			name:      "never admitted",
			last:      time.Time{},
			expected:  0,
			tolerance: 0,
		},
		{
			name:      "admitted a minute ago",
			last:      time.Now().Add(-1 * time.Minute),
			expected:  1 * time.Minute,
			tolerance: 1 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Stats{LastAdmission: tt.last}.IdleFor()
			diff := result - tt.expected
			if diff < 0 {
				diff = -diff
			}
			if diff > tt.tolerance {
				t.Errorf("IdleFor() = %v, want approximately %v", result, tt.expected)
			}
		})
	}
}

func TestMinInterval(t *testing.T) {
	tests := []struct {
		qps      float64
		expected time.Duration
	}{
		{qps: 0, expected: 0},
		{qps: -1, expected: 0},
		{qps: 1, expected: time.Second},
		{qps: 4, expected: 250 * time.Millisecond},
		{qps: 0.5, expected: 2 * time.Second},
	}

	for _, tt := range tests {
		result := MinInterval(tt.qps)
		if result != tt.expected {
			t.Errorf("MinInterval(%v) = %v, want %v", tt.qps, result, tt.expected)
		}
	}
}

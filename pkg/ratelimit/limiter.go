package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Prometheus metrics for request admission.
var (
	admissionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "book_ratelimit_admissions_total",
		Help: "Total number of requests admitted by the rate limiter",
	})

	admissionWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "book_ratelimit_wait_seconds",
		Help:    "Time spent waiting for admission",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	})

	inFlightGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "book_ratelimit_in_flight",
		Help: "Number of admitted requests not yet released",
	})
)

var (
	// ErrInvalidConcurrency is returned when maxConcurrent is below 1.
	ErrInvalidConcurrency = errors.New("max_concurrent must be >= 1")

	// ErrInvalidQPS is returned when qps is negative.
	ErrInvalidQPS = errors.New("qps must be >= 0")
)

// Limiter admits requests under a concurrency bound and a global QPS cap.
// It is safe for concurrent use.
type Limiter struct {
	slots         *semaphore.Weighted
	gate          *rate.Limiter
	maxConcurrent int64
	qps           float64
	logger        zerolog.Logger

	mu    sync.Mutex
	stats Stats
}

// New creates a Limiter. A qps of 0 disables the timing gate so only the
// concurrency bound applies.
func New(maxConcurrent int, qps float64, logger zerolog.Logger) (*Limiter, error) {
	if maxConcurrent < 1 {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidConcurrency, maxConcurrent)
	}
	if qps < 0 {
		return nil, fmt.Errorf("%w (got %v)", ErrInvalidQPS, qps)
	}

	limit := rate.Inf
	if qps > 0 {
		limit = rate.Limit(qps)
	}

	return &Limiter{
		slots:         semaphore.NewWeighted(int64(maxConcurrent)),
		gate:          rate.NewLimiter(limit, 1),
		maxConcurrent: int64(maxConcurrent),
		qps:           qps,
		logger:        logger,
	}, nil
}

// Acquire blocks until a concurrency slot is free and the minimum interval
// since the previous admission has elapsed. Every successful Acquire must be
// paired with a Release. On error no slot is held.
func (l *Limiter) Acquire(ctx context.Context) error {
	start := time.Now()

	if err := l.slots.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire slot: %w", err)
	}

	if err := l.gate.Wait(ctx); err != nil {
		l.slots.Release(1)
		return fmt.Errorf("wait for admission: %w", err)
	}

	waited := time.Since(start)
	now := time.Now()

	l.mu.Lock()
	l.stats.Admitted++
	l.stats.InFlight++
	l.stats.TotalWait += waited
	if now.After(l.stats.LastAdmission) {
		l.stats.LastAdmission = now
	}
	l.mu.Unlock()

	admissionsTotal.Inc()
	admissionWaitSeconds.Observe(waited.Seconds())
	inFlightGauge.Inc()

	if waited > time.Second {
		l.logger.Debug().
			Dur("waited", waited).
			Float64("qps", l.qps).
			Msg("Request admitted after wait")
	}

	return nil
}

// Release returns the slot taken by a successful Acquire.
func (l *Limiter) Release() {
	l.mu.Lock()
	if l.stats.InFlight > 0 {
		l.stats.InFlight--
	}
	l.mu.Unlock()

	inFlightGauge.Dec()
	l.slots.Release(1)
}

// Do runs fn while holding an admission. The slot is released when fn
// returns, including when it panics.
func (l *Limiter) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()

	return fn(ctx)
}

// Stats returns a snapshot of the admission state.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// MaxConcurrent returns the concurrency bound.
func (l *Limiter) MaxConcurrent() int {
	return int(l.maxConcurrent)
}

// QPS returns the configured admission rate (0 = unlimited).
func (l *Limiter) QPS() float64 {
	return l.qps
}

package batch

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/book-metadata-client/pkg/client"
	"github.com/Sternrassler/book-metadata-client/pkg/isbn"
	"github.com/Sternrassler/book-metadata-client/pkg/logging"
)

// Prometheus metrics for batch runs.
var (
	batchKeysTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "book_batch_keys_total",
		Help: "Total raw keys handled by batch runs by outcome",
	}, []string{"outcome"})

	batchCooldownsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "book_batch_cooldowns_total",
		Help: "Total number of batch cooldown pauses",
	})
)

// ErrNilFetcher is returned by NewFetcher when no KeyFetcher is supplied.
var ErrNilFetcher = errors.New("key fetcher is required")

// KeyFetcher looks up a single key. *client.Client implements it.
type KeyFetcher interface {
	Fetch(ctx context.Context, key isbn.Key) client.FetchResult
}

// ResultSink receives every result as it is produced.
type ResultSink interface {
	OnResult(ctx context.Context, key isbn.Key, result client.FetchResult) error
}

// ProgressFunc is called once per processed key. index is 1-based and raw
// is the first input value that produced the key.
type ProgressFunc func(index, total int, raw any, ok bool)

// Fetcher runs sequential batch lookups.
type Fetcher struct {
	api    KeyFetcher
	config Config
	sleep  client.Sleeper
	rnd    *rand.Rand
	sink   ResultSink
	logger zerolog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithSleeper replaces the pacing sleep (used by tests).
func WithSleeper(s client.Sleeper) Option {
	return func(f *Fetcher) {
		if s != nil {
			f.sleep = s
		}
	}
}

// WithRand sets the random source for delays.
func WithRand(r *rand.Rand) Option {
	return func(f *Fetcher) {
		if r != nil {
			f.rnd = r
		}
	}
}

// WithSink forwards every result to s.
func WithSink(s ResultSink) Option {
	return func(f *Fetcher) {
		f.sink = s
	}
}

// WithLogger sets the fetcher logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

// NewFetcher creates a batch fetcher.
func NewFetcher(api KeyFetcher, cfg Config, opts ...Option) (*Fetcher, error) {
	if api == nil {
		return nil, ErrNilFetcher
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	f := &Fetcher{
		api:    api,
		config: cfg,
		sleep:  client.SleepContext,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		logger: logging.NewLogger(logging.ComponentBatch),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// FetchBatch looks up every valid key in raws. A failed key never aborts
// the run. When ctx is cancelled the results gathered so far are returned
// together with ctx.Err().
func (f *Fetcher) FetchBatch(ctx context.Context, raws []any, progress ProgressFunc) (*Result, error) {
	start := time.Now()

	deduped := isbn.Dedupe(raws)
	res := newResult(deduped)

	for _, raw := range deduped.Invalid {
		f.logger.Debug().Interface("raw", raw).Msg("Skipping invalid key")
	}
	batchKeysTotal.WithLabelValues("invalid").Add(float64(len(deduped.Invalid)))
	batchKeysTotal.WithLabelValues("duplicate").Add(float64(deduped.Duplicates))

	total := len(deduped.Keys)
	if total == 0 {
		f.logger.Info().
			Int("inputs", len(raws)).
			Int("invalid", len(deduped.Invalid)).
			Msg("No valid keys to fetch")
		return res, nil
	}

	f.logger.Info().
		Int("keys", total).
		Int("invalid", len(deduped.Invalid)).
		Int("duplicates", deduped.Duplicates).
		Msg("Starting batch fetch")

	for i, key := range deduped.Keys {
		if err := ctx.Err(); err != nil {
			return f.abort(res, start, err)
		}

		if i > 0 && f.config.CooldownEnabled && i%f.config.CooldownInterval == 0 {
			pause := f.uniform(f.config.CooldownMin, f.config.CooldownMax)
			batchCooldownsTotal.Inc()
			f.logger.Info().
				Int("processed", i).
				Int("total", total).
				Dur("cooldown", pause).
				Msg("Batch cooldown")
			if err := f.sleep(ctx, pause); err != nil {
				return f.abort(res, start, err)
			}
		}

		if f.config.RandomDelayEnabled {
			if err := f.sleep(ctx, f.uniform(f.config.RandomDelayMin, f.config.RandomDelayMax)); err != nil {
				return f.abort(res, start, err)
			}
		}

		result := f.api.Fetch(ctx, key)
		if result.Key == "" {
			result.Key = key
		}

		// A lookup interrupted by cancellation says nothing about the key.
		if err := ctx.Err(); err != nil && result.Kind == client.KindTransientError {
			return f.abort(res, start, err)
		}

		res.add(key, result)
		batchKeysTotal.WithLabelValues(string(result.Kind)).Inc()

		if progress != nil {
			progress(i+1, total, deduped.FirstSeen[key], result.Succeeded())
		}

		// Completed results are persisted even when the run is being cancelled.
		if f.sink != nil {
			if err := f.sink.OnResult(context.WithoutCancel(ctx), key, result); err != nil {
				f.logger.Warn().Err(err).Str("key", key.String()).Msg("Result sink failed")
			}
		}

		if !result.Succeeded() {
			f.logger.Debug().
				Str("key", key.String()).
				Str("kind", string(result.Kind)).
				Int("status_code", result.StatusCode).
				Err(result.Err).
				Msg("Lookup failed")
		}
	}

	f.summary(res, start).Msg("Batch fetch complete")
	return res, nil
}

func (f *Fetcher) abort(res *Result, start time.Time, err error) (*Result, error) {
	f.summary(res, start).
		Err(err).
		Int("remaining", res.Total-res.Len()).
		Msg("Batch fetch cancelled - returning partial results")
	return res, err
}

func (f *Fetcher) summary(res *Result, start time.Time) *zerolog.Event {
	return f.logger.Info().
		Int("succeeded", res.Succeeded()).
		Int("failed", res.Failed()).
		Int("skipped", len(res.Invalid)).
		Int("duplicates", res.Duplicates).
		Int("total", res.Total).
		Dur("duration", time.Since(start))
}

// uniform returns a random duration in [lo, hi].
func (f *Fetcher) uniform(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(f.rnd.Int63n(int64(hi-lo)+1))
}

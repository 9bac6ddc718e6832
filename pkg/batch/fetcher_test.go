package batch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/book-metadata-client/internal/testutil"
	"github.com/Sternrassler/book-metadata-client/pkg/client"
	"github.com/Sternrassler/book-metadata-client/pkg/identity"
	"github.com/Sternrassler/book-metadata-client/pkg/isbn"
	"github.com/Sternrassler/book-metadata-client/pkg/ratelimit"
	"github.com/Sternrassler/book-metadata-client/pkg/sink"
)

// fakeFetcher records lookups and returns scripted results.
type fakeFetcher struct {
	mu    sync.Mutex
	calls []isbn.Key
	fn    func(ctx context.Context, n int, key isbn.Key) client.FetchResult
}

func (f *fakeFetcher) Fetch(ctx context.Context, key isbn.Key) client.FetchResult {
	f.mu.Lock()
	f.calls = append(f.calls, key)
	n := len(f.calls)
	fn := f.fn
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, n, key)
	}
	return client.FetchResult{Key: key, Kind: client.KindSuccess, Payload: map[string]any{"isbn13": key.String()}}
}

func (f *fakeFetcher) Calls() []isbn.Key {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]isbn.Key(nil), f.calls...)
}

// sleepLog records pacing sleeps without waiting.
type sleepLog struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepLog) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepLog) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func noPacing() Config {
	cfg := DefaultConfig()
	cfg.RandomDelayEnabled = false
	cfg.CooldownEnabled = false
	return cfg
}

func newTestFetcher(t *testing.T, api KeyFetcher, cfg Config, opts ...Option) (*Fetcher, *sleepLog) {
	t.Helper()
	sleeps := &sleepLog{}
	opts = append([]Option{
		WithSleeper(sleeps.Sleep),
		WithRand(rand.New(rand.NewSource(1))),
		WithLogger(zerolog.Nop()),
	}, opts...)
	f, err := NewFetcher(api, cfg, opts...)
	require.NoError(t, err)
	return f, sleeps
}

func sequentialKeys(n int) []any {
	raws := make([]any, n)
	for i := range raws {
		raws[i] = fmt.Sprintf("97800000%05d", i)
	}
	return raws
}

func TestNewFetcher_Validation(t *testing.T) {
	_, err := NewFetcher(nil, DefaultConfig())
	assert.ErrorIs(t, err, ErrNilFetcher)

	bad := DefaultConfig()
	bad.CooldownInterval = 0
	_, err = NewFetcher(&fakeFetcher{}, bad)
	assert.Error(t, err)

	bad = DefaultConfig()
	bad.RandomDelayMin, bad.RandomDelayMax = 3*time.Second, time.Second
	_, err = NewFetcher(&fakeFetcher{}, bad)
	assert.Error(t, err)

	disabled := DefaultConfig()
	disabled.CooldownEnabled = false
	disabled.CooldownInterval = 0
	_, err = NewFetcher(&fakeFetcher{}, disabled)
	assert.NoError(t, err, "an unused cooldown interval is not validated")
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, cfg.RandomDelayEnabled)
	assert.Equal(t, time.Second, cfg.RandomDelayMin)
	assert.Equal(t, 3*time.Second, cfg.RandomDelayMax)
	assert.True(t, cfg.CooldownEnabled)
	assert.Equal(t, 20, cfg.CooldownInterval)
	assert.Equal(t, 30*time.Second, cfg.CooldownMin)
	assert.Equal(t, 60*time.Second, cfg.CooldownMax)
	assert.NoError(t, cfg.Validate())
}

func TestFetchBatch_MixedInputs(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("9787121123456", testutil.NewBookResponse("9787121123456", "Go"))

	limiter, err := ratelimit.New(1, 0, zerolog.Nop())
	require.NoError(t, err)
	rotator, err := identity.New(identity.DefaultUserAgents)
	require.NoError(t, err)

	cfg := client.DefaultConfig()
	cfg.BaseURL = mock.BaseURL()
	api, err := client.New(cfg, limiter, rotator, client.WithLogger(zerolog.Nop()))
	require.NoError(t, err)

	f, _ := newTestFetcher(t, api, DefaultConfig())

	type call struct {
		index, total int
		raw          any
		ok           bool
	}
	var calls []call

	raws := []any{"9787121123456", "abc", nil, 9.787121123456e12}
	res, err := f.FetchBatch(context.Background(), raws, func(index, total int, raw any, ok bool) {
		calls = append(calls, call{index, total, raw, ok})
	})
	require.NoError(t, err)

	assert.Equal(t, 1, mock.RequestCount(), "duplicate inputs must share one request")
	require.Len(t, res.Results, 1)
	assert.Equal(t, client.KindSuccess, res.Results["9787121123456"].Kind)
	assert.Equal(t, []any{"abc", nil}, res.Invalid)
	assert.Equal(t, 1, res.Duplicates)
	assert.True(t, res.Complete())

	require.Len(t, calls, 1, "invalid keys get no progress callback")
	assert.Equal(t, call{1, 1, "9787121123456", true}, calls[0])

	dup, ok := res.Lookup(9.787121123456e12)
	require.True(t, ok)
	assert.Equal(t, "Go", dup.Title())

	_, ok = res.Lookup("abc")
	assert.False(t, ok)
}

func TestFetchBatch_Dedup(t *testing.T) {
	api := &fakeFetcher{}
	f, _ := newTestFetcher(t, api, noPacing())

	raws := []any{"978-7-121-12345-6", 9787121123456, "9787121123456", 9787121123456.0, "7121123456"}
	res, err := f.FetchBatch(context.Background(), raws, nil)
	require.NoError(t, err)

	assert.Equal(t, []isbn.Key{"9787121123456", "7121123456"}, api.Calls())
	assert.Equal(t, []isbn.Key{"9787121123456", "7121123456"}, res.Order)
	assert.Equal(t, 3, res.Duplicates)
	assert.Equal(t, 2, res.Succeeded())

	want := []isbn.Key{"9787121123456", "9787121123456", "9787121123456", "9787121123456", "7121123456"}
	for i, raw := range raws {
		got, ok := res.Lookup(raw)
		require.True(t, ok, "Lookup(%v)", raw)
		assert.Equal(t, want[i], got.Key, "Lookup(%v)", raw)
		assert.Equal(t, res.Results[want[i]], got, "Lookup(%v)", raw)
	}
}

func TestFetchBatch_NoValidKeys(t *testing.T) {
	tests := []struct {
		name string
		raws []any
	}{
		{"nil input", nil},
		{"empty input", []any{}},
		{"only invalid", []any{"abc", nil, "", 12345}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeFetcher{}
			f, sleeps := newTestFetcher(t, api, DefaultConfig())

			called := false
			res, err := f.FetchBatch(context.Background(), tt.raws, func(int, int, any, bool) { called = true })
			require.NoError(t, err)
			require.NotNil(t, res)

			assert.Empty(t, res.Results)
			assert.Empty(t, api.Calls())
			assert.Empty(t, sleeps.Delays())
			assert.False(t, called)
		})
	}
}

func TestFetchBatch_CooldownOncePerInterval(t *testing.T) {
	api := &fakeFetcher{}

	cfg := noPacing()
	cfg.CooldownEnabled = true
	cfg.CooldownInterval = 20
	cfg.CooldownMin = 30 * time.Second
	cfg.CooldownMax = 30 * time.Second

	var fetchedAtCooldown []int
	sleeps := &sleepLog{}
	f, err := NewFetcher(api, cfg,
		WithLogger(zerolog.Nop()),
		WithSleeper(func(ctx context.Context, d time.Duration) error {
			fetchedAtCooldown = append(fetchedAtCooldown, len(api.Calls()))
			return sleeps.Sleep(ctx, d)
		}),
	)
	require.NoError(t, err)

	res, err := f.FetchBatch(context.Background(), sequentialKeys(25), nil)
	require.NoError(t, err)

	assert.Equal(t, 25, res.Len())
	assert.Equal(t, []time.Duration{30 * time.Second}, sleeps.Delays())
	assert.Equal(t, []int{20}, fetchedAtCooldown, "cooldown runs after the 20th key")
}

func TestFetchBatch_CooldownIsGlobalCounter(t *testing.T) {
	api := &fakeFetcher{}

	cfg := noPacing()
	cfg.CooldownEnabled = true
	cfg.CooldownInterval = 5
	cfg.CooldownMin = time.Minute
	cfg.CooldownMax = time.Minute

	f, sleeps := newTestFetcher(t, api, cfg)

	_, err := f.FetchBatch(context.Background(), sequentialKeys(16), nil)
	require.NoError(t, err)

	// Before keys 6, 11 and 16.
	assert.Len(t, sleeps.Delays(), 3)
}

func TestFetchBatch_RandomDelayWithinRange(t *testing.T) {
	api := &fakeFetcher{}

	cfg := noPacing()
	cfg.RandomDelayEnabled = true
	cfg.RandomDelayMin = time.Second
	cfg.RandomDelayMax = 3 * time.Second

	f, sleeps := newTestFetcher(t, api, cfg)

	_, err := f.FetchBatch(context.Background(), sequentialKeys(50), nil)
	require.NoError(t, err)

	delays := sleeps.Delays()
	require.Len(t, delays, 50, "one random delay per key")
	for _, d := range delays {
		assert.GreaterOrEqual(t, d, time.Second)
		assert.LessOrEqual(t, d, 3*time.Second)
	}
}

func TestFetchBatch_FailuresDoNotAbort(t *testing.T) {
	api := &fakeFetcher{
		fn: func(_ context.Context, n int, key isbn.Key) client.FetchResult {
			switch n {
			case 2:
				return client.FetchResult{Key: key, Kind: client.KindNotFound, StatusCode: 404}
			case 3:
				return client.FetchResult{Key: key, Kind: client.KindPermanentError, Code: 1287}
			case 4:
				return client.FetchResult{Key: key, Kind: client.KindTransientError, Err: client.ErrRetryExhausted}
			}
			return client.FetchResult{Key: key, Kind: client.KindSuccess}
		},
	}
	f, _ := newTestFetcher(t, api, noPacing())

	var oks []bool
	res, err := f.FetchBatch(context.Background(), sequentialKeys(5), func(_ int, _ int, _ any, ok bool) {
		oks = append(oks, ok)
	})
	require.NoError(t, err)

	assert.Equal(t, []bool{true, false, false, false, true}, oks)
	assert.Equal(t, 2, res.Succeeded())
	assert.Equal(t, 3, res.Failed())
	assert.Equal(t, map[client.Kind]int{
		client.KindSuccess:        2,
		client.KindNotFound:       1,
		client.KindPermanentError: 1,
		client.KindTransientError: 1,
	}, res.Counts())
}

func TestFetchBatch_ProgressOrder(t *testing.T) {
	api := &fakeFetcher{}
	f, _ := newTestFetcher(t, api, noPacing())

	raws := []any{"7121123456", "abc", "9787121123456", "7121123456", "0306406152"}

	var indexes []int
	var seen []any
	_, err := f.FetchBatch(context.Background(), raws, func(index, total int, raw any, _ bool) {
		assert.Equal(t, 3, total)
		indexes = append(indexes, index)
		seen = append(seen, raw)
	})
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3}, indexes)
	assert.Equal(t, []any{"7121123456", "9787121123456", "0306406152"}, seen)
}

func TestFetchBatch_CancelBetweenKeys(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api := &fakeFetcher{
		fn: func(_ context.Context, n int, key isbn.Key) client.FetchResult {
			if n == 3 {
				cancel()
			}
			return client.FetchResult{Key: key, Kind: client.KindSuccess}
		},
	}
	f, _ := newTestFetcher(t, api, noPacing())

	res, err := f.FetchBatch(ctx, sequentialKeys(10), nil)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)

	assert.Equal(t, 3, res.Len(), "completed results are kept")
	assert.False(t, res.Complete())
	assert.Len(t, api.Calls(), 3)
}

func TestFetchBatch_CancelDuringLookup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api := &fakeFetcher{
		fn: func(ctx context.Context, n int, key isbn.Key) client.FetchResult {
			if n == 2 {
				cancel()
				return client.FetchResult{Key: key, Kind: client.KindTransientError, Err: ctx.Err()}
			}
			return client.FetchResult{Key: key, Kind: client.KindSuccess}
		},
	}
	f, _ := newTestFetcher(t, api, noPacing())

	res, err := f.FetchBatch(ctx, sequentialKeys(5), nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, res.Len(), "the interrupted lookup is not recorded")
}

func TestFetchBatch_CancelDuringCooldown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := noPacing()
	cfg.CooldownEnabled = true
	cfg.CooldownInterval = 2

	api := &fakeFetcher{}
	f, err := NewFetcher(api, cfg,
		WithLogger(zerolog.Nop()),
		WithSleeper(func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		}),
	)
	require.NoError(t, err)

	res, err := f.FetchBatch(ctx, sequentialKeys(5), nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, res.Len())
}

type recordingSink struct {
	keys []isbn.Key
	err  error
}

func (s *recordingSink) OnResult(_ context.Context, key isbn.Key, _ client.FetchResult) error {
	s.keys = append(s.keys, key)
	return s.err
}

func TestFetchBatch_Sink(t *testing.T) {
	api := &fakeFetcher{}
	rec := &recordingSink{err: errors.New("disk full")}
	f, _ := newTestFetcher(t, api, noPacing(), WithSink(rec))

	res, err := f.FetchBatch(context.Background(), []any{"7121123456", "9787121123456"}, nil)
	require.NoError(t, err, "sink errors must not abort the batch")

	assert.Equal(t, []isbn.Key{"7121123456", "9787121123456"}, rec.keys)
	assert.Equal(t, 2, res.Len())
}

func TestFetchBatch_SinkKeepsResultCompletedDuringCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := sink.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	defer store.Close()

	api := &fakeFetcher{
		fn: func(_ context.Context, _ int, key isbn.Key) client.FetchResult {
			cancel()
			return client.FetchResult{Key: key, Kind: client.KindSuccess, Payload: map[string]any{"title": "Go"}}
		},
	}
	f, _ := newTestFetcher(t, api, noPacing(), WithSink(store))

	res, err := f.FetchBatch(ctx, []any{"9787121123456", "0306406152"}, nil)
	assert.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, res.Len())

	rec, found, err := store.Get(context.Background(), "9787121123456")
	require.NoError(t, err)
	require.True(t, found, "a result completed before cancellation must reach the sink")
	assert.Equal(t, string(client.KindSuccess), rec.Kind)
	assert.Equal(t, "Go", rec.Title)
}

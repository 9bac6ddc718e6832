package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/book-metadata-client/pkg/batch"
	"github.com/Sternrassler/book-metadata-client/pkg/cache"
	"github.com/Sternrassler/book-metadata-client/pkg/client"
	"github.com/Sternrassler/book-metadata-client/pkg/config"
	"github.com/Sternrassler/book-metadata-client/pkg/identity"
	"github.com/Sternrassler/book-metadata-client/pkg/logging"
	"github.com/Sternrassler/book-metadata-client/pkg/metrics"
	"github.com/Sternrassler/book-metadata-client/pkg/ratelimit"
	"github.com/Sternrassler/book-metadata-client/pkg/sink"
)

// fetchOptions holds the fetch command flags.
type fetchOptions struct {
	Input       string
	Column      int
	Output      string
	DB          string
	MetricsAddr string
	ISBN13      bool
	SkipDone    bool
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Look up metadata for every ISBN in the input",
	Long: `fetch reads ISBNs from --input (CSV or one per line, default stdin), drops
invalid and duplicate values, and looks up each unique key one at a time.

Results are written as JSON lines to --output (default stdout) and, with --db,
upserted into a SQLite database. Progress is printed to stderr. Ctrl-C stops
the run after the current lookup; results gathered so far are kept.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		opts := fetchOptions{}
		opts.Input, _ = cmd.Flags().GetString("input")
		opts.Column, _ = cmd.Flags().GetInt("column")
		opts.Output, _ = cmd.Flags().GetString("output")
		opts.DB, _ = cmd.Flags().GetString("db")
		opts.MetricsAddr, _ = cmd.Flags().GetString("metrics-addr")
		opts.ISBN13, _ = cmd.Flags().GetBool("isbn13")
		opts.SkipDone, _ = cmd.Flags().GetBool("skip-done")
		if opts.MetricsAddr == "" {
			opts.MetricsAddr = cfg.Metrics.Addr
		}
		if opts.SkipDone && opts.DB == "" {
			return fmt.Errorf("--skip-done requires --db")
		}

		logCfg := cfg.LoggingConfig()
		logCfg.Output = cmd.ErrOrStderr()
		logging.Setup(logCfg)

		in, err := openInput(opts.Input)
		if err != nil {
			return err
		}
		raws, err := readKeys(in, opts.Column)
		in.Close()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		_, err = runFetch(ctx, cfg, opts, raws, cmd.OutOrStdout(), cmd.ErrOrStderr())
		return err
	},
}

func init() {
	fetchCmd.Flags().String("input", "", "input file, CSV or one ISBN per line (default: stdin)")
	fetchCmd.Flags().Int("column", 0, "0-based CSV column holding the ISBN")
	fetchCmd.Flags().String("output", "", "JSON lines output file, \"-\" for stdout (default: stdout unless --db is set)")
	fetchCmd.Flags().String("db", "", "SQLite database to upsert results into")
	fetchCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
	fetchCmd.Flags().Bool("isbn13", false, "convert ISBN-10 keys to ISBN-13 before lookup")
	fetchCmd.Flags().Bool("skip-done", false, "skip keys already stored as successful in --db")

	rootCmd.AddCommand(fetchCmd)
}

// runFetch wires the components for one batch run and executes it.
// Cancellation of ctx is not an error: the partial result is returned.
func runFetch(ctx context.Context, cfg config.Config, opts fetchOptions, raws []any, stdout, stderr io.Writer) (res *batch.Result, err error) {
	logger := logging.NewLogger(logging.ComponentCLI)

	limiter, err := ratelimit.New(cfg.MaxConcurrent, cfg.QPS, logging.NewLogger(logging.ComponentRateLimit))
	if err != nil {
		return nil, err
	}
	rotator, err := identity.New(cfg.UserAgents)
	if err != nil {
		return nil, err
	}

	var clientOpts []client.Option
	if cfg.Cache.Enabled {
		manager, closeCache := openCache(ctx, cfg, logger)
		if manager != nil {
			defer closeCache()
			clientOpts = append(clientOpts, client.WithCache(manager))
		}
	}

	api, err := client.New(cfg.ClientConfig(), limiter, rotator, clientOpts...)
	if err != nil {
		return nil, err
	}
	defer api.Close()

	// Stored keys are in converted form, so convert before filtering.
	if opts.ISBN13 {
		raws = toISBN13(raws)
	}

	var sinks []sink.Sink
	if opts.DB != "" {
		store, err := sink.OpenSQLite(ctx, opts.DB)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, store)

		if opts.SkipDone {
			done, err := store.Succeeded(ctx)
			if err != nil {
				store.Close()
				return nil, err
			}
			var skipped int
			raws, skipped = withoutDone(raws, done)
			logger.Info().Int("skipped", skipped).Msg("Skipping keys already fetched")
		}
	}

	switch {
	case opts.Output == "-" || (opts.Output == "" && opts.DB == ""):
		sinks = append(sinks, sink.NewJSONLines(stdout))
	case opts.Output != "":
		out, err := sink.CreateJSONLines(opts.Output)
		if err != nil {
			sink.Multi(sinks...).Close()
			return nil, err
		}
		sinks = append(sinks, out)
	}

	results := sink.Multi(sinks...)
	defer func() {
		if cerr := results.Close(); cerr != nil {
			logger.Error().Err(cerr).Msg("Failed to close result sinks")
			if err == nil {
				err = cerr
			}
		}
	}()

	if opts.MetricsAddr != "" {
		stopMetrics := serveMetrics(opts.MetricsAddr, logger)
		defer stopMetrics()
	}

	fetcher, err := batch.NewFetcher(api, cfg.BatchConfig(), batch.WithSink(results))
	if err != nil {
		return nil, err
	}

	res, err = fetcher.FetchBatch(ctx, raws, func(index, total int, raw any, ok bool) {
		status := "ok"
		if !ok {
			status = "failed"
		}
		fmt.Fprintf(stderr, "[%d/%d] %v %s\n", index, total, raw, status)
	})
	if err != nil {
		if ctx.Err() == nil {
			return res, err
		}
		logger.Warn().Err(err).Msg("Interrupted, keeping partial results")
	}

	printSummary(stderr, res)
	return res, nil
}

// openCache connects to Redis. The run continues without a cache when
// Redis is unreachable.
func openCache(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*cache.Manager, func()) {
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.Cache.RedisAddr,
		DB:   cfg.Cache.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.Warn().Err(err).Str("addr", cfg.Cache.RedisAddr).Msg("Redis unreachable, running without cache")
		rdb.Close()
		return nil, nil
	}

	logger.Info().Str("addr", cfg.Cache.RedisAddr).Msg("Connected to Redis")
	return cache.NewManager(rdb, cfg.CacheConfig()), func() { rdb.Close() }
}

// serveMetrics starts the metrics listener and returns its shutdown func.
func serveMetrics(addr string, logger zerolog.Logger) func() {
	srv := metrics.NewServer(addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("addr", addr).Msg("Metrics server failed")
		}
	}()
	logger.Info().Str("addr", addr).Msg("Serving metrics")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn().Err(err).Msg("Metrics server shutdown failed")
		}
	}
}

func printSummary(w io.Writer, res *batch.Result) {
	if res == nil {
		return
	}
	counts := res.Counts()
	fmt.Fprintf(w, "processed %d/%d keys: %d success, %d not found, %d permanent errors, %d transient errors\n",
		res.Len(), res.Total,
		counts[client.KindSuccess],
		counts[client.KindNotFound],
		counts[client.KindPermanentError],
		counts[client.KindTransientError])
	fmt.Fprintf(w, "skipped %d invalid and %d duplicate inputs\n", len(res.Invalid), res.Duplicates)
}

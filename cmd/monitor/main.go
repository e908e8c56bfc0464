package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ericvolp12/bsky-experiments/pkg/tracing"
	"github.com/ericvolp12/rental-monitor/pkg/bq"
	"github.com/ericvolp12/rental-monitor/pkg/contract"
	"github.com/ericvolp12/rental-monitor/pkg/ingest"
	"github.com/ericvolp12/rental-monitor/pkg/monitor"
	"github.com/ericvolp12/rental-monitor/pkg/parq"
	"github.com/ericvolp12/rental-monitor/pkg/source"
	"github.com/ericvolp12/rental-monitor/pkg/store"
	"github.com/ericvolp12/rental-monitor/pkg/subgraph"
	"github.com/joho/godotenv"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	slogecho "github.com/samber/slog-echo"
	echopprof "github.com/sevenNt/echo-pprof"
	"github.com/urfave/cli/v2"
)

func main() {
	// A missing .env is fine, flags and the environment still apply.
	_ = godotenv.Load()

	app := cli.App{
		Name:    "monitor",
		Usage:   "live data layer for the NFT rental marketplace",
		Version: "0.1.0",
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "ws-url",
			Usage:   "websocket url of the contract event push channel",
			Value:   "ws://localhost:8545/events",
			EnvVars: []string{"RM_WS_URL"},
		},
		&cli.StringFlag{
			Name:    "network",
			Usage:   "network name reported in the push channel status",
			Value:   "somnia-testnet",
			EnvVars: []string{"RM_NETWORK"},
		},
		&cli.StringSliceFlag{
			Name:    "contracts",
			Usage:   "contracts the push channel is watching",
			Value:   cli.NewStringSlice("RentalMarket", "PaymentStream", "ReputationSystem", "RentalDAO"),
			EnvVars: []string{"RM_CONTRACTS"},
		},
		&cli.IntFlag{
			Name:    "max-reconnect-attempts",
			Usage:   "give up on the push channel after this many failed dials in a row (0 retries forever)",
			Value:   10,
			EnvVars: []string{"RM_MAX_RECONNECT_ATTEMPTS"},
		},
		&cli.DurationFlag{
			Name:    "read-timeout",
			Usage:   "reconnect when the push channel is silent for this long (0 disables)",
			Value:   0,
			EnvVars: []string{"RM_READ_TIMEOUT"},
		},
		&cli.IntFlag{
			Name:    "port",
			Usage:   "port to serve the http server on",
			Value:   8080,
			EnvVars: []string{"RM_PORT"},
		},
		&cli.BoolFlag{
			Name:    "debug",
			Usage:   "enable debug logging",
			Value:   false,
			EnvVars: []string{"RM_DEBUG"},
		},
		&cli.StringFlag{
			Name:    "subgraph-url",
			Usage:   "GraphQL endpoint of the marketplace indexer",
			EnvVars: []string{"RM_SUBGRAPH_URL"},
		},
		&cli.BoolFlag{
			Name:    "fixture",
			Usage:   "serve deterministic fixture data instead of querying the indexer",
			Value:   false,
			EnvVars: []string{"RM_FIXTURE"},
		},
		&cli.Float64Flag{
			Name:    "query-rate",
			Usage:   "rate limit for indexer queries in requests per second",
			Value:   5,
			EnvVars: []string{"RM_QUERY_RATE"},
		},
		&cli.DurationFlag{
			Name:    "poll-interval",
			Usage:   "how often indexer collections are refetched (0 for manual refresh only)",
			Value:   30 * time.Second,
			EnvVars: []string{"RM_POLL_INTERVAL"},
		},
		&cli.DurationFlag{
			Name:    "status-interval",
			Usage:   "how often the push channel status is sampled",
			Value:   5 * time.Second,
			EnvVars: []string{"RM_STATUS_INTERVAL"},
		},
		&cli.IntFlag{
			Name:    "fetch-size",
			Usage:   "records requested per indexer collection",
			Value:   100,
			EnvVars: []string{"RM_FETCH_SIZE"},
		},
		&cli.IntFlag{
			Name:    "buffer-size",
			Usage:   "most recent push events kept in memory",
			Value:   1000,
			EnvVars: []string{"RM_BUFFER_SIZE"},
		},
		&cli.StringFlag{
			Name:    "relayer-url",
			Usage:   "transaction relayer used for contract reads and writes (empty disables actions)",
			EnvVars: []string{"RM_RELAYER_URL"},
		},
		&cli.StringFlag{
			Name:    "account",
			Usage:   "account the relayer signs with",
			EnvVars: []string{"RM_ACCOUNT"},
		},
		&cli.Int64Flag{
			Name:    "chain-id",
			Usage:   "chain the wallet must be connected to (0 accepts any)",
			Value:   50312,
			EnvVars: []string{"RM_CHAIN_ID"},
		},
		&cli.StringFlag{
			Name:    "sqlite-path",
			Usage:   "path to the sqlite event store (empty disables it)",
			Value:   "/data/rental-monitor.db",
			EnvVars: []string{"RM_SQLITE_PATH"},
		},
		&cli.BoolFlag{
			Name:    "migrate-db",
			Usage:   "run database migrations",
			Value:   true,
			EnvVars: []string{"RM_MIGRATE_DB"},
		},
		&cli.DurationFlag{
			Name:    "evt-ttl",
			Usage:   "time to live for stored events",
			Value:   72 * time.Hour,
			EnvVars: []string{"RM_EVT_TTL"},
		},
		&cli.StringFlag{
			Name:    "parquet-dir",
			Usage:   "directory to archive events to as parquet files (empty disables it)",
			EnvVars: []string{"RM_PARQUET_DIR"},
		},
		&cli.IntFlag{
			Name:    "parquet-batch-size",
			Usage:   "events per parquet file",
			Value:   10_000,
			EnvVars: []string{"RM_PARQUET_BATCH_SIZE"},
		},
		&cli.DurationFlag{
			Name:    "parquet-max-wait",
			Usage:   "longest time events wait before a parquet file is written",
			Value:   time.Hour,
			EnvVars: []string{"RM_PARQUET_MAX_WAIT"},
		},
		&cli.StringFlag{
			Name:    "bigquery-project-id",
			Usage:   "Google Cloud project ID for BigQuery",
			EnvVars: []string{"RM_BIGQUERY_PROJECT_ID"},
		},
		&cli.StringFlag{
			Name:    "bigquery-dataset",
			Usage:   "BigQuery dataset name",
			EnvVars: []string{"RM_BIGQUERY_DATASET"},
		},
		&cli.StringFlag{
			Name:    "bigquery-table-prefix",
			Usage:   "BigQuery table name prefix",
			EnvVars: []string{"RM_BIGQUERY_TABLE_PREFIX"},
			Value:   "events",
		},
		&cli.DurationFlag{
			Name:    "liveness-window",
			Usage:   "shut down when no push event arrives for this long (0 disables)",
			Value:   0,
			EnvVars: []string{"RM_LIVENESS_WINDOW"},
		},
	}

	app.Action = Monitor

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

// Monitor runs the push channel consumer, the indexer pollers and the API.
func Monitor(cctx *cli.Context) error {
	ctx, cancel := context.WithCancel(cctx.Context)
	defer cancel()

	// Closed when a critical routine wants the process to stop
	kill := make(chan struct{})

	logLevel := slog.LevelInfo
	if cctx.Bool("debug") {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel, AddSource: true}))
	slog.SetDefault(slog.New(logger.Handler()))

	logger.Info("starting up")

	// Registers a tracer Provider globally if the exporter endpoint is set
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		logger.Info("registering global tracer provider")
		shutdown, err := tracing.InstallExportPipeline(ctx, "rental-monitor", 1)
		if err != nil {
			logger.Error("failed to install export pipeline", "error", err)
			return err
		}
		defer func() {
			if err := shutdown(ctx); err != nil {
				logger.Error("failed to shutdown export pipeline", "error", err)
			}
		}()
	}

	deps := monitor.Deps{
		Ingest: ingest.NewService(logger, ingest.Config{
			URL:                  cctx.String("ws-url"),
			Network:              cctx.String("network"),
			Contracts:            cctx.StringSlice("contracts"),
			MaxReconnectAttempts: cctx.Int("max-reconnect-attempts"),
			ReadTimeout:          cctx.Duration("read-timeout"),
		}),
	}

	switch {
	case cctx.Bool("fixture"):
		logger.Info("serving fixture data")
		deps.Source = source.NewFixture(50, 12)
	case cctx.String("subgraph-url") != "":
		deps.Source = subgraph.NewClient(logger, cctx.String("subgraph-url"), cctx.Float64("query-rate"))
	default:
		return fmt.Errorf("one of --subgraph-url or --fixture is required")
	}

	if url := cctx.String("relayer-url"); url != "" {
		client := contract.NewClient(logger, url, cctx.String("account"))
		deps.Contracts = client
		deps.Wallet = contract.NewWallet(client, cctx.Int64("chain-id"))
	} else {
		logger.Info("no relayer configured, actions are disabled")
		deps.Wallet = contract.NewWallet(nil, cctx.Int64("chain-id"))
	}

	var err error

	if path := cctx.String("sqlite-path"); path != "" {
		deps.Store, err = store.Open(logger, path, cctx.Bool("migrate-db"), cctx.Duration("evt-ttl"))
		if err != nil {
			logger.Error("failed to open event store", "error", err)
			return err
		}
		defer func() {
			if err := deps.Store.Close(); err != nil {
				logger.Error("failed to close event store", "error", err)
			}
		}()
	}

	if dir := cctx.String("parquet-dir"); dir != "" {
		deps.Archive, err = parq.NewArchive(logger, dir, "events", cctx.Int("parquet-batch-size"), cctx.Duration("parquet-max-wait"))
		if err != nil {
			logger.Error("failed to create parquet archive", "error", err)
			return err
		}
		deps.Archive.StartWriter()
	}

	if cctx.String("bigquery-project-id") != "" {
		logger.Info("bigquery project id set, starting bigquery client")
		deps.BQ, err = bq.NewBQ(
			ctx,
			cctx.String("bigquery-project-id"),
			cctx.String("bigquery-dataset"),
			cctx.String("bigquery-table-prefix"),
			logger,
		)
		if err != nil {
			logger.Error("failed to create bigquery client", "error", err)
			return err
		}
		defer func() {
			if err := deps.BQ.Close(); err != nil {
				logger.Error("failed to close bigquery client", "error", err)
			}
		}()
	}

	m := monitor.New(logger, monitor.Config{
		StatusInterval: cctx.Duration("status-interval"),
		PollInterval:   cctx.Duration("poll-interval"),
		FetchSize:      cctx.Int("fetch-size"),
		FetchTimeout:   15 * time.Second,
		BufferSize:     cctx.Int("buffer-size"),
		QueryRate:      cctx.Float64("query-rate"),
	}, deps)

	// Background sinks run until ctx is cancelled
	sinksDone := make(chan struct{})
	go func() {
		defer close(sinksDone)
		done := make(chan struct{}, 2)
		n := 0
		if deps.Store != nil {
			n++
			go func() { deps.Store.Run(ctx); done <- struct{}{} }()
		}
		if deps.BQ != nil {
			n++
			go func() { deps.BQ.Run(ctx); done <- struct{}{} }()
		}
		for i := 0; i < n; i++ {
			<-done
		}
	}()

	// Shut down when the push channel has been quiet for longer than the window
	shutdownLivenessChecker := make(chan struct{})
	livenessCheckerShutdown := make(chan struct{})
	go func() {
		defer close(livenessCheckerShutdown)
		window := cctx.Duration("liveness-window")
		if window <= 0 {
			<-shutdownLivenessChecker
			return
		}

		logger := logger.With("source", "liveness_checker")
		ticker := time.NewTicker(window)
		defer ticker.Stop()
		started := time.Now()

		for {
			select {
			case <-shutdownLivenessChecker:
				logger.Info("shutting down liveness checker")
				return
			case <-ticker.C:
				last := m.LastActivity()
				if last.IsZero() {
					last = started
				}
				if time.Since(last) > window {
					logger.Error("no push events within liveness window, shutting down for docker to restart me", "last_event", last)
					close(kill)
					<-shutdownLivenessChecker
					return
				}
				logger.Debug("push channel is live", "last_event", last)
			}
		}
	}()

	m.Start(ctx)

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = m.HTTPErrorHandler
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	e.Use(slogecho.New(logger))
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Namespace: "rental_monitor",
		HistogramOptsFunc: func(opts prometheus.HistogramOpts) prometheus.HistogramOpts {
			opts.Buckets = prometheus.ExponentialBuckets(0.00001, 2, 20)
			return opts
		},
	}))
	e.Use(middleware.Recover())

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/", func(c echo.Context) error {
		return c.String(http.StatusOK, "Rental Monitor")
	})
	m.RegisterRoutes(e)
	echopprof.Wrap(e)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cctx.Int("port")),
		Handler: e,
	}

	shutdownHTTPServer := make(chan struct{})
	httpServerShutdown := make(chan struct{})
	go func() {
		logger := logger.With("source", "http_server")

		logger.Info("http server listening on port", "port", cctx.Int("port"))

		go func() {
			if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
				logger.Error("failed to start http server", "error", err)
			}
		}()
		<-shutdownHTTPServer
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shut down http server", "error", err)
		}
		logger.Info("http server shut down")
		close(httpServerShutdown)
	}()

	// Trap SIGINT to trigger a shutdown.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-signals:
		logger.Info("received signal, shutting down")
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	case <-kill:
		logger.Info("shutting down due to liveness checker")
	}

	logger.Info("shutting down, waiting for routines to finish")
	close(shutdownLivenessChecker)
	close(shutdownHTTPServer)
	<-livenessCheckerShutdown
	<-httpServerShutdown

	stopCtx, stopDone := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopDone()
	if err := m.Stop(stopCtx); err != nil {
		logger.Error("failed to stop monitor", "error", err)
	}

	cancel()
	<-sinksDone
	if deps.Archive != nil {
		deps.Archive.Shutdown()
	}
	logger.Info("shutdown complete")

	return nil
}

package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"PredMarket/internal/config"
	"PredMarket/internal/market"
	"PredMarket/internal/observability"
	"PredMarket/internal/outbound"
	"PredMarket/internal/persistence"
	"PredMarket/internal/publish"
	"PredMarket/internal/query"
	"PredMarket/internal/server"
	"PredMarket/internal/store"
)

const outboundChanSize = 4096

func main() {
	configPath := flag.String("config", "", "path to TOML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		lg := observability.NewLogger("main")
		lg.Fatal().Err(err).Msg("load config")
	}
	if err := cfg.Validate(); err != nil {
		lg := observability.NewLogger("main")
		lg.Fatal().Err(err).Msg("invalid config")
	}

	logger := observability.NewLoggerWithLevel("main", observability.ParseLogLevel(cfg.LogLevel))
	logger.Info().Str("backend", cfg.Store.Backend).Msg("predmarket starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	metrics := observability.NewMetrics()
	health := observability.NewHealthChecker()

	errChan := make(chan error, 8)

	var workers sync.WaitGroup

	// --- Store ---
	var (
		st            store.Store
		logWorker     *persistence.LogWorker
		logChan       chan outbound.Envelope
		startSequence int64
	)
	switch cfg.Store.Backend {
	case "postgres":
		db, err := persistence.OpenPostgres(ctx, cfg.Postgres.DSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connect")
		}
		defer db.Close()
		logger.Info().Msg("postgres connected")

		if cfg.Postgres.RunMigrations {
			migrator := persistence.NewMigrator(db, cfg.Postgres.MigrationsDir, observability.NewLogger("migrate"))
			if err := migrator.Up(ctx); err != nil {
				logger.Fatal().Err(err).Msg("run migrations")
			}
		}

		st = persistence.NewPGStore(db)

		startSequence, err = persistence.LatestSequence(ctx, db)
		if err != nil {
			logger.Fatal().Err(err).Msg("read settlement log sequence")
		}

		logChan = make(chan outbound.Envelope, outboundChanSize)
		logWorker = persistence.NewLogWorker(
			db, logChan,
			cfg.Postgres.LogBatchSize, cfg.Postgres.LogFlush.Duration,
			observability.NewLogger("settlement-log"), metrics,
		)
		workers.Add(1)
		go func() {
			defer workers.Done()
			errChan <- logWorker.Run(ctx)
		}()

	default:
		st = store.NewMemoryStore()
	}

	// --- Outbound publisher ---
	var publishChan chan outbound.Envelope
	if cfg.NATS.Enabled {
		nc, js, err := publish.Connect(cfg.NATS.URL, observability.NewLogger("nats"))
		if err != nil {
			logger.Fatal().Err(err).Msg("nats connect")
		}
		defer nc.Close()
		logger.Info().Msg("nats connected")

		if err := publish.EnsureStream(ctx, js); err != nil {
			logger.Fatal().Err(err).Msg("ensure outbound stream")
		}

		publishChan = make(chan outbound.Envelope, outboundChanSize)
		publisher := publish.NewPublisher(js, publishChan, observability.NewLogger("publish"), metrics)
		workers.Add(1)
		go func() {
			defer workers.Done()
			errChan <- publisher.Run(ctx)
		}()
	}

	// --- Engine with outbound fan-out ---
	engineChan := make(chan outbound.Envelope, outboundChanSize)
	go fanOutEnvelopes(ctx, engineChan, logChan, publishChan)

	engine := market.NewEngine(st, observability.NewLoggerWithLevel("engine", observability.ParseLogLevel(cfg.LogLevel)), metrics, engineChan)
	if startSequence > 0 {
		engine.RestoreSequence(startSequence)
		logger.Info().Int64("sequence", startSequence).Msg("resumed outbound sequence from settlement log")
	}

	// --- Read cache ---
	var cache *query.EventCache
	if cfg.Redis.Enabled {
		rdb, err := query.ConnectRedis(ctx, cfg.Redis.Addr)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connect")
		}
		defer rdb.Close()
		logger.Info().Msg("redis connected")
		cache = query.NewEventCache(rdb, metrics)
	}
	queryService := query.NewService(st, cache)

	// --- HTTP API ---
	handlers := server.NewHandlers(engine, queryService, st, observability.NewLogger("api"))
	api := server.NewServer(server.Config{
		Addr:         cfg.Server.Addr,
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
	}, handlers, health, observability.NewLoggerWithLevel("http", observability.ParseLogLevel(cfg.LogLevel)))
	go func() {
		errChan <- api.Start()
	}()

	// --- Metrics server ---
	go runMetricsServer(ctx, cfg.Metrics.Addr, logger, errChan)

	health.SetReady(true)
	logger.Info().
		Str("http", cfg.Server.Addr).
		Str("metrics", cfg.Metrics.Addr).
		Msg("predmarket ready")

	// --- Wait for shutdown signal ---
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		if err != nil {
			logger.Error().Err(err).Msg("component failed, shutting down")
		}
	}

	health.SetReady(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
	defer shutdownCancel()

	if err := api.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}

	// Stop the fan-out and wait for the workers to flush what remains.
	close(engineChan)
	workersDone := make(chan struct{})
	go func() {
		workers.Wait()
		close(workersDone)
	}()
	select {
	case <-workersDone:
	case <-time.After(cfg.Server.ShutdownTimeout.Duration):
		logger.Warn().Msg("workers did not drain before shutdown deadline")
	}
	cancel()

	logger.Info().Msg("predmarket shutdown complete")
}

// fanOutEnvelopes copies engine envelopes to the settlement log and the
// publisher. The log channel send blocks so no audit row is lost; the
// publish channel send drops when full, matching the engine's own policy.
func fanOutEnvelopes(ctx context.Context, in <-chan outbound.Envelope, logOut, publishOut chan<- outbound.Envelope) {
	defer func() {
		if logOut != nil {
			close(logOut)
		}
		if publishOut != nil {
			close(publishOut)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-in:
			if !ok {
				return
			}
			if logOut != nil {
				select {
				case logOut <- env:
				case <-ctx.Done():
					return
				}
			}
			if publishOut != nil {
				select {
				case publishOut <- env:
				default:
				}
			}
		}
	}
}

func runMetricsServer(ctx context.Context, addr string, logger zerolog.Logger, errChan chan<- error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		srv.Shutdown(shutCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		errChan <- err
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"sora-dex-indexer/internal/aggregate"
	"sora-dex-indexer/internal/codec"
	"sora-dex-indexer/internal/config"
	"sora-dex-indexer/internal/extract"
	"sora-dex-indexer/internal/indexer"
	"sora-dex-indexer/internal/observability"
	"sora-dex-indexer/internal/pricing"
	"sora-dex-indexer/internal/publish"
	"sora-dex-indexer/internal/storage"
	chstore "sora-dex-indexer/internal/storage/clickhouse"
	"sora-dex-indexer/internal/storage/memory"
	"sora-dex-indexer/internal/storage/migrations"
	pgstore "sora-dex-indexer/internal/storage/postgres"
	"sora-dex-indexer/internal/substrate"
)

// flags holds command line overrides of the environment configuration.
type flags struct {
	clean       bool
	silent      bool
	begin       int64
	follow      bool
	useMemory   bool
	envFile     string
	metricsAddr string
}

func main() {
	var f flags
	flag.BoolVar(&f.clean, "clean", false, "Drop and recreate all tables before importing")
	flag.BoolVar(&f.silent, "silent", false, "Only log errors")
	flag.Int64Var(&f.begin, "begin", 0, "Start at this block instead of resuming (0 resumes)")
	flag.BoolVar(&f.follow, "follow", false, "Keep following the chain after reaching the head")
	flag.BoolVar(&f.useMemory, "use-memory", false, "Use in-memory storage instead of PostgreSQL")
	flag.StringVar(&f.envFile, "env-file", "", "Load environment from this file instead of ./.env")
	flag.StringVar(&f.metricsAddr, "metrics-addr", "", "Prometheus metrics HTTP address (overrides METRICS_ADDR)")
	flag.Parse()

	errLogger := log.New(os.Stderr, "[indexer] ", log.LstdFlags|log.Lshortfile)
	logger := log.New(os.Stdout, "[indexer] ", log.LstdFlags|log.Lshortfile)
	if f.silent {
		logger = log.New(io.Discard, "", 0)
	}

	cfg, err := config.Load(f.envFile)
	if err != nil {
		errLogger.Fatalf("Config: %v", err)
	}
	if f.metricsAddr != "" {
		cfg.Server.MetricsAddr = f.metricsAddr
	}
	if err := cfg.Validate(f.useMemory); err != nil {
		errLogger.Fatalf("Config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		select {
		case sig := <-sigCh:
			logger.Printf("Received signal %v, finishing the current block...", sig)
			cancel()
		case <-done:
			return
		}
		select {
		case sig := <-sigCh:
			errLogger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-done:
		}
	}()

	err = run(ctx, cfg, f, logger, errLogger)
	close(done)

	if err != nil && !errors.Is(err, context.Canceled) {
		errLogger.Fatalf("Error: %v", err)
	}
	logger.Println("Shutdown complete")
}

// run wires the indexer and runs it next to the metrics server.
func run(ctx context.Context, cfg *config.Config, f flags, logger, errLogger *log.Logger) error {
	stores, closeStores, err := openStores(ctx, cfg, f, logger)
	if err != nil {
		return err
	}
	defer closeStores()

	dialOpts := substrate.DialOptions{RateLimit: cfg.Node.RateLimit}
	dial := func(ctx context.Context, endpoint string) (substrate.Client, error) {
		c, err := substrate.Dial(ctx, endpoint, dialOpts)
		if err != nil {
			return nil, err
		}
		return c, nil
	}

	client, err := dial(ctx, cfg.Node.URL)
	if err != nil {
		return fmt.Errorf("connect to node %s: %w", cfg.Node.URL, err)
	}
	logger.Printf("Connected to %s", cfg.Node.URL)

	var priceCache pricing.Cache = pricing.NewMemoryCache()
	if cfg.Redis.Addr != "" {
		rc := pricing.NewRedisCache(pricing.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rc.Ping(ctx); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer rc.Close()
		priceCache = rc
		logger.Printf("Sharing prices through redis at %s", cfg.Redis.Addr)
	}
	oracle := pricing.NewOracle(client, pricing.Options{Cache: priceCache, Logger: logger})

	registry, err := extract.NewRegistry(extract.Options{
		Decoder:        codec.NewDecoder(codec.SchemaLegacy),
		Fees:           oracle,
		TechAccount:    cfg.Accounts.Tech,
		BuyBackAccount: cfg.Accounts.BuyBack,
		Logger:         errLogger,
	})
	if err != nil {
		return err
	}

	var publisher publish.Publisher = publish.Noop{}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = publish.NewKafkaPublisher(publish.KafkaConfig{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic})
		logger.Printf("Publishing operations to kafka topic %s", cfg.Kafka.Topic)
	}
	defer publisher.Close()

	syncer, err := indexer.NewSyncer(indexer.Options{
		Client: client,
		Reconnector: indexer.NewReconnector(indexer.ReconnectOptions{
			Endpoints:   cfg.Endpoints(),
			Dial:        dial,
			MaxAttempts: cfg.Sync.MaxReconnects,
			Delay:       time.Second,
			Logger:      errLogger,
		}),
		Stores:   stores,
		Registry: registry,
		Oracle:   oracle,
		Aggregator: aggregate.New(aggregate.Options{
			Tokens:     stores.Tokens,
			Pairs:      stores.Pairs,
			Operations: stores.Operations,
			Snapshots:  stores.Snapshots,
			Logger:     logger,
		}),
		Publisher:      publisher,
		Begin:          f.begin,
		ForceBegin:     f.begin > 0,
		Schema:         cfg.Node.Schema,
		KeyedSinceSpec: cfg.Node.KeyedSinceSpec,
		Follow:         f.follow,
		FollowInterval: cfg.Sync.FollowInterval,
		ProgressEvery:  int64(cfg.Sync.ProgressEvery),
		Logger:         logger,
		ErrorLogger:    errLogger,
	})
	if err != nil {
		return err
	}
	defer func() { _ = syncer.Client().Close() }()

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		defer stop()
		return syncer.Run(gctx)
	})

	if addr := cfg.Server.MetricsAddr; addr != "" {
		srv := &http.Server{Addr: addr, Handler: metricsMux()}
		g.Go(func() error {
			logger.Printf("Starting metrics server on %s", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// openStores opens PostgreSQL (or memory) and the optional ClickHouse
// snapshot store, applying migrations and --clean.
func openStores(ctx context.Context, cfg *config.Config, f flags, logger *log.Logger) (storage.Stores, func(), error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var stores storage.Stores
	if f.useMemory {
		logger.Println("Using in-memory storage")
		stores = memory.New()
		stores.Snapshots = nil
	} else {
		pool, err := pgstore.NewPool(ctx, cfg.Postgres.DSN)
		if err != nil {
			return stores, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		closers = append(closers, pool.Close)

		if f.clean {
			logger.Println("Dropping and recreating PostgreSQL tables")
			err = migrations.ResetPostgres(ctx, pool)
		} else {
			err = migrations.RunPostgresMigrations(ctx, pool)
		}
		if err != nil {
			closeAll()
			return stores, nil, err
		}

		stores = storage.Stores{
			Tokens:     pgstore.NewTokenStore(pool),
			Pairs:      pgstore.NewPairStore(pool),
			Operations: pgstore.NewOperationStore(pool),
		}
	}

	if cfg.ClickHouse.DSN != "" {
		conn, err := openClickhouse(ctx, cfg.ClickHouse.DSN, f.clean, logger)
		if err != nil {
			closeAll()
			return stores, nil, err
		}
		closers = append(closers, func() { _ = conn.Close() })
		stores.Snapshots = chstore.NewSnapshotStore(conn)
		logger.Println("Writing stats snapshots to ClickHouse")
	}

	return stores, closeAll, nil
}

func openClickhouse(ctx context.Context, dsn string, clean bool, logger *log.Logger) (*chstore.Conn, error) {
	conn, err := migrations.RunClickhouseMigrations(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("clickhouse: %w", err)
	}
	if !clean {
		return conn, nil
	}

	logger.Println("Dropping and recreating ClickHouse snapshot table")
	if err := migrations.ResetClickhouse(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	conn.Close()
	conn, err = migrations.RunClickhouseMigrations(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("clickhouse: %w", err)
	}
	return conn, nil
}

// outboxd is the outbox dispatcher daemon. It polls the outbox table
// for ready messages, delivers them through the in-process bus, and
// serves the operator endpoints. Horizontal scaling is starting another
// outboxd against the same database.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zerologr"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/enverbisevac/eventbox/admin"
	"github.com/enverbisevac/eventbox/bus"
	dedupredis "github.com/enverbisevac/eventbox/dedup/redis"
	"github.com/enverbisevac/eventbox/outbox"
	outboxpgx "github.com/enverbisevac/eventbox/outbox/pgx"
)

func main() {
	zl := zerolog.New(os.Stderr).With().Timestamp().Logger()
	log := zerologr.New(&zl)

	if err := godotenv.Load(); err != nil {
		log.V(1).Info("no .env file found")
	}

	cfg, err := LoadConfig()
	if err != nil {
		fatal(log, err, "load config")
	}
	if !cfg.Debug {
		zl = zl.Level(zerolog.InfoLevel)
		log = zerologr.New(&zl)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logr.NewContext(ctx, log)

	if err := run(ctx, cfg, log); err != nil {
		fatal(log, err, "outboxd failed")
	}
	log.Info("outboxd stopped")
}

func run(ctx context.Context, cfg *Config, log logr.Logger) error {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return err
	}
	log.Info("database connection established")

	store := outboxpgx.New(pool,
		outboxpgx.WithTableName(cfg.Table),
		outboxpgx.WithMaxAttempts(cfg.MaxAttempts),
		outboxpgx.WithBackoffBase(cfg.BackoffBase),
		outboxpgx.WithBackoffMax(cfg.BackoffMax),
	)

	b := bus.New()
	b.Subscribe(bus.TopicAll, func(ctx context.Context, eventType string, _ map[string]any, externalID string) error {
		logr.FromContextOrDiscard(ctx).V(1).Info("delivered", "eventType", eventType, "externalID", externalID)
		return nil
	})

	adapterOpts := []outbox.AdapterOption{
		outbox.WithDispatchTimeout(cfg.DispatchTimeout),
	}
	if cfg.RedisURL != "" {
		redisOpts, err := goredis.ParseURL(cfg.RedisURL)
		if err != nil {
			return err
		}
		client := goredis.NewClient(redisOpts)
		defer client.Close()
		adapterOpts = append(adapterOpts, outbox.WithDeduper(dedupredis.New(client)))
		log.Info("redis dedup enabled")
	}
	adapter := outbox.NewBusAdapter(b, adapterOpts...)

	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < cfg.Workers; i++ {
		dispatcher := outbox.NewDispatcher(store, adapter,
			outbox.WithBatchSize(cfg.BatchSize),
			outbox.WithPollInterval(cfg.PollInterval),
			outbox.WithClaimTimeout(cfg.ClaimTimeout),
		)
		g.Go(func() error {
			dispatcher.Start(gctx)
			<-gctx.Done()
			dispatcher.Stop()
			return nil
		})
	}
	log.Info("dispatchers started", "workers", cfg.Workers)

	srv := &http.Server{
		Addr:    cfg.AdminAddr,
		Handler: admin.Handler(store),
	}
	g.Go(func() error {
		log.Info("admin listening", "addr", cfg.AdminAddr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func fatal(log logr.Logger, err error, msg string) {
	log.Error(err, msg)
	os.Exit(1)
}

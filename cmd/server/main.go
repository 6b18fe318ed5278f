// Command server runs the custodia identity registry.
//
// Wiring lives here; business logic stays in internal services. The store is
// PostgreSQL when DATABASE_URL is set, in-memory otherwise. Redis and Kafka
// are optional and degrade to no cache and an in-process audit store.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"custodia/internal/http"
	"custodia/internal/identity/cache"
	"custodia/internal/identity/handler"
	"custodia/internal/identity/metrics"
	"custodia/internal/identity/service"
	identitystore "custodia/internal/identity/store"
	"custodia/internal/platform/config"
	"custodia/internal/platform/httpserver"
	"custodia/internal/platform/logger"
	"custodia/internal/platform/postgres"
	platformredis "custodia/internal/platform/redis"
	"custodia/internal/platform/token"
	auditkafka "custodia/pkg/platform/audit/kafka"
	"custodia/pkg/platform/audit/publisher"
	auditmemory "custodia/pkg/platform/audit/store/memory"
)

func main() {
	// Optional .env for local development; absence is not an error.
	_ = godotenv.Load()

	log := logger.New()
	slog.SetDefault(log)

	cfg, err := config.FromEnv()
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Server, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	healthChecks := map[string]httpapi.HealthCheck{}

	// Store: PostgreSQL when configured, in-memory otherwise.
	var identities service.IdentityStore
	serviceOpts := []service.Option{service.WithLogger(log)}
	if cfg.DatabaseURL != "" {
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := postgres.Migrate(ctx, db); err != nil {
			return err
		}
		identities = identitystore.NewPostgres(db, cfg.MaxIdentities)
		serviceOpts = append(serviceOpts, service.WithStoreTx(service.NewSQLTx(db)))
		healthChecks["postgres"] = db.PingContext
		log.Info("using postgres identity store")
	} else {
		identities = identitystore.NewInMemory(cfg.MaxIdentities)
		log.Info("using in-memory identity store")
	}

	// Optional redis read cache.
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		serviceOpts = append(serviceOpts,
			service.WithCache(cache.New(redisClient.Client, config.RegistryCacheTTL, log)))
		healthChecks["redis"] = redisClient.Health
		log.Info("identity cache enabled")
	}

	// Audit: Kafka sink when brokers are configured, in-process store otherwise.
	var auditPub *publisher.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		sink, err := auditkafka.New(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return err
		}
		defer sink.Close()
		auditPub = publisher.NewPublisher(sink,
			publisher.WithAsyncBuffer(1024),
			publisher.WithLogger(log),
		)
		log.Info("audit events routed to kafka", "brokers", cfg.Kafka.Brokers)
	} else {
		auditPub = publisher.NewPublisher(auditmemory.NewInMemoryStore(), publisher.WithLogger(log))
	}
	defer auditPub.Close()
	serviceOpts = append(serviceOpts,
		service.WithAuditPublisher(auditPub),
		service.WithMetrics(metrics.New()),
	)

	registry := service.New(identities, cfg.MaxIdentities, serviceOpts...)

	router := httpapi.NewRouter(httpapi.Dependencies{
		Registry:        handler.New(registry, log),
		CallerValidator: token.NewService(cfg.JWTSigningKey),
		AdminTokenHash:  cfg.AdminTokenHash,
		HealthChecks:    healthChecks,
		Logger:          log,
	})

	srv := httpserver.New(cfg.Addr, router)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting custodia registry", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/sync/errgroup"

	"concord/internal/audit"
	audithandler "concord/internal/audit/handler"
	auditmem "concord/internal/audit/store/memory"
	auditpg "concord/internal/audit/store/postgres"
	"concord/internal/decision/downstream"
	decisionhandler "concord/internal/decision/handler"
	decisionmetrics "concord/internal/decision/metrics"
	decisionservice "concord/internal/decision/service"
	decisionmem "concord/internal/decision/store/memory"
	decisionpg "concord/internal/decision/store/postgres"
	delegationhandler "concord/internal/delegation/handler"
	delegationservice "concord/internal/delegation/service"
	delegationstore "concord/internal/delegation/store"
	federationhandler "concord/internal/federation/handler"
	federationservice "concord/internal/federation/service"
	federationstore "concord/internal/federation/store"
	httpapi "concord/internal/http"
	permissionhandler "concord/internal/permission/handler"
	permissionmetrics "concord/internal/permission/metrics"
	permissionservice "concord/internal/permission/service"
	"concord/internal/permission/store/override"
	"concord/internal/permission/store/roleperm"
	"concord/internal/permission/store/usage"
	"concord/internal/permission/store/window"
	"concord/internal/platform/config"
	"concord/internal/platform/httpserver"
	"concord/internal/platform/logger"
	platformredis "concord/internal/platform/redis"
	"concord/internal/token"
)

// main wires dependencies and owns the process lifecycle. Business logic
// lives in the internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if err := run(cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Server, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		var err error
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			return err
		}
		log.Info("using postgres stores")
	} else {
		log.Warn("DATABASE_URL not set, running fully in memory")
	}

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Audit pipeline: durable store, publisher, sink fan-out worker.
	var auditStore audit.Store
	if db != nil {
		auditStore = auditpg.New(db)
	} else {
		auditStore = auditmem.New()
	}
	auditPub := audit.NewPublisher(auditStore, log)

	var sinks []audit.Sink
	kafkaSink, err := audit.NewKafkaSink(cfg.KafkaBrokers, cfg.AuditTopic, log)
	if err != nil {
		return err
	}
	if kafkaSink != nil {
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := kafkaSink.Close(closeCtx); err != nil {
				log.Warn("kafka sink close failed", "error", err)
			}
		}()
		sinks = append(sinks, kafkaSink)
		log.Info("audit kafka fan-out enabled", "topic", cfg.AuditTopic)
	}
	auditWorker := audit.NewWorker(auditPub.Outbox(), log, sinks...)

	// Module stores.
	var (
		rolePerms permissionservice.RolePermissionStore
		overrides permissionservice.OverrideStore
		windows   permissionservice.WindowStore
		fedStore  federationservice.Store
		delStore  delegationservice.Store
		decStore  decisionservice.Store
	)
	if db != nil {
		rolePerms = roleperm.NewPostgres(db)
		overrides = override.NewPostgres(db)
		windows = window.NewPostgres(db)
		fedStore = federationstore.NewPostgres(db)
		delStore = delegationstore.NewPostgres(db)
		decStore = decisionpg.New(db)
	} else {
		rolePerms = roleperm.NewInMemory()
		overrides = override.NewInMemory()
		windows = window.NewInMemory()
		fedStore = federationstore.NewInMemory()
		delStore = delegationstore.NewInMemory()
		decStore = decisionmem.New()
	}

	var usageStore permissionservice.UsageStore
	if redisClient != nil {
		usageStore = usage.NewRedis(redisClient.Client)
		log.Info("using redis usage counters")
	} else {
		usageStore = usage.NewInMemory()
	}

	// Services.
	fedService, err := federationservice.New(fedStore,
		federationservice.WithLogger(log),
		federationservice.WithAuditPublisher(auditPub),
	)
	if err != nil {
		return err
	}

	delService, err := delegationservice.New(delStore, usageStore,
		delegationservice.WithLogger(log),
		delegationservice.WithAuditPublisher(auditPub),
	)
	if err != nil {
		return err
	}

	permService, err := permissionservice.New(rolePerms, overrides, windows, usageStore, delService, fedService,
		permissionservice.WithLogger(log),
		permissionservice.WithAuditPublisher(auditPub),
		permissionservice.WithMetrics(permissionmetrics.New()),
	)
	if err != nil {
		return err
	}

	var signer interface {
		decisionservice.SessionCreator
		decisionservice.RecoveryExecutor
	}
	if cfg.SignerURL != "" {
		signer = downstream.NewClient(cfg.SignerURL)
	} else {
		log.Warn("SIGNER_URL not set, using in-process signer")
		signer = downstream.NewLocal(log)
	}

	decService, err := decisionservice.New(decStore, permService, fedService, signer, signer,
		decisionservice.WithLogger(log),
		decisionservice.WithAuditPublisher(auditPub),
		decisionservice.WithMetrics(decisionmetrics.New()),
	)
	if err != nil {
		return err
	}

	// HTTP surface.
	tokenService := token.NewService(cfg.JWTSigningKey, cfg.JWTIssuer)
	checks := map[string]httpapi.HealthChecker{}
	if redisClient != nil {
		checks["redis"] = redisClient
	}
	if db != nil {
		checks["postgres"] = dbHealth{db}
	}

	router := httpapi.NewRouter(log, tokenService, checks,
		permissionhandler.New(permService, log),
		delegationhandler.New(delService, log),
		decisionhandler.New(decService, log),
		audithandler.New(auditPub, log),
		federationhandler.New(fedService, log),
	)
	srv := httpserver.New(cfg.Addr, router)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting concord", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return auditWorker.Run(ctx)
	})

	// Expired pending decisions are also swept lazily on read; the ticker
	// keeps abandoned ones from lingering forever.
	g.Go(func() error {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if swept, err := decService.SweepExpired(ctx, 100); err != nil {
					log.ErrorContext(ctx, "decision expiry sweep failed", "error", err)
				} else if swept > 0 {
					log.InfoContext(ctx, "swept expired decisions", "count", swept)
				}
			}
		}
	})

	return g.Wait()
}

type dbHealth struct{ db *sql.DB }

func (h dbHealth) Health(ctx context.Context) error { return h.db.PingContext(ctx) }

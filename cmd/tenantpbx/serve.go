package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/tenantpbx/tenantpbx/internal/api"
	"github.com/tenantpbx/tenantpbx/internal/cache"
	"github.com/tenantpbx/tenantpbx/internal/callcontrol"
	"github.com/tenantpbx/tenantpbx/internal/database"
	"github.com/tenantpbx/tenantpbx/internal/dialplan"
	"github.com/tenantpbx/tenantpbx/internal/metrics"
	"github.com/tenantpbx/tenantpbx/internal/presence"
	"github.com/tenantpbx/tenantpbx/internal/rules"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 15 * time.Second
	sweepInterval   = time.Minute
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the call-control and dialplan HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger

	logger.Info("starting tenantpbx",
		"http_port", cfg.HTTPPort,
		"db_driver", cfg.DBDriver,
		"presence", cfg.Presence,
		"default_context", cfg.DefaultContext,
	)

	db, err := a.openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	secret, err := cfg.JWTSecretBytes()
	if err != nil {
		return err
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb, err = newRedisClient(ctx, cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer func() { _ = rdb.Close() }()
	}

	var documents cache.Documents = cache.Nop{}
	if rdb != nil {
		documents = cache.NewRedis(rdb, "", 0)
	}

	publisher, err := a.publisher()
	if err != nil {
		return err
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error("closing event publisher", "error", err)
		}
	}()

	tenants := database.NewTenantRepository(db)
	ruleRepo := database.NewDialplanRuleRepository(db)
	defaultRepo := database.NewDefaultRuleRepository(db)
	boxes := database.NewVoicemailBoxRepository(db)

	regs := registrationBackend(cfg.Presence, database.NewRegistrationRepository(db), rdb)

	recorder := metrics.NewRecorder()
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.NewCollector(regs.counter, tenants, time.Now()),
	)
	recorder.MustRegister(registry)

	ringGroups := database.NewRingGroupRepository(db)
	ivrMenus := database.NewIVRMenuRepository(db)
	checker := presence.NewChecker(regs.registrar, ringGroups, ivrMenus, boxes)
	resolver := dialplan.NewResolver(ruleRepo, defaultRepo, checker, dialplan.Options{
		DefaultContext: cfg.DefaultContext,
		LookupTimeout:  cfg.LookupTimeout,
		Observer:       recorder,
	}, logger)
	failures := callcontrol.NewFailureHandler(resolver, boxes, cfg.FailoverContext, cfg.LookupTimeout, logger)

	handler := api.NewServer(api.Deps{
		Dispatcher: callcontrol.NewDispatcher(tenants, failures, recorder, cfg.LookupTimeout, logger),
		Resolver:   resolver,
		Rules:      rules.NewService(ruleRepo, defaultRepo, cfg.DefaultContext, documents, publisher, logger),
		Tenants:    tenants,
		Registrar:  regs.registrar,

		RingGroups:     ringGroups,
		IVRMenus:       ivrMenus,
		VoicemailBoxes: boxes,

		Documents: documents,
		Observer:  recorder,
		Gatherer:  registry,
		Health:    db.PingContext,
		JWTSecret: secret,
		RateLimit: cfg.RateLimit,
	}, logger)
	defer handler.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if regs.sweeper != nil {
		g.Go(func() error {
			sweepRegistrations(gctx, regs.sweeper, sweepInterval, a.logger)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down http server")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("tenantpbx stopped")
	return nil
}

func newRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     20,
	})

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return client, nil
}

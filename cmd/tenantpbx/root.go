package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/tenantpbx/tenantpbx/internal/cache"
	"github.com/tenantpbx/tenantpbx/internal/config"
	"github.com/tenantpbx/tenantpbx/internal/database"
	"github.com/tenantpbx/tenantpbx/internal/events"
	"github.com/tenantpbx/tenantpbx/internal/rules"
)

// app carries the resolved configuration shared by every subcommand.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "tenantpbx",
		Short:         "Multi-tenant dialplan resolution and call-control engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.cfg.Resolve(cmd.Flags()); err != nil {
				return err
			}
			a.logger = slog.New(a.cfg.SlogHandler(os.Stderr))
			slog.SetDefault(a.logger)
			return nil
		},
	}
	a.cfg = config.Bind(root.PersistentFlags())

	root.AddCommand(
		newServeCmd(a),
		newMigrateCmd(a),
		newTenantCmd(a),
		newTokenCmd(a),
		newImportCmd(a),
		newRenderCmd(a),
		newCheckCmd(a),
	)
	return root
}

// openDB opens the configured rule store and applies pending migrations.
func (a *app) openDB() (*database.DB, error) {
	db, err := database.Open(database.Options{
		Driver:  a.cfg.DBDriver,
		DataDir: a.cfg.DataDir,
		DSN:     a.cfg.DBDSN,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

// publisher returns the kafka publisher when brokers are configured and a
// log-only publisher otherwise.
func (a *app) publisher() (events.Publisher, error) {
	brokers := a.cfg.Brokers()
	if len(brokers) == 0 {
		return events.NewLogPublisher(a.logger), nil
	}
	p, err := events.NewKafkaPublisher(events.KafkaConfig{
		Brokers: brokers,
		Topic:   a.cfg.KafkaTopic,
	})
	if err != nil {
		return nil, fmt.Errorf("creating kafka publisher: %w", err)
	}
	a.logger.Info("publishing rule changes to kafka", "brokers", brokers, "topic", a.cfg.KafkaTopic)
	return p, nil
}

// ruleService builds the rule service used by the offline commands. When
// redis is configured their edits invalidate the shared document cache the
// same way the server's do. The returned func releases the collaborators.
func (a *app) ruleService(ctx context.Context, db *database.DB) (*rules.Service, func(), error) {
	publisher, err := a.publisher()
	if err != nil {
		return nil, nil, err
	}

	var documents cache.Documents = cache.Nop{}
	var rdb *redis.Client
	if a.cfg.RedisAddr != "" {
		if rdb, err = newRedisClient(ctx, a.cfg.RedisAddr); err != nil {
			_ = publisher.Close()
			return nil, nil, err
		}
		documents = cache.NewRedis(rdb, "", 0)
	}

	svc := rules.NewService(
		database.NewDialplanRuleRepository(db),
		database.NewDefaultRuleRepository(db),
		a.cfg.DefaultContext,
		documents,
		publisher,
		a.logger,
	)
	release := func() {
		if err := publisher.Close(); err != nil {
			a.logger.Error("closing event publisher", "error", err)
		}
		if rdb != nil {
			_ = rdb.Close()
		}
	}
	return svc, release, nil
}

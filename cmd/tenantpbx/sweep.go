package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/tenantpbx/tenantpbx/internal/database"
	"github.com/tenantpbx/tenantpbx/internal/metrics"
	"github.com/tenantpbx/tenantpbx/internal/presence"
)

// registrationStore is the configured registration backend. counter and
// sweeper are nil for Redis, whose hashes expire on their own and are not
// counted.
type registrationStore struct {
	registrar presence.Registrar
	counter   metrics.RegistrationCounter
	sweeper   expirer
}

// registrationBackend selects the registration backend for mode.
func registrationBackend(mode string, repo database.RegistrationRepository, rdb presence.RedisClient) registrationStore {
	if mode == "redis" {
		return registrationStore{registrar: presence.NewRedisRegistrar(rdb, "")}
	}
	return registrationStore{
		registrar: presence.NewSQLRegistrar(repo),
		counter:   repo,
		sweeper:   repo,
	}
}

// expirer deletes registrations whose expiry has passed.
type expirer interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// sweepRegistrations removes expired SQL registrations every interval
// until ctx is done. Redis registrations expire on their own.
func sweepRegistrations(ctx context.Context, repo expirer, interval time.Duration, logger *slog.Logger) {
	logger = logger.With("subsystem", "sweeper")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := repo.DeleteExpired(ctx)
			if err != nil {
				logger.Error("deleting expired registrations", "error", err)
				continue
			}
			if n > 0 {
				logger.Debug("expired registrations removed", "count", n)
			}
		}
	}
}

// Package registry keeps the push subscription registered by each chat user.
//
// A user owns at most one subscription; registering a new one replaces the old record
// entirely. All backends are safe for concurrent use.
package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"webchat-push-bot/config"
	"webchat-push-bot/internal/db"
	"webchat-push-bot/internal/model"
)

// ErrUnknownDriver is returned by Open for an unsupported registry.driver value.
var ErrUnknownDriver = errors.New("unknown registry driver")

// Registry defines the operations on the per-user subscription registry.
type Registry interface {
	// Upsert stores sub for userID, replacing any previous record.
	Upsert(ctx context.Context, userID string, sub model.Subscription) error
	// Lookup returns the subscription for userID. A miss is reported with found == false.
	Lookup(ctx context.Context, userID string) (sub model.Subscription, found bool, err error)
	// Forget removes the subscription of userID only while it still points at endpoint.
	Forget(ctx context.Context, userID, endpoint string) (removed bool, err error)
	// Close releases the backend's resources.
	Close() error
}

// Open builds the registry selected by cfg.Registry.Driver.
func Open(ctx context.Context, cfg *config.Config, log zerolog.Logger) (Registry, error) {
	switch cfg.Registry.Driver {
	case "", "memory":
		log.Info().Str("driver", "memory").Msg("subscription registry ready")
		return NewMemory(), nil
	case "gorm":
		gormDB, err := db.Init(&cfg.Database, log)
		if err != nil {
			return nil, fmt.Errorf("open gorm registry: %w", err)
		}
		log.Info().Str("driver", "gorm").Str("dialect", cfg.Database.Dialect).Msg("subscription registry ready")
		return NewGorm(gormDB), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("open redis registry at %s: %w", cfg.Redis.Addr, err)
		}
		log.Info().Str("driver", "redis").Str("addr", cfg.Redis.Addr).Msg("subscription registry ready")
		return NewRedis(client, cfg.Redis.KeyPrefix), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Registry.Driver)
	}
}

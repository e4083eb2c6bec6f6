// Package store provides the append-only chat turn log and its backends.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashureev/chat-relay/internal/config"
	"github.com/ashureev/chat-relay/internal/domain"
)

// ErrStorageUnavailable is wrapped by every error caused by the backing store
// failing to persist or read turns.
var ErrStorageUnavailable = errors.New("storage unavailable")

// Store is the durable, ordered log of chat turns.
type Store interface {
	// Append assigns the next ID and a timestamp, persists the turn and
	// returns the stored representation.
	Append(ctx context.Context, author domain.Author, text string) (*domain.Turn, error)

	// ListAll returns every stored turn in insertion order.
	ListAll(ctx context.Context) ([]domain.Turn, error)

	// ListSince returns turns with an ID greater than afterID, in order.
	ListSince(ctx context.Context, afterID int64) ([]domain.Turn, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend.
	Close() error
}

// Open builds the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite, "":
		return NewSQLite(cfg.DBPath)
	case config.DriverMemory:
		return NewMemory(), nil
	case config.DriverPostgres:
		return NewPostgres(ctx, cfg.DatabaseURL)
	case config.DriverRedis:
		return NewRedis(ctx, cfg.RedisURL, cfg.RedisKeyPrefix)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}

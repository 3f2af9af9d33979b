package storage

import (
	"context"
	"fmt"

	"github.com/rewired-gh/econwatch/internal/config"
)

// Open returns the event store selected by cfg.Driver
func Open(ctx context.Context, cfg config.StorageConfig) (EventStore, error) {
	switch cfg.Driver {
	case "sqlite", "":
		return New(cfg.DBPath)
	case "postgres":
		return NewPostgres(ctx, cfg.PostgresURL)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

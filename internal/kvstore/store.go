// Package kvstore provides the agent's durable key-value persistence. The
// catalog, changelog marker, and device document are JSON values stored under
// fixed string keys; the backend is selected by configuration.
package kvstore

import (
	"context"
	"fmt"
)

// Driver names accepted by Open.
const (
	DriverFile     = "file"
	DriverPostgres = "postgres"
)

// Store is an opaque durable store keyed by string. Values are opaque bytes;
// every backend must return ErrKeyNotFound from Get for absent keys and treat
// Delete of an absent key as a no-op.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

// Config selects and parameterizes a Store backend.
type Config struct {
	Driver   string
	Dir      string
	Postgres PostgresConfig
}

// Open builds the configured Store. An empty driver means the file backend.
func Open(ctx context.Context, cfg *Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverFile:
		return OpenFile(cfg.Dir)
	case DriverPostgres:
		return OpenPostgres(ctx, cfg.Postgres)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

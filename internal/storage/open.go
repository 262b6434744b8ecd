package storage

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/p-n-ai/pai-academy/internal/platform/config"
)

// Deps carries the clients a network backend needs. Only the client for the
// selected backend has to be set.
type Deps struct {
	Pool  *pgxpool.Pool
	Redis *redis.Client
}

// Open returns the KV selected by cfg.Backend.
func Open(cfg config.StorageConfig, deps Deps) (KV, error) {
	var (
		kv  KV
		err error
	)
	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemoryKV(), nil
	case BackendFile:
		kv, err = NewFileKV(cfg.Dir)
	case BackendRedis:
		kv, err = NewRedisKV(deps.Redis, cfg.Prefix)
	case BackendPostgres:
		kv, err = NewPostgresKV(deps.Pool, cfg.Prefix)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s storage: %w", cfg.Backend, err)
	}
	return kv, nil
}

// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"fmt"
	"strings"
)

// Logical keys of the persisted session state.
const (
	KeyCrawlParams    = "crawl_params"
	KeyHiddenResults  = "hidden_results"
	KeyPublicResults  = "public_results"
	KeyFavorites      = "favorites"
	KeyCampaignAlarms = "campaign_alarms"
)

// Store is a durable key/value mirror of the session state.
// Values are overwritten wholesale on every Put.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Config selects and configures a Store backend.
type Config struct {
	Driver        string
	DatabasePath  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// Open creates the Store named by cfg.Driver ("sqlite" when empty).
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite", "sqlite3":
		return NewSQLite(cfg.DatabasePath)
	case "redis":
		return NewRedis(ctx, RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

// Defaults applied when the corresponding variable is unset.
const (
	DefaultStreamURL        = "wss://campaign-crawler-app.onrender.com/ws/crawl"
	DefaultDatabasePath     = "./data/campaign_watch.db"
	DefaultTimezone         = "Asia/Seoul"
	DefaultAlarmTick        = 30 * time.Second
	DefaultSnapshotInterval = time.Minute
	DefaultSnapshotSite     = "dbg"
	DefaultTelegramRate     = 20
)

// Config holds the application configuration.
type Config struct {
	StreamURL     string
	StreamOrigin  string
	SessionCookie string

	StorageDriver string
	DatabasePath  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	LogLevel string

	TelegramBotToken string
	TelegramRate     int
	AllowedUsers     []int64
	NotifyChatIDs    []int64

	AlarmTick     time.Duration
	AnchorYear    int
	Timezone      string
	DesktopNotify bool

	SnapshotURL      string
	SnapshotSite     string
	SnapshotInterval time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		StreamURL:        envOr("STREAM_URL", DefaultStreamURL),
		StreamOrigin:     os.Getenv("STREAM_ORIGIN"),
		SessionCookie:    os.Getenv("SESSION_COOKIE"),
		StorageDriver:    strings.ToLower(envOr("STORAGE_DRIVER", "sqlite")),
		DatabasePath:     envOr("DATABASE_PATH", DefaultDatabasePath),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		LogLevel:         envOr("LOG_LEVEL", "info"),
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		Timezone:         envOr("TIMEZONE", DefaultTimezone),
		SnapshotURL:      os.Getenv("SNAPSHOT_URL"),
		SnapshotSite:     envOr("SNAPSHOT_SITE", DefaultSnapshotSite),
	}

	switch cfg.StorageDriver {
	case "sqlite", "redis":
	default:
		return nil, fmt.Errorf("invalid STORAGE_DRIVER %q, use sqlite or redis", cfg.StorageDriver)
	}
	if cfg.StorageDriver == "redis" && cfg.RedisAddr == "" {
		return nil, fmt.Errorf("REDIS_ADDR is required when STORAGE_DRIVER=redis")
	}

	var err error
	if cfg.RedisDB, err = envInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.AnchorYear, err = envInt("ANCHOR_YEAR", 0); err != nil {
		return nil, err
	}
	if cfg.TelegramRate, err = envInt("TELEGRAM_RATE", DefaultTelegramRate); err != nil {
		return nil, err
	}
	if cfg.TelegramRate < 1 {
		return nil, fmt.Errorf("TELEGRAM_RATE must be positive")
	}
	if cfg.AlarmTick, err = envDuration("ALARM_TICK", DefaultAlarmTick); err != nil {
		return nil, err
	}
	if cfg.SnapshotInterval, err = envDuration("SNAPSHOT_INTERVAL", DefaultSnapshotInterval); err != nil {
		return nil, err
	}
	if cfg.DesktopNotify, err = envBool("DESKTOP_NOTIFY"); err != nil {
		return nil, err
	}
	if cfg.AllowedUsers, err = envIDs("ALLOWED_USERS"); err != nil {
		return nil, err
	}
	if cfg.NotifyChatIDs, err = envIDs("NOTIFY_CHAT_IDS"); err != nil {
		return nil, err
	}

	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", cfg.Timezone, err)
	}

	return cfg, nil
}

// Location returns the time zone participation times are expressed in.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	for _, id := range c.AllowedUsers {
		if id == userID {
			return true
		}
	}
	return false
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return d, nil
}

func envBool(key string) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return b, nil
}

func envIDs(key string) ([]int64, error) {
	var ids []int64
	raw := os.Getenv(key)
	if raw == "" {
		return nil, nil
	}
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ID %q in %s: %w", s, key, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "sessionbot/pkg/logx"
)

// Store is the persistence API used by the poll engine, the reconciler's
// dedup bookkeeping, and the runtime settings overlay.
type Store interface {
	// SavePoll upserts a poll by id.
	SavePoll(ctx context.Context, p PollRecord) error
	// ActivePoll returns the most recently opened non-closed poll.
	ActivePoll(ctx context.Context) (PollRecord, bool, error)
	// Poll returns a poll by id.
	Poll(ctx context.Context, id string) (PollRecord, bool, error)

	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
	AllSettings(ctx context.Context) (map[string]string, error)

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

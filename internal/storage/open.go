package storage

import (
	"context"
	"errors"
	"strings"

	logx "serverwatch/pkg/logx"
)

// Store is the persistence API used by the cycle runner and the status API.
type Store interface {
	AppendCycle(ctx context.Context, r CycleRecord) error
	// RecentCycles returns up to n records, newest first.
	RecentCycles(ctx context.Context, n int) ([]CycleRecord, error)
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
	if cfg.Keep <= 0 {
		cfg.Keep = DefaultKeep
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// ValidDriver reports whether driver is accepted by Open.
func ValidDriver(driver string) bool {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "none", "file", "sqlite", "sqlite3":
		return true
	}
	return false
}

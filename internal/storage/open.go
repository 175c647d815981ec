package storage

import (
	"context"
	"fmt"
	"strings"

	logx "gamebot/pkg/logx"
)

// Open initializes the configured store. An empty driver selects "memory",
// which is what tests and library callers get; loaded configs default to sqlite.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "memory", "mem":
		return NewMemory(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(ctx, cfg, log)
	case "redis":
		return openRedis(ctx, cfg, log)
	default:
		return nil, fmt.Errorf("%w: %s", ErrBadDriver, driver)
	}
}

package database

import (
	"context"
	"fmt"

	"github.com/paralela17-sudo/volatile-trader-app-sub000/internal/logging"
)

// Open returns the TradeLog selected by cfg.Driver. PostgreSQL connections
// are migrated before use.
func Open(ctx context.Context, cfg Config, logger *logging.Logger) (TradeLog, error) {
	switch cfg.Driver {
	case "", "memory":
		logger.Warn("Using in-memory trade log; trades are lost on restart")
		return NewMemoryStore(), nil
	case "sqlite":
		path := cfg.SQLitePath
		if path == "" {
			path = "trades.db"
		}
		return NewSQLiteStore(path)
	case "postgres":
		db, err := NewDB(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		if err := db.RunMigrations(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return NewRepository(db), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/foxzi/pickup/internal/config"
	"github.com/foxzi/pickup/internal/ledger"
	"github.com/foxzi/pickup/internal/storage"
	"github.com/foxzi/pickup/internal/template"
)

// Storage holds the stores of the configured backend
type Storage struct {
	Templates template.Store
	Ledger    ledger.Ledger
	Lease     ledger.Lease

	// Path is the database file, empty for postgres
	Path  string
	close func()
}

// Close releases the backend connection
func (s *Storage) Close() {
	if s.close != nil {
		s.close()
	}
}

// OpenStorage opens the backend selected by cfg.Storage.Backend
func OpenStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Storage, error) {
	if err := cfg.RequireStorage(); err != nil {
		return nil, err
	}

	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		pool, err := storage.OpenPostgres(ctx, cfg.Storage.DSN)
		if err != nil {
			return nil, err
		}
		logger.Info("storage opened", "backend", "postgres")
		return &Storage{
			Templates: template.NewPostgresStore(pool, logger.With("component", "templates")),
			Ledger:    ledger.NewPostgresLedger(pool, logger.With("component", "ledger")),
			Lease:     ledger.NewPostgresLease(pool),
			close:     pool.Close,
		}, nil

	case config.BackendSQLite:
		db, err := storage.OpenSQLite(ctx, cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		logger.Info("storage opened", "backend", "sqlite", "path", cfg.Storage.Path)
		return &Storage{
			Templates: template.NewSQLiteStore(db, logger.With("component", "templates")),
			Ledger:    ledger.NewSQLiteLedger(db, logger.With("component", "ledger")),
			Lease:     ledger.NewSQLiteLease(db),
			Path:      cfg.Storage.Path,
			close: func() {
				if err := db.Close(); err != nil {
					logger.Error("storage close error", "error", err)
				}
			},
		}, nil

	default:
		db, err := storage.OpenBolt(cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		closeDB := func() {
			if err := db.Close(); err != nil {
				logger.Error("storage close error", "error", err)
			}
		}

		templates, err := template.NewBoltStore(db, logger.With("component", "templates"))
		if err != nil {
			closeDB()
			return nil, err
		}
		l, err := ledger.NewBoltLedger(db, logger.With("component", "ledger"))
		if err != nil {
			closeDB()
			return nil, err
		}
		lease, err := ledger.NewBoltLease(db)
		if err != nil {
			closeDB()
			return nil, fmt.Errorf("failed to create run lease: %w", err)
		}

		logger.Info("storage opened", "backend", "bolt", "path", cfg.Storage.Path)
		return &Storage{
			Templates: templates,
			Ledger:    l,
			Lease:     lease,
			Path:      cfg.Storage.Path,
			close:     closeDB,
		}, nil
	}
}

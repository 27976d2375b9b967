package store

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"classledger/internal/config"
	"classledger/internal/docstore"
)

const (
	badgerGCInterval = 5 * time.Minute
	badgerGCRatio    = 0.5
)

// TxOptions builds the commit retry policy from cfg.
func TxOptions(cfg config.App, onRetry func(attempt int, err error)) docstore.Options {
	opts := docstore.DefaultOptions()
	if cfg.TxMaxAttempts > 0 {
		opts.MaxAttempts = cfg.TxMaxAttempts
	}
	if cfg.TxBackoff > 0 {
		opts.Backoff = cfg.TxBackoff
	}
	opts.OnRetry = onRetry
	return opts
}

// DocStore is the configured document store plus the handle its backend
// needs for housekeeping.
type DocStore struct {
	docstore.Store
	Backend string
	badger  *badger.DB
}

// OpenDocStore opens the backend selected by cfg.StoreBackend. SQL backends
// are migrated before they are returned.
func OpenDocStore(ctx context.Context, cfg config.App, opts docstore.Options, log zerolog.Logger) (*DocStore, error) {
	switch cfg.StoreBackend {
	case config.BackendBadger:
		db, err := NewBadger(cfg.BadgerPath, cfg.BadgerInMemory, log.With().Str("component", "badger").Logger())
		if err != nil {
			return nil, err
		}
		return &DocStore{Store: docstore.NewBadger(db, opts), Backend: cfg.StoreBackend, badger: db}, nil

	case config.BackendPostgres, config.BackendSQLite:
		var (
			db      *DB
			dialect docstore.Dialect
			err     error
		)
		if cfg.StoreBackend == config.BackendPostgres {
			db, err = NewDB(cfg.DatabaseURL)
			dialect = docstore.Postgres
		} else {
			db, err = NewSQLite(cfg.SQLitePath)
			dialect = docstore.SQLite
		}
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("connect %s: %w", cfg.StoreBackend, err)
		}
		s := docstore.NewSQL(db.Client, dialect, opts)
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		return &DocStore{Store: s, Backend: cfg.StoreBackend}, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// RunMaintenance blocks until ctx is done, running backend housekeeping.
func (d *DocStore) RunMaintenance(ctx context.Context, log zerolog.Logger) error {
	if d.badger == nil {
		<-ctx.Done()
		return nil
	}
	return RunBadgerGC(ctx, d.badger, badgerGCInterval, badgerGCRatio, log)
}

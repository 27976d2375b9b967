package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

// Dialect captures what differs between the SQL engines the store runs on.
type Dialect struct {
	Name      string
	Schema    []string
	Isolation sql.IsolationLevel
	// Rebind rewrites '?' placeholders for the engine.
	Rebind func(query string) string
	// Retryable reports whether a statement or commit error is a lost
	// serialization race that a fresh attempt may win.
	Retryable func(err error) bool
}

// Postgres runs every transaction SERIALIZABLE and retries SQLSTATE 40001
// (serialization_failure) and 40P01 (deadlock_detected).
var Postgres = Dialect{
	Name: "postgres",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			id         TEXT NOT NULL,
			body       JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (collection, id)
		)`,
	},
	Isolation: sql.LevelSerializable,
	Rebind:    dollarPlaceholders,
	Retryable: func(err error) bool {
		var pgErr *pgconn.PgError
		return errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01")
	},
}

// SQLite expects the connection to be opened with _txlock=immediate so that
// writers serialize at BEGIN; busy and locked errors are retried.
var SQLite = Dialect{
	Name: "sqlite",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			id         TEXT NOT NULL,
			body       TEXT NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (collection, id)
		)`,
	},
	Isolation: sql.LevelDefault,
	Rebind:    func(q string) string { return q },
	Retryable: func(err error) bool {
		var sqlErr sqlite3.Error
		return errors.As(err, &sqlErr) && (sqlErr.Code == sqlite3.ErrBusy || sqlErr.Code == sqlite3.ErrLocked)
	},
}

func dollarPlaceholders(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLStore keeps documents in a single documents table.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	opts    Options
}

var _ Store = (*SQLStore)(nil)

// NewSQL wraps db. The store owns db and closes it.
func NewSQL(db *sql.DB, dialect Dialect, opts Options) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, opts: opts}
}

// Migrate creates the documents table when it does not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.Schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", s.dialect.Name, err)
		}
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, path Path, v any) error {
	if err := path.validate(true); err != nil {
		return err
	}
	data, err := s.tx(ctx, s.db).get(path)
	if err != nil {
		return err
	}
	return Document{Path: path, Data: data}.Decode(v)
}

func (s *SQLStore) List(ctx context.Context, collection Path) ([]Document, error) {
	if err := collection.validate(false); err != nil {
		return nil, err
	}
	return s.tx(ctx, s.db).list(collection)
}

func (s *SQLStore) RunTransaction(ctx context.Context, fn TxFunc) error {
	return retry(ctx, s.opts, s.dialect.Retryable, func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: s.dialect.Isolation})
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if err := fn(ctx, newOrderedTx(s.tx(ctx, tx))); err != nil {
			return err
		}
		return tx.Commit()
	})
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) tx(ctx context.Context, q querier) *sqlTx {
	return &sqlTx{ctx: ctx, q: q, dialect: s.dialect}
}

type sqlTx struct {
	ctx     context.Context
	q       querier
	dialect Dialect
}

func (t *sqlTx) get(path Path) ([]byte, error) {
	var body []byte
	err := t.q.QueryRowContext(t.ctx,
		t.dialect.Rebind(`SELECT body FROM documents WHERE collection = ? AND id = ?`),
		path.Parent().String(), path.ID(),
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (t *sqlTx) list(collection Path) ([]Document, error) {
	rows, err := t.q.QueryContext(t.ctx,
		t.dialect.Rebind(`SELECT id, body FROM documents WHERE collection = ? ORDER BY id`),
		collection.String(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var (
			id   string
			body []byte
		)
		if err := rows.Scan(&id, &body); err != nil {
			return nil, err
		}
		docs = append(docs, Document{Path: collection.Child(id), Data: body})
	}
	return docs, rows.Err()
}

func (t *sqlTx) set(path Path, data []byte) error {
	_, err := t.q.ExecContext(t.ctx, t.dialect.Rebind(`
		INSERT INTO documents (collection, id, body, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET
			body = excluded.body,
			updated_at = excluded.updated_at
	`), path.Parent().String(), path.ID(), string(data), time.Now().UTC())
	return err
}

func (t *sqlTx) delete(path Path) error {
	_, err := t.q.ExecContext(t.ctx,
		t.dialect.Rebind(`DELETE FROM documents WHERE collection = ? AND id = ?`),
		path.Parent().String(), path.ID(),
	)
	return err
}

package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore keeps documents in BadgerDB. Badger transactions are
// serializable snapshot transactions: a commit whose read set was written by
// a concurrently committed transaction fails with badger.ErrConflict, which
// RunTransaction retries.
type BadgerStore struct {
	db   *badger.DB
	opts Options
}

var _ Store = (*BadgerStore)(nil)

// NewBadger wraps an open database. The store owns db and closes it.
func NewBadger(db *badger.DB, opts Options) *BadgerStore {
	return &BadgerStore{db: db, opts: opts}
}

// OpenInMemory opens a Badger store that lives only in memory.
func OpenInMemory(opts Options) (*BadgerStore, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open in-memory badger: %w", err)
	}
	return NewBadger(db, opts), nil
}

func (s *BadgerStore) Get(ctx context.Context, path Path, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := path.validate(true); err != nil {
		return err
	}
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		data, err = (&badgerTx{txn: txn}).get(path)
		return err
	})
	if err != nil {
		return err
	}
	return Document{Path: path, Data: data}.Decode(v)
}

func (s *BadgerStore) List(ctx context.Context, collection Path) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := collection.validate(false); err != nil {
		return nil, err
	}
	var docs []Document
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		docs, err = (&badgerTx{txn: txn}).list(collection)
		return err
	})
	return docs, err
}

func (s *BadgerStore) RunTransaction(ctx context.Context, fn TxFunc) error {
	return retry(ctx, s.opts, isBadgerConflict, func(ctx context.Context) error {
		txn := s.db.NewTransaction(true)
		defer txn.Discard()

		if err := fn(ctx, newOrderedTx(&badgerTx{txn: txn})); err != nil {
			return err
		}
		return txn.Commit()
	})
}

func (s *BadgerStore) Ping(ctx context.Context) error {
	if s.db.IsClosed() {
		return errors.New("docstore: badger database is closed")
	}
	return ctx.Err()
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func isBadgerConflict(err error) bool {
	return errors.Is(err, badger.ErrConflict)
}

type badgerTx struct {
	txn *badger.Txn
}

func (t *badgerTx) get(path Path) ([]byte, error) {
	item, err := t.txn.Get([]byte(path.String()))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

// list returns the direct children of collection in key order. Keys of
// nested collections share the prefix and are skipped.
func (t *badgerTx) list(collection Path) ([]Document, error) {
	prefix := collection.String() + "/"
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)

	it := t.txn.NewIterator(opts)
	defer it.Close()

	var docs []Document
	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		id := strings.TrimPrefix(string(item.Key()), prefix)
		if strings.Contains(id, "/") {
			continue
		}
		data, err := item.ValueCopy(nil)
		if err != nil {
			return nil, err
		}
		docs = append(docs, Document{Path: collection.Child(id), Data: data})
	}
	return docs, nil
}

func (t *badgerTx) set(path Path, data []byte) error {
	return t.txn.Set([]byte(path.String()), data)
}

func (t *badgerTx) delete(path Path) error {
	return t.txn.Delete([]byte(path.String()))
}

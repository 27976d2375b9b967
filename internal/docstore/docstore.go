// Package docstore is a transactional document store addressed by paths of
// collection/document segments.
//
// Documents live at even-length paths (collection, id, collection, id, ...)
// and are stored as JSON. Every mutation happens inside RunTransaction, which
// gives all-or-nothing commits and retries commits that lost a write
// conflict. Inside a transaction every read must be issued before the first
// write; the Tx returned to callers enforces that ordering.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound       = errors.New("docstore: document not found")
	ErrConflict       = errors.New("docstore: transaction conflict")
	ErrReadAfterWrite = errors.New("docstore: read issued after a write in the same transaction")
	ErrInvalidPath    = errors.New("docstore: invalid path")
)

// Path addresses a collection (odd length) or a document (even length).
type Path []string

// NewPath builds a path from segments.
func NewPath(segments ...string) Path {
	return append(Path(nil), segments...)
}

// Child returns a new path extended by segments.
func (p Path) Child(segments ...string) Path {
	out := make(Path, 0, len(p)+len(segments))
	out = append(out, p...)
	return append(out, segments...)
}

// Parent returns the path without its last segment.
func (p Path) Parent() Path {
	if len(p) == 0 {
		return nil
	}
	return NewPath(p[:len(p)-1]...)
}

// ID returns the last segment.
func (p Path) ID() string {
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

func (p Path) String() string {
	return strings.Join(p, "/")
}

// IsDocument reports whether p addresses a document.
func (p Path) IsDocument() bool {
	return len(p) > 0 && len(p)%2 == 0
}

func (p Path) validate(document bool) error {
	if len(p) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	for _, seg := range p {
		if seg == "" || strings.Contains(seg, "/") {
			return fmt.Errorf("%w: bad segment %q in %s", ErrInvalidPath, seg, p)
		}
	}
	if p.IsDocument() != document {
		kind := "collection"
		if document {
			kind = "document"
		}
		return fmt.Errorf("%w: %s is not a %s path", ErrInvalidPath, p, kind)
	}
	return nil
}

// Document is a raw stored document.
type Document struct {
	Path Path
	Data []byte
}

// ID returns the document id.
func (d Document) ID() string { return d.Path.ID() }

// Decode unmarshals the document body into v.
func (d Document) Decode(v any) error {
	if err := json.Unmarshal(d.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", d.Path, err)
	}
	return nil
}

// Tx is a unit of work. Reads (Get, List) must come before writes (Set,
// Delete); a read after a write fails with ErrReadAfterWrite.
type Tx interface {
	Get(path Path, v any) error
	List(collection Path) ([]Document, error)
	Set(path Path, v any) error
	Delete(path Path) error
}

// TxFunc is the body of a transaction. It may run more than once.
type TxFunc func(ctx context.Context, tx Tx) error

// Store is the persistence contract used by the ledger and the timetable.
type Store interface {
	Get(ctx context.Context, path Path, v any) error
	List(ctx context.Context, collection Path) ([]Document, error)
	RunTransaction(ctx context.Context, fn TxFunc) error
	Ping(ctx context.Context) error
	Close() error
}

// Options control commit retries.
type Options struct {
	// MaxAttempts bounds how many times a conflicting transaction runs.
	MaxAttempts int
	// Backoff is the wait before the second attempt; it doubles after that.
	Backoff time.Duration
	// OnRetry is called before each retry.
	OnRetry func(attempt int, err error)
}

// DefaultOptions returns the retry policy used when none is configured.
func DefaultOptions() Options {
	return Options{MaxAttempts: 5, Backoff: 5 * time.Millisecond}
}

// ReplaceCollection deletes every document of collection and writes docs in
// its place, keyed by id. It reads before it writes, so it must be called
// before any other write of the enclosing transaction.
func ReplaceCollection(tx Tx, collection Path, docs map[string]any) error {
	existing, err := tx.List(collection)
	if err != nil {
		return err
	}
	for _, doc := range existing {
		if _, keep := docs[doc.ID()]; keep {
			continue
		}
		if err := tx.Delete(doc.Path); err != nil {
			return err
		}
	}
	for id, v := range docs {
		if err := tx.Set(collection.Child(id), v); err != nil {
			return err
		}
	}
	return nil
}

package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// backendTx is what a storage engine provides; paths are already validated.
type backendTx interface {
	get(path Path) ([]byte, error)
	list(collection Path) ([]Document, error)
	set(path Path, data []byte) error
	delete(path Path) error
}

// orderedTx validates paths, encodes values and rejects reads after writes.
type orderedTx struct {
	inner backendTx
	wrote bool
}

func newOrderedTx(inner backendTx) *orderedTx {
	return &orderedTx{inner: inner}
}

func (t *orderedTx) Get(path Path, v any) error {
	if t.wrote {
		return fmt.Errorf("get %s: %w", path, ErrReadAfterWrite)
	}
	if err := path.validate(true); err != nil {
		return err
	}
	data, err := t.inner.get(path)
	if err != nil {
		return err
	}
	return Document{Path: path, Data: data}.Decode(v)
}

func (t *orderedTx) List(collection Path) ([]Document, error) {
	if t.wrote {
		return nil, fmt.Errorf("list %s: %w", collection, ErrReadAfterWrite)
	}
	if err := collection.validate(false); err != nil {
		return nil, err
	}
	return t.inner.list(collection)
}

func (t *orderedTx) Set(path Path, v any) error {
	if err := path.validate(true); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	t.wrote = true
	return t.inner.set(path, data)
}

func (t *orderedTx) Delete(path Path) error {
	if err := path.validate(true); err != nil {
		return err
	}
	t.wrote = true
	return t.inner.delete(path)
}

// retry runs attempt until it succeeds, fails with a non-retryable error, or
// exhausts opts.MaxAttempts.
func retry(ctx context.Context, opts Options, retryable func(error) bool, attempt func(ctx context.Context) error) error {
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	backoff := opts.Backoff

	var lastErr error
	for i := 1; i <= maxAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := attempt(ctx)
		if err == nil || !retryable(err) {
			return err
		}
		lastErr = err
		if i == maxAttempts {
			break
		}
		if opts.OnRetry != nil {
			opts.OnRetry(i, err)
		}
		if backoff > 0 {
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			backoff *= 2
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrConflict, maxAttempts, lastErr)
}

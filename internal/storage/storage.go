package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get* when no object exists at the key.
var ErrNotFound = errors.New("storage: object not found")

/*
BlobStore is the object store every stage reads and writes through.
Semantics:
  - Writes are last-writer-wins and idempotent by key.
  - Get* returns ErrNotFound (possibly wrapped) when the key is absent.
  - List returns full keys under the prefix, lexicographically sorted.
*/
type BlobStore interface {
	PutText(ctx context.Context, key, text string) error
	PutBytes(ctx context.Context, key string, data []byte) error
	GetText(ctx context.Context, key string) (string, error)
	GetBytes(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
}

// IsNotFound reports whether err means the object does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

package storage

import (
	"errors"
	"fmt"
	"io"
)

const (
	KindMemory = "memory"
	KindSQLite = "sqlite"
)

var ErrUnsupportedStore = errors.New("unsupported store backend")

// ResolveKind maps an empty kind to the build's default backend.
func ResolveKind(kind string) string {
	if kind == "" {
		return DefaultStoreKind()
	}
	return kind
}

// NewStore opens the run store of the given kind. sqlitePath is only read by
// the sqlite backend.
func NewStore(kind, sqlitePath string) (Store, error) {
	switch ResolveKind(kind) {
	case KindMemory:
		return NewMemoryStore(), nil
	case KindSQLite:
		return newSQLiteStore(sqlitePath)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedStore, kind)
	}
}

// CloseIfSupported releases stores that hold a handle, such as an open
// database.
func CloseIfSupported(store Store) error {
	if closer, ok := store.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

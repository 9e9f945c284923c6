// Package storage defines the flat path->blob namespace contract every
// backend (local filesystem, object store, ...) implements. The engine
// never talks to a filesystem or bucket directly; it talks to this
// interface, so replication/sync/repair work unmodified across backends.
package storage

import (
	"context"
	"io"
	"time"
)

// Info describes a stored blob without reading its bytes.
type Info struct {
	Length       int64
	LastModified time.Time
	ContentType  string
}

// Storage is the contract every storage backend implements. All operations
// may fail with a transient error; callers retry with bounded backoff (see
// internal/retry).
type Storage interface {
	Write(ctx context.Context, path, contentType string, data []byte) error
	WriteStream(ctx context.Context, path, contentType string, r io.Reader) error

	Read(ctx context.Context, path string) ([]byte, error)
	ReadStream(ctx context.Context, path string) (io.ReadCloser, error)

	Info(ctx context.Context, path string) (*Info, error)
	FileExists(ctx context.Context, path string) (bool, error)
	DirExists(ctx context.Context, prefix string) (bool, error)
	Delete(ctx context.Context, path string) error

	List(ctx context.Context, prefix string) ([]string, error)

	// SupportsAtomicReplace reports whether this backend can write a file
	// via temp-then-rename. The engine's callers do not consult it: they
	// call Write/WriteStream the same way on every backend, and nothing is
	// logged when it returns false.
	SupportsAtomicReplace() bool
}

// ErrNotFound is returned by Read/ReadStream/Info for a missing path.
// FileExists and DirExists report absence as false with a nil error
// instead.
var ErrNotFound = errNotFound{}

type errNotFound struct{}

func (errNotFound) Error() string { return "storage: path not found" }

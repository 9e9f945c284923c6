// Package engine declares the external collaborator contracts the database
// consumes — the engine produces pure handlers against these, and never
// instantiates a concrete implementation itself. The CLI front-end, file
// scanner, media decoders, task queue, and auth layer are all out of
// scope for this package; callers supply their own implementations.
package engine

import "context"

// UuidGenerator mints identifiers for records, shards, and database
// identities.
type UuidGenerator interface {
	Generate() string
}

// TimestampProvider supplies "now" for _lastUpdated stamps and lock
// acquisition — injected so tests can control time deterministically.
type TimestampProvider interface {
	Now() int64 // ms since epoch
}

// Dimensions is the subset of MediaTooling.GetFileInfo's result the engine
// cares about for validation.
type Dimensions struct {
	Width, Height int
}

// FileInfo is MediaTooling.GetFileInfo's full result.
type FileInfo struct {
	Dimensions Dimensions
}

// MediaTooling inspects a candidate file ahead of import.
type MediaTooling interface {
	GetFileInfo(ctx context.Context, path, contentType string) (FileInfo, error)
}

// Validator approves or rejects an import candidate after MediaTooling
// inspection.
type Validator interface {
	Validate(ctx context.Context, path, contentType string, info FileInfo) error
}

// Derivatives is a Thumbnailer's output: the bytes for the display and
// thumbnail renditions of an imported asset.
type Derivatives struct {
	Display []byte
	Thumb   []byte
}

// Thumbnailer derives display/thumbnail renditions from a source asset.
type Thumbnailer interface {
	Derive(ctx context.Context, assetBytes []byte, contentType string) (Derivatives, error)
}

// ProgressFunc is a synchronous, best-effort notification sink. Errors from
// the callback must never corrupt engine state — callers swallow them.
type ProgressFunc func(message string)

// TaskQueue executes import jobs out of process; the engine hands it pure
// (data, ctx) -> outputs closures and never touches goroutine scheduling
// for orchestration itself.
type TaskQueue interface {
	Enqueue(ctx context.Context, taskType string, data interface{}, handler func(ctx context.Context, data interface{}) (interface{}, error)) (interface{}, error)
}

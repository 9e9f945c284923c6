// Package stub provides trivial in-repo implementations of the engine's
// consumed interfaces, used by tests and by mediactl's local-disk mode
// where no real media-tooling/task-queue collaborator is wired in.
package stub

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mediavault/engine/internal/engine"
)

// UuidGenerator mints real UUIDs via google/uuid.
type UuidGenerator struct{}

func (UuidGenerator) Generate() string { return uuid.NewString() }

// TimestampProvider returns wall-clock time.
type TimestampProvider struct{}

func (TimestampProvider) Now() int64 { return time.Now().UnixMilli() }

// MediaTooling reports zeroed dimensions for every file — enough to satisfy
// callers that only check for a non-error response.
type MediaTooling struct{}

func (MediaTooling) GetFileInfo(ctx context.Context, path, contentType string) (engine.FileInfo, error) {
	return engine.FileInfo{}, nil
}

// Validator accepts every candidate unconditionally.
type Validator struct{}

func (Validator) Validate(ctx context.Context, path, contentType string, info engine.FileInfo) error {
	return nil
}

// Thumbnailer returns the source bytes verbatim as both display and thumb
// renditions — a placeholder for the real decoder collaborator.
type Thumbnailer struct{}

func (Thumbnailer) Derive(ctx context.Context, assetBytes []byte, contentType string) (engine.Derivatives, error) {
	return engine.Derivatives{Display: assetBytes, Thumb: assetBytes}, nil
}

// TaskQueue runs the handler inline, synchronously, in the caller's
// goroutine — a placeholder for a real worker-pool collaborator.
type TaskQueue struct{}

func (TaskQueue) Enqueue(ctx context.Context, taskType string, data interface{}, handler func(ctx context.Context, data interface{}) (interface{}, error)) (interface{}, error) {
	return handler(ctx, data)
}

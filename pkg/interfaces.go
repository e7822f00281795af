package shared

import "context"

// --- Background Task Interfaces ---

// Task is one unit of background work. Payload is JSON encoded by the
// enqueuer and decoded by the matching handler.
type Task struct {
	Name    string
	Payload []byte
}

// TaskQueue hands tasks to the in-process worker pool. Enqueue must not
// block on task execution; delivery is at-least-once, so handlers are
// expected to be idempotent.
type TaskQueue interface {
	Enqueue(ctx context.Context, task Task) error
}

// --- Storage Interfaces ---

type BlobStore interface {
	Write(ctx context.Context, bucket, object string, data []byte) error
	Read(ctx context.Context, bucket, object string) ([]byte, error)
	// Delete removes an object. Deleting an object that does not exist
	// is not an error.
	Delete(ctx context.Context, bucket, object string) error
}

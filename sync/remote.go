package sync

import (
	"context"
	"io"
	"time"
)

// RemoteEntry is a snapshot of one remote object taken at listing time.
// Key is relative to the remote directory it was listed from.
type RemoteEntry struct {
	Key          string
	LastModified time.Time
	Size         int64 // advisory
}

// Remote is the store files are synchronized from.
type Remote interface {
	// List returns every object under dir.
	List(ctx context.Context, dir string) ([]RemoteEntry, error)
	// Open streams the content of the object stored at key under dir.
	Open(ctx context.Context, dir, key string) (io.ReadCloser, error)
	// Delete removes the object stored at key under dir.
	Delete(ctx context.Context, dir, key string) error
}

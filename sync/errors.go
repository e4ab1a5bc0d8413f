package sync

import (
	"errors"
	"fmt"
)

var (
	ErrSyncAlreadyRunning = errors.New("sync already running")
	ErrLocalDirNotFound   = errors.New("local directory not found")
)

// ConfigError reports an invalid or conflicting option. It is returned at
// construction time only.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config %q: %s", e.Field, e.Msg)
}

// ListError aborts a whole pass.
type ListError struct {
	Dir string
	Err error
}

func (e *ListError) Error() string {
	return fmt.Sprintf("list %s: %v", e.Dir, e.Err)
}

func (e *ListError) Unwrap() error { return e.Err }

// DownloadError is recorded against a single entry; the pass continues.
type DownloadError struct {
	Key string
	Err error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s: %v", e.Key, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// DeleteError is recorded when a remote delete fails after the local file
// was already published.
type DeleteError struct {
	Key string
	Err error
}

func (e *DeleteError) Error() string {
	return fmt.Sprintf("delete remote %s: %v", e.Key, e.Err)
}

func (e *DeleteError) Unwrap() error { return e.Err }

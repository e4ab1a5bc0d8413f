package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	gosync "sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultRemoteDir           = "bucket"
	DefaultTmpFileSuffix       = ".tmp"
	DefaultRemoteFileSeparator = "/"
	minRemoteDirLen            = 3
)

// DefaultLocalDir is where files land when no local directory is configured.
var DefaultLocalDir = filepath.Join(os.TempDir(), "s3", "source")

// Options configures a Synchronizer.
type Options struct {
	RemoteDir           string // bucket or bucket/prefix
	LocalDir            string // local mirror directory
	AutoCreateLocalDir  bool   // create LocalDir when missing
	TmpFileSuffix       string // suffix of in-flight downloads
	RemoteFileSeparator string // separator used to derive local file names from keys
	DeleteRemoteFiles   bool   // delete remote objects once published locally
	PreserveTimestamp   bool   // copy the remote modification time to the local file
	FilenamePattern     string // glob filter, exclusive with FilenameRegex
	FilenameRegex       string // regex filter, must match the whole key
	Workers             int    // concurrent downloads per pass
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		RemoteDir:           DefaultRemoteDir,
		LocalDir:            DefaultLocalDir,
		AutoCreateLocalDir:  true,
		TmpFileSuffix:       DefaultTmpFileSuffix,
		RemoteFileSeparator: DefaultRemoteFileSeparator,
		PreserveTimestamp:   true,
		Workers:             1,
	}
}

// Validate checks the options that do not need a filter to be compiled.
func (o Options) Validate() error {
	if len(o.RemoteDir) < minRemoteDirLen {
		return &ConfigError{Field: "remoteDir", Msg: fmt.Sprintf("length must be at least %d", minRemoteDirLen)}
	}
	if o.LocalDir == "" {
		return &ConfigError{Field: "localDir", Msg: "must not be empty"}
	}
	if strings.TrimSpace(o.TmpFileSuffix) == "" {
		return &ConfigError{Field: "tmpFileSuffix", Msg: "must not be blank"}
	}
	if strings.TrimSpace(o.RemoteFileSeparator) == "" {
		return &ConfigError{Field: "remoteFileSeparator", Msg: "must not be blank"}
	}
	if o.Workers < 1 {
		return &ConfigError{Field: "workers", Msg: "must be at least 1"}
	}
	return nil
}

// Outcome is the terminal state of one remote entry within a pass.
type Outcome int

const (
	Downloaded Outcome = iota
	Skipped
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Downloaded:
		return "downloaded"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// SkipReason explains a Skipped outcome.
type SkipReason int

const (
	NotSkipped SkipReason = iota
	AlreadyLocal
	FilteredOut
)

func (r SkipReason) String() string {
	switch r {
	case AlreadyLocal:
		return "already_local"
	case FilteredOut:
		return "filtered_out"
	}
	return ""
}

// LocalFile is a file materialized in the local directory.
type LocalFile struct {
	Path      string
	SourceKey string
	Size      int64
	Completed bool // set only after the rename from the temporary name
}

// EntryResult is the outcome for one remote entry.
type EntryResult struct {
	Key       string
	Outcome   Outcome
	Reason    SkipReason
	File      *LocalFile
	Err       error // *DownloadError when Outcome is Failed
	Deleted   bool  // remote object removed after download
	DeleteErr error // *DeleteError, local file stays published
}

// Result lists the outcome of every listed entry, in listing order.
type Result struct {
	Entries []EntryResult
}

// Downloaded returns the files published during the pass.
func (r *Result) Downloaded() []LocalFile {
	var files []LocalFile
	for _, e := range r.Entries {
		if e.Outcome == Downloaded && e.File != nil {
			files = append(files, *e.File)
		}
	}
	return files
}

// Failed returns the entries whose download failed.
func (r *Result) Failed() []EntryResult {
	var failed []EntryResult
	for _, e := range r.Entries {
		if e.Outcome == Failed {
			failed = append(failed, e)
		}
	}
	return failed
}

// Count returns how many entries ended with the given outcome.
func (r *Result) Count(o Outcome) int {
	n := 0
	for _, e := range r.Entries {
		if e.Outcome == o {
			n++
		}
	}
	return n
}

// Synchronizer mirrors a remote directory into a local one. Passes never
// overlap: a pass started while another is running fails with
// ErrSyncAlreadyRunning.
type Synchronizer struct {
	remote Remote
	opts   Options
	filter Filter
	logger *slog.Logger
	muSync gosync.Mutex
}

// New validates opts and creates a Synchronizer.
func New(remote Remote, opts Options, logger *slog.Logger) (*Synchronizer, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	filter, err := NewFilter(opts.FilenamePattern, opts.FilenameRegex)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{
		remote: remote,
		opts:   opts,
		filter: filter,
		logger: logger.With("remoteDir", opts.RemoteDir),
	}, nil
}

// Options returns the options the synchronizer was built with.
func (s *Synchronizer) Options() Options { return s.opts }

// Synchronize runs one pass: list, filter, download new files and publish
// them, then optionally delete the remote originals. Entry level failures are
// reported in the Result; listing and local directory failures abort the
// pass. On cancellation the partial Result is returned with ctx.Err().
func (s *Synchronizer) Synchronize(ctx context.Context) (*Result, error) {
	if !s.muSync.TryLock() {
		promPassesTotal.WithLabelValues("busy").Inc()
		return nil, ErrSyncAlreadyRunning
	}
	defer s.muSync.Unlock()

	tStart := time.Now()
	res, err := s.run(ctx)
	promPassDuration.Observe(time.Since(tStart).Seconds())
	if err != nil {
		promPassesTotal.WithLabelValues("error").Inc()
	} else {
		promPassesTotal.WithLabelValues("ok").Inc()
	}
	if res != nil {
		for _, e := range res.Entries {
			promEntriesTotal.WithLabelValues(e.Outcome.String()).Inc()
		}
		if n := res.Count(Downloaded) + res.Count(Failed); n > 0 {
			s.logger.Info("sync pass",
				"downloaded", res.Count(Downloaded),
				"skipped", res.Count(Skipped),
				"failed", res.Count(Failed),
				"took", time.Since(tStart),
			)
		}
	}
	return res, err
}

func (s *Synchronizer) run(ctx context.Context) (*Result, error) {
	if err := s.ensureLocalDir(); err != nil {
		return nil, err
	}

	entries, err := s.remote.List(ctx, s.opts.RemoteDir)
	if err != nil {
		return nil, &ListError{Dir: s.opts.RemoteDir, Err: err}
	}

	// read once so that the dedup decision is made against a consistent view
	local, err := s.scanLocal()
	if err != nil {
		return nil, err
	}
	// the temp file of a listed name is a leftover download, not a completed
	// file, unless that temp name is listed itself
	listed := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		listed[s.localName(e.Key)] = struct{}{}
	}
	for name := range listed {
		tmp := name + s.opts.TmpFileSuffix
		if _, ok := listed[tmp]; !ok {
			delete(local, tmp)
		}
	}

	res := &Result{Entries: make([]EntryResult, len(entries))}
	var pending []int
	names := make(map[int]string)
	for i, e := range entries {
		res.Entries[i].Key = e.Key
		if !s.filter.Match(e.Key) {
			res.Entries[i].Outcome = Skipped
			res.Entries[i].Reason = FilteredOut
			continue
		}
		name := s.localName(e.Key)
		if _, ok := local[name]; ok {
			res.Entries[i].Outcome = Skipped
			res.Entries[i].Reason = AlreadyLocal
			continue
		}
		local[name] = struct{}{}
		names[i] = name
		pending = append(pending, i)
	}

	eg := &errgroup.Group{}
	eg.SetLimit(s.opts.Workers)
	for _, i := range pending {
		if ctx.Err() != nil {
			res.Entries[i].Outcome = Failed
			res.Entries[i].Err = &DownloadError{Key: entries[i].Key, Err: ctx.Err()}
			continue
		}
		i := i
		eg.Go(func() error {
			s.process(ctx, entries[i], names[i], &res.Entries[i])
			return nil
		})
	}
	eg.Wait()

	return res, ctx.Err()
}

// process downloads one entry and records its outcome in out.
func (s *Synchronizer) process(ctx context.Context, e RemoteEntry, name string, out *EntryResult) {
	file, err := s.download(ctx, e, name)
	if err != nil {
		out.Outcome = Failed
		out.Err = &DownloadError{Key: e.Key, Err: err}
		s.logger.Error("sync", "op", "download", "status", "Failed", "key", e.Key, "error", err)
		return
	}
	out.Outcome = Downloaded
	out.File = file
	s.logger.Info("sync", "op", "download", "status", "Completed", "key", e.Key, "path", file.Path, "size", humanize.Bytes(uint64(file.Size)))

	if !s.opts.DeleteRemoteFiles {
		return
	}
	if err := s.remote.Delete(ctx, s.opts.RemoteDir, e.Key); err != nil {
		out.DeleteErr = &DeleteError{Key: e.Key, Err: err}
		promRemoteDeletes.WithLabelValues("error").Inc()
		s.logger.Warn("sync", "op", "delete", "status", "Failed", "key", e.Key, "error", err)
		return
	}
	out.Deleted = true
	promRemoteDeletes.WithLabelValues("ok").Inc()
	s.logger.Debug("sync", "op", "delete", "status", "Completed", "key", e.Key)
}

// download streams the object into name+TmpFileSuffix and renames it to name
// once the transfer is complete. The temporary file is removed on any failure.
func (s *Synchronizer) download(ctx context.Context, e RemoteEntry, name string) (*LocalFile, error) {
	if !validLocalName(name) {
		return nil, fmt.Errorf("invalid local file name %q", name)
	}
	finalPath := filepath.Join(s.opts.LocalDir, name)
	tmpPath := finalPath + s.opts.TmpFileSuffix

	body, err := s.remote.Open(ctx, s.opts.RemoteDir, e.Key)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}

	n, err := io.Copy(f, &ctxReader{ctx: ctx, r: body})
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpPath)
		return nil, err
	}

	if s.opts.PreserveTimestamp && !e.LastModified.IsZero() {
		if err := os.Chtimes(tmpPath, e.LastModified, e.LastModified); err != nil {
			os.Remove(tmpPath)
			return nil, fmt.Errorf("set modification time: %w", err)
		}
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return nil, err
	}

	return &LocalFile{
		Path:      finalPath,
		SourceKey: e.Key,
		Size:      n,
		Completed: true,
	}, nil
}

func (s *Synchronizer) ensureLocalDir() error {
	info, err := os.Stat(s.opts.LocalDir)
	switch {
	case err == nil && !info.IsDir():
		return fmt.Errorf("local directory %q is not a directory", s.opts.LocalDir)
	case err == nil:
		return nil
	case !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("local directory: %w", err)
	case !s.opts.AutoCreateLocalDir:
		return fmt.Errorf("%w: %s", ErrLocalDirNotFound, s.opts.LocalDir)
	}
	if err := os.MkdirAll(s.opts.LocalDir, 0755); err != nil {
		return fmt.Errorf("create local directory: %w", err)
	}
	return nil
}

// scanLocal returns the names of the regular files in the local directory.
func (s *Synchronizer) scanLocal() (map[string]struct{}, error) {
	dirEntries, err := os.ReadDir(s.opts.LocalDir)
	if err != nil {
		return nil, fmt.Errorf("scan local directory: %w", err)
	}
	names := make(map[string]struct{}, len(dirEntries))
	for _, d := range dirEntries {
		if d.IsDir() {
			continue
		}
		names[d.Name()] = struct{}{}
	}
	return names, nil
}

// LocalFiles returns the completed files already present in the local
// directory, in name order. Files carrying the temporary suffix are left out
// since they cannot be told apart from interrupted downloads without a
// listing. SourceKey is the local name, the remote key is not recorded.
func (s *Synchronizer) LocalFiles() ([]LocalFile, error) {
	dirEntries, err := os.ReadDir(s.opts.LocalDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan local directory: %w", err)
	}
	var files []LocalFile
	for _, d := range dirEntries {
		if !d.Type().IsRegular() || strings.HasSuffix(d.Name(), s.opts.TmpFileSuffix) {
			continue
		}
		info, err := d.Info()
		if err != nil {
			// removed since the scan
			continue
		}
		files = append(files, LocalFile{
			Path:      filepath.Join(s.opts.LocalDir, d.Name()),
			SourceKey: d.Name(),
			Size:      info.Size(),
			Completed: true,
		})
	}
	return files, nil
}

// localName is the last segment of key after the remote file separator.
func (s *Synchronizer) localName(key string) string {
	if i := strings.LastIndex(key, s.opts.RemoteFileSeparator); i >= 0 {
		return key[i+len(s.opts.RemoteFileSeparator):]
	}
	return key
}

func validLocalName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}

// ctxReader stops a copy as soon as ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

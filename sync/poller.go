package sync

import (
	"context"
	"errors"
	"log/slog"
	gosync "sync"
	"time"
)

const (
	DefaultFixedDelay = time.Second
	// Unlimited disables the per-poll message cap.
	Unlimited = -1
)

// Handler receives every file published by the synchronizer.
type Handler interface {
	HandleFile(ctx context.Context, file LocalFile) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, file LocalFile) error

func (f HandlerFunc) HandleFile(ctx context.Context, file LocalFile) error { return f(ctx, file) }

// TriggerOptions controls when the poller runs.
type TriggerOptions struct {
	InitialDelay       time.Duration
	FixedDelay         time.Duration // delay between the end of a poll and the start of the next
	MaxMessagesPerPoll int           // Unlimited or > 0
}

// DefaultTriggerOptions polls every second with no message cap.
func DefaultTriggerOptions() TriggerOptions {
	return TriggerOptions{
		FixedDelay:         DefaultFixedDelay,
		MaxMessagesPerPoll: Unlimited,
	}
}

// Poller drives a Synchronizer on a fixed delay and hands published files
// to a Handler, oldest first.
type Poller struct {
	syncer  *Synchronizer
	handler Handler
	opts    TriggerOptions
	logger  *slog.Logger

	mu        gosync.Mutex
	pending   []LocalFile
	recovered bool
}

// NewPoller creates a new Poller.
func NewPoller(syncer *Synchronizer, handler Handler, opts TriggerOptions, logger *slog.Logger) (*Poller, error) {
	if opts.FixedDelay <= 0 {
		return nil, &ConfigError{Field: "fixedDelay", Msg: "must be positive"}
	}
	if opts.InitialDelay < 0 {
		return nil, &ConfigError{Field: "initialDelay", Msg: "must not be negative"}
	}
	if opts.MaxMessagesPerPoll == 0 || opts.MaxMessagesPerPoll < Unlimited {
		return nil, &ConfigError{Field: "maxMessages", Msg: "must be positive or -1"}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		syncer:  syncer,
		handler: handler,
		opts:    opts,
		logger:  logger,
	}, nil
}

// Run polls until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("poller start", "initialDelay", p.opts.InitialDelay, "fixedDelay", p.opts.FixedDelay)

	// a timer, not a ticker, so a slow poll never queues ticks
	timer := time.NewTimer(p.opts.InitialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stop")
			return nil
		case <-timer.C:
			if _, err := p.Poll(ctx); err != nil && !errors.Is(err, context.Canceled) {
				p.logger.Error("poll failed", "error", err)
			}
			timer.Reset(p.opts.FixedDelay)
		}
	}
}

// Poll runs one synchronization pass and emits queued files. It returns the
// number of files handed to the handler. The first poll also queues the
// completed files found in the local directory, so files left unemitted by a
// previous run are delivered; files already emitted by it are delivered again.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.recovered {
		files, err := p.syncer.LocalFiles()
		if err != nil {
			return 0, err
		}
		if len(files) > 0 {
			p.logger.Info("queued local files", "files", len(files))
		}
		p.pending = append(p.pending, files...)
		p.recovered = true
	}

	res, syncErr := p.syncer.Synchronize(ctx)
	if errors.Is(syncErr, ErrSyncAlreadyRunning) {
		p.logger.Debug("poll skipped, sync already running")
		syncErr = nil
	}
	if res != nil {
		p.pending = append(p.pending, res.Downloaded()...)
	}

	sent := 0
	for len(p.pending) > 0 {
		if p.opts.MaxMessagesPerPoll != Unlimited && sent >= p.opts.MaxMessagesPerPoll {
			break
		}
		if ctx.Err() != nil {
			break
		}
		file := p.pending[0]
		if err := p.handler.HandleFile(ctx, file); err != nil {
			// keep the file queued, it is retried on the next poll
			return sent, errors.Join(syncErr, err)
		}
		p.pending = p.pending[1:]
		sent++
	}
	return sent, syncErr
}

// Pending returns the number of published files not yet handed off.
func (p *Poller) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

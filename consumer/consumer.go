// Package consumer turns synchronized files into stream messages.
package consumer

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sandeepkandula/s3stream/stream"
	"github.com/sandeepkandula/s3stream/sync"
)

// Mode selects how a file is turned into messages.
type Mode string

const (
	// ModeRef emits the file path.
	ModeRef Mode = "ref"
	// ModeLines emits one message per line.
	ModeLines Mode = "lines"
	// ModeContents emits the whole file content.
	ModeContents Mode = "contents"
)

// Marker values carried in stream.HeaderMarker.
const (
	MarkerStart = "start"
	MarkerEnd   = "end"
)

// ParseMode validates a mode name. An empty name selects ModeContents.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(s)) {
	case "":
		return ModeContents, nil
	case ModeRef, ModeLines, ModeContents:
		return Mode(strings.ToLower(s)), nil
	}
	return "", fmt.Errorf("unknown file consumer mode %q", s)
}

// Options configures a FileConsumer.
type Options struct {
	Mode        Mode
	WithMarkers bool // lines mode only
}

var _ sync.Handler = (*FileConsumer)(nil)

// FileConsumer sends each file it is handed to an Output.
type FileConsumer struct {
	out    stream.Output
	opts   Options
	logger *slog.Logger
}

func New(out stream.Output, opts Options, logger *slog.Logger) (*FileConsumer, error) {
	mode, err := ParseMode(string(opts.Mode))
	if err != nil {
		return nil, err
	}
	opts.Mode = mode
	if logger == nil {
		logger = slog.Default()
	}
	return &FileConsumer{out: out, opts: opts, logger: logger}, nil
}

// HandleFile emits the messages for one file.
func (c *FileConsumer) HandleFile(ctx context.Context, file sync.LocalFile) error {
	path, err := filepath.Abs(file.Path)
	if err != nil {
		return err
	}
	headers := map[string]string{
		stream.HeaderOriginalFile: path,
		stream.HeaderFileName:     filepath.Base(path),
	}

	switch c.opts.Mode {
	case ModeRef:
		msg := stream.NewMessage([]byte(path), headers)
		msg.FilePath = path
		return c.out.Send(ctx, msg)
	case ModeLines:
		return c.sendLines(ctx, path, headers)
	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		return c.out.Send(ctx, stream.NewMessage(data, headers))
	}
}

func (c *FileConsumer) sendLines(ctx context.Context, path string, headers map[string]string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	if c.opts.WithMarkers {
		if err := c.out.Send(ctx, c.marker(MarkerStart, headers, 0)); err != nil {
			return err
		}
	}

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	lines := 0
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.out.Send(ctx, stream.NewMessage([]byte(sc.Text()), headers)); err != nil {
			return err
		}
		lines++
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	if c.opts.WithMarkers {
		if err := c.out.Send(ctx, c.marker(MarkerEnd, headers, lines)); err != nil {
			return err
		}
	}
	c.logger.Debug("file consumed", "path", path, "lines", lines)
	return nil
}

func (c *FileConsumer) marker(kind string, headers map[string]string, lines int) stream.Message {
	msg := stream.NewMessage([]byte(kind), headers)
	msg.Headers[stream.HeaderMarker] = kind
	if kind == MarkerEnd {
		msg.Headers[stream.HeaderLineCount] = strconv.Itoa(lines)
	}
	return msg
}

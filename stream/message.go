// Package stream holds the message exchanged between the connectors and the
// outside world.
package stream

import (
	"context"
	"maps"
)

// Well-known header names.
const (
	HeaderOriginalFile = "file_originalFile"
	HeaderFileName     = "file_name"
	HeaderMarker       = "file_marker"
	HeaderLineCount    = "file_lineCount"
	HeaderKey          = "key"
	HeaderContentType  = "contentType"
)

// Message is a payload plus string headers. When FilePath is set the message
// refers to a local file and Payload is ignored by file-aware consumers.
type Message struct {
	Payload  []byte
	FilePath string
	Headers  map[string]string
}

// NewMessage creates a message with a copy of headers.
func NewMessage(payload []byte, headers map[string]string) Message {
	h := make(map[string]string, len(headers))
	maps.Copy(h, headers)
	return Message{Payload: payload, Headers: h}
}

// Header returns the header value or "".
func (m Message) Header(name string) string {
	if m.Headers == nil {
		return ""
	}
	return m.Headers[name]
}

// Output receives messages.
type Output interface {
	Send(ctx context.Context, msg Message) error
}

// OutputFunc adapts a function to Output.
type OutputFunc func(ctx context.Context, msg Message) error

func (f OutputFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

package stream

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	gosync "sync"
	"unicode/utf8"

	"github.com/goccy/go-json"
)

// jsonMessage is the line format used on stdin/stdout. Binary payloads are
// carried base64 encoded.
type jsonMessage struct {
	Payload       string            `json:"payload,omitempty"`
	PayloadBase64 string            `json:"payload_base64,omitempty"`
	File          string            `json:"file,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
}

// JSONOutput writes one JSON document per line.
type JSONOutput struct {
	mu  gosync.Mutex
	enc *json.Encoder
}

func NewJSONOutput(w io.Writer) *JSONOutput {
	return &JSONOutput{enc: json.NewEncoder(w)}
}

func (o *JSONOutput) Send(_ context.Context, msg Message) error {
	jm := jsonMessage{File: msg.FilePath, Headers: msg.Headers}
	if utf8.Valid(msg.Payload) {
		jm.Payload = string(msg.Payload)
	} else {
		jm.PayloadBase64 = base64.StdEncoding.EncodeToString(msg.Payload)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	return o.enc.Encode(jm)
}

// JSONReader reads messages written by JSONOutput.
type JSONReader struct {
	sc   *bufio.Scanner
	line int
}

func NewJSONReader(r io.Reader) *JSONReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	return &JSONReader{sc: sc}
}

// Next returns the next message or io.EOF. Blank lines are skipped.
func (r *JSONReader) Next() (Message, error) {
	for r.sc.Scan() {
		r.line++
		line := r.sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var jm jsonMessage
		if err := json.Unmarshal(line, &jm); err != nil {
			return Message{}, fmt.Errorf("line %d: %w", r.line, err)
		}
		msg := Message{FilePath: jm.File, Headers: jm.Headers, Payload: []byte(jm.Payload)}
		if jm.PayloadBase64 != "" {
			data, err := base64.StdEncoding.DecodeString(jm.PayloadBase64)
			if err != nil {
				return Message{}, fmt.Errorf("line %d: payload_base64: %w", r.line, err)
			}
			msg.Payload = data
		}
		return msg, nil
	}
	if err := r.sc.Err(); err != nil && !errors.Is(err, io.EOF) {
		return Message{}, err
	}
	return Message{}, io.EOF
}

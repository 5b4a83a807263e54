// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/bureau-foundation/chatcore/lib/prompt"
)

// FrameType is the SSE event name of a frame.
type FrameType string

const (
	FrameContent FrameType = "content"
	FrameDone    FrameType = "done"
	FrameError   FrameType = "error"
	FramePing    FrameType = "ping"
)

// ContentData is the payload of a content frame.
type ContentData struct {
	Content string `json:"content"`
}

// Usage is the token count reported in a done frame.
type Usage struct {
	InputTokens  int64 `json:"inputTokens"`
	OutputTokens int64 `json:"outputTokens"`
}

// DoneData is the payload of a done frame. Timestamp is Unix
// milliseconds.
type DoneData struct {
	Usage     Usage             `json:"usage"`
	Timestamp int64             `json:"timestamp"`
	Citations []prompt.Citation `json:"citations"`
	Model     string            `json:"model"`
	CostUSD   float64           `json:"costUsd"`
	Cached    bool              `json:"cached"`
}

// ErrorData is the payload of an error frame.
type ErrorData struct {
	Error string `json:"error"`
}

// PingData is the payload of a ping frame. Timestamp is Unix
// milliseconds.
type PingData struct {
	Timestamp int64 `json:"timestamp"`
}

// Writer writes SSE frames. It is not safe for concurrent use; the
// Multiplexer is its only writer.
type Writer struct {
	out     io.Writer
	flusher http.Flusher
}

// NewWriter prepares out for streaming. When out is an
// http.ResponseWriter the SSE headers and a 200 status are sent
// immediately. Frames are flushed when out implements http.Flusher.
func NewWriter(out io.Writer) *Writer {
	writer := &Writer{out: out}
	if flusher, ok := out.(http.Flusher); ok {
		writer.flusher = flusher
	}
	if response, ok := out.(http.ResponseWriter); ok {
		header := response.Header()
		header.Set("Content-Type", "text/event-stream")
		header.Set("Cache-Control", "no-cache")
		header.Set("Connection", "keep-alive")
		header.Set("X-Accel-Buffering", "no")
		response.WriteHeader(http.StatusOK)
		writer.flush()
	}
	return writer
}

// WriteFrame encodes data as JSON and writes one frame.
func (w *Writer) WriteFrame(frameType FrameType, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("stream: encoding %s frame: %w", frameType, err)
	}
	if _, err := fmt.Fprintf(w.out, "event: %s\ndata: %s\n\n", frameType, payload); err != nil {
		return fmt.Errorf("stream: writing %s frame: %w", frameType, err)
	}
	w.flush()
	return nil
}

func (w *Writer) flush() {
	if w.flusher != nil {
		w.flusher.Flush()
	}
}

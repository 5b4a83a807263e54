// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// maxSSELine bounds a single SSE line. Provider deltas are small; a
// line this long means the body is not an event stream.
const maxSSELine = 1 << 20

// SSEEvent is one dispatched Server-Sent Event.
type SSEEvent struct {
	// Type is the "event:" field, empty for the default type.
	Type string

	// Data is every "data:" line of the event joined with "\n".
	Data string

	// ID is the last "id:" field seen, empty if none.
	ID string
}

// SSEScanner reads Server-Sent Events from an [io.Reader]. It parses
// provider token streams and, in tests, the frames written by the
// stream multiplexer.
//
//	scanner := NewSSEScanner(body)
//	for scanner.Next() {
//		handle(scanner.Event())
//	}
//	if err := scanner.Err(); err != nil { ... }
//
// Comment lines and unknown fields are skipped. A block with no data
// lines dispatches nothing.
type SSEScanner struct {
	lines   *bufio.Scanner
	current SSEEvent
	lastID  string
	err     error
}

// NewSSEScanner creates a scanner that reads SSE events from reader.
func NewSSEScanner(reader io.Reader) *SSEScanner {
	lines := bufio.NewScanner(reader)
	lines.Buffer(make([]byte, 0, 64*1024), maxSSELine)
	return &SSEScanner{lines: lines}
}

// Next advances to the next event. It returns false at the end of the
// stream or on a read error; see [SSEScanner.Err].
func (scanner *SSEScanner) Next() bool {
	var (
		data      strings.Builder
		eventType string
		hasData   bool
	)
	dispatch := func() bool {
		scanner.current = SSEEvent{Type: eventType, Data: data.String(), ID: scanner.lastID}
		return true
	}

	for scanner.lines.Scan() {
		line := strings.TrimSuffix(scanner.lines.Text(), "\r")
		if line == "" {
			if hasData {
				return dispatch()
			}
			eventType = ""
			continue
		}
		if line[0] == ':' {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		case "event":
			eventType = value
		case "id":
			if !strings.ContainsRune(value, 0) {
				scanner.lastID = value
			}
		}
	}

	if err := scanner.lines.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			err = errors.New("llm: SSE line exceeds 1 MiB")
		}
		scanner.err = err
		return false
	}
	// A final event without a trailing blank line is still delivered.
	if hasData {
		return dispatch()
	}
	return false
}

// Event returns the event read by the last successful Next.
func (scanner *SSEScanner) Event() SSEEvent {
	return scanner.current
}

// Err returns the read error that stopped Next, or nil at a clean end
// of stream.
func (scanner *SSEScanner) Err() error {
	return scanner.err
}

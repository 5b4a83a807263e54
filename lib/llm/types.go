// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package llm

// Role is the speaker of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of the conversation sent to the provider. The
// system prompt is carried separately in [Request.System].
type Message struct {
	Role    Role
	Content string
}

// Request is a completion request.
type Request struct {
	Model    string
	System   string
	Messages []Message

	// MaxTokens bounds the generated output.
	MaxTokens int

	// Temperature is optional; nil uses the provider default.
	Temperature *float64

	StopSequences []string
}

// StopReason says why generation ended.
type StopReason string

const (
	StopReasonEndTurn      StopReason = "end_turn"
	StopReasonMaxTokens    StopReason = "max_tokens"
	StopReasonStopSequence StopReason = "stop_sequence"
)

// Usage counts tokens for one request.
type Usage struct {
	InputTokens  int64
	OutputTokens int64

	// CacheReadTokens are input tokens served from the provider's
	// prompt cache. They are included in InputTokens.
	CacheReadTokens int64
}

// Response is a complete generation.
type Response struct {
	Content    string
	Model      string
	StopReason StopReason
	Usage      Usage
}

// EventType discriminates [StreamEvent].
type EventType string

const (
	// EventTextDelta carries the next fragment of generated text.
	EventTextDelta EventType = "text_delta"

	// EventPing is a provider keep-alive. It carries nothing.
	EventPing EventType = "ping"

	// EventDone ends a successful stream. The accumulated response is
	// available from [EventStream.Response].
	EventDone EventType = "done"

	// EventError reports an error the provider sent mid-stream.
	EventError EventType = "error"
)

// StreamEvent is one item of a streaming response.
type StreamEvent struct {
	Type  EventType
	Text  string
	Error error
}

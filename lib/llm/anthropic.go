// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DefaultAnthropicBaseURL is the public Anthropic API.
const DefaultAnthropicBaseURL = "https://api.anthropic.com"

// anthropicVersion is the Messages API version header value.
const anthropicVersion = "2023-06-01"

// defaultAnthropicMaxTokens is sent when the request leaves MaxTokens
// unset; the Messages API requires the field.
const defaultAnthropicMaxTokens = 1024

// AnthropicConfig holds the parameters for an Anthropic provider.
type AnthropicConfig struct {
	// BaseURL is the API root. Defaults to DefaultAnthropicBaseURL.
	BaseURL string

	// APIKey is sent in the x-api-key header.
	APIKey string

	HTTPClient *http.Client
}

// Anthropic implements [Provider] for the Anthropic Messages API.
type Anthropic struct {
	endpoint endpointConfig
}

// NewAnthropic creates an Anthropic provider.
func NewAnthropic(cfg AnthropicConfig) *Anthropic {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultAnthropicBaseURL
	}
	headers := map[string]string{"anthropic-version": anthropicVersion}
	if cfg.APIKey != "" {
		headers["x-api-key"] = cfg.APIKey
	}
	return &Anthropic{endpoint: endpointConfig{
		httpClient: defaultHTTPClient(cfg.HTTPClient),
		url:        joinURL(baseURL, "/v1/messages"),
		headers:    headers,
		prefix:     "llm/anthropic",
	}}
}

// Complete sends a non-streaming request and returns the full response.
func (provider *Anthropic) Complete(ctx context.Context, request Request) (*Response, error) {
	httpResponse, err := doProviderRequest(ctx, provider.endpoint, buildAnthropicRequest(request, false), false)
	if err != nil {
		return nil, err
	}
	return decodeResponse[anthropicResponse](httpResponse, provider.endpoint.prefix)
}

// Stream sends a streaming request and returns an [EventStream].
func (provider *Anthropic) Stream(ctx context.Context, request Request) (*EventStream, error) {
	httpResponse, err := doProviderRequest(ctx, provider.endpoint, buildAnthropicRequest(request, true), true)
	if err != nil {
		return nil, err
	}
	return newAnthropicEventStream(httpResponse.Body), nil
}

func buildAnthropicRequest(request Request, stream bool) anthropicRequest {
	wireRequest := anthropicRequest{
		Model:         request.Model,
		MaxTokens:     request.MaxTokens,
		System:        request.System,
		Stream:        stream,
		Temperature:   request.Temperature,
		StopSequences: request.StopSequences,
	}
	if wireRequest.MaxTokens <= 0 {
		wireRequest.MaxTokens = defaultAnthropicMaxTokens
	}
	for _, message := range request.Messages {
		wireRequest.Messages = append(wireRequest.Messages, anthropicMessage{
			Role:    string(message.Role),
			Content: []anthropicContentBlock{{Type: "text", Text: message.Content}},
		})
	}
	return wireRequest
}

// newAnthropicEventStream parses Anthropic SSE events. Input usage
// arrives in message_start and output usage in message_delta; only
// text_delta blocks are surfaced.
func newAnthropicEventStream(body io.ReadCloser) *EventStream {
	sseScanner := NewSSEScanner(body)
	stream := NewEventStream(nil, body)

	stream.next = func() (StreamEvent, error) {
		for {
			if !sseScanner.Next() {
				if err := sseScanner.Err(); err != nil {
					return StreamEvent{}, fmt.Errorf("llm/anthropic: reading SSE: %w", err)
				}
				return StreamEvent{}, io.EOF
			}

			sseEvent := sseScanner.Event()
			switch sseEvent.Type {
			case "message_start":
				var envelope struct {
					Message struct {
						Model string         `json:"model"`
						Usage anthropicUsage `json:"usage"`
					} `json:"message"`
				}
				if err := json.Unmarshal([]byte(sseEvent.Data), &envelope); err != nil {
					return StreamEvent{}, fmt.Errorf("llm/anthropic: parsing message_start: %w", err)
				}
				stream.SetModel(envelope.Message.Model)
				stream.SetUsage(envelope.Message.Usage.toUsage())

			case "content_block_delta":
				var envelope struct {
					Delta struct {
						Type string `json:"type"`
						Text string `json:"text"`
					} `json:"delta"`
				}
				if err := json.Unmarshal([]byte(sseEvent.Data), &envelope); err != nil {
					return StreamEvent{}, fmt.Errorf("llm/anthropic: parsing content_block_delta: %w", err)
				}
				if envelope.Delta.Type == "text_delta" && envelope.Delta.Text != "" {
					return StreamEvent{Type: EventTextDelta, Text: envelope.Delta.Text}, nil
				}

			case "message_delta":
				var envelope struct {
					Delta struct {
						StopReason string `json:"stop_reason"`
					} `json:"delta"`
					Usage struct {
						OutputTokens int64 `json:"output_tokens"`
					} `json:"usage"`
				}
				if err := json.Unmarshal([]byte(sseEvent.Data), &envelope); err != nil {
					return StreamEvent{}, fmt.Errorf("llm/anthropic: parsing message_delta: %w", err)
				}
				stream.SetStopReason(mapAnthropicStopReason(envelope.Delta.StopReason))
				stream.AddOutputTokens(envelope.Usage.OutputTokens)

			case "message_stop":
				return StreamEvent{Type: EventDone}, nil

			case "ping":
				return StreamEvent{Type: EventPing}, nil

			case "error":
				var envelope struct {
					Error struct {
						Type    string `json:"type"`
						Message string `json:"message"`
					} `json:"error"`
				}
				if json.Unmarshal([]byte(sseEvent.Data), &envelope) == nil && envelope.Error.Message != "" {
					return StreamEvent{
						Type:  EventError,
						Error: fmt.Errorf("llm/anthropic: stream error: %s: %s", envelope.Error.Type, envelope.Error.Message),
					}, nil
				}
				return StreamEvent{
					Type:  EventError,
					Error: fmt.Errorf("llm/anthropic: stream error: %s", sseEvent.Data),
				}, nil

			default:
				// content_block_start, content_block_stop, and event
				// types added later carry nothing we surface.
			}
		}
	}
	return stream
}

// --- Anthropic wire types ---

type anthropicRequest struct {
	Model         string             `json:"model"`
	MaxTokens     int                `json:"max_tokens"`
	System        string             `json:"system,omitempty"`
	Messages      []anthropicMessage `json:"messages"`
	Stream        bool               `json:"stream,omitempty"`
	Temperature   *float64           `json:"temperature,omitempty"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
}

type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicResponse struct {
	ID         string                  `json:"id"`
	Type       string                  `json:"type"`
	Role       string                  `json:"role"`
	Content    []anthropicContentBlock `json:"content"`
	Model      string                  `json:"model"`
	StopReason string                  `json:"stop_reason"`
	Usage      anthropicUsage          `json:"usage"`
}

type anthropicUsage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
}

// toUsage folds cache reads and writes into InputTokens: Anthropic
// reports them separately but bills them as input.
func (usage anthropicUsage) toUsage() Usage {
	return Usage{
		InputTokens:     usage.InputTokens + usage.CacheReadInputTokens + usage.CacheCreationInputTokens,
		OutputTokens:    usage.OutputTokens,
		CacheReadTokens: usage.CacheReadInputTokens,
	}
}

func (wire *anthropicResponse) toResponse() *Response {
	var text strings.Builder
	for _, block := range wire.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return &Response{
		Content:    text.String(),
		Model:      wire.Model,
		StopReason: mapAnthropicStopReason(wire.StopReason),
		Usage:      wire.Usage.toUsage(),
	}
}

func mapAnthropicStopReason(reason string) StopReason {
	switch reason {
	case "end_turn":
		return StopReasonEndTurn
	case "max_tokens":
		return StopReasonMaxTokens
	case "stop_sequence":
		return StopReasonStopSequence
	default:
		return StopReason(reason)
	}
}

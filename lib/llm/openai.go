// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// DefaultOpenAIBaseURL is the public OpenAI API.
const DefaultOpenAIBaseURL = "https://api.openai.com"

// OpenAIConfig holds the parameters for an OpenAI provider.
type OpenAIConfig struct {
	// BaseURL is the API root without the /v1 path. Any server
	// implementing the Chat Completions wire format works (Azure
	// OpenAI, OpenRouter, vLLM, Ollama). Defaults to
	// DefaultOpenAIBaseURL.
	BaseURL string

	// APIKey is sent as a bearer token. Empty sends no Authorization
	// header, for local servers.
	APIKey string

	// HTTPClient defaults to a client with no timeout; streaming
	// requests are bounded by their context instead.
	HTTPClient *http.Client
}

// OpenAI implements [Provider] for the OpenAI Chat Completions API.
type OpenAI struct {
	endpoint endpointConfig
}

// NewOpenAI creates an OpenAI-compatible provider.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	headers := map[string]string{}
	if cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + cfg.APIKey
	}
	return &OpenAI{endpoint: endpointConfig{
		httpClient: defaultHTTPClient(cfg.HTTPClient),
		url:        joinURL(baseURL, "/v1/chat/completions"),
		headers:    headers,
		prefix:     "llm/openai",
	}}
}

// Complete sends a non-streaming request and returns the full response.
func (provider *OpenAI) Complete(ctx context.Context, request Request) (*Response, error) {
	httpResponse, err := doProviderRequest(ctx, provider.endpoint, buildOpenAIRequest(request, false), false)
	if err != nil {
		return nil, err
	}
	return decodeResponse[openaiResponse](httpResponse, provider.endpoint.prefix)
}

// Stream sends a streaming request and returns an [EventStream].
func (provider *OpenAI) Stream(ctx context.Context, request Request) (*EventStream, error) {
	httpResponse, err := doProviderRequest(ctx, provider.endpoint, buildOpenAIRequest(request, true), true)
	if err != nil {
		return nil, err
	}
	return newOpenAIEventStream(httpResponse.Body), nil
}

// buildOpenAIRequest converts our types to the OpenAI wire format.
// The system prompt becomes the first message with role "system".
func buildOpenAIRequest(request Request, stream bool) openaiRequest {
	wireRequest := openaiRequest{
		Model:       request.Model,
		MaxTokens:   request.MaxTokens,
		Temperature: request.Temperature,
		Stop:        request.StopSequences,
	}
	if stream {
		wireRequest.Stream = true
		wireRequest.StreamOptions = &openaiStreamOptions{IncludeUsage: true}
	}

	if request.System != "" {
		wireRequest.Messages = append(wireRequest.Messages, openaiMessage{Role: "system", Content: request.System})
	}
	for _, message := range request.Messages {
		wireRequest.Messages = append(wireRequest.Messages, openaiMessage{
			Role:    string(message.Role),
			Content: message.Content,
		})
	}
	return wireRequest
}

// newOpenAIEventStream parses OpenAI SSE chunks. Text arrives as
// choice deltas; with stream_options.include_usage the usage arrives
// on a final chunk with no choices, just before "data: [DONE]".
func newOpenAIEventStream(body io.ReadCloser) *EventStream {
	sseScanner := NewSSEScanner(body)
	var modelSet bool

	stream := NewEventStream(nil, body)
	stream.next = func() (StreamEvent, error) {
		for {
			if !sseScanner.Next() {
				if err := sseScanner.Err(); err != nil {
					return StreamEvent{}, fmt.Errorf("llm/openai: reading SSE: %w", err)
				}
				return StreamEvent{}, io.EOF
			}

			sseEvent := sseScanner.Event()
			if sseEvent.Data == "[DONE]" {
				return StreamEvent{Type: EventDone}, nil
			}

			var chunk openaiStreamChunk
			if err := json.Unmarshal([]byte(sseEvent.Data), &chunk); err != nil {
				return StreamEvent{}, fmt.Errorf("llm/openai: parsing stream chunk: %w", err)
			}

			// Errors arrive as ordinary data lines carrying an "error"
			// object and none of the completion fields.
			if chunk.Error != nil && len(chunk.Choices) == 0 {
				return StreamEvent{
					Type:  EventError,
					Error: fmt.Errorf("llm/openai: stream error: %s: %s", chunk.Error.Type, chunk.Error.Message),
				}, nil
			}

			if !modelSet && chunk.Model != "" {
				stream.SetModel(chunk.Model)
				modelSet = true
			}
			if chunk.Usage != nil {
				stream.SetUsage(chunk.Usage.toUsage())
			}
			if len(chunk.Choices) == 0 {
				continue
			}

			choice := chunk.Choices[0]
			if choice.FinishReason != nil {
				stream.SetStopReason(mapOpenAIFinishReason(*choice.FinishReason))
			}
			if choice.Delta.Content != "" {
				return StreamEvent{Type: EventTextDelta, Text: choice.Delta.Content}, nil
			}
		}
	}
	return stream
}

// --- OpenAI wire types ---

type openaiRequest struct {
	Model         string               `json:"model"`
	Messages      []openaiMessage      `json:"messages"`
	MaxTokens     int                  `json:"max_tokens,omitempty"`
	Temperature   *float64             `json:"temperature,omitempty"`
	Stop          []string             `json:"stop,omitempty"`
	Stream        bool                 `json:"stream,omitempty"`
	StreamOptions *openaiStreamOptions `json:"stream_options,omitempty"`
}

type openaiStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []openaiChoice `json:"choices"`
	Usage   openaiUsage    `json:"usage"`
}

type openaiChoice struct {
	Index        int           `json:"index"`
	Message      openaiMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openaiUsage struct {
	PromptTokens        int64                      `json:"prompt_tokens"`
	CompletionTokens    int64                      `json:"completion_tokens"`
	PromptTokensDetails *openaiPromptTokensDetails `json:"prompt_tokens_details,omitempty"`
}

type openaiPromptTokensDetails struct {
	CachedTokens int64 `json:"cached_tokens"`
}

func (usage openaiUsage) toUsage() Usage {
	result := Usage{
		InputTokens:  usage.PromptTokens,
		OutputTokens: usage.CompletionTokens,
	}
	if usage.PromptTokensDetails != nil {
		result.CacheReadTokens = usage.PromptTokensDetails.CachedTokens
	}
	return result
}

type openaiStreamChunk struct {
	ID      string               `json:"id"`
	Model   string               `json:"model"`
	Choices []openaiStreamChoice `json:"choices"`
	Usage   *openaiUsage         `json:"usage,omitempty"`
	Error   *openaiStreamError   `json:"error,omitempty"`
}

type openaiStreamError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type openaiStreamChoice struct {
	Index        int               `json:"index"`
	Delta        openaiStreamDelta `json:"delta"`
	FinishReason *string           `json:"finish_reason"`
}

type openaiStreamDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

func (wire *openaiResponse) toResponse() *Response {
	response := &Response{
		Model: wire.Model,
		Usage: wire.Usage.toUsage(),
	}
	if len(wire.Choices) == 0 {
		return response
	}
	choice := wire.Choices[0]
	response.StopReason = mapOpenAIFinishReason(choice.FinishReason)
	response.Content = choice.Message.Content
	return response
}

func mapOpenAIFinishReason(reason string) StopReason {
	switch reason {
	case "stop":
		return StopReasonEndTurn
	case "length":
		return StopReasonMaxTokens
	default:
		// Unknown reasons (e.g. "content_filter") are kept as-is.
		return StopReason(reason)
	}
}

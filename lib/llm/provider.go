// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/bureau-foundation/chatcore/lib/netutil"
)

// Provider is the interface for completion API backends.
type Provider interface {
	// Complete sends a request and blocks until the full response
	// is available.
	Complete(ctx context.Context, request Request) (*Response, error)

	// Stream sends a request and returns an [EventStream] that yields
	// events as they arrive. The caller must call [EventStream.Close]
	// when done, even if iteration ended early. Cancelling ctx aborts
	// the underlying HTTP request.
	Stream(ctx context.Context, request Request) (*EventStream, error)
}

// nextFunc is the iteration function for an EventStream. Returns
// io.EOF when the stream is complete.
type nextFunc func() (StreamEvent, error)

// EventStream reads streaming events from a provider response. It
// yields [StreamEvent] values via [EventStream.Next] while
// accumulating the complete [Response]. After Next returns [io.EOF],
// call [EventStream.Response] to retrieve the result.
//
// Next is not safe for concurrent use; Response may be called from
// another goroutine.
type EventStream struct {
	next   nextFunc
	closer io.Closer

	mutex    sync.Mutex
	response Response
	text     strings.Builder
	done     bool
}

// NewEventStream creates an EventStream from a provider-specific
// iteration function and the underlying resource to close. Test
// providers use it to script streams.
func NewEventStream(next func() (StreamEvent, error), closer io.Closer) *EventStream {
	return &EventStream{next: next, closer: closer}
}

// Next returns the next event. Returns io.EOF when the stream is
// complete.
func (stream *EventStream) Next() (StreamEvent, error) {
	if stream.done {
		return StreamEvent{}, io.EOF
	}

	event, err := stream.next()
	if err != nil {
		if err == io.EOF {
			stream.done = true
		}
		return event, err
	}

	if event.Type == EventTextDelta {
		stream.mutex.Lock()
		stream.text.WriteString(event.Text)
		stream.mutex.Unlock()
	}
	return event, nil
}

// Response returns the accumulated response. Before the stream ends
// it holds whatever has arrived so far.
func (stream *EventStream) Response() Response {
	stream.mutex.Lock()
	defer stream.mutex.Unlock()
	response := stream.response
	response.Content = stream.text.String()
	return response
}

// Close releases the underlying resources.
func (stream *EventStream) Close() error {
	if stream.closer != nil {
		return stream.closer.Close()
	}
	return nil
}

// SetStopReason records the stop reason. Called by providers while
// parsing.
func (stream *EventStream) SetStopReason(reason StopReason) {
	stream.mutex.Lock()
	defer stream.mutex.Unlock()
	stream.response.StopReason = reason
}

// SetUsage records usage. Called by providers while parsing.
func (stream *EventStream) SetUsage(usage Usage) {
	stream.mutex.Lock()
	defer stream.mutex.Unlock()
	stream.response.Usage = usage
}

// SetModel records the model name. Called by providers while parsing.
func (stream *EventStream) SetModel(model string) {
	stream.mutex.Lock()
	defer stream.mutex.Unlock()
	stream.response.Model = model
}

// AddOutputTokens increments the output token count, for providers
// that report usage incrementally.
func (stream *EventStream) AddOutputTokens(count int64) {
	stream.mutex.Lock()
	defer stream.mutex.Unlock()
	stream.response.Usage.OutputTokens += count
}

// ProviderError is returned when the API responds with an error
// status.
type ProviderError struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// Type is the provider-specific error type string
	// (e.g., "invalid_request_error", "rate_limit_error").
	Type string

	// Message is the human-readable error description.
	Message string
}

func (err *ProviderError) Error() string {
	if err.Type != "" {
		return fmt.Sprintf("llm: HTTP %d: %s: %s", err.StatusCode, err.Type, err.Message)
	}
	return fmt.Sprintf("llm: HTTP %d: %s", err.StatusCode, err.Message)
}

// IsAuth reports invalid credentials (401) or permission denied
// (403). Retrying cannot fix either.
func (err *ProviderError) IsAuth() bool {
	return err.StatusCode == http.StatusUnauthorized || err.StatusCode == http.StatusForbidden
}

// IsRateLimited reports a provider rate limit (429).
func (err *ProviderError) IsRateLimited() bool {
	return err.StatusCode == http.StatusTooManyRequests
}

// IsOverloaded reports a server overload response (529).
func (err *ProviderError) IsOverloaded() bool {
	return err.StatusCode == 529
}

// endpointConfig is what doProviderRequest needs from a provider.
type endpointConfig struct {
	httpClient *http.Client
	url        string
	headers    map[string]string
	prefix     string
}

// doProviderRequest marshals wireRequest as JSON and POSTs it. Returns
// a ProviderError for non-200 status codes. When streaming is true,
// the Accept header is set to text/event-stream.
//
// On success the caller is responsible for closing the response body.
// On error the body is already closed.
func doProviderRequest(ctx context.Context, endpoint endpointConfig, wireRequest any, streaming bool) (*http.Response, error) {
	body, err := json.Marshal(wireRequest)
	if err != nil {
		return nil, fmt.Errorf("%s: marshaling request: %w", endpoint.prefix, err)
	}

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: creating request: %w", endpoint.prefix, err)
	}
	httpRequest.Header.Set("Content-Type", "application/json")
	if streaming {
		httpRequest.Header.Set("Accept", "text/event-stream")
	}
	for name, value := range endpoint.headers {
		httpRequest.Header.Set(name, value)
	}

	httpResponse, err := endpoint.httpClient.Do(httpRequest)
	if err != nil {
		return nil, fmt.Errorf("%s: sending request: %w", endpoint.prefix, err)
	}

	if httpResponse.StatusCode != http.StatusOK {
		defer httpResponse.Body.Close()
		return nil, readProviderError(httpResponse)
	}

	return httpResponse, nil
}

// wireResponse is implemented by pointer-to-struct types that can
// convert themselves from JSON wire format to the common Response.
type wireResponse[T any] interface {
	*T
	toResponse() *Response
}

// decodeResponse reads an HTTP response body as JSON into a
// provider-specific wire type and converts it. The body is closed
// when this function returns.
func decodeResponse[T any, P wireResponse[T]](httpResponse *http.Response, prefix string) (*Response, error) {
	defer httpResponse.Body.Close()

	wire := P(new(T))
	if err := netutil.DecodeResponse(httpResponse.Body, wire); err != nil {
		return nil, fmt.Errorf("%s: decoding response: %w", prefix, err)
	}
	return wire.toResponse(), nil
}

// readProviderError parses an error body in the format shared by
// Anthropic, OpenAI, and compatible APIs:
// {"error":{"type":"...","message":"..."}}.
func readProviderError(httpResponse *http.Response) error {
	body := netutil.ErrorBody(httpResponse.Body)

	var wireError struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal([]byte(body), &wireError) == nil && wireError.Error.Message != "" {
		return &ProviderError{
			StatusCode: httpResponse.StatusCode,
			Type:       wireError.Error.Type,
			Message:    wireError.Error.Message,
		}
	}

	return &ProviderError{
		StatusCode: httpResponse.StatusCode,
		Message:    body,
	}
}

// joinURL appends path to base without doubling slashes.
func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + path
}

func defaultHTTPClient(client *http.Client) *http.Client {
	if client != nil {
		return client
	}
	return &http.Client{}
}

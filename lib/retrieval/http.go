// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/bureau-foundation/chatcore/lib/netutil"
)

// HTTPRetriever queries an embedding index over HTTP:
//
//	POST {endpoint}
//	{"query": "...", "scope": ["v1"], "limit": 5}
//	→ {"chunks": [{"sourceId": "v1", "sourceTitle": "...", ...}]}
type HTTPRetriever struct {
	endpoint   string
	limit      int
	httpClient *http.Client
}

// NewHTTPRetriever creates a client for the index at endpoint. limit
// is the number of chunks requested per search.
func NewHTTPRetriever(endpoint string, limit int, timeout time.Duration) *HTTPRetriever {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPRetriever{
		endpoint:   endpoint,
		limit:      limit,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type searchRequest struct {
	Query string   `json:"query"`
	Scope []string `json:"scope,omitempty"`
	Limit int      `json:"limit,omitempty"`
}

// wireChunk uses pointers so that absent fields can be told apart
// from zero values.
type wireChunk struct {
	SourceID           *string  `json:"sourceId"`
	SourceTitle        string   `json:"sourceTitle"`
	StartOffsetSeconds float64  `json:"startOffsetSeconds"`
	Text               *string  `json:"text"`
	Similarity         *float64 `json:"similarity"`
}

// Search sends the query to the index.
func (r *HTTPRetriever) Search(ctx context.Context, query string, scope []string) ([]RetrievedChunk, error) {
	body, err := json.Marshal(searchRequest{Query: query, Scope: scope, Limit: r.limit})
	if err != nil {
		return nil, fmt.Errorf("retrieval: marshaling request: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("retrieval: creating request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := r.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("retrieval: sending request: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("retrieval: HTTP %d: %s", response.StatusCode, netutil.ErrorBody(response.Body))
	}

	var decoded struct {
		Chunks []wireChunk `json:"chunks"`
	}
	if err := netutil.DecodeResponse(response.Body, &decoded); err != nil {
		return nil, fmt.Errorf("retrieval: decoding response: %w", err)
	}

	chunks := make([]RetrievedChunk, 0, len(decoded.Chunks))
	for i, wire := range decoded.Chunks {
		if wire.SourceID == nil {
			return nil, fmt.Errorf("%w: chunk %d: sourceId absent", ErrMalformedChunk, i)
		}
		if wire.Text == nil {
			return nil, fmt.Errorf("%w: chunk %d: text absent", ErrMalformedChunk, i)
		}
		chunk := RetrievedChunk{
			SourceID:           *wire.SourceID,
			SourceTitle:        wire.SourceTitle,
			StartOffsetSeconds: int(wire.StartOffsetSeconds),
			Text:               *wire.Text,
		}
		if wire.Similarity != nil {
			chunk.Similarity = *wire.Similarity
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package llmtest provides a scripted [llm.Provider] for tests.
package llmtest

import (
	"context"
	"io"
	"sync"

	"github.com/bureau-foundation/chatcore/lib/llm"
)

// Provider is an llm.Provider whose behavior is supplied by the test.
// A nil func fails the call with io.ErrUnexpectedEOF.
type Provider struct {
	// CompleteFunc handles Complete. call is 1-based.
	CompleteFunc func(ctx context.Context, call int, request llm.Request) (*llm.Response, error)

	// StreamFunc handles Stream. call is 1-based.
	StreamFunc func(ctx context.Context, call int, request llm.Request) (*llm.EventStream, error)

	mutex         sync.Mutex
	completeCalls int
	streamCalls   int
	requests      []llm.Request
}

var _ llm.Provider = (*Provider)(nil)

func (p *Provider) Complete(ctx context.Context, request llm.Request) (*llm.Response, error) {
	p.mutex.Lock()
	p.completeCalls++
	call := p.completeCalls
	p.requests = append(p.requests, request)
	p.mutex.Unlock()

	if p.CompleteFunc == nil {
		return nil, io.ErrUnexpectedEOF
	}
	return p.CompleteFunc(ctx, call, request)
}

func (p *Provider) Stream(ctx context.Context, request llm.Request) (*llm.EventStream, error) {
	p.mutex.Lock()
	p.streamCalls++
	call := p.streamCalls
	p.requests = append(p.requests, request)
	p.mutex.Unlock()

	if p.StreamFunc == nil {
		return nil, io.ErrUnexpectedEOF
	}
	return p.StreamFunc(ctx, call, request)
}

// Calls returns the total number of Complete and Stream calls.
func (p *Provider) Calls() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.completeCalls + p.streamCalls
}

// Requests returns a copy of every request received, in order.
func (p *Provider) Requests() []llm.Request {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return append([]llm.Request(nil), p.requests...)
}

// Reply returns a CompleteFunc that always answers with text.
func Reply(model, text string, usage llm.Usage) func(context.Context, int, llm.Request) (*llm.Response, error) {
	return func(context.Context, int, llm.Request) (*llm.Response, error) {
		return &llm.Response{
			Content:    text,
			Model:      model,
			StopReason: llm.StopReasonEndTurn,
			Usage:      usage,
		}, nil
	}
}

// Script returns a stream that yields one text delta per chunk, then
// a done event carrying model and usage.
func Script(model string, usage llm.Usage, chunks ...string) *llm.EventStream {
	index := 0
	var stream *llm.EventStream
	stream = llm.NewEventStream(func() (llm.StreamEvent, error) {
		switch {
		case index < len(chunks):
			index++
			return llm.StreamEvent{Type: llm.EventTextDelta, Text: chunks[index-1]}, nil
		case index == len(chunks):
			index++
			stream.SetModel(model)
			stream.SetUsage(usage)
			stream.SetStopReason(llm.StopReasonEndTurn)
			return llm.StreamEvent{Type: llm.EventDone}, nil
		default:
			return llm.StreamEvent{}, io.EOF
		}
	}, nil)
	return stream
}

// Fail returns a stream that yields the chunks and then fails with
// err.
func Fail(err error, chunks ...string) *llm.EventStream {
	index := 0
	return llm.NewEventStream(func() (llm.StreamEvent, error) {
		if index < len(chunks) {
			index++
			return llm.StreamEvent{Type: llm.EventTextDelta, Text: chunks[index-1]}, nil
		}
		return llm.StreamEvent{}, err
	}, nil)
}

// Hang returns a stream that yields the chunks and then blocks until
// ctx is done.
func Hang(ctx context.Context, chunks ...string) *llm.EventStream {
	index := 0
	return llm.NewEventStream(func() (llm.StreamEvent, error) {
		if index < len(chunks) {
			index++
			return llm.StreamEvent{Type: llm.EventTextDelta, Text: chunks[index-1]}, nil
		}
		<-ctx.Done()
		return llm.StreamEvent{}, ctx.Err()
	}, nil)
}

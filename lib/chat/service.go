// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/bureau-foundation/chatcore/lib/cache"
	"github.com/bureau-foundation/chatcore/lib/clock"
	"github.com/bureau-foundation/chatcore/lib/completion"
	"github.com/bureau-foundation/chatcore/lib/llm"
	"github.com/bureau-foundation/chatcore/lib/model"
	"github.com/bureau-foundation/chatcore/lib/prompt"
	"github.com/bureau-foundation/chatcore/lib/ratelimit"
	"github.com/bureau-foundation/chatcore/lib/retrieval"
	"github.com/bureau-foundation/chatcore/lib/stream"
	"github.com/bureau-foundation/chatcore/lib/usage"
)

// DefaultHistoryTurns is how many prior turns are sent to the model.
const DefaultHistoryTurns = 6

// Config holds the collaborators of a Service. Cache and Turns are
// optional; everything else is required.
type Config struct {
	Registry *model.Registry

	// ModelID is the environment-level model selection. An unknown id
	// falls back to the registry default with a warning.
	ModelID         string
	MaxOutputTokens int
	Temperature     *float64

	Retriever    retrieval.Retriever
	Turns        retrieval.TurnStore
	HistoryTurns int
	MaxChunks    int

	Cache       *cache.Cache
	Limiter     *ratelimit.Limiter
	Engine      *completion.Engine
	Tracker     *usage.Tracker
	Multiplexer *stream.Multiplexer

	Clock  clock.Clock
	Logger *slog.Logger
}

// Service answers chat requests. Safe for concurrent use; requests
// share no mutable state beyond the stores behind its collaborators.
type Service struct {
	registry        *model.Registry
	model           model.Model
	maxOutputTokens int
	temperature     *float64

	retriever    retrieval.Retriever
	turns        retrieval.TurnStore
	historyTurns int
	maxChunks    int

	cache       *cache.Cache
	limiter     *ratelimit.Limiter
	engine      *completion.Engine
	tracker     *usage.Tracker
	multiplexer *stream.Multiplexer

	clock  clock.Clock
	logger *slog.Logger
}

// New creates a Service.
func New(cfg Config) (*Service, error) {
	switch {
	case cfg.Registry == nil:
		return nil, errors.New("chat: Registry is required")
	case cfg.Retriever == nil:
		return nil, errors.New("chat: Retriever is required")
	case cfg.Limiter == nil:
		return nil, errors.New("chat: Limiter is required")
	case cfg.Engine == nil:
		return nil, errors.New("chat: Engine is required")
	case cfg.Tracker == nil:
		return nil, errors.New("chat: Tracker is required")
	}

	service := &Service{
		registry:        cfg.Registry,
		maxOutputTokens: cfg.MaxOutputTokens,
		temperature:     cfg.Temperature,
		retriever:       retrieval.Validated(cfg.Retriever),
		turns:           cfg.Turns,
		historyTurns:    cfg.HistoryTurns,
		maxChunks:       cfg.MaxChunks,
		cache:           cfg.Cache,
		limiter:         cfg.Limiter,
		engine:          cfg.Engine,
		tracker:         cfg.Tracker,
		multiplexer:     cfg.Multiplexer,
		clock:           cfg.Clock,
		logger:          cfg.Logger,
	}
	if service.clock == nil {
		service.clock = clock.Real()
	}
	if service.logger == nil {
		service.logger = slog.New(slog.DiscardHandler)
	}
	if service.multiplexer == nil {
		service.multiplexer = stream.New(stream.Config{Clock: service.clock, Logger: service.logger})
	}
	if service.historyTurns <= 0 {
		service.historyTurns = DefaultHistoryTurns
	}
	if service.maxChunks <= 0 {
		service.maxChunks = prompt.DefaultMaxChunks
	}
	service.model = cfg.Registry.Resolve(cfg.ModelID, service.logger)
	if service.maxOutputTokens <= 0 {
		service.maxOutputTokens = service.model.MaxOutputTokens
	}
	return service, nil
}

// Model returns the active model.
func (s *Service) Model() model.Model {
	return s.model
}

// turn is a request that passed admission and retrieval.
type turn struct {
	request Request
	query   string
	logger  *slog.Logger

	chunks []retrieval.RetrievedChunk
	prompt prompt.AssembledPrompt

	// cached is set on a cache hit.
	cached *cache.Entry
}

// prepare runs everything up to the provider call.
func (s *Service) prepare(ctx context.Context, request Request) (*turn, error) {
	plan, err := validate(request)
	if err != nil {
		return nil, err
	}
	logger := s.logger.With(
		"tenant_id", request.TenantID,
		"user_id", request.UserID,
		"tier", plan,
	)

	decision, err := s.limiter.Check(ctx, request.UserID, request.TenantID, plan)
	if err != nil {
		return nil, &UnavailableError{RetryAfterSeconds: max(decision.RetryAfterSeconds, 1), Err: err}
	}
	if !decision.Allowed {
		logger.Info("chat request rate limited",
			"limited_by", decision.LimitedBy,
			"window", decision.Window,
			"retry_after_seconds", decision.RetryAfterSeconds,
		)
		return nil, &RateLimitError{Decision: decision}
	}

	current := &turn{
		request: request,
		query:   strings.TrimSpace(request.Query),
		logger:  logger,
	}

	history := s.history(ctx, request, logger)

	chunks, err := s.retriever.Search(ctx, current.query, request.Scope)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Warn("retrieval failed", "error", err)
		return nil, &UnavailableError{RetryAfterSeconds: DefaultRetryAfterSeconds, Err: err}
	}
	current.chunks = chunks
	current.prompt = prompt.Assemble(current.query, history, chunks, s.maxChunks)
	if current.prompt.Fallback {
		return current, nil
	}

	if s.cache != nil {
		if entry, hit := s.cache.Lookup(ctx, current.query, chunks); hit {
			current.cached = entry
		}
	}
	return current, nil
}

// history returns the bounded window of prior turns. Store failures
// are logged and yield no history.
func (s *Service) history(ctx context.Context, request Request, logger *slog.Logger) []retrieval.Turn {
	turns := request.ConversationHistory
	if len(turns) == 0 && request.SessionID != "" && s.turns != nil {
		loaded, err := s.turns.LoadRecentTurns(ctx, request.SessionID, s.historyTurns)
		if err != nil {
			logger.Warn("loading conversation turns failed", "session_id", request.SessionID, "error", err)
			return nil
		}
		turns = loaded
	}
	if len(turns) > s.historyTurns {
		turns = turns[len(turns)-s.historyTurns:]
	}
	return turns
}

func (s *Service) providerRequest(assembled prompt.AssembledPrompt) llm.Request {
	messages := make([]llm.Message, 0, len(assembled.History)+1)
	for _, prior := range assembled.History {
		messages = append(messages, llm.Message{Role: llm.Role(prior.Role), Content: prior.Content})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: assembled.UserTurn})
	return llm.Request{
		Model:       s.model.ID,
		System:      assembled.System(),
		Messages:    messages,
		MaxTokens:   s.maxOutputTokens,
		Temperature: s.temperature,
	}
}

// settle prices a finished completion, records usage, and caches it.
// It runs after the terminal event, so it ignores cancellation of ctx.
func (s *Service) settle(ctx context.Context, current *turn, content string, tokens llm.Usage) Response {
	ctx = context.WithoutCancel(ctx)
	response := Response{
		Content:      content,
		Citations:    prompt.ExtractCitations(content, current.prompt.Chunks),
		Model:        s.model.ID,
		InputTokens:  tokens.InputTokens,
		OutputTokens: tokens.OutputTokens,
		CostUSD:      s.model.Cost(tokens.InputTokens, tokens.OutputTokens),
	}
	if response.Citations == nil {
		response.Citations = []prompt.Citation{}
	}

	s.tracker.Track(ctx, current.request.TenantID, tokens.InputTokens, tokens.OutputTokens, s.model.ID)
	if s.cache != nil {
		s.cache.Store(ctx, current.query, current.chunks, cache.Result{
			Content:      response.Content,
			Citations:    response.Citations,
			ModelID:      response.Model,
			InputTokens:  response.InputTokens,
			OutputTokens: response.OutputTokens,
			CostUSD:      response.CostUSD,
		})
	}

	current.logger.Info("chat answered",
		"model", response.Model,
		"input_tokens", response.InputTokens,
		"output_tokens", response.OutputTokens,
		"cost_usd", response.CostUSD,
		"citations", len(response.Citations),
	)
	return response
}

// cachedResponse renders a cache hit. Nothing is billed.
func cachedResponse(entry *cache.Entry) Response {
	citations := entry.Result.Citations
	if citations == nil {
		citations = []prompt.Citation{}
	}
	return Response{
		Content:   entry.Result.Content,
		Citations: citations,
		Model:     entry.Result.ModelID,
		Cached:    true,
	}
}

func (s *Service) fallbackResponse() Response {
	return Response{
		Content:   prompt.FallbackAnswer,
		Citations: []prompt.Citation{},
		Model:     s.model.ID,
	}
}

// classify maps a completion failure onto the error taxonomy.
func (s *Service) classify(logger *slog.Logger, err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, stream.ErrTimeout):
		return err
	case completion.IsAuth(err):
		logger.Error("provider rejected credentials", "model", s.model.ID, "error", err)
		return &ProviderAuthError{Err: err}
	default:
		logger.Warn("completion failed", "model", s.model.ID, "error", err)
		return &UnavailableError{RetryAfterSeconds: DefaultRetryAfterSeconds, Err: err}
	}
}

// Chat answers request in one response.
func (s *Service) Chat(ctx context.Context, request Request) (*Response, error) {
	current, err := s.prepare(ctx, request)
	if err != nil {
		return nil, err
	}
	if current.prompt.Fallback {
		current.logger.Info("no relevant context, returning fallback answer")
		response := s.fallbackResponse()
		return &response, nil
	}
	if current.cached != nil {
		current.logger.Info("chat answered from cache", "hit_count", current.cached.HitCount)
		response := cachedResponse(current.cached)
		return &response, nil
	}

	result, err := s.engine.Complete(ctx, s.providerRequest(current.prompt))
	if err != nil {
		return nil, s.classify(current.logger, err)
	}
	response := s.settle(ctx, current, result.Content, result.Usage)
	return &response, nil
}

// StreamChat answers request as Server-Sent Events written to out.
// Failures before the first frame (validation, rate limiting,
// retrieval) are returned and nothing is written. Once streaming has
// started, failures are reported in-band and the error is nil.
func (s *Service) StreamChat(ctx context.Context, request Request, out io.Writer) error {
	current, err := s.prepare(ctx, request)
	if err != nil {
		return err
	}

	writer := stream.NewWriter(out)
	streamContext, cancel := context.WithCancel(ctx)
	defer cancel()

	var session stream.Session
	switch {
	case current.prompt.Fallback:
		current.logger.Info("no relevant context, streaming fallback answer")
		fallback := s.fallbackResponse()
		session = replay(fallback)
	case current.cached != nil:
		current.logger.Info("chat answered from cache", "hit_count", current.cached.HitCount)
		session = replay(cachedResponse(current.cached))
	default:
		session = stream.Session{
			Events: s.engine.Stream(streamContext, s.providerRequest(current.prompt)),
			Finish: func(done completion.Event, content string) (stream.DoneData, error) {
				response := s.settle(ctx, current, content, done.Usage)
				return doneData(response), nil
			},
		}
	}
	session.Cancel = cancel
	session.Describe = func(err error) string {
		return UserMessage(s.classify(current.logger, err))
	}

	result := s.multiplexer.Run(ctx, writer, session)
	switch result.Outcome {
	case stream.OutcomeDisconnected:
		current.logger.Info("chat stream abandoned by client", "content_bytes", len(result.Content))
	case stream.OutcomeTimeout:
		current.logger.Warn("chat stream timed out", "content_bytes", len(result.Content))
	}
	return nil
}

// replay streams an already-known response as one content event and a
// done event.
func replay(response Response) stream.Session {
	events := make(chan completion.Event, 2)
	events <- completion.Event{Type: completion.EventContent, Text: response.Content}
	events <- completion.Event{Type: completion.EventDone, Model: response.Model}
	close(events)
	return stream.Session{
		Events: events,
		Finish: func(completion.Event, string) (stream.DoneData, error) {
			return doneData(response), nil
		},
	}
}

func doneData(response Response) stream.DoneData {
	return stream.DoneData{
		Usage: stream.Usage{
			InputTokens:  response.InputTokens,
			OutputTokens: response.OutputTokens,
		},
		Citations: response.Citations,
		Model:     response.Model,
		CostUSD:   response.CostUSD,
		Cached:    response.Cached,
	}
}

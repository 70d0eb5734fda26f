// Package conversation runs one inbound chat turn through admission, memory
// recall, the chat model and memory write-back.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kataras/golog"
	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/memorybot/internal/extractor"
	"github.com/ent0n29/memorybot/internal/llm"
	"github.com/ent0n29/memorybot/internal/memory"
	"github.com/ent0n29/memorybot/internal/observability"
	"github.com/ent0n29/memorybot/internal/policy"
	"github.com/ent0n29/memorybot/internal/rag"
	"github.com/ent0n29/memorybot/internal/ratelimit"
)

const (
	ResetCommand = "/reset"
	ResetReply   = "Memory cleared."
	StuckReply   = "I thought about it for a moment but got a little stuck."

	DefaultBusyReply = "Sorry, I'm having trouble right now. Please try again in a moment."

	chatTemperature = 0.7
	chatMaxTokens   = 800
	memorySource    = "llm_extractor"
)

var (
	ErrRateLimited    = errors.New("rate limited")
	ErrEmptyMessage   = errors.New("empty message")
	ErrNoConversation = errors.New("conversation id could not be resolved")
)

// HistoryStore is the short-term turn log.
type HistoryStore interface {
	Load(ctx context.Context, conversationID string, limit int) ([]memory.Message, error)
	Append(ctx context.Context, conversationID string, role memory.Role, content string) error
	Reset(ctx context.Context, conversationID string) error
}

// MemoryIndex is the long-term vector memory.
type MemoryIndex interface {
	Upsert(ctx context.Context, conversationID string, item memory.NewItem) (string, error)
	Query(ctx context.Context, conversationID string, queryEmbedding []float32, topK int) []memory.Hit
}

// FactExtractor classifies a user message for long-term storage.
type FactExtractor interface {
	Evaluate(ctx context.Context, message string) extractor.Decision
}

// Dependencies are the collaborators a Service drives.
type Dependencies struct {
	History   HistoryStore
	Memories  MemoryIndex
	Extractor FactExtractor
	Chat      llm.ChatProvider
	Embedder  llm.EmbeddingProvider
	Limiter   ratelimit.Limiter
	Redactor  *policy.Redactor
	Metrics   *observability.Metrics
	Logger    *golog.Logger
}

// Options tune the pipeline. Non-positive limits and nil pointers take the
// package defaults; a set MinConfidence or Builder is used exactly as given.
type Options struct {
	HistoryLimit  int
	TopK          int
	MinConfidence *float64
	Builder       *rag.Builder
	BusyReply     string
}

// Request is one inbound user message. ConversationID wins over Source when
// both are set.
type Request struct {
	ConversationID string
	Source         Source
	Text           string
}

// Result describes a handled turn.
type Result struct {
	TurnID         string
	ConversationID string
	Reply          string
	Recalled       []memory.Hit
	Stored         bool
	Command        string
	RateLimit      ratelimit.Decision
}

// Service owns no conversation state; everything lives in the stores.
type Service struct {
	deps          Dependencies
	opts          Options
	minConfidence float64
	builder       rag.Builder
}

func NewService(deps Dependencies, opts Options) (*Service, error) {
	if deps.History == nil || deps.Memories == nil || deps.Extractor == nil {
		return nil, fmt.Errorf("conversation service requires history, memory and extractor")
	}
	if deps.Chat == nil || deps.Embedder == nil || deps.Limiter == nil {
		return nil, fmt.Errorf("conversation service requires chat, embedder and limiter")
	}
	if deps.Logger == nil {
		deps.Logger = golog.New()
		deps.Logger.SetLevel("disable")
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = memory.DefaultHistoryLimit
	}
	if opts.TopK <= 0 {
		opts.TopK = memory.DefaultTopK
	}
	minConfidence := extractor.DefaultMinConfidence
	if opts.MinConfidence != nil {
		minConfidence = *opts.MinConfidence
	}
	builder := rag.DefaultBuilder()
	if opts.Builder != nil {
		builder = rag.NewBuilder(opts.Builder.SystemPrompt, opts.Builder.RelevanceFloor)
	}
	if strings.TrimSpace(opts.BusyReply) == "" {
		opts.BusyReply = DefaultBusyReply
	}
	return &Service{deps: deps, opts: opts, minConfidence: minConfidence, builder: builder}, nil
}

// HandleTurn runs the full pipeline for one message. Once admitted a turn
// always carries a reply; a non-nil error alongside it means the reply is
// the busy message and the error holds the detail.
func (s *Service) HandleTurn(ctx context.Context, req Request) (Result, error) {
	started := time.Now()
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return Result{}, ErrEmptyMessage
	}
	conversationID := strings.TrimSpace(req.ConversationID)
	if conversationID == "" {
		var ok bool
		if conversationID, ok = IDFromSource(req.Source); !ok {
			return Result{}, ErrNoConversation
		}
	}

	res := Result{TurnID: uuid.NewString(), ConversationID: conversationID}

	stageStart := time.Now()
	res.RateLimit = s.deps.Limiter.Admit(ctx, conversationID)
	s.observeStage(observability.StageRateLimit, stageStart)
	s.countRateLimit(res.RateLimit.Outcome)
	switch res.RateLimit.Outcome {
	case ratelimit.Denied:
		s.countTurn("rate_limited")
		return res, ErrRateLimited
	case ratelimit.DegradedOpen:
		s.deps.Metrics.ObserveIndicator("rate_limit_degraded_open")
	}

	defer s.observeStage(observability.StageTurnTotal, started)

	if text == ResetCommand {
		res.Command = ResetCommand
		if err := s.deps.History.Reset(ctx, conversationID); err != nil {
			return s.busy(res, fmt.Errorf("reset short-term memory: %w", err))
		}
		res.Reply = ResetReply
		s.countTurn("reset")
		s.deps.Logger.Infof("conversation=%s turn=%s short-term memory cleared", conversationID, res.TurnID)
		return res, nil
	}

	var (
		history []memory.Message
		hits    []memory.Hit
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		start := time.Now()
		defer s.observeStage(observability.StageHistoryLoad, start)
		var err error
		history, err = s.deps.History.Load(gctx, conversationID, s.opts.HistoryLimit)
		if err != nil {
			return fmt.Errorf("load short-term memory: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		start := time.Now()
		defer s.observeStage(observability.StageRecall, start)
		hits = s.recall(gctx, conversationID, res.TurnID, text)
		return nil
	})
	if err := g.Wait(); err != nil {
		return s.busy(res, err)
	}

	messages := s.builder.Build(history, hits, text)
	res.Recalled = s.builder.Relevant(hits)
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecallHits.Observe(float64(len(res.Recalled)))
	}

	stageStart = time.Now()
	completion, err := s.deps.Chat.Complete(ctx, messages, llm.WithTemperature(chatTemperature), llm.WithMaxTokens(chatMaxTokens))
	s.observeStage(observability.StageCompletion, stageStart)
	if err != nil {
		s.countProviderError(err)
		return s.busy(res, fmt.Errorf("chat completion: %w", err))
	}
	reply := strings.TrimSpace(completion.Text)
	if reply == "" {
		reply = StuckReply
		s.deps.Metrics.ObserveIndicator("empty_completion")
	}

	if err := s.deps.History.Append(ctx, conversationID, memory.RoleUser, text); err != nil {
		return s.busy(res, fmt.Errorf("append user turn: %w", err))
	}
	if err := s.deps.History.Append(ctx, conversationID, memory.RoleAssistant, reply); err != nil {
		return s.busy(res, fmt.Errorf("append assistant turn: %w", err))
	}

	res.Reply = reply
	res.Stored = s.remember(ctx, conversationID, res.TurnID, text)
	s.countTurn("ok")
	return res, nil
}

// recall embeds the message and queries long-term memory. Any failure
// disables retrieval for this turn only.
func (s *Service) recall(ctx context.Context, conversationID, turnID, text string) []memory.Hit {
	embedding, err := s.deps.Embedder.Embed(ctx, text)
	if err != nil {
		s.countProviderError(err)
		s.deps.Metrics.ObserveIndicator("recall_disabled")
		s.deps.Logger.Warnf("conversation=%s turn=%s retrieval disabled for this turn: %v", conversationID, turnID, err)
		return nil
	}
	return s.deps.Memories.Query(ctx, conversationID, embedding, s.opts.TopK)
}

// remember runs extraction and, when accepted, writes the fact to long-term
// memory. The reply is already committed, so every failure here is logged
// and swallowed.
func (s *Service) remember(ctx context.Context, conversationID, turnID, text string) bool {
	start := time.Now()
	decision := s.deps.Extractor.Evaluate(ctx, text)
	s.observeStage(observability.StageExtraction, start)
	if !decision.Accepted(s.minConfidence) {
		s.countMemoryWrite("rejected")
		return false
	}

	start = time.Now()
	defer s.observeStage(observability.StageMemoryWrite, start)

	fact, redacted, rules := s.deps.Redactor.Redact(decision.Text)
	if redacted {
		s.deps.Logger.Debugf("conversation=%s turn=%s redacted %s before storage", conversationID, turnID, strings.Join(rules, ","))
	}
	embedding, err := s.deps.Embedder.Embed(ctx, fact)
	if err != nil {
		s.countProviderError(err)
		s.countMemoryWrite("failed")
		s.deps.Logger.Warnf("conversation=%s turn=%s memory embedding failed: %v", conversationID, turnID, err)
		return false
	}
	id, err := s.deps.Memories.Upsert(ctx, conversationID, memory.NewItem{
		Text:      fact,
		Embedding: embedding,
		Meta: map[string]any{
			"type":         string(decision.Type),
			"confidence":   decision.Confidence,
			"source":       memorySource,
			"pii_redacted": redacted,
		},
	})
	if err != nil {
		s.countMemoryWrite("failed")
		if errors.Is(err, memory.ErrInvalidItem) {
			s.deps.Logger.Errorf("conversation=%s turn=%s rejected memory item: %v", conversationID, turnID, err)
		} else {
			s.deps.Logger.Warnf("conversation=%s turn=%s memory write failed: %v", conversationID, turnID, err)
		}
		return false
	}
	s.countMemoryWrite("stored")
	s.deps.Logger.Debugf("conversation=%s turn=%s stored memory %s (%s, %.2f)", conversationID, turnID, id, decision.Type, decision.Confidence)
	return true
}

// History returns the most recent short-term turns for operators.
func (s *Service) History(ctx context.Context, conversationID string, limit int) ([]memory.Message, error) {
	if limit <= 0 {
		limit = s.opts.HistoryLimit
	}
	return s.deps.History.Load(ctx, conversationID, limit)
}

// Recall embeds query and returns the scored long-term hits. Unlike the turn
// pipeline it reports embedding failures.
func (s *Service) Recall(ctx context.Context, conversationID, query string, topK int) ([]memory.Hit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyMessage
	}
	if topK <= 0 {
		topK = s.opts.TopK
	}
	embedding, err := s.deps.Embedder.Embed(ctx, query)
	if err != nil {
		s.countProviderError(err)
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return s.deps.Memories.Query(ctx, conversationID, embedding, topK), nil
}

func (s *Service) busy(res Result, err error) (Result, error) {
	s.countTurn("busy")
	s.deps.Logger.Errorf("conversation=%s turn=%s failed: %v", res.ConversationID, res.TurnID, err)
	res.Reply = s.opts.BusyReply
	return res, err
}

func (s *Service) observeStage(stage string, start time.Time) {
	s.deps.Metrics.ObserveStage(stage, time.Since(start))
}

func (s *Service) countTurn(result string) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.Turns.WithLabelValues(result).Inc()
	}
}

func (s *Service) countRateLimit(outcome ratelimit.Outcome) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.RateLimitResults.WithLabelValues(outcome.String()).Inc()
	}
}

func (s *Service) countMemoryWrite(result string) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.MemoryWrites.WithLabelValues(result).Inc()
	}
}

func (s *Service) countProviderError(err error) {
	if s.deps.Metrics == nil {
		return
	}
	var pe *llm.ProviderError
	if errors.As(err, &pe) {
		s.deps.Metrics.ProviderErrors.WithLabelValues(pe.Provider, pe.Op).Inc()
		return
	}
	s.deps.Metrics.ProviderErrors.WithLabelValues("unknown", "call").Inc()
}

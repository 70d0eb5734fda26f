package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/kataras/golog"

	"github.com/ent0n29/memorybot/internal/config"
	"github.com/ent0n29/memorybot/internal/conversation"
	"github.com/ent0n29/memorybot/internal/memory"
	"github.com/ent0n29/memorybot/internal/observability"
	"github.com/ent0n29/memorybot/internal/ratelimit"
)

// Conversations is the turn pipeline plus the operator read paths.
type Conversations interface {
	HandleTurn(ctx context.Context, req conversation.Request) (conversation.Result, error)
	History(ctx context.Context, conversationID string, limit int) ([]memory.Message, error)
	Recall(ctx context.Context, conversationID, query string, topK int) ([]memory.Hit, error)
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	cfg           config.Config
	conversations Conversations
	store         Pinger
	metrics       *observability.Metrics
	logger        *golog.Logger
	upgrader      websocket.Upgrader
}

func New(cfg config.Config, conversations Conversations, store Pinger, metrics *observability.Metrics, logger *golog.Logger) *Server {
	if logger == nil {
		logger = golog.New()
		logger.SetLevel("disable")
	}
	return &Server{
		cfg:           cfg,
		conversations: conversations,
		store:         store,
		metrics:       metrics,
		logger:        logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Browsers may only connect from the same origin unless explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(s.verifySignature)
		r.Post("/v1/messages", s.handleMessage)
	})
	r.With(s.requireSecret(true)).Get("/v1/messages/ws", s.handleMessagesWS)
	r.Group(func(r chi.Router) {
		r.Use(s.requireSecret(false))
		r.Get("/v1/perf/latency", s.handlePerfLatency)
		r.Delete("/v1/perf/latency", s.handlePerfLatencyReset)
		r.Get("/v1/conversations/{id}/history", s.handleHistory)
		r.Post("/v1/conversations/{id}/recall", s.handleRecall)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"store_backend": s.storeBackend(),
		"llm_provider":  s.cfg.LLMProvider,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			s.logger.Warnf("readiness check failed: %v", err)
			respondError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "ready",
		"store_backend": s.storeBackend(),
	})
}

type messageRequest struct {
	ConversationID string               `json:"conversation_id,omitempty"`
	Source         *conversation.Source `json:"source,omitempty"`
	Text           string               `json:"text"`
}

func (m messageRequest) toRequest() conversation.Request {
	req := conversation.Request{ConversationID: m.ConversationID, Text: m.Text}
	if m.Source != nil {
		req.Source = *m.Source
	}
	return req
}

type messageResponse struct {
	TurnID         string       `json:"turn_id,omitempty"`
	ConversationID string       `json:"conversation_id,omitempty"`
	Reply          string       `json:"reply,omitempty"`
	Recalled       []memory.Hit `json:"recalled,omitempty"`
	Stored         bool         `json:"stored"`
	Command        string       `json:"command,omitempty"`
	Error          string       `json:"error,omitempty"`
	Code           string       `json:"code,omitempty"`
	RetryAfter     int          `json:"retry_after,omitempty"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var in messageRequest
	if err := decodeJSON(r, &in); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	res, err := s.conversations.HandleTurn(r.Context(), in.toRequest())
	if res.RateLimit.Limit > 0 {
		setRateLimitHeaders(w, res.RateLimit)
	}
	status, out := turnResponse(res, err)
	respondJSON(w, status, out)
}

// turnResponse maps a pipeline outcome onto an HTTP status and body. Busy
// turns still carry their reply.
func turnResponse(res conversation.Result, err error) (int, messageResponse) {
	out := messageResponse{
		TurnID:         res.TurnID,
		ConversationID: res.ConversationID,
		Reply:          res.Reply,
		Recalled:       res.Recalled,
		Stored:         res.Stored,
		Command:        res.Command,
	}
	switch {
	case err == nil:
		return http.StatusOK, out
	case errors.Is(err, conversation.ErrEmptyMessage):
		out.Error, out.Code = err.Error(), "empty_message"
		return http.StatusBadRequest, out
	case errors.Is(err, conversation.ErrNoConversation):
		out.Error, out.Code = err.Error(), "unknown_source"
		return http.StatusBadRequest, out
	case errors.Is(err, conversation.ErrRateLimited):
		out.Error, out.Code = err.Error(), "rate_limited"
		out.RetryAfter = res.RateLimit.RetryAfter
		return http.StatusTooManyRequests, out
	default:
		out.Error, out.Code = "temporarily unavailable", "busy"
		return http.StatusServiceUnavailable, out
	}
}

func setRateLimitHeaders(w http.ResponseWriter, d ratelimit.Decision) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", d.ResetAt.UTC().Format(time.RFC3339))
	if d.Outcome == ratelimit.Denied {
		h.Set("Retry-After", strconv.Itoa(d.RetryAfter))
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_conversation_id", "missing conversation id")
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	messages, err := s.conversations.History(r.Context(), id, limit)
	if err != nil {
		s.logger.Errorf("conversation=%s history read failed: %v", id, err)
		respondError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
		return
	}
	if messages == nil {
		messages = []memory.Message{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"conversation_id": id,
		"messages":        messages,
	})
}

type recallRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
}

func (s *Server) handleRecall(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_conversation_id", "missing conversation id")
		return
	}
	var in recallRequest
	if err := decodeJSON(r, &in); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	hits, err := s.conversations.Recall(r.Context(), id, in.Query, in.TopK)
	switch {
	case errors.Is(err, conversation.ErrEmptyMessage):
		respondError(w, http.StatusBadRequest, "empty_query", "query is required")
		return
	case err != nil:
		s.logger.Warnf("conversation=%s recall failed: %v", id, err)
		respondError(w, http.StatusBadGateway, "provider_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"conversation_id": id,
		"hits":            hits,
	})
}

func (s *Server) storeBackend() string {
	if s.cfg.StoreBackend != "" {
		return s.cfg.StoreBackend
	}
	if s.cfg.DatabaseURL != "" {
		return "postgres"
	}
	return "memory"
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

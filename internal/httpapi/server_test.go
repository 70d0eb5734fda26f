package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/memorybot/internal/config"
	"github.com/ent0n29/memorybot/internal/conversation"
	"github.com/ent0n29/memorybot/internal/docstore"
	"github.com/ent0n29/memorybot/internal/extractor"
	"github.com/ent0n29/memorybot/internal/llm"
	"github.com/ent0n29/memorybot/internal/memory"
	"github.com/ent0n29/memorybot/internal/observability"
	"github.com/ent0n29/memorybot/internal/policy"
	"github.com/ent0n29/memorybot/internal/ratelimit"
)

type downPinger struct{}

func (downPinger) Ping(context.Context) error { return errors.New("connection refused") }

func newTestServer(t *testing.T, cfg config.Config, maxRequests int) *httptest.Server {
	t.Helper()
	docs := docstore.NewInMemoryStore()
	chat := llm.NewMockChat()
	metrics := observability.NewMetrics("test_httpapi")
	svc, err := conversation.NewService(conversation.Dependencies{
		History:   memory.NewShortTermStore(docs),
		Memories:  memory.NewVectorStore(docs, 0, nil),
		Extractor: extractor.New(chat, nil),
		Chat:      chat,
		Embedder:  llm.NewMockEmbedder(64),
		Limiter:   ratelimit.NewLocal(time.Minute, maxRequests),
		Redactor:  policy.NewRedactor(true),
		Metrics:   metrics,
	}, conversation.Options{})
	require.NoError(t, err)

	ts := httptest.NewServer(New(cfg, svc, docs, metrics, nil).Router())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body any, headers map[string]string) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = res.Body.Close() })
	return res
}

func decodeBody(t *testing.T, res *http.Response, out any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(res.Body).Decode(out))
}

func TestHealthAndReady(t *testing.T) {
	ts := newTestServer(t, config.Config{}, 10)

	res, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, err = http.Get(ts.URL + "/readyz")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestReadyFailsWhenStoreIsDown(t *testing.T) {
	srv := New(config.Config{}, nil, downPinger{}, nil, nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPostMessageFlow(t *testing.T) {
	ts := newTestServer(t, config.Config{}, 10)

	res := postJSON(t, ts.URL+"/v1/messages", map[string]any{
		"source": map[string]string{"type": "user", "user_id": "U1"},
		"text":   "I like green tea",
	}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "10", res.Header.Get("X-RateLimit-Limit"))
	assert.Equal(t, "9", res.Header.Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, res.Header.Get("X-RateLimit-Reset"))

	var first messageResponse
	decodeBody(t, res, &first)
	assert.Equal(t, "U1", first.ConversationID)
	assert.True(t, first.Stored)
	assert.Equal(t, "I heard you: I like green tea", first.Reply)

	res = postJSON(t, ts.URL+"/v1/messages", map[string]any{
		"conversation_id": "U1",
		"text":            "which tea do I like",
	}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var second messageResponse
	decodeBody(t, res, &second)
	require.NotEmpty(t, second.Recalled)
	assert.Equal(t, "I like green tea", second.Recalled[0].Text)

	hist, err := http.Get(ts.URL + "/v1/conversations/U1/history?limit=3")
	require.NoError(t, err)
	defer hist.Body.Close()
	require.Equal(t, http.StatusOK, hist.StatusCode)
	var history struct {
		Messages []memory.Message `json:"messages"`
	}
	decodeBody(t, hist, &history)
	require.Len(t, history.Messages, 3)
	assert.Equal(t, "which tea do I like", history.Messages[1].Content)

	rec := postJSON(t, ts.URL+"/v1/conversations/U1/recall", map[string]any{"query": "green tea", "top_k": 1}, nil)
	require.Equal(t, http.StatusOK, rec.StatusCode)
	var recall struct {
		Hits []memory.Hit `json:"hits"`
	}
	decodeBody(t, rec, &recall)
	require.Len(t, recall.Hits, 1)
	assert.Equal(t, "llm_extractor", recall.Hits[0].Meta["source"])
}

func TestPostMessageRejectsBadInput(t *testing.T) {
	ts := newTestServer(t, config.Config{}, 10)

	res := postJSON(t, ts.URL+"/v1/messages", map[string]any{"conversation_id": "U1", "text": "  "}, nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res = postJSON(t, ts.URL+"/v1/messages", map[string]any{
		"source": map[string]string{"type": "channel"},
		"text":   "hi",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	hist, err := http.Get(ts.URL + "/v1/conversations/U1/history?limit=zero")
	require.NoError(t, err)
	defer hist.Body.Close()
	assert.Equal(t, http.StatusBadRequest, hist.StatusCode)
}

func TestPostMessageRateLimited(t *testing.T) {
	ts := newTestServer(t, config.Config{}, 1)

	res := postJSON(t, ts.URL+"/v1/messages", map[string]any{"conversation_id": "U9", "text": "one"}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)

	res = postJSON(t, ts.URL+"/v1/messages", map[string]any{"conversation_id": "U9", "text": "two"}, nil)
	require.Equal(t, http.StatusTooManyRequests, res.StatusCode)
	assert.NotEmpty(t, res.Header.Get("Retry-After"))
	assert.Equal(t, "0", res.Header.Get("X-RateLimit-Remaining"))

	var body messageResponse
	decodeBody(t, res, &body)
	assert.Equal(t, "rate_limited", body.Code)
	assert.Positive(t, body.RetryAfter)
}

func TestSignatureVerification(t *testing.T) {
	secret := "s3cret"
	ts := newTestServer(t, config.Config{WebhookSecret: secret}, 10)
	payload := map[string]any{"conversation_id": "S1", "text": "hello"}
	raw, _ := json.Marshal(payload)

	res := postJSON(t, ts.URL+"/v1/messages", payload, nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res = postJSON(t, ts.URL+"/v1/messages", payload, map[string]string{signatureHeader: sign([]byte("other"), raw)})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res = postJSON(t, ts.URL+"/v1/messages", payload, map[string]string{signatureHeader: sign([]byte(secret), raw)})
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestOperatorRoutesRequireSecret(t *testing.T) {
	secret := "s3cret"
	ts := newTestServer(t, config.Config{WebhookSecret: secret}, 10)

	get := func(path string, headers map[string]string) *http.Response {
		t.Helper()
		req, err := http.NewRequest(http.MethodGet, ts.URL+path, nil)
		require.NoError(t, err)
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		res, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { _ = res.Body.Close() })
		return res
	}
	recall := map[string]any{"query": "anything"}

	assert.Equal(t, http.StatusUnauthorized, get("/v1/conversations/S1/history", nil).StatusCode)
	assert.Equal(t, http.StatusUnauthorized, postJSON(t, ts.URL+"/v1/conversations/S1/recall", recall, nil).StatusCode)
	assert.Equal(t, http.StatusUnauthorized, get("/v1/perf/latency", nil).StatusCode)
	assert.Equal(t, http.StatusUnauthorized, get("/v1/conversations/S1/history", map[string]string{"Authorization": "Bearer wrong"}).StatusCode)
	assert.Equal(t, http.StatusUnauthorized, get("/v1/conversations/S1/history?token="+secret, nil).StatusCode)

	assert.Equal(t, http.StatusOK, get("/v1/conversations/S1/history", map[string]string{"Authorization": "Bearer " + secret}).StatusCode)
	assert.Equal(t, http.StatusOK, postJSON(t, ts.URL+"/v1/conversations/S1/recall", recall, map[string]string{apiKeyHeader: secret}).StatusCode)
	assert.Equal(t, http.StatusOK, get("/v1/perf/latency", map[string]string{apiKeyHeader: secret}).StatusCode)
}

func TestWebSocketRequiresSecret(t *testing.T) {
	secret := "s3cret"
	ts := newTestServer(t, config.Config{WebhookSecret: secret}, 10)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/messages/ws"

	_, res, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	_, res, err = websocket.DefaultDialer.Dial(wsURL+"?token=wrong", nil)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+secret, nil)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(map[string]any{"conversation_id": "W2", "text": "hi"}))
	var reply messageResponse
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "W2", reply.ConversationID)
	_ = conn.Close()

	conn, _, err = websocket.DefaultDialer.Dial(wsURL, http.Header{"Authorization": []string{"Bearer " + secret}})
	require.NoError(t, err)
	_ = conn.Close()
}

func TestMessagesWebSocket(t *testing.T) {
	ts := newTestServer(t, config.Config{}, 10)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/messages/ws"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{"conversation_id": "W1", "text": "hello socket"}))
	var reply messageResponse
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "I heard you: hello socket", reply.Reply)
	assert.Equal(t, "W1", reply.ConversationID)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	var bad messageResponse
	require.NoError(t, conn.ReadJSON(&bad))
	assert.Equal(t, "invalid_client_message", bad.Code)

	require.NoError(t, conn.WriteJSON(map[string]any{"conversation_id": "W1", "text": "/reset"}))
	var reset messageResponse
	require.NoError(t, conn.ReadJSON(&reset))
	assert.Equal(t, conversation.ResetReply, reset.Reply)
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	ts := newTestServer(t, config.Config{}, 10)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/messages/ws"

	_, res, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": []string{"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
}

func TestMetricsAndPerfEndpoints(t *testing.T) {
	ts := newTestServer(t, config.Config{}, 10)
	postJSON(t, ts.URL+"/v1/messages", map[string]any{"conversation_id": "P1", "text": "hello"}, nil)

	res, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(res.Body)
	assert.Contains(t, buf.String(), "test_httpapi_turns_total")

	perf, err := http.Get(ts.URL + "/v1/perf/latency")
	require.NoError(t, err)
	defer perf.Body.Close()
	var snap observability.TurnStageSnapshot
	decodeBody(t, perf, &snap)
	assert.NotEmpty(t, snap.Stages)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/perf/latency", nil)
	del, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer del.Body.Close()
	assert.Equal(t, http.StatusNoContent, del.StatusCode)
}

package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ent0n29/memorybot/internal/docstore"
)

// DefaultHistoryLimit is how many recent turns Load returns when no limit is given.
const DefaultHistoryLimit = 20

// ShortTermStore persists raw dialogue turns per conversation. Storage is not
// capped; Load only ever hands back the most recent turns.
type ShortTermStore struct {
	docs docstore.Store
	now  func() time.Time
}

func NewShortTermStore(docs docstore.Store) *ShortTermStore {
	return &ShortTermStore{docs: docs, now: time.Now}
}

func shortTermKey(conversationID string) string {
	return "stm:" + conversationID
}

// Load returns up to limit of the most recent turns in append order.
func (s *ShortTermStore) Load(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	raw, err := s.docs.Tail(ctx, shortTermKey(conversationID), limit)
	if err != nil {
		return nil, fmt.Errorf("load short-term memory: %w", err)
	}

	out := make([]Message, 0, len(raw))
	for _, r := range raw {
		var t Turn
		if err := json.Unmarshal(r, &t); err != nil {
			return nil, fmt.Errorf("decode turn: %w", err)
		}
		out = append(out, Message{Role: t.Role, Content: t.Content})
	}
	return out, nil
}

// Append adds one turn. Each call is a single additive write; prior turns are
// never replaced.
func (s *ShortTermStore) Append(ctx context.Context, conversationID string, role Role, content string) error {
	data, err := json.Marshal(Turn{Role: role, Content: content, Timestamp: nowMillis(s.now)})
	if err != nil {
		return fmt.Errorf("encode turn: %w", err)
	}
	if err := s.docs.Append(ctx, shortTermKey(conversationID), data); err != nil {
		return fmt.Errorf("append short-term memory: %w", err)
	}
	return nil
}

// Reset drops every stored turn for the conversation.
func (s *ShortTermStore) Reset(ctx context.Context, conversationID string) error {
	if err := s.docs.Delete(ctx, shortTermKey(conversationID)); err != nil {
		return fmt.Errorf("reset short-term memory: %w", err)
	}
	return nil
}

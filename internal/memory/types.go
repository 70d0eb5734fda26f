package memory

import (
	"errors"
	"time"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ErrInvalidItem is returned when a long-term memory write carries no text or
// no embedding.
var ErrInvalidItem = errors.New("invalid vector memory item")

// Turn is one stored dialogue turn. Timestamp is storage-internal and may be
// out of order under clock skew; append order is authoritative.
type Turn struct {
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"ts"`
}

// Message is the consumer view of a turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Item is a persisted long-term fact.
type Item struct {
	ID        string         `json:"id"`
	Text      string         `json:"text"`
	Embedding []float32      `json:"embedding"`
	Norm      float64        `json:"norm"`
	Meta      map[string]any `json:"meta,omitempty"`
	Timestamp int64          `json:"ts"`
}

// NewItem is the input to VectorStore.Upsert.
type NewItem struct {
	Text      string
	Embedding []float32
	Meta      map[string]any
}

// Hit is one scored retrieval result.
type Hit struct {
	ID    string         `json:"id"`
	Score float64        `json:"score"`
	Text  string         `json:"text"`
	Meta  map[string]any `json:"meta"`
}

func nowMillis(now func() time.Time) int64 {
	return now().UnixMilli()
}

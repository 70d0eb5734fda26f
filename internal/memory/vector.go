package memory

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kataras/golog"
	"github.com/oklog/ulid/v2"

	"github.com/ent0n29/memorybot/internal/docstore"
	"github.com/ent0n29/memorybot/internal/vecmath"
)

const (
	DefaultTopK      = 5
	DefaultScanLimit = 300
)

// VectorStore persists embedded facts per conversation and answers similarity
// queries. Items are insert-only; nothing is deduplicated or updated.
type VectorStore struct {
	docs      docstore.Store
	scanLimit int
	logger    *golog.Logger
	now       func() time.Time
}

// NewVectorStore creates a store that scans at most scanLimit recent items per
// query. scanLimit <= 0 uses DefaultScanLimit.
func NewVectorStore(docs docstore.Store, scanLimit int, logger *golog.Logger) *VectorStore {
	if scanLimit <= 0 {
		scanLimit = DefaultScanLimit
	}
	if logger == nil {
		logger = golog.New()
		logger.SetLevel("disable")
	}
	return &VectorStore{
		docs:      docs,
		scanLimit: scanLimit,
		logger:    logger,
		now:       time.Now,
	}
}

func vectorKey(conversationID string) string {
	return "vec:" + conversationID
}

// Upsert stores a new item and returns its id. The embedding norm is computed
// once here so queries never recompute it.
func (s *VectorStore) Upsert(ctx context.Context, conversationID string, in NewItem) (string, error) {
	if strings.TrimSpace(in.Text) == "" || len(in.Embedding) == 0 {
		return "", ErrInvalidItem
	}

	now := s.now()
	meta := in.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	item := Item{
		ID:        ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		Text:      in.Text,
		Embedding: in.Embedding,
		Norm:      vecmath.L2Norm(in.Embedding),
		Meta:      meta,
		Timestamp: now.UnixMilli(),
	}
	data, err := json.Marshal(item)
	if err != nil {
		return "", fmt.Errorf("encode vector memory: %w", err)
	}
	if err := s.docs.Append(ctx, vectorKey(conversationID), data); err != nil {
		return "", fmt.Errorf("upsert vector memory: %w", err)
	}
	return item.ID, nil
}

// Query returns up to topK items ranked by cosine similarity to the query
// embedding. Retrieval is best-effort: any failure yields an empty result.
func (s *VectorStore) Query(ctx context.Context, conversationID string, queryEmbedding []float32, topK int) []Hit {
	hits, err := s.query(ctx, conversationID, queryEmbedding, topK)
	if err != nil {
		s.logger.Warnf("retrieval disabled for conversation %s: %v", conversationID, err)
		return []Hit{}
	}
	return hits
}

func (s *VectorStore) query(ctx context.Context, conversationID string, queryEmbedding []float32, topK int) ([]Hit, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}
	key := vectorKey(conversationID)

	ok, err := s.docs.Exists(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []Hit{}, nil
	}

	raw, err := s.docs.Tail(ctx, key, s.scanLimit)
	if err != nil {
		return nil, err
	}

	qNorm := vecmath.L2Norm(queryEmbedding)
	scored := make([]Hit, 0, len(raw))
	// Newest first, so equal scores favour the more recent fact.
	for i := len(raw) - 1; i >= 0; i-- {
		var item Item
		if err := json.Unmarshal(raw[i], &item); err != nil {
			return nil, fmt.Errorf("decode vector memory: %w", err)
		}
		if len(item.Embedding) == 0 {
			continue
		}
		norm := item.Norm
		if norm == 0 {
			norm = vecmath.L2Norm(item.Embedding)
		}
		meta := item.Meta
		if meta == nil {
			meta = map[string]any{}
		}
		scored = append(scored, Hit{
			ID:    item.ID,
			Score: vecmath.CosineSimilarity(queryEmbedding, qNorm, item.Embedding, norm),
			Text:  item.Text,
			Meta:  meta,
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

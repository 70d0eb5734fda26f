// Package rag assembles the model input from short-term history and
// retrieved long-term memories.
package rag

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ent0n29/memorybot/internal/llm"
	"github.com/ent0n29/memorybot/internal/memory"
)

// DefaultRelevanceFloor drops hits at or below this score as noise.
const DefaultRelevanceFloor = 0.25

const (
	DefaultSystemPrompt = `You are a friendly, good-humoured chat assistant.
Use the retrieved memories when they help answer, but if they are missing or unrelated, focus on the user's current message.`

	recallHeader = "Retrieved memories (may be useful):"
)

// Builder composes the ordered message list sent to the chat model.
type Builder struct {
	SystemPrompt   string
	RelevanceFloor float64
}

// NewBuilder keeps relevanceFloor as given, so zero or negative floors admit
// weaker hits. An empty prompt falls back to DefaultSystemPrompt.
func NewBuilder(systemPrompt string, relevanceFloor float64) Builder {
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = DefaultSystemPrompt
	}
	return Builder{SystemPrompt: systemPrompt, RelevanceFloor: relevanceFloor}
}

func DefaultBuilder() Builder {
	return NewBuilder("", DefaultRelevanceFloor)
}

// Build orders the input as: system instruction, optional recall block,
// history in chronological order, then the current user message.
func (b Builder) Build(history []memory.Message, hits []memory.Hit, userMessage string) []llm.Message {
	out := make([]llm.Message, 0, len(history)+3)
	out = append(out, llm.Message{Role: llm.RoleSystem, Content: b.SystemPrompt})

	if block := b.RenderHits(hits); block != "" {
		out = append(out, llm.Message{Role: llm.RoleSystem, Content: recallHeader + "\n" + block})
	}
	for _, m := range history {
		out = append(out, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	return append(out, llm.Message{Role: llm.RoleUser, Content: userMessage})
}

// Relevant returns the hits scoring above the floor, best first.
func (b Builder) Relevant(hits []memory.Hit) []memory.Hit {
	kept := make([]memory.Hit, 0, len(hits))
	for _, h := range hits {
		if h.Score > b.RelevanceFloor {
			kept = append(kept, h)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Score > kept[j].Score })
	return kept
}

// RenderHits formats the relevant hits one per line, or "" when none survive.
func (b Builder) RenderHits(hits []memory.Hit) string {
	kept := b.Relevant(hits)
	if len(kept) == 0 {
		return ""
	}
	lines := make([]string, len(kept))
	for i, h := range kept {
		lines[i] = fmt.Sprintf("[memory %d|score %.2f] %s", i+1, h.Score, h.Text)
	}
	return strings.Join(lines, "\n")
}

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"
)

// MockChat provides deterministic local replies when no model backend is
// configured. JSON-mode calls are answered as the memory extractor expects.
type MockChat struct{}

func NewMockChat() *MockChat { return &MockChat{} }

func (MockChat) Complete(ctx context.Context, messages []Message, opts ...CallOption) (Completion, error) {
	select {
	case <-ctx.Done():
		return Completion{}, ctx.Err()
	default:
	}

	var last string
	var recalled []string
	for _, m := range messages {
		switch m.Role {
		case RoleUser:
			last = m.Content
		case RoleSystem:
			if strings.HasPrefix(m.Content, "[memory") || strings.Contains(m.Content, "\n[memory") {
				recalled = append(recalled, m.Content)
			}
		}
	}

	if ApplyOptions(opts...).JSONMode {
		return Completion{Text: mockExtraction(last)}, nil
	}

	base := strings.TrimSpace(last)
	if base == "" {
		base = "I am listening."
	}
	if len(recalled) == 0 {
		return Completion{Text: fmt.Sprintf("I heard you: %s", base)}, nil
	}
	return Completion{Text: fmt.Sprintf("I heard you: %s\nI also remember:\n%s", base, recalled[len(recalled)-1])}, nil
}

var mockFactPrefixes = []struct {
	prefix string
	kind   string
}{
	{"i like ", "preference"},
	{"i love ", "preference"},
	{"i prefer ", "preference"},
	{"i don't like ", "preference"},
	{"i am a ", "profile"},
	{"i work as ", "profile"},
	{"my name is ", "profile"},
	{"please always ", "instruction"},
	{"from now on ", "instruction"},
	{"remember that ", "fact"},
}

func mockExtraction(message string) string {
	lower := strings.ToLower(strings.TrimSpace(message))
	for _, p := range mockFactPrefixes {
		if strings.HasPrefix(lower, p.prefix) {
			out, _ := json.Marshal(map[string]any{
				"store":      true,
				"text":       strings.TrimSpace(message),
				"type":       p.kind,
				"confidence": 0.8,
			})
			return string(out)
		}
	}
	return `{"store": false}`
}

// MockEmbedder hashes word tokens into a fixed number of buckets. Texts
// sharing words land close together, which is enough for local runs and tests.
type MockEmbedder struct {
	dim int
}

func NewMockEmbedder(dim int) *MockEmbedder {
	if dim <= 0 {
		dim = 64
	}
	return &MockEmbedder{dim: dim}
}

func (e *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	vec := make([]float32, e.dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[h.Sum32()%uint32(e.dim)] += 1
	}
	return vec, nil
}

// Package extractor decides whether a user message carries a durable fact
// worth keeping in long-term memory.
package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/kataras/golog"

	"github.com/ent0n29/memorybot/internal/llm"
)

// Type classifies an extracted fact.
type Type string

const (
	TypePreference  Type = "preference"
	TypeProfile     Type = "profile"
	TypeInstruction Type = "instruction"
	TypeFact        Type = "fact"
	TypeOther       Type = "other"
)

const (
	// MinTextLength guards against degenerate facts; counted in characters.
	MinTextLength = 4
	// DefaultMinConfidence is the downstream commit threshold.
	DefaultMinConfidence = 0.6

	maxOutputTokens = 200
)

// ErrMalformed marks classifier output that is not a JSON object of the
// expected shape.
var ErrMalformed = errors.New("malformed extraction output")

// Decision is the classifier verdict for one message. It is never persisted;
// only an accepted decision becomes a memory item.
type Decision struct {
	Store      bool    `json:"store"`
	Text       string  `json:"text,omitempty"`
	Type       Type    `json:"type,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Accepted applies the commit gate: the classifier must want the fact stored
// and be at least minConfidence sure of it.
func (d Decision) Accepted(minConfidence float64) bool {
	return d.Store && d.Confidence >= minConfidence
}

const instructions = `You are a conversation memory extractor.
Decide whether the user's message contains information worth remembering long term.

Remember:
- lasting preferences (likes, dislikes, habits)
- identity or background (occupation, role)
- standing instructions to the assistant (e.g. "always answer in Traditional Chinese")
- stable facts that are unlikely to change

Do not remember:
- small talk
- emotional outbursts
- the question itself
- one-off requests
- temporary states (e.g. "I'm tired today")

Reply with JSON only, exactly one object:
{
  "store": true | false,
  "text": "if store is true, one sentence worth remembering",
  "type": "preference | profile | instruction | fact | other",
  "confidence": 0.0 to 1.0
}`

// Extractor runs the classification call.
type Extractor struct {
	chat   llm.ChatProvider
	logger *golog.Logger
}

func New(chat llm.ChatProvider, logger *golog.Logger) *Extractor {
	if logger == nil {
		logger = golog.New()
		logger.SetLevel("disable")
	}
	return &Extractor{chat: chat, logger: logger}
}

// Evaluate classifies message. It never fails: any provider or parse problem
// yields a no-store decision so the surrounding turn is unaffected.
func (e *Extractor) Evaluate(ctx context.Context, message string) Decision {
	if strings.TrimSpace(message) == "" {
		return Decision{}
	}

	resp, err := e.chat.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: instructions},
		{Role: llm.RoleUser, Content: message},
	}, llm.WithTemperature(0), llm.WithMaxTokens(maxOutputTokens), llm.WithJSONMode())
	if err != nil {
		e.logger.Warnf("memory extraction skipped: %v", err)
		return Decision{}
	}

	d, err := Parse(resp.Text)
	if err != nil {
		e.logger.Debugf("memory extraction discarded: %v", err)
		return Decision{}
	}
	return d
}

// Parse validates raw classifier output. Anything other than a JSON object
// with a literal true "store" and a text of at least MinTextLength characters
// is reported as a no-store decision; non-JSON input also returns ErrMalformed.
func Parse(raw string) (Decision, error) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &fields); err != nil || fields == nil {
		return Decision{}, ErrMalformed
	}

	store, _ := fields["store"].(bool)
	if !store {
		return Decision{}, nil
	}

	text, _ := fields["text"].(string)
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < MinTextLength {
		return Decision{}, nil
	}

	confidence, _ := fields["confidence"].(float64)
	if math.IsNaN(confidence) {
		confidence = 0
	}
	confidence = math.Max(0, math.Min(1, confidence))

	return Decision{
		Store:      true,
		Text:       text,
		Type:       normalizeType(fields["type"]),
		Confidence: confidence,
	}, nil
}

func normalizeType(v any) Type {
	s, _ := v.(string)
	switch t := Type(strings.ToLower(strings.TrimSpace(s))); t {
	case TypePreference, TypeProfile, TypeInstruction, TypeFact:
		return t
	default:
		return TypeOther
	}
}

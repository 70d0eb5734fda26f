// Package llm defines the model-facing contracts the memory pipeline consumes
// and the adapters that satisfy them.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Message roles understood by ChatProvider implementations.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one role/content pair of model input.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completion is a chat model reply.
type Completion struct {
	Text string
	// UsedTools reports whether the model invoked an auxiliary tool (e.g. web
	// lookup) while answering. Informational only.
	UsedTools bool
}

// ChatProvider generates a reply from system instructions plus history.
type ChatProvider interface {
	Complete(ctx context.Context, messages []Message, opts ...CallOption) (Completion, error)
}

// EmbeddingProvider turns text into a fixed-dimension vector.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// CallOptions tune a single completion request.
type CallOptions struct {
	Temperature    float64
	HasTemperature bool
	MaxTokens      int
	JSONMode       bool
}

type CallOption func(*CallOptions)

func WithTemperature(t float64) CallOption {
	return func(o *CallOptions) {
		o.Temperature = t
		o.HasTemperature = true
	}
}

func WithMaxTokens(n int) CallOption {
	return func(o *CallOptions) { o.MaxTokens = n }
}

// WithJSONMode asks the model to answer with a single JSON object.
func WithJSONMode() CallOption {
	return func(o *CallOptions) { o.JSONMode = true }
}

func ApplyOptions(opts ...CallOption) CallOptions {
	var o CallOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// ProviderError reports a failed call to a chat or embedding backend. It is
// recoverable: callers degrade the feature instead of aborting the turn.
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsProviderError reports whether err came from a model backend.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

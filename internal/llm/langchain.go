package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangChainChat adapts a langchaingo model to ChatProvider.
type LangChainChat struct {
	model llms.Model
	name  string
}

func NewLangChainChat(model llms.Model, name string) *LangChainChat {
	if name == "" {
		name = "langchain"
	}
	return &LangChainChat{model: model, name: name}
}

func (c *LangChainChat) Complete(ctx context.Context, messages []Message, opts ...CallOption) (Completion, error) {
	o := ApplyOptions(opts...)

	content := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		content = append(content, llms.TextParts(chatMessageType(m.Role), m.Content))
	}

	var callOpts []llms.CallOption
	if o.HasTemperature {
		callOpts = append(callOpts, llms.WithTemperature(o.Temperature))
	}
	if o.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(o.MaxTokens))
	}
	if o.JSONMode {
		callOpts = append(callOpts, llms.WithJSONMode())
	}

	resp, err := c.model.GenerateContent(ctx, content, callOpts...)
	if err != nil {
		return Completion{}, &ProviderError{Provider: c.name, Op: "complete", Err: err}
	}
	if resp == nil || len(resp.Choices) == 0 {
		return Completion{}, &ProviderError{Provider: c.name, Op: "complete", Err: errors.New("empty response")}
	}

	choice := resp.Choices[0]
	return Completion{
		Text:      strings.TrimSpace(choice.Content),
		UsedTools: len(choice.ToolCalls) > 0 || choice.FuncCall != nil,
	}, nil
}

func chatMessageType(role string) llms.ChatMessageType {
	switch role {
	case RoleSystem:
		return llms.ChatMessageTypeSystem
	case RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}

// LangChainEmbedder adapts langchaingo's embeddings.Embedder to EmbeddingProvider.
type LangChainEmbedder struct {
	embedder embeddings.Embedder
	name     string
}

func NewLangChainEmbedder(embedder embeddings.Embedder, name string) *LangChainEmbedder {
	if name == "" {
		name = "langchain"
	}
	return &LangChainEmbedder{embedder: embedder, name: name}
}

func (e *LangChainEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, &ProviderError{Provider: e.name, Op: "embed", Err: err}
	}
	if len(vec) == 0 {
		return nil, &ProviderError{Provider: e.name, Op: "embed", Err: errors.New("empty embedding")}
	}
	return vec, nil
}

// OpenAIConfig configures the OpenAI-backed providers.
type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	ChatModel      string
	EmbeddingModel string
}

// NewOpenAI builds chat and embedding providers sharing one OpenAI client.
func NewOpenAI(cfg OpenAIConfig) (*LangChainChat, *LangChainEmbedder, error) {
	opts := []openai.Option{}
	if cfg.APIKey != "" {
		opts = append(opts, openai.WithToken(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	if cfg.ChatModel != "" {
		opts = append(opts, openai.WithModel(cfg.ChatModel))
	}
	if cfg.EmbeddingModel != "" {
		opts = append(opts, openai.WithEmbeddingModel(cfg.EmbeddingModel))
	}

	model, err := openai.New(opts...)
	if err != nil {
		return nil, nil, err
	}
	embedder, err := embeddings.NewEmbedder(model)
	if err != nil {
		return nil, nil, err
	}
	return NewLangChainChat(model, "openai"), NewLangChainEmbedder(embedder, "openai"), nil
}

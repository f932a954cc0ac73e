package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Provider enumerates supported completion backends.
type Provider string

const (
	ProviderGroq   Provider = "groq"
	ProviderOpenAI Provider = "openai"
	ProviderOllama Provider = "ollama"
)

const groqBaseURL = "https://api.groq.com/openai/v1"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a completion conversation.
type Message struct {
	Role    string
	Content string
}

// Usage carries token accounting reported by the provider.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Request is a provider-independent completion request.
type Request struct {
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Response is the provider's reply with optional usage accounting.
type Response struct {
	Content string
	Usage   *Usage
}

// Client is the completion transport. Implementations classify failures into
// *Error so retry policy never inspects provider error strings.
type Client interface {
	Generate(ctx context.Context, req *Request) (*Response, error)
	Close() error
}

// Config describes the completion backend.
type Config struct {
	Provider Provider
	Model    string
	APIKey   string
	BaseURL  string
}

// NewClient builds a langchaingo-backed completion client.
func NewClient(cfg *Config) (Client, error) {
	if cfg == nil {
		return nil, errors.New("completion: config is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("completion: model is required")
	}
	model, err := buildModel(cfg)
	if err != nil {
		return nil, err
	}
	return &langchainClient{
		model:     model,
		provider:  string(cfg.Provider),
		modelName: cfg.Model,
	}, nil
}

func buildModel(cfg *Config) (llms.Model, error) {
	switch cfg.Provider {
	case ProviderGroq:
		baseURL := groqBaseURL
		if cfg.BaseURL != "" {
			baseURL = cfg.BaseURL
		}
		opts := []openai.Option{openai.WithModel(cfg.Model), openai.WithBaseURL(baseURL)}
		if cfg.APIKey != "" {
			opts = append(opts, openai.WithToken(cfg.APIKey))
		}
		return openai.New(opts...)
	case ProviderOpenAI:
		opts := []openai.Option{openai.WithModel(cfg.Model)}
		if cfg.APIKey != "" {
			opts = append(opts, openai.WithToken(cfg.APIKey))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(opts...)
	case ProviderOllama:
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		return ollama.New(opts...)
	default:
		return nil, fmt.Errorf("completion: provider %q is not supported", cfg.Provider)
	}
}

// langchainClient adapts langchaingo llms.Model to the Client interface.
type langchainClient struct {
	model     llms.Model
	provider  string
	modelName string
}

func (c *langchainClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, &Error{
			Kind:     FailureInvalidRequest,
			Provider: c.provider,
			Model:    c.modelName,
			Err:      errors.New("request has no messages"),
		}
	}
	messages := make([]llms.MessageContent, 0, len(req.Messages))
	for i := range req.Messages {
		messages = append(messages, llms.TextParts(mapRole(req.Messages[i].Role), req.Messages[i].Content))
	}
	options := []llms.CallOption{}
	if req.Temperature > 0 {
		options = append(options, llms.WithTemperature(req.Temperature))
	}
	if req.MaxTokens > 0 {
		options = append(options, llms.WithMaxTokens(req.MaxTokens))
	}
	response, err := c.model.GenerateContent(ctx, messages, options...)
	if err != nil {
		return nil, classifyError(c.provider, c.modelName, err)
	}
	if len(response.Choices) == 0 {
		return nil, &Error{
			Kind:     FailureUnknown,
			Provider: c.provider,
			Model:    c.modelName,
			Err:      errors.New("provider returned no choices"),
		}
	}
	choice := response.Choices[0]
	return &Response{
		Content: choice.Content,
		Usage:   extractUsage(choice.GenerationInfo),
	}, nil
}

func (c *langchainClient) Close() error {
	return nil
}

func mapRole(role string) llms.ChatMessageType {
	switch role {
	case RoleSystem:
		return llms.ChatMessageTypeSystem
	case RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}

func extractUsage(info map[string]any) *Usage {
	if len(info) == 0 {
		return nil
	}
	prompt, okPrompt := intValue(info["PromptTokens"])
	comp, okComp := intValue(info["CompletionTokens"])
	total, okTotal := intValue(info["TotalTokens"])
	if !okPrompt && !okComp && !okTotal {
		return nil
	}
	if !okTotal {
		total = prompt + comp
	}
	return &Usage{PromptTokens: prompt, CompletionTokens: comp, TotalTokens: total}
}

func intValue(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

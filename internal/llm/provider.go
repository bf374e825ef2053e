// Package llm adapts OpenAI-compatible chat servers to the narrow interface
// the delivery step needs.
package llm

import (
    "context"
    "net/http"
    "strings"

    openai "github.com/sashabaranov/go-openai"
)

// Client is the one call delivery makes against a chat model.
type Client interface {
    CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Config points at an OpenAI-compatible endpoint. An empty BaseURL uses the
// public OpenAI API.
type Config struct {
    BaseURL    string
    APIKey     string
    HTTPClient *http.Client
}

// OpenAIProvider adapts *openai.Client to Client.
type OpenAIProvider struct {
    Inner *openai.Client
}

// New builds a provider for cfg.
func New(cfg Config) *OpenAIProvider {
    oc := openai.DefaultConfig(cfg.APIKey)
    if base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); base != "" {
        oc.BaseURL = base
    }
    if cfg.HTTPClient != nil {
        oc.HTTPClient = cfg.HTTPClient
    }
    return &OpenAIProvider{Inner: openai.NewClientWithConfig(oc)}
}

func (p *OpenAIProvider) CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
    return p.Inner.CreateChatCompletion(ctx, request)
}

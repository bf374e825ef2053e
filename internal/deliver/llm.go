package deliver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"

	"github.com/hyperifyio/pdfsnippets/internal/budget"
	"github.com/hyperifyio/pdfsnippets/internal/cache"
	"github.com/hyperifyio/pdfsnippets/internal/llm"
)

const systemPrompt = "Você é um assistente que responde perguntas sobre regras operacionais " +
	"usando apenas o contexto fornecido. Cite o nome do documento de origem quando usar um trecho. " +
	"Se a resposta não estiver no contexto, diga que não encontrou."

// LLM answers the payload query with a chat model, using the site context and
// excerpts as grounding. Excerpts are dropped from the tail until the prompt
// fits the model window.
type LLM struct {
	Client llm.Client
	Model  string
	// MaxOutputTokens is reserved for the answer. Zero means 1024.
	MaxOutputTokens int
	// Cache is optional.
	Cache *cache.LLMCache
}

type cachedAnswer struct {
	Answer string `json:"answer"`
}

func (l *LLM) Deliver(ctx context.Context, p Payload) (Response, error) {
	if l.Client == nil || strings.TrimSpace(l.Model) == "" {
		return Response{}, ErrSkipped
	}
	reserve := l.MaxOutputTokens
	if reserve <= 0 {
		reserve = 1024
	}

	sections := make([]string, 0, len(p.PDFSnippets)+1)
	if ctxText := strings.TrimSpace(p.SitesContext); ctxText != "" {
		sections = append(sections, "## Contexto de sites\n"+ctxText)
	}
	for _, it := range p.PDFSnippets {
		sections = append(sections, fmt.Sprintf("## Documento: %s\n%s", it.Name, it.Snippets))
	}
	header := "Pergunta: " + p.Query
	n := budget.FitCount(l.Model, reserve, systemPrompt, header, sections)
	if n < len(sections) {
		log.Warn().Int("kept", n).Int("dropped", len(sections)-n).Str("model", l.Model).Msg("context trimmed to fit model window")
	}
	user := header + "\n\n" + strings.Join(sections[:n], "\n\n")

	key := cache.KeyFrom(l.Model, systemPrompt+"\n\n"+user)
	if l.Cache != nil {
		if b, ok, _ := l.Cache.Get(ctx, key); ok {
			var ca cachedAnswer
			if json.Unmarshal(b, &ca) == nil && ca.Answer != "" {
				log.Debug().Str("model", l.Model).Msg("answer served from cache")
				return Response{Status: 200, Body: ca.Answer}, nil
			}
		}
	}

	resp, err := l.Client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: l.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		MaxTokens:   reserve,
		Temperature: 0.1,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return Response{Status: apiErr.HTTPStatusCode}, fmt.Errorf("%w: %v", ErrDeliveryStatus, err)
		}
		return Response{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, errors.New("chat completion returned no choices")
	}
	answer := strings.TrimSpace(resp.Choices[0].Message.Content)
	if l.Cache != nil && answer != "" {
		if b, err := json.Marshal(cachedAnswer{Answer: answer}); err == nil {
			_ = l.Cache.Save(ctx, key, b)
		}
	}
	return Response{Status: 200, Body: answer}, nil
}

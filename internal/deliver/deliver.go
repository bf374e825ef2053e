// Package deliver hands the excerpt collection and site context to a
// downstream consumer: a webhook endpoint or a chat model.
package deliver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/hyperifyio/pdfsnippets/internal/batch"
)

const (
	DefaultQuery     = "Teste automático: listar regras de emissão."
	DefaultUserAgent = "github-actions"
)

var (
	// ErrSkipped is returned when no destination is configured.
	ErrSkipped = errors.New("delivery skipped: no destination configured")
	// ErrDeliveryStatus wraps non-2xx responses.
	ErrDeliveryStatus = errors.New("delivery rejected")
)

// Payload is the document posted downstream.
type Payload struct {
	Query        string       `json:"q"`
	UserAgent    string       `json:"ua"`
	SitesContext string       `json:"sites_context"`
	PDFSnippets  []batch.Item `json:"pdf_snippets"`
}

// Response is what the destination answered. Body is truncated.
type Response struct {
	Status int
	Body   string
}

// Deliverer sends a payload somewhere.
type Deliverer interface {
	Deliver(ctx context.Context, p Payload) (Response, error)
}

// LoadPayload assembles a payload from the files written by earlier steps.
// Missing files yield an empty collection or context rather than an error,
// so delivery still runs after a partial pipeline.
func LoadPayload(snippetsPath string, contextPath string, query string, userAgent string) (Payload, error) {
	if query == "" {
		query = DefaultQuery
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	p := Payload{Query: query, UserAgent: userAgent, PDFSnippets: []batch.Item{}}
	if snippetsPath != "" {
		b, err := os.ReadFile(snippetsPath)
		switch {
		case err == nil:
			if err := json.Unmarshal(b, &p.PDFSnippets); err != nil {
				return Payload{}, fmt.Errorf("decode %s: %w", snippetsPath, err)
			}
			if p.PDFSnippets == nil {
				p.PDFSnippets = []batch.Item{}
			}
		case !errors.Is(err, os.ErrNotExist):
			return Payload{}, err
		}
	}
	if contextPath != "" {
		b, err := os.ReadFile(contextPath)
		switch {
		case err == nil:
			p.SitesContext = string(b)
		case !errors.Is(err, os.ErrNotExist):
			return Payload{}, err
		}
	}
	return p, nil
}

package deliver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hyperifyio/pdfsnippets/internal/batch"
)

// MaxEchoBytes caps how much of the response body is kept for display.
const MaxEchoBytes = 2000

// Webhook POSTs the payload as JSON. Apps Script endpoints answer with a
// redirect to the result, which the client follows as a GET.
type Webhook struct {
	URL        string
	HTTPClient *http.Client
	// Timeout bounds the whole exchange. Zero means 90s.
	Timeout time.Duration
}

func (w *Webhook) Deliver(ctx context.Context, p Payload) (Response, error) {
	if strings.TrimSpace(w.URL) == "" {
		return Response{}, ErrSkipped
	}
	if p.PDFSnippets == nil {
		p.PDFSnippets = []batch.Item{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		return Response{}, fmt.Errorf("encode payload: %w", err)
	}
	timeout := w.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, &buf)
	if err != nil {
		return Response{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	client := w.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxEchoBytes+utf8.UTFMax))
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}
	out := Response{Status: resp.StatusCode, Body: truncateUTF8(body, MaxEchoBytes)}
	if resp.StatusCode >= 300 {
		return out, fmt.Errorf("%w: HTTP %d", ErrDeliveryStatus, resp.StatusCode)
	}
	return out, nil
}

// truncateUTF8 cuts b to at most n bytes without splitting a rune.
func truncateUTF8(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	for n > 0 && !utf8.RuneStart(b[n]) {
		n--
	}
	return string(b[:n])
}

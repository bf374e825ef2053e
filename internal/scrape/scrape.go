// Package scrape builds the free-text site context blob handed to delivery
// alongside the excerpt collection.
package scrape

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/html/charset"

	"github.com/hyperifyio/pdfsnippets/internal/extract"
	"github.com/hyperifyio/pdfsnippets/internal/fetch"
	"github.com/hyperifyio/pdfsnippets/internal/robots"
)

// DefaultCatalog lists the partner portals scraped when none are configured.
var DefaultCatalog = []string{
	"https://www.affix.com.br/portal-do-parceiro/",
	"https://www.alter.com.br/portal-do-parceiro/",
	"https://www.hapvida.com.br/portal/",
	"https://www2.hapvida.com.br/segunda-via-de-boletos",
}

// DefaultUserAgent identifies the scraper to site operators.
const DefaultUserAgent = "RIC-AI-Agent/3.0 (+github-actions-python)"

// Outcome classifies one scraped page.
type Outcome int

const (
	OK Outcome = iota
	// FetchFailed means the page could not be retrieved.
	FetchFailed
	// ProcessFailed means the page was retrieved but could not be decoded.
	ProcessFailed
)

// Page is the result for one URL.
type Page struct {
	URL     string
	Text    string
	Outcome Outcome
	Err     error
}

// Block renders the page as a source-tagged section of the context blob.
func (p Page) Block() string {
	switch p.Outcome {
	case FetchFailed:
		return fmt.Sprintf("\n--- FONTE (FALHA): %s ---\n(Conteúdo indisponível)", p.URL)
	case ProcessFailed:
		return fmt.Sprintf("\n--- FONTE (ERRO): %s ---\n(Erro de processamento)", p.URL)
	default:
		return fmt.Sprintf("\n--- FONTE: %s ---\n%s", p.URL, p.Text)
	}
}

// Header is the first line of a context blob; runID identifies the CI run
// and falls back to "GitLab/Local".
func Header(runID string) string {
	if strings.TrimSpace(runID) == "" {
		runID = "GitLab/Local"
	}
	return fmt.Sprintf("Contexto de Sites Oficiais Affix/Alter/Hapvida (Gerado em: %s)\n\n", runID)
}

// Scraper fetches pages through Client, whose Limiter provides the pause
// between requests.
type Scraper struct {
	Client *fetch.Client
	// Robots, when set, skips pages excluded by robots.txt and honours the
	// host's crawl delay between pages of the same host.
	Robots *robots.Checker
}

// Scrape fetches one page and flattens it to a single line of text.
func (s *Scraper) Scrape(ctx context.Context, rawURL string) Page {
	log.Info().Str("url", rawURL).Msg("scraping")
	if s.Robots != nil {
		ok, err := s.Robots.Allowed(ctx, rawURL)
		if err == nil && !ok {
			err = robots.ErrDisallowed
		}
		if err != nil {
			log.Warn().Str("url", rawURL).Err(err).Msg("scrape skipped")
			return Page{URL: rawURL, Outcome: FetchFailed, Err: err}
		}
	}
	body, ct, err := s.Client.Get(ctx, rawURL)
	if err != nil {
		log.Warn().Str("url", rawURL).Err(err).Msg("scrape failed")
		return Page{URL: rawURL, Outcome: FetchFailed, Err: err}
	}
	r, err := charset.NewReader(bytes.NewReader(body), ct)
	if err != nil {
		log.Error().Str("url", rawURL).Err(err).Msg("decode failed")
		return Page{URL: rawURL, Outcome: ProcessFailed, Err: err}
	}
	decoded, err := io.ReadAll(r)
	if err != nil {
		return Page{URL: rawURL, Outcome: ProcessFailed, Err: err}
	}
	return Page{URL: rawURL, Text: extract.PageText(decoded), Outcome: OK}
}

// Collect scrapes urls in order, skipping repeats that differ only in case
// of scheme/host or fragment, and returns the assembled context blob.
func (s *Scraper) Collect(ctx context.Context, runID string, urls []string) (string, []Page, error) {
	var b strings.Builder
	b.WriteString(Header(runID))
	var pages []Page
	seen := make(map[string]bool, len(urls))
	lastByHost := make(map[string]time.Time)
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		key := canonicalURL(u)
		if seen[key] {
			continue
		}
		seen[key] = true
		if err := ctx.Err(); err != nil {
			return b.String(), pages, err
		}
		if err := s.crawlDelay(ctx, u, lastByHost); err != nil {
			return b.String(), pages, err
		}
		p := s.Scrape(ctx, u)
		pages = append(pages, p)
		b.WriteString(p.Block())
		b.WriteString("\n\n")
	}
	return b.String(), pages, nil
}

// crawlDelay waits out the robots.txt crawl delay since the previous page on
// the same host, then records this visit.
func (s *Scraper) crawlDelay(ctx context.Context, rawURL string, last map[string]time.Time) error {
	if s.Robots == nil {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	host := strings.ToLower(u.Host)
	if prev, ok := last[host]; ok {
		if d := s.Robots.CrawlDelay(ctx, rawURL); d != nil {
			if wait := time.Until(prev.Add(*d)); wait > 0 {
				t := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					t.Stop()
					return ctx.Err()
				case <-t.C:
				}
			}
		}
	}
	last[host] = time.Now()
	return nil
}

// canonicalURL lowercases scheme and host and drops the fragment. Unparseable
// input is returned unchanged.
func canonicalURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

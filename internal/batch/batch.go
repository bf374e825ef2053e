// Package batch runs extraction, normalization and excerpt selection over a
// discovered set of documents and reassembles the results in discovery order.
package batch

import (
	"context"
	"runtime"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/hyperifyio/pdfsnippets/internal/cache"
	"github.com/hyperifyio/pdfsnippets/internal/excerpt"
	"github.com/hyperifyio/pdfsnippets/internal/extract"
	"github.com/hyperifyio/pdfsnippets/internal/normalize"
	"github.com/hyperifyio/pdfsnippets/internal/source"
)

// Status is the fate of one discovered document.
type Status string

const (
	// Kept documents are emitted.
	Kept Status = "kept"
	// Short documents produced an excerpt below the minimum-keep threshold.
	Short Status = "short"
	// Unavailable documents could not be extracted.
	Unavailable Status = "unavailable"
	// Duplicate documents share a name with an earlier discovered document.
	Duplicate Status = "duplicate"
)

// Item is one emitted record of the output collection.
type Item struct {
	Name     string `json:"name"`
	Snippets string `json:"snippets"`
}

// Outcome describes what happened to one discovered document. Chars is the
// rune length of the excerpt, or zero when nothing was selected.
type Outcome struct {
	Name   string
	Path   string
	Status Status
	Chars  int
	// Normalized is the rune length of the normalized full text.
	Normalized int
	Cached     bool
	Err        error
}

// Report is the result of a run. Items hold only kept documents; Outcomes hold
// every discovered document, both in discovery order.
type Report struct {
	Items    []Item
	Outcomes []Outcome
}

// Kept counts emitted documents.
func (r Report) Kept() int { return len(r.Items) }

// Count returns how many outcomes have status s.
func (r Report) Count(s Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}

// Store caches excerpts by key. *cache.ExcerptCache implements it.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key string, excerpt string) error
}

// Processor holds everything a run needs. The zero Concurrency uses the number
// of CPUs.
type Processor struct {
	Extractor   extract.Extractor
	Selector    *excerpt.Selector
	Budget      int
	MinKeep     int
	Concurrency int
	// Cache is optional.
	Cache Store
}

// Run processes sources. Duplicate names are resolved first-seen-wins before
// any extraction happens. A failing document never stops the run; only
// context cancellation does, in which case the partial report built so far is
// returned together with ctx.Err().
func (p *Processor) Run(ctx context.Context, sources []source.Source) (Report, error) {
	kept, dropped := source.Dedupe(sources)
	for _, d := range dropped {
		log.Debug().Str("name", d.Name).Str("path", d.Path).Msg("duplicate document skipped")
	}

	sel := p.Selector
	if sel == nil {
		sel = excerpt.New(excerpt.Options{})
	}
	limit := p.Concurrency
	if limit <= 0 {
		limit = runtime.NumCPU()
	}

	results := make([]Outcome, len(kept))
	excerpts := make([]string, len(kept))
	done := make([]bool, len(kept))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, src := range kept {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i], excerpts[i] = p.process(gctx, sel, src)
			done[i] = true
			return nil
		})
	}
	runErr := g.Wait()
	if runErr == nil {
		runErr = ctx.Err()
	}

	// kept is an order-preserving subsequence of sources.
	var rep Report
	k := 0
	for _, src := range sources {
		if k >= len(kept) || kept[k] != src {
			rep.Outcomes = append(rep.Outcomes, Outcome{Name: src.Name, Path: src.Path, Status: Duplicate})
			continue
		}
		i := k
		k++
		if !done[i] {
			continue
		}
		rep.Outcomes = append(rep.Outcomes, results[i])
		if results[i].Status == Kept {
			rep.Items = append(rep.Items, Item{Name: src.Name, Snippets: excerpts[i]})
		}
	}
	return rep, runErr
}

func (p *Processor) process(ctx context.Context, sel *excerpt.Selector, src source.Source) (Outcome, string) {
	out := Outcome{Name: src.Name, Path: src.Path}
	res := p.Extractor.Extract(ctx, src.Path)
	if res.Status == extract.Unavailable {
		out.Status = Unavailable
		out.Err = res.Err
		log.Debug().Str("path", src.Path).Err(res.Err).Msg("extraction unavailable")
		return out, ""
	}

	text := normalize.Text(res.Text)
	out.Normalized = utf8.RuneCountInString(text)

	snippet, cached := p.lookup(ctx, sel, text)
	if !cached {
		snippet = sel.Select(text, p.Budget)
		p.store(ctx, sel, text, snippet)
	}
	out.Cached = cached
	out.Chars = utf8.RuneCountInString(snippet)
	if out.Chars < p.MinKeep {
		out.Status = Short
		log.Debug().Str("path", src.Path).Int("chars", out.Chars).Msg("excerpt below minimum, dropped")
		return out, ""
	}
	out.Status = Kept
	return out, snippet
}

func (p *Processor) lookup(ctx context.Context, sel *excerpt.Selector, text string) (string, bool) {
	if p.Cache == nil {
		return "", false
	}
	v, ok, err := p.Cache.Get(ctx, cache.ExcerptKey(text, p.Budget, sel.Fingerprint()))
	if err != nil {
		log.Warn().Err(err).Msg("excerpt cache read failed")
		return "", false
	}
	return v, ok
}

func (p *Processor) store(ctx context.Context, sel *excerpt.Selector, text string, snippet string) {
	if p.Cache == nil {
		return
	}
	if err := p.Cache.Put(ctx, cache.ExcerptKey(text, p.Budget, sel.Fingerprint()), snippet); err != nil {
		log.Warn().Err(err).Msg("excerpt cache write failed")
	}
}

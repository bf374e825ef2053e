package batch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperifyio/pdfsnippets/internal/cache"
	"github.com/hyperifyio/pdfsnippets/internal/excerpt"
	"github.com/hyperifyio/pdfsnippets/internal/extract"
	"github.com/hyperifyio/pdfsnippets/internal/source"
)

// stubExtractor serves canned results by path and may delay each call.
type stubExtractor struct {
	texts map[string]extract.Result
	delay map[string]time.Duration

	mu    sync.Mutex
	calls []string
}

func (s *stubExtractor) Extract(ctx context.Context, path string) extract.Result {
	s.mu.Lock()
	s.calls = append(s.calls, path)
	s.mu.Unlock()
	if d := s.delay[path]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return extract.Result{Status: extract.Unavailable, Err: ctx.Err()}
		}
	}
	if r, ok := s.texts[path]; ok {
		return r
	}
	return extract.Result{Status: extract.Unavailable, Err: errors.New("not found")}
}

func ok(text string) extract.Result { return extract.Result{Text: text, Status: extract.Available} }

func src(loc, name string) source.Source {
	return source.Source{Name: name, Path: loc + "/" + name, Location: loc}
}

func TestRun_MinKeepThreshold(t *testing.T) {
	ex := &stubExtractor{texts: map[string]extract.Result{
		"a/short.pdf": ok(strings.Repeat("x", 399)),
		"a/exact.pdf": ok(strings.Repeat("y", 400)),
	}}
	p := &Processor{Extractor: ex, Budget: 6000, MinKeep: 400, Concurrency: 2}
	rep, err := p.Run(context.Background(), []source.Source{src("a", "short.pdf"), src("a", "exact.pdf")})
	require.NoError(t, err)
	require.Len(t, rep.Items, 1)
	assert.Equal(t, "exact.pdf", rep.Items[0].Name)
	assert.Equal(t, Short, rep.Outcomes[0].Status)
	assert.Equal(t, 399, rep.Outcomes[0].Chars)
	assert.Equal(t, Kept, rep.Outcomes[1].Status)
}

func TestRun_FirstLocationWinsDuplicates(t *testing.T) {
	ex := &stubExtractor{texts: map[string]extract.Result{
		"first/x.pdf":  ok(strings.Repeat("primeiro ", 60)),
		"second/x.pdf": ok(strings.Repeat("segundo ", 60)),
	}}
	p := &Processor{Extractor: ex, Budget: 6000, MinKeep: 10}
	rep, err := p.Run(context.Background(), []source.Source{src("first", "x.pdf"), src("second", "x.pdf")})
	require.NoError(t, err)
	require.Len(t, rep.Items, 1)
	assert.Contains(t, rep.Items[0].Snippets, "primeiro")
	assert.Equal(t, Duplicate, rep.Outcomes[1].Status)
	assert.Equal(t, []string{"first/x.pdf"}, ex.calls, "duplicates are never extracted")
}

func TestRun_DiscoveryOrderDespiteCompletionOrder(t *testing.T) {
	texts := map[string]extract.Result{}
	delay := map[string]time.Duration{}
	var sources []source.Source
	names := []string{"a.pdf", "b.pdf", "c.pdf", "d.pdf", "e.pdf", "f.pdf"}
	for i, n := range names {
		s := src("loc", n)
		sources = append(sources, s)
		texts[s.Path] = ok(strings.Repeat(n+" ", 20))
		// Earlier documents finish last.
		delay[s.Path] = time.Duration(len(names)-i) * 15 * time.Millisecond
	}
	p := &Processor{Extractor: &stubExtractor{texts: texts, delay: delay}, Budget: 6000, MinKeep: 1, Concurrency: len(names)}
	rep, err := p.Run(context.Background(), sources)
	require.NoError(t, err)
	var got []string
	for _, it := range rep.Items {
		got = append(got, it.Name)
	}
	assert.Equal(t, names, got)
}

func TestRun_UnavailableExcluded(t *testing.T) {
	ex := &stubExtractor{texts: map[string]extract.Result{
		"a/good.txt": ok(strings.Repeat("bom ", 200)),
	}}
	p := &Processor{Extractor: ex, Budget: 6000, MinKeep: 400}
	rep, err := p.Run(context.Background(), []source.Source{src("a", "broken.pdf"), src("a", "good.txt")})
	require.NoError(t, err)
	require.Len(t, rep.Items, 1)
	assert.Equal(t, "good.txt", rep.Items[0].Name)
	assert.Equal(t, Unavailable, rep.Outcomes[0].Status)
	assert.Error(t, rep.Outcomes[0].Err)
	assert.Equal(t, 1, rep.Count(Unavailable))
	assert.Equal(t, 1, rep.Kept())
}

func TestRun_EmptyDocumentIsShortNotUnavailable(t *testing.T) {
	ex := &stubExtractor{texts: map[string]extract.Result{"a/empty.pdf": ok("   \n\n ")}}
	p := &Processor{Extractor: ex, Budget: 6000, MinKeep: 400}
	rep, err := p.Run(context.Background(), []source.Source{src("a", "empty.pdf")})
	require.NoError(t, err)
	assert.Empty(t, rep.Items)
	assert.Equal(t, Short, rep.Outcomes[0].Status)
}

func TestRun_ExcerptsRespectBudget(t *testing.T) {
	var blocks []string
	for i := 0; i < 10; i++ {
		blocks = append(blocks, strings.Repeat("linha de texto do bloco\n", 40))
	}
	ex := &stubExtractor{texts: map[string]extract.Result{"a/long.pdf": ok(strings.Join(blocks, "\n\n"))}}
	p := &Processor{Extractor: ex, Selector: excerpt.New(excerpt.Options{}), Budget: 1500, MinKeep: 100}
	rep, err := p.Run(context.Background(), []source.Source{src("a", "long.pdf")})
	require.NoError(t, err)
	require.Len(t, rep.Items, 1)
	assert.LessOrEqual(t, len([]rune(rep.Items[0].Snippets)), 1500)
	assert.Greater(t, rep.Outcomes[0].Normalized, 1500)
}

func TestRun_UsesExcerptCache(t *testing.T) {
	store, err := cache.OpenExcerptCache(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	text := strings.Repeat("conteúdo relevante ", 50)
	ex := &stubExtractor{texts: map[string]extract.Result{"a/doc.pdf": ok(text)}}
	p := &Processor{Extractor: ex, Budget: 6000, MinKeep: 10, Cache: store}
	sources := []source.Source{src("a", "doc.pdf")}

	first, err := p.Run(context.Background(), sources)
	require.NoError(t, err)
	assert.False(t, first.Outcomes[0].Cached)

	second, err := p.Run(context.Background(), sources)
	require.NoError(t, err)
	assert.True(t, second.Outcomes[0].Cached)
	assert.Equal(t, first.Items, second.Items)
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ex := &stubExtractor{texts: map[string]extract.Result{"a/x.pdf": ok("texto")}}
	p := &Processor{Extractor: ex, Budget: 6000, MinKeep: 1}
	rep, err := p.Run(ctx, []source.Source{src("a", "x.pdf")})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, rep.Items)
}

func TestRun_WithRealExtractors(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	body := "Regras de emissão\n\n" + strings.Repeat("O prazo de envio é de cinco dias úteis. ", 20)
	require.NoError(t, os.WriteFile(filepath.Join(first, "regras.txt"), []byte(body), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(second, "regras.txt"), []byte("outro"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(second, "notas.md"), []byte("curto"), 0o644))

	sources, notices := source.Discover([]string{first, second}, []string{".txt", ".md"})
	require.Empty(t, notices)
	p := &Processor{Extractor: extract.DefaultRegistry(), Budget: 6000, MinKeep: 400}
	rep, err := p.Run(context.Background(), sources)
	require.NoError(t, err)
	require.Len(t, rep.Items, 1)
	assert.Equal(t, "regras.txt", rep.Items[0].Name)
	assert.True(t, strings.HasPrefix(rep.Items[0].Snippets, "Regras de emissão"))
	require.Len(t, rep.Outcomes, 3)
}

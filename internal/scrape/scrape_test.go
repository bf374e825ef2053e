package scrape

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperifyio/pdfsnippets/internal/fetch"
	"github.com/hyperifyio/pdfsnippets/internal/robots"
)

func TestCollect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/portal/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><head><script>x()</script></head><body>
			<header>Menu</header><nav>Início</nav>
			<main><h1>Portal do Parceiro</h1><p>Envie   as guias
			até o dia 10.</p></main>
			<form>Login</form><footer>Rodapé</footer></body></html>`))
	})
	mux.HandleFunc("/latin1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=iso-8859-1")
		_, _ = w.Write([]byte("<html><body><p>Emiss\xe3o de boletos</p></body></html>"))
	})
	mux.HandleFunc("/down", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		mux.ServeHTTP(w, r)
	}))
	defer srv.Close()

	s := &Scraper{Client: &fetch.Client{UserAgent: DefaultUserAgent}}
	urls := []string{srv.URL + "/portal/", srv.URL + "/portal/#top", srv.URL + "/latin1", srv.URL + "/down", "  "}
	blob, pages, err := s.Collect(context.Background(), "", urls)
	require.NoError(t, err)
	require.Len(t, pages, 3)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits), "fragment variant is deduplicated")

	assert.True(t, strings.HasPrefix(blob, "Contexto de Sites Oficiais Affix/Alter/Hapvida (Gerado em: GitLab/Local)\n\n"))
	assert.Contains(t, blob, "\n--- FONTE: "+srv.URL+"/portal/ ---\nPortal do Parceiro Envie as guias até o dia 10.\n\n")
	assert.NotContains(t, blob, "Menu")
	assert.NotContains(t, blob, "Login")
	assert.NotContains(t, blob, "Rodapé")
	assert.Contains(t, blob, "Emissão de boletos")
	assert.Contains(t, blob, "\n--- FONTE (FALHA): "+srv.URL+"/down ---\n(Conteúdo indisponível)")
	assert.Equal(t, FetchFailed, pages[2].Outcome)
}

func TestHeader(t *testing.T) {
	assert.Equal(t, "Contexto de Sites Oficiais Affix/Alter/Hapvida (Gerado em: 12345)\n\n", Header("12345"))
}

func TestPageBlock_ProcessFailed(t *testing.T) {
	p := Page{URL: "https://x/", Outcome: ProcessFailed}
	assert.Equal(t, "\n--- FONTE (ERRO): https://x/ ---\n(Erro de processamento)", p.Block())
}

func TestCollect_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := &Scraper{Client: &fetch.Client{}}
	blob, pages, err := s.Collect(ctx, "1", []string{"https://example.invalid/"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, pages)
	assert.Equal(t, Header("1"), blob)
}

func TestCanonicalURL(t *testing.T) {
	assert.Equal(t, "https://example.com/A?x=1", canonicalURL("HTTPS://Example.COM/A?x=1#frag"))
}

func TestCollect_RespectsRobots(t *testing.T) {
	var privateHits int32
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /private\nCrawl-delay: 0.05\n"))
	})
	mux.HandleFunc("/private", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&privateHits, 1)
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<p>segredo</p>"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<p>aberto " + r.URL.Path + "</p>"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := &Scraper{
		Client: &fetch.Client{UserAgent: DefaultUserAgent},
		Robots: &robots.Checker{Client: &fetch.Client{UserAgent: DefaultUserAgent, MaxAttempts: 1, Accept: fetch.AcceptAny}},
	}
	start := time.Now()
	blob, pages, err := s.Collect(context.Background(), "1", []string{srv.URL + "/a", srv.URL + "/private", srv.URL + "/b"})
	require.NoError(t, err)
	require.Len(t, pages, 3)
	assert.Equal(t, OK, pages[0].Outcome)
	assert.Equal(t, FetchFailed, pages[1].Outcome)
	assert.ErrorIs(t, pages[1].Err, robots.ErrDisallowed)
	assert.Equal(t, int32(0), atomic.LoadInt32(&privateHits))
	assert.Contains(t, blob, "aberto /b")
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond, "crawl delay applies between same-host pages")
}

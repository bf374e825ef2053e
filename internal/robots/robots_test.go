package robots

import (
    "context"
    "net/http"
    "net/http/httptest"
    "sync/atomic"
    "testing"
    "time"

    "github.com/hyperifyio/pdfsnippets/internal/cache"
    "github.com/hyperifyio/pdfsnippets/internal/fetch"
)

func newClient(srv *httptest.Server, c *cache.HTTPCache) *fetch.Client {
    return &fetch.Client{
        HTTPClient:  srv.Client(),
        UserAgent:   "pdfsnippets-test/1.0",
        MaxAttempts: 1,
        Accept:      fetch.AcceptAny,
        Cache:       c,
    }
}

func TestChecker_MemoizesAndRevalidatesWithETag(t *testing.T) {
    t.Parallel()
    var hits, revalidated int32
    const etag = `W/"v1"`
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        if r.URL.Path != "/robots.txt" {
            http.NotFound(w, r)
            return
        }
        atomic.AddInt32(&hits, 1)
        if r.Header.Get("If-None-Match") == etag {
            atomic.AddInt32(&revalidated, 1)
            w.Header().Set("ETag", etag)
            w.WriteHeader(http.StatusNotModified)
            return
        }
        w.Header().Set("Content-Type", "text/plain")
        w.Header().Set("ETag", etag)
        _, _ = w.Write([]byte("User-agent: *\nDisallow: /private\n"))
    }))
    t.Cleanup(srv.Close)

    now := time.Unix(1_700_000_000, 0)
    c := &Checker{
        Client:      newClient(srv, &cache.HTTPCache{Dir: t.TempDir()}),
        EntryExpiry: time.Minute,
        now:         func() time.Time { return now },
    }
    ctx := context.Background()

    ok, err := c.Allowed(ctx, srv.URL+"/private/doc.html")
    if err != nil || ok {
        t.Fatalf("expected disallow, got %v %v", ok, err)
    }
    ok, err = c.Allowed(ctx, srv.URL+"/public")
    if err != nil || !ok {
        t.Fatalf("expected allow, got %v %v", ok, err)
    }
    if got := atomic.LoadInt32(&hits); got != 1 {
        t.Fatalf("expected 1 hit while memoized, got %d", got)
    }

    now = now.Add(2 * time.Minute)
    rules, src, err := c.Rules(ctx, srv.URL+"/robots.txt")
    if err != nil {
        t.Fatal(err)
    }
    if src != SourceNetwork || atomic.LoadInt32(&revalidated) != 1 {
        t.Fatalf("expected conditional refetch, src=%v revalidated=%d", src, revalidated)
    }
    if rules.IsAllowed("pdfsnippets", "/private") {
        t.Fatal("rules from cached body should still disallow /private")
    }
}

func TestChecker_MissingRobotsAllowsAll(t *testing.T) {
    t.Parallel()
    var hits int32
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        atomic.AddInt32(&hits, 1)
        http.NotFound(w, r)
    }))
    t.Cleanup(srv.Close)

    c := &Checker{Client: newClient(srv, nil)}
    for i := 0; i < 2; i++ {
        ok, err := c.Allowed(context.Background(), srv.URL+"/any/path")
        if err != nil || !ok {
            t.Fatalf("expected allow with missing robots.txt, got %v %v", ok, err)
        }
    }
    if got := atomic.LoadInt32(&hits); got != 1 {
        t.Fatalf("expected one fetch, got %d", got)
    }
}

func TestChecker_ServerErrorDisallowsAll(t *testing.T) {
    t.Parallel()
    for _, code := range []int{http.StatusServiceUnavailable, http.StatusForbidden} {
        srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
            w.WriteHeader(code)
        }))
        c := &Checker{Client: newClient(srv, nil)}
        ok, err := c.Allowed(context.Background(), srv.URL+"/page")
        srv.Close()
        if err != nil {
            t.Fatalf("%d: unexpected error %v", code, err)
        }
        if ok {
            t.Fatalf("%d: expected disallow-all", code)
        }
    }
}

func TestChecker_CancelledContext(t *testing.T) {
    t.Parallel()
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        _, _ = w.Write([]byte("User-agent: *\nAllow: /\n"))
    }))
    t.Cleanup(srv.Close)
    ctx, cancel := context.WithCancel(context.Background())
    cancel()
    c := &Checker{Client: newClient(srv, nil)}
    if _, err := c.Allowed(ctx, srv.URL+"/"); err == nil {
        t.Fatal("expected context error")
    }
}

func TestChecker_NonHTTPAllowed(t *testing.T) {
    c := &Checker{}
    ok, err := c.Allowed(context.Background(), "file:///tmp/x.html")
    if err != nil || !ok {
        t.Fatalf("non-http URLs are not governed by robots.txt: %v %v", ok, err)
    }
}

func TestEvaluate_AgentPrecedenceAndPaths(t *testing.T) {
    t.Parallel()
    rules := parseRobots("User-agent: pdfsnippets\nDisallow: /private\n\nUser-agent: *\nAllow: /\n")
    if rules.IsAllowed("pdfsnippets/1.0", "/private/page") {
        t.Fatal("named group should apply")
    }
    if !rules.IsAllowed("otheragent", "/private/page") {
        t.Fatal("wildcard group should allow")
    }

    rules2 := parseRobots("User-agent: pdfsnippets\nDisallow: /private\nAllow: /private/public\n")
    if !rules2.IsAllowed("pdfsnippets", "/private/public/info") {
        t.Fatal("longer Allow should win")
    }
    if rules2.IsAllowed("pdfsnippets", "/private/else") {
        t.Fatal("expected disallow")
    }
}

func TestEvaluate_WildcardsAnchorsAndComments(t *testing.T) {
    t.Parallel()
    rules := parseRobots("User-agent: pdfsnippets # us\nDisallow: /*.zip$\nAllow: /downloads/*.zip$\n")
    if rules.IsAllowed("pdfsnippets", "/foo/file.zip") {
        t.Fatal("expected disallow for *.zip")
    }
    if !rules.IsAllowed("pdfsnippets", "/downloads/file.zip") {
        t.Fatal("expected allow for downloads/*.zip")
    }
    if !rules.IsAllowed("pdfsnippets", "/foo/file.zip.html") {
        t.Fatal("$ anchors the end")
    }
    rules2 := parseRobots("User-agent: *\nDisallow: /*?session=\n")
    if rules2.IsAllowed("any", "/index.html?session=1") {
        t.Fatal("pattern should match the query string")
    }
}

func TestEvaluate_CrawlDelayForMatchedGroup(t *testing.T) {
    t.Parallel()
    rules := parseRobots("User-agent: pdfsnippets\nCrawl-delay: 2\n\nUser-agent: *\nCrawl-delay: 0.5\n")
    if d := rules.CrawlDelayFor("pdfsnippets"); d == nil || *d != 2*time.Second {
        t.Fatalf("expected 2s, got %v", d)
    }
    if d := rules.CrawlDelayFor("other"); d == nil || *d != 500*time.Millisecond {
        t.Fatalf("expected 500ms, got %v", d)
    }
}

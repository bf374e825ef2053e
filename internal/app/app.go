// Package app wires configuration to the pipeline steps behind each CLI
// subcommand.
package app

import (
    "context"
    "errors"
    "fmt"
    "os"
    "strings"
    "time"

    "github.com/rs/zerolog/log"
    "golang.org/x/time/rate"

    "github.com/hyperifyio/pdfsnippets/internal/batch"
    "github.com/hyperifyio/pdfsnippets/internal/cache"
    "github.com/hyperifyio/pdfsnippets/internal/deliver"
    "github.com/hyperifyio/pdfsnippets/internal/drive"
    "github.com/hyperifyio/pdfsnippets/internal/excerpt"
    "github.com/hyperifyio/pdfsnippets/internal/extract"
    "github.com/hyperifyio/pdfsnippets/internal/fetch"
    "github.com/hyperifyio/pdfsnippets/internal/llm"
    "github.com/hyperifyio/pdfsnippets/internal/report"
    "github.com/hyperifyio/pdfsnippets/internal/robots"
    "github.com/hyperifyio/pdfsnippets/internal/scrape"
    "github.com/hyperifyio/pdfsnippets/internal/source"
    "github.com/hyperifyio/pdfsnippets/internal/watch"
)

// ErrNoDocuments is returned by Ask when there is nothing to ground an
// answer on.
var ErrNoDocuments = errors.New("no documents to work with")

type App struct {
    cfg      Config
    selector *excerpt.Selector

    extractor extract.Extractor
    // newUploader builds the Drive client; tests swap it for a fake.
    newUploader func(ctx context.Context) (*drive.Uploader, error)
}

// New validates cfg and prepares shared components.
func New(cfg Config) (*App, error) {
    if err := ValidateConfig(cfg); err != nil {
        return nil, err
    }
    opts, err := cfg.SelectorOptions()
    if err != nil {
        return nil, err
    }
    a := &App{
        cfg:       cfg,
        selector:  excerpt.New(opts),
        extractor: extract.DefaultRegistry(),
    }
    a.newUploader = a.uploader
    return a, nil
}

// Config returns the effective configuration.
func (a *App) Config() Config { return a.cfg }

// Extract discovers documents, selects excerpts and writes the collection
// plus its manifest and optional PDF digest. Zero kept documents is not an
// error; an empty collection is written.
func (a *App) Extract(ctx context.Context) (batch.Report, error) {
    started := time.Now()
    sources, notices := source.Discover(a.cfg.SourceDirs, a.cfg.Extensions)
    for _, n := range notices {
        log.Warn().Str("location", n.Location).Err(n.Err).Msg("source location skipped")
    }
    log.Debug().Int("sources", len(sources)).Msg("discovery complete")

    store, closeStore := a.openExcerptCache(ctx)
    defer closeStore()

    p := &batch.Processor{
        Extractor:   a.extractor,
        Selector:    a.selector,
        Budget:      a.cfg.Budget,
        MinKeep:     a.cfg.MinKeep,
        Concurrency: a.cfg.Concurrency,
    }
    if store != nil {
        p.Cache = store
    }
    rep, err := p.Run(ctx, sources)
    if err != nil {
        return rep, err
    }

    if err := report.WriteJSON(a.cfg.OutputPath, rep.Items); err != nil {
        return rep, fmt.Errorf("write output: %w", err)
    }
    if a.cfg.WriteManifest {
        meta := report.NewMeta()
        meta.Budget = a.cfg.Budget
        meta.MinKeep = a.cfg.MinKeep
        meta.Keywords = a.selector.Options().Keywords
        meta.Scoring = a.selector.Options().Scoring.String()
        meta.Accumulation = a.selector.Options().Accumulation.String()
        meta.Locations = a.cfg.SourceDirs
        if err := report.WriteManifest(report.ManifestPath(a.cfg.OutputPath), report.BuildManifest(meta, rep)); err != nil {
            return rep, fmt.Errorf("write manifest: %w", err)
        }
    }
    if strings.TrimSpace(a.cfg.OutputPDFPath) != "" {
        if err := report.WritePDF(a.cfg.OutputPDFPath, "PDF snippets", rep.Items); err != nil {
            return rep, err
        }
    }
    log.Info().
        Int("discovered", len(rep.Outcomes)).
        Int("kept", rep.Kept()).
        Int("short", rep.Count(batch.Short)).
        Int("unavailable", rep.Count(batch.Unavailable)).
        Int("duplicates", rep.Count(batch.Duplicate)).
        Dur("elapsed", time.Since(started)).
        Str("out", a.cfg.OutputPath).
        Msg("excerpts written")
    return rep, nil
}

// openExcerptCache applies cache invalidation settings and opens the excerpt
// store. Cache trouble only disables caching.
func (a *App) openExcerptCache(ctx context.Context) (*cache.ExcerptCache, func()) {
    noop := func() {}
    dir := strings.TrimSpace(a.cfg.CacheDir)
    if dir == "" {
        return nil, noop
    }
    if a.cfg.CacheClear {
        if err := cache.ClearDir(dir); err != nil {
            log.Warn().Err(err).Msg("cache clear failed")
        }
    }
    store, err := cache.OpenExcerptCache(dir)
    if err != nil {
        log.Warn().Err(err).Msg("excerpt cache disabled")
        return nil, noop
    }
    if a.cfg.CacheMaxAge > 0 {
        if n, err := store.PurgeOlderThan(ctx, a.cfg.CacheMaxAge); err == nil && n > 0 {
            log.Debug().Int64("purged", n).Msg("stale excerpts purged")
        }
    }
    return store, func() { _ = store.Close() }
}

func (a *App) httpCache(sub string) *cache.HTTPCache {
    if strings.TrimSpace(a.cfg.CacheDir) == "" {
        return nil
    }
    dir := a.cfg.CacheDir + string(os.PathSeparator) + sub
    if a.cfg.CacheMaxAge > 0 {
        _, _ = cache.PurgeHTTPCacheByAge(dir, a.cfg.CacheMaxAge)
    }
    return &cache.HTTPCache{Dir: dir, StrictPerms: a.cfg.CacheStrictPerms}
}

func limiter(perSecond float64) *rate.Limiter {
    if perSecond <= 0 {
        return nil
    }
    burst := int(perSecond)
    if burst < 1 {
        burst = 1
    }
    return rate.NewLimiter(rate.Limit(perSecond), burst)
}

// Fetch downloads every manifest entry into the download directory.
func (a *App) Fetch(ctx context.Context) ([]fetch.SyncResult, error) {
    entries, err := fetch.LoadManifestFile(a.cfg.ManifestCSV)
    if err != nil {
        return nil, fmt.Errorf("load manifest: %w", err)
    }
    c := &fetch.Client{
        HTTPClient:        newHTTPClient(0),
        UserAgent:         a.cfg.FetchUserAgent,
        MaxAttempts:       3,
        PerRequestTimeout: a.cfg.FetchTimeout,
        Backoff:           func(i int) time.Duration { return time.Duration(i+1) * 2 * time.Second },
        MaxConcurrent:     a.cfg.Concurrency,
        Limiter:           limiter(a.cfg.FetchRate),
    }
    dir := a.cfg.DownloadDir()
    results, err := fetch.Sync(ctx, c, entries, dir, fetch.DefaultMinBytes)
    failed := 0
    for _, r := range results {
        if r.Err != nil {
            failed++
        }
    }
    log.Info().Int("entries", len(entries)).Int("failed", failed).Str("dir", dir).Msg("fetch complete")
    if err != nil {
        return results, err
    }
    if failed > 0 {
        return results, fmt.Errorf("%d of %d downloads failed", failed, len(entries))
    }
    return results, nil
}

// Scrape builds the site context blob, writes it to SitesContextPath and,
// when credentials are configured, publishes it to Drive.
func (a *App) Scrape(ctx context.Context) (string, error) {
    httpCache := a.httpCache("http")
    s := &scrape.Scraper{Client: &fetch.Client{
        HTTPClient:        newHTTPClient(0),
        UserAgent:         a.cfg.ScrapeUserAgent,
        MaxAttempts:       1,
        PerRequestTimeout: a.cfg.ScrapeTimeout,
        Cache:             httpCache,
        Limiter:           pacer(a.cfg.ScrapeDelay),
    }}
    if a.cfg.RespectRobots {
        s.Robots = &robots.Checker{Client: &fetch.Client{
            HTTPClient:        newHTTPClient(0),
            UserAgent:         a.cfg.ScrapeUserAgent,
            MaxAttempts:       1,
            PerRequestTimeout: a.cfg.ScrapeTimeout,
            Accept:            fetch.AcceptAny,
            Cache:             httpCache,
        }}
    }
    blob, pages, err := s.Collect(ctx, a.cfg.RunID, a.cfg.ScrapeURLs)
    if err != nil {
        return blob, err
    }
    if err := os.WriteFile(a.cfg.SitesContextPath, []byte(blob), 0o644); err != nil {
        return blob, fmt.Errorf("write sites context: %w", err)
    }
    log.Info().Int("pages", len(pages)).Str("out", a.cfg.SitesContextPath).Msg("site context written")

    if strings.TrimSpace(a.cfg.GoogleCredentials) == "" {
        log.Info().Msg("GOOGLE_SA_CREDENTIALS not set; skipping Drive upload")
        return blob, nil
    }
    up, err := a.newUploader(ctx)
    if err != nil {
        return blob, err
    }
    if _, err := up.Upsert(ctx, a.cfg.DriveFolder, a.cfg.DriveFileName, blob); err != nil {
        return blob, fmt.Errorf("drive upload: %w", err)
    }
    return blob, nil
}

// pacer returns a limiter that admits one request per delay.
func pacer(delay time.Duration) *rate.Limiter {
    if delay <= 0 {
        return nil
    }
    return rate.NewLimiter(rate.Every(delay), 1)
}

func (a *App) uploader(ctx context.Context) (*drive.Uploader, error) {
    creds, err := credentialsJSON(a.cfg.GoogleCredentials)
    if err != nil {
        return nil, err
    }
    svc, err := drive.NewService(ctx, creds)
    if err != nil {
        return nil, err
    }
    return &drive.Uploader{Service: svc}, nil
}

// credentialsJSON accepts either inline service account JSON or a path to it.
func credentialsJSON(v string) ([]byte, error) {
    v = strings.TrimSpace(v)
    if strings.HasPrefix(v, "{") {
        return []byte(v), nil
    }
    b, err := os.ReadFile(v)
    if err != nil {
        return nil, fmt.Errorf("read credentials: %w", err)
    }
    return b, nil
}

func (a *App) payload() (deliver.Payload, error) {
    return deliver.LoadPayload(a.cfg.OutputPath, a.cfg.SitesContextPath, a.cfg.UserQuery, a.cfg.UserAgent)
}

// Post sends the collection and site context to the configured webhook.
// With no webhook configured the step is skipped and deliver.ErrSkipped is
// returned for the caller to report.
func (a *App) Post(ctx context.Context) (deliver.Response, error) {
    p, err := a.payload()
    if err != nil {
        return deliver.Response{}, err
    }
    wh := &deliver.Webhook{URL: a.cfg.GASURL, HTTPClient: newHTTPClient(a.cfg.DeliveryTimeout), Timeout: a.cfg.DeliveryTimeout}
    resp, err := wh.Deliver(ctx, p)
    if err == nil || errors.Is(err, deliver.ErrDeliveryStatus) {
        log.Info().Int("status", resp.Status).Int("snippets", len(p.PDFSnippets)).Msg("payload delivered")
    }
    return resp, err
}

// Ask answers UserQuery with the configured chat model.
func (a *App) Ask(ctx context.Context) (deliver.Response, error) {
    p, err := a.payload()
    if err != nil {
        return deliver.Response{}, err
    }
    if len(p.PDFSnippets) == 0 && strings.TrimSpace(p.SitesContext) == "" {
        return deliver.Response{}, ErrNoDocuments
    }
    d := &deliver.LLM{
        Client:          llm.New(llm.Config{BaseURL: a.cfg.LLMBaseURL, APIKey: a.cfg.LLMAPIKey, HTTPClient: newHTTPClient(a.cfg.DeliveryTimeout)}),
        Model:           a.cfg.LLMModel,
        MaxOutputTokens: a.cfg.LLMMaxOutputTokens,
    }
    if dir := strings.TrimSpace(a.cfg.CacheDir); dir != "" {
        llmDir := dir + string(os.PathSeparator) + "llm"
        if a.cfg.CacheMaxAge > 0 {
            _, _ = cache.PurgeLLMCacheByAge(llmDir, a.cfg.CacheMaxAge)
        }
        d.Cache = &cache.LLMCache{Dir: llmDir, StrictPerms: a.cfg.CacheStrictPerms}
    }
    return d.Deliver(ctx, p)
}

// Watch runs Extract once, then again whenever source documents change.
func (a *App) Watch(ctx context.Context) error {
    if _, err := a.Extract(ctx); err != nil {
        return err
    }
    w := &watch.Watcher{
        Locations:  a.cfg.SourceDirs,
        Extensions: a.cfg.Extensions,
        OnChange: func(ctx context.Context) error {
            _, err := a.Extract(ctx)
            return err
        },
    }
    err := w.Run(ctx)
    if errors.Is(err, context.Canceled) {
        return nil
    }
    return err
}

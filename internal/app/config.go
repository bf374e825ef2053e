package app

import (
    "errors"
    "fmt"
    "runtime"
    "strings"
    "time"

    "github.com/hyperifyio/pdfsnippets/internal/deliver"
    "github.com/hyperifyio/pdfsnippets/internal/drive"
    "github.com/hyperifyio/pdfsnippets/internal/excerpt"
    "github.com/hyperifyio/pdfsnippets/internal/scrape"
)

// Config holds runtime configuration for every subcommand. It is built once
// from defaults, an optional config file, the environment and flags, in that
// order of increasing precedence, and passed down explicitly.
type Config struct {
    // Selection
    Budget       int
    MinKeep      int
    Keywords     []string
    Scoring      string
    Accumulation string
    TopK         int

    // Sources
    SourceDirs  []string
    Extensions  []string
    Concurrency int

    // Output
    OutputPath    string
    OutputPDFPath string
    WriteManifest bool

    // Cache
    CacheDir         string
    CacheMaxAge      time.Duration
    CacheClear       bool
    CacheStrictPerms bool

    // Fetch
    ManifestCSV    string
    FetchDir       string
    FetchUserAgent string
    FetchRate      float64
    FetchTimeout   time.Duration

    // Scrape
    ScrapeURLs       []string
    ScrapeUserAgent  string
    ScrapeTimeout    time.Duration
    ScrapeDelay      time.Duration
    RespectRobots    bool
    SitesContextPath string
    RunID            string

    // Drive
    GoogleCredentials string
    DriveFolder       string
    DriveFileName     string

    // Delivery
    GASURL          string
    UserQuery       string
    UserAgent       string
    DeliveryTimeout time.Duration

    // LLM
    LLMBaseURL         string
    LLMModel           string
    LLMAPIKey          string
    LLMMaxOutputTokens int

    Verbose bool
}

const (
    DefaultBudget        = 6000
    DefaultMinKeep       = 400
    DefaultOutput        = "pdf_snippets.json"
    DefaultSourceDir     = "data/affix/raw"
    DefaultManifestCSV   = "data/affix/affix_pdfs_manifest.csv"
    DefaultSitesContext  = "sites_context.txt"
    DefaultCacheDir      = ".pdfsnippets-cache"
    DefaultFetchUA       = "RIC-CRION-PDFScraper/1.0 (+github-actions)"
    DefaultFetchRate     = 2.0
    DefaultFetchTimeout  = 60 * time.Second
    DefaultScrapeTimeout = 15 * time.Second
    DefaultScrapeDelay   = 500 * time.Millisecond
    DefaultDeliveryWait  = 90 * time.Second
)

// Defaults returns the configuration used when nothing else is set.
func Defaults() Config {
    return Config{
        Budget:             DefaultBudget,
        MinKeep:            DefaultMinKeep,
        Scoring:            excerpt.PositionWeighted.String(),
        Accumulation:       excerpt.TopK.String(),
        TopK:               excerpt.DefaultTopK,
        SourceDirs:         []string{DefaultSourceDir},
        Extensions:         []string{".pdf"},
        Concurrency:        runtime.NumCPU(),
        OutputPath:         DefaultOutput,
        WriteManifest:      true,
        CacheDir:           DefaultCacheDir,
        ManifestCSV:        DefaultManifestCSV,
        FetchUserAgent:     DefaultFetchUA,
        FetchRate:          DefaultFetchRate,
        FetchTimeout:       DefaultFetchTimeout,
        ScrapeURLs:         append([]string{}, scrape.DefaultCatalog...),
        ScrapeUserAgent:    scrape.DefaultUserAgent,
        ScrapeTimeout:      DefaultScrapeTimeout,
        ScrapeDelay:        DefaultScrapeDelay,
        SitesContextPath:   DefaultSitesContext,
        DriveFolder:        drive.DefaultFolder,
        DriveFileName:      drive.DefaultFileName,
        UserQuery:          deliver.DefaultQuery,
        UserAgent:          deliver.DefaultUserAgent,
        DeliveryTimeout:    DefaultDeliveryWait,
        LLMMaxOutputTokens: 1024,
    }
}

// SelectorOptions maps the selection settings onto excerpt.Options. A nil
// keyword list selects the built-in keywords.
func (c Config) SelectorOptions() (excerpt.Options, error) {
    sc, err := excerpt.ParseScoring(c.Scoring)
    if err != nil {
        return excerpt.Options{}, err
    }
    acc, err := excerpt.ParseAccumulation(c.Accumulation)
    if err != nil {
        return excerpt.Options{}, err
    }
    return excerpt.Options{Keywords: c.Keywords, Scoring: sc, Accumulation: acc, TopK: c.TopK}, nil
}

// DownloadDir is where fetched files land: FetchDir, else the first source dir.
func (c Config) DownloadDir() string {
    if strings.TrimSpace(c.FetchDir) != "" {
        return c.FetchDir
    }
    if len(c.SourceDirs) > 0 {
        return c.SourceDirs[0]
    }
    return DefaultSourceDir
}

// ValidateConfig rejects settings no subcommand can run with.
func ValidateConfig(cfg Config) error {
    if cfg.Budget <= 0 {
        return fmt.Errorf("config: budget must be positive, got %d", cfg.Budget)
    }
    if cfg.MinKeep < 0 {
        return errors.New("config: min keep must not be negative")
    }
    if cfg.Concurrency < 0 {
        return errors.New("config: concurrency must not be negative")
    }
    if cfg.TopK < 0 {
        return errors.New("config: top-k must not be negative")
    }
    if cfg.FetchRate < 0 {
        return errors.New("config: fetch rate must not be negative")
    }
    if strings.TrimSpace(cfg.OutputPath) == "" {
        return errors.New("config: output path is required")
    }
    if _, err := cfg.SelectorOptions(); err != nil {
        return fmt.Errorf("config: %w", err)
    }
    return nil
}

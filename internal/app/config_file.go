package app

import (
    "encoding/json"
    "fmt"
    "os"
    "path/filepath"
    "strings"
    "time"

    toml "github.com/pelletier/go-toml/v2"
    yaml "gopkg.in/yaml.v3"
)

// FileConfig is the config file schema. Durations are strings such as "90s"
// so the three formats decode them identically.
type FileConfig struct {
    Selection struct {
        Budget       int      `yaml:"budget" json:"budget" toml:"budget"`
        MinKeep      *int     `yaml:"minKeep" json:"minKeep" toml:"minKeep"`
        Keywords     []string `yaml:"keywords" json:"keywords" toml:"keywords"`
        Scoring      string   `yaml:"scoring" json:"scoring" toml:"scoring"`
        Accumulation string   `yaml:"accumulation" json:"accumulation" toml:"accumulation"`
        TopK         int      `yaml:"topK" json:"topK" toml:"topK"`
    } `yaml:"selection" json:"selection" toml:"selection"`

    Sources struct {
        Dirs        []string `yaml:"dirs" json:"dirs" toml:"dirs"`
        Extensions  []string `yaml:"extensions" json:"extensions" toml:"extensions"`
        Concurrency int      `yaml:"concurrency" json:"concurrency" toml:"concurrency"`
    } `yaml:"sources" json:"sources" toml:"sources"`

    Output struct {
        JSON     string `yaml:"json" json:"json" toml:"json"`
        PDF      string `yaml:"pdf" json:"pdf" toml:"pdf"`
        Manifest *bool  `yaml:"manifest" json:"manifest" toml:"manifest"`
    } `yaml:"output" json:"output" toml:"output"`

    Cache struct {
        Dir         string `yaml:"dir" json:"dir" toml:"dir"`
        MaxAge      string `yaml:"maxAge" json:"maxAge" toml:"maxAge"`
        Clear       bool   `yaml:"clear" json:"clear" toml:"clear"`
        StrictPerms bool   `yaml:"strictPerms" json:"strictPerms" toml:"strictPerms"`
    } `yaml:"cache" json:"cache" toml:"cache"`

    Fetch struct {
        Manifest  string  `yaml:"manifest" json:"manifest" toml:"manifest"`
        Dir       string  `yaml:"dir" json:"dir" toml:"dir"`
        UserAgent string  `yaml:"userAgent" json:"userAgent" toml:"userAgent"`
        Rate      float64 `yaml:"rate" json:"rate" toml:"rate"`
        Timeout   string  `yaml:"timeout" json:"timeout" toml:"timeout"`
    } `yaml:"fetch" json:"fetch" toml:"fetch"`

    Scrape struct {
        URLs      []string `yaml:"urls" json:"urls" toml:"urls"`
        UserAgent string   `yaml:"userAgent" json:"userAgent" toml:"userAgent"`
        Timeout   string   `yaml:"timeout" json:"timeout" toml:"timeout"`
        Delay     string   `yaml:"delay" json:"delay" toml:"delay"`
        Output    string   `yaml:"output" json:"output" toml:"output"`
        Robots    bool     `yaml:"respectRobots" json:"respectRobots" toml:"respectRobots"`
    } `yaml:"scrape" json:"scrape" toml:"scrape"`

    Drive struct {
        Credentials string `yaml:"credentials" json:"credentials" toml:"credentials"`
        Folder      string `yaml:"folder" json:"folder" toml:"folder"`
        File        string `yaml:"file" json:"file" toml:"file"`
    } `yaml:"drive" json:"drive" toml:"drive"`

    Deliver struct {
        URL       string `yaml:"url" json:"url" toml:"url"`
        Query     string `yaml:"query" json:"query" toml:"query"`
        UserAgent string `yaml:"userAgent" json:"userAgent" toml:"userAgent"`
        Timeout   string `yaml:"timeout" json:"timeout" toml:"timeout"`
    } `yaml:"deliver" json:"deliver" toml:"deliver"`

    LLM struct {
        BaseURL         string `yaml:"base" json:"base" toml:"base"`
        Model           string `yaml:"model" json:"model" toml:"model"`
        APIKey          string `yaml:"key" json:"key" toml:"key"`
        MaxOutputTokens int    `yaml:"maxOutputTokens" json:"maxOutputTokens" toml:"maxOutputTokens"`
    } `yaml:"llm" json:"llm" toml:"llm"`

    Verbose bool `yaml:"verbose" json:"verbose" toml:"verbose"`
}

// LoadConfigFile reads YAML, JSON or TOML, chosen by extension. Unknown
// extensions are tried as YAML then JSON.
func LoadConfigFile(path string) (FileConfig, error) {
    var fc FileConfig
    b, err := os.ReadFile(path)
    if err != nil {
        return fc, err
    }
    switch strings.ToLower(filepath.Ext(path)) {
    case ".yaml", ".yml":
        if err := yaml.Unmarshal(b, &fc); err != nil {
            return fc, fmt.Errorf("parse yaml: %w", err)
        }
    case ".json":
        if err := json.Unmarshal(b, &fc); err != nil {
            return fc, fmt.Errorf("parse json: %w", err)
        }
    case ".toml":
        if err := toml.Unmarshal(b, &fc); err != nil {
            return fc, fmt.Errorf("parse toml: %w", err)
        }
    default:
        if err := yaml.Unmarshal(b, &fc); err != nil {
            if jerr := json.Unmarshal(b, &fc); jerr != nil {
                return fc, fmt.Errorf("parse config: %v (yaml) / %v (json)", err, jerr)
            }
        }
    }
    return fc, nil
}

// ApplyFileConfig overlays the values set in fc onto cfg.
func ApplyFileConfig(cfg *Config, fc FileConfig) error {
    if cfg == nil {
        return nil
    }
    setInt := func(dst *int, v int) {
        if v > 0 {
            *dst = v
        }
    }
    setStr := func(dst *string, v string) {
        if strings.TrimSpace(v) != "" {
            *dst = v
        }
    }
    setList := func(dst *[]string, v []string) {
        if len(v) > 0 {
            *dst = append([]string{}, v...)
        }
    }
    var durErr error
    setDur := func(dst *time.Duration, v string, name string) {
        if strings.TrimSpace(v) == "" {
            return
        }
        d, err := time.ParseDuration(v)
        if err != nil {
            if durErr == nil {
                durErr = fmt.Errorf("config file %s: %w", name, err)
            }
            return
        }
        *dst = d
    }

    setInt(&cfg.Budget, fc.Selection.Budget)
    if fc.Selection.MinKeep != nil {
        cfg.MinKeep = *fc.Selection.MinKeep
    }
    if fc.Selection.Keywords != nil {
        cfg.Keywords = append([]string{}, fc.Selection.Keywords...)
    }
    setStr(&cfg.Scoring, fc.Selection.Scoring)
    setStr(&cfg.Accumulation, fc.Selection.Accumulation)
    setInt(&cfg.TopK, fc.Selection.TopK)

    setList(&cfg.SourceDirs, fc.Sources.Dirs)
    setList(&cfg.Extensions, fc.Sources.Extensions)
    setInt(&cfg.Concurrency, fc.Sources.Concurrency)

    setStr(&cfg.OutputPath, fc.Output.JSON)
    setStr(&cfg.OutputPDFPath, fc.Output.PDF)
    if fc.Output.Manifest != nil {
        cfg.WriteManifest = *fc.Output.Manifest
    }

    setStr(&cfg.CacheDir, fc.Cache.Dir)
    setDur(&cfg.CacheMaxAge, fc.Cache.MaxAge, "cache.maxAge")
    cfg.CacheClear = cfg.CacheClear || fc.Cache.Clear
    cfg.CacheStrictPerms = cfg.CacheStrictPerms || fc.Cache.StrictPerms

    setStr(&cfg.ManifestCSV, fc.Fetch.Manifest)
    setStr(&cfg.FetchDir, fc.Fetch.Dir)
    setStr(&cfg.FetchUserAgent, fc.Fetch.UserAgent)
    if fc.Fetch.Rate > 0 {
        cfg.FetchRate = fc.Fetch.Rate
    }
    setDur(&cfg.FetchTimeout, fc.Fetch.Timeout, "fetch.timeout")

    setList(&cfg.ScrapeURLs, fc.Scrape.URLs)
    setStr(&cfg.ScrapeUserAgent, fc.Scrape.UserAgent)
    setDur(&cfg.ScrapeTimeout, fc.Scrape.Timeout, "scrape.timeout")
    setDur(&cfg.ScrapeDelay, fc.Scrape.Delay, "scrape.delay")
    setStr(&cfg.SitesContextPath, fc.Scrape.Output)
    cfg.RespectRobots = cfg.RespectRobots || fc.Scrape.Robots

    setStr(&cfg.GoogleCredentials, fc.Drive.Credentials)
    setStr(&cfg.DriveFolder, fc.Drive.Folder)
    setStr(&cfg.DriveFileName, fc.Drive.File)

    setStr(&cfg.GASURL, fc.Deliver.URL)
    setStr(&cfg.UserQuery, fc.Deliver.Query)
    setStr(&cfg.UserAgent, fc.Deliver.UserAgent)
    setDur(&cfg.DeliveryTimeout, fc.Deliver.Timeout, "deliver.timeout")

    setStr(&cfg.LLMBaseURL, fc.LLM.BaseURL)
    setStr(&cfg.LLMModel, fc.LLM.Model)
    setStr(&cfg.LLMAPIKey, fc.LLM.APIKey)
    setInt(&cfg.LLMMaxOutputTokens, fc.LLM.MaxOutputTokens)

    cfg.Verbose = cfg.Verbose || fc.Verbose
    return durErr
}

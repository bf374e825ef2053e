package app

import (
    "fmt"
    "strconv"
    "strings"
    "time"
)

// ApplyEnvOverrides overlays every non-empty variable onto cfg. getenv is
// usually os.Getenv. Malformed numbers and durations are reported rather than
// silently ignored. SNIPPET_KEYWORDS holds regular expressions, so a comma
// inside a pattern is written as `\,`; a value with no patterns at all (for
// example ",") disables keyword scoring instead of restoring the defaults.
func ApplyEnvOverrides(cfg *Config, getenv func(string) string) error {
    if cfg == nil {
        return nil
    }
    e := envReader{getenv: getenv}

    e.int("MAX_CHARS_PER_DOC", &cfg.Budget)
    e.int("MIN_CHARS_KEEP", &cfg.MinKeep)
    if v, ok := e.lookup("SNIPPET_KEYWORDS"); ok {
        cfg.Keywords = SplitPatterns(v)
    }
    e.str("SCORING", &cfg.Scoring)
    e.str("ACCUMULATION", &cfg.Accumulation)
    e.int("TOP_K", &cfg.TopK)

    e.list("SOURCE_DIRS", &cfg.SourceDirs)
    e.list("SOURCE_EXTENSIONS", &cfg.Extensions)
    e.int("CONCURRENCY", &cfg.Concurrency)

    e.str("OUTPUT", &cfg.OutputPath)
    e.str("OUTPUT_PDF", &cfg.OutputPDFPath)

    e.str("CACHE_DIR", &cfg.CacheDir)
    e.duration("CACHE_MAX_AGE", &cfg.CacheMaxAge)
    e.boolean("CACHE_CLEAR", &cfg.CacheClear)
    e.boolean("CACHE_STRICT_PERMS", &cfg.CacheStrictPerms)

    e.str("MANIFEST_CSV", &cfg.ManifestCSV)
    e.str("FETCH_DIR", &cfg.FetchDir)
    e.float("FETCH_RATE", &cfg.FetchRate)

    e.list("SCRAPE_URLS", &cfg.ScrapeURLs)
    e.boolean("SCRAPE_RESPECT_ROBOTS", &cfg.RespectRobots)
    e.str("SITES_CONTEXT", &cfg.SitesContextPath)
    e.str("GITHUB_RUN_ID", &cfg.RunID)

    e.str("GOOGLE_SA_CREDENTIALS", &cfg.GoogleCredentials)
    e.str("DRIVE_FOLDER", &cfg.DriveFolder)
    e.str("DRIVE_FILE", &cfg.DriveFileName)

    e.str("GAS_URL", &cfg.GASURL)
    e.str("USER_QUERY", &cfg.UserQuery)
    e.str("USER_AGENT", &cfg.UserAgent)

    e.str("LLM_BASE_URL", &cfg.LLMBaseURL)
    e.str("LLM_MODEL", &cfg.LLMModel)
    e.str("LLM_API_KEY", &cfg.LLMAPIKey)
    e.int("LLM_MAX_OUTPUT_TOKENS", &cfg.LLMMaxOutputTokens)

    e.boolean("VERBOSE", &cfg.Verbose)
    return e.err
}

type envReader struct {
    getenv func(string) string
    err    error
}

func (e *envReader) lookup(key string) (string, bool) {
    v := strings.TrimSpace(e.getenv(key))
    return v, v != ""
}

func (e *envReader) fail(key string, v string, err error) {
    if e.err == nil {
        e.err = fmt.Errorf("env %s=%q: %w", key, v, err)
    }
}

func (e *envReader) str(key string, dst *string) {
    if v, ok := e.lookup(key); ok {
        *dst = v
    }
}

func (e *envReader) int(key string, dst *int) {
    v, ok := e.lookup(key)
    if !ok {
        return
    }
    n, err := strconv.Atoi(v)
    if err != nil {
        e.fail(key, v, err)
        return
    }
    *dst = n
}

func (e *envReader) float(key string, dst *float64) {
    v, ok := e.lookup(key)
    if !ok {
        return
    }
    f, err := strconv.ParseFloat(v, 64)
    if err != nil {
        e.fail(key, v, err)
        return
    }
    *dst = f
}

func (e *envReader) duration(key string, dst *time.Duration) {
    v, ok := e.lookup(key)
    if !ok {
        return
    }
    d, err := time.ParseDuration(v)
    if err != nil {
        e.fail(key, v, err)
        return
    }
    *dst = d
}

func (e *envReader) boolean(key string, dst *bool) {
    v, ok := e.lookup(key)
    if !ok {
        return
    }
    switch strings.ToLower(v) {
    case "1", "true", "yes", "on":
        *dst = true
    case "0", "false", "no", "off":
        *dst = false
    default:
        e.fail(key, v, fmt.Errorf("not a boolean"))
    }
}

func (e *envReader) list(key string, dst *[]string) {
    if v, ok := e.lookup(key); ok {
        *dst = SplitList(v)
    }
}

// SplitList splits a comma separated value, trimming blanks.
func SplitList(s string) []string {
    var out []string
    for _, p := range strings.Split(s, ",") {
        if p = strings.TrimSpace(p); p != "" {
            out = append(out, p)
        }
    }
    return out
}

// SplitPatterns splits a comma separated list of regular expressions. `\,` is
// a literal comma; `\\` passes through unchanged so a pattern may end in an
// escaped backslash. The result is never nil.
func SplitPatterns(s string) []string {
    out := []string{}
    var cur strings.Builder
    flush := func() {
        if p := strings.TrimSpace(cur.String()); p != "" {
            out = append(out, p)
        }
        cur.Reset()
    }
    for i := 0; i < len(s); i++ {
        switch {
        case s[i] == '\\' && i+1 < len(s) && (s[i+1] == ',' || s[i+1] == '\\'):
            if s[i+1] == ',' {
                cur.WriteByte(',')
            } else {
                cur.WriteString(`\\`)
            }
            i++
        case s[i] == ',':
            flush()
        default:
            cur.WriteByte(s[i])
        }
    }
    flush()
    return out
}

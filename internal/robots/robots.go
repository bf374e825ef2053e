// Package robots evaluates robots.txt rules for the site context scraper.
package robots

import (
    "bufio"
    "context"
    "errors"
    "fmt"
    "net/http"
    "net/url"
    "regexp"
    "strings"
    "sync"
    "time"

    "github.com/rs/zerolog/log"

    "github.com/hyperifyio/pdfsnippets/internal/fetch"
)

// ErrDisallowed is reported for pages a robots.txt excludes.
var ErrDisallowed = errors.New("disallowed by robots.txt")

type Source int

const (
    SourceNetwork Source = iota
    SourceMemory
)

type Rules struct {
    Groups []Group
}

type Group struct {
    Agents     []string
    Allow      []string
    Disallow   []string
    CrawlDelay *time.Duration
}

// disallowAll stands in for a robots.txt that could not be read for reasons
// other than absence.
var disallowAll = Rules{Groups: []Group{{Agents: []string{"*"}, Disallow: []string{"/"}}}}

// Checker fetches and memoizes robots.txt per host. Client should accept any
// content type; its Cache, when set, revalidates with ETag/Last-Modified.
type Checker struct {
    Client *fetch.Client
    // UserAgent selects the rule group. Empty uses Client.UserAgent.
    UserAgent string
    // EntryExpiry bounds memoization. Zero means 30 minutes.
    EntryExpiry time.Duration

    mu  sync.Mutex
    mem map[string]memEntry
    now func() time.Time
}

type memEntry struct {
    rules  Rules
    expiry time.Time
}

// Allowed reports whether pageURL may be fetched. Non-HTTP URLs are allowed.
func (c *Checker) Allowed(ctx context.Context, pageURL string) (bool, error) {
    u, err := url.Parse(pageURL)
    if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
        return true, nil
    }
    rules, _, err := c.Rules(ctx, robotsURL(u))
    if err != nil {
        return false, err
    }
    path := u.EscapedPath()
    if path == "" {
        path = "/"
    }
    if u.RawQuery != "" {
        path += "?" + u.RawQuery
    }
    return rules.IsAllowed(c.agent(), path), nil
}

// CrawlDelay returns the crawl delay the host asks of this agent, if any.
func (c *Checker) CrawlDelay(ctx context.Context, pageURL string) *time.Duration {
    u, err := url.Parse(pageURL)
    if err != nil || u.Host == "" {
        return nil
    }
    rules, _, err := c.Rules(ctx, robotsURL(u))
    if err != nil {
        return nil
    }
    return rules.CrawlDelayFor(c.agent())
}

func (c *Checker) agent() string {
    if c.UserAgent != "" {
        return c.UserAgent
    }
    if c.Client != nil {
        return c.Client.UserAgent
    }
    return ""
}

func robotsURL(u *url.URL) string {
    return (&url.URL{Scheme: strings.ToLower(u.Scheme), Host: strings.ToLower(u.Host), Path: "/robots.txt"}).String()
}

// Rules returns the parsed rules behind robotsURL. A missing robots.txt
// (4xx other than 401/403) allows everything; auth failures, 5xx and network
// errors disallow everything until the entry expires. Only cancellation of
// ctx is returned as an error.
func (c *Checker) Rules(ctx context.Context, robotsURL string) (Rules, Source, error) {
    c.mu.Lock()
    if c.now == nil {
        c.now = time.Now
    }
    if c.mem == nil {
        c.mem = make(map[string]memEntry)
    }
    if ent, ok := c.mem[robotsURL]; ok && c.now().Before(ent.expiry) {
        c.mu.Unlock()
        return ent.rules, SourceMemory, nil
    }
    c.mu.Unlock()

    if c.Client == nil {
        return Rules{}, SourceNetwork, fmt.Errorf("robots: no client")
    }
    body, _, err := c.Client.Get(ctx, robotsURL)
    var rules Rules
    switch {
    case err == nil:
        rules = parseRobots(string(body))
    case ctx.Err() != nil:
        return Rules{}, SourceNetwork, ctx.Err()
    default:
        var se *fetch.StatusError
        if errors.As(err, &se) && se.Code >= 400 && se.Code < 500 &&
            se.Code != http.StatusUnauthorized && se.Code != http.StatusForbidden {
            rules = Rules{}
        } else {
            log.Warn().Str("url", robotsURL).Err(err).Msg("robots.txt unreadable; host treated as disallowed")
            rules = disallowAll
        }
    }
    c.store(robotsURL, rules)
    return rules, SourceNetwork, nil
}

func (c *Checker) store(key string, rules Rules) {
    exp := c.EntryExpiry
    if exp <= 0 {
        exp = 30 * time.Minute
    }
    c.mu.Lock()
    c.mem[key] = memEntry{rules: rules, expiry: c.now().Add(exp)}
    c.mu.Unlock()
}

func parseRobots(text string) Rules {
    scanner := bufio.NewScanner(strings.NewReader(text))
    scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
    var groups []Group
    current := Group{}
    flush := func() {
        if len(current.Agents) == 0 && len(current.Allow) == 0 && len(current.Disallow) == 0 && current.CrawlDelay == nil {
            return
        }
        groups = append(groups, current)
        current = Group{}
    }
    for scanner.Scan() {
        line := scanner.Text()
        if i := strings.IndexByte(line, '#'); i >= 0 {
            line = line[:i]
        }
        line = strings.TrimSpace(line)
        colon := strings.IndexByte(line, ':')
        if colon <= 0 {
            continue
        }
        key := strings.ToLower(strings.TrimSpace(line[:colon]))
        val := strings.TrimSpace(line[colon+1:])
        switch key {
        case "user-agent", "useragent":
            if len(current.Agents) > 0 && (len(current.Allow) > 0 || len(current.Disallow) > 0 || current.CrawlDelay != nil) {
                flush()
            }
            current.Agents = append(current.Agents, strings.ToLower(val))
        case "allow":
            current.Allow = append(current.Allow, val)
        case "disallow":
            current.Disallow = append(current.Disallow, val)
        case "crawl-delay", "crawldelay":
            if d, err := time.ParseDuration(val + "s"); err == nil && val != "" {
                current.CrawlDelay = &d
            }
        }
    }
    flush()
    return Rules{Groups: groups}
}

// IsAllowed applies the group best matching userAgent to path, which may
// carry a query string. The longest matching pattern wins; Allow wins ties.
// No matching directive means allowed.
func (r Rules) IsAllowed(userAgent string, path string) bool {
    idx := r.selectGroupIndex(userAgent)
    if idx < 0 {
        return true
    }
    grp := r.Groups[idx]
    bestScore := -1
    bestAllow := true
    evaluate := func(patterns []string, isAllow bool) {
        for _, p := range patterns {
            if p == "" || !patternMatches(p, path) {
                continue
            }
            score := patternSpecificity(p)
            if score > bestScore || (score == bestScore && isAllow && !bestAllow) {
                bestScore = score
                bestAllow = isAllow
            }
        }
    }
    evaluate(grp.Disallow, false)
    evaluate(grp.Allow, true)
    return bestScore == -1 || bestAllow
}

// CrawlDelayFor returns the crawl delay of the group matching userAgent.
func (r Rules) CrawlDelayFor(userAgent string) *time.Duration {
    idx := r.selectGroupIndex(userAgent)
    if idx < 0 {
        return nil
    }
    return r.Groups[idx].CrawlDelay
}

// selectGroupIndex prefers the longest agent token contained in userAgent;
// '*' matches anything but loses to any named match.
func (r Rules) selectGroupIndex(userAgent string) int {
    ua := strings.ToLower(strings.TrimSpace(userAgent))
    bestIdx, bestScore := -1, -1
    for i, g := range r.Groups {
        for _, a := range g.Agents {
            token := strings.TrimSpace(a)
            var score int
            switch {
            case token == "":
                continue
            case token == "*":
                score = 0
            case strings.Contains(ua, token):
                score = len(token)
            default:
                continue
            }
            if score > bestScore {
                bestScore, bestIdx = score, i
            }
        }
    }
    return bestIdx
}

// patternMatches anchors pattern at the path start; '*' matches any run and a
// trailing '$' anchors the end.
func patternMatches(pattern, path string) bool {
    anchorEnd := strings.HasSuffix(pattern, "$")
    p := strings.TrimSuffix(pattern, "$")
    parts := strings.Split(p, "*")
    for i, part := range parts {
        parts[i] = regexp.QuoteMeta(part)
    }
    expr := "^" + strings.Join(parts, ".*")
    if anchorEnd {
        expr += "$"
    }
    return regexp.MustCompile(expr).MatchString(path)
}

func patternSpecificity(pattern string) int {
    return len(strings.ReplaceAll(strings.TrimSuffix(pattern, "$"), "*", ""))
}

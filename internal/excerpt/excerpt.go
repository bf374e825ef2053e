// Package excerpt reduces a normalized document to a bounded-size excerpt by
// ranking its paragraph blocks against an ordered keyword list.
//
// Selection is pure and deterministic: identical input always yields identical
// output, so a Selector may be shared freely across goroutines.
package excerpt

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hyperifyio/pdfsnippets/internal/normalize"
)

// Scoring selects how keyword matches contribute to a block score.
type Scoring int

const (
	// PositionWeighted adds (N - index) * 2 for every matching keyword, where N
	// is the keyword count. Earlier keywords matter more.
	PositionWeighted Scoring = iota
	// Flat adds FlatWeight for every distinct matching keyword.
	Flat
)

func (s Scoring) String() string {
	switch s {
	case PositionWeighted:
		return "position"
	case Flat:
		return "flat"
	default:
		return fmt.Sprintf("scoring(%d)", int(s))
	}
}

// ParseScoring maps a policy name to a Scoring value.
func ParseScoring(name string) (Scoring, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "position", "position-weighted", "weighted":
		return PositionWeighted, nil
	case "flat":
		return Flat, nil
	}
	return 0, fmt.Errorf("unknown scoring policy %q", name)
}

// Accumulation selects how ranked blocks are gathered into the excerpt.
type Accumulation int

const (
	// TopK takes the TopK highest ranked blocks regardless of their size.
	TopK Accumulation = iota
	// Greedy adds ranked blocks while the running length plus separator stays
	// within budget, stopping at the first block that would exceed it.
	Greedy
)

func (a Accumulation) String() string {
	switch a {
	case TopK:
		return "topk"
	case Greedy:
		return "greedy"
	default:
		return fmt.Sprintf("accumulation(%d)", int(a))
	}
}

// ParseAccumulation maps a policy name to an Accumulation value.
func ParseAccumulation(name string) (Accumulation, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "topk", "top-k":
		return TopK, nil
	case "greedy", "budget":
		return Greedy, nil
	}
	return 0, fmt.Errorf("unknown accumulation policy %q", name)
}

const (
	// DefaultTopK is how many blocks the TopK policy keeps.
	DefaultTopK = 12
	// DefaultFlatWeight is the score each matching keyword adds under Flat.
	DefaultFlatWeight = 3
	// DefaultSizeBonusUnit is the number of runes per length bonus point.
	DefaultSizeBonusUnit = 500
	// DefaultSizeBonusCap is the largest length bonus a block can earn.
	DefaultSizeBonusCap = 5

	separator = "\n\n"
)

// DefaultKeywords is the built-in relevance list, highest priority first.
// Patterns are matched case-insensitively; '^' anchors at block start.
var DefaultKeywords = []string{
	`^sum[aá]rio`, `^introdu`, `^objetivo`, `^escopo`,
	`fluxo`, `regras`, `documentos`, `prazo`, `observa`, `anexo`,
}

// Options configures a Selector. Zero values fall back to the defaults above.
// A nil Keywords uses DefaultKeywords; an empty non-nil slice disables keyword
// scoring. A negative SizeBonusCap disables the length bonus.
type Options struct {
	Keywords     []string
	Scoring      Scoring
	Accumulation Accumulation
	TopK         int
	FlatWeight   int
	// SizeBonusUnit and SizeBonusCap define the length bonus
	// min(len(block)/SizeBonusUnit, SizeBonusCap).
	SizeBonusUnit int
	SizeBonusCap  int
}

// Block is a paragraph-like span of the input and its relevance score.
type Block struct {
	// Index is the position of the block in the original text.
	Index int
	Text  string
	Score int
}

// Selector ranks blocks and builds excerpts under a character budget.
type Selector struct {
	opts     Options
	patterns []*regexp.Regexp
}

var blockSplitRe = regexp.MustCompile(`\n{2,}`)

// New compiles the keyword patterns in opts. A pattern that is not a valid
// regular expression is matched literally.
func New(opts Options) *Selector {
	if opts.Keywords == nil {
		opts.Keywords = DefaultKeywords
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.FlatWeight <= 0 {
		opts.FlatWeight = DefaultFlatWeight
	}
	if opts.SizeBonusUnit <= 0 {
		opts.SizeBonusUnit = DefaultSizeBonusUnit
	}
	if opts.SizeBonusCap < 0 {
		opts.SizeBonusCap = 0
	} else if opts.SizeBonusCap == 0 {
		opts.SizeBonusCap = DefaultSizeBonusCap
	}
	patterns := make([]*regexp.Regexp, 0, len(opts.Keywords))
	for _, k := range opts.Keywords {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + k)
		if err != nil {
			re = regexp.MustCompile("(?i)" + regexp.QuoteMeta(k))
		}
		patterns = append(patterns, re)
	}
	return &Selector{opts: opts, patterns: patterns}
}

// Select returns text unchanged when it fits the budget. Otherwise it ranks
// the blocks of text, accumulates the best ones, re-normalizes the result and
// cuts it back to the last complete line within budget. Lengths are counted
// in runes. The result never exceeds budget.
func Select(text string, budget int, keywords []string) string {
	return New(Options{Keywords: keywords}).Select(text, budget)
}

// Select is the Selector form of the package-level Select.
func (s *Selector) Select(text string, budget int) string {
	if text == "" {
		return ""
	}
	if budget < 0 {
		budget = 0
	}
	if utf8.RuneCountInString(text) <= budget {
		return text
	}
	ranked := s.Rank(text)
	picked := s.accumulate(ranked, budget)
	parts := make([]string, len(picked))
	for i, b := range picked {
		parts[i] = b.Text
	}
	out := normalize.Text(strings.Join(parts, separator))
	return cutToLine(out, budget)
}

// Rank splits text into blocks on blank-line runs, scores them and returns
// them ordered by score descending. Ties keep their original order.
func (s *Selector) Rank(text string) []Block {
	raw := blockSplitRe.Split(text, -1)
	blocks := make([]Block, 0, len(raw))
	for i, b := range raw {
		if strings.TrimSpace(b) == "" {
			continue
		}
		blocks = append(blocks, Block{Index: i, Text: b, Score: s.Score(b)})
	}
	sort.SliceStable(blocks, func(i, j int) bool {
		return blocks[i].Score > blocks[j].Score
	})
	return blocks
}

// Score returns the keyword score of block plus its capped length bonus.
func (s *Selector) Score(block string) int {
	score := 0
	n := len(s.patterns)
	for i, re := range s.patterns {
		if !re.MatchString(block) {
			continue
		}
		switch s.opts.Scoring {
		case Flat:
			score += s.opts.FlatWeight
		default:
			score += (n - i) * 2
		}
	}
	bonus := utf8.RuneCountInString(block) / s.opts.SizeBonusUnit
	if bonus > s.opts.SizeBonusCap {
		bonus = s.opts.SizeBonusCap
	}
	return score + bonus
}

func (s *Selector) accumulate(ranked []Block, budget int) []Block {
	if s.opts.Accumulation != Greedy {
		if len(ranked) > s.opts.TopK {
			return ranked[:s.opts.TopK]
		}
		return ranked
	}
	total := 0
	var out []Block
	for _, b := range ranked {
		size := utf8.RuneCountInString(b.Text)
		if len(out) > 0 {
			size += len(separator)
		}
		if total+size > budget {
			break
		}
		total += size
		out = append(out, b)
	}
	// The best block alone is over budget; keep it and let the final cut trim it.
	if len(out) == 0 && len(ranked) > 0 {
		out = ranked[:1]
	}
	return out
}

// Fingerprint identifies the selection policy, so cached excerpts can be keyed
// on it.
func (s *Selector) Fingerprint() string {
	return fmt.Sprintf("v1|%s|%s|k=%d|w=%d|u=%d|c=%d|%s",
		s.opts.Scoring, s.opts.Accumulation, s.opts.TopK, s.opts.FlatWeight,
		s.opts.SizeBonusUnit, s.opts.SizeBonusCap, strings.Join(s.opts.Keywords, "\x1f"))
}

// Options returns the effective options after defaults were applied.
func (s *Selector) Options() Options { return s.opts }

// cutToLine truncates s to budget runes and drops any partial trailing line.
// A single line longer than budget is hard-cut.
func cutToLine(s string, budget int) string {
	if utf8.RuneCountInString(s) <= budget {
		return s
	}
	cut := s[:byteOffset(s, budget)]
	if i := strings.LastIndexByte(cut, '\n'); i >= 0 {
		cut = cut[:i]
	}
	return strings.TrimRightFunc(cut, unicode.IsSpace)
}

// byteOffset returns the byte index just past the first n runes of s.
func byteOffset(s string, n int) int {
	if n <= 0 {
		return 0
	}
	count := 0
	for i := range s {
		if count == n {
			return i
		}
		count++
	}
	return len(s)
}

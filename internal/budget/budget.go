// Package budget estimates prompt sizes so delivery can trim the excerpt
// collection to what a chat model accepts.
package budget

import (
    "math"
    "strings"
    "unicode/utf8"
)

// CharsPerToken is the heuristic conversion ratio. Accented Portuguese text
// tokenizes worse than English, so we stay at a conservative 4 runes.
const CharsPerToken = 4.0

// EstimateTokensFromChars converts a rune count into an estimated token count,
// rounding up. The result is at least 1 when chars > 0.
func EstimateTokensFromChars(charCount int) int {
    if charCount <= 0 {
        return 0
    }
    return int(math.Ceil(float64(charCount) / CharsPerToken))
}

// EstimateTokens returns the estimated token count of s.
func EstimateTokens(s string) int {
    return EstimateTokensFromChars(utf8.RuneCountInString(s))
}

// EstimatePromptTokens estimates a system message, a user message and zero or
// more excerpts.
func EstimatePromptTokens(system string, user string, excerpts []string) int {
    total := EstimateTokens(system) + EstimateTokens(user)
    for _, ex := range excerpts {
        total += EstimateTokens(ex)
    }
    return total
}

// ModelContextTokens returns an estimated context window for modelName.
// Unknown models get 8192.
func ModelContextTokens(modelName string) int {
    name := strings.ToLower(strings.TrimSpace(modelName))
    if name == "" {
        return 8192
    }
    if v, ok := knownModelMax[name]; ok {
        return v
    }
    for _, s := range sizeSuffixes {
        if strings.HasSuffix(name, s.suffix) {
            return s.tokens
        }
    }
    if strings.Contains(name, "-mini") {
        return 128_000
    }
    return 8192
}

// RemainingContext is the input budget left after reserving output tokens and
// spending promptTokens. Never negative.
func RemainingContext(modelName string, reservedForOutput int, promptTokens int) int {
    if reservedForOutput < 0 {
        reservedForOutput = 0
    }
    remaining := ModelContextTokens(modelName) - reservedForOutput - promptTokens
    if remaining < 0 {
        return 0
    }
    return remaining
}

// FitsInContext reports whether promptTokens leave room in the window.
func FitsInContext(modelName string, reservedForOutput int, promptTokens int) bool {
    return RemainingContext(modelName, reservedForOutput, promptTokens) > 0
}

// HeadroomTokens is the larger of 5% of the model context or 512 tokens,
// covering tokenizer variance and message framing.
func HeadroomTokens(modelName string) int {
    dyn := int(math.Ceil(float64(ModelContextTokens(modelName)) * 0.05))
    if dyn < 512 {
        return 512
    }
    return dyn
}

// RemainingContextWithHeadroom is RemainingContext with HeadroomTokens added
// to the output reservation.
func RemainingContextWithHeadroom(modelName string, reservedForOutput int, promptTokens int) int {
    return RemainingContext(modelName, reservedForOutput+HeadroomTokens(modelName), promptTokens)
}

// FitCount returns how many leading parts fit into the model window alongside
// the fixed system and user text, keeping reservedForOutput and headroom free.
// Parts are taken in order; the first one that does not fit stops the count.
func FitCount(modelName string, reservedForOutput int, system string, user string, parts []string) int {
    left := RemainingContextWithHeadroom(modelName, reservedForOutput, EstimatePromptTokens(system, user, nil))
    n := 0
    for _, p := range parts {
        cost := EstimateTokens(p)
        if cost > left {
            break
        }
        left -= cost
        n++
    }
    return n
}

var sizeSuffixes = []struct {
    suffix string
    tokens int
}{
    {"1m", 1_000_000},
    {"512k", 512_000},
    {"200k", 200_000},
    {"180k", 180_000},
    {"128k", 128_000},
    {"32k", 32_768},
}

// knownModelMax holds rough context sizes for common model identifiers.
var knownModelMax = map[string]int{
    "gpt-4o":             128_000,
    "gpt-4o-mini":        128_000,
    "gpt-4.1":            1_000_000,
    "gpt-4.1-mini":       1_000_000,
    "gpt-4-turbo":        128_000,
    "gpt-3.5-turbo":      16_384,
    "llama-3":            8_192,
    "llama-3.1":          128_000,
    "qwen2.5":            32_768,
    "mistral":            32_768,
    "openai/gpt-oss-20b": 4_096,
    "gpt-oss-20b":        4_096,
}

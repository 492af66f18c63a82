package prompt

import (
	"strings"
	"unicode"
)

// Tokenizer estimates token counts for budget arithmetic. Exact counts are
// provider-specific; the builder only needs a stable, conservative estimate.
type Tokenizer interface {
	Count(text string) int
}

// HeuristicTokenizer approximates one token per 1.3 whitespace-separated
// words plus one per punctuation rune. Deterministic, no model tables.
type HeuristicTokenizer struct{}

func (HeuristicTokenizer) Count(text string) int {
	if text == "" {
		return 0
	}
	words := len(strings.Fields(text))
	punct := 0
	for _, r := range text {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			punct++
		}
	}
	n := int(float64(words)/1.3) + punct
	if n == 0 && words > 0 {
		n = 1
	}
	return n
}

// CountMessages estimates tokens across message contents with a small
// per-message framing overhead.
func CountMessages(t Tokenizer, contents []string) int {
	total := 0
	for _, c := range contents {
		total += t.Count(c) + 4
	}
	return total
}

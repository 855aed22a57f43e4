// Package tokenest implements the heuristic token counter (component
// A): a fast, dependency-free approximation of how many tokens a
// given piece of text would cost upstream. It is deliberately not a
// real tokenizer: the gateway only needs a cheap, good-enough estimate
// to feed the cache estimator, and a real BPE vocabulary would differ
// per upstream model anyway.
package tokenest

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/howard-nolan/llmrouter/internal/dialect"
)

// ImageTokenCost is the flat per-image token charge applied when a
// message contains image content parts — a commonly cited estimate for
// a single low-detail image tile, applied uniformly rather than
// attempting per-image-size math.
const ImageTokenCost = 85

// wordPattern splits on runs of letters/digits (treated as one token
// each) and standalone punctuation (one token each).
var wordPattern = regexp.MustCompile(`[A-Za-z0-9]+|[^\sA-Za-z0-9]`)

// Count estimates the token cost of a piece of raw text: one unit per
// word/number run or punctuation mark, plus one unit per CJK
// codepoint (CJK scripts pack far more meaning per character than the
// word-splitting heuristic above would credit them for).
func Count(text string) int {
	if text == "" {
		return 0
	}

	count := 0
	// Strip CJK codepoints out before word-splitting so they aren't
	// double counted by the regexp, then add them back at one unit each.
	var nonCJK strings.Builder
	for _, r := range text {
		if isCJK(r) {
			count++
			continue
		}
		nonCJK.WriteRune(r)
	}

	count += len(wordPattern.FindAllString(nonCJK.String(), -1))
	return count
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}

// CountContent estimates a dialect.Content's token cost: its joined
// text plus a flat ImageTokenCost charge per image part.
func CountContent(c dialect.Content) int {
	return Count(c.Text) + c.ImageCount*ImageTokenCost
}

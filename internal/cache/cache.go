// Package cache implements the Cache Estimator (component C): a
// heuristic, post-hoc predictor of how much of a request's prompt an
// upstream provider would likely serve from its own KV/prompt cache.
// It never actually caches anything — it only estimates, for later
// comparison against whatever hit rate the upstream itself reports.
package cache

import (
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/howard-nolan/llmrouter/internal/dialect"
	"github.com/howard-nolan/llmrouter/internal/tokenest"
)

// defaultCapacity bounds the system-message hash set so it cannot grow
// without limit in a long-lived process.
const defaultCapacity = 10_000

// Probabilities are the tunable constants behind the conversation-history
// bucket's per-message cache-reuse probability. They are heuristic and
// unvalidated, so Estimator takes them as a parameter (wired through
// configuration) rather than hard-coding them; DefaultProbabilities is
// the starting table.
type Probabilities struct {
	Base                float64
	SystemRoleBonus     float64
	ShortContentBonus   float64 // content < 100 chars
	MediumContentBonus  float64 // content < 500 chars
	RepetitiveBonus     float64
	ShortContentLimit   int
	MediumContentLimit  int
	RepetitiveMinTokens int
}

// DefaultProbabilities is the default history-bucket constant table.
var DefaultProbabilities = Probabilities{
	Base:                0.3,
	SystemRoleBonus:     0.5,
	ShortContentBonus:   0.2,
	MediumContentBonus:  0.1,
	RepetitiveBonus:     0.2,
	ShortContentLimit:   100,
	MediumContentLimit:  500,
	RepetitiveMinTokens: 10,
}

// Analysis is the cache estimator's per-request output.
type Analysis struct {
	EstimatedCachedTokens int
	EstimatedFreshTokens  int
	EstimatedCacheHitRate float64

	SystemBucketTokens   int
	TemplateBucketTokens int
	HistoryBucketTokens  int
}

// Estimator holds the shared, mutable system-message hash set plus the
// tunable probability table. One Estimator is created at startup and
// shared across all concurrent requests.
type Estimator struct {
	systemSeen    *hashSet
	probabilities Probabilities
}

// New creates an Estimator with the default LRU capacity and the given
// probability table (pass DefaultProbabilities when no tuning applies).
func New(probabilities Probabilities) *Estimator {
	return &Estimator{
		systemSeen:    newHashSet(defaultCapacity),
		probabilities: probabilities,
	}
}

// Analyze runs the three additive buckets over a request's turns and
// caps the result at the total estimated prompt-token count.
func (e *Estimator) Analyze(turns []dialect.Turn) Analysis {
	if len(turns) == 0 {
		return Analysis{}
	}

	tokensPerTurn := make([]int, len(turns))
	totalPromptTokens := 0
	for i, turn := range turns {
		tokensPerTurn[i] = tokenest.Count(turn.Content)
		totalPromptTokens += tokensPerTurn[i]
	}

	systemBucket := e.systemBucket(turns, tokensPerTurn)
	templateBucket := e.templateBucket(turns, tokensPerTurn)
	historyBucket := e.historyBucket(turns, tokensPerTurn)

	cached := systemBucket + templateBucket + historyBucket
	if cached > totalPromptTokens {
		cached = totalPromptTokens
	}
	fresh := totalPromptTokens - cached

	hitRate := 0.0
	if cached+fresh > 0 {
		hitRate = float64(cached) / float64(cached+fresh)
	}

	return Analysis{
		EstimatedCachedTokens: cached,
		EstimatedFreshTokens:  fresh,
		EstimatedCacheHitRate: hitRate,
		SystemBucketTokens:    systemBucket,
		TemplateBucketTokens:  templateBucket,
		HistoryBucketTokens:   historyBucket,
	}
}

// systemBucket: a previously-seen system message (by content hash)
// contributes its full token count; a new one contributes 0 but is
// remembered for next time.
func (e *Estimator) systemBucket(turns []dialect.Turn, tokensPerTurn []int) int {
	total := 0
	for i, turn := range turns {
		if turn.Role != "system" || turn.Content == "" {
			continue
		}
		hash := xxhash.Sum64String(turn.Content)
		if e.systemSeen.seenAndTouch(hash) {
			total += tokensPerTurn[i]
		}
	}
	return total
}

// templateBucket: the first matching template pattern in each
// non-empty message contributes min(tokens(match), tokens(content)/4).
func (e *Estimator) templateBucket(turns []dialect.Turn, tokensPerTurn []int) int {
	total := 0
	for i, turn := range turns {
		if turn.Content == "" {
			continue
		}
		matched, ok := matchTemplate(turn.Content)
		if !ok {
			continue
		}
		matchTokens := tokenest.Count(matched)
		limit := tokensPerTurn[i] / 4
		if matchTokens < limit {
			total += matchTokens
		} else {
			total += limit
		}
	}
	return total
}

// historyBucket: every message except the last contributes
// tokens(content) * p(msg).
func (e *Estimator) historyBucket(turns []dialect.Turn, tokensPerTurn []int) int {
	if len(turns) < 2 {
		return 0
	}

	total := 0.0
	for i := 0; i < len(turns)-1; i++ {
		p := e.probability(turns[i])
		total += float64(tokensPerTurn[i]) * p
	}
	return int(total)
}

func (e *Estimator) probability(turn dialect.Turn) float64 {
	p := e.probabilities.Base

	if turn.Role == "system" {
		p += e.probabilities.SystemRoleBonus
	}

	length := len(turn.Content)
	switch {
	case length < e.probabilities.ShortContentLimit:
		p += e.probabilities.ShortContentBonus
	case length < e.probabilities.MediumContentLimit:
		p += e.probabilities.MediumContentBonus
	}

	if hasRepetitivePatterns(turn.Content, e.probabilities.RepetitiveMinTokens) {
		p += e.probabilities.RepetitiveBonus
	}

	if p > 1.0 {
		p = 1.0
	}
	return p
}

// hasRepetitivePatterns returns true iff content has at least minTokens
// word-tokens and contains a repeated word-level 3-gram.
func hasRepetitivePatterns(content string, minTokens int) bool {
	words := strings.Fields(content)
	if len(words) < minTokens || len(words) < 3 {
		return false
	}

	seen := make(map[string]struct{}, len(words))
	for i := 0; i+3 <= len(words); i++ {
		gram := strings.Join(words[i:i+3], " ")
		if _, ok := seen[gram]; ok {
			return true
		}
		seen[gram] = struct{}{}
	}
	return false
}

// Package cost implements the Cost Calculator (component B): a static
// per-model USD price table and the arithmetic to turn a token count
// into an estimated charge. The table is versioned — callers reference
// TableV1 explicitly so a future repricing lands as a TableV2 without
// silently changing historical comparisons.
package cost

import "github.com/howard-nolan/llmrouter/internal/dialect"

// Pricing is a model's USD cost per 1,000 input/output tokens.
type Pricing struct {
	InputPer1kUSD  float64
	OutputPer1kUSD float64
}

// TableV1 is the canonical price table, keyed by model name.
var TableV1 = map[string]Pricing{
	"gpt-3.5-turbo":     {InputPer1kUSD: 0.0015, OutputPer1kUSD: 0.002},
	"gpt-4":             {InputPer1kUSD: 0.03, OutputPer1kUSD: 0.06},
	"gpt-4-turbo":       {InputPer1kUSD: 0.01, OutputPer1kUSD: 0.03},
	"gpt-4o":            {InputPer1kUSD: 0.005, OutputPer1kUSD: 0.015},
	"gpt-4o-mini":       {InputPer1kUSD: 0.00015, OutputPer1kUSD: 0.0006},
	"claude-3-haiku":    {InputPer1kUSD: 0.00025, OutputPer1kUSD: 0.00125},
	"claude-3-sonnet":   {InputPer1kUSD: 0.003, OutputPer1kUSD: 0.015},
	"claude-3-opus":     {InputPer1kUSD: 0.015, OutputPer1kUSD: 0.075},
	"claude-3-5-sonnet": {InputPer1kUSD: 0.003, OutputPer1kUSD: 0.015},
}

// Estimate returns the USD cost of a call given its usage and model.
// Unknown models return 0 rather than erroring — estimated cost must
// always be attemptable, even on a model the table has never seen.
func Estimate(usage dialect.Usage, model string) float64 {
	pricing, ok := TableV1[model]
	if !ok {
		return 0
	}
	return float64(usage.PromptTokens)/1000*pricing.InputPer1kUSD +
		float64(usage.CompletionTokens)/1000*pricing.OutputPer1kUSD
}

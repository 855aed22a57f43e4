// Package router implements the Router (component G): choosing which
// configured provider serves a given model name, and deriving whether
// the request needs dialect translation.
package router

import (
	"fmt"
	"strings"

	"github.com/howard-nolan/llmrouter/internal/dialect"
	"github.com/howard-nolan/llmrouter/internal/provider"
)

// Decision is what the Router hands back to the pipeline: which
// provider to call, its logical config name (for logging/telemetry),
// and the translation direction the pipeline must apply.
type Decision struct {
	Provider      provider.Provider
	ProviderName  string
	TranslateMode dialect.Mode
}

// NoProviderForModel is returned when no configured provider can serve
// the requested model — no prefix match and no providers configured at
// all to fall back to.
type NoProviderForModel struct {
	Model string
}

func (e *NoProviderForModel) Error() string {
	return fmt.Sprintf("no provider configured for model %q", e.Model)
}

// Entry is one configured provider, named and dialect-tagged, as the
// Router sees it. main.go builds a slice of these from config at
// startup; the Router never loads configuration itself.
type Entry struct {
	Name     string
	Provider provider.Provider
}

// Router picks a provider for a model name and derives the translation
// mode against the client's own endpoint dialect. It is read-only after
// construction, so it needs no internal locking.
type Router struct {
	entries []Entry
}

// New builds a Router from the ordered provider entries. Order matters
// only for the fallback case (first configured provider wins) and for
// "first provider of a given dialect" prefix matching.
func New(entries []Entry) *Router {
	return &Router{entries: entries}
}

// Resolve chooses a provider for model under the client's endpoint
// dialect: names starting with "gpt" route to the first OpenAI-dialect
// provider, "claude" to the first Anthropic-dialect provider, anything
// else falls back to the first configured provider.
func (r *Router) Resolve(model string, clientDialect dialect.Dialect) (Decision, error) {
	if len(r.entries) == 0 {
		return Decision{}, &NoProviderForModel{Model: model}
	}

	var chosen *Entry
	switch {
	case strings.HasPrefix(model, "gpt"):
		chosen = r.firstOfDialect(dialect.OpenAICompatible)
	case strings.HasPrefix(model, "claude"):
		chosen = r.firstOfDialect(dialect.AnthropicCompatible)
	}

	if chosen == nil {
		chosen = &r.entries[0]
	}

	return Decision{
		Provider:      chosen.Provider,
		ProviderName:  chosen.Name,
		TranslateMode: translateMode(clientDialect, chosen.Provider.DialectTag()),
	}, nil
}

func (r *Router) firstOfDialect(d dialect.Dialect) *Entry {
	for i := range r.entries {
		if r.entries[i].Provider.DialectTag() == d {
			return &r.entries[i]
		}
	}
	return nil
}

// translateMode holds iff client and provider share a dialect, else
// names the direction the pipeline must translate.
func translateMode(client, providerDialect dialect.Dialect) dialect.Mode {
	if client == providerDialect {
		return dialect.Passthrough
	}
	if client == dialect.OpenAICompatible {
		return dialect.OpenAIToAnthropic
	}
	return dialect.AnthropicToOpenAI
}

// Names returns every configured provider's logical name, for the
// /health and /v1/models endpoints.
func (r *Router) Names() []string {
	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.Name
	}
	return names
}

// Providers exposes the underlying entries, for /v1/models synthesis.
func (r *Router) Providers() []Entry {
	return r.entries
}

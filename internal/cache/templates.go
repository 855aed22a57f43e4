package cache

import "regexp"

// templatePattern is one entry in the fixed, ordered instruction-template
// table. At most one pattern matches per message; patterns are tried in
// order and the first match wins.
type templatePattern struct {
	name    string
	pattern *regexp.Regexp
}

// templateTable is the declared set of common instruction-template
// openers. These are exactly the kind of boilerplate prefixes a real
// upstream prompt cache tends to have already seen verbatim across many
// callers, independent of this gateway's own system-message bucket.
var templateTable = []templatePattern{
	{"helpful_assistant", regexp.MustCompile(`(?i)you are a helpful assistant`)},
	{"action_request", regexp.MustCompile(`(?i)please (analyze|review|explain|summarize|translate|rewrite)`)},
	{"role_assignment", regexp.MustCompile(`(?i)you are an? (expert|senior|professional)\b`)},
	{"step_by_step", regexp.MustCompile(`(?i)(think|work) (through|step.by.step)`)},
	{"format_instruction", regexp.MustCompile(`(?i)respond (only )?(in|with) (json|markdown|a list)`)},
	{"conversation_opener", regexp.MustCompile(`(?i)^(hi|hello|hey)[,!. ]`)},
}

// matchTemplate returns the first matching pattern's matched text, or
// ok=false if nothing in the table matches.
func matchTemplate(content string) (matched string, ok bool) {
	for _, t := range templateTable {
		if loc := t.pattern.FindStringIndex(content); loc != nil {
			return content[loc[0]:loc[1]], true
		}
	}
	return "", false
}

// Package policy holds the content rules applied before text is persisted
// into long-term memory.
package policy

import "regexp"

type redactionRule struct {
	name        string
	pattern     *regexp.Regexp
	replacement string
}

// Rules run in order. Cards go before phones so a card number is not
// half-eaten by the phone pattern, and secrets go before both.
var defaultRules = []redactionRule{
	{"email", regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[REDACTED_EMAIL]"},
	{"secret", regexp.MustCompile(`\b(?:sk|pk|rk)[-_](?:live[-_]|test[-_]|proj[-_])?[A-Za-z0-9]{16,}\b`), "[REDACTED_SECRET]"},
	{"card", regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[REDACTED_CARD]"},
	{"phone", regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), "[REDACTED_PHONE]"},
}

// Redactor masks high-risk PII in free text.
type Redactor struct {
	enabled bool
	rules   []redactionRule
}

// NewRedactor returns a redactor. A disabled redactor passes text through.
func NewRedactor(enabled bool) *Redactor {
	return &Redactor{enabled: enabled, rules: defaultRules}
}

// Redact returns the masked text, whether anything changed, and the names of
// the rules that fired.
func (r *Redactor) Redact(input string) (string, bool, []string) {
	if r == nil || !r.enabled {
		return input, false, nil
	}
	out := input
	var fired []string
	for _, rule := range r.rules {
		next := rule.pattern.ReplaceAllString(out, rule.replacement)
		if next != out {
			fired = append(fired, rule.name)
			out = next
		}
	}
	return out, len(fired) > 0, fired
}

// RedactPII masks PII with the default rule set.
func RedactPII(input string) (redacted string, changed bool) {
	redacted, changed, _ = NewRedactor(true).Redact(input)
	return redacted, changed
}

package backend

import (
	"fmt"
	"strings"
)

// FallbackSelectors derives a best-effort delimited candidate list from the
// intent text alone. Providers return this when the real synthesis call
// fails, keeping the engine's retry loop supplied with verifiable guesses.
func FallbackSelectors(intent string) string {
	q := Literal(strings.TrimSpace(intent))
	candidates := []string{
		fmt.Sprintf("//*[normalize-space(.)=%s]", q),
		fmt.Sprintf("//button[contains(normalize-space(.),%s)]", q),
		fmt.Sprintf("//a[contains(normalize-space(.),%s)]", q),
		fmt.Sprintf("//*[@aria-label=%s]", q),
		fmt.Sprintf("//input[@placeholder=%s]", q),
	}
	return strings.Join(candidates, Delimiter)
}

// Literal quotes a string as an XPath string literal. XPath 1.0 has no
// escape sequences inside literals, so values containing both quote kinds
// are emitted as a concat() of alternating pieces.
func Literal(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	quoted := make([]string, 0, len(parts)*2)
	for i, part := range parts {
		if i > 0 {
			quoted = append(quoted, `"'"`)
		}
		if part != "" {
			quoted = append(quoted, "'"+part+"'")
		}
	}
	return "concat(" + strings.Join(quoted, ",") + ")"
}

// Package interpolate handles {name} placeholder detection and substitution
// for templated element descriptions and selectors, and derives the cache
// strategy that decides whether a template or its substituted form is keyed.
package interpolate

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/entrhq/locus/pkg/locator"
	"github.com/entrhq/locus/pkg/logging"
)

var (
	diagOnce sync.Once
	diag     *logging.Logger
)

func diagf(format string, v ...any) {
	diagOnce.Do(func() {
		diag, _ = logging.NewLogger("interpolate")
	})
	diag.Warnf(format, v...)
}

// HasPlaceholders reports whether text contains a {identifier} token.
func HasPlaceholders(text string) bool {
	_, ok := nextPlaceholder(text, 0)
	return ok
}

// ExtractPlaceholders returns the placeholder identifiers in text,
// de-duplicated, in order of first occurrence.
func ExtractPlaceholders(text string) []string {
	var names []string
	seen := make(map[string]bool)
	for i := 0; i < len(text); {
		p, ok := nextPlaceholder(text, i)
		if !ok {
			break
		}
		if !seen[p.name] {
			seen[p.name] = true
			names = append(names, p.name)
		}
		i = p.end
	}
	return names
}

// Substitute replaces every {name} with the stringified variable value.
// A missing or nil value leaves the placeholder intact and emits a
// diagnostic; Substitute never fails.
func Substitute(text string, vars locator.Variables) string {
	return replace(text, vars, false)
}

// SubstituteForSelector performs the same substitution but escapes single
// and double quotes in values so the result stays syntactically valid as a
// quoted literal inside a path expression.
func SubstituteForSelector(text string, vars locator.Variables) string {
	return replace(text, vars, true)
}

// Validation reports whether every placeholder in a text has a value.
type Validation struct {
	Valid   bool
	Missing []string
}

// Validate checks text against vars and lists unresolved placeholders in
// order of first occurrence.
func Validate(text string, vars locator.Variables) Validation {
	var missing []string
	for _, name := range ExtractPlaceholders(text) {
		if v, ok := vars[name]; !ok || v == nil {
			missing = append(missing, name)
		}
	}
	return Validation{Valid: len(missing) == 0, Missing: missing}
}

// DeriveStrategy resolves StrategySmart to StrategyTemplate when the raw
// description contains placeholders and StrategyResolved otherwise. Explicit
// non-smart strategies pass through unchanged.
func DeriveStrategy(requested locator.Strategy, hasPlaceholders bool) locator.Strategy {
	if requested != locator.StrategySmart {
		return requested
	}
	if hasPlaceholders {
		return locator.StrategyTemplate
	}
	return locator.StrategyResolved
}

type placeholder struct {
	name       string
	start, end int
}

// nextPlaceholder scans text from offset for the next {identifier} token.
// Identifiers start with a letter or underscore and continue with letters,
// digits, or underscores.
func nextPlaceholder(text string, from int) (placeholder, bool) {
	for i := from; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		j := i + 1
		if j >= len(text) || !isIdentStart(text[j]) {
			continue
		}
		for j < len(text) && isIdentPart(text[j]) {
			j++
		}
		if j < len(text) && text[j] == '}' {
			return placeholder{name: text[i+1 : j], start: i, end: j + 1}, true
		}
	}
	return placeholder{}, false
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func replace(text string, vars locator.Variables, escape bool) string {
	if len(text) == 0 {
		return text
	}
	var b strings.Builder
	i := 0
	for i < len(text) {
		p, ok := nextPlaceholder(text, i)
		if !ok {
			b.WriteString(text[i:])
			break
		}
		b.WriteString(text[i:p.start])
		value, present := vars[p.name]
		if !present || value == nil {
			diagf("placeholder {%s} has no value, leaving it intact", p.name)
			b.WriteString(text[p.start:p.end])
		} else {
			s := stringify(value)
			if escape {
				s = escapeQuotes(s)
			}
			b.WriteString(s)
		}
		i = p.end
	}
	return b.String()
}

// escapeQuotes backslash-escapes embedded quote characters so a substituted
// value cannot terminate the quoted literal it lands inside.
func escapeQuotes(s string) string {
	s = strings.ReplaceAll(s, `'`, `\'`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprintf("%v", x)
	}
}

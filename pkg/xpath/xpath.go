// Package xpath scores, normalizes, optimizes, and ranks path-expression
// selector candidates. Scores favor stable targeting attributes (test IDs,
// accessibility labels, semantic ids) and punish brittle shapes such as
// positional indexes, deep generic container chains, and generated
// identifiers.
package xpath

import (
	"regexp"
	"sort"
	"strings"
)

// Marker is the explicit path-expression prefix some engines accept.
const Marker = "xpath="

var (
	whitespaceRun   = regexp.MustCompile(`\s+`)
	descendantStep  = regexp.MustCompile(`/descendant-or-self::node\(\)/`)
	wildcardPrefix  = regexp.MustCompile(`^/?\*//`)
	operatorSpacing = regexp.MustCompile(`\s*(!=|<=|>=|=|<|>|\|)\s*`)

	positionalPredicate = regexp.MustCompile(`\[\d+\]`)
	genericChain        = regexp.MustCompile(`(?:/{1,2}(?:div|span)\b){4,}`)
	generatedID         = regexp.MustCompile(`@id=['"][^'"]*\d{5,}`)
	hashedClass         = regexp.MustCompile(`@class=['"][^'"]*[0-9a-f]{8,}`)
	idValue             = regexp.MustCompile(`@id=['"]([^'"]+)['"]`)
	allDigits           = regexp.MustCompile(`^\d+$`)
	leadingPredicate    = regexp.MustCompile(`^//[A-Za-z][\w-]*\[`)
)

var testIDAttributes = []string{"@data-testid", "@data-test", "@data-cy", "@data-qa"}

var accessibilityAttributes = []string{"@aria-label", "@aria-labelledby", "@aria-describedby", "@role"}

// IsPathExpression classifies a candidate as a path expression: an explicit
// xpath= marker, a double-separator prefix, or a single separator not
// immediately followed by a wildcard.
func IsPathExpression(candidate string) bool {
	s := strings.TrimSpace(candidate)
	switch {
	case strings.HasPrefix(s, Marker):
		return true
	case strings.HasPrefix(s, "//"):
		return true
	case strings.HasPrefix(s, "/"):
		return !strings.HasPrefix(s, "/*")
	}
	return false
}

// Normalize strips the xpath= marker, trims surrounding quote and backtick
// characters, and collapses internal whitespace runs to single spaces.
func Normalize(candidate string) string {
	s := strings.TrimSpace(candidate)
	s = strings.TrimPrefix(s, Marker)
	s = strings.Trim(s, "'\"`")
	s = whitespaceRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Validate performs a lightweight syntactic check: balanced brackets,
// parentheses, and quotes, and no empty steps. Candidates that fail are not
// discarded upstream, only exempted from rewriting and ranking.
func Validate(candidate string) bool {
	if candidate == "" || strings.Contains(candidate, "///") {
		return false
	}
	var brackets, parens int
	var quote byte
	for i := 0; i < len(candidate); i++ {
		c := candidate[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '[':
			brackets++
		case ']':
			brackets--
		case '(':
			parens++
		case ')':
			parens--
		}
		if brackets < 0 || parens < 0 {
			return false
		}
	}
	return quote == 0 && brackets == 0 && parens == 0
}

// Optimize rewrites redundant descendant-or-self wrapper steps to the //
// shorthand, collapses a wildcard-then-separator prefix, and removes
// whitespace around comparison and union operators. Idempotent.
func Optimize(candidate string) string {
	s := descendantStep.ReplaceAllString(candidate, "//")
	s = wildcardPrefix.ReplaceAllString(s, "//")
	s = operatorSpacing.ReplaceAllString(s, "$1")
	return s
}

// Score rates a candidate from 0 to 100. Base 50, bonuses for stable
// targeting idioms, penalties for brittle shapes.
func Score(candidate string) int {
	score := 50

	if strings.Contains(candidate, "normalize-space") {
		score += 15
	}
	if containsAny(candidate, testIDAttributes) {
		score += 30
	}
	if containsAny(candidate, accessibilityAttributes) {
		score += 25
	}
	if m := idValue.FindStringSubmatch(candidate); m != nil && !allDigits.MatchString(m[1]) {
		score += 20
	}
	if strings.Contains(candidate, "@name") {
		score += 15
	}
	if strings.Contains(candidate, "@placeholder") {
		score += 10
	}
	if strings.Contains(candidate, "translate(") {
		score += 10
	}
	if leadingPredicate.MatchString(candidate) {
		score += 10
	}
	if strings.Contains(candidate, "following-sibling::") || strings.Contains(candidate, "preceding-sibling::") {
		score += 5
	}

	for _, p := range detectPenalties(candidate) {
		score -= p.weight
	}

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

type penalty struct {
	weight  int
	message string
}

func detectPenalties(candidate string) []penalty {
	var found []penalty
	if positionalPredicate.MatchString(candidate) {
		found = append(found, penalty{20, "positional predicates like [1] break when sibling order changes"})
	}
	if strings.Count(candidate, "/") > 10 {
		found = append(found, penalty{15, "more than 10 path separators couples the selector to deep structure"})
	}
	if strings.HasPrefix(candidate, "/html") {
		found = append(found, penalty{25, "absolute paths anchored at the document root break on any layout change"})
	}
	if genericChain.MatchString(candidate) {
		found = append(found, penalty{15, "chains of generic div/span segments carry no stable meaning"})
	}
	if generatedID.MatchString(candidate) {
		found = append(found, penalty{20, "id values with long digit runs look auto-generated and unstable"})
	}
	if hashedClass.MatchString(candidate) {
		found = append(found, penalty{15, "class values with hash fragments change on every build"})
	}
	if strings.Count(candidate, "[") > 5 {
		found = append(found, penalty{10, "more than 5 predicates makes the selector hard to maintain"})
	}
	return found
}

// SuggestImprovements returns a human-readable diagnostic for every penalty
// the candidate triggers, plus a standing suggestion to prefer test
// identifier attributes when none are present.
func SuggestImprovements(candidate string) []string {
	var suggestions []string
	for _, p := range detectPenalties(candidate) {
		suggestions = append(suggestions, p.message)
	}
	if !containsAny(candidate, testIDAttributes) {
		suggestions = append(suggestions, "prefer test identifier attributes such as data-testid when available")
	}
	return suggestions
}

// ChooseBetter returns a when its score is greater than or equal to b's
// score, otherwise b. Ties deterministically favor the first argument.
func ChooseBetter(a, b string) string {
	if Score(a) >= Score(b) {
		return a
	}
	return b
}

// SelectBest filters candidates to syntactically valid path expressions and
// returns the highest-scoring one. The sort is stable, so the first-listed of
// equally scored candidates wins. Returns false when no candidate qualifies.
func SelectBest(candidates []string) (string, bool) {
	type ranked struct {
		candidate string
		score     int
	}
	var valid []ranked
	for _, c := range candidates {
		if IsPathExpression(c) && Validate(Normalize(c)) {
			valid = append(valid, ranked{c, Score(c)})
		}
	}
	if len(valid) == 0 {
		return "", false
	}
	sort.SliceStable(valid, func(i, j int) bool {
		return valid[i].score > valid[j].score
	})
	return valid[0].candidate, true
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

package memory

import (
	"regexp"
	"sort"
	"strings"
)

// EntityExtractor finds entity names in free text. Implementations must be
// deterministic and return a de-duplicated set.
type EntityExtractor interface {
	Extract(text string) []string
}

// EntityExtractorFunc adapts a function to EntityExtractor.
type EntityExtractorFunc func(text string) []string

func (f EntityExtractorFunc) Extract(text string) []string { return f(text) }

var (
	capitalizedPattern = regexp.MustCompile(`\b[A-Z][a-zA-Z]+\b`)
	hashtagPattern     = regexp.MustCompile(`#([\p{L}\p{N}_]+)`)
	mentionPattern     = regexp.MustCompile(`@([\p{L}\p{N}_]+)`)
)

// significanceKeywords mark a message as worth keeping beyond short-term.
var significanceKeywords = []string{"remember", "important", "forget", "key", "critical", "essential"}

// ExtractEntities is the default heuristic extractor: capitalized words,
// hashtag bodies and mention bodies, case-sensitive, sorted and de-duplicated.
func ExtractEntities(text string) []string {
	set := make(map[string]struct{})
	for _, m := range capitalizedPattern.FindAllString(text, -1) {
		set[m] = struct{}{}
	}
	for _, m := range hashtagPattern.FindAllStringSubmatch(text, -1) {
		set[m[1]] = struct{}{}
	}
	for _, m := range mentionPattern.FindAllStringSubmatch(text, -1) {
		set[m[1]] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for e := range set {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

// IsSignificant reports whether a message should also be kept as medium-term
// memory: it names entities, asks a question, uses one of the significance
// keywords, or has more than 20 tokens.
func IsSignificant(text string, entities []string) bool {
	if len(entities) > 0 {
		return true
	}
	if strings.Contains(text, "?") {
		return true
	}
	lower := strings.ToLower(text)
	for _, k := range significanceKeywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return len(strings.Fields(text)) > 20
}

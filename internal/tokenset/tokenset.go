// Package tokenset provides the shared tokenization, stopword filtering, and
// overlap/Jaccard helpers used by the goal-value rule (kernel), the quest
// progress tracker (quest), the critical-state monitor (monitor), and
// episodic retrieval (memory). Keeping one implementation avoids the
// hierarchical goal-value rule and the progress tracker silently disagreeing
// on what counts as "token overlap".
package tokenset

import "strings"

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "to": {}, "of": {}, "in": {}, "on": {}, "at": {},
	"and": {}, "or": {}, "is": {}, "are": {}, "it": {}, "this": {}, "that": {},
	"with": {}, "for": {}, "from": {}, "into": {}, "your": {}, "you": {}, "be": {},
}

// Tokenize lowercases s, splits on non-alphanumeric runs, and drops stopwords.
func Tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, stop := stopwords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Set builds a set (as map[string]struct{}) from a token slice.
func Set(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

// Overlap returns the number of tokens shared between a and b, after
// tokenizing and stopword-filtering both.
func Overlap(a, b string) int {
	setA := Set(Tokenize(a))
	setB := Tokenize(b)
	count := 0
	for _, t := range setB {
		if _, ok := setA[t]; ok {
			count++
		}
	}
	return count
}

// SharesToken reports whether a and b share at least one non-stopword token.
func SharesToken(a, b string) bool {
	return Overlap(a, b) >= 1
}

// Jaccard computes the Jaccard similarity of the tokenized, stopword-filtered
// token sets of a and b: |A∩B| / |A∪B|. Returns 0 if both are empty.
func Jaccard(a, b string) float64 {
	setA := Set(Tokenize(a))
	setB := Set(Tokenize(b))
	if len(setA) == 0 && len(setB) == 0 {
		return 0
	}

	intersection := 0
	union := make(map[string]struct{}, len(setA)+len(setB))
	for t := range setA {
		union[t] = struct{}{}
		if _, ok := setB[t]; ok {
			intersection++
		}
	}
	for t := range setB {
		union[t] = struct{}{}
	}

	if len(union) == 0 {
		return 0
	}
	return float64(intersection) / float64(len(union))
}

// Unique returns the count of distinct strings in items.
func Unique(items []string) int {
	seen := make(map[string]struct{}, len(items))
	for _, i := range items {
		seen[i] = struct{}{}
	}
	return len(seen)
}

package quest

import (
	"regexp"
	"strings"
)

var temporalMarkerPattern = regexp.MustCompile(`(?i)\b(first|then|finally|next|after that|and then)\b,?`)

var fillerPrefixPattern = regexp.MustCompile(
	`(?i)^(you should|it would be great if you could|you could|you can|you need to|you must|please|try to)\s+`,
)

var whitespacePattern = regexp.MustCompile(`\s+`)

// Decompose splits a natural-language quest into an ordered list of subgoal
// descriptions per spec §4.4:
//
//  1. lowercase and trim
//  2. split on temporal markers (first/then/finally/next/after that/and then)
//  3. split residual punctuation on '.' and ';'
//  4. strip filler prefixes, collapse whitespace, drop empty fragments
//
// Decompose is a pure function of its input: deterministic, never produces
// an empty description, never produces adjacent duplicates, and is
// idempotent on an already-decomposed list joined back with " then " (law
// L1 in spec §8).
func Decompose(text string) []string {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return nil
	}

	segments := temporalMarkerPattern.Split(normalized, -1)

	var fragments []string
	for _, segment := range segments {
		for _, piece := range splitPunctuation(segment) {
			fragments = append(fragments, piece)
		}
	}

	var subgoals []string
	for _, fragment := range fragments {
		cleaned := cleanFragment(fragment)
		if cleaned == "" {
			continue
		}
		if len(subgoals) > 0 && subgoals[len(subgoals)-1] == cleaned {
			continue
		}
		subgoals = append(subgoals, cleaned)
	}

	return subgoals
}

func splitPunctuation(segment string) []string {
	var out []string
	start := 0
	for i, r := range segment {
		if r == '.' || r == ';' {
			out = append(out, segment[start:i])
			start = i + 1
		}
	}
	out = append(out, segment[start:])
	return out
}

func cleanFragment(fragment string) string {
	cleaned := strings.TrimSpace(fragment)
	// Filler prefixes can stack (e.g. "please you need to"), strip until fixed point.
	for {
		stripped := fillerPrefixPattern.ReplaceAllString(cleaned, "")
		stripped = strings.TrimSpace(stripped)
		if stripped == cleaned {
			break
		}
		cleaned = stripped
	}
	cleaned = whitespacePattern.ReplaceAllString(cleaned, " ")
	cleaned = strings.Trim(cleaned, " ,")
	return cleaned
}

// NewQuest decomposes text and returns a Quest ready for progress tracking.
func NewQuest(text string) *Quest {
	descriptions := Decompose(text)
	subgoals := make([]Subgoal, len(descriptions))
	for i, d := range descriptions {
		subgoals[i] = Subgoal{Index: i, Description: d}
	}
	return &Quest{Text: text, Subgoals: subgoals, CurrentIndex: 0}
}

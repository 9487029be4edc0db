// Package fuzzy implements approximate keyword matching over free-form chat
// text. The canonical policy compares whole word tokens against each keyword
// with a bounded edit distance; a legacy sliding-window policy is kept as
// ContainsWindowed for comparison but is not used by Matcher.
package fuzzy

import (
	"strings"
	"unicode"
)

// EditDistance returns the Levenshtein distance between a and b: the minimum
// number of single-character insertions, deletions, and substitutions needed
// to transform one into the other. It is symmetric and runs in O(len(a)*len(b))
// time with O(min(len(a),len(b))) extra space.
func EditDistance(a, b string) int {
	// Keep b as the shorter string so the rows stay small.
	if len(a) < len(b) {
		a, b = b, a
	}
	if len(b) == 0 {
		return len(a)
	}
	ra := []rune(a)
	rb := []rune(b)

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i, ca := range ra {
		curr[0] = i + 1
		for j, cb := range rb {
			ins := prev[j+1] + 1
			del := curr[j] + 1
			sub := prev[j]
			if ca != cb {
				sub++
			}
			curr[j+1] = min(ins, del, sub)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

// MatchToken reports whether a single word token matches a keyword under the
// word-token policy: exact equality, or all of (length difference within
// tolerance, same first character, edit distance within tolerance). The
// first-character guard and length pre-filter exist to keep short unrelated
// words ("dude") from matching a longer keyword ("pudge") purely on distance.
// Both inputs are expected lowercased.
func MatchToken(token, keyword string, tolerance int) bool {
	if token == "" || keyword == "" {
		return false
	}
	if token == keyword {
		return true
	}
	// Compare runes, not bytes, so multi-byte tokens get the same policy the
	// rune-based distance uses.
	rt := []rune(token)
	rk := []rune(keyword)
	diff := len(rt) - len(rk)
	if diff < 0 {
		diff = -diff
	}
	if diff > tolerance {
		return false
	}
	if rt[0] != rk[0] {
		return false
	}
	return EditDistance(token, keyword) <= tolerance
}

// Tokenize splits text into maximal alphanumeric runs, lowercased.
func Tokenize(text string) []string {
	var tokens []string
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		tokens = append(tokens, b.String())
	}
	return tokens
}

// ContainsWindowed is the legacy containment check: it slides a window of
// len(keyword) across the lowercased text and matches if any window is within
// tolerance of the keyword. It is cheaper than tokenizing but matches across
// word boundaries, so short unrelated fragments can trigger it. Retained for
// reference; Matcher uses the word-token policy.
func ContainsWindowed(text, keyword string, tolerance int) bool {
	text = strings.ToLower(text)
	keyword = strings.ToLower(keyword)
	if keyword == "" || len(text) < len(keyword) {
		return false
	}
	for i := 0; i+len(keyword) <= len(text); i++ {
		if EditDistance(text[i:i+len(keyword)], keyword) <= tolerance {
			return true
		}
	}
	return false
}

// Matcher scans text against a fixed keyword set. The keyword list is
// lowercased once at construction and immutable afterwards.
type Matcher struct {
	keywords  []string
	tolerance int
}

// NewMatcher builds a Matcher. Keywords are lowercased; empty entries are
// dropped. A negative tolerance is treated as zero (exact matches only).
func NewMatcher(keywords []string, tolerance int) *Matcher {
	if tolerance < 0 {
		tolerance = 0
	}
	kws := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			kws = append(kws, kw)
		}
	}
	return &Matcher{keywords: kws, tolerance: tolerance}
}

// Keywords returns the configured keyword set.
func (m *Matcher) Keywords() []string { return m.keywords }

// Match scans text for any configured keyword and returns the first keyword
// that matches, short-circuiting on the first hit. Empty text or an empty
// keyword set never matches.
func (m *Matcher) Match(text string) (string, bool) {
	if text == "" || len(m.keywords) == 0 {
		return "", false
	}
	tokens := Tokenize(text)
	for _, kw := range m.keywords {
		for _, tok := range tokens {
			if MatchToken(tok, kw, m.tolerance) {
				return kw, true
			}
		}
	}
	return "", false
}

// MatchesTerm reports whether text matches a single ad-hoc term under the
// word-token policy. Used by transcript and archive search.
func MatchesTerm(text, term string, tolerance int) bool {
	term = strings.ToLower(strings.TrimSpace(term))
	if text == "" || term == "" {
		return false
	}
	for _, tok := range Tokenize(text) {
		if MatchToken(tok, term, tolerance) {
			return true
		}
	}
	return false
}

package fuzzy

import "testing"

func TestEditDistanceBasics(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "abc", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"kitten", "sitting", 3},
		{"jord", "jordan", 2},
		{"jordam", "jordan", 1},
		{"pudge", "dude", 2},
	}
	for _, c := range cases {
		if got := EditDistance(c.a, c.b); got != c.want {
			t.Errorf("EditDistance(%q,%q)=%d want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestEditDistanceSymmetric(t *testing.T) {
	pairs := [][2]string{
		{"jordan", "jordam"},
		{"pudge", "dude"},
		{"", "xyz"},
		{"flaw", "lawn"},
		{"longerstring", "short"},
	}
	for _, p := range pairs {
		if d1, d2 := EditDistance(p[0], p[1]), EditDistance(p[1], p[0]); d1 != d2 {
			t.Errorf("EditDistance not symmetric for %q/%q: %d vs %d", p[0], p[1], d1, d2)
		}
	}
}

func TestEditDistanceIdentity(t *testing.T) {
	for _, s := range []string{"", "a", "pudge", "anyone seen jordan"} {
		if d := EditDistance(s, s); d != 0 {
			t.Errorf("EditDistance(%q,%q)=%d want 0", s, s, d)
		}
	}
}

func TestTokenize(t *testing.T) {
	got := Tokenize("Anyone seen JORDAN around?! where2-go")
	want := []string{"anyone", "seen", "jordan", "around", "where2", "go"}
	if len(got) != len(want) {
		t.Fatalf("Tokenize returned %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Tokenize returned %v, want %v", got, want)
		}
	}
}

func TestMatchTokenFirstCharGuard(t *testing.T) {
	// "dude" is within edit distance 2 of... nothing here, but critically its
	// first character differs from "pudge", so it must be rejected before any
	// distance computation could let it through.
	if MatchToken("dude", "pudge", 2) {
		t.Error("dude must not match pudge: first-character guard")
	}
	if !MatchToken("pudge", "pudge", 2) {
		t.Error("exact token must match")
	}
	if !MatchToken("jord", "jordan", 2) {
		t.Error("jord should match jordan: len diff 2, same first char, distance 2")
	}
	if MatchToken("jo", "jordan", 2) {
		t.Error("jo must not match jordan: length difference exceeds tolerance")
	}
}

func TestMatchTokenMultibyteRunes(t *testing.T) {
	// "ääää" vs "ää": 4 bytes apart per pair in UTF-8, but only 2 runes apart.
	// The pre-filter must measure runes like the distance does.
	if !MatchToken("ääää", "ää", 2) {
		t.Error("rune length diff 2 with matching first rune should pass at tolerance 2")
	}
	if MatchToken("ääää", "ä", 2) {
		t.Error("rune length diff 3 must fail the pre-filter at tolerance 2")
	}
	if MatchToken("öää", "ää", 2) {
		t.Error("differing first rune must be rejected")
	}
}

func TestMatcherScenarios(t *testing.T) {
	m := NewMatcher([]string{"jordan", "pudge"}, 2)

	if kw, ok := m.Match("anyone seen jordam around?"); !ok || kw != "jordan" {
		t.Errorf("jordam should fuzzy-match jordan, got (%q,%v)", kw, ok)
	}
	if kw, ok := m.Match("anyone seen jord around?"); !ok || kw != "jordan" {
		t.Errorf("jord should fuzzy-match jordan, got (%q,%v)", kw, ok)
	}
	if _, ok := m.Match("what a dude"); ok {
		t.Error("dude must not match any keyword")
	}
	if _, ok := m.Match(""); ok {
		t.Error("empty text must never match")
	}
}

func TestMatcherEmptyKeywords(t *testing.T) {
	m := NewMatcher(nil, 2)
	if _, ok := m.Match("jordan was here"); ok {
		t.Error("empty keyword set must never match")
	}
	m = NewMatcher([]string{"", "  "}, 2)
	if _, ok := m.Match("jordan was here"); ok {
		t.Error("blank keywords are dropped and must never match")
	}
}

func TestMatcherCaseInsensitive(t *testing.T) {
	m := NewMatcher([]string{"JORDAN"}, 0)
	if _, ok := m.Match("Jordan said hi"); !ok {
		t.Error("matching must be case-insensitive both ways")
	}
}

// A fragment close to a keyword but split across a word boundary: the legacy
// windowed policy sees "pu dge" as a near-match window, the word-token policy
// must not.
func TestWindowedVersusTokenPolicy(t *testing.T) {
	text := "pu dge"
	if !ContainsWindowed(text, "pudge", 2) {
		t.Fatal("windowed policy should match across the word boundary")
	}
	m := NewMatcher([]string{"pudge"}, 2)
	if _, ok := m.Match(text); ok {
		t.Fatal("word-token policy must not match across word boundaries")
	}
}

func TestContainsWindowedEdges(t *testing.T) {
	if ContainsWindowed("short", "muchlongerkeyword", 2) {
		t.Error("text shorter than keyword must not match")
	}
	if ContainsWindowed("anything", "", 2) {
		t.Error("empty keyword must not match")
	}
	if !ContainsWindowed("xxjordamxx", "jordan", 2) {
		t.Error("embedded near-keyword should match the windowed policy")
	}
}

func TestMatchesTerm(t *testing.T) {
	if !MatchesTerm("saw jordam yesterday", "Jordan", 2) {
		t.Error("archive search term should fuzzy-match")
	}
	if MatchesTerm("saw jordam yesterday", "", 2) {
		t.Error("empty term must not match")
	}
	if MatchesTerm("", "jordan", 2) {
		t.Error("empty text must not match")
	}
}

package textutil

import (
	"math"
	"testing"
)

func TestFingerprintCosineNil(t *testing.T) {
	tests := []struct {
		name string
		a    *Fingerprint
		b    *Fingerprint
	}{
		{"both nil", nil, nil},
		{"a nil", nil, NewFingerprint("hello world")},
		{"b nil", NewFingerprint("hello world"), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Cosine(tt.b); got != 0 {
				t.Errorf("Cosine() = %v, want 0", got)
			}
		})
	}
}

func TestSimilarityIgnoresCaseAndPunctuation(t *testing.T) {
	got := Similarity("Avoid clickbait openings", "avoid CLICKBAIT openings!")
	if math.Abs(got-1.0) > 1e-9 {
		t.Errorf("Similarity(identical) = %v, want 1.0", got)
	}
}

func TestSimilarityRanksNearDuplicates(t *testing.T) {
	base := "avoid clickbait style openings in the hook"
	near := "avoid clickbait openings in the hook"
	far := "prefer concrete numbers and named sources"

	nearScore := Similarity(base, near)
	farScore := Similarity(base, far)
	if nearScore < 0.8 {
		t.Errorf("expected near duplicate above 0.8, got %v", nearScore)
	}
	if farScore != 0 {
		t.Errorf("expected unrelated rules to score 0, got %v", farScore)
	}
	if Similarity(near, base) != nearScore {
		t.Error("similarity should be symmetric")
	}
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"simple", "Hello World", []string{"hello", "world"}},
		{"short tokens dropped", "a an the cat", []string{"the", "cat"}},
		{"punctuation splits", "don't-stop, ever", []string{"don", "stop", "ever"}},
		{"unicode letters", "Café ÜBER naïve", []string{"café", "über", "naïve"}},
		{"empty", "", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokenize(tt.input)
			if len(got) != len(tt.want) {
				t.Fatalf("Tokenize(%q) = %v, want %v", tt.input, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("Tokenize(%q) = %v, want %v", tt.input, got, tt.want)
				}
			}
		})
	}
}

func TestFingerprintTokenCount(t *testing.T) {
	if got := (*Fingerprint)(nil).TokenCount(); got != 0 {
		t.Errorf("nil TokenCount = %d", got)
	}
	if got := NewFingerprint("one two three three").TokenCount(); got != 3 {
		t.Errorf("TokenCount = %d, want 3", got)
	}
	if NewFingerprint("a b c") != nil {
		t.Error("expected nil fingerprint for text without valid tokens")
	}
}

func TestNormalizeRule(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  Avoid   clickbait.  ", "avoid clickbait"},
		{"AVOID CLICKBAIT!", "avoid clickbait"},
		{"- use numbers", "use numbers"},
	}
	for _, tt := range tests {
		if got := NormalizeRule(tt.in); got != tt.want {
			t.Errorf("NormalizeRule(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("Truncate kept = %q", got)
	}
	got := Truncate("the quick brown fox jumps", 12)
	if got != "the quick…" {
		t.Errorf("Truncate = %q", got)
	}
	if WordCount(" one  two\nthree ") != 3 {
		t.Error("WordCount mismatch")
	}
}

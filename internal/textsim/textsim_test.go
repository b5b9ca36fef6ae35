package textsim

import (
	"math/rand/v2"
	"testing"

	"github.com/alecthomas/assert/v2"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"lowercases ascii", "The Hobbit", "thehobbit"},
		{"folds full width", "ＡＢＣ１２３", "abc123"},
		{"composes half width katakana", "ｸﾞﾘとｸﾞﾗ", "グリとグラ"},
		{"keeps kana and kanji", "ぐりとぐら 中川李枝子", "ぐりとぐら中川李枝子"},
		{"drops punctuation", "Harry Potter: Book #1!", "harrypotterbook1"},
		{"keeps underscore", "a_b", "a_b"},
		{"drops japanese punctuation", "「はらぺこあおむし」", "はらぺこあおむし"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.input))
		})
	}
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"equal after normalization", "Guri and Gura", "guri AND gura", 1.0},
		{"both empty", "", "", 1.0},
		{"empty vs nonempty", "", "abc", 0.0},
		{"only punctuation vs text", "!!!", "abc", 0.0},
		{"substring", "ぐりとぐら", "ぐりとぐらのえんそく", SubstringScore},
		{"superstring", "ぐりとぐらのえんそく", "ぐりとぐら", SubstringScore},
		{"one edit", "kitten", "sitten", 1.0 - 1.0/6.0},
		{"classic", "kitten", "sitting", 1.0 - 3.0/7.0},
		{"disjoint", "abc", "xyz", 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Similarity(tt.a, tt.b)
			assert.True(t, abs(got-tt.want) < 1e-9, "Similarity(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		})
	}
}

func TestLevenshtein(t *testing.T) {
	assert.Equal(t, 0, Levenshtein("", ""))
	assert.Equal(t, 3, Levenshtein("", "abc"))
	assert.Equal(t, 3, Levenshtein("kitten", "sitting"))
	assert.Equal(t, 1, Levenshtein("ぐりとぐら", "ぐりとくら"))
}

func TestSimilarityProperties(t *testing.T) {
	alphabet := []rune("abcdeぐりとら中川 -:")
	rng := rand.New(rand.NewPCG(1, 2))
	randomString := func() string {
		n := rng.IntN(12)
		out := make([]rune, n)
		for i := range out {
			out[i] = alphabet[rng.IntN(len(alphabet))]
		}
		return string(out)
	}

	for range 500 {
		a, b := randomString(), randomString()

		assert.Equal(t, 1.0, Similarity(a, a), "reflexive for %q", a)
		assert.Equal(t, Similarity(a, b), Similarity(b, a), "symmetric for %q/%q", a, b)

		s := Similarity(a, b)
		assert.True(t, s >= 0 && s <= 1, "out of range: %v", s)
	}
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

package match

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSimilarity_Identity(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"a", "Coca Cola", "Azúcar Blanca 1kg", "x y z"} {
		require.InDelta(t, 1.0, Similarity(s, s), 1e-9, "similarity(%q, %q)", s, s)
	}
}

func TestSimilarity_BothEmpty(t *testing.T) {
	t.Parallel()

	require.Equal(t, 1.0, Similarity("", ""))
}

func TestSimilarity_CaseAndAccentFolding(t *testing.T) {
	t.Parallel()

	require.Equal(t, 1.0, Similarity("COCA COLA", "coca cola"))
	require.Equal(t, 1.0, Similarity("Azúcar", "azucar"))
	require.Equal(t, 1.0, Similarity("Señorío", "senorio"))
}

func TestSimilarity_Symmetric(t *testing.T) {
	t.Parallel()

	pairs := [][2]string{
		{"Coca Cola", "Coca-Cola Zero"},
		{"Pepsi", "Coca Cola"},
		{"", "abc"},
	}
	for _, p := range pairs {
		require.InDelta(t, Similarity(p[0], p[1]), Similarity(p[1], p[0]), 1e-9)
	}
}

func TestSimilarity_Disjoint(t *testing.T) {
	t.Parallel()

	require.Equal(t, 0.0, Similarity("abc", "xyz"))
}

func TestSimilarity_KnownDistances(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b string
		want float64
	}{
		{"kitten", "sitting", 1.0 - 3.0/7.0},
		{"abc", "", 0.0},
		{"", "abc", 0.0},
		{"flaw", "lawn", 0.5},
	}
	for _, tc := range tests {
		require.InDelta(t, tc.want, Similarity(tc.a, tc.b), 1e-9, "similarity(%q, %q)", tc.a, tc.b)
	}
}

func TestSimilarity_RanksCloserBrandHigher(t *testing.T) {
	t.Parallel()

	target := "Coca Cola"
	coca := Similarity("Coca-Cola", target)
	pepsi := Similarity("Pepsi", target)
	require.Greater(t, coca, pepsi)
}

func TestScore_MonotoneInEachInput(t *testing.T) {
	t.Parallel()

	base := Candidate{Label: "coca cola", Frequency: 10, Confidence: 0.5}
	target := "Coca Cola"

	moreFrequent := base
	moreFrequent.Frequency = 50
	require.GreaterOrEqual(t, Score(moreFrequent, target), Score(base, target))

	moreConfident := base
	moreConfident.Confidence = 0.9
	require.GreaterOrEqual(t, Score(moreConfident, target), Score(base, target))

	closerName := base
	closerName.Label = "Coca Cola"
	require.GreaterOrEqual(t, Score(closerName, target), Score(base, target))
}

func TestScore_FrequencySaturates(t *testing.T) {
	t.Parallel()

	at := Candidate{Label: "x", Frequency: 100, Confidence: 0}
	above := Candidate{Label: "x", Frequency: 100000, Confidence: 0}
	require.InDelta(t, Score(at, "x"), Score(above, "x"), 1e-9)
}

func TestScore_Bounds(t *testing.T) {
	t.Parallel()

	perfect := Candidate{Label: "Coca Cola", Frequency: 1000, Confidence: 1}
	require.InDelta(t, 1.0, Score(perfect, "Coca Cola"), 1e-9)

	worst := Candidate{Label: "abc", Frequency: 0, Confidence: 0}
	require.InDelta(t, 0.0, Score(worst, "xyz"), 1e-9)
}

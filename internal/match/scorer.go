package match

// Scoring weights. Name similarity dominates; extraction frequency saturates
// at 100 occurrences.
const (
	weightSimilarity = 0.5
	weightFrequency  = 0.2
	weightConfidence = 0.3

	frequencySaturation = 100.0
)

// Candidate is the extraction-side input to the confidence scorer.
type Candidate struct {
	Label      string
	Frequency  int
	Confidence float64
}

// Score blends name similarity, extraction frequency and extraction
// confidence into a single [0, 1] value used to rank candidate mappings.
func Score(c Candidate, targetName string) float64 {
	freq := float64(c.Frequency) / frequencySaturation
	if freq > 1 {
		freq = 1
	}
	if freq < 0 {
		freq = 0
	}
	conf := c.Confidence
	if conf > 1 {
		conf = 1
	}
	if conf < 0 {
		conf = 0
	}
	return weightSimilarity*Similarity(c.Label, targetName) +
		weightFrequency*freq +
		weightConfidence*conf
}

// Package facematch compares face encodings by cosine similarity and picks
// the enrolled identity a probe belongs to.
package facematch

import "math"

// normFloor keeps zero vectors from dividing by zero.
const normFloor = 1e-10

// Encoding is a fixed-length face descriptor produced by the encoder.
type Encoding []float32

// Candidate is an enrolled identity with its stored encodings.
type Candidate struct {
	ID        string
	Encodings []Encoding
}

// Result describes the outcome of matching one probe.
type Result struct {
	IdentityID string  `json:"identity_id"`
	Index      int     `json:"index"` // index of the closest stored encoding
	Similarity float64 `json:"similarity"`
	Distance   float64 `json:"distance"` // 1 - similarity, in [0, 2]
}

// Confidence expresses the similarity as a percentage rounded to two decimals.
func (r Result) Confidence() float64 {
	return math.Round((1-r.Distance)*100*100) / 100
}

// CosineSimilarity returns the cosine similarity of a and b over their common
// prefix. Each vector is divided by max(norm, 1e-10), so a zero vector yields 0.
func CosineSimilarity(a, b Encoding) float64 {
	n := min(len(a), len(b))
	if n == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range n {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	return dot / (math.Max(math.Sqrt(normA), normFloor) * math.Max(math.Sqrt(normB), normFloor))
}

// Compare finds the stored encoding most similar to probe. The earliest index
// wins ties. ok is true only when the best similarity is strictly greater than
// threshold; distance is reported either way.
func Compare(known []Encoding, probe Encoding, threshold float64) (index int, distance float64, ok bool) {
	if len(known) == 0 {
		return -1, 2, false
	}

	best := -1.0
	index = -1
	for i, enc := range known {
		sim := CosineSimilarity(enc, probe)
		if sim > best {
			best = sim
			index = i
		}
	}
	if index < 0 {
		// Nothing beat the -1 floor (exactly opposite or NaN).
		return -1, 2, false
	}

	return index, 1 - best, best > threshold
}

// MatchIdentities runs Compare against every candidate and returns the
// accepted candidate with the smallest distance. Candidates without encodings
// are skipped; the first one seen wins ties.
func MatchIdentities(probe Encoding, candidates []Candidate, threshold float64) (Result, bool) {
	var (
		best  Result
		found bool
	)
	for _, c := range candidates {
		if len(c.Encodings) == 0 {
			continue
		}
		idx, dist, ok := Compare(c.Encodings, probe, threshold)
		if !ok {
			continue
		}
		if !found || dist < best.Distance {
			best = Result{IdentityID: c.ID, Index: idx, Similarity: 1 - dist, Distance: dist}
			found = true
		}
	}
	return best, found
}

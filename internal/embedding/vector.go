package embedding

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrDimensionMismatch is returned when two vectors of different length are compared.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// ErrEmptyInput is returned by operations that need at least one vector.
var ErrEmptyInput = errors.New("no vectors given")

// Encode converts a float32 slice to bytes (little-endian).
func Encode(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// Decode converts bytes back to a float32 slice. Trailing bytes that do not
// form a full float are ignored.
func Decode(blob []byte) []float32 {
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec
}

// Norm computes the L2 norm of a vector.
func Norm(vec []float32) float64 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

// IsZero reports whether every component is zero. Empty vectors are zero.
func IsZero(vec []float32) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}

// Normalize returns a unit-length copy of vec. A zero vector is returned unchanged.
func Normalize(vec []float32) []float32 {
	out := make([]float32, len(vec))
	n := Norm(vec)
	if n == 0 {
		copy(out, vec)
		return out
	}
	for i, v := range vec {
		out[i] = float32(float64(v) / n)
	}
	return out
}

// CosineSimilarity computes cosine similarity between two vectors.
// Vectors of different length are a configuration error; a zero-magnitude
// vector has similarity 0 with everything.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// Centroid is the element-wise mean of vecs re-normalized to unit length.
// Empty input yields an empty vector.
func Centroid(vecs [][]float32) ([]float32, error) {
	if len(vecs) == 0 {
		return []float32{}, nil
	}
	dim := len(vecs[0])
	sum := make([]float64, dim)
	for _, v := range vecs {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(v), dim)
		}
		for i, x := range v {
			sum[i] += float64(x)
		}
	}
	mean := make([]float32, dim)
	for i, s := range sum {
		mean[i] = float32(s / float64(len(vecs)))
	}
	return Normalize(mean), nil
}

// Medoid returns the index of the member most similar to the centroid.
func Medoid(vecs [][]float32) (int, error) {
	if len(vecs) == 0 {
		return -1, ErrEmptyInput
	}
	centroid, err := Centroid(vecs)
	if err != nil {
		return -1, err
	}
	best, bestSim := 0, math.Inf(-1)
	for i, v := range vecs {
		sim, err := CosineSimilarity(v, centroid)
		if err != nil {
			return -1, err
		}
		if sim > bestSim {
			best, bestSim = i, sim
		}
	}
	return best, nil
}

// Ranked is a vector index with a score.
type Ranked struct {
	Index int
	Score float64
}

// Furthest ranks candidates by distance (1 - similarity) from target, furthest first.
// At most limit entries are returned; limit <= 0 returns all.
func Furthest(target []float32, candidates [][]float32, limit int) ([]Ranked, error) {
	ranked := make([]Ranked, 0, len(candidates))
	for i, c := range candidates {
		sim, err := CosineSimilarity(target, c)
		if err != nil {
			return nil, err
		}
		ranked = append(ranked, Ranked{Index: i, Score: 1 - sim})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

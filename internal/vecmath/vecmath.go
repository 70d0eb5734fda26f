// Package vecmath holds the numeric primitives used to score embedded memories.
package vecmath

import "math"

// Dot returns the sum of elementwise products. Vectors are expected to share a
// dimensionality; extra trailing components of the longer one are ignored.
func Dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var s float64
	for i := 0; i < n; i++ {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

// L2Norm returns the Euclidean length of v.
func L2Norm(v []float32) float64 {
	return math.Sqrt(Dot(v, v))
}

// CosineSimilarity scores a against b using norms computed ahead of time.
// A zero norm or a dimensionality mismatch yields 0 rather than an error.
func CosineSimilarity(a []float32, aNorm float64, b []float32, bNorm float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	denom := aNorm * bNorm
	if denom == 0 {
		return 0
	}
	return Dot(a, b) / denom
}

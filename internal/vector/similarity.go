package vector

// InnerProduct returns the dot product of a and b, or 0 when their lengths differ.
// For L2-normalised embeddings this is the cosine similarity.
func InnerProduct(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// CosineDistance converts a cosine similarity into a distance in [0, 2].
func CosineDistance(similarity float64) float64 {
	return 1 - similarity
}

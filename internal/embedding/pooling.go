package embedding

// Pooling selects how the model output becomes one sentence vector.
type Pooling string

const (
	// PoolingMean averages last_hidden_state over the attended tokens.
	PoolingMean Pooling = "mean"
	// PoolingNone reads an already pooled "output" tensor.
	PoolingNone Pooling = "none"
)

// outputName is the ONNX output the pooling mode reads.
func (p Pooling) outputName() string {
	if p == PoolingNone {
		return "output"
	}
	return "last_hidden_state"
}

// outputLen is the number of floats the output tensor holds for one input.
func (p Pooling) outputLen(maxTokens, dims int) int {
	if p == PoolingNone {
		return dims
	}
	return maxTokens * dims
}

// pool reduces raw model output to a dims-wide vector.
func (p Pooling) pool(out []float32, mask []int64, dims int) []float32 {
	if p == PoolingNone {
		vec := make([]float32, dims)
		copy(vec, out[:dims])
		return vec
	}
	return meanPool(out, mask, dims)
}

// meanPool averages the token rows of hidden whose mask entry is set.
func meanPool(hidden []float32, mask []int64, dims int) []float32 {
	vec := make([]float32, dims)
	var n float32
	for t, m := range mask {
		if m == 0 || (t+1)*dims > len(hidden) {
			continue
		}
		row := hidden[t*dims : (t+1)*dims]
		for i, v := range row {
			vec[i] += v
		}
		n++
	}
	if n == 0 {
		return vec
	}
	for i := range vec {
		vec[i] /= n
	}
	return vec
}

// cacheKey collapses whitespace so texts that tokenize identically share a cache entry.
func cacheKey(text string) string {
	return JoinWords(SplitWords(text))
}

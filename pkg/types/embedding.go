package types

// EmbeddingDimensions is the component count of every embedding the engine accepts.
const EmbeddingDimensions = 1536

// Embedding is a semantic vector for one entity's text. It is a value type:
// assigning or passing it copies all components, so a stored embedding can only
// be replaced wholesale.
type Embedding [EmbeddingDimensions]float64

// IsZero reports whether every component is zero.
func (e *Embedding) IsZero() bool {
	for _, x := range e {
		if x != 0 {
			return false
		}
	}
	return true
}

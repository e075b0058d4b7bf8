// Package embedding converts embeddings between the fixed-length array used at
// every API boundary and the bracketed text form used by storage adapters.
//
//	s := embedding.Encode(v)        // "[0.12,-0.5,...]"
//	v, err := embedding.Decode(s)   // CorruptEmbeddingError unless 1536 numbers
//
// Encode uses the shortest round-tripping float64 representation, so
// Decode(Encode(v)) == v bit for bit.
//
// The package also holds the cosine distance used by the in-memory vector index.
package embedding

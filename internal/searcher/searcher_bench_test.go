package searcher

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/dshills/contribrank/pkg/types"
)

// benchCorpus builds repositories with clustered embeddings and short descriptions.
func benchCorpus(n int) corpus {
	r := rand.New(rand.NewSource(1))
	words := []string{"graph", "database", "search", "engine", "router", "parser", "compiler", "queue", "cache", "index", "scheduler", "driver"}
	var c corpus
	for i := 0; i < n; i++ {
		var e types.Embedding
		center := i % 8
		for j := 0; j < 64; j++ {
			e[j] = r.NormFloat64() * 0.2
		}
		e[center] += 1
		c.repos = append(c.repos, &types.Repository{
			ID:          fmt.Sprintf("r%05d", i),
			Name:        fmt.Sprintf("project-%d", i),
			Description: words[r.Intn(len(words))] + " " + words[r.Intn(len(words))] + " " + words[r.Intn(len(words))],
			Language:    []string{"Go", "Rust", "Python"}[i%3],
			Stars:       r.Intn(5000),
			Embedding:   &e,
		})
	}
	return c
}

func setupSearchBenchmark(b *testing.B) (*Searcher, []float64) {
	b.Helper()
	c := benchCorpus(2000)
	s, _ := setupTestSearcher(b, c)
	return s, slice(c.repos[17].Embedding)
}

// BenchmarkHybridSearch benchmarks a full hybrid query (vector + trigram + merge)
func BenchmarkHybridSearch(b *testing.B) {
	s, query := setupSearchBenchmark(b)

	req := types.SearchRequest{
		EntityType:     types.EntityRepository,
		QueryText:      "graph database",
		QueryEmbedding: query,
		TextWeight:     0.3,
		VectorWeight:   0.7,
		Limit:          10,
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if _, err := s.HybridSearch(context.Background(), req); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkNearestByEmbedding benchmarks the vector lookup alone
func BenchmarkNearestByEmbedding(b *testing.B) {
	s, query := setupSearchBenchmark(b)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if _, err := s.NearestByEmbedding(context.Background(), types.EntityRepository, query, 10, 0); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkLexicalScore benchmarks trigram scoring of a whole partition
func BenchmarkLexicalScore(b *testing.B) {
	s, _ := setupSearchBenchmark(b)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if _, err := s.LexicalScore(context.Background(), types.EntityRepository, "search engine"); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkSearchLimits benchmarks different result limits
func BenchmarkSearchLimits(b *testing.B) {
	s, query := setupSearchBenchmark(b)

	for _, limit := range []int{1, 10, 50, 100} {
		b.Run(fmt.Sprintf("%03d_results", limit), func(b *testing.B) {
			req := types.SearchRequest{
				EntityType:     types.EntityRepository,
				QueryText:      "cache driver",
				QueryEmbedding: query,
				TextWeight:     0.5,
				VectorWeight:   0.5,
				Limit:          limit,
			}

			b.ResetTimer()
			b.ReportAllocs()

			for i := 0; i < b.N; i++ {
				if _, err := s.HybridSearch(context.Background(), req); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkFilteredSearch benchmarks a query whose filters resolve to a candidate scope
func BenchmarkFilteredSearch(b *testing.B) {
	s, query := setupSearchBenchmark(b)
	minStars := 2500

	req := types.SearchRequest{
		EntityType:     types.EntityRepository,
		QueryText:      "router",
		QueryEmbedding: query,
		TextWeight:     0.5,
		VectorWeight:   0.5,
		Limit:          10,
		Filters:        types.Filters{Language: "go", MinStars: &minStars},
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if _, err := s.HybridSearch(context.Background(), req); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkRank benchmarks merging and ordering candidate lists
func BenchmarkRank(b *testing.B) {
	r := rand.New(rand.NewSource(3))
	vector := make([]types.Neighbor, 400)
	for i := range vector {
		vector[i] = types.Neighbor{ID: fmt.Sprintf("e%04d", i), Distance: r.Float64() * 2}
	}
	lexical := make([]types.LexicalMatch, 1000)
	for i := range lexical {
		lexical[i] = types.LexicalMatch{ID: fmt.Sprintf("e%04d", r.Intn(2000)), Similarity: r.Float64()}
	}
	w := Weights{Text: 0.4, Vector: 0.6}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_ = Rank(vector, lexical, w, 0, 10)
	}
}

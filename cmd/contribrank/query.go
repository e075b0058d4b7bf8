package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/contribrank/pkg/types"
)

var (
	searchType          string
	searchText          string
	searchEmbeddingFile string
	searchTextWeight    float64
	searchVectorWeight  float64
	searchEfSearch      int
	minScore            float64
	limit               int

	filterLanguage   string
	filterDifficulty string
	filterMinStars   int
	filterActiveOnly bool
	filterSkills     []string
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Run a hybrid search and print the ranked results as JSON",
	RunE:  runSearch,
}

var matchCmd = &cobra.Command{
	Use:   "match <user-id>",
	Short: "Recommend open opportunities for a stored user",
	Args:  cobra.ExactArgs(1),
	RunE:  runMatch,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the store strategy and entity counts",
	RunE:  runStatus,
}

func init() {
	searchCmd.Flags().StringVarP(&searchType, "type", "t", string(types.EntityRepository), "entity type: repository, opportunity or user")
	searchCmd.Flags().StringVarP(&searchText, "query", "q", "", "query text")
	searchCmd.Flags().StringVar(&searchEmbeddingFile, "embedding", "", "file holding the query embedding (JSON array or text encoding)")
	searchCmd.Flags().Float64Var(&searchTextWeight, "text-weight", 0.5, "weight of text similarity")
	searchCmd.Flags().Float64Var(&searchVectorWeight, "vector-weight", 0.5, "weight of vector similarity")
	searchCmd.Flags().IntVar(&searchEfSearch, "ef-search", 0, "vector search breadth (0 uses the configured default)")

	for _, cmd := range []*cobra.Command{searchCmd, matchCmd} {
		cmd.Flags().Float64Var(&minScore, "min-score", 0, "drop results scoring below this value")
		cmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum number of results")
		cmd.Flags().StringVar(&filterLanguage, "language", "", "filter by language")
		cmd.Flags().StringVar(&filterDifficulty, "difficulty", "", "filter opportunities by difficulty")
		cmd.Flags().IntVar(&filterMinStars, "min-stars", -1, "filter by minimum repository stars")
		cmd.Flags().BoolVar(&filterActiveOnly, "active-only", false, "exclude archived repositories and closed opportunities")
		cmd.Flags().StringSliceVar(&filterSkills, "skill", nil, "required skill (repeatable)")
	}

	rootCmd.AddCommand(searchCmd, matchCmd, statusCmd)
}

func flagFilters() (types.Filters, error) {
	f := types.Filters{
		Language:       filterLanguage,
		ActiveOnly:     filterActiveOnly,
		SkillsRequired: filterSkills,
	}
	if filterDifficulty != "" {
		d, err := types.ParseDifficulty(filterDifficulty)
		if err != nil {
			return f, err
		}
		f.Difficulty = d
	}
	if filterMinStars >= 0 {
		stars := filterMinStars
		f.MinStars = &stars
	}
	return f, nil
}

// readEmbedding loads a query embedding. The bracketed storage encoding is
// also a JSON array, so both forms parse the same way.
func readEmbedding(path string) ([]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedding: %w", err)
	}
	var v []float64
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, &types.InvalidArgumentError{Field: "embedding", Reason: err.Error()}
	}
	return v, nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	entityType, err := types.ParseEntityType(searchType)
	if err != nil {
		return err
	}
	filters, err := flagFilters()
	if err != nil {
		return err
	}
	var queryEmbedding []float64
	if searchEmbeddingFile != "" {
		if queryEmbedding, err = readEmbedding(searchEmbeddingFile); err != nil {
			return err
		}
	}

	eng, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()

	results, err := eng.Searcher().HybridSearch(ctx, types.SearchRequest{
		EntityType:     entityType,
		QueryText:      searchText,
		QueryEmbedding: queryEmbedding,
		TextWeight:     searchTextWeight,
		VectorWeight:   searchVectorWeight,
		MinScore:       minScore,
		Limit:          limit,
		Filters:        filters,
		EfSearch:       searchEfSearch,
	})
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), results)
}

func runMatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	filters, err := flagFilters()
	if err != nil {
		return err
	}

	eng, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()

	results, err := eng.Matcher().MatchOpportunitiesForUser(ctx, types.MatchRequest{
		UserID:   args[0],
		MinScore: minScore,
		Limit:    limit,
		Filters:  filters,
	})
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), results)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	eng, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()

	status, err := eng.Status(ctx)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), status)
}

package mcp

import (
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/contribrank/pkg/types"
)

var entityTypeEnum = []string{string(types.EntityRepository), string(types.EntityOpportunity), string(types.EntityUser)}

func filtersSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":        "object",
		"description": "Optional filters applied before ranking. Unknown keys are rejected.",
		"properties": map[string]interface{}{
			types.FilterLanguage: map[string]interface{}{
				"type":        "string",
				"description": "Primary language (case-insensitive)",
			},
			types.FilterDifficulty: map[string]interface{}{
				"type":        "string",
				"description": "Opportunity difficulty",
				"enum":        []string{string(types.DifficultyBeginner), string(types.DifficultyIntermediate), string(types.DifficultyAdvanced)},
			},
			types.FilterMinStars: map[string]interface{}{
				"type":        "integer",
				"description": "Minimum repository stars",
				"minimum":     0,
			},
			types.FilterActiveOnly: map[string]interface{}{
				"type":        "boolean",
				"description": "Exclude archived repositories and closed opportunities",
			},
			types.FilterSkillsRequired: map[string]interface{}{
				"type":        "array",
				"description": "Skills (or repository topics) the entity must all carry",
				"items": map[string]interface{}{
					"type": "string",
				},
			},
		},
	}
}

func embeddingSchema(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "array",
		"description": description,
		"minItems":    types.EmbeddingDimensions,
		"maxItems":    types.EmbeddingDimensions,
		"items": map[string]interface{}{
			"type": "number",
		},
	}
}

// limitSchema describes a result count. The tools cap it at maxLimit; the
// searcher itself accepts any positive limit.
func limitSchema(description string, def int) map[string]interface{} {
	return map[string]interface{}{
		"type":        "integer",
		"description": fmt.Sprintf("%s (1 to %d)", description, maxLimit),
		"default":     def,
		"minimum":     1,
		"maximum":     maxLimit,
	}
}

// hybridSearchTool returns the tool definition for hybrid_search
func hybridSearchTool() mcp.Tool {
	return mcp.Tool{
		Name:        "hybrid_search",
		Description: "Rank repositories, opportunities or users by a weighted blend of embedding similarity and fuzzy text similarity",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"entity_type": map[string]interface{}{
					"type":        "string",
					"description": "Partition to search",
					"enum":        entityTypeEnum,
				},
				"query_text": map[string]interface{}{
					"type":        "string",
					"description": "Free text matched against names, descriptions and skills",
				},
				"query_embedding": embeddingSchema("Optional query embedding; omit to rank by text only"),
				"text_weight": map[string]interface{}{
					"type":        "number",
					"description": "Weight of text similarity",
					"default":     0.5,
					"minimum":     0,
				},
				"vector_weight": map[string]interface{}{
					"type":        "number",
					"description": "Weight of vector similarity",
					"default":     0.5,
					"minimum":     0,
				},
				"min_score": map[string]interface{}{
					"type":        "number",
					"description": "Drop results whose combined score is below this value",
					"default":     0,
				},
				"limit": limitSchema("Maximum number of results", defaultLimit),
				"ef_search": map[string]interface{}{
					"type":        "integer",
					"description": "Override the vector search breadth (0 uses the configured default)",
					"minimum":     0,
				},
				"filters": filtersSchema(),
			},
			Required: []string{"entity_type"},
		},
	}
}

// matchOpportunitiesTool returns the tool definition for match_opportunities
func matchOpportunitiesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "match_opportunities",
		Description: "Recommend open contribution opportunities for a user profile",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"user_id": map[string]interface{}{
					"type":        "string",
					"description": "Id of a stored user profile",
				},
				"min_score": map[string]interface{}{
					"type":        "number",
					"description": "Drop opportunities whose combined score is below this value",
					"default":     0,
				},
				"limit":   limitSchema("Maximum number of opportunities", defaultLimit),
				"filters": filtersSchema(),
			},
			Required: []string{"user_id"},
		},
	}
}

// nearestByEmbeddingTool returns the tool definition for nearest_by_embedding
func nearestByEmbeddingTool() mcp.Tool {
	return mcp.Tool{
		Name:        "nearest_by_embedding",
		Description: "Find the entities whose embeddings are closest to a query embedding by cosine distance",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"entity_type": map[string]interface{}{
					"type":        "string",
					"description": "Partition to search",
					"enum":        entityTypeEnum,
				},
				"embedding": embeddingSchema("Query embedding"),
				"k":         limitSchema("Number of neighbors", defaultLimit),
				"ef_search": map[string]interface{}{
					"type":        "integer",
					"description": "Override the vector search breadth (0 uses the configured default)",
					"minimum":     0,
				},
			},
			Required: []string{"entity_type", "embedding"},
		},
	}
}

// lexicalScoreTool returns the tool definition for lexical_score
func lexicalScoreTool() mcp.Tool {
	return mcp.Tool{
		Name:        "lexical_score",
		Description: "Score every entity of a partition by fuzzy trigram similarity to a text, with exact phrase matches boosted",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"entity_type": map[string]interface{}{
					"type":        "string",
					"description": "Partition to score",
					"enum":        entityTypeEnum,
				},
				"query_text": map[string]interface{}{
					"type":        "string",
					"description": "Text to match",
				},
				"limit": limitSchema("Maximum number of matches returned", maxLimit),
			},
			Required: []string{"entity_type", "query_text"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report the store strategy and entity counts per partition",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

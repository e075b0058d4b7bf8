package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/contribrank/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams     = -32602 // Invalid method parameters
	ErrorCodeInternalError     = -32603 // Internal JSON-RPC error
	ErrorCodeNotFound          = -32001 // Referenced entity does not exist
	ErrorCodeDimensionMismatch = -32002 // Embedding has the wrong number of components
	ErrorCodeTimeout           = -32003 // Query exceeded its execution budget
	ErrorCodeIndexUnavailable  = -32004 // Backing index cannot be reached
	ErrorCodeCorruptEmbedding  = -32005 // Stored embedding does not decode
)

const (
	defaultLimit = 10
	maxLimit     = 100
)

// handleHybridSearch handles the hybrid_search tool invocation
func (s *Server) handleHybridSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	entityType, err := getEntityType(args)
	if err != nil {
		return nil, toMCPError(err)
	}
	limit, err := getLimit(args, "limit", defaultLimit)
	if err != nil {
		return nil, toMCPError(err)
	}
	queryEmbedding, err := getFloatSlice(args, "query_embedding")
	if err != nil {
		return nil, toMCPError(err)
	}
	filters, err := getFilters(args)
	if err != nil {
		return nil, toMCPError(err)
	}

	req := types.SearchRequest{
		EntityType:     entityType,
		QueryText:      getStringDefault(args, "query_text", ""),
		QueryEmbedding: queryEmbedding,
		Limit:          limit,
		Filters:        filters,
	}
	if req.TextWeight, err = getFloatDefault(args, "text_weight", 0.5); err != nil {
		return nil, toMCPError(err)
	}
	if req.VectorWeight, err = getFloatDefault(args, "vector_weight", 0.5); err != nil {
		return nil, toMCPError(err)
	}
	if req.MinScore, err = getFloatDefault(args, "min_score", 0); err != nil {
		return nil, toMCPError(err)
	}
	if req.EfSearch, err = getIntDefault(args, "ef_search", 0); err != nil {
		return nil, toMCPError(err)
	}

	start := time.Now()
	results, err := s.engine.Searcher().HybridSearch(ctx, req)
	if err != nil {
		return nil, s.fail("hybrid_search", err)
	}

	response := map[string]interface{}{
		"entity_type": entityType,
		"results":     results,
		"count":       len(results),
		"duration_ms": time.Since(start).Milliseconds(),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleMatchOpportunities handles the match_opportunities tool invocation
func (s *Server) handleMatchOpportunities(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	userID, ok := args["user_id"].(string)
	if !ok || userID == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "user_id parameter is required", map[string]interface{}{
			"param":  "user_id",
			"reason": "missing or empty",
		})
	}
	limit, err := getLimit(args, "limit", defaultLimit)
	if err != nil {
		return nil, toMCPError(err)
	}
	filters, err := getFilters(args)
	if err != nil {
		return nil, toMCPError(err)
	}
	minScore, err := getFloatDefault(args, "min_score", 0)
	if err != nil {
		return nil, toMCPError(err)
	}

	start := time.Now()
	results, err := s.engine.Matcher().MatchOpportunitiesForUser(ctx, types.MatchRequest{
		UserID:   userID,
		MinScore: minScore,
		Limit:    limit,
		Filters:  filters,
	})
	if err != nil {
		return nil, s.fail("match_opportunities", err)
	}

	response := map[string]interface{}{
		"user_id":     userID,
		"results":     results,
		"count":       len(results),
		"duration_ms": time.Since(start).Milliseconds(),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleNearestByEmbedding handles the nearest_by_embedding tool invocation
func (s *Server) handleNearestByEmbedding(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	entityType, err := getEntityType(args)
	if err != nil {
		return nil, toMCPError(err)
	}
	vector, err := getFloatSlice(args, "embedding")
	if err != nil {
		return nil, toMCPError(err)
	}
	if vector == nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "embedding parameter is required", map[string]interface{}{
			"param":  "embedding",
			"reason": "missing or empty",
		})
	}
	k, err := getLimit(args, "k", defaultLimit)
	if err != nil {
		return nil, toMCPError(err)
	}
	efSearch, err := getIntDefault(args, "ef_search", 0)
	if err != nil {
		return nil, toMCPError(err)
	}

	neighbors, err := s.engine.Searcher().NearestByEmbedding(ctx, entityType, vector, k, efSearch)
	if err != nil {
		return nil, s.fail("nearest_by_embedding", err)
	}

	response := map[string]interface{}{
		"entity_type": entityType,
		"neighbors":   neighbors,
		"count":       len(neighbors),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleLexicalScore handles the lexical_score tool invocation
func (s *Server) handleLexicalScore(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	entityType, err := getEntityType(args)
	if err != nil {
		return nil, toMCPError(err)
	}
	queryText, ok := args["query_text"].(string)
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "query_text parameter is required", map[string]interface{}{
			"param":  "query_text",
			"reason": "missing",
		})
	}
	limit, err := getLimit(args, "limit", maxLimit)
	if err != nil {
		return nil, toMCPError(err)
	}

	matches, err := s.engine.Searcher().LexicalScore(ctx, entityType, queryText)
	if err != nil {
		return nil, s.fail("lexical_score", err)
	}
	total := len(matches)
	if len(matches) > limit {
		matches = matches[:limit]
	}

	response := map[string]interface{}{
		"entity_type": entityType,
		"matches":     matches,
		"count":       len(matches),
		"total":       total,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.engine.Status(ctx)
	if err != nil {
		return nil, s.fail("get_status", err)
	}

	response := map[string]interface{}{
		"strategy":       status.Strategy,
		"build_mode":     status.BuildMode,
		"uptime_seconds": int64(status.Uptime.Seconds()),
		"store":          status.Store,
	}
	if status.Driver != "" {
		response["driver"] = status.Driver
	}
	if status.Indexed != nil {
		response["indexed"] = status.Indexed
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// fail logs an engine failure and converts it into an MCPError
func (s *Server) fail(tool string, err error) error {
	mcpErr := toMCPError(err)
	level := slog.LevelDebug
	if mcpErr.Code == ErrorCodeInternalError || mcpErr.Code == ErrorCodeIndexUnavailable || mcpErr.Code == ErrorCodeCorruptEmbedding {
		level = slog.LevelError
	}
	s.logger.Log(context.Background(), level, "tool call failed",
		slog.String("tool", tool),
		slog.String("error_id", uuid.NewString()),
		slog.Int("code", mcpErr.Code),
		slog.Any("error", err))
	return mcpErr
}

// toMCPError maps the engine's error kinds onto MCP error codes
func toMCPError(err error) *MCPError {
	data := map[string]interface{}{
		"error":     err.Error(),
		"retryable": types.IsRetryable(err),
	}

	var dimErr *types.DimensionError
	var argErr *types.InvalidArgumentError
	switch {
	case errors.As(err, &dimErr):
		data["got"] = dimErr.Got
		data["want"] = types.EmbeddingDimensions
		return &MCPError{Code: ErrorCodeDimensionMismatch, Message: "embedding dimension mismatch", Data: data}
	case errors.As(err, &argErr):
		data["param"] = argErr.Field
		data["reason"] = argErr.Reason
		return &MCPError{Code: ErrorCodeInvalidParams, Message: "invalid " + argErr.Field, Data: data}
	case errors.Is(err, types.ErrNotFound):
		return &MCPError{Code: ErrorCodeNotFound, Message: err.Error(), Data: data}
	case errors.Is(err, types.ErrTimeout):
		return &MCPError{Code: ErrorCodeTimeout, Message: "query timed out", Data: data}
	case errors.Is(err, types.ErrIndexUnavailable):
		return &MCPError{Code: ErrorCodeIndexUnavailable, Message: "index unavailable", Data: data}
	case errors.Is(err, types.ErrCorruptEmbedding):
		return &MCPError{Code: ErrorCodeCorruptEmbedding, Message: "corrupt stored embedding", Data: data}
	}
	return &MCPError{Code: ErrorCodeInternalError, Message: "internal error", Data: data}
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getEntityType extracts and parses the required entity_type parameter
func getEntityType(args map[string]interface{}) (types.EntityType, error) {
	raw, ok := args["entity_type"].(string)
	if !ok || raw == "" {
		return "", &types.InvalidArgumentError{Field: "entity_type", Reason: "missing or empty"}
	}
	return types.ParseEntityType(raw)
}

// getLimit extracts a positive integer parameter capped at maxLimit
func getLimit(args map[string]interface{}, key string, defaultValue int) (int, error) {
	n, err := getIntDefault(args, key, defaultValue)
	if err != nil {
		return 0, err
	}
	if n < 1 || n > maxLimit {
		return 0, &types.InvalidArgumentError{Field: key, Reason: fmt.Sprintf("must be between 1 and %d, got %d", maxLimit, n)}
	}
	return n, nil
}

// getFilters parses the optional filters object
func getFilters(args map[string]interface{}) (types.Filters, error) {
	raw, present := args["filters"]
	if !present || raw == nil {
		return types.Filters{}, nil
	}
	m, ok := raw.(map[string]interface{})
	if !ok {
		return types.Filters{}, &types.InvalidArgumentError{Field: "filters", Reason: "must be an object"}
	}
	return types.ParseFilters(m)
}

// getFloatSlice extracts an optional array of numbers. Absent means nil.
func getFloatSlice(args map[string]interface{}, key string) ([]float64, error) {
	raw, present := args[key]
	if !present || raw == nil {
		return nil, nil
	}
	switch v := raw.(type) {
	case []float64:
		return v, nil
	case []interface{}:
		out := make([]float64, len(v))
		for i, x := range v {
			f, ok := x.(float64)
			if !ok {
				return nil, &types.InvalidArgumentError{Field: key, Reason: fmt.Sprintf("component %d is not a number", i)}
			}
			out[i] = f
		}
		return out, nil
	}
	return nil, &types.InvalidArgumentError{Field: key, Reason: "must be an array of numbers"}
}

// getFloatDefault extracts an optional number parameter. Absent or null
// yields the default; any other non-number is rejected.
func getFloatDefault(args map[string]interface{}, key string, defaultValue float64) (float64, error) {
	switch val := args[key].(type) {
	case nil:
		return defaultValue, nil
	case float64:
		return val, nil
	case int:
		return float64(val), nil
	}
	return 0, &types.InvalidArgumentError{Field: key, Reason: fmt.Sprintf("must be a number, got %T", args[key])}
}

// getIntDefault extracts an optional integer parameter. JSON numbers arrive
// as float64, so fractional values are rejected rather than truncated.
func getIntDefault(args map[string]interface{}, key string, defaultValue int) (int, error) {
	switch val := args[key].(type) {
	case nil:
		return defaultValue, nil
	case int:
		return val, nil
	case float64:
		if val != math.Trunc(val) || math.Abs(val) > math.MaxInt32 {
			return 0, &types.InvalidArgumentError{Field: key, Reason: fmt.Sprintf("must be an integer, got %v", val)}
		}
		return int(val), nil
	}
	return 0, &types.InvalidArgumentError{Field: key, Reason: fmt.Sprintf("must be an integer, got %T", args[key])}
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// Package mcp implements the Model Context Protocol (MCP) server for contribrank.
//
// The MCP server exposes five tools:
//   - hybrid_search: rank one partition by blended vector and text similarity
//   - match_opportunities: recommend open opportunities for a stored user
//   - nearest_by_embedding: k nearest entities to an embedding
//   - lexical_score: fuzzy text similarity over one partition
//   - get_status: store strategy and entity counts
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// # Basic Usage
//
// The MCP server is typically started via the serve command:
//
//	contribrank serve
//
// It then listens on stdin for MCP protocol messages and writes responses to stdout.
//
// # Tool: hybrid_search
//
//	Request:
//	{
//	  "name": "hybrid_search",
//	  "arguments": {
//	    "entity_type": "repository",
//	    "query_text": "graph database",
//	    "query_embedding": [0.012, -0.004, ...],
//	    "text_weight": 0.3,
//	    "vector_weight": 0.7,
//	    "min_score": 0.2,
//	    "limit": 10,
//	    "filters": {"language": "go", "minStars": 100}
//	  }
//	}
//
//	Response:
//	{
//	  "count": 1,
//	  "entity_type": "repository",
//	  "results": [
//	    {
//	      "entity_id": "r42",
//	      "vector_distance": 0.18,
//	      "text_similarity": 0.72,
//	      "combined_score": 0.8529
//	    }
//	  ]
//	}
//
// vector_distance and text_similarity are null when the entity had no hit
// from that source. Results are ordered by combined_score, ties by entity_id.
//
// limit and k accept integers from 1 to 100 on every tool. Numeric arguments
// of the wrong type, and fractional counts, are rejected as invalid params.
//
// # Tool: match_opportunities
//
//	{
//	  "name": "match_opportunities",
//	  "arguments": {"user_id": "u7", "limit": 5, "filters": {"difficulty": "beginner"}}
//	}
//
// Only open opportunities of the user's declared contribution types are
// considered.
//
// # Error Handling
//
// Tool failures are returned as MCPError values:
//
//	{
//	  "code": -32002,
//	  "message": "embedding dimension mismatch",
//	  "data": {"got": 1500, "want": 1536, "retryable": false, "error": "..."}
//	}
//
// Error codes:
//   - -32602: invalid params (missing, ill-typed or out of range arguments, unknown filter keys)
//   - -32603: internal error
//   - -32001: user not found
//   - -32002: embedding dimension mismatch
//   - -32003: query timed out
//   - -32004: index unavailable
//   - -32005: corrupt stored embedding
//
// # Logging
//
// The server logs through slog to stderr; stdout is reserved for the protocol.
package mcp

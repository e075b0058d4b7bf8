package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dshills/contribrank/internal/embedding"
	"github.com/dshills/contribrank/pkg/types"
)

// maxRecordSize bounds one JSONL line. A 1536-dimension embedding in decimal
// text needs roughly 40KB.
const maxRecordSize = 4 << 20

// SeedStats counts the records applied by Seed.
type SeedStats struct {
	Records  map[types.EntityType]int `json:"records"`
	Deleted  int                      `json:"deleted"`
	Duration time.Duration            `json:"-"`
}

// header holds the fields shared by every record kind.
type header struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Delete    bool            `json:"delete"`
	Embedding json.RawMessage `json:"embedding"`
}

// Seed loads JSON lines into the store and refreshes the indexes for each
// record. Every line is an object with a "type" of repository, opportunity or
// user, the entity's fields and an optional "embedding", given either as a
// number array or in the bracketed codec form. "delete": true removes the
// entity instead. Blank lines are skipped.
//
// Seed stops at the first malformed line and reports its line number; lines
// before it stay applied.
func (e *Engine) Seed(ctx context.Context, r io.Reader) (*SeedStats, error) {
	start := time.Now()
	stats := &SeedStats{Records: make(map[types.EntityType]int)}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxRecordSize)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		entityType, id, deleted, err := e.applyRecord(ctx, raw)
		if err != nil {
			return stats, fmt.Errorf("line %d: %w", line, err)
		}
		if err := e.Refresh(ctx, entityType, id); err != nil {
			return stats, fmt.Errorf("line %d: failed to refresh indexes: %w", line, err)
		}
		if deleted {
			stats.Deleted++
		} else {
			stats.Records[entityType]++
		}
	}
	if err := sc.Err(); err != nil {
		return stats, fmt.Errorf("line %d: %w", line+1, err)
	}

	stats.Duration = time.Since(start)
	e.logger.Info("seed complete",
		slog.Int("repositories", stats.Records[types.EntityRepository]),
		slog.Int("opportunities", stats.Records[types.EntityOpportunity]),
		slog.Int("users", stats.Records[types.EntityUser]),
		slog.Int("deleted", stats.Deleted),
		slog.Duration("duration", stats.Duration))
	return stats, nil
}

func (e *Engine) applyRecord(ctx context.Context, raw []byte) (types.EntityType, string, bool, error) {
	var h header
	if err := json.Unmarshal(raw, &h); err != nil {
		return "", "", false, &types.InvalidArgumentError{Field: "record", Reason: err.Error()}
	}
	entityType, err := types.ParseEntityType(h.Type)
	if err != nil {
		return "", "", false, err
	}
	if h.ID == "" {
		return "", "", false, &types.InvalidArgumentError{Field: "id", Reason: "must not be empty"}
	}
	if h.Delete {
		return entityType, h.ID, true, e.store.DeleteEntity(ctx, entityType, h.ID)
	}

	emb, err := parseEmbedding(h.Embedding)
	if err != nil {
		return "", "", false, err
	}

	switch entityType {
	case types.EntityRepository:
		var rec types.Repository
		if err := json.Unmarshal(raw, &rec); err != nil {
			return "", "", false, &types.InvalidArgumentError{Field: "repository", Reason: err.Error()}
		}
		rec.Embedding = emb
		err = e.store.UpsertRepository(ctx, &rec)
	case types.EntityOpportunity:
		var rec types.Opportunity
		if err := json.Unmarshal(raw, &rec); err != nil {
			return "", "", false, &types.InvalidArgumentError{Field: "opportunity", Reason: err.Error()}
		}
		if rec.Difficulty, err = types.ParseDifficulty(string(rec.Difficulty)); err != nil {
			return "", "", false, err
		}
		rec.Embedding = emb
		err = e.store.UpsertOpportunity(ctx, &rec)
	case types.EntityUser:
		var rec types.UserProfile
		if err := json.Unmarshal(raw, &rec); err != nil {
			return "", "", false, &types.InvalidArgumentError{Field: "user", Reason: err.Error()}
		}
		rec.Embedding = emb
		err = e.store.UpsertUserProfile(ctx, &rec)
	}
	return entityType, h.ID, false, err
}

// parseEmbedding accepts a JSON number array or a codec string. Absent and
// null mean no embedding.
func parseEmbedding(raw json.RawMessage) (*types.Embedding, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var v types.Embedding
	if raw[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, &types.InvalidArgumentError{Field: "embedding", Reason: err.Error()}
		}
		decoded, err := embedding.Decode(text)
		if err != nil {
			return nil, err
		}
		v = decoded
	} else {
		var values []float64
		if err := json.Unmarshal(raw, &values); err != nil {
			return nil, &types.InvalidArgumentError{Field: "embedding", Reason: err.Error()}
		}
		converted, err := embedding.FromSlice(values)
		if err != nil {
			return nil, err
		}
		v = converted
	}
	return &v, nil
}

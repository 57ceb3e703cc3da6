package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/foldmarkets/settld/internal/domain"
)

// ProbabilityCache implements domain.ProbabilityCache using Redis hashes.
// Each pool's implied probability lives at "prob:{marketID}" (binary) or
// "prob:{marketID}:{answerID}" with fields "prob" and "ts" (Unix
// nanoseconds).
type ProbabilityCache struct {
	rdb *redis.Client
}

// NewProbabilityCache creates a ProbabilityCache backed by the given Client.
func NewProbabilityCache(c *Client) *ProbabilityCache {
	return &ProbabilityCache{rdb: c.Underlying()}
}

func probKey(marketID, answerID string) string {
	if answerID == "" {
		return "prob:" + marketID
	}
	return "prob:" + marketID + ":" + answerID
}

// SetProbability stores the latest implied probability for a pool.
func (pc *ProbabilityCache) SetProbability(ctx context.Context, marketID, answerID string, prob float64, ts time.Time) error {
	fields := map[string]interface{}{
		"prob": strconv.FormatFloat(prob, 'f', -1, 64),
		"ts":   strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := pc.rdb.HSet(ctx, probKey(marketID, answerID), fields).Err(); err != nil {
		return fmt.Errorf("redis: set probability %s: %w", marketID, err)
	}
	return nil
}

// GetProbability retrieves the latest implied probability for a pool. It
// returns domain.ErrNotFound when nothing is cached.
func (pc *ProbabilityCache) GetProbability(ctx context.Context, marketID, answerID string) (float64, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, probKey(marketID, answerID)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get probability %s: %w", marketID, err)
	}
	if len(vals) == 0 {
		return 0, time.Time{}, domain.ErrNotFound
	}

	probStr, ok := vals["prob"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	prob, err := strconv.ParseFloat(probStr, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse probability %s: %w", marketID, err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", marketID, err)
	}

	return prob, time.Unix(0, tsNano), nil
}

// Compile-time interface check.
var _ domain.ProbabilityCache = (*ProbabilityCache)(nil)

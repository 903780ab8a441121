// Package memory integrates the external memory graph: per-NPC action
// outcomes and decayed director confidence, persisted in Redis, with a
// bounded retry queue for deferred writes.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/neuralmesh/mesh/core"
)

// ActionOutcome is the record persisted after every pipeline run.
type ActionOutcome struct {
	NPCID     string    `json:"npcId"`
	EventType string    `json:"eventType"`
	Success   bool      `json:"success"`
	Magnitude float64   `json:"magnitude"`
	Timestamp time.Time `json:"timestamp"`
}

// Graph is the memory collaborator the pipeline persists into.
type Graph interface {
	RecordActionOutcome(ctx context.Context, outcome ActionOutcome) error
	// DirectorConfidence returns the decayed confidence for an NPC and
	// whether a value exists. The read must be cheap: one round trip.
	DirectorConfidence(ctx context.Context, npcID string) (float64, bool, error)
}

const (
	// outcomeHistoryLimit caps the per-NPC outcome list.
	outcomeHistoryLimit = 200

	// confidenceHalfLife is the decay half-life toward the neutral 0.5.
	confidenceHalfLife = time.Hour

	neutralConfidence = 0.5
)

// RedisGraph implements Graph on a Redis store.
type RedisGraph struct {
	client *redis.Client
	logger core.Logger
}

// NewRedisGraph connects to the Redis at url (redis:// form).
func NewRedisGraph(url string, logger core.Logger) (*RedisGraph, error) {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("%w: redis url: %v", core.ErrInvalidConfiguration, err)
	}
	return &RedisGraph{client: redis.NewClient(opts), logger: logger}, nil
}

// NewRedisGraphFromClient wraps an existing client; used by tests with
// miniredis.
func NewRedisGraphFromClient(client *redis.Client, logger core.Logger) *RedisGraph {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &RedisGraph{client: client, logger: logger}
}

func outcomesKey(npcID string) string {
	return "mesh:npc:" + npcID + ":outcomes"
}

func confidenceKey(npcID string) string {
	return "mesh:npc:" + npcID + ":confidence"
}

// RecordActionOutcome appends the outcome to the NPC's capped history and
// nudges director confidence: successes restore trust, vetoes and failures
// erode it in proportion to magnitude.
func (g *RedisGraph) RecordActionOutcome(ctx context.Context, outcome ActionOutcome) error {
	if outcome.NPCID == "" {
		// Outcomes without a subject are aggregate telemetry; nothing to key on.
		return nil
	}
	if outcome.Timestamp.IsZero() {
		outcome.Timestamp = time.Now()
	}

	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}

	pipe := g.client.TxPipeline()
	pipe.LPush(ctx, outcomesKey(outcome.NPCID), data)
	pipe.LTrim(ctx, outcomesKey(outcome.NPCID), 0, outcomeHistoryLimit-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: outcome write: %v", core.ErrUpstreamUnavailable, err)
	}

	return g.adjustConfidence(ctx, outcome)
}

func (g *RedisGraph) adjustConfidence(ctx context.Context, outcome ActionOutcome) error {
	current, _, err := g.DirectorConfidence(ctx, outcome.NPCID)
	if err != nil {
		return err
	}

	delta := 0.02
	if !outcome.Success {
		delta = -0.05 * math.Max(outcome.Magnitude, 0.2)
	}
	updated := clamp01(current + delta)

	err = g.client.HSet(ctx, confidenceKey(outcome.NPCID), map[string]interface{}{
		"value":      strconv.FormatFloat(updated, 'f', 6, 64),
		"updated_at": strconv.FormatInt(time.Now().UnixMilli(), 10),
	}).Err()
	if err != nil {
		return fmt.Errorf("%w: confidence write: %v", core.ErrUpstreamUnavailable, err)
	}
	return nil
}

// DirectorConfidence reads the stored confidence and applies exponential
// decay toward neutral based on the time since the last write.
func (g *RedisGraph) DirectorConfidence(ctx context.Context, npcID string) (float64, bool, error) {
	fields, err := g.client.HGetAll(ctx, confidenceKey(npcID)).Result()
	if err != nil {
		return neutralConfidence, false, fmt.Errorf("%w: confidence read: %v", core.ErrUpstreamUnavailable, err)
	}
	if len(fields) == 0 {
		return neutralConfidence, false, nil
	}

	value, err := strconv.ParseFloat(fields["value"], 64)
	if err != nil {
		return neutralConfidence, false, nil
	}
	updatedAtMs, err := strconv.ParseInt(fields["updated_at"], 10, 64)
	if err != nil {
		return clamp01(value), true, nil
	}

	elapsed := time.Since(time.UnixMilli(updatedAtMs))
	if elapsed <= 0 {
		return clamp01(value), true, nil
	}

	// Exponential decay toward neutral: after one half-life the stored
	// deviation from 0.5 has halved.
	factor := math.Pow(0.5, elapsed.Hours()/confidenceHalfLife.Hours())
	decayed := neutralConfidence + (value-neutralConfidence)*factor
	return clamp01(decayed), true, nil
}

// Ping verifies connectivity; used by the health aggregator.
func (g *RedisGraph) Ping(ctx context.Context) error {
	if err := g.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: redis ping: %v", core.ErrUpstreamUnavailable, err)
	}
	return nil
}

// Close releases the underlying client.
func (g *RedisGraph) Close() error {
	return g.client.Close()
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

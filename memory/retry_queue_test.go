package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingGraph applies ops in memory and can be made to fail.
type countingGraph struct {
	mu       sync.Mutex
	outcomes []ActionOutcome
	fail     bool
}

func (g *countingGraph) RecordActionOutcome(ctx context.Context, outcome ActionOutcome) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail {
		return errors.New("graph unavailable")
	}
	g.outcomes = append(g.outcomes, outcome)
	return nil
}

func (g *countingGraph) DirectorConfidence(ctx context.Context, npcID string) (float64, bool, error) {
	return 0.5, false, nil
}

func (g *countingGraph) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.outcomes)
}

func recordOp(npcID string) PersistOp {
	return func(ctx context.Context, graph Graph) error {
		return graph.RecordActionOutcome(ctx, ActionOutcome{NPCID: npcID, EventType: "test"})
	}
}

func TestEnqueueEvictsOldestAtCapacity(t *testing.T) {
	q := NewRetryQueue(WithCapacity(3))

	for i := 0; i < 4; i++ {
		q.Enqueue(recordOp("n"))
	}

	assert.Equal(t, 3, q.Size())
	assert.Equal(t, 1, q.Dropped())
}

func TestDrainValidDiscardsExpired(t *testing.T) {
	q := NewRetryQueue(WithMaxAge(100 * time.Millisecond))

	q.Enqueue(recordOp("old"))
	time.Sleep(150 * time.Millisecond)
	q.Enqueue(recordOp("fresh"))

	batch := q.DrainValid(time.Now())
	assert.Len(t, batch, 1)
	assert.Equal(t, 0, q.Size())
	assert.Equal(t, 1, q.Dropped())
}

func TestFlushAppliesAllOps(t *testing.T) {
	q := NewRetryQueue()
	graph := &countingGraph{}

	for i := 0; i < 5; i++ {
		q.Enqueue(recordOp("n"))
	}
	require.NoError(t, q.Flush(context.Background(), graph))

	assert.Equal(t, 5, graph.count())
	assert.Equal(t, 0, q.Size())
}

func TestFlushFailureReenqueuesRemainder(t *testing.T) {
	q := NewRetryQueue()
	graph := &countingGraph{fail: true}

	for i := 0; i < 3; i++ {
		q.Enqueue(recordOp("n"))
	}
	require.Error(t, q.Flush(context.Background(), graph))

	// Nothing applied, everything back at the tail.
	assert.Equal(t, 0, graph.count())
	assert.Equal(t, 3, q.Size())

	// Once the backend recovers, the retained ops drain.
	graph.fail = false
	require.NoError(t, q.Flush(context.Background(), graph))
	assert.Equal(t, 3, graph.count())
	assert.Equal(t, 0, q.Size())
}

func TestAutoFlushTimer(t *testing.T) {
	q := NewRetryQueue(WithFlushInterval(30 * time.Millisecond))
	graph := &countingGraph{}

	require.NoError(t, q.Start(graph))
	q.Enqueue(recordOp("n"))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && graph.count() == 0 {
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, 1, graph.count())

	require.NoError(t, q.DrainAndStop(graph))
}

func TestStartTwiceFails(t *testing.T) {
	q := NewRetryQueue(WithFlushInterval(time.Hour))
	graph := &countingGraph{}

	require.NoError(t, q.Start(graph))
	assert.Error(t, q.Start(graph))
	require.NoError(t, q.DrainAndStop(graph))
}

func TestDrainAndStopFlushesPending(t *testing.T) {
	// A long interval guarantees the timer never fires; DrainAndStop
	// still delivers the pending op.
	q := NewRetryQueue(WithFlushInterval(time.Hour))
	graph := &countingGraph{}

	require.NoError(t, q.Start(graph))
	q.Enqueue(recordOp("n"))
	require.NoError(t, q.DrainAndStop(graph))

	assert.Equal(t, 1, graph.count())
	assert.Equal(t, 0, q.Size())
}

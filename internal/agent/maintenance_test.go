package agent_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fieldops/assistant/internal/agent"
	"github.com/fieldops/assistant/internal/llm"
	"github.com/fieldops/assistant/internal/sse"
)

func TestMaintenanceRunsEnqueuedTasks(t *testing.T) {
	m := agent.NewMaintenance(nil)

	var ran atomic.Int32
	for range 3 {
		m.Enqueue(func(context.Context) { ran.Add(1) })
	}

	// Close drains the queue before returning.
	m.Close()
	assert.Equal(t, int32(3), ran.Load())
}

func TestMaintenanceTaskContextHasDeadline(t *testing.T) {
	m := agent.NewMaintenance(nil)

	deadline := make(chan bool, 1)
	m.Enqueue(func(ctx context.Context) {
		_, ok := ctx.Deadline()
		deadline <- ok
	})
	m.Close()

	assert.True(t, <-deadline)
}

func TestMaintenancePruneRunsAfterSessionCreate(t *testing.T) {
	m := agent.NewMaintenance(nil)
	store := newFakeStore()

	client := &scriptedClient{scripts: [][]llm.Chunk{textChunks("ครับ")}}
	a := newAgent(t, agent.Config{Client: client, Store: store, Maintenance: m})

	err := a.Respond(context.Background(), agent.Request{Query: "สวัสดีครับ", UserID: "user-1"},
		func(sse.Event) error { return nil })
	assert.NoError(t, err)

	m.Close()
	assert.Equal(t, 1, store.pruned)
}

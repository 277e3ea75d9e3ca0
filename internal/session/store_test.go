//go:build integration
// +build integration

package session_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldops/assistant/internal/compress"
	"github.com/fieldops/assistant/internal/llm"
	"github.com/fieldops/assistant/internal/memory"
	"github.com/fieldops/assistant/internal/session"
	"github.com/fieldops/assistant/internal/testutil"
)

func newStore(t *testing.T) (*session.Store, *testutil.TestDB) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	return session.NewStore(db.Pool, nil), db
}

func TestCreateAndGet(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, "user-1", "ตั๋วที่ Bangna", "gpt-4.1-mini")
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, created.ID)
	assert.Equal(t, "user-1", created.UserID)
	assert.Equal(t, "ตั๋วที่ Bangna", created.Title)
	assert.Zero(t, created.MessageCount)
	require.NotNil(t, created.EntityMemory)

	got, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, created.Title, got.Title)
}

func TestGetNotFound(t *testing.T) {
	store, _ := newStore(t)

	_, err := store.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestReuseWithinWindow(t *testing.T) {
	store, db := newStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, "user-1", "", "")
	require.NoError(t, err)

	reused, err := store.Reuse(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, reused)
	assert.Equal(t, created.ID, reused.ID)

	// A different user never reuses someone else's session.
	other, err := store.Reuse(ctx, "user-2")
	require.NoError(t, err)
	assert.Nil(t, other)

	// Age the session past the reuse window.
	_, err = db.Pool.Exec(ctx,
		`UPDATE chat_sessions SET updated_at = now() - interval '31 minutes' WHERE id = $1`,
		created.ID)
	require.NoError(t, err)

	stale, err := store.Reuse(ctx, "user-1")
	require.NoError(t, err)
	assert.Nil(t, stale)
}

func TestUpdateStateRoundTrip(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, "user-1", "", "")
	require.NoError(t, err)

	mem := memory.New()
	mem.Tickets["t-1"] = memory.Ticket{ID: "t-1", Number: "TK-1001", Status: "open"}
	mem.Preferences["likes"] = "morning visits"

	state := session.State{
		Title:     "AC repair at Bangna",
		ModelName: "gpt-4.1",
		Summary: compress.Summary{
			Topics:          []string{"tickets"},
			RecentSummaries: []string{"Q: หางาน | Tools: search_tickets | A: เจอ 1 งาน"},
		},
		EntityMemory: mem,
		InputTokens:  120,
		OutputTokens: 45,
	}
	require.NoError(t, store.UpdateState(ctx, created.ID, state))

	got, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "AC repair at Bangna", got.Title)
	assert.Equal(t, "gpt-4.1", got.ModelName)
	assert.Equal(t, state.Summary, got.Summary)
	assert.Equal(t, int64(120), got.InputTokens)
	assert.Equal(t, int64(45), got.OutputTokens)
	require.NotNil(t, got.EntityMemory)
	assert.Equal(t, "TK-1001", got.EntityMemory.Tickets["t-1"].Number)
	assert.Equal(t, "morning visits", got.EntityMemory.Preferences["likes"])
	assert.True(t, got.UpdatedAt.After(created.UpdatedAt) || got.UpdatedAt.Equal(created.UpdatedAt))
}

func TestUpdateStateNotFound(t *testing.T) {
	store, _ := newStore(t)

	err := store.UpdateState(context.Background(), uuid.New(), session.State{})
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestAppendMessagesSequencing(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, "user-1", "", "")
	require.NoError(t, err)

	first := []llm.Message{
		llm.UserMessage("หางานที่ Bangna"),
		llm.AssistantMessage("เจอ 2 งานครับ"),
	}
	require.NoError(t, store.AppendMessages(ctx, created.ID, first))

	second := []llm.Message{
		llm.UserMessage("อันแรกสถานะอะไร"),
		llm.AssistantMessage("เปิดอยู่ครับ"),
	}
	require.NoError(t, store.AppendMessages(ctx, created.ID, second))

	msgs, err := store.Messages(ctx, created.ID, session.MessageQuery{})
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	for i, msg := range msgs {
		assert.Equal(t, i+1, msg.SequenceNumber)
	}
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "หางานที่ Bangna", msgs[0].Content)

	got, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.MessageCount)
}

func TestAppendMessagesEmptyIsNoOp(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, "user-1", "", "")
	require.NoError(t, err)
	require.NoError(t, store.AppendMessages(ctx, created.ID, nil))

	got, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Zero(t, got.MessageCount)
}

func TestAppendMessagesSessionNotFound(t *testing.T) {
	store, _ := newStore(t)

	err := store.AppendMessages(context.Background(), uuid.New(),
		[]llm.Message{llm.UserMessage("hi")})
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestMessageQueryModes(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, "user-1", "", "")
	require.NoError(t, err)

	var batch []llm.Message
	for i := 1; i <= 60; i++ {
		batch = append(batch, llm.UserMessage(fmt.Sprintf("message %d", i)))
	}
	require.NoError(t, store.AppendMessages(ctx, created.ID, batch))

	t.Run("limit and offset", func(t *testing.T) {
		msgs, err := store.Messages(ctx, created.ID, session.MessageQuery{Limit: 10, Offset: 5})
		require.NoError(t, err)
		require.Len(t, msgs, 10)
		assert.Equal(t, 6, msgs[0].SequenceNumber)
		assert.Equal(t, 15, msgs[9].SequenceNumber)
	})

	t.Run("after sequence", func(t *testing.T) {
		msgs, err := store.Messages(ctx, created.ID, session.MessageQuery{AfterSequence: 55})
		require.NoError(t, err)
		require.Len(t, msgs, 5)
		assert.Equal(t, 56, msgs[0].SequenceNumber)
	})

	t.Run("recent window ascending", func(t *testing.T) {
		msgs, err := store.Messages(ctx, created.ID, session.MessageQuery{Recent: true})
		require.NoError(t, err)
		require.Len(t, msgs, session.RecentMessageWindow)
		assert.Equal(t, 11, msgs[0].SequenceNumber)
		assert.Equal(t, 60, msgs[len(msgs)-1].SequenceNumber)
	})
}

func TestHistoryRoundTripsToolCalls(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, "user-1", "", "")
	require.NoError(t, err)

	turn := []llm.Message{
		llm.UserMessage("หางานที่ site Bangna"),
		{
			Role: llm.RoleAssistant,
			ToolCalls: []llm.ToolCall{{
				ID:   "call_1",
				Type: "function",
				Function: llm.FunctionCall{
					Name:      "search_tickets",
					Arguments: `{"siteId":"site-1"}`,
				},
			}},
		},
		llm.ToolMessage("call_1", `{"success":true,"data":[]}`),
		llm.AssistantMessage("ไม่เจองานครับ"),
	}
	require.NoError(t, store.AppendMessages(ctx, created.ID, turn))

	history, err := store.History(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, llm.RoleUser, history[0].Role)
	require.Len(t, history[1].ToolCalls, 1)
	assert.Equal(t, "search_tickets", history[1].ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"siteId":"site-1"}`, history[1].ToolCalls[0].Function.Arguments)
	assert.Equal(t, "call_1", history[2].ToolCallID)
	assert.Equal(t, `{"success":true,"data":[]}`, history[2].Text())
}

func TestHistoryKeepsNewestPastLimit(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, "user-1", "", "")
	require.NoError(t, err)

	total := session.MaxMessageLimit + 10
	batch := make([]llm.Message, 0, total)
	for i := 1; i <= total; i++ {
		batch = append(batch, llm.UserMessage(fmt.Sprintf("message %d", i)))
	}
	require.NoError(t, store.AppendMessages(ctx, created.ID, batch))

	history, err := store.History(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, history, session.MaxMessageLimit)

	// The newest window survives, ascending; the oldest rows fall off.
	assert.Equal(t, "message 11", history[0].Text())
	assert.Equal(t, fmt.Sprintf("message %d", total), history[len(history)-1].Text())
}

func TestDeleteCascadesMessages(t *testing.T) {
	store, db := newStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, "user-1", "", "")
	require.NoError(t, err)
	require.NoError(t, store.AppendMessages(ctx, created.ID,
		[]llm.Message{llm.UserMessage("hi")}))

	require.NoError(t, store.Delete(ctx, created.ID))

	_, err = store.Get(ctx, created.ID)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)

	var count int
	require.NoError(t, db.Pool.QueryRow(ctx,
		`SELECT count(*) FROM chat_messages WHERE session_id = $1`, created.ID).Scan(&count))
	assert.Zero(t, count)
}

func TestDeleteAll(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	for range 3 {
		_, err := store.Create(ctx, "user-1", "", "")
		require.NoError(t, err)
	}
	_, err := store.Create(ctx, "user-2", "", "")
	require.NoError(t, err)

	deleted, err := store.DeleteAll(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)

	remaining, err := store.List(ctx, "user-2", 0, 0)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestPruneToQuota(t *testing.T) {
	store, db := newStore(t)
	ctx := context.Background()

	var ids []uuid.UUID
	for i := range session.SessionQuota + 3 {
		sess, err := store.Create(ctx, "user-1", fmt.Sprintf("session %d", i+1), "")
		require.NoError(t, err)
		// Spread updated_at so ordering is deterministic.
		_, err = db.Pool.Exec(ctx,
			`UPDATE chat_sessions SET updated_at = now() - ($2 || ' seconds')::interval WHERE id = $1`,
			sess.ID, (session.SessionQuota+3-i)*10)
		require.NoError(t, err)
		ids = append(ids, sess.ID)
	}

	pruned, err := store.PruneToQuota(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), pruned)

	remaining, err := store.List(ctx, "user-1", 100, 0)
	require.NoError(t, err)
	assert.Len(t, remaining, session.SessionQuota)

	// The oldest sessions are the ones that went.
	for _, old := range ids[:3] {
		_, err := store.Get(ctx, old)
		assert.ErrorIs(t, err, session.ErrSessionNotFound)
	}
}

func TestListOrdering(t *testing.T) {
	store, db := newStore(t)
	ctx := context.Background()

	a, err := store.Create(ctx, "user-1", "older", "")
	require.NoError(t, err)
	b, err := store.Create(ctx, "user-1", "newer", "")
	require.NoError(t, err)

	_, err = db.Pool.Exec(ctx,
		`UPDATE chat_sessions SET updated_at = now() - interval '5 minutes' WHERE id = $1`, a.ID)
	require.NoError(t, err)

	sessions, err := store.List(ctx, "user-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, b.ID, sessions[0].ID)
	assert.Equal(t, a.ID, sessions[1].ID)
}

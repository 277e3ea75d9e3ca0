package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorTextOnly(t *testing.T) {
	t.Parallel()

	c := NewCollector()
	c.Observe(Chunk{DeltaContent: "สวัสดี"})
	c.Observe(Chunk{DeltaContent: "ครับ"})
	c.Observe(Chunk{FinishReason: "stop", Usage: &Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}})

	assert.Equal(t, StateTextComplete, c.Finalize())
	assert.Equal(t, "สวัสดีครับ", c.Text())
	assert.Empty(t, c.ToolCalls())

	usage, ok := c.Usage()
	require.True(t, ok)
	assert.Equal(t, 15, usage.TotalTokens)
}

func TestCollectorAssemblesFragmentedToolCalls(t *testing.T) {
	t.Parallel()

	c := NewCollector()
	c.Observe(Chunk{DeltaToolCalls: []ToolCallDelta{
		{Index: 0, ID: "call_1", Name: "search_tickets", Arguments: `{"que`},
	}})
	c.Observe(Chunk{DeltaToolCalls: []ToolCallDelta{
		{Index: 0, Arguments: `ry":"ด่วน"}`},
		{Index: 1, ID: "call_2", Name: "get_site", Arguments: ""},
	}})
	c.Observe(Chunk{FinishReason: FinishToolCalls})

	assert.Equal(t, StateToolCallsPending, c.Finalize())

	calls := c.ToolCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "call_1", calls[0].ID)
	assert.Equal(t, "search_tickets", calls[0].Function.Name)
	assert.JSONEq(t, `{"query":"ด่วน"}`, calls[0].Function.Arguments)

	// Second call streamed no arguments; it still gets a valid empty object.
	assert.Equal(t, "{}", calls[1].Function.Arguments)
}

func TestCollectorDropsNamelessFragments(t *testing.T) {
	t.Parallel()

	c := NewCollector()
	c.Observe(Chunk{DeltaToolCalls: []ToolCallDelta{
		{Index: 0, ID: "call_1", Arguments: `{"a":1}`},
	}})
	c.Observe(Chunk{FinishReason: FinishToolCalls})

	assert.Equal(t, StateToolCallsPending, c.Finalize())
	assert.Empty(t, c.ToolCalls())
}

func TestCollectorToolFinishWithoutFragmentsIsTextComplete(t *testing.T) {
	t.Parallel()

	c := NewCollector()
	c.Observe(Chunk{DeltaContent: "no tools after all"})
	c.Observe(Chunk{FinishReason: FinishToolCalls})

	// The finish reason claims tool calls but none streamed; treat the turn
	// as plain text rather than entering a tool round with zero calls.
	assert.Equal(t, StateTextComplete, c.Finalize())
}

func TestCollectorOrdersCallsByIndex(t *testing.T) {
	t.Parallel()

	c := NewCollector()
	c.Observe(Chunk{DeltaToolCalls: []ToolCallDelta{
		{Index: 2, ID: "call_c", Name: "get_ticket", Arguments: "{}"},
		{Index: 0, ID: "call_a", Name: "search_sites", Arguments: "{}"},
		{Index: 1, ID: "call_b", Name: "search_tickets", Arguments: "{}"},
	}})
	c.Observe(Chunk{FinishReason: FinishToolCalls})
	c.Finalize()

	calls := c.ToolCalls()
	require.Len(t, calls, 3)
	assert.Equal(t, "call_a", calls[0].ID)
	assert.Equal(t, "call_b", calls[1].ID)
	assert.Equal(t, "call_c", calls[2].ID)
}

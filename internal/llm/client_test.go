package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func streamServer(t *testing.T, lines ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range lines {
			fmt.Fprintf(w, "%s\n\n", line)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func collectStream(t *testing.T, c *Client, req ChatRequest) ([]Chunk, error) {
	t.Helper()
	var chunks []Chunk
	for chunk, err := range c.Stream(context.Background(), req) {
		if err != nil {
			return chunks, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

func TestStreamParsesDeltas(t *testing.T) {
	t.Parallel()

	srv := streamServer(t,
		`data: {"choices":[{"delta":{"content":"hel"}}]}`,
		`data: {"choices":[{"delta":{"content":"lo"}}]}`,
		`data: {"choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":7,"completion_tokens":2,"total_tokens":9}}`,
		`data: [DONE]`,
	)
	c := NewClient(Config{BaseURL: srv.URL, APIKey: "test-key"}, nil)

	chunks, err := collectStream(t, c, ChatRequest{Model: "gpt-4o-mini"})
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	assert.Equal(t, "hel", chunks[0].DeltaContent)
	assert.Equal(t, "lo", chunks[1].DeltaContent)
	assert.Equal(t, "stop", chunks[2].FinishReason)
	require.NotNil(t, chunks[2].Usage)
	assert.Equal(t, 9, chunks[2].Usage.TotalTokens)
}

func TestStreamSkipsMalformedRecords(t *testing.T) {
	t.Parallel()

	srv := streamServer(t,
		`data: {not json`,
		`: comment line`,
		`data: {"choices":[{"delta":{"content":"ok"}}]}`,
	)
	c := NewClient(Config{BaseURL: srv.URL, APIKey: "test-key"}, nil)

	chunks, err := collectStream(t, c, ChatRequest{})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "ok", chunks[0].DeltaContent)
}

func TestStreamNonOKStatusIsUpstreamError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	c := NewClient(Config{BaseURL: srv.URL}, nil)

	_, err := collectStream(t, c, ChatRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstream)
	assert.Contains(t, err.Error(), "503")
}

func TestStreamToolCallFragments(t *testing.T) {
	t.Parallel()

	srv := streamServer(t,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"search_tickets","arguments":""}}]}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"query\":\"pm\"}"}}]}}]}`,
		`data: {"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
	)
	c := NewClient(Config{BaseURL: srv.URL, APIKey: "test-key"}, nil)

	chunks, err := collectStream(t, c, ChatRequest{})
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	collector := NewCollector()
	for _, chunk := range chunks {
		collector.Observe(chunk)
	}
	require.Equal(t, StateToolCallsPending, collector.Finalize())

	calls := collector.ToolCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "search_tickets", calls[0].Function.Name)
	assert.JSONEq(t, `{"query":"pm"}`, calls[0].Function.Arguments)
}

func TestCompleteDecodesResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"done"},"finish_reason":"stop"}],"usage":{"total_tokens":4}}`)
	}))
	t.Cleanup(srv.Close)
	c := NewClient(Config{BaseURL: srv.URL}, nil)

	resp, err := c.Complete(context.Background(), ChatRequest{Model: "gpt-4o"})
	require.NoError(t, err)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "done", resp.Choices[0].Message.Text())
	assert.Equal(t, 4, resp.Usage.TotalTokens)
}

func TestCompleteEmptyChoicesIsUpstreamError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	}))
	t.Cleanup(srv.Close)
	c := NewClient(Config{BaseURL: srv.URL}, nil)

	_, err := c.Complete(context.Background(), ChatRequest{})
	assert.ErrorIs(t, err, ErrUpstream)
}

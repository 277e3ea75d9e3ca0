package sse

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWriterSetsStreamingHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	require.NoError(t, err)
	require.NotNil(t, w)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", rec.Header().Get("Connection"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
}

// nonFlushable satisfies http.ResponseWriter but not http.Flusher.
type nonFlushable struct {
	http.ResponseWriter
}

func TestNewWriterRequiresFlusher(t *testing.T) {
	_, err := NewWriter(nonFlushable{})
	assert.Error(t, err)
}

func TestSendWritesDataOnlyFrames(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	require.NoError(t, err)

	require.NoError(t, w.Send(context.Background(), NewSessionEvent("sess-1")))
	require.NoError(t, w.Send(context.Background(), NewTextEvent("สวัสดี")))

	frames := parseFrames(t, rec.Body.String())
	require.Len(t, frames, 2)
	assert.JSONEq(t, `{"type":"session","sessionId":"sess-1"}`, frames[0])
	assert.JSONEq(t, `{"type":"text","content":"สวัสดี"}`, frames[1])
}

func TestSendCanceledContext(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = w.Send(ctx, NewTextEvent("dropped"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, rec.Body.String())
}

func TestSendErrorIgnoresContext(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	require.NoError(t, err)

	require.NoError(t, w.SendError("upstream unavailable"))

	frames := parseFrames(t, rec.Body.String())
	require.Len(t, frames, 1)
	assert.JSONEq(t, `{"type":"error","message":"upstream unavailable"}`, frames[0])
}

func TestEventPayloadShapes(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		want  string
	}{
		{
			name:  "model",
			event: NewModelEvent("standard", "gpt-4.1"),
			want:  `{"type":"model","tier":"standard","model":"gpt-4.1"}`,
		},
		{
			name:  "file processing",
			event: NewFileProcessingEvent("report.pdf", "processing"),
			want:  `{"type":"file_processing","fileName":"report.pdf","status":"processing"}`,
		},
		{
			name:  "tool start",
			event: NewToolStartEvent("search_tickets", "ค้นหางาน"),
			want:  `{"type":"tool_start","tool":"search_tickets","description":"ค้นหางาน"}`,
		},
		{
			name:  "tool end without result",
			event: NewToolEndEvent("search_tickets", false, nil),
			want:  `{"type":"tool_end","tool":"search_tickets","success":false}`,
		},
		{
			name:  "tool end with result",
			event: NewToolEndEvent("get_ticket", true, json.RawMessage(`{"id":"t-1"}`)),
			want:  `{"type":"tool_end","tool":"get_ticket","success":true,"result":{"id":"t-1"}}`,
		},
		{
			name: "tool confirmation",
			event: NewToolConfirmationEvent([]PendingTool{{
				Name:        "create_ticket",
				Description: "เปิดงานใหม่",
				Arguments:   map[string]any{"title": "AC repair"},
			}}, "ขอยืนยันก่อนครับ"),
			want: `{"type":"tool_confirmation","tools":[{"name":"create_ticket","description":"เปิดงานใหม่","arguments":{"title":"AC repair"}}],"assistantMessage":"ขอยืนยันก่อนครับ"}`,
		},
		{
			name: "done",
			event: DoneEvent{
				Type:         TypeDone,
				SessionID:    "sess-1",
				EntityMemory: map[string]any{},
				Usage:        Usage{InputTokens: 120, OutputTokens: 45},
				ContextStats: ContextStats{CompressionRatio: 0.5, EntitiesTracked: 3},
			},
			want: `{"type":"done","sessionId":"sess-1","entityMemory":{},"usage":{"inputTokens":120,"outputTokens":45},"contextStats":{"compressionRatio":0.5,"entitiesTracked":3,"filesProcessed":0}}`,
		},
		{
			name: "done awaiting confirmation",
			event: DoneEvent{
				Type:                 TypeDone,
				SessionID:            "sess-1",
				AwaitingConfirmation: true,
			},
			want: `{"type":"done","sessionId":"sess-1","entityMemory":null,"usage":{"inputTokens":0,"outputTokens":0},"contextStats":{"compressionRatio":0,"entitiesTracked":0,"filesProcessed":0},"awaitingConfirmation":true}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.event)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))
		})
	}
}

// parseFrames splits an SSE body into the JSON payloads of its data frames.
func parseFrames(t *testing.T, body string) []string {
	t.Helper()
	var frames []string
	for _, block := range strings.Split(body, "\n\n") {
		if block == "" {
			continue
		}
		require.True(t, strings.HasPrefix(block, "data: "), "frame %q", block)
		frames = append(frames, strings.TrimPrefix(block, "data: "))
	}
	return frames
}

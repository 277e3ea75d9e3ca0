// Package sse provides Server-Sent Events utilities for streaming assistant
// responses. The wire protocol is data-only framing: every frame is a single
// "data: <json>" line terminated by a blank line, with the event type carried
// inside the JSON payload rather than an SSE "event:" field.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Writer wraps an http.ResponseWriter for SSE streaming.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
}

// NewWriter creates a new SSE writer and sets appropriate headers.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flusher interface")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	return &Writer{w: w, flusher: flusher}, nil
}

// Send marshals the event and writes one data-only frame. The context is
// checked before writing so a disconnected client stops the stream promptly.
func (w *Writer) Send(ctx context.Context, event Event) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("context canceled: %w", ctx.Err())
	default:
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// SendError is a convenience for the terminal error frame. It ignores the
// context so a failure can still be reported after cancellation.
func (w *Writer) SendError(message string) error {
	data, err := json.Marshal(ErrorEvent{Type: TypeError, Message: message})
	if err != nil {
		return fmt.Errorf("marshal error event: %w", err)
	}
	if _, err := fmt.Fprintf(w.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write error event: %w", err)
	}
	w.flusher.Flush()
	return nil
}

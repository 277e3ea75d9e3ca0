// Package tools defines the tool surface exposed to the model: the catalog
// of callable tools, their JSON schemas, and the executor that carries a
// call to the field-service backend.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Result is the outcome of one tool execution. Business-level failures are
// reported here, not as Go errors: a failed lookup is still a valid result
// the model should see.
type Result struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Executor carries one tool call to the backing service.
type Executor interface {
	Execute(ctx context.Context, name string, args json.RawMessage, actor string) (Result, error)
}

// Directory resolves truncated entity id prefixes to full ids. Models often
// echo back only the leading characters of a UUID they saw earlier.
type Directory interface {
	Resolve(ctx context.Context, prefix string) (string, bool)
}

// HTTPExecutor executes tools against the field-service tool endpoint.
type HTTPExecutor struct {
	baseURL string
	client  *http.Client
}

// NewHTTPExecutor creates an executor posting to baseURL.
func NewHTTPExecutor(baseURL string) *HTTPExecutor {
	return &HTTPExecutor{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

type executeRequest struct {
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments"`
	Actor     string          `json:"actor,omitempty"`
}

// Execute posts the call and decodes the service's result envelope. A non-2xx
// status or transport failure is a Go error; everything else, including
// Success=false results, passes through.
func (e *HTTPExecutor) Execute(ctx context.Context, name string, args json.RawMessage, actor string) (Result, error) {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	body, err := json.Marshal(executeRequest{Tool: name, Arguments: args, Actor: actor})
	if err != nil {
		return Result{}, fmt.Errorf("marshal tool request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/tools/execute", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build tool request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("execute tool %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Result{}, fmt.Errorf("execute tool %s: status %d: %s", name, resp.StatusCode, detail)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, fmt.Errorf("decode tool result: %w", err)
	}
	return result, nil
}

// HTTPDirectory resolves id prefixes through the field-service lookup
// endpoint. Resolution failures degrade to "not found" so a flaky lookup
// never blocks a tool call.
type HTTPDirectory struct {
	baseURL string
	client  *http.Client
}

// NewHTTPDirectory creates a directory backed by baseURL.
func NewHTTPDirectory(baseURL string) *HTTPDirectory {
	return &HTTPDirectory{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *HTTPDirectory) Resolve(ctx context.Context, prefix string) (string, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/directory/resolve?prefix="+prefix, nil)
	if err != nil {
		return "", false
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return "", false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", false
	}

	var payload struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil || payload.ID == "" {
		return "", false
	}
	return payload.ID, true
}

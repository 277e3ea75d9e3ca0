package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/fieldops/assistant/internal/log"
)

// ErrUpstream indicates the model API returned a non-2xx response or an
// unusable body. Upstream failures abort the turn; they are never retried.
var ErrUpstream = errors.New("upstream model error")

// Config configures the model API client.
type Config struct {
	// BaseURL is the chat-completions endpoint root, e.g. "https://api.openai.com/v1".
	BaseURL string

	// APIKey is sent as a bearer token.
	APIKey string

	// HTTPClient overrides the default client. Optional.
	HTTPClient *http.Client
}

// Client talks to a chat-completions style model API, streaming and
// non-streaming.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
	logger  log.Logger
}

// NewClient creates a model API client. The API key comes from injected
// configuration, never from process-wide globals.
func NewClient(cfg Config, logger log.Logger) *Client {
	httpc := cfg.HTTPClient
	if httpc == nil {
		// Long ceiling: large contexts plus tool rounds can stream for minutes.
		httpc = &http.Client{Timeout: 5 * time.Minute}
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		httpc:   httpc,
		logger:  logger,
	}
}

// ChatRequest is the request body for the chat-completions endpoint.
type ChatRequest struct {
	Model         string         `json:"model"`
	Messages      []Message      `json:"messages"`
	Tools         []Tool         `json:"tools,omitempty"`
	Temperature   float64        `json:"temperature,omitempty"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
	Stream        bool           `json:"stream,omitempty"`
	StreamOptions *StreamOptions `json:"stream_options,omitempty"`
}

// StreamOptions requests a trailing usage block on streaming responses.
type StreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// Tool declares a function the model may call.
type Tool struct {
	Type     string       `json:"type"` // always "function"
	Function ToolFunction `json:"function"`
}

// ToolFunction describes one callable function and its parameter schema.
type ToolFunction struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Parameters  *jsonschema.Schema `json:"parameters,omitempty"`
}

// ChatResponse is a non-streaming completion result.
type ChatResponse struct {
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Choice is one completion alternative; the engine only ever requests one.
type Choice struct {
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Complete sends a non-streaming chat request.
func (c *Client) Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	req.Stream = false
	req.StreamOptions = nil

	resp, err := c.post(ctx, req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var out ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrUpstream, err)
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("%w: response contained no choices", ErrUpstream)
	}
	return &out, nil
}

// Stream sends a streaming chat request and yields parsed chunks.
//
// The iterator is finite and not restartable: it terminates when the
// upstream closes the stream or the context is canceled, and a fresh call
// issues a fresh upstream request. Malformed SSE lines and the [DONE]
// sentinel are skipped silently; only transport-level failures surface as
// errors.
func (c *Client) Stream(ctx context.Context, req ChatRequest) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		req.Stream = true
		req.StreamOptions = &StreamOptions{IncludeUsage: true}

		resp, err := c.post(ctx, req)
		if err != nil {
			yield(Chunk{}, err)
			return
		}
		defer func() { _ = resp.Body.Close() }()

		scanner := bufio.NewScanner(resp.Body)
		// Tool arguments can produce long data lines; default 64KB is too small.
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			data, ok := strings.CutPrefix(scanner.Text(), "data: ")
			if !ok {
				continue // comments, blank separators, event fields
			}
			if strings.TrimSpace(data) == "[DONE]" {
				continue
			}

			var chunk Chunk
			if err := json.Unmarshal([]byte(data), &chunk.wire); err != nil {
				// Malformed record mid-stream: drop the line, keep parsing.
				c.logger.Debug("skipping malformed stream record", "error", err)
				continue
			}
			chunk.fromWire()

			if !yield(chunk, nil) {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			yield(Chunk{}, fmt.Errorf("%w: reading stream: %v", ErrUpstream, err))
		}
	}
}

// post issues the HTTP request and maps non-2xx responses to ErrUpstream.
func (c *Client) post(ctx context.Context, req ChatRequest) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, string(detail))
	}

	return resp, nil
}

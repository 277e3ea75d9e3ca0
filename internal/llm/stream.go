package llm

import (
	"sort"
	"strings"
)

// Chunk is one parsed record of a streaming response.
type Chunk struct {
	// DeltaContent is the incremental text carried by this record, if any.
	DeltaContent string

	// DeltaToolCalls are incremental tool-call fragments keyed by the
	// provider's index field.
	DeltaToolCalls []ToolCallDelta

	// FinishReason is set on the record that closes a choice
	// ("stop", "tool_calls", "length", ...).
	FinishReason string

	// Usage is set on the trailing usage record when stream_options
	// requested it.
	Usage *Usage

	wire wireChunk
}

// ToolCallDelta is a fragment of a tool call spread across records.
// ID and Name appear once; Arguments arrives as string fragments to be
// concatenated in order.
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// wireChunk mirrors the provider's streaming JSON.
type wireChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Type     string `json:"type"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

// fromWire flattens the wire shape into the exported fields. The engine only
// requests a single choice, so all choices collapse into one view.
func (c *Chunk) fromWire() {
	for _, choice := range c.wire.Choices {
		c.DeltaContent += choice.Delta.Content
		for _, tc := range choice.Delta.ToolCalls {
			c.DeltaToolCalls = append(c.DeltaToolCalls, ToolCallDelta{
				Index:     tc.Index,
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			c.FinishReason = *choice.FinishReason
		}
	}
	c.Usage = c.wire.Usage
	c.wire = wireChunk{}
}

// StreamState tracks where a Collector is in the per-call state machine.
type StreamState int

// Collector states. One upstream call moves Idle → StreamingDeltas →
// {ToolCallsPending | TextComplete}; the orchestrator owns Done/Error.
const (
	StateIdle StreamState = iota
	StateStreamingDeltas
	StateToolCallsPending
	StateTextComplete
)

// FinishToolCalls is the finish_reason signalling an assembled tool round.
const FinishToolCalls = "tool_calls"

// Collector assembles one streaming model response: running text, multi-chunk
// tool-call fragments keyed by index, the finish reason, and the trailing
// usage block.
//
// Collector is not safe for concurrent use; a turn observes chunks
// sequentially.
type Collector struct {
	state        StreamState
	text         strings.Builder
	fragments    map[int]*ToolCallDelta
	finishReason string
	usage        Usage
	sawUsage     bool
}

// NewCollector returns an empty collector in the Idle state.
func NewCollector() *Collector {
	return &Collector{fragments: make(map[int]*ToolCallDelta)}
}

// Observe folds one chunk into the collector.
func (c *Collector) Observe(chunk Chunk) {
	c.state = StateStreamingDeltas

	c.text.WriteString(chunk.DeltaContent)

	for _, delta := range chunk.DeltaToolCalls {
		frag, ok := c.fragments[delta.Index]
		if !ok {
			frag = &ToolCallDelta{Index: delta.Index}
			c.fragments[delta.Index] = frag
		}
		if delta.ID != "" {
			frag.ID = delta.ID
		}
		if delta.Name != "" {
			frag.Name = delta.Name
		}
		frag.Arguments += delta.Arguments
	}

	if chunk.FinishReason != "" {
		c.finishReason = chunk.FinishReason
	}
	if chunk.Usage != nil {
		c.usage = *chunk.Usage
		c.sawUsage = true
	}
}

// Finalize transitions the collector to its terminal state for this call:
// ToolCallsPending when the model finished with an assembled tool round,
// TextComplete otherwise.
func (c *Collector) Finalize() StreamState {
	if c.finishReason == FinishToolCalls && len(c.fragments) > 0 {
		c.state = StateToolCallsPending
	} else {
		c.state = StateTextComplete
	}
	return c.state
}

// State returns the collector's current state.
func (c *Collector) State() StreamState { return c.state }

// Text returns the accumulated response text.
func (c *Collector) Text() string { return c.text.String() }

// FinishReason returns the recorded finish reason, if any.
func (c *Collector) FinishReason() string { return c.finishReason }

// Usage returns the trailing usage block and whether one was seen.
func (c *Collector) Usage() (Usage, bool) { return c.usage, c.sawUsage }

// ToolCalls returns the assembled tool calls in provider index order.
// Fragments that never received a name are dropped: they cannot be executed
// or echoed back.
func (c *Collector) ToolCalls() []ToolCall {
	indexes := make([]int, 0, len(c.fragments))
	for idx := range c.fragments {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	calls := make([]ToolCall, 0, len(indexes))
	for _, idx := range indexes {
		frag := c.fragments[idx]
		if frag.Name == "" {
			continue
		}
		args := frag.Arguments
		if args == "" {
			args = "{}"
		}
		calls = append(calls, ToolCall{
			ID:   frag.ID,
			Type: "function",
			Function: FunctionCall{
				Name:      frag.Name,
				Arguments: args,
			},
		})
	}
	return calls
}

// Package llm implements the chat-completions model contract: message and
// tool-call wire types, the strict message-sequence rules the upstream
// provider enforces, and a streaming HTTP client that parses the provider's
// SSE framing into typed chunks.
package llm

import (
	"strings"
)

// Role identifies the author of a message.
type Role string

// Message roles defined by the chat-completions contract.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single entry in a conversation.
//
// Content is either a string, a []ContentPart (multi-modal user messages), or
// nil (assistant messages that only carry tool calls). ToolCallID is set only
// on RoleTool messages and must reference a tool call issued by the closest
// preceding assistant message.
type Message struct {
	Role       Role       `json:"role"`
	Content    any        `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ContentPart is one element of a multi-modal content array.
// The upstream contract requires text parts before image parts.
type ContentPart struct {
	Type     string    `json:"type"` // "text" or "image_url"
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL carries an image reference, typically a data: URL.
type ImageURL struct {
	URL string `json:"url"`
}

// ToolCall is a structured request from the model to invoke a tool.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"` // always "function"
	Function FunctionCall `json:"function"`
}

// FunctionCall names the tool and carries its JSON-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Usage reports token consumption for one upstream call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// SystemMessage builds a system message with plain text content.
func SystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: text}
}

// UserMessage builds a user message with plain text content.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

// AssistantMessage builds an assistant message with plain text content.
func AssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Content: text}
}

// ToolMessage builds a tool-result message referencing a tool call id.
func ToolMessage(toolCallID, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: toolCallID}
}

// Text extracts the plain text of a message's content.
//
// Handles the three shapes Content takes in practice: a string, a typed
// []ContentPart, and the []any produced by JSON round-trips through the
// session store.
func (m Message) Text() string {
	switch content := m.Content.(type) {
	case string:
		return content
	case []ContentPart:
		var sb strings.Builder
		for _, part := range content {
			if part.Type == "text" {
				sb.WriteString(part.Text)
			}
		}
		return sb.String()
	case []any:
		var sb strings.Builder
		for _, raw := range content {
			part, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			if t, _ := part["type"].(string); t == "text" {
				if text, _ := part["text"].(string); text != "" {
					sb.WriteString(text)
				}
			}
		}
		return sb.String()
	default:
		return ""
	}
}

// HasContent reports whether the message carries any content at all.
func (m Message) HasContent() bool {
	switch content := m.Content.(type) {
	case nil:
		return false
	case string:
		return content != ""
	case []ContentPart:
		return len(content) > 0
	case []any:
		return len(content) > 0
	default:
		return true
	}
}

package sse

// EventType discriminates the wire event union. The set is closed: the
// client-side parser rejects anything outside it.
type EventType string

const (
	TypeSession          EventType = "session"
	TypeModel            EventType = "model"
	TypeFileProcessing   EventType = "file_processing"
	TypeText             EventType = "text"
	TypeToolStart        EventType = "tool_start"
	TypeToolEnd          EventType = "tool_end"
	TypeToolConfirmation EventType = "tool_confirmation"
	TypeDone             EventType = "done"
	TypeError            EventType = "error"
)

// Event is one frame of the stream. Every concrete payload type below
// implements it; there are no other implementations.
type Event interface {
	eventType() EventType
}

// SessionEvent announces the session id the turn is bound to. Always the
// first frame.
type SessionEvent struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId"`
}

// ModelEvent reports the routing decision for the turn.
type ModelEvent struct {
	Type  EventType `json:"type"`
	Tier  string    `json:"tier"`
	Model string    `json:"model"`
}

// FileProcessingEvent reports progress on attached files before the model
// call starts.
type FileProcessingEvent struct {
	Type     EventType `json:"type"`
	FileName string    `json:"fileName"`
	Status   string    `json:"status"`
}

// TextEvent carries one streamed text delta.
type TextEvent struct {
	Type    EventType `json:"type"`
	Content string    `json:"content"`
}

// ToolStartEvent signals a tool execution beginning.
type ToolStartEvent struct {
	Type        EventType `json:"type"`
	Tool        string    `json:"tool"`
	Description string    `json:"description"`
}

// ToolEndEvent signals a tool execution finishing, successfully or not.
type ToolEndEvent struct {
	Type    EventType `json:"type"`
	Tool    string    `json:"tool"`
	Success bool      `json:"success"`
	Result  any       `json:"result,omitempty"`
}

// PendingTool is one proposed tool call awaiting user confirmation.
type PendingTool struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Arguments   any    `json:"arguments"`
}

// ToolConfirmationEvent suspends the turn and asks the user to approve the
// proposed tool calls.
type ToolConfirmationEvent struct {
	Type             EventType     `json:"type"`
	Tools            []PendingTool `json:"tools"`
	AssistantMessage string        `json:"assistantMessage,omitempty"`
}

// Usage is the turn's token accounting as reported by the model.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// ContextStats summarizes what context management did for the turn.
type ContextStats struct {
	CompressionRatio float64 `json:"compressionRatio"`
	EntitiesTracked  int     `json:"entitiesTracked"`
	FilesProcessed   int     `json:"filesProcessed"`
}

// DoneEvent is the terminal frame of a successful turn.
type DoneEvent struct {
	Type                 EventType    `json:"type"`
	SessionID            string       `json:"sessionId"`
	EntityMemory         any          `json:"entityMemory"`
	Usage                Usage        `json:"usage"`
	ContextStats         ContextStats `json:"contextStats"`
	AwaitingConfirmation bool         `json:"awaitingConfirmation,omitempty"`
}

// ErrorEvent is the terminal frame of a failed turn.
type ErrorEvent struct {
	Type    EventType `json:"type"`
	Message string    `json:"message"`
}

func (e SessionEvent) eventType() EventType          { return e.Type }
func (e ModelEvent) eventType() EventType            { return e.Type }
func (e FileProcessingEvent) eventType() EventType   { return e.Type }
func (e TextEvent) eventType() EventType             { return e.Type }
func (e ToolStartEvent) eventType() EventType        { return e.Type }
func (e ToolEndEvent) eventType() EventType          { return e.Type }
func (e ToolConfirmationEvent) eventType() EventType { return e.Type }
func (e DoneEvent) eventType() EventType             { return e.Type }
func (e ErrorEvent) eventType() EventType            { return e.Type }

// Constructors keep the discriminator in sync with the payload type so
// call sites cannot produce a mistyped frame.

func NewSessionEvent(sessionID string) SessionEvent {
	return SessionEvent{Type: TypeSession, SessionID: sessionID}
}

func NewModelEvent(tier, model string) ModelEvent {
	return ModelEvent{Type: TypeModel, Tier: tier, Model: model}
}

func NewFileProcessingEvent(fileName, status string) FileProcessingEvent {
	return FileProcessingEvent{Type: TypeFileProcessing, FileName: fileName, Status: status}
}

func NewTextEvent(content string) TextEvent {
	return TextEvent{Type: TypeText, Content: content}
}

func NewToolStartEvent(tool, description string) ToolStartEvent {
	return ToolStartEvent{Type: TypeToolStart, Tool: tool, Description: description}
}

func NewToolEndEvent(tool string, success bool, result any) ToolEndEvent {
	return ToolEndEvent{Type: TypeToolEnd, Tool: tool, Success: success, Result: result}
}

func NewToolConfirmationEvent(tools []PendingTool, assistantMessage string) ToolConfirmationEvent {
	return ToolConfirmationEvent{Type: TypeToolConfirmation, Tools: tools, AssistantMessage: assistantMessage}
}

func NewErrorEvent(message string) ErrorEvent {
	return ErrorEvent{Type: TypeError, Message: message}
}

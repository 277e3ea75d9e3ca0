// Package agent implements the conversation orchestrator: it binds a request
// to a session, compresses context, routes to a model tier, drives the
// streaming tool-call loop, and emits the SSE event stream.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/google/uuid"

	"github.com/fieldops/assistant/internal/compress"
	"github.com/fieldops/assistant/internal/llm"
	"github.com/fieldops/assistant/internal/log"
	"github.com/fieldops/assistant/internal/memory"
	"github.com/fieldops/assistant/internal/router"
	"github.com/fieldops/assistant/internal/session"
	"github.com/fieldops/assistant/internal/sse"
	"github.com/fieldops/assistant/internal/tools"
)

// MaxToolIterations bounds the tool-call loop within one turn. Hitting the
// cap ends the turn normally; the model's last text still goes out.
const MaxToolIterations = 5

const titleLimit = 60

// Sentinel errors surfaced to the transport layer.
var (
	// ErrEmptyQuery indicates a request with no query text and no files.
	ErrEmptyQuery = errors.New("empty query")

	// ErrUpstream mirrors llm.ErrUpstream for callers that only import agent.
	ErrUpstream = llm.ErrUpstream
)

// Request is one inbound assistant turn, shared by the streaming and
// non-streaming endpoints.
type Request struct {
	Query                string            `json:"query"`
	Context              string            `json:"context,omitempty"`
	ConversationHistory  []llm.Message     `json:"conversationHistory,omitempty"`
	EntityMemory         *memory.Memory    `json:"entityMemory,omitempty"`
	SessionID            string            `json:"sessionId,omitempty"`
	Files                []Attachment      `json:"files,omitempty"`
	ConfirmedTools       []ConfirmedTool   `json:"confirmedTools,omitempty"`
	SkipToolConfirmation bool              `json:"skipToolConfirmation,omitempty"`
	UserID               string            `json:"-"`
}

// ConfirmedTool is one user-approved tool call sent back after a
// confirmation suspension.
type ConfirmedTool struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Emitter receives the turn's event stream. The SSE handler writes frames;
// the non-streaming handler collects them.
type Emitter func(event sse.Event) error

// SessionStore is the persistence surface the orchestrator needs.
type SessionStore interface {
	Create(ctx context.Context, userID, title, modelName string) (*session.Session, error)
	Get(ctx context.Context, id uuid.UUID) (*session.Session, error)
	Reuse(ctx context.Context, userID string) (*session.Session, error)
	UpdateState(ctx context.Context, id uuid.UUID, state session.State) error
	AppendMessages(ctx context.Context, id uuid.UUID, messages []llm.Message) error
	History(ctx context.Context, id uuid.UUID) ([]llm.Message, error)
	PruneToQuota(ctx context.Context, userID string) (int64, error)
}

// ModelClient is the upstream chat-completions surface.
type ModelClient interface {
	Stream(ctx context.Context, req llm.ChatRequest) iter.Seq2[llm.Chunk, error]
	Complete(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error)
}

// Agent orchestrates assistant turns. Safe for concurrent use; all per-turn
// state lives on the stack of Respond.
type Agent struct {
	client      ModelClient
	router      *router.Router
	store       SessionStore
	registry    *tools.Registry
	executor    tools.Executor
	directory   tools.Directory
	files       FileProcessor
	maintenance *Maintenance
	logger      log.Logger

	systemPrompt string
	recentTurns  int
}

// Config wires an Agent.
type Config struct {
	Client       ModelClient
	Router       *router.Router
	Store        SessionStore
	Registry     *tools.Registry
	Executor     tools.Executor
	Directory    tools.Directory
	Files        FileProcessor
	Maintenance  *Maintenance
	Logger       log.Logger
	SystemPrompt string
	RecentTurns  int
}

// New creates an Agent.
func New(cfg Config) *Agent {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	files := cfg.Files
	if files == nil {
		files = NopFileProcessor{}
	}
	recentTurns := cfg.RecentTurns
	if recentTurns <= 0 {
		recentTurns = compress.DefaultRecentTurns
	}
	return &Agent{
		client:       cfg.Client,
		router:       cfg.Router,
		store:        cfg.Store,
		registry:     cfg.Registry,
		executor:     cfg.Executor,
		directory:    cfg.Directory,
		files:        files,
		maintenance:  cfg.Maintenance,
		logger:       logger,
		systemPrompt: cfg.SystemPrompt,
		recentTurns:  recentTurns,
	}
}

// turnState is the per-turn working set threaded through the phases of
// Respond.
type turnState struct {
	sess      *session.Session
	persisted bool
	mem       *memory.Memory
	summary   compress.Summary
	history   []llm.Message

	// newMessages collects everything produced this turn, in order, for
	// the post-turn append.
	newMessages []llm.Message

	usage          llm.Usage
	filesProcessed int
	compression    float64
}

// Respond runs one assistant turn, emitting events as they happen. The
// returned error means the turn failed before or outside the stream; errors
// inside the stream surface as error events instead.
func (a *Agent) Respond(ctx context.Context, req Request, emit Emitter) error {
	if req.Query == "" && len(req.Files) == 0 && len(req.ConfirmedTools) == 0 {
		return ErrEmptyQuery
	}

	st := a.bindSession(ctx, req)
	if err := emit(sse.NewSessionEvent(a.sessionID(st))); err != nil {
		return err
	}

	userMsg, err := a.buildUserMessage(ctx, req, st, emit)
	if err != nil {
		return err
	}
	if userMsg != nil {
		st.newMessages = append(st.newMessages, *userMsg)
	}

	working := a.assembleContext(req, st, userMsg)

	decision := a.router.Route(req.Query, routingContext(req, st))
	if err := emit(sse.NewModelEvent(string(decision.Tier), decision.Config.Model)); err != nil {
		return err
	}

	if len(req.ConfirmedTools) > 0 {
		confirmed, err := a.runConfirmedTools(ctx, req.ConfirmedTools, working, st, emit)
		if err != nil {
			a.persistTurn(context.WithoutCancel(ctx), req, st, decision)
			return err
		}
		working = append(working, confirmed...)
	}

	awaiting, streamErr := a.streamLoop(ctx, working, decision, st, req.SkipToolConfirmation, emit)

	// A client disconnect or upstream failure still persists whatever the
	// turn produced before it broke, off the request context.
	a.persistTurn(context.WithoutCancel(ctx), req, st, decision)

	if streamErr != nil {
		return streamErr
	}
	return emit(a.doneEvent(st, awaiting))
}

// bindSession resolves which session the turn belongs to: an explicit id, a
// recent idle session, or a fresh one. Store failures downgrade the turn to
// memory-only mode instead of failing the request.
func (a *Agent) bindSession(ctx context.Context, req Request) *turnState {
	st := &turnState{mem: memory.New()}
	if req.EntityMemory != nil {
		st.mem.Merge(req.EntityMemory)
	}

	if a.store == nil {
		st.history = req.ConversationHistory
		return st
	}

	if req.SessionID != "" {
		id, err := uuid.Parse(req.SessionID)
		if err == nil {
			if sess, err := a.store.Get(ctx, id); err == nil {
				return a.adoptSession(ctx, st, sess, req)
			} else if !errors.Is(err, session.ErrSessionNotFound) {
				a.logger.Warn("session load failed, continuing without persistence", "session_id", req.SessionID, "error", err)
				st.history = req.ConversationHistory
				return st
			}
		}
	}

	if sess, err := a.store.Reuse(ctx, req.UserID); err == nil && sess != nil {
		return a.adoptSession(ctx, st, sess, req)
	} else if err != nil {
		a.logger.Warn("session reuse lookup failed, continuing without persistence", "error", err)
		st.history = req.ConversationHistory
		return st
	}

	sess, err := a.store.Create(ctx, req.UserID, sessionTitle(req.Query), "")
	if err != nil {
		a.logger.Warn("session create failed, continuing without persistence", "error", err)
		st.history = req.ConversationHistory
		return st
	}
	st.sess = sess
	st.persisted = true

	if a.maintenance != nil {
		userID := req.UserID
		a.maintenance.Enqueue(func(ctx context.Context) {
			if _, err := a.store.PruneToQuota(ctx, userID); err != nil {
				a.logger.Warn("session pruning failed", "user_id", userID, "error", err)
			}
		})
	}
	return st
}

func (a *Agent) adoptSession(ctx context.Context, st *turnState, sess *session.Session, req Request) *turnState {
	st.sess = sess
	st.persisted = true
	st.summary = sess.Summary
	if sess.EntityMemory != nil {
		merged := sess.EntityMemory.Clone()
		merged.Merge(st.mem)
		st.mem = merged
	}

	history, err := a.store.History(ctx, sess.ID)
	if err != nil {
		a.logger.Warn("history load failed, using request history", "session_id", sess.ID, "error", err)
		st.history = req.ConversationHistory
		return st
	}
	st.history = history
	return st
}

// assembleContext compresses the history, applies repair, and produces the
// outgoing message list ending with this turn's user message.
func (a *Agent) assembleContext(req Request, st *turnState, userMsg *llm.Message) []llm.Message {
	var messages []llm.Message
	if a.systemPrompt != "" {
		prompt := a.systemPrompt
		if req.Context != "" {
			prompt += "\n\n" + req.Context
		}
		if hint := toneHint(router.DetectTone(req.Query)); hint != "" {
			prompt += "\n\n" + hint
		}
		messages = append(messages, llm.SystemMessage(prompt))
	} else if req.Context != "" {
		messages = append(messages, llm.SystemMessage(req.Context))
	}
	messages = append(messages, st.history...)

	result := compress.Compress(messages, st.mem, compress.Options{
		RecentTurnsToKeep: a.recentTurns,
		Existing:          st.summary,
	})
	st.summary = result.Summary
	if result.TotalOriginalTokens > 0 {
		st.compression = float64(result.CompressedTokens) / float64(result.TotalOriginalTokens)
	}

	working := result.Messages
	if userMsg != nil {
		working = append(working, *userMsg)
	}
	return llm.Repair(working)
}

// buildUserMessage processes attachments and assembles the multi-modal user
// message. Text and document content always occupies the first slot; image
// parts follow.
func (a *Agent) buildUserMessage(ctx context.Context, req Request, st *turnState, emit Emitter) (*llm.Message, error) {
	if req.Query == "" && len(req.Files) == 0 {
		return nil, nil
	}
	if len(req.Files) == 0 {
		msg := llm.UserMessage(req.Query)
		return &msg, nil
	}

	for _, f := range req.Files {
		if err := emit(sse.NewFileProcessingEvent(f.Name, "processing")); err != nil {
			return nil, err
		}
	}

	processed, err := a.files.Process(ctx, req.Files)
	if err != nil {
		return nil, fmt.Errorf("process files: %w", err)
	}
	st.filesProcessed = len(processed)

	for _, f := range req.Files {
		if err := emit(sse.NewFileProcessingEvent(f.Name, "done")); err != nil {
			return nil, err
		}
	}

	msg := composeUserMessage(req.Query, processed)
	return &msg, nil
}

// streamLoop drives the model stream and the tool-call iterations. It
// returns whether the turn ended awaiting tool confirmation.
func (a *Agent) streamLoop(ctx context.Context, working []llm.Message, decision router.Decision, st *turnState, skipConfirmation bool, emit Emitter) (bool, error) {
	for iteration := 0; iteration < MaxToolIterations; iteration++ {
		collector := llm.NewCollector()

		stream := a.client.Stream(ctx, llm.ChatRequest{
			Model:       decision.Config.Model,
			Messages:    working,
			Tools:       a.registry.ModelTools(),
			Temperature: decision.Config.Temperature,
			MaxTokens:   decision.Config.MaxTokens,
		})
		for chunk, err := range stream {
			if err != nil {
				return false, err
			}
			if chunk.DeltaContent != "" {
				if err := emit(sse.NewTextEvent(chunk.DeltaContent)); err != nil {
					return false, err
				}
			}
			collector.Observe(chunk)
		}

		state := collector.Finalize()
		if usage, ok := collector.Usage(); ok {
			st.usage.PromptTokens += usage.PromptTokens
			st.usage.CompletionTokens += usage.CompletionTokens
			st.usage.TotalTokens += usage.TotalTokens
		}

		if state != llm.StateToolCallsPending {
			if text := collector.Text(); text != "" {
				st.newMessages = append(st.newMessages, llm.AssistantMessage(text))
			}
			return false, nil
		}

		calls := sanitizeCalls(collector.ToolCalls())
		assistantMsg := llm.Message{
			Role:      llm.RoleAssistant,
			ToolCalls: calls,
		}
		if text := collector.Text(); text != "" {
			assistantMsg.Content = text
		}

		a.resolveCallArguments(ctx, calls)

		if a.needsConfirmation(calls) && !skipConfirmation {
			working = append(working, assistantMsg)
			st.newMessages = append(st.newMessages, assistantMsg)
			if err := emit(a.confirmationEvent(calls, collector.Text())); err != nil {
				return false, err
			}
			return true, nil
		}

		working = append(working, assistantMsg)
		st.newMessages = append(st.newMessages, assistantMsg)

		for _, call := range calls {
			toolMsg, err := a.executeCall(ctx, call, st, emit)
			if err != nil {
				return false, err
			}
			working = append(working, toolMsg)
			st.newMessages = append(st.newMessages, toolMsg)
		}
	}

	a.logger.Warn("tool iteration cap reached", "cap", MaxToolIterations)
	return false, nil
}

// executeCall runs one tool call and converts the outcome, success or
// failure, into a tool message the model can read.
func (a *Agent) executeCall(ctx context.Context, call llm.ToolCall, st *turnState, emit Emitter) (llm.Message, error) {
	name := call.Function.Name
	description := a.registry.DescribeCall(name, call.Function.Arguments)
	if err := emit(sse.NewToolStartEvent(name, description)); err != nil {
		return llm.Message{}, err
	}

	result, err := a.executor.Execute(ctx, name, json.RawMessage(call.Function.Arguments), st.userID())
	if err != nil {
		a.logger.Warn("tool execution failed", "tool", name, "error", err)
		result = tools.Result{Success: false, Error: err.Error()}
	}

	if result.Success && len(result.Data) > 0 {
		st.mem.Extract(name, result.Data)
	}

	var resultPayload any
	if len(result.Data) > 0 {
		resultPayload = json.RawMessage(result.Data)
	}
	if err := emit(sse.NewToolEndEvent(name, result.Success, resultPayload)); err != nil {
		return llm.Message{}, err
	}

	body, err := json.Marshal(result)
	if err != nil {
		return llm.Message{}, fmt.Errorf("marshal tool result: %w", err)
	}
	return llm.ToolMessage(call.ID, string(body)), nil
}

// runConfirmedTools executes the user-approved calls and returns the
// messages to splice into the working context before the stream resumes.
//
// When the context ends with the suspended assistant tool-call round, the
// confirmed calls answer that round's original ids directly, so the
// upstream provider sees every tool call resolved. Pending calls the user
// did not approve get a declined result to close the round. Only approved
// calls with no pending counterpart (a memory-only resume with no history)
// get a synthesized assistant round.
func (a *Agent) runConfirmedTools(ctx context.Context, confirmed []ConfirmedTool, working []llm.Message, st *turnState, emit Emitter) ([]llm.Message, error) {
	remaining := make([]ConfirmedTool, len(confirmed))
	copy(remaining, confirmed)

	var out []llm.Message
	for _, call := range pendingToolCalls(working) {
		if i := matchConfirmed(remaining, call.Function.Name); i >= 0 {
			if args := remaining[i].Arguments; len(args) > 0 {
				call.Function.Arguments = string(args)
			}
			remaining = append(remaining[:i], remaining[i+1:]...)
			toolMsg, err := a.executeCall(ctx, call, st, emit)
			if err != nil {
				return nil, err
			}
			out = append(out, toolMsg)
			st.newMessages = append(st.newMessages, toolMsg)
			continue
		}
		declined := declinedToolMessage(call.ID)
		out = append(out, declined)
		st.newMessages = append(st.newMessages, declined)
	}

	if len(remaining) == 0 {
		return out, nil
	}

	calls := make([]llm.ToolCall, 0, len(remaining))
	for _, c := range remaining {
		args := c.Arguments
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		calls = append(calls, llm.ToolCall{
			ID:   llm.SanitizeToolCallID("call_" + uuid.New().String()),
			Type: "function",
			Function: llm.FunctionCall{
				Name:      c.Name,
				Arguments: string(args),
			},
		})
	}

	assistantMsg := llm.Message{Role: llm.RoleAssistant, ToolCalls: calls}
	out = append(out, assistantMsg)
	st.newMessages = append(st.newMessages, assistantMsg)

	for _, call := range calls {
		toolMsg, err := a.executeCall(ctx, call, st, emit)
		if err != nil {
			return nil, err
		}
		out = append(out, toolMsg)
		st.newMessages = append(st.newMessages, toolMsg)
	}
	return out, nil
}

// pendingToolCalls returns the unanswered calls of a trailing assistant
// tool-call round, or nil when the context does not end mid-round.
func pendingToolCalls(working []llm.Message) []llm.ToolCall {
	answered := make(map[string]bool)
	i := len(working) - 1
	for ; i >= 0 && working[i].Role == llm.RoleTool; i-- {
		answered[working[i].ToolCallID] = true
	}
	if i < 0 || working[i].Role != llm.RoleAssistant {
		return nil
	}
	var pending []llm.ToolCall
	for _, call := range working[i].ToolCalls {
		if !answered[call.ID] {
			pending = append(pending, call)
		}
	}
	return pending
}

func matchConfirmed(confirmed []ConfirmedTool, name string) int {
	for i, c := range confirmed {
		if c.Name == name {
			return i
		}
	}
	return -1
}

func declinedToolMessage(callID string) llm.Message {
	body, _ := json.Marshal(tools.Result{Success: false, Error: "declined by user"})
	return llm.ToolMessage(callID, string(body))
}

// resolveCallArguments rewrites truncated entity ids in tool-call arguments
// through the directory. Unresolvable prefixes pass through untouched.
func (a *Agent) resolveCallArguments(ctx context.Context, calls []llm.ToolCall) {
	if a.directory == nil {
		return
	}
	for i, call := range calls {
		var args map[string]any
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			continue
		}
		changed := false
		for _, field := range tools.IDArgumentFields {
			prefix, ok := args[field].(string)
			if !ok || prefix == "" || len(prefix) >= 36 {
				continue
			}
			if full, ok := a.directory.Resolve(ctx, prefix); ok {
				args[field] = full
				changed = true
			}
		}
		if !changed {
			continue
		}
		if updated, err := json.Marshal(args); err == nil {
			calls[i].Function.Arguments = string(updated)
		}
	}
}

func (a *Agent) needsConfirmation(calls []llm.ToolCall) bool {
	for _, call := range calls {
		if def, ok := a.registry.Get(call.Function.Name); ok && def.RequiresConfirmation {
			return true
		}
	}
	return false
}

func (a *Agent) confirmationEvent(calls []llm.ToolCall, assistantText string) sse.ToolConfirmationEvent {
	pending := make([]sse.PendingTool, 0, len(calls))
	for _, call := range calls {
		var args any
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			args = call.Function.Arguments
		}
		pending = append(pending, sse.PendingTool{
			Name:        call.Function.Name,
			Description: a.registry.DescribeCall(call.Function.Name, call.Function.Arguments),
			Arguments:   args,
		})
	}
	return sse.NewToolConfirmationEvent(pending, assistantText)
}

// persistTurn writes the turn's messages and updated state back to the
// store. Save failures are logged and swallowed so a storage hiccup never
// breaks a response that already streamed.
func (a *Agent) persistTurn(ctx context.Context, req Request, st *turnState, decision router.Decision) {
	if !st.persisted || st.sess == nil {
		return
	}

	if err := a.store.AppendMessages(ctx, st.sess.ID, st.newMessages); err != nil {
		a.logger.Warn("message append failed", "session_id", st.sess.ID, "error", err)
	}

	title := st.sess.Title
	if title == "" {
		title = sessionTitle(req.Query)
	}
	state := session.State{
		Title:        title,
		ModelName:    decision.Config.Model,
		Summary:      st.summary,
		EntityMemory: st.mem,
		InputTokens:  st.sess.InputTokens + int64(st.usage.PromptTokens),
		OutputTokens: st.sess.OutputTokens + int64(st.usage.CompletionTokens),
	}
	if err := a.store.UpdateState(ctx, st.sess.ID, state); err != nil {
		a.logger.Warn("session state save failed", "session_id", st.sess.ID, "error", err)
	}
}

func (a *Agent) doneEvent(st *turnState, awaiting bool) sse.DoneEvent {
	return sse.DoneEvent{
		Type:         sse.TypeDone,
		SessionID:    a.sessionID(st),
		EntityMemory: st.mem,
		Usage: sse.Usage{
			InputTokens:  st.usage.PromptTokens,
			OutputTokens: st.usage.CompletionTokens,
		},
		ContextStats: sse.ContextStats{
			CompressionRatio: st.compression,
			EntitiesTracked:  st.mem.Count(),
			FilesProcessed:   st.filesProcessed,
		},
		AwaitingConfirmation: awaiting,
	}
}

func (a *Agent) sessionID(st *turnState) string {
	if st.sess != nil {
		return st.sess.ID.String()
	}
	return ""
}

func (st *turnState) userID() string {
	if st.sess != nil {
		return st.sess.UserID
	}
	return ""
}

// sanitizeCalls enforces the tool-call id length limit on every assembled
// call before it enters the message log.
func sanitizeCalls(calls []llm.ToolCall) []llm.ToolCall {
	for i := range calls {
		calls[i].ID = llm.SanitizeToolCallID(calls[i].ID)
	}
	return calls
}

// toneHint translates a detected tone into a response-style instruction.
// Neutral queries get no hint.
func toneHint(tone router.Tone) string {
	switch tone {
	case router.ToneUrgent:
		return "The user is in a hurry. Lead with the answer, skip pleasantries."
	case router.TonePlayful:
		return "The user is being casual. A light, friendly register is fine."
	default:
		return ""
	}
}

// routingContext renders the signal text the router inspects for its
// context-upgrade rule: the caller-provided context plus a sketch of what
// entity memory already tracks.
func routingContext(req Request, st *turnState) string {
	parts := []string{req.Context}
	if n := len(st.mem.Tickets); n > 0 {
		parts = append(parts, fmt.Sprintf("%d tracked tickets", n))
	}
	if n := len(st.mem.Sites); n > 0 {
		parts = append(parts, fmt.Sprintf("%d tracked sites", n))
	}
	if n := len(st.mem.Employees); n > 0 {
		parts = append(parts, fmt.Sprintf("%d tracked employees", n))
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

func sessionTitle(query string) string {
	runes := []rune(query)
	if len(runes) <= titleLimit {
		return query
	}
	return string(runes[:titleLimit])
}

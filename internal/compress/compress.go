// Package compress implements conversation context compression: the last N
// turns survive verbatim, everything older is reduced to one-line digests
// merged with digests persisted from prior turns, and entity extraction runs
// over the full window as a side effect.
//
// Compression is deterministic and idempotent: re-running it on an
// already-compressed window that fits the recent-turn limit is a no-op.
package compress

import (
	"fmt"
	"strings"

	"github.com/fieldops/assistant/internal/llm"
	"github.com/fieldops/assistant/internal/memory"
)

const (
	// SummaryCap bounds the merged digest list; oldest entries evict first.
	SummaryCap = 10

	// DefaultRecentTurns is how many turns stay verbatim when the caller
	// does not override it.
	DefaultRecentTurns = 4

	questionDigestLimit = 50
	answerDigestLimit   = 80
)

// Options tunes one compression pass.
type Options struct {
	// RecentTurnsToKeep is the number of most recent turns kept verbatim.
	// Zero means DefaultRecentTurns.
	RecentTurnsToKeep int

	// MaxSummaryLength truncates each digest line to this many runes.
	// Zero means no extra cap beyond the per-field limits.
	MaxSummaryLength int

	// Existing is the summary persisted from prior turns; new digests are
	// appended to it before capping.
	Existing Summary
}

// Summary is the running conversation summary: deduplicated topic, action,
// pending-task, and decision sets plus the ordered digest list.
type Summary struct {
	Topics          []string `json:"topics"`
	Actions         []string `json:"actions"`
	PendingTasks    []string `json:"pendingTasks"`
	KeyDecisions    []string `json:"keyDecisions"`
	RecentSummaries []string `json:"recentSummaries"`
}

// Result is the outcome of one compression pass.
type Result struct {
	// Summary is the merged, capped summary.
	Summary Summary

	// Messages is the reassembled outgoing list: system messages, one
	// synthetic summary message (when any digests exist), then the
	// verbatim recent turns.
	Messages []llm.Message

	// RecentMessages are the verbatim recent-turn messages only.
	RecentMessages []llm.Message

	// Token accounting, both sides measured with the same chars/3
	// heuristic.
	TotalOriginalTokens int
	CompressedTokens    int
}

// EstimateTokens approximates the token cost of text as len(text)/3.
// A fixed heuristic, applied uniformly before and after compression,
// not an exact tokenization.
func EstimateTokens(text string) int {
	return len(text) / 3
}

// turn is one user message plus the tool and assistant activity it
// triggered, up to the next user message.
type turn struct {
	messages []llm.Message
}

// Compress segments the history into turns, digests the old ones, merges
// with the existing summary, and reassembles the outgoing message list.
// Entity extraction mutates mem in place when mem is non-nil, independent
// of whether anything gets summarized.
func Compress(messages []llm.Message, mem *memory.Memory, opts Options) Result {
	keep := opts.RecentTurnsToKeep
	if keep <= 0 {
		keep = DefaultRecentTurns
	}

	var systemMessages []llm.Message
	var rest []llm.Message
	for _, msg := range messages {
		if msg.Role == llm.RoleSystem {
			systemMessages = append(systemMessages, msg)
		} else {
			rest = append(rest, msg)
		}
	}

	turns := segmentTurns(rest)

	if mem != nil {
		extractEntities(rest, mem)
	}

	split := len(turns) - keep
	if split < 0 {
		split = 0
	}
	oldTurns, recentTurns := turns[:split], turns[split:]

	summary := opts.Existing
	for _, t := range oldTurns {
		digest := digestTurn(t, opts.MaxSummaryLength)
		summary.RecentSummaries = append(summary.RecentSummaries, digest)
		summary = tagTurn(summary, t)
	}
	if n := len(summary.RecentSummaries); n > SummaryCap {
		summary.RecentSummaries = summary.RecentSummaries[n-SummaryCap:]
	}

	var recent []llm.Message
	for _, t := range recentTurns {
		recent = append(recent, t.messages...)
	}

	out := make([]llm.Message, 0, len(systemMessages)+1+len(recent))
	out = append(out, systemMessages...)
	if len(summary.RecentSummaries) > 0 {
		out = append(out, llm.SystemMessage(renderSummary(summary)))
	}
	out = append(out, recent...)

	return Result{
		Summary:             summary,
		Messages:            out,
		RecentMessages:      recent,
		TotalOriginalTokens: countTokens(messages),
		CompressedTokens:    countTokens(out),
	}
}

// segmentTurns splits non-system messages into turns at each user message
// boundary. Leading tool/assistant messages with no user message ahead of
// them form a headless turn so nothing is lost.
func segmentTurns(messages []llm.Message) []turn {
	var turns []turn
	var current *turn

	for _, msg := range messages {
		if msg.Role == llm.RoleUser || current == nil {
			turns = append(turns, turn{})
			current = &turns[len(turns)-1]
		}
		current.messages = append(current.messages, msg)
	}
	return turns
}

// extractEntities runs entity extraction over every tool result and every
// user text in the window. Tool names come from the closest preceding
// assistant message's tool calls.
func extractEntities(messages []llm.Message, mem *memory.Memory) {
	callNames := make(map[string]string)
	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleAssistant:
			for _, call := range msg.ToolCalls {
				callNames[call.ID] = call.Function.Name
			}
		case llm.RoleTool:
			name := callNames[msg.ToolCallID]
			if name == "" {
				continue
			}
			mem.Extract(name, []byte(msg.Text()))
		case llm.RoleUser:
			mem.ExtractFromUserText(msg.Text())
		}
	}
}

// digestTurn reduces one turn to a single line:
// "Q: <intent> | Tools: <names> | A: <reply>".
func digestTurn(t turn, maxLength int) string {
	var userText, assistantText string
	var toolNames []string

	for _, msg := range t.messages {
		switch msg.Role {
		case llm.RoleUser:
			if userText == "" {
				userText = msg.Text()
			}
		case llm.RoleAssistant:
			for _, call := range msg.ToolCalls {
				toolNames = append(toolNames, call.Function.Name)
			}
			if text := msg.Text(); text != "" {
				assistantText = text
			}
		}
	}

	tools := "-"
	if len(toolNames) > 0 {
		tools = strings.Join(dedupe(toolNames), ",")
	}

	line := fmt.Sprintf("Q: %s | Tools: %s | A: %s",
		truncate(collapse(userText), questionDigestLimit),
		tools,
		truncate(collapse(assistantText), answerDigestLimit))

	if maxLength > 0 {
		line = truncate(line, maxLength)
	}
	return line
}

// Keyword classes that become topic tags. Thai and English, matching the
// platform's user base.
var topicKeywords = []struct{ keyword, topic string }{
	{"งาน", "tickets"},
	{"ticket", "tickets"},
	{"เส้นทาง", "routing"},
	{"route", "routing"},
	{"สาขา", "sites"},
	{"site", "sites"},
	{"หน่วยงาน", "sites"},
	{"บริษัท", "companies"},
	{"company", "companies"},
	{"รายงาน", "reports"},
	{"report", "reports"},
	{"สรุป", "summary"},
}

var pendingMarkers = []string{"พรุ่งนี้", "เดี๋ยว", "ไว้ก่อน", "tomorrow", "later", "pending"}
var decisionMarkers = []string{"ตกลง", "ยืนยัน", "อนุมัติ", "confirmed", "approved", "decided"}

// tagTurn folds a digested turn's topic/action/pending/decision signals into
// the summary's deduplicated sets.
func tagTurn(s Summary, t turn) Summary {
	for _, msg := range t.messages {
		text := strings.ToLower(msg.Text())
		switch msg.Role {
		case llm.RoleUser:
			for _, tk := range topicKeywords {
				if strings.Contains(text, tk.keyword) {
					s.Topics = appendUnique(s.Topics, tk.topic)
				}
			}
			for _, marker := range pendingMarkers {
				if strings.Contains(text, marker) {
					s.PendingTasks = appendUnique(s.PendingTasks, truncate(collapse(msg.Text()), questionDigestLimit))
					break
				}
			}
		case llm.RoleAssistant:
			for _, call := range msg.ToolCalls {
				s.Actions = appendUnique(s.Actions, call.Function.Name)
			}
			for _, marker := range decisionMarkers {
				if strings.Contains(text, marker) {
					s.KeyDecisions = appendUnique(s.KeyDecisions, truncate(collapse(msg.Text()), answerDigestLimit))
					break
				}
			}
		}
	}
	return s
}

// renderSummary builds the synthetic system message embedding the capped
// digests plus topic/action tags.
func renderSummary(s Summary) string {
	var sb strings.Builder
	sb.WriteString("Earlier conversation (compressed):\n")
	for _, line := range s.RecentSummaries {
		sb.WriteString("- ")
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	if len(s.Topics) > 0 {
		sb.WriteString("Topics: ")
		sb.WriteString(strings.Join(s.Topics, ", "))
		sb.WriteString("\n")
	}
	if len(s.Actions) > 0 {
		sb.WriteString("Actions taken: ")
		sb.WriteString(strings.Join(s.Actions, ", "))
		sb.WriteString("\n")
	}
	if len(s.PendingTasks) > 0 {
		sb.WriteString("Pending: ")
		sb.WriteString(strings.Join(s.PendingTasks, "; "))
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func countTokens(messages []llm.Message) int {
	total := 0
	for _, msg := range messages {
		total += EstimateTokens(msg.Text())
		for _, call := range msg.ToolCalls {
			total += EstimateTokens(call.Function.Name) + EstimateTokens(call.Function.Arguments)
		}
	}
	return total
}

// collapse squashes runs of whitespace so digests stay single-line.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := values[:0]
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func appendUnique(values []string, v string) []string {
	for _, existing := range values {
		if existing == v {
			return values
		}
	}
	return append(values, v)
}

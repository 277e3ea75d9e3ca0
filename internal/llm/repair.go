package llm

import (
	"crypto/sha256"
	"encoding/hex"
)

// maxToolCallIDLength is the upstream provider's limit on tool call ids.
const maxToolCallIDLength = 40

// SanitizeToolCallID enforces the provider's tool call id length limit.
//
// Ids at or under the limit pass through unchanged. Longer ids are truncated
// to 32 characters plus an underscore and a 7-character digest of the full
// id, so two long ids sharing a prefix still sanitize to distinct values.
// The result is always exactly at or under the limit.
func SanitizeToolCallID(id string) string {
	if len(id) <= maxToolCallIDLength {
		return id
	}
	sum := sha256.Sum256([]byte(id))
	return id[:32] + "_" + hex.EncodeToString(sum[:])[:7]
}

// builder accumulates repaired messages and supports the two documented
// rollback rules (duplicate user, abandoned tool-call assistant) without
// aliasing the input slice.
type builder struct {
	out []Message
}

func (b *builder) append(m Message) {
	b.out = append(b.out, m)
}

func (b *builder) removeLast() {
	if len(b.out) > 0 {
		b.out = b.out[:len(b.out)-1]
	}
}

func (b *builder) last() (Message, bool) {
	if len(b.out) == 0 {
		return Message{}, false
	}
	return b.out[len(b.out)-1], true
}

// Repair rewrites an arbitrary message list into one that satisfies the
// upstream provider's structural contract. It is a best-effort cleanup, not
// a validation step: malformed history is silently pruned, never rejected.
//
// Rules, applied while scanning left to right:
//
//  1. System messages always pass through.
//  2. A tool message is kept only if the tracked "last assistant with tool
//     calls" has a matching (possibly sanitized) call id; otherwise dropped.
//  3. A user message directly after another user message discards the
//     earlier one; the last user message wins.
//  4. A user message directly after an assistant message with unresolved
//     tool calls discards that assistant message, since the provider
//     requires every tool call to be answered before the next user turn.
//  5. An assistant message with neither content nor tool calls is dropped.
//  6. Assistant tool call ids are sanitized to the length limit before
//     being tracked for rule 2.
func Repair(messages []Message) []Message {
	b := &builder{out: make([]Message, 0, len(messages))}

	// pending maps both raw and sanitized ids of the tracked assistant's
	// tool calls to whether a tool result has been seen for them.
	var pending map[string]bool
	unresolved := 0

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			pending = nil
			unresolved = 0
			b.append(msg)

		case RoleTool:
			if pending == nil {
				continue // orphaned tool result
			}
			resolved, ok := pending[msg.ToolCallID]
			if !ok {
				sanitized := SanitizeToolCallID(msg.ToolCallID)
				resolved, ok = pending[sanitized]
				if ok {
					msg.ToolCallID = sanitized
				}
			}
			if !ok || resolved {
				continue // unknown id, or already answered
			}
			pending[msg.ToolCallID] = true
			pending[SanitizeToolCallID(msg.ToolCallID)] = true
			unresolved--
			b.append(msg)

		case RoleUser:
			if last, ok := b.last(); ok {
				if last.Role == RoleUser {
					b.removeLast() // last user message wins
				} else if last.Role == RoleAssistant && len(last.ToolCalls) > 0 && unresolved > 0 {
					b.removeLast() // abandoned tool-call round
				}
			}
			pending = nil
			unresolved = 0
			b.append(msg)

		case RoleAssistant:
			if !msg.HasContent() && len(msg.ToolCalls) == 0 {
				continue
			}
			pending = nil
			unresolved = 0
			if len(msg.ToolCalls) > 0 {
				calls := make([]ToolCall, len(msg.ToolCalls))
				copy(calls, msg.ToolCalls)
				pending = make(map[string]bool, len(calls)*2)
				for i := range calls {
					calls[i].ID = SanitizeToolCallID(calls[i].ID)
					pending[calls[i].ID] = false
					unresolved++
				}
				msg.ToolCalls = calls
			}
			b.append(msg)

		default:
			// Unknown role: drop rather than forward something the
			// provider will reject wholesale.
		}
	}

	return b.out
}

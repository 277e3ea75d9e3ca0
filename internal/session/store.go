package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldops/assistant/internal/compress"
	"github.com/fieldops/assistant/internal/llm"
	"github.com/fieldops/assistant/internal/log"
	"github.com/fieldops/assistant/internal/memory"
)

const (
	sessionColumns = `id, user_id, title, model_name, summary, entity_memory,
		input_tokens, output_tokens, message_count, created_at, updated_at`

	createSessionSQL = `
		INSERT INTO chat_sessions (id, user_id, title, model_name, summary, entity_memory)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + sessionColumns

	getSessionSQL = `SELECT ` + sessionColumns + ` FROM chat_sessions WHERE id = $1`

	reuseSessionSQL = `
		SELECT ` + sessionColumns + `
		FROM chat_sessions
		WHERE user_id = $1 AND updated_at > now() - $2::interval
		ORDER BY updated_at DESC
		LIMIT 1`

	listSessionsSQL = `
		SELECT ` + sessionColumns + `
		FROM chat_sessions
		WHERE user_id = $1
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3`

	updateStateSQL = `
		UPDATE chat_sessions
		SET title = $2, model_name = $3, summary = $4, entity_memory = $5,
			input_tokens = $6, output_tokens = $7, updated_at = now()
		WHERE id = $1`

	deleteSessionSQL     = `DELETE FROM chat_sessions WHERE id = $1`
	deleteAllSessionsSQL = `DELETE FROM chat_sessions WHERE user_id = $1`

	lockSessionSQL = `SELECT id FROM chat_sessions WHERE id = $1 FOR UPDATE`
	maxSequenceSQL = `SELECT COALESCE(MAX(sequence_number), 0) FROM chat_messages WHERE session_id = $1`

	insertMessageSQL = `
		INSERT INTO chat_messages (id, session_id, role, content, tool_calls, tool_call_id, sequence_number)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	bumpMessageCountSQL = `
		UPDATE chat_sessions
		SET message_count = message_count + $2, updated_at = now()
		WHERE id = $1`

	messageColumns = `id, session_id, role, content, tool_calls, tool_call_id, sequence_number, created_at`

	listMessagesSQL = `
		SELECT ` + messageColumns + `
		FROM chat_messages
		WHERE session_id = $1
		ORDER BY sequence_number ASC
		LIMIT $2 OFFSET $3`

	messagesAfterSQL = `
		SELECT ` + messageColumns + `
		FROM chat_messages
		WHERE session_id = $1 AND sequence_number > $2
		ORDER BY sequence_number ASC
		LIMIT $3`

	recentMessagesSQL = `
		SELECT ` + messageColumns + ` FROM (
			SELECT ` + messageColumns + `
			FROM chat_messages
			WHERE session_id = $1
			ORDER BY sequence_number DESC
			LIMIT $2
		) recent
		ORDER BY sequence_number ASC`

	pruneSessionsSQL = `
		DELETE FROM chat_sessions
		WHERE id IN (
			SELECT id FROM chat_sessions
			WHERE user_id = $1
			ORDER BY updated_at DESC
			OFFSET $2
		)`
)

// Store manages session persistence on PostgreSQL.
// Safe for concurrent use.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewStore creates a Store on pool.
func NewStore(pool *pgxpool.Pool, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{pool: pool, logger: logger}
}

// Create inserts a new session for userID.
func (s *Store) Create(ctx context.Context, userID, title, modelName string) (*Session, error) {
	summary, err := json.Marshal(compress.Summary{})
	if err != nil {
		return nil, fmt.Errorf("marshal summary: %w", err)
	}
	mem, err := json.Marshal(memory.New())
	if err != nil {
		return nil, fmt.Errorf("marshal entity memory: %w", err)
	}

	row := s.pool.QueryRow(ctx, createSessionSQL, uuid.New(), userID, title, modelName, summary, mem)
	sess, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.logger.Debug("created session", "id", sess.ID, "user_id", userID)
	return sess, nil
}

// Get retrieves a session by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Session, error) {
	sess, err := scanSession(s.pool.QueryRow(ctx, getSessionSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get session %s: %w", id, ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return sess, nil
}

// Reuse returns the user's most recent session if it was active within
// ReuseWindow, or nil when no session qualifies.
func (s *Store) Reuse(ctx context.Context, userID string) (*Session, error) {
	sess, err := scanSession(s.pool.QueryRow(ctx, reuseSessionSQL, userID, ReuseWindow.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find reusable session: %w", err)
	}
	return sess, nil
}

// List returns the user's sessions, most recently active first.
func (s *Store) List(ctx context.Context, userID string, limit, offset int) ([]*Session, error) {
	if limit <= 0 {
		limit = SessionQuota
	}
	rows, err := s.pool.Query(ctx, listSessionsSQL, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// UpdateState writes the session's post-turn state and bumps updated_at.
func (s *Store) UpdateState(ctx context.Context, id uuid.UUID, state State) error {
	summary, err := json.Marshal(state.Summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	mem := state.EntityMemory
	if mem == nil {
		mem = memory.New()
	}
	memJSON, err := json.Marshal(mem)
	if err != nil {
		return fmt.Errorf("marshal entity memory: %w", err)
	}

	tag, err := s.pool.Exec(ctx, updateStateSQL, id,
		state.Title, state.ModelName, summary, memJSON,
		state.InputTokens, state.OutputTokens)
	if err != nil {
		return fmt.Errorf("update session %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update session %s: %w", id, ErrSessionNotFound)
	}
	return nil
}

// Delete removes one session and, via CASCADE, its messages.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, deleteSessionSQL, id)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete session %s: %w", id, ErrSessionNotFound)
	}
	return nil
}

// DeleteAll removes every session belonging to userID and returns how many
// were deleted.
func (s *Store) DeleteAll(ctx context.Context, userID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, deleteAllSessionsSQL, userID)
	if err != nil {
		return 0, fmt.Errorf("delete sessions for %s: %w", userID, err)
	}
	return tag.RowsAffected(), nil
}

// AppendMessages appends messages to the session's log inside a transaction.
// The session row is locked first so concurrent appends cannot collide on
// sequence numbers.
func (s *Store) AppendMessages(ctx context.Context, id uuid.UUID, messages []llm.Message) error {
	if len(messages) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.logger.Debug("rollback failed", "error", err)
		}
	}()

	var locked uuid.UUID
	if err := tx.QueryRow(ctx, lockSessionSQL, id).Scan(&locked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("append messages: %w", ErrSessionNotFound)
		}
		return fmt.Errorf("lock session %s: %w", id, err)
	}

	var maxSeq int
	if err := tx.QueryRow(ctx, maxSequenceSQL, id).Scan(&maxSeq); err != nil {
		return fmt.Errorf("read max sequence: %w", err)
	}

	for i, msg := range messages {
		content, err := json.Marshal(msg.Content)
		if err != nil {
			return fmt.Errorf("marshal message %d content: %w", i, err)
		}
		var toolCalls []byte
		if len(msg.ToolCalls) > 0 {
			if toolCalls, err = json.Marshal(msg.ToolCalls); err != nil {
				return fmt.Errorf("marshal message %d tool calls: %w", i, err)
			}
		}
		if _, err := tx.Exec(ctx, insertMessageSQL,
			uuid.New(), id, string(msg.Role), content, toolCalls, msg.ToolCallID, maxSeq+i+1); err != nil {
			return fmt.Errorf("insert message %d: %w", i, err)
		}
	}

	if _, err := tx.Exec(ctx, bumpMessageCountSQL, id, len(messages)); err != nil {
		return fmt.Errorf("update message count: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	s.logger.Debug("appended messages", "session_id", id, "count", len(messages))
	return nil
}

// Messages lists a window of the session's messages, always ordered by
// sequence number ascending.
func (s *Store) Messages(ctx context.Context, id uuid.UUID, query MessageQuery) ([]Message, error) {
	limit := query.normalizedLimit()

	var rows pgx.Rows
	var err error
	switch {
	case query.Recent:
		rows, err = s.pool.Query(ctx, recentMessagesSQL, id, query.recentLimit())
	case query.AfterSequence > 0:
		rows, err = s.pool.Query(ctx, messagesAfterSQL, id, query.AfterSequence, limit)
	default:
		rows, err = s.pool.Query(ctx, listMessagesSQL, id, limit, query.Offset)
	}
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			s.logger.Warn("skipping malformed message", "session_id", id, "error", err)
			continue
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// History loads the newest window of the session's log as model messages.
// Once a log outgrows MaxMessageLimit the oldest turns fall off; context
// compression keeps the prompt bounded well inside that window anyway.
func (s *Store) History(ctx context.Context, id uuid.UUID) ([]llm.Message, error) {
	stored, err := s.Messages(ctx, id, MessageQuery{Recent: true, Limit: MaxMessageLimit})
	if err != nil {
		return nil, err
	}

	out := make([]llm.Message, 0, len(stored))
	for _, m := range stored {
		msg := llm.Message{
			Role:       llm.Role(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		if len(m.ToolCalls) > 0 {
			if err := json.Unmarshal(m.ToolCalls, &msg.ToolCalls); err != nil {
				s.logger.Warn("skipping malformed tool calls", "session_id", id, "error", err)
			}
		}
		out = append(out, msg)
	}
	return out, nil
}

// PruneToQuota deletes the user's oldest sessions beyond SessionQuota and
// returns how many were removed.
func (s *Store) PruneToQuota(ctx context.Context, userID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, pruneSessionsSQL, userID, SessionQuota)
	if err != nil {
		return 0, fmt.Errorf("prune sessions for %s: %w", userID, err)
	}
	if n := tag.RowsAffected(); n > 0 {
		s.logger.Debug("pruned sessions", "user_id", userID, "count", n)
		return n, nil
	}
	return 0, nil
}

func scanSession(row pgx.Row) (*Session, error) {
	var sess Session
	var summary, mem []byte
	if err := row.Scan(&sess.ID, &sess.UserID, &sess.Title, &sess.ModelName,
		&summary, &mem, &sess.InputTokens, &sess.OutputTokens,
		&sess.MessageCount, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
		return nil, err
	}
	if len(summary) > 0 {
		if err := json.Unmarshal(summary, &sess.Summary); err != nil {
			return nil, fmt.Errorf("unmarshal summary: %w", err)
		}
	}
	sess.EntityMemory = memory.New()
	if len(mem) > 0 {
		if err := json.Unmarshal(mem, sess.EntityMemory); err != nil {
			return nil, fmt.Errorf("unmarshal entity memory: %w", err)
		}
	}
	return &sess, nil
}

func scanMessage(row pgx.Row) (Message, error) {
	var msg Message
	var content []byte
	if err := row.Scan(&msg.ID, &msg.SessionID, &msg.Role, &content,
		&msg.ToolCalls, &msg.ToolCallID, &msg.SequenceNumber, &msg.CreatedAt); err != nil {
		return Message{}, err
	}
	if len(content) > 0 {
		if err := json.Unmarshal(content, &msg.Content); err != nil {
			return Message{}, fmt.Errorf("unmarshal content: %w", err)
		}
	}
	return msg, nil
}

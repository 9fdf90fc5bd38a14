package conversations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/rs/zerolog"
)

// Message is one turn in a conversation. A compressed message is a synthetic
// summary standing in for several original turns; OriginalLength records how
// many messages it replaced.
type Message struct {
	ID              int64  `json:"id"`
	ConversationKey string `json:"conversation_key"`
	Role            string `json:"role"` // user, assistant, system, tool
	Content         string `json:"content"`
	Tokens          int    `json:"tokens"`
	Compressed      bool   `json:"compressed"`
	OriginalLength  int    `json:"original_length,omitempty"`
	CreatedAt       int64  `json:"created_at"` // unix ms
}

// State is the per-conversation bookkeeping the sleep engine reads.
type State struct {
	ConversationKey string
	TotalTokens     int
	SleepCount      int
	SleepAtMS       int64 // last sleep, unix ms; zero when never slept
	UpdatedAt       int64
}

// Store persists conversation history in the shared index database.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewStore(db *sql.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "conversations").Logger(),
	}
}

func nowMS() int64 { return time.Now().UnixMilli() }

// Append saves a message and adds its tokens to the conversation's running
// total.
func (s *Store) Append(ctx context.Context, key, role, content string, tokens int) (Message, error) {
	msg := Message{
		ConversationKey: key,
		Role:            role,
		Content:         content,
		Tokens:          tokens,
		CreatedAt:       nowMS(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	id, err := insertMessage(ctx, tx, msg)
	if err != nil {
		return Message{}, err
	}
	msg.ID = id

	if err := bumpState(ctx, tx, key, tokens); err != nil {
		return Message{}, err
	}
	if err := tx.Commit(); err != nil {
		return Message{}, fmt.Errorf("commit: %w", err)
	}
	return msg, nil
}

// List returns a conversation's messages in insertion order.
func (s *Store) List(ctx context.Context, key string) ([]Message, error) {
	query := sq.Select("id", "conversation_key", "role", "content", "tokens",
		"compressed", "original_length", "created_at").
		From("conversations").
		Where(sq.Eq{"conversation_key": key}).
		OrderBy("id ASC")
	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close() //nolint:errcheck // no remedy for rows close error

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationKey, &m.Role, &m.Content,
			&m.Tokens, &m.Compressed, &m.OriginalLength, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Replace swaps a conversation's full history for a new one atomically and
// resets the token total to the new history's sum. The sleep engine calls
// this after compression.
func (s *Store) Replace(ctx context.Context, key string, msgs []Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	del := sq.Delete("conversations").Where(sq.Eq{"conversation_key": key})
	queryStr, args, err := del.ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	if _, err := tx.ExecContext(ctx, queryStr, args...); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}

	total := 0
	for _, m := range msgs {
		m.ConversationKey = key
		if m.CreatedAt == 0 {
			m.CreatedAt = nowMS()
		}
		if _, err := insertMessage(ctx, tx, m); err != nil {
			return err
		}
		total += m.Tokens
	}

	if err := setStateTokens(ctx, tx, key, total); err != nil {
		return err
	}
	return tx.Commit()
}

// State returns the conversation's bookkeeping row. A conversation that has
// never been written returns a zero-valued State, not an error.
func (s *Store) State(ctx context.Context, key string) (State, error) {
	query := sq.Select("conversation_key", "total_tokens", "sleep_count", "sleep_at", "updated_at").
		From("conversation_state").
		Where(sq.Eq{"conversation_key": key})
	queryStr, args, err := query.ToSql()
	if err != nil {
		return State{}, fmt.Errorf("build query: %w", err)
	}

	var st State
	err = s.db.QueryRowContext(ctx, queryStr, args...).
		Scan(&st.ConversationKey, &st.TotalTokens, &st.SleepCount, &st.SleepAtMS, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return State{ConversationKey: key}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("read state: %w", err)
	}
	return st, nil
}

// RecordSleep bumps the sleep counter and timestamp after a sleep cycle.
func (s *Store) RecordSleep(ctx context.Context, key string) error {
	now := nowMS()
	res, err := s.db.ExecContext(ctx, `
UPDATE conversation_state
SET sleep_count = sleep_count + 1, sleep_at = ?, updated_at = ?
WHERE conversation_key = ?
`, now, now, key)
	if err != nil {
		return fmt.Errorf("record sleep: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		_, err = s.db.ExecContext(ctx, `
INSERT INTO conversation_state (conversation_key, total_tokens, sleep_count, sleep_at, updated_at)
VALUES (?, 0, 1, ?, ?)
`, key, now, now)
	}
	if err != nil {
		return fmt.Errorf("record sleep: %w", err)
	}
	s.logger.Debug().Str("conversation", key).Msg("Recorded sleep cycle")
	return nil
}

func insertMessage(ctx context.Context, tx *sql.Tx, m Message) (int64, error) {
	query := sq.Insert("conversations").
		Columns("conversation_key", "role", "content", "tokens", "compressed", "original_length", "created_at").
		Values(m.ConversationKey, m.Role, m.Content, m.Tokens, m.Compressed, m.OriginalLength, m.CreatedAt)
	queryStr, args, err := query.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build insert: %w", err)
	}
	res, err := tx.ExecContext(ctx, queryStr, args...)
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}
	return res.LastInsertId()
}

func bumpState(ctx context.Context, tx *sql.Tx, key string, tokens int) error {
	now := nowMS()
	_, err := tx.ExecContext(ctx, `
INSERT INTO conversation_state (conversation_key, total_tokens, sleep_count, sleep_at, updated_at)
VALUES (?, ?, 0, 0, ?)
ON CONFLICT(conversation_key) DO UPDATE SET
  total_tokens = total_tokens + excluded.total_tokens,
  updated_at = excluded.updated_at
`, key, tokens, now)
	if err != nil {
		return fmt.Errorf("update state: %w", err)
	}
	return nil
}

func setStateTokens(ctx context.Context, tx *sql.Tx, key string, tokens int) error {
	now := nowMS()
	_, err := tx.ExecContext(ctx, `
INSERT INTO conversation_state (conversation_key, total_tokens, sleep_count, sleep_at, updated_at)
VALUES (?, ?, 0, 0, ?)
ON CONFLICT(conversation_key) DO UPDATE SET
  total_tokens = excluded.total_tokens,
  updated_at = excluded.updated_at
`, key, tokens, now)
	if err != nil {
		return fmt.Errorf("reset state tokens: %w", err)
	}
	return nil
}

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hyperjump/readmatrix/internal/models"
)

const messageColumns = `id, conversation_id, role, content, COALESCE(citations, ''), token_estimate, is_clarification, is_summary, created_at`

// CreateConversation inserts conv, assigning an ID and timestamps when missing.
func (s *SQLiteStorage) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	if conv.ID == "" {
		conv.ID = uuid.New().String()
	}
	if conv.Status == "" {
		conv.Status = models.ConversationStatusActive
	}
	now := time.Now().UTC()
	conv.CreatedAt = now
	conv.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, title, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		conv.ID, conv.Title, conv.Status, conv.CreatedAt, conv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

// GetConversation returns a conversation by ID, or an error wrapping models.ErrNotFound.
func (s *SQLiteStorage) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.db.QueryRowContext(ctx,
		`SELECT id, COALESCE(title, ''), status, created_at, updated_at FROM conversations WHERE id = ?`, id,
	).Scan(&conv.ID, &conv.Title, &conv.Status, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return &conv, nil
}

// ListConversations returns conversations, most recently updated first.
func (s *SQLiteStorage) ListConversations(ctx context.Context, limit, offset int) ([]*models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, COALESCE(title, ''), status, created_at, updated_at
		 FROM conversations ORDER BY updated_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var convs []*models.Conversation
	for rows.Next() {
		var conv models.Conversation
		if err := rows.Scan(&conv.ID, &conv.Title, &conv.Status, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, err
		}
		convs = append(convs, &conv)
	}
	return convs, rows.Err()
}

// DeleteConversation removes a conversation and, by cascade, its messages.
func (s *SQLiteStorage) DeleteConversation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("conversation %s: %w", id, models.ErrNotFound)
	}
	return nil
}

// TouchConversation bumps updated_at.
func (s *SQLiteStorage) TouchConversation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("conversation %s: %w", id, models.ErrNotFound)
	}
	return nil
}

// AddMessage inserts msg, assigning an ID and CreatedAt when missing.
func (s *SQLiteStorage) AddMessage(ctx context.Context, msg *models.ConversationMessage) error {
	return insertMessage(ctx, s.db, msg)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertMessage(ctx context.Context, db execer, msg *models.ConversationMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	citations := ""
	if len(msg.Citations) > 0 {
		data, err := json.Marshal(msg.Citations)
		if err != nil {
			return fmt.Errorf("failed to marshal citations: %w", err)
		}
		citations = string(data)
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, citations, token_estimate, is_clarification, is_summary, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, citations, msg.TokenEstimate,
		msg.IsClarification, msg.IsSummary, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to add message: %w", err)
	}
	return nil
}

// ListMessages returns messages oldest-first with offset and limit.
func (s *SQLiteStorage) ListMessages(ctx context.Context, conversationID string, limit, offset int, includeSystem bool) ([]*models.ConversationMessage, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE conversation_id = ?`
	if !includeSystem {
		query += ` AND is_summary = 0 AND role != 'system'`
	}
	query += ` ORDER BY created_at ASC, rowid ASC LIMIT ? OFFSET ?`
	return s.queryMessages(ctx, query, conversationID, limit, offset)
}

// RecentMessages returns the last limit non-summary messages, oldest-first.
func (s *SQLiteStorage) RecentMessages(ctx context.Context, conversationID string, limit int) ([]*models.ConversationMessage, error) {
	msgs, err := s.queryMessages(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE conversation_id = ? AND is_summary = 0
		 ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		conversationID, limit,
	)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// RecentAssistantMessages returns the last limit assistant messages, newest-first.
func (s *SQLiteStorage) RecentAssistantMessages(ctx context.Context, conversationID string, limit int) ([]*models.ConversationMessage, error) {
	return s.queryMessages(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE conversation_id = ? AND role = 'assistant' AND is_summary = 0
		 ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		conversationID, limit,
	)
}

// CountMessages counts non-summary messages with the given role; an empty role counts all.
func (s *SQLiteStorage) CountMessages(ctx context.Context, conversationID, role string) (int, error) {
	var n int
	var err error
	if role == "" {
		err = s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM messages WHERE conversation_id = ? AND is_summary = 0`, conversationID,
		).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM messages WHERE conversation_id = ? AND is_summary = 0 AND role = ?`, conversationID, role,
		).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}

// GetSummary returns the conversation summary message, or nil when none exists.
func (s *SQLiteStorage) GetSummary(ctx context.Context, conversationID string) (*models.ConversationMessage, error) {
	msgs, err := s.queryMessages(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE conversation_id = ? AND is_summary = 1
		 ORDER BY created_at DESC, rowid DESC LIMIT 1`,
		conversationID,
	)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return msgs[0], nil
}

// SaveSummary replaces any prior summary with msg in one transaction.
func (s *SQLiteStorage) SaveSummary(ctx context.Context, msg *models.ConversationMessage) error {
	msg.Role = models.RoleSystem
	msg.IsSummary = true

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE conversation_id = ? AND is_summary = 1`, msg.ConversationID,
	); err != nil {
		return fmt.Errorf("failed to delete summary: %w", err)
	}
	if err := insertMessage(ctx, tx, msg); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStorage) queryMessages(ctx context.Context, query string, args ...any) ([]*models.ConversationMessage, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var msgs []*models.ConversationMessage
	for rows.Next() {
		var m models.ConversationMessage
		var citations string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &citations,
			&m.TokenEstimate, &m.IsClarification, &m.IsSummary, &m.CreatedAt); err != nil {
			return nil, err
		}
		if citations != "" {
			if err := json.Unmarshal([]byte(citations), &m.Citations); err != nil {
				return nil, fmt.Errorf("failed to unmarshal citations: %w", err)
			}
		}
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

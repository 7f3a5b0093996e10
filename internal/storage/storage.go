// Package storage defines the persistence interfaces for index state and conversations.
package storage

import (
	"context"

	"github.com/hyperjump/readmatrix/internal/models"
)

// FileStore persists per-file indexing state.
type FileStore interface {
	GetFile(ctx context.Context, path string) (*models.FileRecord, error)
	ListFiles(ctx context.Context) ([]*models.FileRecord, error)
	UpsertFile(ctx context.Context, rec *models.FileRecord) error
	DeleteFile(ctx context.Context, path string) error
	ClearFiles(ctx context.Context) error
	CountFilesByStatus(ctx context.Context) (map[string]int, error)
}

// TaskStore persists indexing run progress.
type TaskStore interface {
	CreateTask(ctx context.Context, taskType string, total int) (*models.Task, error)
	UpdateTaskProgress(ctx context.Context, id int64, progress, total int) error
	FinishTask(ctx context.Context, id int64, status, errMsg string) error
	LatestTask(ctx context.Context) (*models.Task, error)
}

// ConversationStore persists conversations and their messages.
type ConversationStore interface {
	// Conversation operations
	CreateConversation(ctx context.Context, conv *models.Conversation) error
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	ListConversations(ctx context.Context, limit, offset int) ([]*models.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
	TouchConversation(ctx context.Context, id string) error

	// Message operations
	AddMessage(ctx context.Context, msg *models.ConversationMessage) error
	// ListMessages returns messages oldest-first. Summary messages are excluded unless includeSystem is set.
	ListMessages(ctx context.Context, conversationID string, limit, offset int, includeSystem bool) ([]*models.ConversationMessage, error)
	// RecentMessages returns the last limit non-summary messages, oldest-first.
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]*models.ConversationMessage, error)
	// RecentAssistantMessages returns the last limit assistant messages, newest-first.
	RecentAssistantMessages(ctx context.Context, conversationID string, limit int) ([]*models.ConversationMessage, error)
	CountMessages(ctx context.Context, conversationID, role string) (int, error)

	// Summary operations
	GetSummary(ctx context.Context, conversationID string) (*models.ConversationMessage, error)
	SaveSummary(ctx context.Context, msg *models.ConversationMessage) error
}

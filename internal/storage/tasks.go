package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hyperjump/readmatrix/internal/models"
)

// CreateTask inserts a running task and returns it with its ID.
func (s *SQLiteStorage) CreateTask(ctx context.Context, taskType string, total int) (*models.Task, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (type, status, progress, total, created_at, updated_at) VALUES (?, ?, 0, ?, ?, ?)`,
		taskType, models.TaskStatusRunning, total, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read task id: %w", err)
	}
	return &models.Task{
		ID:        id,
		Type:      taskType,
		Status:    models.TaskStatusRunning,
		Total:     total,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// UpdateTaskProgress records progress for a running task.
func (s *SQLiteStorage) UpdateTaskProgress(ctx context.Context, id int64, progress, total int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET progress = ?, total = ?, updated_at = ? WHERE id = ?`,
		progress, total, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	return nil
}

// FinishTask marks a task done or failed.
func (s *SQLiteStorage) FinishTask(ctx context.Context, id int64, status, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		status, errMsg, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish task: %w", err)
	}
	return nil
}

// LatestTask returns the most recently created task, or an error wrapping models.ErrNotFound.
func (s *SQLiteStorage) LatestTask(ctx context.Context) (*models.Task, error) {
	var t models.Task
	err := s.db.QueryRowContext(ctx,
		`SELECT id, type, status, progress, total, COALESCE(error, ''), created_at, updated_at
		 FROM tasks ORDER BY id DESC LIMIT 1`,
	).Scan(&t.ID, &t.Type, &t.Status, &t.Progress, &t.Total, &t.Error, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task: %w", models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return &t, nil
}

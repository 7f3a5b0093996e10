package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/readmatrix/internal/embedding"
	"github.com/hyperjump/readmatrix/internal/keyword"
	"github.com/hyperjump/readmatrix/internal/models"
	"github.com/hyperjump/readmatrix/internal/storage"
	"github.com/hyperjump/readmatrix/internal/vault"
	"github.com/hyperjump/readmatrix/internal/vector"
)

const defaultBatchSize = 256

// ProgressFunc is called after each processed file.
type ProgressFunc func(current, total int, message string)

// Manager runs the scan, parse, chunk, embed, and store pipeline. Only one run
// (full, incremental, or single file) touches the index at a time.
type Manager struct {
	scanner      *vault.Scanner
	files        storage.FileStore
	tasks        storage.TaskStore
	embedder     embedding.Embedder
	store        vector.Store
	keywordIndex keyword.Index // optional
	batchSize    int
	diskPaths    []string
	logger       *zap.Logger // optional; when set, logs debug events

	mu sync.Mutex
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets a logger for debug output (file indexed, file removed, etc.).
func WithLogger(l *zap.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithKeywordIndex mirrors every chunk into a keyword index.
func WithKeywordIndex(idx keyword.Index) ManagerOption {
	return func(m *Manager) { m.keywordIndex = idx }
}

// WithBatchSize sets how many chunks are embedded and stored per round trip.
func WithBatchSize(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.batchSize = n
		}
	}
}

// WithDiskPaths sets the files and directories whose size Stats reports.
func WithDiskPaths(paths ...string) ManagerOption {
	return func(m *Manager) { m.diskPaths = paths }
}

// NewManager creates an index manager.
func NewManager(
	scanner *vault.Scanner,
	files storage.FileStore,
	tasks storage.TaskStore,
	embedder embedding.Embedder,
	store vector.Store,
	opts ...ManagerOption,
) *Manager {
	m := &Manager{
		scanner:   scanner,
		files:     files,
		tasks:     tasks,
		embedder:  embedder,
		store:     store,
		batchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// FullRebuild clears the index and re-indexes every file in the vault. Failing to
// clear or scan aborts the run; per-file failures are recorded and the run continues.
func (m *Manager) FullRebuild(ctx context.Context, progress ProgressFunc) (*models.IndexStats, error) {
	if !m.mu.TryLock() {
		return nil, models.ErrIndexInProgress
	}
	defer m.mu.Unlock()

	task, err := m.tasks.CreateTask(ctx, models.TaskTypeFullRebuild, 0)
	if err != nil {
		return nil, err
	}
	stats, err := m.fullRebuild(ctx, task, progress)
	m.finishTask(task, err)
	return stats, err
}

func (m *Manager) fullRebuild(ctx context.Context, task *models.Task, progress ProgressFunc) (*models.IndexStats, error) {
	if err := m.store.Clear(ctx); err != nil {
		return nil, fmt.Errorf("failed to clear vector store: %w", err)
	}
	if m.keywordIndex != nil {
		if err := m.keywordIndex.Clear(ctx); err != nil {
			return nil, fmt.Errorf("failed to clear keyword index: %w", err)
		}
	}
	if err := m.files.ClearFiles(ctx); err != nil {
		return nil, err
	}
	scanned, err := m.scanner.Scan()
	if err != nil {
		return nil, err
	}

	total := len(scanned)
	stats := &models.IndexStats{TotalFiles: total, FilesToIndex: total, Errors: []string{}}
	report(progress, 0, total, "Scanning vault...")
	m.updateTask(ctx, task, 0, total)

	for i, f := range scanned {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		n, err := m.indexFile(ctx, f.Path, f.SourceType)
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", f.Path, err))
			m.recordError(ctx, f.Path, f.SourceType, err)
		} else {
			stats.IndexedFiles++
			stats.TotalChunks += n
		}
		report(progress, i+1, total, "Indexed: "+filepath.Base(f.Path))
		m.updateTask(ctx, task, i+1, total)
	}
	if err := m.store.Save(); err != nil {
		return stats, fmt.Errorf("failed to save vector store: %w", err)
	}
	if m.logger != nil {
		m.logger.Debug("full rebuild done",
			zap.Int("files", stats.IndexedFiles), zap.Int("chunks", stats.TotalChunks), zap.Int("errors", len(stats.Errors)))
	}
	return stats, nil
}

// IncrementalUpdate indexes new and changed files and removes files that left the vault.
// A file whose mtime is unchanged is skipped; one whose mtime changed but whose content
// hash did not only has its stored mtime refreshed.
func (m *Manager) IncrementalUpdate(ctx context.Context, progress ProgressFunc) (*models.IndexStats, error) {
	if !m.mu.TryLock() {
		return nil, models.ErrIndexInProgress
	}
	defer m.mu.Unlock()

	task, err := m.tasks.CreateTask(ctx, models.TaskTypeIncremental, 0)
	if err != nil {
		return nil, err
	}
	stats, err := m.incrementalUpdate(ctx, task, progress)
	m.finishTask(task, err)
	return stats, err
}

func (m *Manager) incrementalUpdate(ctx context.Context, task *models.Task, progress ProgressFunc) (*models.IndexStats, error) {
	records, err := m.files.ListFiles(ctx)
	if err != nil {
		return nil, err
	}
	indexed := make(map[string]*models.FileRecord, len(records))
	for _, rec := range records {
		indexed[rec.Path] = rec
	}
	scanned, err := m.scanner.Scan()
	if err != nil {
		return nil, err
	}

	stats := &models.IndexStats{TotalFiles: len(scanned), Errors: []string{}}
	var toIndex []vault.ScannedFile
	present := make(map[string]bool, len(scanned))
	for _, f := range scanned {
		present[f.Path] = true
		needs, err := m.needsIndex(ctx, indexed[f.Path])
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", f.Path, err))
			continue
		}
		if needs {
			toIndex = append(toIndex, f)
		} else {
			stats.Skipped++
		}
	}
	var toRemove []string
	for _, rec := range records {
		if !present[rec.Path] {
			toRemove = append(toRemove, rec.Path)
		}
	}

	stats.FilesToIndex = len(toIndex)
	stats.FilesToRemove = len(toRemove)
	total := len(toIndex) + len(toRemove)
	report(progress, 0, total, "Starting incremental update...")
	m.updateTask(ctx, task, 0, total)

	done := 0
	for _, path := range toRemove {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := m.removeFile(ctx, path); err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", path, err))
		} else {
			stats.Removed++
		}
		done++
		report(progress, done, total, "Removed: "+filepath.Base(path))
		m.updateTask(ctx, task, done, total)
	}
	for _, f := range toIndex {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		n, err := m.reindexFile(ctx, f.Path, f.SourceType)
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", f.Path, err))
			m.recordError(ctx, f.Path, f.SourceType, err)
		} else {
			stats.IndexedFiles++
			stats.TotalChunks += n
		}
		done++
		report(progress, done, total, "Indexed: "+filepath.Base(f.Path))
		m.updateTask(ctx, task, done, total)
	}
	if total > 0 {
		if err := m.store.Save(); err != nil {
			return stats, fmt.Errorf("failed to save vector store: %w", err)
		}
	}
	return stats, nil
}

// needsIndex applies the two-tier change check. When the mtime moved but the content
// did not, the record is refreshed in place and false is returned.
func (m *Manager) needsIndex(ctx context.Context, rec *models.FileRecord) (bool, error) {
	if rec == nil || rec.Status != models.FileStatusIndexed {
		return true, nil
	}
	mtime, err := vault.Stat(rec.Path)
	if err != nil {
		return false, err
	}
	if mtime.Equal(rec.Mtime) {
		return false, nil
	}
	hash, err := vault.ComputeHash(rec.Path)
	if err != nil {
		return false, err
	}
	if hash != rec.Hash {
		return true, nil
	}
	updated := *rec
	updated.Mtime = mtime
	if err := m.files.UpsertFile(ctx, &updated); err != nil {
		return false, err
	}
	if m.logger != nil {
		m.logger.Debug("indexer refreshed mtime of unchanged file", zap.String("path", rec.Path))
	}
	return false, nil
}

// IndexFile indexes one file if it changed since it was last indexed. Paths that the
// scanner would not list are ignored; a path that no longer exists is removed.
func (m *Manager) IndexFile(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return m.removeIfIndexed(ctx, path)
	}
	sourceType, ok, err := m.scanner.Classify(path)
	if err != nil {
		return err
	}
	if !ok {
		if m.logger != nil {
			m.logger.Debug("indexer ignoring path outside scan", zap.String("path", path))
		}
		return nil
	}
	rec, err := m.files.GetFile(ctx, path)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return err
	}
	needs, err := m.needsIndex(ctx, rec)
	if err != nil {
		return err
	}
	if !needs {
		if m.logger != nil {
			m.logger.Debug("indexer skipping unchanged file", zap.String("path", path))
		}
		return nil
	}
	if _, err := m.reindexFile(ctx, path, sourceType); err != nil {
		m.recordError(ctx, path, sourceType, err)
		return err
	}
	return m.store.Save()
}

// RemoveFile drops a file's chunks and record.
func (m *Manager) RemoveFile(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeIfIndexed(ctx, path)
}

func (m *Manager) removeIfIndexed(ctx context.Context, path string) error {
	if err := m.removeFile(ctx, path); err != nil {
		return err
	}
	return m.store.Save()
}

func (m *Manager) removeFile(ctx context.Context, path string) error {
	if err := m.purge(ctx, path); err != nil {
		return err
	}
	if err := m.files.DeleteFile(ctx, path); err != nil {
		return err
	}
	if m.logger != nil {
		m.logger.Debug("indexer file removed", zap.String("path", path))
	}
	return nil
}

func (m *Manager) purge(ctx context.Context, path string) error {
	if _, err := m.store.Delete(ctx, vector.Equal(models.MetaSourcePath, path)); err != nil {
		return fmt.Errorf("failed to delete vectors: %w", err)
	}
	if m.keywordIndex != nil {
		if _, err := m.keywordIndex.DeleteBySource(ctx, path); err != nil {
			return fmt.Errorf("failed to delete from keyword index: %w", err)
		}
	}
	return nil
}

func (m *Manager) reindexFile(ctx context.Context, path, sourceType string) (int, error) {
	if err := m.purge(ctx, path); err != nil {
		return 0, err
	}
	return m.indexFile(ctx, path, sourceType)
}

// indexFile parses, chunks, embeds, and stores one file and marks it indexed.
func (m *Manager) indexFile(ctx context.Context, path, sourceType string) (int, error) {
	if m.logger != nil {
		m.logger.Debug("indexer indexing file", zap.String("path", path), zap.String("source_type", sourceType))
	}
	doc, err := vault.ParseFile(path, sourceType)
	if err != nil {
		return 0, err
	}
	chunks, err := ChunkDocument(doc)
	if err != nil {
		return 0, err
	}
	for start := 0; start < len(chunks); start += m.batchSize {
		end := start + m.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		if err := m.storeChunks(ctx, chunks[start:end]); err != nil {
			return 0, err
		}
	}
	rec := &models.FileRecord{
		Path:       path,
		Hash:       doc.Hash,
		Mtime:      doc.Mtime,
		Status:     models.FileStatusIndexed,
		SourceType: sourceType,
		BookID:     doc.BookID(),
	}
	if err := m.files.UpsertFile(ctx, rec); err != nil {
		return 0, err
	}
	if m.logger != nil {
		m.logger.Debug("indexer file indexed", zap.String("path", path), zap.Int("chunks", len(chunks)))
	}
	return len(chunks), nil
}

func (m *Manager) storeChunks(ctx context.Context, chunks []models.Chunk) error {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := m.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}
	records := make([]vector.Record, len(chunks))
	for i, c := range chunks {
		records[i] = vector.Record{
			ID:       c.ChunkID,
			Vector:   vectors[i],
			Content:  c.Content,
			Metadata: c.ToMetadata(),
		}
	}
	if err := m.store.Upsert(ctx, records); err != nil {
		return fmt.Errorf("failed to index vectors: %w", err)
	}
	if m.keywordIndex != nil {
		if err := m.keywordIndex.IndexChunks(ctx, chunks); err != nil {
			return fmt.Errorf("failed to index keywords: %w", err)
		}
	}
	return nil
}

// recordError marks a file as failed. The hash is left empty so the next run retries it.
func (m *Manager) recordError(ctx context.Context, path, sourceType string, cause error) {
	rec := &models.FileRecord{
		Path:       path,
		Status:     models.FileStatusError,
		SourceType: sourceType,
		LastError:  cause.Error(),
	}
	if err := m.files.UpsertFile(ctx, rec); err != nil && m.logger != nil {
		m.logger.Warn("failed to record file error", zap.String("path", path), zap.Error(err))
	}
	if m.logger != nil {
		m.logger.Warn("indexing file failed", zap.String("path", path), zap.Error(cause))
	}
}

// Stats reports file counts by status, chunk totals, and known books.
func (m *Manager) Stats(ctx context.Context) (*models.IndexOverview, error) {
	counts, err := m.files.CountFilesByStatus(ctx)
	if err != nil {
		return nil, err
	}
	overview := &models.IndexOverview{
		Files:       counts,
		TotalChunks: m.store.Count(),
		BookIDs:     m.store.BookIDs(),
	}
	for _, n := range counts {
		overview.TotalFiles += n
	}
	if m.keywordIndex != nil {
		if n, err := m.keywordIndex.DocCount(); err == nil {
			overview.KeywordChunks = n
		}
	}
	if len(m.diskPaths) > 0 {
		size, err := storage.DiskUsage(m.diskPaths...)
		if err != nil {
			return nil, fmt.Errorf("failed to measure disk usage: %w", err)
		}
		overview.DiskUsageBytes = size
	}
	if task, err := m.tasks.LatestTask(ctx); err == nil {
		overview.LastTask = task
	}
	return overview, nil
}

// LatestTask returns the most recent indexing run.
func (m *Manager) LatestTask(ctx context.Context) (*models.Task, error) {
	return m.tasks.LatestTask(ctx)
}

func (m *Manager) updateTask(ctx context.Context, task *models.Task, progress, total int) {
	if err := m.tasks.UpdateTaskProgress(ctx, task.ID, progress, total); err != nil && m.logger != nil {
		m.logger.Warn("failed to update task progress", zap.Int64("task", task.ID), zap.Error(err))
	}
}

func (m *Manager) finishTask(task *models.Task, runErr error) {
	status, msg := models.TaskStatusDone, ""
	if runErr != nil {
		status, msg = models.TaskStatusError, runErr.Error()
	}
	// The run context may already be cancelled; the final status is still written.
	if err := m.tasks.FinishTask(context.Background(), task.ID, status, msg); err != nil && m.logger != nil {
		m.logger.Warn("failed to finish task", zap.Int64("task", task.ID), zap.Error(err))
	}
}

func report(progress ProgressFunc, current, total int, message string) {
	if progress != nil {
		progress(current, total, message)
	}
}

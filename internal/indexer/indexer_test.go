package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperjump/readmatrix/internal/embedding"
	"github.com/hyperjump/readmatrix/internal/keyword"
	"github.com/hyperjump/readmatrix/internal/models"
	"github.com/hyperjump/readmatrix/internal/storage"
	"github.com/hyperjump/readmatrix/internal/vault"
	"github.com/hyperjump/readmatrix/internal/vector"
)

const bookA = `---
doc_type: weread-highlights-reviews
bookId: "A1"
author: 余华
title: 活着
---
### 第一章
> 📌 人是为活着本身而活着的 ^a1
> 📌 生活是属于每个人自己的感受 ^a2
`

const bookB = `---
doc_type: weread-highlights-reviews
bookId: "B1"
title: 三体
---
### 第一部
> 📌 给岁月以文明 ^b1
`

// countingEmbedder counts how many texts it was asked to embed.
type countingEmbedder struct {
	embedding.Embedder
	texts atomic.Int64
}

func (c *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	c.texts.Add(int64(len(texts)))
	return c.Embedder.Embed(ctx, texts)
}

type testEnv struct {
	vault    string
	manager  *Manager
	db       *storage.SQLiteStorage
	store    *vector.MemoryStore
	keywords *keyword.BleveIndex
	embedder *countingEmbedder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	vaultDir := filepath.Join(dir, "vault")
	if err := os.MkdirAll(filepath.Join(vaultDir, "微信读书"), 0o755); err != nil {
		t.Fatal(err)
	}
	db, err := storage.NewSQLiteStorage(filepath.Join(dir, "db.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	store, err := vector.NewMemoryStore(filepath.Join(dir, "vectors", "store.bin"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	kw, err := keyword.NewBleveIndex(filepath.Join(dir, "bleve"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = kw.Close() })
	emb := &countingEmbedder{Embedder: embedding.NewMockEmbedder(32)}

	m := NewManager(
		vault.NewScanner(vaultDir, "微信读书"), db, db, emb, store,
		WithKeywordIndex(kw), WithBatchSize(2), WithDiskPaths(dir),
	)
	return &testEnv{vault: vaultDir, manager: m, db: db, store: store, keywords: kw, embedder: emb}
}

func (e *testEnv) write(t *testing.T, rel, content string) string {
	t.Helper()
	path := filepath.Join(e.vault, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func (e *testEnv) chunksFor(t *testing.T, path string) []vector.Record {
	t.Helper()
	recs, err := e.store.Get(context.Background(), vector.Equal(models.MetaSourcePath, path), 0)
	if err != nil {
		t.Fatal(err)
	}
	return recs
}

func TestManager_FullRebuild(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	pathA := env.write(t, "微信读书/活着.md", bookA)
	env.write(t, "微信读书/三体.md", bookB)
	env.write(t, "notes/idea.md", "# Idea\nsome thoughts")
	broken := env.write(t, "微信读书/空.md", "---\nbookId: X\n---\nno highlights here")

	var calls int
	stats, err := env.manager.FullRebuild(ctx, func(current, total int, msg string) {
		calls++
		if total != 4 {
			t.Errorf("progress total = %d", total)
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalFiles != 4 || stats.IndexedFiles != 3 || stats.TotalChunks != 4 {
		t.Errorf("stats = %+v", stats)
	}
	if len(stats.Errors) != 1 {
		t.Fatalf("errors = %v", stats.Errors)
	}
	if calls != 5 {
		t.Errorf("progress calls = %d, want 5", calls)
	}
	if env.store.Count() != 4 {
		t.Errorf("vector count = %d", env.store.Count())
	}
	if n, _ := env.keywords.DocCount(); n != 4 {
		t.Errorf("keyword count = %d", n)
	}
	if got := len(env.chunksFor(t, pathA)); got != 2 {
		t.Errorf("chunks for book A = %d", got)
	}

	rec, err := env.db.GetFile(ctx, broken)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != models.FileStatusError || rec.LastError == "" {
		t.Errorf("broken record = %+v", rec)
	}
	rec, err = env.db.GetFile(ctx, pathA)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != models.FileStatusIndexed || rec.BookID != "A1" || rec.Hash == "" {
		t.Errorf("record A = %+v", rec)
	}

	task, err := env.db.LatestTask(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if task.Type != models.TaskTypeFullRebuild || task.Status != models.TaskStatusDone || task.Progress != 4 {
		t.Errorf("task = %+v", task)
	}
}

func TestManager_FullRebuildMissingVault(t *testing.T) {
	env := newTestEnv(t)
	if err := os.RemoveAll(env.vault); err != nil {
		t.Fatal(err)
	}
	if _, err := env.manager.FullRebuild(context.Background(), nil); err == nil {
		t.Fatal("expected error for missing vault")
	}
	task, err := env.db.LatestTask(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if task.Status != models.TaskStatusError || task.Error == "" {
		t.Errorf("task = %+v", task)
	}
}

func TestManager_IncrementalUnchanged(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.write(t, "微信读书/活着.md", bookA)
	env.write(t, "微信读书/三体.md", bookB)
	if _, err := env.manager.FullRebuild(ctx, nil); err != nil {
		t.Fatal(err)
	}
	before := env.embedder.texts.Load()

	stats, err := env.manager.IncrementalUpdate(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if stats.FilesToIndex != 0 || stats.FilesToRemove != 0 || stats.Skipped != 2 {
		t.Errorf("stats = %+v", stats)
	}
	if env.embedder.texts.Load() != before {
		t.Error("unchanged files were re-embedded")
	}
	if env.store.Count() != 3 {
		t.Errorf("vector count = %d", env.store.Count())
	}
}

func TestManager_IncrementalTouchedButSameContent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	path := env.write(t, "微信读书/活着.md", bookA)
	if _, err := env.manager.FullRebuild(ctx, nil); err != nil {
		t.Fatal(err)
	}
	before := env.embedder.texts.Load()
	later := time.Now().Add(time.Hour).Truncate(time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatal(err)
	}

	stats, err := env.manager.IncrementalUpdate(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if stats.FilesToIndex != 0 {
		t.Errorf("stats = %+v", stats)
	}
	if env.embedder.texts.Load() != before {
		t.Error("touched file was re-embedded")
	}
	rec, err := env.db.GetFile(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if !rec.Mtime.Equal(later) {
		t.Errorf("mtime = %v, want %v", rec.Mtime, later)
	}
}

func TestManager_IncrementalChangedFile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	path := env.write(t, "微信读书/活着.md", bookA)
	if _, err := env.manager.FullRebuild(ctx, nil); err != nil {
		t.Fatal(err)
	}
	old := env.chunksFor(t, path)

	env.write(t, "微信读书/活着.md", bookA+"> 📌 新增的划线 ^a3\n")
	later := time.Now().Add(time.Hour)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatal(err)
	}
	stats, err := env.manager.IncrementalUpdate(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if stats.FilesToIndex != 1 || stats.IndexedFiles != 1 || stats.TotalChunks != 3 {
		t.Errorf("stats = %+v", stats)
	}
	updated := env.chunksFor(t, path)
	if len(updated) != 3 {
		t.Fatalf("chunks = %d, want 3", len(updated))
	}
	ids := map[string]bool{}
	for _, r := range updated {
		ids[r.ID] = true
	}
	for _, r := range old {
		if !ids[r.ID] {
			t.Errorf("stable chunk id %s changed after edit", r.ID)
		}
	}
	if n, _ := env.keywords.DocCount(); n != 3 {
		t.Errorf("keyword count = %d", n)
	}
}

func TestManager_IncrementalRemovedFile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	pathA := env.write(t, "微信读书/活着.md", bookA)
	env.write(t, "微信读书/三体.md", bookB)
	if _, err := env.manager.FullRebuild(ctx, nil); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(pathA); err != nil {
		t.Fatal(err)
	}

	stats, err := env.manager.IncrementalUpdate(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if stats.FilesToRemove != 1 || stats.Removed != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if len(env.chunksFor(t, pathA)) != 0 {
		t.Error("chunks of removed file still present")
	}
	if env.store.Count() != 1 {
		t.Errorf("vector count = %d", env.store.Count())
	}
	if _, err := env.db.GetFile(ctx, pathA); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("record still present: %v", err)
	}
}

func TestManager_IndexInProgress(t *testing.T) {
	env := newTestEnv(t)
	env.manager.mu.Lock()
	defer env.manager.mu.Unlock()

	if _, err := env.manager.FullRebuild(context.Background(), nil); !errors.Is(err, models.ErrIndexInProgress) {
		t.Errorf("FullRebuild err = %v", err)
	}
	if _, err := env.manager.IncrementalUpdate(context.Background(), nil); !errors.Is(err, models.ErrIndexInProgress) {
		t.Errorf("IncrementalUpdate err = %v", err)
	}
}

func TestManager_IndexFileAndRemoveFile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	path := env.write(t, "微信读书/活着.md", bookA)

	if err := env.manager.IndexFile(ctx, path); err != nil {
		t.Fatal(err)
	}
	if got := len(env.chunksFor(t, path)); got != 2 {
		t.Fatalf("chunks = %d", got)
	}
	before := env.embedder.texts.Load()
	if err := env.manager.IndexFile(ctx, path); err != nil {
		t.Fatal(err)
	}
	if env.embedder.texts.Load() != before {
		t.Error("unchanged file re-embedded by IndexFile")
	}

	hidden := env.write(t, ".obsidian/x.md", bookA)
	if err := env.manager.IndexFile(ctx, hidden); err != nil {
		t.Fatal(err)
	}
	if len(env.chunksFor(t, hidden)) != 0 {
		t.Error("hidden file was indexed")
	}

	if err := env.manager.RemoveFile(ctx, path); err != nil {
		t.Fatal(err)
	}
	if env.store.Count() != 0 {
		t.Errorf("vector count = %d", env.store.Count())
	}
	if _, err := env.db.GetFile(ctx, path); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("record still present: %v", err)
	}
}

func TestManager_IndexFileDeletedPath(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	path := env.write(t, "微信读书/活着.md", bookA)
	if err := env.manager.IndexFile(ctx, path); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if err := env.manager.IndexFile(ctx, path); err != nil {
		t.Fatal(err)
	}
	if env.store.Count() != 0 {
		t.Errorf("vector count = %d", env.store.Count())
	}
}

func TestManager_Stats(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.write(t, "微信读书/活着.md", bookA)
	env.write(t, "微信读书/三体.md", bookB)
	if _, err := env.manager.FullRebuild(ctx, nil); err != nil {
		t.Fatal(err)
	}

	overview, err := env.manager.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if overview.TotalFiles != 2 || overview.Files[models.FileStatusIndexed] != 2 {
		t.Errorf("files = %+v", overview.Files)
	}
	if overview.TotalChunks != 3 || overview.KeywordChunks != 3 {
		t.Errorf("chunks = %d / %d", overview.TotalChunks, overview.KeywordChunks)
	}
	if len(overview.BookIDs) != 2 || overview.BookIDs[0] != "A1" || overview.BookIDs[1] != "B1" {
		t.Errorf("book ids = %v", overview.BookIDs)
	}
	if overview.DiskUsageBytes <= 0 {
		t.Errorf("disk usage = %d", overview.DiskUsageBytes)
	}
	if overview.LastTask == nil || overview.LastTask.Type != models.TaskTypeFullRebuild {
		t.Errorf("last task = %+v", overview.LastTask)
	}
}

package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu      sync.Mutex
	indexed []string
	removed []string
}

func (r *recorder) IndexFile(ctx context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indexed = append(r.indexed, path)
	return nil
}

func (r *recorder) RemoveFile(ctx context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, path)
	return nil
}

func (r *recorder) snapshot() (indexed, removed []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.indexed...), append([]string(nil), r.removed...)
}

func startWatcher(t *testing.T, dir string) *recorder {
	t.Helper()
	rec := &recorder{}
	w := New(dir, rec, WithDebounce(100*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(w.Stop)
	return rec
}

func count(paths []string, suffix string) int {
	n := 0
	for _, p := range paths {
		if strings.HasSuffix(p, suffix) {
			n++
		}
	}
	return n
}

func TestWatcher_DebouncesWrites(t *testing.T) {
	dir := t.TempDir()
	rec := startWatcher(t, dir)

	path := filepath.Join(dir, "活着.md")
	for i := 0; i < 3; i++ {
		if err := writeFile(path, strings.Repeat("x", i+1)); err != nil {
			t.Fatal(err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err := writeFile(filepath.Join(dir, "image.png"), "png"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(400 * time.Millisecond)

	indexed, _ := rec.snapshot()
	if got := count(indexed, "活着.md"); got != 1 {
		t.Errorf("expected one debounced index of 活着.md, got %d: %v", got, indexed)
	}
	if count(indexed, "image.png") != 0 {
		t.Errorf("non-markdown file should be ignored: %v", indexed)
	}
}

func TestWatcher_RemoveEvent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.md")
	if err := writeFile(path, "x"); err != nil {
		t.Fatal(err)
	}
	rec := startWatcher(t, dir)

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)

	_, removed := rec.snapshot()
	if count(removed, "note.md") < 1 {
		t.Errorf("expected remove callback for note.md, got %v", removed)
	}
}

func TestWatcher_IgnoresHiddenDirectories(t *testing.T) {
	dir := t.TempDir()
	obsidian := filepath.Join(dir, ".obsidian")
	if err := mkdirAll(obsidian); err != nil {
		t.Fatal(err)
	}
	rec := startWatcher(t, dir)

	if err := writeFile(filepath.Join(obsidian, "workspace.md"), "x"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(dir, ".draft.md"), "x"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)

	indexed, _ := rec.snapshot()
	if len(indexed) != 0 {
		t.Errorf("hidden files should be ignored, got %v", indexed)
	}
}

func TestWatcher_NewDirectoryIsWatchedAndIndexed(t *testing.T) {
	dir := t.TempDir()
	rec := startWatcher(t, dir)

	nested := filepath.Join(dir, "微信读书", "子目录")
	if err := mkdirAll(nested); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(dir, "微信读书", "活着.md"), "x"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(nested, "deep.md"), "x"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(nested, "skip.txt"), "x"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(500 * time.Millisecond)

	indexed, _ := rec.snapshot()
	if count(indexed, "活着.md") < 1 || count(indexed, "deep.md") < 1 {
		t.Errorf("expected files in new directories to be indexed, got %v", indexed)
	}
	if count(indexed, "skip.txt") != 0 {
		t.Errorf("skip.txt should not be indexed: %v", indexed)
	}
}

func TestWatcher_StartMissingRoot(t *testing.T) {
	w := New(filepath.Join(t.TempDir(), "missing"), &recorder{})
	if err := w.Start(context.Background()); err == nil {
		w.Stop()
		t.Fatal("expected error for missing vault")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	w := New(t.TempDir(), &recorder{})
	w.Stop()
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	w.Stop()
	w.Stop()
}

func TestMatchExtension(t *testing.T) {
	tests := []struct {
		path       string
		extensions []string
		want       bool
	}{
		{"/a/b.md", []string{".md"}, true},
		{"/a/b.MD", []string{".md"}, true},
		{"/a/b.txt", []string{".md"}, false},
		{"/a/b", nil, true},
		{"/a/b", []string{}, true},
	}
	for _, tt := range tests {
		got := matchExtension(tt.path, tt.extensions)
		if got != tt.want {
			t.Errorf("matchExtension(%q, %v) = %v, want %v", tt.path, tt.extensions, got, tt.want)
		}
	}
}

func TestInDir(t *testing.T) {
	tests := []struct {
		dir  string
		path string
		want bool
	}{
		{"/tmp/a", "/tmp/a", true},
		{"/tmp/a", "/tmp/a/b.md", true},
		{"/tmp/a", "/tmp/b", false},
		{"/tmp/a", "/tmp/a/../b", false},
	}
	for _, tt := range tests {
		got := inDir(tt.dir, tt.path)
		if got != tt.want {
			t.Errorf("inDir(%q, %q) = %v, want %v", tt.dir, tt.path, got, tt.want)
		}
	}
}

func TestHidden(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/v", false},
		{"/v/a.md", false},
		{"/v/.obsidian/a.md", true},
		{"/v/sub/.a.md", true},
		{"/v/sub/a.md", false},
	}
	for _, tt := range tests {
		if got := hidden("/v", tt.path); got != tt.want {
			t.Errorf("hidden(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func mkdirAll(path string) error {
	return os.MkdirAll(path, 0755)
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0600)
}

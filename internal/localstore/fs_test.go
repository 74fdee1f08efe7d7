package localstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/bartermate/internal/apperr"
)

type record struct {
	Title string   `json:"title"`
	Tags  []string `json:"tags"`
}

func tempFS(t *testing.T) *FS {
	t.Helper()
	fs, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func TestFS_AtomicWriteNoLeftovers(t *testing.T) {
	s := tempFS(t)
	ctx := context.Background()

	if err := s.Set(ctx, "draft", record{Title: "original"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, "draft", record{Title: "updated"}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	var got record
	if err := s.Get(ctx, "draft", &got); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != "updated" {
		t.Errorf("title = %q, want updated", got.Title)
	}

	matches, _ := filepath.Glob(filepath.Join(s.root, tmpPattern))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestFS_CorruptFileIsAnError(t *testing.T) {
	s := tempFS(t)
	if err := os.WriteFile(filepath.Join(s.root, "draft.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	var got record
	err := s.Get(context.Background(), "draft", &got)
	if err == nil {
		t.Fatal("expected decode error")
	}
	if errors.Is(err, apperr.ErrNotFound) {
		t.Error("corrupt file should not look like a missing key")
	}
}

func TestNewFS_CreatesMissingDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	if _, err := NewFS(dir); err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Errorf("root dir not created: %v", err)
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	f, _ := os.CreateTemp("", "bartermate-test-*")
	_ = f.Close()
	defer os.Remove(f.Name())
	if _, err := NewFS(f.Name()); err == nil {
		t.Error("expected error when root is a file")
	}
}

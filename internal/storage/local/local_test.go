package local

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"mediarepo/internal/storage"
)

func TestBackend_StoreThenFetch(t *testing.T) {
	backend, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	src := filepath.Join(t.TempDir(), "upload")
	if err := os.WriteFile(src, []byte("stored bytes"), 0o644); err != nil {
		t.Fatalf("write source file: %v", err)
	}

	info := storage.FileInfo{MediaID: "abcdefgh"}
	if err := backend.Store(context.Background(), info, src); err != nil {
		t.Fatalf("Store returned error: %v", err)
	}

	responder, err := backend.Fetch(context.Background(), storage.RelativeFilePath(info), info)
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if responder == nil {
		t.Fatal("expected responder after Store")
	}
	defer responder.Close()

	var out bytes.Buffer
	if err := responder.Stream(&out); err != nil {
		t.Fatalf("Stream returned error: %v", err)
	}
	if out.String() != "stored bytes" {
		t.Fatalf("unexpected content: %q", out.String())
	}
}

func TestBackend_FetchMissingReturnsNil(t *testing.T) {
	backend, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	info := storage.FileInfo{MediaID: "abcdefgh"}
	responder, err := backend.Fetch(context.Background(), storage.RelativeFilePath(info), info)
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if responder != nil {
		responder.Close()
		t.Fatal("expected absence for missing content")
	}
}

func TestNew_RequiresDirectory(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty directory")
	}
}

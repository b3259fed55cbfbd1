package filestore

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLocalFileStore(t *testing.T) {
	root := t.TempDir()
	store, err := NewLocalFileStore(root)
	if err != nil {
		t.Fatalf("NewLocalFileStore failed: %v", err)
	}

	id := "abcdef-123"
	data := []byte("attachment bytes")

	if err := store.Save(bytes.NewReader(data), id); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Blobs are sharded by ID prefix.
	if _, err := os.Stat(filepath.Join(root, "ab", id)); err != nil {
		t.Errorf("blob not at sharded path: %v", err)
	}

	// Saving the same ID again is a no-op, not an overwrite.
	if err := store.Save(strings.NewReader("different"), id); err != nil {
		t.Fatalf("idempotent Save failed: %v", err)
	}

	f, err := store.Get(id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	got, err := io.ReadAll(f)
	_ = f.Close()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("expected %q, got %q", data, got)
	}

	if err := store.Delete("http://localhost:3000/api/files/" + id); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(id); err == nil {
		t.Error("expected Get to fail after delete")
	}

	// Deleting an absent blob is not an error.
	if err := store.Delete("http://localhost:3000/api/files/" + id); err != nil {
		t.Errorf("repeat Delete should be a no-op, got %v", err)
	}
}

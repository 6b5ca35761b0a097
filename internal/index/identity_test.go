package index

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestStat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.jsonl")
	if err := os.WriteFile(path, []byte("hello\n"), 0644); err != nil {
		t.Fatal(err)
	}

	id, err := Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if id.Size != 6 {
		t.Errorf("Expected size 6, got %d", id.Size)
	}
	if id.Mtime == 0 {
		t.Error("Expected non-zero mtime")
	}

	_, err = Stat(filepath.Join(dir, "missing.jsonl"))
	if !errors.Is(err, ErrFileVanished) {
		t.Errorf("Expected ErrFileVanished, got %v", err)
	}
}

func TestHeadCompatible(t *testing.T) {
	old := []byte("line one\nline two\n")

	if !HeadCompatible(old, append(append([]byte{}, old...), []byte("line three\n")...)) {
		t.Error("Appended content should be head compatible")
	}
	if !HeadCompatible(old, old) {
		t.Error("Identical content should be head compatible")
	}
	if HeadCompatible(old, []byte("rewritten\n")) {
		t.Error("Rewritten content should not be head compatible")
	}
	if HeadCompatible(old, old[:5]) {
		t.Error("Truncated content should not be head compatible")
	}
}

func TestReadHead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.jsonl")

	big := make([]byte, 5000)
	for i := range big {
		big[i] = byte('a' + i%26)
	}
	if err := os.WriteFile(path, big, 0644); err != nil {
		t.Fatal(err)
	}

	head, err := ReadHead(path)
	if err != nil {
		t.Fatalf("ReadHead failed: %v", err)
	}
	if len(head) != headProbe {
		t.Errorf("Expected %d head bytes, got %d", headProbe, len(head))
	}
	if !HeadCompatible(head, big) {
		t.Error("Head should be a prefix of the full content")
	}
}

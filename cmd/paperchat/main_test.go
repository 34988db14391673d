package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStageUpload(t *testing.T) {
	srcDir := t.TempDir()
	src := filepath.Join(srcDir, "paper.pdf")
	if err := os.WriteFile(src, []byte("%PDF-1.4"), 0644); err != nil {
		t.Fatal(err)
	}
	uploadDir := t.TempDir()

	first, err := stageUpload(src, uploadDir)
	if err != nil {
		t.Fatal(err)
	}
	second, err := stageUpload(src, uploadDir)
	if err != nil {
		t.Fatal(err)
	}
	// Repeated drops of the same filename must stage under distinct keys.
	if first == second {
		t.Errorf("staged keys collide: %q", first)
	}
	for _, key := range []string{first, second} {
		if !strings.HasSuffix(key, "_paper.pdf") {
			t.Errorf("key %q should keep the source filename", key)
		}
		if _, err := os.Stat(filepath.Join(uploadDir, key)); err != nil {
			t.Errorf("staged file missing for key %q: %v", key, err)
		}
	}
}

func TestStageUploadAlreadyStaged(t *testing.T) {
	uploadDir := t.TempDir()
	staged := filepath.Join(uploadDir, "1700000000_ab12cd34_paper.pdf")
	if err := os.WriteFile(staged, []byte("%PDF-1.4"), 0644); err != nil {
		t.Fatal(err)
	}
	key, err := stageUpload(staged, uploadDir)
	if err != nil {
		t.Fatal(err)
	}
	if key != "1700000000_ab12cd34_paper.pdf" {
		t.Errorf("file already in the upload dir should keep its key, got %q", key)
	}
}

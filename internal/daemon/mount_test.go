package daemon

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMkdirAllAsCreatesSegments(t *testing.T) {
	base := t.TempDir()
	target := filepath.Join(base, "a", "b", "c")

	if err := mkdirAllAs(target, os.Getuid(), os.Getgid()); err != nil {
		t.Fatalf("mkdirAllAs failed: %v", err)
	}

	info, err := os.Stat(target)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if !info.IsDir() {
		t.Fatalf("%s is not a directory", target)
	}
}

func TestMkdirAllAsLeavesExistingSegmentsAlone(t *testing.T) {
	base := t.TempDir()
	existing := filepath.Join(base, "existing")
	if err := os.Mkdir(existing, 0700); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}

	target := filepath.Join(existing, "new")
	if err := mkdirAllAs(target, os.Getuid(), os.Getgid()); err != nil {
		t.Fatalf("mkdirAllAs failed: %v", err)
	}

	info, err := os.Stat(existing)
	if err != nil {
		t.Fatalf("stat existing failed: %v", err)
	}
	if info.Mode().Perm() != 0700 {
		t.Fatalf("existing segment mode changed: %v", info.Mode().Perm())
	}
}

func TestMkdirAllAsEmptyPath(t *testing.T) {
	if err := mkdirAllAs("///", 0, 0); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

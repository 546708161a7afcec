package daemon

import (
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"
)

func TestLookPathAbsolute(t *testing.T) {
	got, err := lookPath("/bin/sh", nil)
	if err != nil {
		t.Fatalf("lookPath failed: %v", err)
	}
	if got != "/bin/sh" {
		t.Fatalf("lookPath = %q, want /bin/sh", got)
	}
}

func TestLookPathSearchesEnvPath(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "mytool")
	if err := os.WriteFile(target, []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	got, err := lookPath("mytool", []string{"PATH=" + dir})
	if err != nil {
		t.Fatalf("lookPath failed: %v", err)
	}
	if got != target {
		t.Fatalf("lookPath = %q, want %q", got, target)
	}
}

func TestLookPathUsesTargetEnvNotCallerPath(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "onlyhere")
	if err := os.WriteFile(target, []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	t.Setenv("PATH", dir)

	if _, err := lookPath("onlyhere", []string{"PATH=/nonexistent"}); err == nil {
		t.Fatalf("expected lookPath to ignore the caller's own PATH")
	}
}

func TestLookPathNotFound(t *testing.T) {
	if _, err := lookPath("no-such-binary-anywhere", []string{"PATH=/nonexistent"}); err == nil {
		t.Fatalf("expected error for missing binary")
	}
}

func TestRlimitResourceKnown(t *testing.T) {
	resource, ok := rlimitResource("RLIMIT_NOFILE")
	if !ok {
		t.Fatalf("expected RLIMIT_NOFILE to be known")
	}
	if resource != unix.RLIMIT_NOFILE {
		t.Fatalf("rlimitResource = %d, want %d", resource, unix.RLIMIT_NOFILE)
	}
}

func TestRlimitResourceUnknown(t *testing.T) {
	if _, ok := rlimitResource("RLIMIT_BOGUS"); ok {
		t.Fatalf("expected RLIMIT_BOGUS to be unknown")
	}
}

func TestToIntSlice(t *testing.T) {
	got := toIntSlice([]uint32{1, 2, 3})
	want := []int{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("toIntSlice length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("toIntSlice[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

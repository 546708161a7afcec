package hook

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRunMissingScriptIsNoop(t *testing.T) {
	dir := t.TempDir()
	if err := Run(dir, ParentBeforeClone); err != nil {
		t.Fatalf("Run on missing hook: %v", err)
	}
}

func TestRunExecutesScript(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "ran")
	script := filepath.Join(dir, ChildAfterPivot)

	contents := "#!/bin/sh\ntouch " + marker + "\n"
	if err := os.WriteFile(script, []byte(contents), 0755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	if err := Run(dir, ChildAfterPivot); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if _, err := os.Stat(marker); err != nil {
		t.Fatalf("marker file not created: %v", err)
	}
}

func TestRunFailingScript(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, ChildBeforePivot)
	if err := os.WriteFile(script, []byte("#!/bin/sh\nexit 7\n"), 0755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	if err := Run(dir, ChildBeforePivot); err == nil {
		t.Fatalf("expected error from failing hook script")
	}
}

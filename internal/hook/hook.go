// Package hook runs the optional lifecycle scripts a container's lib
// directory may provide at each bootstrap stage.
package hook

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// Well-known hook script names, looked up relative to a container's lib
// directory. A missing script is not an error; hooks are optional.
const (
	ParentBeforeClone = "hook-parent-before-clone.sh"
	ParentAfterClone  = "hook-parent-after-clone.sh"
	ChildBeforePivot  = "hook-child-before-pivot.sh"
	ChildAfterPivot   = "hook-child-after-pivot.sh"
)

// Run executes the named hook script from dir, if it exists. Its stdio is
// inherited from the caller. A non-existent script is silently skipped.
func Run(dir, name string) error {
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("hook: stat %s: %w", path, err)
	}

	cmd := exec.Command(path)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("hook: %s failed: %w", name, err)
	}
	return nil
}

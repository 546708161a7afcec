package daemon

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// setTitle sets the process's comm name, truncated to the kernel's 15-byte
// limit. There is no setproctitle library in play here, so this goes
// straight to prctl as the original daemon's argv[0]-rewrite did.
func setTitle(title string) error {
	if title == "" {
		return nil
	}
	if len(title) > 15 {
		title = title[:15]
	}

	b := make([]byte, len(title)+1)
	copy(b, title)

	if err := unix.Prctl(unix.PR_SET_NAME, uintptr(unsafe.Pointer(&b[0])), 0, 0, 0); err != nil {
		return fmt.Errorf("daemon: set title: %w", err)
	}
	return nil
}

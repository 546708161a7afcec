package daemon

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// reapChildren waits for every child that has exited without blocking,
// delivering each one's exit status to the pipe recorded for its pid and
// closing it afterwards. A pid with no recorded fd is silently ignored:
// children can be reparented, so a waited-for pid does not always belong
// to a spawn this daemon is still tracking.
func reapChildren(state *State) error {
	for {
		var status unix.WaitStatus
		pid, err := unix.Wait4(-1, &status, unix.WNOHANG, nil)
		if err == unix.EINTR {
			continue
		}
		if err == unix.ECHILD {
			return nil
		}
		if err != nil {
			return fmt.Errorf("daemon: wait4: %w", err)
		}
		if pid <= 0 {
			return nil
		}

		f, ok := state.RemoveExitFD(pid)
		if !ok {
			continue
		}

		if status.Exited() {
			var buf [4]byte
			binary.NativeEndian.PutUint32(buf[:], uint32(status.ExitStatus()))
			_, _ = f.Write(buf[:])
		}
		// A signaled child reports nothing; the client observes EOF.
		_ = f.Close()
	}
}

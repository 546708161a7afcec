package daemon

import (
	"fmt"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// RunContinue is the entry point for the final, long-lived daemon
// process. It picks up the state handed off across the nsinit re-exec,
// restores close-on-exec on the descriptors the daemon itself still
// needs but must not leak to spawned children, tidies up the pivot_root
// escape directory, detaches from its process group, signals the parent
// that setup is complete, and enters the request loop.
func RunContinue() error {
	fdStr := os.Getenv(envHandoffFD)
	if fdStr == "" {
		return fmt.Errorf("daemon: missing %s", envHandoffFD)
	}
	fd, err := strconv.Atoi(fdStr)
	if err != nil {
		return fmt.Errorf("daemon: bad %s=%q: %w", envHandoffFD, fdStr, err)
	}

	handoffFile := os.NewFile(uintptr(fd), "handoff")
	payload, err := readHandoff(handoffFile)
	if err != nil {
		handoffFile.Close()
		return err
	}
	// The handoff pipe has done its job; closing it is the Go equivalent
	// of the original daemon's shmctl(IPC_RMID).
	handoffFile.Close()

	state, barrierChild := stateFromHandoff(payload)
	state.PidToExitFD = make(map[int]*os.File)

	for _, f := range []int{state.ListenFD, state.HostMountNSFD} {
		if err := setCloexec(f); err != nil {
			return err
		}
	}
	if wf := barrierChild.WriteFile(); wf != nil {
		if err := setCloexec(int(wf.Fd())); err != nil {
			return err
		}
	}

	if err := setTitle(state.Title); err != nil {
		return err
	}

	if err := unix.Unmount(hostEscapeDir, unix.MNT_DETACH); err != nil {
		return fmt.Errorf("daemon: unmount pivot escape dir: %w", err)
	}
	if err := os.Remove(hostEscapeDir); err != nil {
		return fmt.Errorf("daemon: remove pivot escape dir: %w", err)
	}

	if _, err := unix.Setsid(); err != nil {
		return fmt.Errorf("daemon: setsid: %w", err)
	}

	if err := barrierChild.Signal(); err != nil {
		return fmt.Errorf("daemon: signal parent: %w", err)
	}

	return RunLoop(state)
}

// Package daemon implements wshd: the per-container init process that
// bootstraps a fresh set of namespaces, pivots into the container's
// rootfs, and then serves spawn and bind-mount requests over a control
// socket for the lifetime of the container.
package daemon

import (
	"fmt"
	"os"
)

const (
	// hostEscapeDir is where the pre-pivot root is stashed during the
	// pivot_root dance, relative to the new root.
	hostEscapeDir = "/tmp/garden-host"

	// containerMountsDir is where the volumes directory is bind-mounted
	// inside the container. A bind mount made under the volumes directory
	// in the host mount namespace shows up here through shared
	// propagation, and is bound onto its destination from inside the
	// container.
	containerMountsDir = "/tmp/container-shared-mounts"

	// maxTitleLen bounds the configured process title. setTitle cuts it
	// further to the kernel's 15-byte PR_SET_NAME limit.
	maxTitleLen = 31
)

// Config holds the command-line configuration the daemon is started with.
type Config struct {
	RunDir     string
	LibDir     string
	RootDir    string
	VolumesDir string
	Title      string
}

// Validate checks that the directories the daemon depends on exist before
// any namespace work begins.
func (c *Config) Validate() error {
	if err := assertDirectory(c.RunDir); err != nil {
		return err
	}
	if err := assertDirectory(c.LibDir); err != nil {
		return err
	}
	if err := assertDirectory(c.RootDir); err != nil {
		return err
	}
	if err := assertDirectory(c.VolumesDir); err != nil {
		return err
	}
	if len(c.Title) > maxTitleLen {
		c.Title = c.Title[:maxTitleLen]
	}
	return nil
}

func assertDirectory(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("daemon: stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("daemon: %s is not a directory", path)
	}
	return nil
}

// State is the daemon's full in-memory state once namespaces are set up
// and it is serving requests. It is the Go analogue of wshd_s, split
// across the clone/pivot/continue boundary via the handoff package rather
// than a SysV shared memory segment.
type State struct {
	Config

	// ListenFD is the control socket's listening descriptor.
	ListenFD int

	// HostMountNSFD references the mount namespace Bootstrap runs in right
	// after its own unshare(CLONE_NEWNS), used by the bind-mount injector to step back into the host to pick
	// up a bind-mount source before returning to the container's.
	HostMountNSFD int

	// PidToExitFD maps a live spawned child's pid to the write end of the pipe
	// its exit status must be reported on. It is read and written only
	// from the request loop's goroutine, so it needs no lock.
	PidToExitFD map[int]*os.File
}

// AddExitFD records the exit-status pipe for pid, duplicating fd so the
// caller's copy can be closed independently.
func (s *State) AddExitFD(pid int, f *os.File) error {
	dup, err := dupFile(f)
	if err != nil {
		return fmt.Errorf("daemon: dup exit fd for pid %d: %w", pid, err)
	}
	s.PidToExitFD[pid] = dup
	return nil
}

// RemoveExitFD pops and returns the exit-status pipe recorded for pid, if
// any.
func (s *State) RemoveExitFD(pid int) (*os.File, bool) {
	f, ok := s.PidToExitFD[pid]
	if !ok {
		return nil, false
	}
	delete(s.PidToExitFD, pid)
	return f, true
}

func dupFile(f *os.File) (*os.File, error) {
	nfd, err := dupFD(int(f.Fd()))
	if err != nil {
		return nil, err
	}
	return os.NewFile(uintptr(nfd), f.Name()), nil
}

package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"

	"wshd/internal/barrier"
	"wshd/internal/hook"
)

// pivotedPaths holds paths re-anchored under hostEscapeDir, valid only
// after pivot_root has put the pre-pivot root there.
type pivotedPaths struct {
	LibDir     string
	VolumesDir string
}

func resolvePivotedPaths(libDir, volumesDir string) (pivotedPaths, error) {
	var p pivotedPaths

	if libDir != "" {
		abs, err := filepath.Abs(libDir)
		if err != nil {
			return p, fmt.Errorf("daemon: resolve lib dir: %w", err)
		}
		p.LibDir = filepath.Join(hostEscapeDir, abs)
	}

	if volumesDir != "" {
		abs, err := filepath.Abs(volumesDir)
		if err != nil {
			return p, fmt.Errorf("daemon: resolve volumes dir: %w", err)
		}
		p.VolumesDir = filepath.Join(hostEscapeDir, abs)
	}

	return p, nil
}

func envFD(name string) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return -1, fmt.Errorf("daemon: missing env var %s", name)
	}
	fd, err := strconv.Atoi(v)
	if err != nil {
		return -1, fmt.Errorf("daemon: bad fd in %s=%q: %w", name, v, err)
	}
	return fd, nil
}

// RunNSInit is the entry point for the re-exec'd process running inside
// the freshly cloned IPC/NET/MNT/PID/UTS namespaces. It waits for the
// parent's go-ahead, runs the pivot hooks, performs pivot_root into the
// container rootfs, mounts the shared volumes directory, and hands off to
// the continuation process via a true re-exec.
func RunNSInit() error {
	cfg := Config{
		RunDir:     os.Getenv(envRunDir),
		LibDir:     os.Getenv(envLibDir),
		RootDir:    os.Getenv(envRootDir),
		VolumesDir: os.Getenv(envVolumesDir),
		Title:      os.Getenv(envTitle),
	}

	listenFD, err := envFD(envListenFD)
	if err != nil {
		return err
	}
	hostMountNSFD, err := envFD(envHostMountNSFD)
	if err != nil {
		return err
	}
	barrierParentFD, err := envFD(envBarrierParentFD)
	if err != nil {
		return err
	}
	barrierChildFD, err := envFD(envBarrierChildFD)
	if err != nil {
		return err
	}

	barrierParent := barrier.FromFDs(barrierParentFD, -1)
	barrierChild := barrier.FromFDs(-1, barrierChildFD)

	if err := barrierParent.Wait(); err != nil {
		return fmt.Errorf("daemon: wait for parent: %w", err)
	}

	if err := hook.Run(cfg.LibDir, hook.ChildBeforePivot); err != nil {
		return err
	}

	pivoted, err := resolvePivotedPaths(cfg.LibDir, cfg.VolumesDir)
	if err != nil {
		return err
	}

	if err := unix.Mount(cfg.RootDir, cfg.RootDir, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
		return fmt.Errorf("daemon: bind mount rootfs: %w", err)
	}
	if err := unix.Chdir(cfg.RootDir); err != nil {
		return fmt.Errorf("daemon: chdir to rootfs: %w", err)
	}

	// /tmp must be world-writable, per the container contract.
	if err := os.Chmod("tmp", 01777); err != nil {
		return fmt.Errorf("daemon: chmod tmp: %w", err)
	}

	if err := os.MkdirAll("."+hostEscapeDir, 0700); err != nil {
		return fmt.Errorf("daemon: mkdir pivot target: %w", err)
	}

	if err := unix.PivotRoot(".", "."+hostEscapeDir); err != nil {
		return fmt.Errorf("daemon: pivot_root: %w", err)
	}
	if err := unix.Chdir("/"); err != nil {
		return fmt.Errorf("daemon: chdir /: %w", err)
	}

	if cfg.VolumesDir != "" {
		if err := os.MkdirAll(containerMountsDir, 0755); err != nil {
			return fmt.Errorf("daemon: mkdir container mounts dir: %w", err)
		}
		if err := unix.Mount(pivoted.VolumesDir, containerMountsDir, "", unix.MS_BIND, ""); err != nil {
			return fmt.Errorf("daemon: mount volumes into container: %w", err)
		}
	}

	if err := hook.Run(pivoted.LibDir, hook.ChildAfterPivot); err != nil {
		return err
	}

	return reexecContinue(cfg, listenFD, hostMountNSFD, barrierChild)
}

// reexecContinue hands daemon state to the continuation process across a
// true execve, preserving this process's PID the way the original
// daemon's own self-exec into "--continue" did.
func reexecContinue(cfg Config, listenFD, hostMountNSFD int, barrierChild *barrier.Barrier) error {
	r, w, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("daemon: open handoff pipe: %w", err)
	}

	barrierChildWFD := -1
	if f := barrierChild.WriteFile(); f != nil {
		barrierChildWFD = int(f.Fd())
	}

	for _, fd := range []int{listenFD, hostMountNSFD, barrierChildWFD, int(r.Fd())} {
		if fd < 0 {
			continue
		}
		if err := clearCloexec(fd); err != nil {
			return err
		}
	}

	state := &State{
		Config:        cfg,
		ListenFD:      listenFD,
		HostMountNSFD: hostMountNSFD,
	}
	payload := toHandoff(state, barrier.FromFDs(-1, barrierChildWFD))
	payload.BarrierChildRFD = -1

	if err := writeHandoff(w, payload); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("daemon: close handoff write end: %w", err)
	}

	exe, err := selfExe()
	if err != nil {
		return err
	}

	env := append(os.Environ(), fmt.Sprintf("%s=%d", envHandoffFD, r.Fd()))
	if err := unix.Exec(exe, []string{exe, "--continue"}, env); err != nil {
		return fmt.Errorf("daemon: exec continue: %w", err)
	}
	return nil
}

package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"

	"wshd/internal/barrier"
	"wshd/internal/hook"
	"wshd/internal/wire"
)

// Environment variables used to hand configuration and descriptor numbers
// down across the ns-init re-exec. The descriptors themselves travel as
// exec.Cmd.ExtraFiles entries, landing at fd 3, 4, 5, 6 in the child; the
// env vars just tell the child which is which.
const (
	envRunDir     = "WSHD_RUN_DIR"
	envLibDir     = "WSHD_LIB_DIR"
	envRootDir    = "WSHD_ROOT_DIR"
	envVolumesDir = "WSHD_VOLUMES_DIR"
	envTitle      = "WSHD_TITLE"

	envListenFD        = "WSHD_LISTEN_FD"
	envHostMountNSFD   = "WSHD_HOST_MOUNT_NS_FD"
	envBarrierParentFD = "WSHD_BARRIER_PARENT_FD"
	envBarrierChildFD  = "WSHD_BARRIER_CHILD_FD"

	// envHandoffFD carries the read end of the continue handoff pipe
	// across the final, true re-exec performed by nsinit.
	envHandoffFD = "WSHD_HANDOFF_FD"
)

func selfExe() (string, error) {
	exe, err := os.Readlink("/proc/self/exe")
	if err != nil {
		return "", fmt.Errorf("daemon: readlink /proc/self/exe: %w", err)
	}
	return exe, nil
}

// Bootstrap implements the parent side of the two-stage bootstrap: it
// opens the control socket, unshares a private mount namespace, bind
// mounts the volumes directory so it can later be shared into the
// container, runs the pre-clone hook, and clones a fresh process into new
// IPC/NET/MNT/PID/UTS namespaces to continue as ns-init.
func Bootstrap(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	sockPath := filepath.Join(cfg.RunDir, "wshd.sock")
	listener, err := wire.Listen(sockPath)
	if err != nil {
		return fmt.Errorf("daemon: listen: %w", err)
	}

	barrierParent, err := barrier.Open()
	if err != nil {
		return fmt.Errorf("daemon: open parent barrier: %w", err)
	}
	barrierChild, err := barrier.Open()
	if err != nil {
		return fmt.Errorf("daemon: open child barrier: %w", err)
	}

	// Unshare a private mount namespace before forking so the pre-clone
	// hook is free to mount whatever it needs without polluting whatever
	// spawned this process.
	runtime.LockOSThread()
	if err := unix.Unshare(unix.CLONE_NEWNS); err != nil {
		return fmt.Errorf("daemon: unshare mount namespace: %w", err)
	}

	hostMountNS, err := unix.Open("/proc/self/ns/mnt", unix.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("daemon: open host mount namespace: %w", err)
	}

	if cfg.VolumesDir != "" {
		if err := unix.Mount(cfg.VolumesDir, cfg.VolumesDir, "", unix.MS_BIND, ""); err != nil {
			return fmt.Errorf("daemon: bind mount volumes dir: %w", err)
		}
		if err := unix.Mount(cfg.VolumesDir, cfg.VolumesDir, "", unix.MS_SHARED, ""); err != nil {
			return fmt.Errorf("daemon: mark volumes dir shared: %w", err)
		}
	}

	if err := hook.Run(cfg.LibDir, hook.ParentBeforeClone); err != nil {
		return err
	}

	exe, err := selfExe()
	if err != nil {
		return err
	}

	cmd := exec.Command(exe, "--ns-init")
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{
		os.NewFile(uintptr(listener.Fd()), "listen"),
		os.NewFile(uintptr(hostMountNS), "host-mount-ns"),
		barrierParent.ReadFile(),
		barrierChild.WriteFile(),
	}
	cmd.Env = append(os.Environ(),
		envRunDir+"="+cfg.RunDir,
		envLibDir+"="+cfg.LibDir,
		envRootDir+"="+cfg.RootDir,
		envVolumesDir+"="+cfg.VolumesDir,
		envTitle+"="+cfg.Title,
		envListenFD+"=3",
		envHostMountNSFD+"=4",
		envBarrierParentFD+"=5",
		envBarrierChildFD+"=6",
	)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags: unix.CLONE_NEWIPC |
			unix.CLONE_NEWNET |
			unix.CLONE_NEWNS |
			unix.CLONE_NEWPID |
			unix.CLONE_NEWUTS,
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("daemon: start ns-init: %w", err)
	}

	if err := os.Setenv("PID", strconv.Itoa(cmd.Process.Pid)); err != nil {
		return fmt.Errorf("daemon: setenv PID: %w", err)
	}

	if err := hook.Run(cfg.LibDir, hook.ParentAfterClone); err != nil {
		return err
	}

	if err := barrierParent.Signal(); err != nil {
		return fmt.Errorf("daemon: signal child to proceed: %w", err)
	}
	if err := barrierChild.Wait(); err != nil {
		return fmt.Errorf("daemon: wait for child acknowledgement: %w", err)
	}

	return nil
}

package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"unsafe"

	"github.com/creack/pty"
	"github.com/opencontainers/runtime-spec/specs-go"
	"golang.org/x/sys/unix"

	"wshd/internal/handoff"
	"wshd/internal/passwd"
	"wshd/internal/wire"
)

// spawnDescriptor is what the daemon hands the exec-helper across the
// handoff pipe: everything it needs to apply rlimits, identity, and
// environment to itself before the final execve. Go's os/exec has no
// pre_exec hook, so this replaces the fork-then-configure-then-exec
// sequence child_fork ran in a single address space.
type spawnDescriptor struct {
	Argv    []string            `json:"argv"`
	Env     []string            `json:"env"`
	Dir     string              `json:"dir"`
	UID     uint32              `json:"uid"`
	GID     uint32              `json:"gid"`
	Groups  []uint32            `json:"groups"`
	TTY     bool                `json:"tty"`
	Rlimits []specs.POSIXRlimit `json:"rlimits,omitempty"`
}

// HandleSpawn serves one SpawnRequest received on connFD: it wires up
// stdio (a pty for interactive requests, three pipes otherwise), starts
// the exec-helper to run the requested command, replies to the client
// with its end of the stdio descriptors, and records the child's pid so
// the reaper can later deliver its exit status.
func HandleSpawn(state *State, connFD int, req *wire.SpawnRequest) error {
	if req.TTY {
		return handleInteractive(state, connFD, req)
	}
	return handleNoninteractive(state, connFD, req)
}

func handleInteractive(state *State, connFD int, req *wire.SpawnRequest) error {
	exitR, exitW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("daemon: open exit pipe: %w", err)
	}
	defer exitR.Close()

	master, slave, err := pty.Open()
	if err != nil {
		exitW.Close()
		return fmt.Errorf("daemon: open pty: %w", err)
	}
	defer slave.Close()
	defer master.Close()

	cmd, err := startExecHelper(req, slave, slave, slave, true)
	if err != nil {
		exitW.Close()
		return sendSpawnError(connFD, err)
	}

	if err := wire.SendWithFDs(connFD, wire.KindSpawn, mustEncodeResponse(true, ""), []int{
		int(master.Fd()), int(exitR.Fd()),
	}); err != nil {
		exitW.Close()
		return fmt.Errorf("daemon: send spawn response: %w", err)
	}

	if err := state.AddExitFD(cmd.Process.Pid, exitW); err != nil {
		exitW.Close()
		return err
	}
	return exitW.Close()
}

func handleNoninteractive(state *State, connFD int, req *wire.SpawnRequest) error {
	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("daemon: open stdin pipe: %w", err)
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		return fmt.Errorf("daemon: open stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		stdoutR.Close()
		stdoutW.Close()
		return fmt.Errorf("daemon: open stderr pipe: %w", err)
	}
	exitR, exitW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		stdoutR.Close()
		stdoutW.Close()
		stderrR.Close()
		stderrW.Close()
		return fmt.Errorf("daemon: open exit pipe: %w", err)
	}
	defer exitR.Close()
	defer stdinR.Close()
	defer stdoutW.Close()
	defer stderrW.Close()
	defer stdinW.Close()
	defer stdoutR.Close()
	defer stderrR.Close()

	cmd, err := startExecHelper(req, stdinR, stdoutW, stderrW, false)
	if err != nil {
		exitW.Close()
		return sendSpawnError(connFD, err)
	}

	if err := wire.SendWithFDs(connFD, wire.KindSpawn, mustEncodeResponse(true, ""), []int{
		int(stdinW.Fd()), int(stdoutR.Fd()), int(stderrR.Fd()), int(exitR.Fd()),
	}); err != nil {
		exitW.Close()
		return fmt.Errorf("daemon: send spawn response: %w", err)
	}

	if err := state.AddExitFD(cmd.Process.Pid, exitW); err != nil {
		exitW.Close()
		return err
	}
	return exitW.Close()
}

func sendSpawnError(connFD int, cause error) error {
	body, _ := wire.EncodeResponse(&wire.SpawnResponse{OK: false, Error: cause.Error()})
	_ = wire.SendWithFDs(connFD, wire.KindSpawn, body, nil)
	return cause
}

func mustEncodeResponse(ok bool, errMsg string) []byte {
	body, err := wire.EncodeResponse(&wire.SpawnResponse{OK: ok, Error: errMsg})
	if err != nil {
		// A SpawnResponse always marshals; this would only fail on an
		// encoder bug.
		panic(err)
	}
	return body
}

// startExecHelper resolves the requested account, builds the argv/env the
// original daemon's child_fork would have built, and launches a
// "--exec-helper" instance of this binary to apply rlimits, identity, and
// the controlling terminal before the final execve.
func startExecHelper(req *wire.SpawnRequest, in, out, errFile *os.File, tty bool) (*exec.Cmd, error) {
	account, err := passwd.Lookup(req.User)
	if err != nil {
		return nil, err
	}

	argv := req.Argv
	if len(argv) == 0 {
		shell := account.Shell
		if shell == "" {
			shell = "/bin/sh"
		}
		argv = []string{shell}
	}

	dir := req.Dir
	if dir == "" {
		dir = account.Home
	}

	env := buildEnviron(account, req.Env)

	uid := uint32(account.UID)
	gid := uint32(account.GID)
	groups := make([]uint32, len(account.Groups))
	for i, g := range account.Groups {
		groups[i] = uint32(g)
	}
	if req.UserOverride != nil {
		uid = req.UserOverride.UID
		gid = req.UserOverride.GID
		if len(req.UserOverride.AdditionalGids) > 0 {
			groups = req.UserOverride.AdditionalGids
		}
	}

	desc := spawnDescriptor{
		Argv:    argv,
		Env:     env,
		Dir:     dir,
		UID:     uid,
		GID:     gid,
		Groups:  groups,
		TTY:     tty,
		Rlimits: req.Rlimits,
	}

	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("daemon: open exec-helper handoff pipe: %w", err)
	}
	defer r.Close()

	exe, err := selfExe()
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(exe, "--exec-helper")
	cmd.Stdin = in
	cmd.Stdout = out
	cmd.Stderr = errFile
	cmd.ExtraFiles = []*os.File{r}
	cmd.Env = []string{fmt.Sprintf("%s=3", envHandoffFD)}

	if err := cmd.Start(); err != nil {
		w.Close()
		return nil, fmt.Errorf("daemon: start exec-helper: %w", err)
	}

	if err := handoff.Write(w, &desc); err != nil {
		w.Close()
		_ = cmd.Process.Kill()
		return nil, fmt.Errorf("daemon: write exec-helper handoff: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("daemon: close exec-helper handoff pipe: %w", err)
	}

	return cmd, nil
}

func buildEnviron(account *passwd.Account, extra []string) []string {
	env := append([]string(nil), extra...)
	env = append(env, "HOME="+account.Home, "USER="+account.Name)
	if account.UID == 0 {
		env = append(env, "PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin")
	} else {
		env = append(env, "PATH=/usr/local/bin:/usr/bin:/bin")
	}
	return env
}

// RunExecHelper is the entry point for the "--exec-helper" re-exec. It
// reads a spawnDescriptor off the handoff fd, applies rlimits and
// identity, sets up the session and controlling terminal, and execs the
// requested command.
func RunExecHelper() error {
	fd, err := envFD(envHandoffFD)
	if err != nil {
		return err
	}
	handoffFile := os.NewFile(uintptr(fd), "exec-helper-handoff")
	defer handoffFile.Close()

	var desc spawnDescriptor
	if err := handoff.Read(handoffFile, &desc); err != nil {
		return fmt.Errorf("daemon: read exec-helper handoff: %w", err)
	}

	for _, rl := range desc.Rlimits {
		resource, ok := rlimitResource(rl.Type)
		if !ok {
			return fmt.Errorf("daemon: unknown rlimit %q", rl.Type)
		}
		lim := &unix.Rlimit{Cur: rl.Soft, Max: rl.Hard}
		if err := unix.Setrlimit(resource, lim); err != nil {
			return fmt.Errorf("daemon: setrlimit %s: %w", rl.Type, err)
		}
	}

	if _, err := unix.Setsid(); err != nil {
		return fmt.Errorf("daemon: setsid: %w", err)
	}

	if desc.TTY {
		if err := unix.IoctlSetInt(0, unix.TIOCSCTTY, 1); err != nil {
			return fmt.Errorf("daemon: set controlling terminal: %w", err)
		}
	}

	// The exec-helper is a full Go runtime with several OS threads
	// already running by this point, so plain Setuid/Setgid (which only
	// affect the calling thread) would leave the process's threads with
	// mismatched credentials. AllThreadsSyscall applies the change to
	// every thread atomically, the same way libcontainer's init does it.
	if len(desc.Groups) > 0 {
		if err := setGroupsAllThreads(toIntSlice(desc.Groups)); err != nil {
			return fmt.Errorf("daemon: setgroups: %w", err)
		}
	}
	if err := setresgidAllThreads(int(desc.GID)); err != nil {
		return fmt.Errorf("daemon: setresgid: %w", err)
	}
	if err := setresuidAllThreads(int(desc.UID)); err != nil {
		return fmt.Errorf("daemon: setresuid: %w", err)
	}

	if desc.Dir != "" {
		if err := unix.Chdir(desc.Dir); err != nil {
			return fmt.Errorf("daemon: chdir %s: %w", desc.Dir, err)
		}
	}

	if len(desc.Argv) == 0 {
		return fmt.Errorf("daemon: empty argv")
	}

	path, err := lookPath(desc.Argv[0], desc.Env)
	if err != nil {
		return err
	}

	if err := unix.Exec(path, desc.Argv, desc.Env); err != nil {
		return fmt.Errorf("daemon: exec %s: %w", path, err)
	}
	return nil
}

func setresuidAllThreads(uid int) error {
	_, _, errno := syscall.AllThreadsSyscall(syscall.SYS_SETRESUID, uintptr(uid), uintptr(uid), uintptr(uid))
	if errno != 0 {
		return errno
	}
	return nil
}

func setresgidAllThreads(gid int) error {
	_, _, errno := syscall.AllThreadsSyscall(syscall.SYS_SETRESGID, uintptr(gid), uintptr(gid), uintptr(gid))
	if errno != 0 {
		return errno
	}
	return nil
}

func setGroupsAllThreads(gids []int) error {
	u32 := make([]uint32, len(gids))
	for i, g := range gids {
		u32[i] = uint32(g)
	}
	_, _, errno := syscall.AllThreadsSyscall(syscall.SYS_SETGROUPS, uintptr(len(u32)), uintptr(unsafe.Pointer(&u32[0])), 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func toIntSlice(u []uint32) []int {
	out := make([]int, len(u))
	for i, v := range u {
		out[i] = int(v)
	}
	return out
}

// lookPath resolves file against the PATH entry of env, mirroring
// execvpe's search semantics rather than the calling process's own PATH.
func lookPath(file string, env []string) (string, error) {
	if strings.Contains(file, "/") {
		return file, nil
	}

	var path string
	for _, kv := range env {
		if strings.HasPrefix(kv, "PATH=") {
			path = strings.TrimPrefix(kv, "PATH=")
			break
		}
	}
	for _, dir := range strings.Split(path, ":") {
		if dir == "" {
			continue
		}
		candidate := dir + "/" + file
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("daemon: %q not found in PATH", file)
}

func rlimitResource(name string) (int, bool) {
	switch name {
	case "RLIMIT_CPU":
		return unix.RLIMIT_CPU, true
	case "RLIMIT_FSIZE":
		return unix.RLIMIT_FSIZE, true
	case "RLIMIT_DATA":
		return unix.RLIMIT_DATA, true
	case "RLIMIT_STACK":
		return unix.RLIMIT_STACK, true
	case "RLIMIT_CORE":
		return unix.RLIMIT_CORE, true
	case "RLIMIT_RSS":
		return unix.RLIMIT_RSS, true
	case "RLIMIT_NPROC":
		return unix.RLIMIT_NPROC, true
	case "RLIMIT_NOFILE":
		return unix.RLIMIT_NOFILE, true
	case "RLIMIT_MEMLOCK":
		return unix.RLIMIT_MEMLOCK, true
	case "RLIMIT_AS":
		return unix.RLIMIT_AS, true
	case "RLIMIT_LOCKS":
		return unix.RLIMIT_LOCKS, true
	case "RLIMIT_SIGPENDING":
		return unix.RLIMIT_SIGPENDING, true
	case "RLIMIT_MSGQUEUE":
		return unix.RLIMIT_MSGQUEUE, true
	case "RLIMIT_NICE":
		return unix.RLIMIT_NICE, true
	case "RLIMIT_RTPRIO":
		return unix.RLIMIT_RTPRIO, true
	case "RLIMIT_RTTIME":
		return unix.RLIMIT_RTTIME, true
	default:
		return 0, false
	}
}

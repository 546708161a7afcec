package daemon

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"wshd/internal/wire"
)

// RunLoop is the daemon's main event loop: it multiplexes the control
// socket's listening descriptor and a signalfd for SIGCHLD, accepting new
// requests and reaping children as each becomes ready. It never returns
// under normal operation.
func RunLoop(state *State) error {
	os.Stdin.Close()
	os.Stdout.Close()
	os.Stderr.Close()

	sigMask := sigset(unix.SIGCHLD)
	if err := unix.PthreadSigmask(unix.SIG_BLOCK, &sigMask, nil); err != nil {
		return fmt.Errorf("daemon: block SIGCHLD: %w", err)
	}

	sfd, err := unix.Signalfd(-1, &sigMask, unix.SFD_NONBLOCK|unix.SFD_CLOEXEC)
	if err != nil {
		return fmt.Errorf("daemon: signalfd: %w", err)
	}
	defer unix.Close(sfd)

	fds := []unix.PollFd{
		{Fd: int32(state.ListenFD), Events: unix.POLLIN},
		{Fd: int32(sfd), Events: unix.POLLIN},
	}

	for {
		n, err := unix.Poll(fds, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("daemon: poll: %w", err)
		}
		if n == 0 {
			continue
		}

		if fds[0].Revents&unix.POLLIN != 0 {
			if err := acceptOne(state); err != nil {
				fmt.Fprintf(os.Stderr, "wshd: accept: %v\n", err)
			}
		}

		if fds[1].Revents&unix.POLLIN != 0 {
			// The kernel's signalfd_siginfo record is 128 bytes; its
			// contents are not needed since every wakeup just means
			// "go reap children".
			var siginfo [128]byte
			if _, err := unix.Read(sfd, siginfo[:]); err != nil {
				fmt.Fprintf(os.Stderr, "wshd: read signalfd: %v\n", err)
			}
			if err := reapChildren(state); err != nil {
				fmt.Fprintf(os.Stderr, "wshd: reap children: %v\n", err)
			}
		}
	}
}

func acceptOne(state *State) error {
	connFD, err := wire.Accept(state.ListenFD)
	if err != nil {
		return err
	}
	if err := setCloexec(connFD); err != nil {
		unix.Close(connFD)
		return err
	}

	kind, body, fds, ok, err := wire.RecvWithFDs(connFD)
	if err != nil {
		unix.Close(connFD)
		return err
	}
	for _, fd := range fds {
		unix.Close(fd)
	}
	if !ok {
		return unix.Close(connFD)
	}

	switch kind {
	case wire.KindBindMount, wire.KindSpawn:
		req, err := wire.DecodeRequest(body)
		if err != nil {
			unix.Close(connFD)
			return err
		}
		if req.IsBindMount() {
			err = HandleBindMount(state, connFD, req)
		} else {
			err = HandleSpawn(state, connFD, req)
		}
		unix.Close(connFD)
		return err
	default:
		unix.Close(connFD)
		return fmt.Errorf("daemon: unknown request kind %v", kind)
	}
}

// sigset builds a Sigset_t containing the given signals. x/sys/unix does
// not expose a sigaddset helper, so the bitmask is built directly; bit
// (n-1)%64 of word (n-1)/64 corresponds to signal n, matching the kernel's
// definition of sigset_t for the word size used here.
func sigset(signals ...unix.Signal) unix.Sigset_t {
	var set unix.Sigset_t
	for _, sig := range signals {
		n := uint(sig) - 1
		set.Val[n/64] |= 1 << (n % 64)
	}
	return set
}

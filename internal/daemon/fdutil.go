package daemon

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func dupFD(fd int) (int, error) {
	nfd, err := unix.Dup(fd)
	if err != nil {
		return -1, fmt.Errorf("daemon: dup fd %d: %w", fd, err)
	}
	return nfd, nil
}

// clearCloexec drops FD_CLOEXEC on fd. Needed only for descriptors that
// must survive a raw unix.Exec; exec.Command's ExtraFiles mechanism
// handles inheritance on its own and never needs this.
func clearCloexec(fd int) error {
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	if err != nil {
		return fmt.Errorf("daemon: fcntl(F_GETFD, %d): %w", fd, err)
	}
	flags &^= unix.FD_CLOEXEC
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, flags); err != nil {
		return fmt.Errorf("daemon: fcntl(F_SETFD, %d): %w", fd, err)
	}
	return nil
}

// setCloexec restores FD_CLOEXEC on fd once a descriptor handed across a
// raw exec no longer needs to survive a further one.
func setCloexec(fd int) error {
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	if err != nil {
		return fmt.Errorf("daemon: fcntl(F_GETFD, %d): %w", fd, err)
	}
	flags |= unix.FD_CLOEXEC
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, flags); err != nil {
		return fmt.Errorf("daemon: fcntl(F_SETFD, %d): %w", fd, err)
	}
	return nil
}

package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"wshd/internal/wire"
)

// HandleBindMount injects a host path into the container as a bind mount.
// It steps into the host's mount namespace to pick up the mount at a
// path named under the shared volumes directory, then steps back into
// the container's mount namespace to bind that staging path onto the
// requested destination. This is the only operation that ever crosses
// back into the host mount namespace after bootstrap.
func HandleBindMount(state *State, connFD int, req *wire.SpawnRequest) error {
	if err := bindMount(state, req); err != nil {
		body, _ := wire.EncodeResponse(&wire.SpawnResponse{OK: false, Error: err.Error()})
		_ = wire.SendWithFDs(connFD, wire.KindBindMount, body, nil)
		return err
	}

	body, err := wire.EncodeResponse(&wire.SpawnResponse{OK: true})
	if err != nil {
		return fmt.Errorf("daemon: encode bind-mount response: %w", err)
	}
	if err := wire.SendWithFDs(connFD, wire.KindBindMount, body, nil); err != nil {
		return fmt.Errorf("daemon: send bind-mount response: %w", err)
	}
	return nil
}

func bindMount(state *State, req *wire.SpawnRequest) error {
	if state.VolumesDir == "" {
		return fmt.Errorf("daemon: bind mount requested without a volumes directory")
	}

	hostVolumePath := filepath.Join(state.VolumesDir, req.BindName)
	containerVolumePath := filepath.Join(containerMountsDir, req.BindName)

	ns, err := enterNamespace(state.HostMountNSFD)
	if err != nil {
		return err
	}
	defer ns.restore()

	if err := os.Mkdir(hostVolumePath, 0755); err != nil && !os.IsExist(err) {
		return fmt.Errorf("daemon: mkdir %s: %w", hostVolumePath, err)
	}
	if err := unix.Mount(req.BindSource, hostVolumePath, "", unix.MS_BIND, ""); err != nil {
		return fmt.Errorf("daemon: bind mount %s: %w", req.BindSource, err)
	}

	if err := ns.restore(); err != nil {
		return err
	}

	if err := mkdirAllAs(req.BindDestination, 0, 0); err != nil {
		return err
	}
	if err := unix.Mount(containerVolumePath, req.BindDestination, "", unix.MS_BIND, ""); err != nil {
		return fmt.Errorf("daemon: bind mount %s: %w", req.BindDestination, err)
	}

	return nil
}

// nsSwitch remembers the namespace this process was in before entering
// another, so it can always be restored exactly once.
type nsSwitch struct {
	origFD   int
	restored bool
}

func enterNamespace(targetFD int) (*nsSwitch, error) {
	origFD, err := unix.Open("/proc/self/ns/mnt", unix.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("daemon: open current mount namespace: %w", err)
	}
	if err := unix.Setns(targetFD, unix.CLONE_NEWNS); err != nil {
		unix.Close(origFD)
		return nil, fmt.Errorf("daemon: setns: %w", err)
	}
	return &nsSwitch{origFD: origFD}, nil
}

func (n *nsSwitch) restore() error {
	if n.restored {
		return nil
	}
	n.restored = true
	defer unix.Close(n.origFD)
	if err := unix.Setns(n.origFD, unix.CLONE_NEWNS); err != nil {
		return fmt.Errorf("daemon: setns back: %w", err)
	}
	return nil
}

// mkdirAllAs recursively creates dir, chowning only the path segments it
// actually creates; pre-existing segments keep their ownership.
func mkdirAllAs(dir string, uid, gid int) error {
	dir = strings.TrimRight(dir, "/")
	if dir == "" {
		return fmt.Errorf("daemon: empty bind-mount destination")
	}

	var built strings.Builder
	segments := strings.Split(dir, "/")
	for i, seg := range segments {
		if seg == "" {
			if i == 0 {
				built.WriteByte('/')
			}
			continue
		}
		if built.Len() > 0 && built.String()[built.Len()-1] != '/' {
			built.WriteByte('/')
		}
		built.WriteString(seg)

		if err := mkdirAs(built.String(), uid, gid); err != nil {
			return err
		}
	}
	return nil
}

func mkdirAs(dir string, uid, gid int) error {
	if err := os.Mkdir(dir, 0755); err != nil {
		if os.IsExist(err) {
			return nil
		}
		return fmt.Errorf("daemon: mkdir %s: %w", dir, err)
	}
	if err := os.Chown(dir, uid, gid); err != nil {
		return fmt.Errorf("daemon: chown %s: %w", dir, err)
	}
	return nil
}

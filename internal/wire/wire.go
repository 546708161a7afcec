// Package wire implements the length-prefixed, fd-carrying framing used on
// the daemon's control socket.
//
// Every frame has the shape:
//
//	magic(4) version(2) kind(1) length(4) body(length)
//
// Out-of-band file descriptors, when present, travel in the same
// sendmsg/recvmsg call as the frame's body via SCM_RIGHTS.
package wire

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

const (
	magic   uint32 = 0x77736864 // "wshd"
	version uint16 = 1

	// headerSize is magic(4) + version(2) + kind(1) + length(4).
	headerSize = 4 + 2 + 1 + 4

	// maxBody bounds a single frame's JSON body.
	maxBody = 64 * 1024

	// maxFDs bounds the number of descriptors accepted in one control message.
	maxFDs = 4
)

// Kind identifies the payload carried by a frame.
type Kind uint8

const (
	// KindSpawn carries a SpawnRequest / SpawnResponse pair.
	KindSpawn Kind = iota + 1
	// KindBindMount carries a bind-mount SpawnRequest and its response.
	KindBindMount
)

func (k Kind) String() string {
	switch k {
	case KindSpawn:
		return "spawn"
	case KindBindMount:
		return "bind-mount"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Listen opens the control socket at path and starts listening on it.
// Any stale socket file at path is removed first. The returned listener
// owns the listening descriptor; callers read its Fd() when handing it to a
// re-exec'd child.
func Listen(path string) (*unixListener, error) {
	_ = unix.Unlink(path)

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("wire: socket: %w", err)
	}

	sa := &unix.SockaddrUnix{Name: path}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("wire: bind %s: %w", path, err)
	}

	if err := unix.Listen(fd, 16); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("wire: listen %s: %w", path, err)
	}

	return &unixListener{fd: fd, path: path}, nil
}

// unixListener wraps a raw listening socket descriptor. It is deliberately
// not an *os.File: the descriptor's lifetime is managed explicitly so it
// can be handed across a clone/exec boundary by number.
type unixListener struct {
	fd   int
	path string
}

// Fd returns the raw descriptor number.
func (l *unixListener) Fd() int { return l.fd }

// Path returns the socket path this listener is bound to.
func (l *unixListener) Path() string { return l.path }

// Close closes the listening socket. It does not remove the socket file.
func (l *unixListener) Close() error { return unix.Close(l.fd) }

// Accept blocks until a client connects and returns the new connection's
// descriptor. EINTR is retried transparently.
func Accept(listenFD int) (int, error) {
	for {
		nfd, _, err := unix.Accept(listenFD)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return -1, fmt.Errorf("wire: accept: %w", err)
		}
		return nfd, nil
	}
}

// SendWithFDs writes body, already encoded, as a single frame of the given
// kind on connFD, passing fds alongside it out-of-band.
func SendWithFDs(connFD int, kind Kind, body []byte, fds []int) error {
	if len(body) > maxBody {
		return fmt.Errorf("wire: body too large (%d > %d)", len(body), maxBody)
	}

	header := make([]byte, headerSize)
	binary.BigEndian.PutUint32(header[0:4], magic)
	binary.BigEndian.PutUint16(header[4:6], version)
	header[6] = byte(kind)
	binary.BigEndian.PutUint32(header[7:11], uint32(len(body)))

	frame := append(header, body...)

	var oob []byte
	if len(fds) > 0 {
		oob = unix.UnixRights(fds...)
	}

	if err := unix.Sendmsg(connFD, frame, oob, nil, 0); err != nil {
		return fmt.Errorf("wire: sendmsg: %w", err)
	}
	return nil
}

// RecvWithFDs reads one frame off connFD along with any fds passed
// alongside it. ok is false and err is nil when the peer closed the
// connection before sending a frame.
func RecvWithFDs(connFD int) (kind Kind, body []byte, fds []int, ok bool, err error) {
	buf := make([]byte, headerSize+maxBody)
	oob := make([]byte, unix.CmsgSpace(maxFDs*4))

	n, oobn, _, _, err := unix.Recvmsg(connFD, buf, oob, 0)
	if err != nil {
		return 0, nil, nil, false, fmt.Errorf("wire: recvmsg: %w", err)
	}
	if n == 0 {
		return 0, nil, nil, false, nil
	}
	if n < headerSize {
		return 0, nil, nil, false, fmt.Errorf("wire: short frame (%d bytes)", n)
	}

	got := binary.BigEndian.Uint32(buf[0:4])
	if got != magic {
		return 0, nil, nil, false, fmt.Errorf("wire: bad magic %#x", got)
	}
	gotVersion := binary.BigEndian.Uint16(buf[4:6])
	if gotVersion != version {
		return 0, nil, nil, false, fmt.Errorf("wire: unsupported version %d", gotVersion)
	}
	kind = Kind(buf[6])
	length := binary.BigEndian.Uint32(buf[7:11])
	if int(length) > n-headerSize {
		return 0, nil, nil, false, fmt.Errorf("wire: truncated body (want %d, have %d)", length, n-headerSize)
	}
	body = append([]byte(nil), buf[headerSize:headerSize+int(length)]...)

	if oobn > 0 {
		cmsgs, err := unix.ParseSocketControlMessage(oob[:oobn])
		if err != nil {
			return 0, nil, nil, false, fmt.Errorf("wire: parse control message: %w", err)
		}
		for _, cmsg := range cmsgs {
			parsed, err := unix.ParseUnixRights(&cmsg)
			if err != nil {
				continue
			}
			fds = append(fds, parsed...)
		}
	}

	return kind, body, fds, true, nil
}

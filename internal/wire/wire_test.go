package wire

import (
	"os"
	"testing"

	"golang.org/x/sys/unix"
)

func socketpair(t *testing.T) (a, b int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestSendRecvRoundTrip(t *testing.T) {
	a, b := socketpair(t)

	req := &SpawnRequest{Argv: []string{"/bin/true"}, Env: []string{"FOO=bar"}, Dir: "/"}
	body, err := EncodeRequest(req)
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}

	if err := SendWithFDs(a, KindSpawn, body, nil); err != nil {
		t.Fatalf("SendWithFDs: %v", err)
	}

	kind, gotBody, fds, ok, err := RecvWithFDs(b)
	if err != nil {
		t.Fatalf("RecvWithFDs: %v", err)
	}
	if !ok {
		t.Fatalf("RecvWithFDs: ok=false, expected a frame")
	}
	if kind != KindSpawn {
		t.Fatalf("kind = %v, want %v", kind, KindSpawn)
	}
	if len(fds) != 0 {
		t.Fatalf("fds = %v, want none", fds)
	}

	got, err := DecodeRequest(gotBody)
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if len(got.Argv) != 1 || got.Argv[0] != "/bin/true" {
		t.Fatalf("Argv = %v, want [/bin/true]", got.Argv)
	}
}

func TestSendRecvWithFDs(t *testing.T) {
	a, b := socketpair(t)

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	resp := &SpawnResponse{OK: true}
	body, err := EncodeResponse(resp)
	if err != nil {
		t.Fatalf("EncodeResponse: %v", err)
	}

	if err := SendWithFDs(a, KindSpawn, body, []int{int(r.Fd()), int(w.Fd())}); err != nil {
		t.Fatalf("SendWithFDs: %v", err)
	}

	_, gotBody, fds, ok, err := RecvWithFDs(b)
	if err != nil {
		t.Fatalf("RecvWithFDs: %v", err)
	}
	if !ok {
		t.Fatalf("RecvWithFDs: ok=false")
	}
	if len(fds) != 2 {
		t.Fatalf("got %d fds, want 2", len(fds))
	}
	for _, fd := range fds {
		_ = unix.Close(fd)
	}

	gotResp, err := DecodeResponse(gotBody)
	if err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	if !gotResp.OK {
		t.Fatalf("response.OK = false, want true")
	}
}

func TestRecvWithFDsOnClosedPeer(t *testing.T) {
	a, b := socketpair(t)
	if err := unix.Close(a); err != nil {
		t.Fatalf("close: %v", err)
	}

	_, _, _, ok, err := RecvWithFDs(b)
	if err != nil {
		t.Fatalf("RecvWithFDs: %v", err)
	}
	if ok {
		t.Fatalf("ok = true, want false for a peer that closed without sending")
	}
}

func TestIsBindMount(t *testing.T) {
	spawn := &SpawnRequest{Kind: KindSpawn, Argv: []string{"/bin/true"}}
	if spawn.IsBindMount() {
		t.Fatalf("spawn request reported as bind mount")
	}

	bind := &SpawnRequest{Kind: KindBindMount, BindSource: "/src", BindDestination: "/dst"}
	if !bind.IsBindMount() {
		t.Fatalf("bind mount request not reported as bind mount")
	}
}

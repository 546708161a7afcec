package daemon

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestSigsetSingleSignal(t *testing.T) {
	set := sigset(unix.SIGCHLD)

	n := uint(unix.SIGCHLD) - 1
	if set.Val[n/64]&(1<<(n%64)) == 0 {
		t.Fatalf("SIGCHLD bit not set in %+v", set)
	}

	// No other low-numbered signal should be set.
	other := uint(unix.SIGHUP) - 1
	if unix.SIGHUP != unix.SIGCHLD && set.Val[other/64]&(1<<(other%64)) != 0 {
		t.Fatalf("unrelated signal bit set in %+v", set)
	}
}

func TestSigsetMultipleSignals(t *testing.T) {
	set := sigset(unix.SIGCHLD, unix.SIGTERM)

	for _, sig := range []unix.Signal{unix.SIGCHLD, unix.SIGTERM} {
		n := uint(sig) - 1
		if set.Val[n/64]&(1<<(n%64)) == 0 {
			t.Fatalf("signal %v bit not set in %+v", sig, set)
		}
	}
}

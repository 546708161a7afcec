package daemon

import (
	"fmt"
	"os"

	"wshd/internal/barrier"
	"wshd/internal/handoff"
)

// handoffPayload is the state carried across the continue re-exec. It is
// the Go replacement for the original daemon's SysV shared-memory segment:
// instead of a second process attaching to a fixed shm key, the state is
// serialized to a pipe the child end of which is passed down as an
// environment-named descriptor.
type handoffPayload struct {
	Config

	ListenFD        int `json:"listenFD"`
	HostMountNSFD   int `json:"hostMountNSFD"`
	BarrierChildRFD int `json:"barrierChildRFD"`
	BarrierChildWFD int `json:"barrierChildWFD"`
}

func toHandoff(s *State, barrierChild *barrier.Barrier) handoffPayload {
	p := handoffPayload{
		Config:        s.Config,
		ListenFD:      s.ListenFD,
		HostMountNSFD: s.HostMountNSFD,
	}
	if f := barrierChild.ReadFile(); f != nil {
		p.BarrierChildRFD = int(f.Fd())
	} else {
		p.BarrierChildRFD = -1
	}
	if f := barrierChild.WriteFile(); f != nil {
		p.BarrierChildWFD = int(f.Fd())
	} else {
		p.BarrierChildWFD = -1
	}
	return p
}

func stateFromHandoff(p handoffPayload) (*State, *barrier.Barrier) {
	s := &State{
		Config:        p.Config,
		ListenFD:      p.ListenFD,
		HostMountNSFD: p.HostMountNSFD,
		PidToExitFD:   make(map[int]*os.File),
	}
	b := barrier.FromFDs(p.BarrierChildRFD, p.BarrierChildWFD)
	return s, b
}

func writeHandoff(w *os.File, p handoffPayload) error {
	if err := handoff.Write(w, &p); err != nil {
		return fmt.Errorf("daemon: write handoff: %w", err)
	}
	return nil
}

func readHandoff(r *os.File) (handoffPayload, error) {
	var p handoffPayload
	if err := handoff.Read(r, &p); err != nil {
		return handoffPayload{}, fmt.Errorf("daemon: read handoff: %w", err)
	}
	return p, nil
}

package monitor

import (
	"sync/atomic"
	"time"
)

// Phase names the step the control loop is in.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseRunning     Phase = "running"
	PhaseResetCheck  Phase = "reset_check"
	PhaseDiscovering Phase = "discovering"
	PhaseVerifying   Phase = "verifying"
	PhaseSleeping    Phase = "sleeping"
	PhaseStopped     Phase = "stopped"
)

// Status is a read-only view of the monitor, replaced wholesale on every phase change.
type Status struct {
	Running     bool
	Phase       Phase
	Filters     []string
	Cycles      uint64
	CycleID     string
	LastCycleAt time.Time
	Discovered  int
	Tracked     int
	InStock     int
	Notified    uint64
	Resets      uint64
	LastReset   string
}

type statusBox struct {
	v atomic.Pointer[Status]
}

func (b *statusBox) load() Status {
	if s := b.v.Load(); s != nil {
		out := *s
		out.Filters = append([]string(nil), s.Filters...)
		return out
	}
	return Status{Phase: PhaseIdle}
}

func (b *statusBox) update(fn func(*Status)) {
	for {
		old := b.v.Load()
		next := Status{Phase: PhaseIdle}
		if old != nil {
			next = *old
		}
		fn(&next)
		if b.v.CompareAndSwap(old, &next) {
			return
		}
	}
}

package scheduler

import (
	"sync"

	"github.com/sasha-s/go-deadlock"
)

// Phase is one of the three process-wide modes of spec §4.1.
type Phase int

const (
	PhaseLoad Phase = iota
	PhaseMatch
	PhaseExecute
)

func (p Phase) String() string {
	switch p {
	case PhaseLoad:
		return "load"
	case PhaseMatch:
		return "match"
	case PhaseExecute:
		return "execute"
	default:
		return "phase(?)"
	}
}

// PhaseController enforces spec §8 property 1 (phase exclusivity): load
// runs with exactly one worker and no other activity; match and execute
// may run arbitrary workers concurrently, and any transition between
// phases drains the outgoing phase's active workers first.
//
// A "phase switch" (match re-entering execute's phase or vice versa, per
// spec §4.1) is modeled as LeavePhase followed by EnterPhase: the calling
// goroutine gives up its slot in the old phase, which may unblock a
// pending drain, then waits to be admitted to the new one.
type PhaseController struct {
	mu     deadlock.Mutex
	cond   *sync.Cond
	phase  Phase
	active int  // workers currently inside the current phase
	drain  bool // a drain (switch/load request) is pending
}

// NewPhaseController creates a controller starting in PhaseLoad.
func NewPhaseController() *PhaseController {
	pc := &PhaseController{phase: PhaseLoad}
	pc.cond = sync.NewCond(&pc.mu)
	return pc
}

// Phase returns the current phase.
func (pc *PhaseController) Phase() Phase {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.phase
}

// EnterPhase blocks until ph is the active phase and admits the caller
// as one of its active workers. Entering PhaseLoad always waits for
// exclusive access (active == 0, no other entrant waiting for load).
func (pc *PhaseController) EnterPhase(ph Phase) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	for {
		switch {
		case pc.phase == ph && ph != PhaseLoad && !pc.drain:
			pc.active++
			return
		case pc.phase == ph && ph == PhaseLoad && pc.active == 0:
			pc.active++
			return
		case pc.active == 0 && !pc.drain:
			pc.phase = ph
			pc.active++
			return
		}
		pc.cond.Wait()
	}
}

// LeavePhase releases the caller's slot in the current phase and wakes
// any goroutine waiting for a drain or a phase transition.
func (pc *PhaseController) LeavePhase() {
	pc.mu.Lock()
	pc.active--
	if pc.active < 0 {
		panic("scheduler: phase active-worker count went negative")
	}
	pc.cond.Broadcast()
	pc.mu.Unlock()
}

// Switch performs the "phase switch" of spec §4.1: it leaves the phase
// the caller currently holds and enters to. Entering a different phase
// waits until no other worker is active in the old one, so match and
// execute never overlap.
func (pc *PhaseController) Switch(from, to Phase) {
	pc.LeavePhase()
	pc.EnterPhase(to)
}

// RequestDrain marks that a switch or load is pending so EnterPhase
// callers stop admitting new work into the outgoing phase, then blocks
// until active reaches zero.
func (pc *PhaseController) RequestDrain() {
	pc.mu.Lock()
	pc.drain = true
	for pc.active > 0 {
		pc.cond.Wait()
	}
	pc.mu.Unlock()
}

// EndDrain clears the drain flag set by RequestDrain, allowing EnterPhase
// callers to proceed again.
func (pc *PhaseController) EndDrain() {
	pc.mu.Lock()
	pc.drain = false
	pc.cond.Broadcast()
	pc.mu.Unlock()
}

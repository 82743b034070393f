package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPhaseControllerStartsInLoad(t *testing.T) {
	pc := NewPhaseController()
	assert.Equal(t, PhaseLoad, pc.Phase())
}

func TestPhaseControllerAdmitsConcurrentMatchWorkers(t *testing.T) {
	pc := NewPhaseController()
	pc.EnterPhase(PhaseLoad)
	pc.LeavePhase()

	pc.EnterPhase(PhaseMatch)
	defer pc.LeavePhase()

	entered := make(chan struct{})
	go func() {
		pc.EnterPhase(PhaseMatch)
		close(entered)
		pc.LeavePhase()
	}()

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("a second worker could not enter the already-active match phase")
	}
}

func TestPhaseControllerLoadIsExclusive(t *testing.T) {
	pc := NewPhaseController()
	pc.EnterPhase(PhaseLoad)

	entered := make(chan struct{})
	go func() {
		pc.EnterPhase(PhaseLoad)
		close(entered)
	}()

	select {
	case <-entered:
		t.Fatal("a second worker entered load while the first was still active")
	case <-time.After(20 * time.Millisecond):
	}

	pc.LeavePhase()
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("load was never re-admitted after the first worker left")
	}
}

func TestPhaseControllerRequestDrainWaitsForActiveToZero(t *testing.T) {
	pc := NewPhaseController()
	pc.EnterPhase(PhaseLoad)
	pc.LeavePhase()
	pc.EnterPhase(PhaseMatch)

	drained := make(chan struct{})
	go func() {
		pc.RequestDrain()
		close(drained)
	}()

	select {
	case <-drained:
		t.Fatal("RequestDrain returned before the active worker left")
	case <-time.After(20 * time.Millisecond):
	}

	pc.LeavePhase()
	select {
	case <-drained:
	case <-time.After(time.Second):
		t.Fatal("RequestDrain never returned after active reached zero")
	}
	pc.EndDrain()
}

func TestPhaseControllerLeavePhaseBelowZeroPanics(t *testing.T) {
	pc := NewPhaseController()
	assert.Panics(t, func() { pc.LeavePhase() })
}

func TestPhaseControllerSwitchMovesBetweenPhases(t *testing.T) {
	pc := NewPhaseController()
	pc.EnterPhase(PhaseLoad)
	pc.LeavePhase()
	pc.EnterPhase(PhaseMatch)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		pc.Switch(PhaseMatch, PhaseExecute)
	}()
	wg.Wait()
	assert.Equal(t, PhaseExecute, pc.Phase())
	pc.LeavePhase()
}

package sss

import (
	"testing"

	idset "github.com/intel/goresctrl/pkg/utils"
)

func TestPickFairCPUFallbackNoActiveOverlap(t *testing.T) {
	topo := NewTopology(idset.NewIDSet(0, 1), uniformCapacities(0, 1), nil, nil)
	s := NewSelector(topo, &fakeHost{active: idset.NewIDSet(0, 1)})
	task := &fakeTask{allowed: idset.NewIDSet(4, 5)}

	if got := s.PickFairCPU(task, Wakeup{PrevCPU: 0}); got != 4 {
		t.Fatalf("expected first allowed CPU 4, got %d", got)
	}
}

func TestPickFairCPUSyncFastPath(t *testing.T) {
	cpus := idset.NewIDSet(0, 1, 2)
	topo := NewTopology(cpus, uniformCapacities(0, 1, 2), nil, nil)
	host := &fakeHost{
		active: cpus,
		fair:   map[idset.ID]int64{2: 900},
	}
	s := NewSelector(topo, host)
	task := &fakeTask{allowed: cpus}

	// Synchronous wakeup short-circuits to the waking CPU even when it is
	// the busiest candidate.
	w := Wakeup{PrevCPU: 0, ThisCPU: 2, Flags: WakeTTWU | WakeSync}
	if got := s.PickFairCPU(task, w); got != 2 {
		t.Fatalf("expected sync fast path to CPU 2, got %d", got)
	}

	w.Flags = WakeTTWU | WakeCurrentCPU
	if got := s.PickFairCPU(task, w); got != 2 {
		t.Fatalf("expected current-cpu fast path to CPU 2, got %d", got)
	}

	// An exiting waker does not get the handoff; the scorer picks an idle
	// CPU. WakeWide keeps the affinity bonus out of the comparison.
	w.Flags = WakeTTWU | WakeSync
	w.WakerExiting = true
	w.WakeWide = true
	if got := s.PickFairCPU(task, w); got == 2 {
		t.Fatalf("expected sync handoff suppressed for exiting waker")
	}
}

func TestPickFairCPUPrefersMostRemainingCapacity(t *testing.T) {
	cpus := idset.NewIDSet(0, 1, 2)
	topo := NewTopology(cpus, uniformCapacities(0, 1, 2), nil, nil)
	host := &fakeHost{
		active: cpus,
		fair:   map[idset.ID]int64{0: 600, 1: 100, 2: 300},
		rt:     map[idset.ID]int64{1: 50},
	}
	s := NewSelector(topo, host)
	task := &fakeTask{allowed: cpus, util: 100}

	if got := s.PickFairCPU(task, Wakeup{PrevCPU: 0}); got != 1 {
		t.Fatalf("expected CPU 1 with most remaining capacity, got %d", got)
	}
}

func TestPickFairCPUUtilChargeSkipsPrevWhenQueued(t *testing.T) {
	cpus := idset.NewIDSet(0, 1)
	topo := NewTopology(cpus, uniformCapacities(0, 1), nil, nil)
	host := &fakeHost{
		active: cpus,
		fair:   map[idset.ID]int64{0: 200, 1: 150},
	}
	s := NewSelector(topo, host)

	// Queued on CPU 0: its observed utilization already includes the task,
	// so only CPU 1 is charged and CPU 0 wins.
	queued := &fakeTask{allowed: cpus, util: 300, queued: true}
	if got := s.PickFairCPU(queued, Wakeup{PrevCPU: 0}); got != 0 {
		t.Fatalf("expected sticky CPU 0 for queued task, got %d", got)
	}

	// Not queued anywhere: both candidates are charged and CPU 1's lower
	// utilization wins.
	idle := &fakeTask{allowed: cpus, util: 300}
	if got := s.PickFairCPU(idle, Wakeup{PrevCPU: 0}); got != 1 {
		t.Fatalf("expected CPU 1 for dequeued task, got %d", got)
	}
}

func TestPickFairCPULLCBiasBreaksTie(t *testing.T) {
	cpus := idset.NewIDSet(0, 1, 2)
	llc := map[idset.ID]idset.IDSet{
		0: idset.NewIDSet(0, 1),
		1: idset.NewIDSet(0, 1),
		2: idset.NewIDSet(2),
	}
	topo := NewTopology(cpus, uniformCapacities(0, 1, 2), nil, llc)
	// Previous CPU 0 is offline; 1 and 2 score identically on capacity.
	host := &fakeHost{active: idset.NewIDSet(1, 2)}
	s := NewSelector(topo, host)
	task := &fakeTask{allowed: cpus}

	if got := s.PickFairCPU(task, Wakeup{PrevCPU: 0}); got != 1 {
		t.Fatalf("expected LLC-sharing CPU 1, got %d", got)
	}
}

func TestPickFairCPUBusySkipsBias(t *testing.T) {
	cpus := idset.NewIDSet(0, 1, 2)
	llc := map[idset.ID]idset.IDSet{0: idset.NewIDSet(0, 2)}
	topo := NewTopology(cpus, uniformCapacities(0, 1, 2), nil, llc)
	host := &fakeHost{
		active: idset.NewIDSet(1, 2),
		fair:   map[idset.ID]int64{1: 950, 2: 950},
	}
	s := NewSelector(topo, host)
	task := &fakeTask{allowed: cpus}

	// Remaining capacity 74 sits under the margin: the LLC bonus that
	// would favor CPU 2 is skipped and the first equal candidate wins.
	if got := s.PickFairCPU(task, Wakeup{PrevCPU: 0}); got != 1 {
		t.Fatalf("expected bias skipped on busy CPUs, got %d", got)
	}
}

func TestPickFairCPUExecSkipsBias(t *testing.T) {
	cpus := idset.NewIDSet(0, 1, 2)
	llc := map[idset.ID]idset.IDSet{0: idset.NewIDSet(0, 2)}
	topo := NewTopology(cpus, uniformCapacities(0, 1, 2), nil, llc)
	host := &fakeHost{active: idset.NewIDSet(1, 2)}
	s := NewSelector(topo, host)
	task := &fakeTask{allowed: cpus}

	if got := s.PickFairCPU(task, Wakeup{PrevCPU: 0, Flags: WakeExec}); got != 1 {
		t.Fatalf("expected no cache bias after exec, got %d", got)
	}
}

func TestPickFairCPUAffineBonus(t *testing.T) {
	cpus := idset.NewIDSet(1, 2, 3)
	topo := NewTopology(cpus, uniformCapacities(1, 2, 3), nil, nil)
	host := &fakeHost{
		active: cpus,
		fair:   map[idset.ID]int64{1: 100},
	}
	s := NewSelector(topo, host)
	task := &fakeTask{allowed: cpus}

	// Wake-affine: the waking CPU 1 takes the bonus and outscores the
	// idle CPUs despite its load.
	w := Wakeup{PrevCPU: 0, ThisCPU: 1, Flags: WakeTTWU}
	if got := s.PickFairCPU(task, w); got != 1 {
		t.Fatalf("expected wake-affine CPU 1, got %d", got)
	}

	// A wide wakee loses the bonus and lands on an idle CPU.
	w.WakeWide = true
	if got := s.PickFairCPU(task, w); got != 2 {
		t.Fatalf("expected idle CPU 2 for wide wakee, got %d", got)
	}
}

func TestPickFairCPUSMTBias(t *testing.T) {
	cpus := idset.NewIDSet(0, 1, 2)
	smt := map[idset.ID]idset.IDSet{
		0: idset.NewIDSet(0, 1),
		1: idset.NewIDSet(0, 1),
		2: idset.NewIDSet(2),
	}
	topo := NewTopology(cpus, uniformCapacities(0, 1, 2), smt, nil)
	host := &fakeHost{
		active: idset.NewIDSet(1, 2),
		fair:   map[idset.ID]int64{1: 50},
	}
	s := NewSelector(topo, host)
	task := &fakeTask{allowed: cpus}
	w := Wakeup{PrevCPU: 0, Flags: WakeTTWU, WakeWide: true}

	// The sibling of the previous CPU overcomes its slight load through
	// the SMT bonus.
	if got := s.PickFairCPU(task, w); got != 1 {
		t.Fatalf("expected SMT sibling CPU 1, got %d", got)
	}

	if err := s.SetSMTBias(0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := s.PickFairCPU(task, w); got != 2 {
		t.Fatalf("expected idle CPU 2 with SMT bias disabled, got %d", got)
	}
}

func TestPickFairCPUPrevPersistsWhenAllNonpositive(t *testing.T) {
	cpus := idset.NewIDSet(1, 2)
	topo := NewTopology(cpus, uniformCapacities(1, 2), nil, nil)
	host := &fakeHost{active: cpus}
	s := NewSelector(topo, host)
	// The task's own utilization estimate exceeds every candidate's
	// capacity, so no candidate scores above the initial best and the
	// previous CPU persists even though it is not a candidate.
	task := &fakeTask{allowed: cpus, util: 2000}

	if got := s.PickFairCPU(task, Wakeup{PrevCPU: 0}); got != 0 {
		t.Fatalf("expected previous CPU 0 to persist, got %d", got)
	}
}

package sim

import (
	idset "github.com/intel/goresctrl/pkg/utils"

	"burst-sched/internal/bore"
)

type taskState int

const (
	statePending taskState = iota
	stateRunnable
	stateRunning
	stateSleeping
)

// Task is a simulated schedulable entity: the burst record the engine
// mutates plus the behavior script and run-state the simulator owns.
type Task struct {
	B     *bore.Task
	Key   string
	Index int
	Class string

	Allowed idset.IDSet
	Util    int64
	// RTPrio is the configured real-time priority (1..99) for rt tasks.
	RTPrio int

	state taskState
	cpu   idset.ID

	runLeftNs   uint64
	sleepLeftNs uint64
	runSpecNs   uint64
	sleepSpecNs uint64
	jitterPct   int

	startAtNs uint64
	fork      *forkEvent

	// Wakee-flip bookkeeping for the wake-wide verdict.
	lastWakee  *Task
	wakeeFlips uint32
	flipStamp  uint64
}

type forkEvent struct {
	atNs     uint64
	children int
	threads  bool
	done     bool
}

// NormalPrio implements the placement view: for real-time tasks a lower
// value means a stronger priority (0 is highest).
func (t *Task) NormalPrio() int {
	if t.Class == "rt" {
		return 99 - t.RTPrio
	}
	return int(t.B.StaticPrio)
}

func (t *Task) AllowedCPUs() idset.IDSet { return t.Allowed }

func (t *Task) UtilEstimate() int64 { return t.Util }

func (t *Task) Queued() bool {
	return t.state == stateRunnable || t.state == stateRunning
}

func (t *Task) Running() bool { return t.state == stateRunning }

func (t *Task) isRealtime() bool { return t.Class == "rt" }

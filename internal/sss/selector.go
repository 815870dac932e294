package sss

import (
	"fmt"
	"sync/atomic"

	idset "github.com/intel/goresctrl/pkg/utils"
	"github.com/sirupsen/logrus"

	"burst-sched/internal/logging"
)

// CapacityScale is the capacity of a full-throughput CPU.
const CapacityScale = 1024

const (
	// factorUnit is the score value of one bias step.
	factorUnit = CapacityScale >> 5
	// busyMargin is the remaining capacity below which cache and affinity
	// bias is not applied.
	busyMargin = CapacityScale >> 3
)

// Bias knob defaults and bound.
const (
	DefaultSMTBias = 4
	DefaultLLCBias = 4
	MaxBias        = 8
)

// maxRTPrio converts a real-time normal priority (0 is highest) into a
// positive pressure weight: weight = maxRTPrio - normalPrio.
const maxRTPrio = 100

const noCPU = idset.ID(-1)

// WakeFlags qualifies why a task is being placed.
type WakeFlags uint32

const (
	// WakeExec marks a placement right after exec; cache bias is pointless
	// for a fresh address space.
	WakeExec WakeFlags = 1 << iota
	// WakeFork marks the first placement of a forked task.
	WakeFork
	// WakeTTWU marks a regular wakeup of a previously sleeping task.
	WakeTTWU
	// WakeSync hints that the waker is about to sleep.
	WakeSync
	// WakeCurrentCPU requests placement on the waking CPU when possible.
	WakeCurrentCPU
)

// TaskView exposes the per-task attributes placement reads.
type TaskView interface {
	AllowedCPUs() idset.IDSet
	UtilEstimate() int64
	NormalPrio() int
	Queued() bool
	Running() bool
}

// Occupant describes the task currently owning a CPU.
type Occupant struct {
	Realtime   bool
	NormalPrio int
	Migratable bool
}

// HostView exposes the host-maintained per-CPU state placement reads.
type HostView interface {
	ActiveCPUs() idset.IDSet
	FairUtil(cpu idset.ID) int64
	RTUtil(cpu idset.ID) int64
	DeadlineUtil(cpu idset.ID) int64
	Occupant(cpu idset.ID) (Occupant, bool)
}

// Wakeup carries the per-wakeup context the host passes to the scorers.
type Wakeup struct {
	PrevCPU idset.ID
	ThisCPU idset.ID // CPU executing the wakeup
	Flags   WakeFlags
	// WakerExiting suppresses the synchronous handoff fast path.
	WakerExiting bool
	// WakeWide is the host's wake-width verdict; a wide wakee is not
	// wake-affine to the waking CPU.
	WakeWide bool
}

type candidate struct {
	factor int64
	cpu    idset.ID
}

// Selector scores candidate CPUs for waking tasks against topology,
// utilization and the real-time pressure bank.
type Selector struct {
	topo   *Topology
	host   HostView
	logger *logrus.Logger

	// Per-CPU real-time priority pressure, indexed by CPU id. Mutated
	// from concurrent admit/remove callers.
	bank []atomic.Int64

	smtBias atomic.Int32
	llcBias atomic.Int32
}

func NewSelector(topo *Topology, host HostView) *Selector {
	maxID := noCPU
	for _, cpu := range topo.Present().Members() {
		if cpu > maxID {
			maxID = cpu
		}
	}

	s := &Selector{
		topo:   topo,
		host:   host,
		logger: logging.GetPolicyLogger(),
		bank:   make([]atomic.Int64, maxID+1),
	}
	s.smtBias.Store(DefaultSMTBias)
	s.llcBias.Store(DefaultLLCBias)

	s.logger.WithFields(logrus.Fields{
		"cpus":       topo.Present().Size(),
		"asymmetric": topo.Asymmetric(),
		"smt_bias":   DefaultSMTBias,
		"llc_bias":   DefaultLLCBias,
	}).Info("Placement selector initialized")
	return s
}

// SetSMTBias adjusts the SMT-sibling bias weight at runtime.
func (s *Selector) SetSMTBias(v int) error {
	if v < 0 || v > MaxBias {
		return fmt.Errorf("smt bias %d out of range [0,%d]", v, MaxBias)
	}
	s.smtBias.Store(int32(v))
	return nil
}

// SetLLCBias adjusts the LLC-sharing bias weight at runtime.
func (s *Selector) SetLLCBias(v int) error {
	if v < 0 || v > MaxBias {
		return fmt.Errorf("llc bias %d out of range [0,%d]", v, MaxBias)
	}
	s.llcBias.Store(int32(v))
	return nil
}

func (s *Selector) SMTBias() int { return int(s.smtBias.Load()) }
func (s *Selector) LLCBias() int { return int(s.llcBias.Load()) }

func (s *Selector) validBankCPU(cpu idset.ID) bool {
	return cpu >= 0 && int(cpu) < len(s.bank)
}

// Pressure returns the accumulated real-time priority pressure of a CPU.
func (s *Selector) Pressure(cpu idset.ID) int64 {
	if !s.validBankCPU(cpu) {
		return 0
	}
	return s.bank[cpu].Load()
}

func intersect(a, b idset.IDSet) idset.IDSet {
	out := idset.NewIDSet()
	for cpu := range a {
		if b.Has(cpu) {
			out.Add(cpu)
		}
	}
	return out
}

// firstCPU returns the lowest id in the set, or noCPU for an empty set.
func firstCPU(cpus idset.IDSet) idset.ID {
	members := cpus.SortedMembers()
	if len(members) == 0 {
		return noCPU
	}
	return members[0]
}

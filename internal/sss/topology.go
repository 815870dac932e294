package sss

import (
	idset "github.com/intel/goresctrl/pkg/utils"
	"github.com/sirupsen/logrus"

	"burst-sched/internal/logging"
)

// Topology is the static CPU information placement reads: per-CPU
// capacity, the low-power/high-performance partition, and the SMT/LLC
// sharing maps. Built once before any placement call.
type Topology struct {
	present    idset.IDSet
	capacities map[idset.ID]int64
	smt        map[idset.ID]idset.IDSet
	llc        map[idset.ID]idset.IDSet
	lowPower   idset.IDSet
	highPerf   idset.IDSet
	asymmetric bool
}

// NewTopology partitions the present CPUs by capacity: CPUs at the global
// minimum form the low-power set, the rest the high-performance set, and
// the system counts as asymmetric when the low-power set is no larger
// than its complement. Missing capacities default to CapacityScale.
// Sibling maps may be nil; a missing SMT entry means the CPU is its own
// sibling set, a missing LLC entry means no LLC information.
func NewTopology(present idset.IDSet, capacities map[idset.ID]int64,
	smt, llc map[idset.ID]idset.IDSet) *Topology {

	topo := &Topology{
		present:    present.Clone(),
		capacities: make(map[idset.ID]int64, present.Size()),
		smt:        smt,
		llc:        llc,
		lowPower:   idset.NewIDSet(),
		highPerf:   idset.NewIDSet(),
	}

	lowest := int64(-1)
	for _, cpu := range present.SortedMembers() {
		capacity := capacities[cpu]
		if capacity <= 0 {
			capacity = CapacityScale
		}
		topo.capacities[cpu] = capacity

		if lowest < 0 || capacity < lowest {
			topo.lowPower = idset.NewIDSet()
			lowest = capacity
		}
		if capacity == lowest {
			topo.lowPower.Add(cpu)
		}
	}

	for cpu := range topo.present {
		if !topo.lowPower.Has(cpu) {
			topo.highPerf.Add(cpu)
		}
	}

	// Low-power cores are only steered around when they are the smaller
	// side of the partition, as with E-core style designs.
	topo.asymmetric = topo.lowPower.Size() <= topo.highPerf.Size()

	logging.GetPolicyLogger().WithFields(logrus.Fields{
		"cpus":       topo.present.Size(),
		"low_power":  topo.lowPower.String(),
		"high_perf":  topo.highPerf.String(),
		"asymmetric": topo.asymmetric,
	}).Info("CPU topology partitioned")

	return topo
}

// Present returns the CPUs the topology was built over.
func (t *Topology) Present() idset.IDSet {
	return t.present
}

// Capacity returns the static capacity of a CPU.
func (t *Topology) Capacity(cpu idset.ID) int64 {
	if capacity, ok := t.capacities[cpu]; ok {
		return capacity
	}
	return CapacityScale
}

// SMTSiblings returns the CPUs sharing a physical core with cpu,
// including cpu itself.
func (t *Topology) SMTSiblings(cpu idset.ID) idset.IDSet {
	if siblings, ok := t.smt[cpu]; ok {
		return siblings
	}
	return idset.NewIDSet(cpu)
}

// LLCDomain returns the CPUs sharing a last-level cache with cpu, or nil
// when no LLC information is known for it.
func (t *Topology) LLCDomain(cpu idset.ID) idset.IDSet {
	return t.llc[cpu]
}

// LowPower returns the minimum-capacity CPU set.
func (t *Topology) LowPower() idset.IDSet {
	return t.lowPower
}

// HighPerf returns the CPUs above the minimum capacity.
func (t *Topology) HighPerf() idset.IDSet {
	return t.highPerf
}

// Asymmetric reports whether real-time placement should prefer the
// high-performance set.
func (t *Topology) Asymmetric() bool {
	return t.asymmetric
}

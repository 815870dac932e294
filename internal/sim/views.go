package sim

import (
	"fmt"

	idset "github.com/intel/goresctrl/pkg/utils"

	"burst-sched/internal/config"
	"burst-sched/internal/host"
	"burst-sched/internal/sss"
)

// The simulator is the selector's host view: placement reads the
// simulated per-CPU utilization and occupancy through these methods.

func (s *Simulator) ActiveCPUs() idset.IDSet {
	return s.topo.Present()
}

func (s *Simulator) FairUtil(cpu idset.ID) int64 {
	return s.classUtil(cpu, false)
}

func (s *Simulator) RTUtil(cpu idset.ID) int64 {
	return s.classUtil(cpu, true)
}

// DeadlineUtil is always zero: the simulator models no deadline-class
// tasks, but the scorer still subtracts it.
func (s *Simulator) DeadlineUtil(cpu idset.ID) int64 {
	return 0
}

func (s *Simulator) classUtil(cpu idset.ID, realtime bool) int64 {
	var sum int64
	for _, t := range s.tasks {
		if t.cpu != cpu || !t.Queued() || t.isRealtime() != realtime {
			continue
		}
		sum += t.Util
	}
	return sum
}

func (s *Simulator) Occupant(cpu idset.ID) (sss.Occupant, bool) {
	t := s.running[cpu]
	if t == nil {
		return sss.Occupant{}, false
	}
	return sss.Occupant{
		Realtime:   t.isRealtime(),
		NormalPrio: t.NormalPrio(),
		Migratable: t.Allowed.Size() >= 2,
	}, true
}

// TopologyFromConfig builds the placement topology from a scenario's
// topology section. An empty CPU set falls back to discovering the real
// host.
func TopologyFromConfig(tc config.TopologyConfig) (*sss.Topology, error) {
	if len(tc.CPUIDs) == 0 {
		h, err := host.GetTopology()
		if err != nil {
			return nil, fmt.Errorf("failed to discover host topology: %w", err)
		}
		return sss.NewTopology(h.Present, h.Capacities, h.SMT, h.LLC), nil
	}

	present := idset.NewIDSet()
	for _, cpu := range tc.CPUIDs {
		present.Add(idset.ID(cpu))
	}

	capacities := make(map[idset.ID]int64)
	for spec, capacity := range tc.Capacities {
		cpus, err := host.ParseCPUList(spec)
		if err != nil {
			return nil, fmt.Errorf("invalid capacity group '%s': %w", spec, err)
		}
		for cpu := range cpus {
			capacities[cpu] = capacity
		}
	}

	smt, err := siblingMap(tc.SMT)
	if err != nil {
		return nil, fmt.Errorf("invalid smt group: %w", err)
	}
	llc, err := siblingMap(tc.LLC)
	if err != nil {
		return nil, fmt.Errorf("invalid llc group: %w", err)
	}

	return sss.NewTopology(present, capacities, smt, llc), nil
}

func siblingMap(groups []string) (map[idset.ID]idset.IDSet, error) {
	if len(groups) == 0 {
		return nil, nil
	}
	result := make(map[idset.ID]idset.IDSet)
	for _, spec := range groups {
		cpus, err := host.ParseCPUList(spec)
		if err != nil {
			return nil, err
		}
		for cpu := range cpus {
			result[cpu] = cpus
		}
	}
	return result, nil
}

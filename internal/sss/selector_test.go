package sss

import (
	"testing"

	idset "github.com/intel/goresctrl/pkg/utils"
)

type fakeHost struct {
	active    idset.IDSet
	fair      map[idset.ID]int64
	rt        map[idset.ID]int64
	dl        map[idset.ID]int64
	occupants map[idset.ID]Occupant
}

func (h *fakeHost) ActiveCPUs() idset.IDSet          { return h.active }
func (h *fakeHost) FairUtil(cpu idset.ID) int64      { return h.fair[cpu] }
func (h *fakeHost) RTUtil(cpu idset.ID) int64        { return h.rt[cpu] }
func (h *fakeHost) DeadlineUtil(cpu idset.ID) int64  { return h.dl[cpu] }
func (h *fakeHost) Occupant(cpu idset.ID) (Occupant, bool) {
	occ, ok := h.occupants[cpu]
	return occ, ok
}

type fakeTask struct {
	allowed    idset.IDSet
	util       int64
	normalPrio int
	queued     bool
	running    bool
}

func (t *fakeTask) AllowedCPUs() idset.IDSet { return t.allowed }
func (t *fakeTask) UtilEstimate() int64      { return t.util }
func (t *fakeTask) NormalPrio() int          { return t.normalPrio }
func (t *fakeTask) Queued() bool             { return t.queued }
func (t *fakeTask) Running() bool            { return t.running }

func uniformCapacities(cpus ...idset.ID) map[idset.ID]int64 {
	capacities := make(map[idset.ID]int64)
	for _, cpu := range cpus {
		capacities[cpu] = CapacityScale
	}
	return capacities
}

func TestSetBiasBounds(t *testing.T) {
	topo := NewTopology(idset.NewIDSet(0, 1), uniformCapacities(0, 1), nil, nil)
	s := NewSelector(topo, &fakeHost{active: idset.NewIDSet(0, 1)})

	if err := s.SetSMTBias(-1); err == nil {
		t.Fatalf("expected error for smt bias -1")
	}
	if err := s.SetSMTBias(MaxBias + 1); err == nil {
		t.Fatalf("expected error for smt bias %d", MaxBias+1)
	}
	if err := s.SetSMTBias(0); err != nil {
		t.Fatalf("expected smt bias 0 accepted, got %v", err)
	}
	if err := s.SetSMTBias(MaxBias); err != nil {
		t.Fatalf("expected smt bias %d accepted, got %v", MaxBias, err)
	}
	if got := s.SMTBias(); got != MaxBias {
		t.Fatalf("expected smt bias %d, got %d", MaxBias, got)
	}

	if err := s.SetLLCBias(9); err == nil {
		t.Fatalf("expected error for llc bias 9")
	}
	if err := s.SetLLCBias(2); err != nil {
		t.Fatalf("expected llc bias 2 accepted, got %v", err)
	}
	if got := s.LLCBias(); got != 2 {
		t.Fatalf("expected llc bias 2, got %d", got)
	}
}

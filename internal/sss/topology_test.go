package sss

import (
	"testing"

	idset "github.com/intel/goresctrl/pkg/utils"
)

func TestNewTopologyPartition(t *testing.T) {
	cpus := idset.NewIDSet(0, 1, 2, 3)
	capacities := map[idset.ID]int64{0: 512, 1: 512, 2: 1024, 3: 1024}

	topo := NewTopology(cpus, capacities, nil, nil)

	if !topo.LowPower().Has(0, 1) || topo.LowPower().Size() != 2 {
		t.Fatalf("expected low-power set {0,1}, got %s", topo.LowPower())
	}
	if !topo.HighPerf().Has(2, 3) || topo.HighPerf().Size() != 2 {
		t.Fatalf("expected high-performance set {2,3}, got %s", topo.HighPerf())
	}
	if !topo.Asymmetric() {
		t.Fatalf("expected asymmetric topology")
	}
}

func TestNewTopologyAllEqualSymmetric(t *testing.T) {
	cpus := idset.NewIDSet(0, 1, 2, 3)
	topo := NewTopology(cpus, uniformCapacities(0, 1, 2, 3), nil, nil)

	if topo.HighPerf().Size() != 0 {
		t.Fatalf("expected empty high-performance set, got %s", topo.HighPerf())
	}
	if topo.Asymmetric() {
		t.Fatalf("expected symmetric topology for uniform capacities")
	}
}

func TestNewTopologyMajorityLowPowerStaysSymmetric(t *testing.T) {
	cpus := idset.NewIDSet(0, 1, 2, 3)
	capacities := map[idset.ID]int64{0: 512, 1: 512, 2: 512, 3: 1024}

	topo := NewTopology(cpus, capacities, nil, nil)

	// Three low-power CPUs against one fast CPU: steering everything to
	// the single fast CPU would starve it, so the partition is not
	// treated as asymmetric.
	if topo.Asymmetric() {
		t.Fatalf("expected symmetric treatment when low-power CPUs dominate")
	}
}

func TestNewTopologyDefaultCapacity(t *testing.T) {
	cpus := idset.NewIDSet(0, 1)
	topo := NewTopology(cpus, map[idset.ID]int64{0: 768}, nil, nil)

	if got := topo.Capacity(1); got != CapacityScale {
		t.Fatalf("expected default capacity %d, got %d", CapacityScale, got)
	}
	if got := topo.Capacity(77); got != CapacityScale {
		t.Fatalf("expected default capacity for unknown CPU, got %d", got)
	}
	if got := topo.Capacity(0); got != 768 {
		t.Fatalf("expected capacity 768, got %d", got)
	}
}

func TestSMTSiblingsDefaultSelf(t *testing.T) {
	topo := NewTopology(idset.NewIDSet(0, 1), uniformCapacities(0, 1), nil, nil)

	siblings := topo.SMTSiblings(1)
	if siblings.Size() != 1 || !siblings.Has(1) {
		t.Fatalf("expected self-only sibling set, got %s", siblings)
	}
}

func TestLLCDomainUnknownIsNil(t *testing.T) {
	topo := NewTopology(idset.NewIDSet(0), uniformCapacities(0), nil, nil)

	if got := topo.LLCDomain(0); got != nil {
		t.Fatalf("expected nil LLC domain without cache information, got %s", got)
	}
}

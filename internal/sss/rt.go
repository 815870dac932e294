package sss

import (
	"math"

	idset "github.com/intel/goresctrl/pkg/utils"
)

// PickRTCPU returns the CPU a waking real-time task should run on: the
// candidate with the lowest accumulated priority pressure, counting the
// waking task's own weight everywhere it is not already charged.
//
// On an asymmetric system candidates are restricted to high-performance
// CPUs whenever any are available. A wakeup or fork also drops the
// previous CPU when its current occupant is a real-time task the waker
// could not displace (pinned, or at equal or stronger priority).
func (s *Selector) PickRTCPU(t TaskView, w Wakeup) idset.ID {
	cands := intersect(t.AllowedCPUs(), s.host.ActiveCPUs())
	if cands.Size() == 0 {
		return firstCPU(t.AllowedCPUs())
	}

	if s.topo.Asymmetric() {
		if hp := intersect(cands, s.topo.HighPerf()); hp.Size() > 0 {
			cands = hp
		}
	}

	if w.Flags&(WakeTTWU|WakeFork) != 0 {
		if occ, ok := s.host.Occupant(w.PrevCPU); ok && occ.Realtime &&
			(!occ.Migratable || occ.NormalPrio <= t.NormalPrio()) {
			cands.Del(w.PrevCPU)
		}
	}

	pQueued := t.Queued()
	pFactor := int64(maxRTPrio - t.NormalPrio())

	best := candidate{cpu: w.PrevCPU, factor: math.MaxInt64}
	for _, cpu := range cands.SortedMembers() {
		curr := candidate{cpu: cpu, factor: s.Pressure(cpu)}

		if !pQueued || cpu != w.PrevCPU {
			curr.factor += pFactor
		}

		if curr.factor < best.factor {
			best = curr
		}
	}

	return best.cpu
}

// AdmitRT charges a real-time task's priority weight to a CPU's pressure
// bank. Safe for concurrent callers.
func (s *Selector) AdmitRT(cpu idset.ID, normalPrio int) {
	if !s.validBankCPU(cpu) {
		s.logger.WithField("cpu", cpu).Warn("RT admission on unknown CPU ignored")
		return
	}
	s.bank[cpu].Add(int64(maxRTPrio - normalPrio))
}

// RemoveRT releases a real-time task's priority weight from a CPU's
// pressure bank. Safe for concurrent callers.
func (s *Selector) RemoveRT(cpu idset.ID, normalPrio int) {
	if !s.validBankCPU(cpu) {
		s.logger.WithField("cpu", cpu).Warn("RT removal on unknown CPU ignored")
		return
	}
	s.bank[cpu].Add(-int64(maxRTPrio - normalPrio))
}

package sss

import idset "github.com/intel/goresctrl/pkg/utils"

// PickFairCPU returns the CPU a waking fair-class task should run on.
//
// Candidates are the task's allowed CPUs that are active; with no overlap
// the first allowed CPU is returned so the host sees the unschedulable
// request. A synchronous or current-CPU-hinted wakeup lands on the waking
// CPU when that CPU is a candidate. Every remaining candidate is scored
// by remaining capacity (capacity minus fair, real-time and deadline
// utilization, minus the waking task's own estimate unless it is already
// charged there), then biased toward wake-affine, SMT-sibling and
// LLC-sharing CPUs unless the candidate is too busy or the wakeup follows
// an exec. The strictly highest score wins; the previous CPU persists
// when nothing beats it.
func (s *Selector) PickFairCPU(t TaskView, w Wakeup) idset.ID {
	cands := intersect(t.AllowedCPUs(), s.host.ActiveCPUs())
	if cands.Size() == 0 {
		return firstCPU(t.AllowedCPUs())
	}

	pAffine := false
	if w.Flags&WakeTTWU != 0 {
		sync := w.Flags&WakeSync != 0 && !w.WakerExiting
		valid := cands.Has(w.ThisCPU)

		// For a synchronized wakeup, just take the waking CPU if valid.
		if (w.Flags&WakeCurrentCPU != 0 || sync) && valid {
			return w.ThisCPU
		}

		pAffine = !w.WakeWide && valid
	}

	llcMask := s.topo.LLCDomain(w.PrevCPU)
	var smtMask idset.IDSet
	if !pAffine {
		smtMask = s.topo.SMTSiblings(w.PrevCPU)
	}
	pFactor := t.UtilEstimate()
	pQueued := t.Queued() || t.Running()

	best := candidate{cpu: w.PrevCPU, factor: 0}
	for _, cpu := range cands.SortedMembers() {
		curr := candidate{cpu: cpu, factor: s.topo.Capacity(cpu)}

		// Remaining capacity after everything already running there.
		curr.factor -= s.host.FairUtil(cpu)
		curr.factor -= s.host.RTUtil(cpu)
		curr.factor -= s.host.DeadlineUtil(cpu)

		// Charge the task's own utilization unless this CPU already
		// carries it.
		if !pQueued || cpu != w.PrevCPU {
			curr.factor -= pFactor
		}

		// An exec wakeup gains nothing from cache bias, and biasing a
		// busy CPU just overloads it.
		if w.Flags&WakeExec == 0 && curr.factor >= busyMargin {
			if pAffine && (cpu == w.ThisCPU || cpu == w.PrevCPU) {
				curr.factor += factorUnit * 8
			}
			if !pAffine && w.Flags&WakeTTWU != 0 && smtMask.Has(cpu) {
				curr.factor += factorUnit * int64(s.smtBias.Load())
			}
			if llcMask != nil && llcMask.Has(cpu) {
				curr.factor += factorUnit * int64(s.llcBias.Load())
			}
		}

		if curr.factor > best.factor {
			best = curr
		}
	}

	return best.cpu
}

package bore

import (
	"github.com/sirupsen/logrus"

	"burst-sched/internal/logging"
)

// ReweightFunc is called when a task's effective priority changed so the
// host can update the task's scheduling weight (see WeightOf).
type ReweightFunc func(t *Task, prio uint8)

// Engine drives burst accounting: penalty accrual on runtime ticks,
// smoothing across burst restarts, deadline compensation on priority
// gains, and burst inheritance at fork.
type Engine struct {
	name    string
	version string
	logger  *logrus.Logger

	reweight ReweightFunc

	// Number of inheritance aggregates recomputed rather than served from
	// cache; exposed for tests and run accounting.
	cacheRecomputes uint64
}

func NewEngine() *Engine {
	e := &Engine{
		name:    "bore",
		version: "1.0.0",
		logger:  logging.GetPolicyLogger(),
	}
	e.logger.WithFields(logrus.Fields{
		"engine":  e.name,
		"version": e.version,
		"offset":  PenaltyOffset,
		"scale":   PenaltyScale,
		"window":  Smoothness,
	}).Info("Burst engine initialized")
	return e
}

// SetReweight installs the host hook invoked on effective priority changes.
func (e *Engine) SetReweight(fn ReweightFunc) {
	e.reweight = fn
}

// CacheRecomputes returns how many inheritance aggregates were recomputed
// instead of served from a fresh cache entry.
func (e *Engine) CacheRecomputes() uint64 {
	return e.cacheRecomputes
}

// EffectivePrio returns the task's fair priority index: static priority
// degraded by the burst score, clamped to the lowest fair level.
func EffectivePrio(t *Task) uint8 {
	prio := t.StaticPrio - MaxRTPrio + t.Score
	if prio > NiceWidth-1 {
		prio = NiceWidth - 1
	}
	return prio
}

func (e *Engine) updateScore(t *Task) {
	prevPrio := EffectivePrio(t)

	var score uint8
	if !t.KernelTask {
		score = uint8(t.Penalty >> PenaltyShift)
	}
	t.Score = score

	newPrio := EffectivePrio(t)
	if newPrio != prevPrio && e.reweight != nil {
		e.reweight(t, newPrio)
	}
}

// AccrueRuntime charges deltaNs of runtime to the task's current burst,
// recomputes the current penalty and nudges the applied penalty toward it
// by the incremental mean over the smoothing window.
func (e *Engine) AccrueRuntime(t *Task, deltaNs uint64) {
	t.BurstTime += deltaNs
	t.CurrPenalty = calcBurstPenalty(t.BurstTime)
	if t.CurrPenalty > t.PrevPenalty {
		t.Penalty = t.PrevPenalty +
			(t.CurrPenalty-t.PrevPenalty)/uint32(t.Count)
	}
	e.updateScore(t)
}

// restartBurst folds the finished burst into the previous-burst baseline
// and resets the accumulators. The smoothing window grows by one restart
// up to Smoothness.
func restartBurst(t *Task) {
	t.PrevPenalty = binarySmooth(t.CurrPenalty, t.PrevPenalty, t.Count)
	t.BurstTime = 0
	t.CurrPenalty = 0

	if t.Count < Smoothness {
		t.Count++
	} else {
		t.Count = Smoothness
	}
}

// RestartBurst ends the task's current burst on sleep or dequeue: the
// applied penalty snaps to the smoothed baseline and the score follows.
func (e *Engine) RestartBurst(t *Task) {
	restartBurst(t)
	t.Penalty = t.PrevPenalty
	e.updateScore(t)
}

// RestartBurstRescaleDeadline is RestartBurst plus deadline compensation:
// when the restart raises the task's priority, the virtual time remaining
// until its deadline is converted to wall time at the old weight and back
// to virtual time at the new weight, so the wall-clock remainder is
// unchanged by the priority move. The sign of the remainder is preserved.
func (e *Engine) RestartBurstRescaleDeadline(t *Task) {
	vremain := int64(t.Deadline - t.Vruntime)
	prevPrio := EffectivePrio(t)

	e.RestartBurst(t)

	newPrio := EffectivePrio(t)
	if prevPrio > newPrio {
		abs := uint64(vremain)
		if vremain < 0 {
			abs = uint64(-vremain)
		}
		wremain := mulShr(abs, prioToWeight[prevPrio], 10)
		vscaled := int64(mulShr(wremain, prioToWmult[newPrio], 22))
		if vremain < 0 {
			vscaled = -vscaled
		}
		t.Deadline = t.Vruntime + uint64(vscaled)
	}
}

// ResetTask returns the task's burst record to its initial state. Hosts
// call this when a task is created or attached.
func (e *Engine) ResetTask(t *Task) {
	t.BurstTime = 0
	t.PrevPenalty = 0
	t.CurrPenalty = 0
	t.Penalty = 0
	t.Score = 0
	t.Count = 1
	t.ChildCache = BurstCache{}
	t.GroupCache = BurstCache{}
}

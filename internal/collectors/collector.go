package collectors

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"burst-sched/internal/accounting"
	"burst-sched/internal/bore"
	"burst-sched/internal/dataframe"
	"burst-sched/internal/logging"
)

type Collector interface {
	Start(ctx context.Context) error
	Stop() error
}

// DeltaSource yields runtime nanoseconds accumulated since the previous
// call. TaskClockSampler is the production implementation.
type DeltaSource interface {
	Delta() (uint64, error)
	Close() error
}

// watchedTask pairs a live PID with the shadow burst record charged from
// its runtime deltas.
type watchedTask struct {
	pid       int
	record    *bore.Task
	source    DeltaSource
	idle      bool
	lastScore uint8
	broken    bool
}

// TaskSampler watches a set of real PIDs through perf task-clock events
// and replays their runtime into a burst engine: a positive delta
// accrues to the current burst, a zero delta means the task was off-CPU
// for the whole interval and ends the burst.
type TaskSampler struct {
	engine   *bore.Engine
	acct     *accounting.RunAccountant
	frames   *dataframe.RunFrames
	interval *IntervalController
	logger   *logrus.Logger

	mu      sync.Mutex
	tasks   []*watchedTask
	started time.Time

	stopChan chan struct{}
	stopped  bool
}

func NewTaskSampler(engine *bore.Engine, acct *accounting.RunAccountant,
	frames *dataframe.RunFrames, interval *IntervalController) *TaskSampler {
	return &TaskSampler{
		engine:   engine,
		acct:     acct,
		frames:   frames,
		interval: interval,
		logger:   logging.GetLogger(),
		stopChan: make(chan struct{}),
	}
}

// WatchPID opens a task-clock event on the PID and adds it to the
// sampled set. Must be called before Start.
func (ts *TaskSampler) WatchPID(pid int, name string) error {
	source, err := NewTaskClockSampler(pid)
	if err != nil {
		return fmt.Errorf("failed to open sampler for pid %d: %w", pid, err)
	}
	ts.watch(pid, name, source)
	return nil
}

func (ts *TaskSampler) watch(pid int, name string, source DeltaSource) {
	record := &bore.Task{
		ID:         pid,
		Name:       name,
		StaticPrio: bore.DefaultPrio,
		Class:      bore.ClassFair,
	}
	ts.engine.ResetTask(record)

	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.tasks = append(ts.tasks, &watchedTask{pid: pid, record: record, source: source, idle: true})
}

func (ts *TaskSampler) Start(ctx context.Context) error {
	ts.mu.Lock()
	n := len(ts.tasks)
	ts.started = time.Now()
	ts.mu.Unlock()

	if n == 0 {
		return fmt.Errorf("no PIDs to sample")
	}

	ts.logger.WithFields(logrus.Fields{
		"pids":     n,
		"interval": ts.interval.Interval(),
	}).Info("Task sampler started")

	go ts.run(ctx)
	return nil
}

func (ts *TaskSampler) run(ctx context.Context) {
	timer := time.NewTimer(ts.interval.Interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ts.stopChan:
			return
		case <-timer.C:
			ts.cycle()
			timer.Reset(ts.interval.Interval())
		}
	}
}

// cycle reads one delta from every watched task and drives the burst
// engine with it.
func (ts *TaskSampler) cycle() {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	elapsed := uint64(time.Since(ts.started).Nanoseconds())
	now := time.Now()
	changed := 0

	for _, t := range ts.tasks {
		if t.broken {
			continue
		}

		delta, err := t.source.Delta()
		if err != nil {
			// Usually the process exited; stop reading it but keep its record.
			ts.logger.WithField("pid", t.pid).WithError(err).Warn("Task sample failed, dropping PID")
			t.broken = true
			if !t.idle {
				ts.endBurst(t)
			}
			continue
		}

		if delta > 0 {
			ts.engine.AccrueRuntime(t.record, delta)
			t.idle = false
		} else if !t.idle {
			ts.endBurst(t)
		}

		if t.record.Score != t.lastScore {
			ts.logger.WithFields(logrus.Fields{
				"pid":   t.pid,
				"name":  t.record.Name,
				"score": t.record.Score,
				"prio":  bore.EffectivePrio(t.record),
			}).Debug("Burst score moved")
			t.lastScore = t.record.Score
			changed++
		}

		ts.frames.Task(t.pid).AddBurstSample(dataframe.BurstSample{
			Timestamp:     now,
			VirtualNs:     elapsed,
			BurstTimeNs:   t.record.BurstTime,
			Penalty:       t.record.Penalty,
			Score:         t.record.Score,
			EffectivePrio: bore.EffectivePrio(t.record),
		})
	}

	ts.interval.Observe(changed)
}

// endBurst closes a task's current burst after an interval entirely
// off-CPU.
func (ts *TaskSampler) endBurst(t *watchedTask) {
	ts.engine.RestartBurst(t.record)
	ts.acct.RecordRestart(false)
	ts.acct.ObserveScore(t.record.Score)
	t.idle = true
}

// OverrideInterval pins the sampling interval, e.g. while probing a
// workload at a known cadence. The restore function reverts it and must
// be called exactly once.
func (ts *TaskSampler) OverrideInterval(interval time.Duration) (restore func(), err error) {
	return ts.interval.Override(interval)
}

// Records returns the shadow burst records keyed by PID.
func (ts *TaskSampler) Records() map[int]*bore.Task {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	records := make(map[int]*bore.Task, len(ts.tasks))
	for _, t := range ts.tasks {
		records[t.pid] = t.record
	}
	return records
}

func (ts *TaskSampler) Stop() error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if !ts.stopped {
		close(ts.stopChan)
		ts.stopped = true
	}
	for _, t := range ts.tasks {
		if t.source != nil {
			t.source.Close()
			t.source = nil
		}
	}
	return nil
}

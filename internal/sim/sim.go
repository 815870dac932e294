package sim

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	idset "github.com/intel/goresctrl/pkg/utils"
	"github.com/sirupsen/logrus"

	"burst-sched/internal/accounting"
	"burst-sched/internal/bore"
	"burst-sched/internal/config"
	"burst-sched/internal/dataframe"
	"burst-sched/internal/host"
	"burst-sched/internal/logging"
	"burst-sched/internal/sss"
)

// sliceNs is the scheduling slice used to project a fair task's virtual
// deadline at enqueue.
const sliceNs = 3_000_000

// sampleEveryNs is the virtual-time distance between burst samples.
const sampleEveryNs = 1_000_000

// Simulator is a deterministic virtual-time host scheduler: it owns task
// lifecycle and per-CPU run queues, drives the burst engine on every
// tick and sleep/wake/fork event, and asks the placement selector where
// each waking task should run.
type Simulator struct {
	cfg      *config.ScenarioConfig
	topo     *sss.Topology
	selector *sss.Selector
	engine   *bore.Engine
	acct     *accounting.RunAccountant
	frames   *dataframe.RunFrames
	logger   *logrus.Logger
	rng      *rand.Rand

	nowNs  uint64
	tickNs uint64

	tasks   []*Task
	running map[idset.ID]*Task
	queues  map[idset.ID][]*Task

	llcSize   int
	nextID    int
	nextIndex int

	lastSampleNs uint64
}

// New builds a simulator over an already-partitioned topology. The
// simulator itself is the selector's host view; the scenario's bias
// knobs are applied to the selector here.
func New(cfg *config.ScenarioConfig, topo *sss.Topology,
	engine *bore.Engine, acct *accounting.RunAccountant, frames *dataframe.RunFrames) (*Simulator, error) {

	s := &Simulator{
		cfg:     cfg,
		topo:    topo,
		engine:  engine,
		acct:    acct,
		frames:  frames,
		logger:  logging.GetLogger(),
		rng:     rand.New(rand.NewSource(cfg.Scenario.Seed)),
		tickNs:  uint64(cfg.GetTick().Nanoseconds()),
		running: make(map[idset.ID]*Task),
		queues:  make(map[idset.ID][]*Task),
	}
	s.selector = sss.NewSelector(topo, s)

	if v := cfg.Scenario.Placement.SMTBias; v != nil {
		if err := s.selector.SetSMTBias(*v); err != nil {
			return nil, err
		}
	}
	if v := cfg.Scenario.Placement.LLCBias; v != nil {
		if err := s.selector.SetLLCBias(*v); err != nil {
			return nil, err
		}
	}

	s.llcSize = topo.Present().Size()
	if llc := topo.LLCDomain(firstPresent(topo)); llc != nil {
		s.llcSize = llc.Size()
	}

	engine.SetReweight(func(t *bore.Task, prio uint8) {
		acct.RecordReweight()
	})

	for _, tc := range cfg.GetTasksSorted() {
		s.tasks = append(s.tasks, s.buildTask(tc))
		if tc.Index >= s.nextIndex {
			s.nextIndex = tc.Index + 1
		}
	}

	s.logger.WithFields(logrus.Fields{
		"scenario": cfg.Scenario.Name,
		"tasks":    len(s.tasks),
		"cpus":     topo.Present().Size(),
		"tick":     cfg.GetTick(),
		"seed":     cfg.Scenario.Seed,
	}).Info("Simulator initialized")

	return s, nil
}

// Selector returns the placement selector driven by this simulator.
func (s *Simulator) Selector() *sss.Selector { return s.selector }

func firstPresent(topo *sss.Topology) idset.ID {
	members := topo.Present().SortedMembers()
	if len(members) == 0 {
		return idset.ID(0)
	}
	return members[0]
}

func (s *Simulator) buildTask(tc config.TaskConfig) *Task {
	s.nextID++

	allowed := s.topo.Present().Clone()
	if len(tc.CPUCores) > 0 {
		allowed = idset.NewIDSet()
		for _, cpu := range tc.CPUCores {
			allowed.Add(idset.ID(cpu))
		}
	}

	util := tc.Util
	if util == 0 {
		// Estimate from the duty cycle when the scenario does not pin one.
		total := tc.Behavior.RunUS + tc.Behavior.SleepUS
		if total > 0 {
			util = int64(tc.Behavior.RunUS) * host.CapacityScale / int64(total)
		}
	}

	boreClass := bore.ClassFair
	if tc.Class == "rt" {
		boreClass = bore.ClassRealtime
	}

	t := &Task{
		B: &bore.Task{
			ID:         s.nextID,
			Name:       tc.KeyName,
			StaticPrio: uint8(int(bore.DefaultPrio) + tc.Nice),
			Class:      boreClass,
			KernelTask: tc.Class == "kthread",
		},
		Key:         tc.KeyName,
		Index:       tc.Index,
		Class:       tc.Class,
		Allowed:     allowed,
		Util:        util,
		RTPrio:      tc.RTPrio,
		state:       statePending,
		cpu:         firstCandidate(allowed),
		runSpecNs:   uint64(tc.Behavior.RunUS) * 1000,
		sleepSpecNs: uint64(tc.Behavior.SleepUS) * 1000,
		jitterPct:   tc.Behavior.JitterPct,
		startAtNs:   uint64(tc.StartMS) * 1_000_000,
	}
	if tc.Fork != nil {
		t.fork = &forkEvent{
			atNs:     uint64(tc.Fork.AtMS) * 1_000_000,
			children: tc.Fork.Children,
			threads:  tc.Fork.Threads,
		}
	}
	return t
}

func firstCandidate(cpus idset.IDSet) idset.ID {
	members := cpus.SortedMembers()
	if len(members) == 0 {
		return idset.ID(0)
	}
	return members[0]
}

// Run advances the virtual clock tick by tick until the scenario
// duration elapses or the context is cancelled.
func (s *Simulator) Run(ctx context.Context) error {
	duration := uint64(s.cfg.GetDuration().Nanoseconds())
	start := time.Now()

	for s.nowNs < duration {
		select {
		case <-ctx.Done():
			s.logger.WithField("virtual_ns", s.nowNs).Warn("Simulation cancelled")
			return ctx.Err()
		default:
		}
		s.step()
	}

	s.logger.WithFields(logrus.Fields{
		"virtual_time": time.Duration(s.nowNs),
		"wall_time":    time.Since(start).Round(time.Millisecond),
		"tasks":        len(s.tasks),
	}).Info("Simulation finished")
	return nil
}

func (s *Simulator) step() {
	s.nowNs += s.tickNs

	s.startPendingTasks()
	s.processForks()

	for _, cpu := range s.topo.Present().SortedMembers() {
		if s.running[cpu] == nil {
			s.schedule(cpu)
		}
		if t := s.running[cpu]; t != nil {
			s.runTick(t, cpu)
		}
	}

	s.wakeSleepers()

	if s.nowNs-s.lastSampleNs >= sampleEveryNs {
		s.sample()
		s.lastSampleNs = s.nowNs
	}
}

func (s *Simulator) startPendingTasks() {
	for _, t := range s.tasks {
		if t.state != statePending || t.startAtNs > s.nowNs {
			continue
		}
		s.engine.ResetTask(t.B)
		t.runLeftNs = s.jitter(t, t.runSpecNs)
		s.place(t, sss.Wakeup{
			PrevCPU: t.cpu,
			ThisCPU: t.cpu,
			Flags:   sss.WakeFork,
		})
	}
}

func (s *Simulator) processForks() {
	// Iterate over a snapshot; spawning appends to s.tasks.
	snapshot := s.tasks
	for _, t := range snapshot {
		if t.fork == nil || t.fork.done || t.state == statePending || t.fork.atNs > s.nowNs {
			continue
		}
		t.fork.done = true
		s.spawnChildren(t)
	}
}

func (s *Simulator) spawnChildren(parent *Task) {
	ev := parent.fork
	for i := 0; i < ev.children; i++ {
		s.nextID++
		child := &Task{
			B: &bore.Task{
				ID:         s.nextID,
				Name:       fmt.Sprintf("%s/%d", parent.Key, i),
				StaticPrio: parent.B.StaticPrio,
				Class:      parent.B.Class,
				KernelTask: parent.B.KernelTask,
			},
			Key:         fmt.Sprintf("%s/%d", parent.Key, i),
			Index:       s.nextIndex,
			Class:       parent.Class,
			Allowed:     parent.Allowed.Clone(),
			Util:        parent.Util,
			RTPrio:      parent.RTPrio,
			cpu:         parent.cpu,
			runSpecNs:   parent.runSpecNs,
			sleepSpecNs: parent.sleepSpecNs,
			jitterPct:   parent.jitterPct,
		}
		s.nextIndex++

		var cloneFlags uint64
		if ev.threads {
			cloneFlags = bore.CloneThread
		}

		// Inherit before linking the child into the parent's relatives so
		// the zeroed newcomer does not dilute the aggregate it inherits.
		s.engine.ResetTask(child.B)
		s.engine.InheritOnFork(child.B, parent.B, cloneFlags, s.nowNs)
		s.acct.RecordInheritance()

		if ev.threads {
			leader := parent.B
			if leader.Leader != nil {
				leader = leader.Leader
			}
			if len(leader.Threads) == 0 {
				leader.Threads = []*bore.Task{leader}
			}
			child.B.Leader = leader
			leader.Threads = append(leader.Threads, child.B)
		} else {
			child.B.RealParent = parent.B
			parent.B.Children = append(parent.B.Children, child.B)
		}

		child.runLeftNs = s.jitter(child, child.runSpecNs)
		s.tasks = append(s.tasks, child)
		s.place(child, sss.Wakeup{
			PrevCPU: child.cpu,
			ThisCPU: parent.cpu,
			Flags:   sss.WakeFork,
		})
	}

	s.logger.WithFields(logrus.Fields{
		"parent":   parent.Key,
		"children": ev.children,
		"threads":  ev.threads,
	}).Debug("Forked children")
}

// schedule picks the next task for an idle CPU: real-time strictly
// before fair, fair ordered by earliest virtual deadline.
func (s *Simulator) schedule(cpu idset.ID) {
	queue := s.queues[cpu]
	if len(queue) == 0 {
		return
	}

	best := 0
	for i := 1; i < len(queue); i++ {
		if s.ordersBefore(queue[i], queue[best]) {
			best = i
		}
	}

	t := queue[best]
	s.queues[cpu] = append(queue[:best], queue[best+1:]...)
	t.state = stateRunning
	s.running[cpu] = t
}

func (s *Simulator) ordersBefore(a, b *Task) bool {
	if a.isRealtime() != b.isRealtime() {
		return a.isRealtime()
	}
	if a.isRealtime() {
		return a.NormalPrio() < b.NormalPrio()
	}
	return int64(a.B.Deadline-b.B.Deadline) < 0
}

func (s *Simulator) runTick(t *Task, cpu idset.ID) {
	if t.B.Class == bore.ClassFair {
		s.engine.AccrueRuntime(t.B, s.tickNs)
		t.B.Vruntime += bore.CalcDeltaFair(s.tickNs, bore.EffectivePrio(t.B))
	}

	if t.runLeftNs > s.tickNs {
		t.runLeftNs -= s.tickNs
		return
	}
	t.runLeftNs = 0
	s.dequeue(t, cpu)
}

func (s *Simulator) dequeue(t *Task, cpu idset.ID) {
	s.running[cpu] = nil

	if !t.isRealtime() {
		if t.B.KernelTask {
			s.engine.RestartBurst(t.B)
			s.acct.RecordRestart(false)
		} else {
			s.engine.RestartBurstRescaleDeadline(t.B)
			s.acct.RecordRestart(true)
		}
		s.acct.ObserveScore(t.B.Score)
	}

	sleep := s.jitter(t, t.sleepSpecNs)
	if sleep == 0 {
		// A pure yield: back on the same CPU's queue without a wakeup.
		// Real-time pressure stays charged since the task stays queued.
		t.runLeftNs = s.jitter(t, t.runSpecNs)
		if t.B.Class == bore.ClassFair {
			t.B.Deadline = t.B.Vruntime + bore.CalcDeltaFair(sliceNs, bore.EffectivePrio(t.B))
		}
		t.state = stateRunnable
		s.enqueue(t, cpu)
		return
	}

	if t.isRealtime() {
		s.selector.RemoveRT(cpu, t.NormalPrio())
	}
	t.state = stateSleeping
	t.sleepLeftNs = sleep
}

func (s *Simulator) wakeSleepers() {
	for _, t := range s.tasks {
		if t.state != stateSleeping {
			continue
		}
		if t.sleepLeftNs > s.tickNs {
			t.sleepLeftNs -= s.tickNs
			continue
		}
		t.sleepLeftNs = 0
		s.wake(t)
	}
}

func (s *Simulator) wake(t *Task) {
	waker := s.running[t.cpu]
	s.recordWakee(waker, t)

	w := sss.Wakeup{
		PrevCPU:  t.cpu,
		ThisCPU:  t.cpu,
		Flags:    sss.WakeTTWU,
		WakeWide: s.wakeWide(waker, t),
	}
	if waker != nil && waker.runLeftNs <= s.tickNs {
		// The occupant of the previous CPU is about to sleep; model the
		// producer/consumer handoff as a synchronous wakeup.
		w.Flags |= sss.WakeSync
	}

	t.runLeftNs = s.jitter(t, t.runSpecNs)
	s.place(t, w)
}

// place asks the selector for a CPU, performs the migration bookkeeping
// and enqueues the task there.
func (s *Simulator) place(t *Task, w sss.Wakeup) {
	fallback := !s.hasActiveCandidate(t)

	var chosen idset.ID
	if t.isRealtime() {
		chosen = s.selector.PickRTCPU(t, w)
		s.selector.AdmitRT(chosen, t.NormalPrio())
	} else {
		chosen = s.selector.PickFairCPU(t, w)
	}

	fastPath := w.Flags&sss.WakeTTWU != 0 &&
		w.Flags&(sss.WakeSync|sss.WakeCurrentCPU) != 0 &&
		chosen == w.ThisCPU

	migrated := chosen != t.cpu
	s.acct.RecordPlacement(int(t.cpu), int(chosen), fastPath, fallback)
	s.frames.Task(t.Index).AddPlacement(dataframe.PlacementDecision{
		Timestamp: time.Now(),
		VirtualNs: s.nowNs,
		Class:     t.Class,
		PrevCPU:   int(t.cpu),
		ChosenCPU: int(chosen),
		FastPath:  fastPath,
		Migrated:  migrated,
	})

	t.cpu = chosen
	t.state = stateRunnable
	if t.B.Class == bore.ClassFair {
		prio := bore.EffectivePrio(t.B)
		t.B.Deadline = t.B.Vruntime + bore.CalcDeltaFair(sliceNs, prio)
	}
	s.enqueue(t, chosen)
}

func (s *Simulator) enqueue(t *Task, cpu idset.ID) {
	s.queues[cpu] = append(s.queues[cpu], t)
}

func (s *Simulator) hasActiveCandidate(t *Task) bool {
	for cpu := range t.Allowed {
		if s.topo.Present().Has(cpu) {
			return true
		}
	}
	return false
}

// recordWakee maintains the waker's wakee-flip counter: switching wakees
// bumps it, and it halves once per virtual second.
func (s *Simulator) recordWakee(waker, wakee *Task) {
	if waker == nil {
		return
	}
	for s.nowNs-waker.flipStamp >= 1_000_000_000 && waker.wakeeFlips > 0 {
		waker.wakeeFlips >>= 1
		waker.flipStamp += 1_000_000_000
	}
	if waker.flipStamp == 0 {
		waker.flipStamp = s.nowNs
	}
	if waker.lastWakee != wakee {
		waker.lastWakee = wakee
		waker.wakeeFlips++
	}
}

// wakeWide reports whether the waker/wakee pair flips between partners
// faster than an LLC's worth of CPUs can absorb, in which case the
// wakeup should not be treated as cache-affine.
func (s *Simulator) wakeWide(waker, wakee *Task) bool {
	if waker == nil {
		return false
	}
	factor := uint32(s.llcSize)
	master := waker.wakeeFlips
	slave := wakee.wakeeFlips
	if master < slave {
		master, slave = slave, master
	}
	return slave >= factor && master >= slave*factor
}

func (s *Simulator) sample() {
	now := time.Now()
	for _, t := range s.tasks {
		if t.state == statePending || t.B.Class != bore.ClassFair {
			continue
		}
		s.frames.Task(t.Index).AddBurstSample(dataframe.BurstSample{
			Timestamp:     now,
			VirtualNs:     s.nowNs,
			BurstTimeNs:   t.B.BurstTime,
			Penalty:       t.B.Penalty,
			Score:         t.B.Score,
			EffectivePrio: bore.EffectivePrio(t.B),
		})
	}
}

// jitter randomizes a duration by up to +/- the task's jitter
// percentage, drawn from the scenario's seeded generator so runs stay
// reproducible.
func (s *Simulator) jitter(t *Task, ns uint64) uint64 {
	return jitterWith(s.rng, ns, t.jitterPct)
}

func jitterWith(rng *rand.Rand, ns uint64, pct int) uint64 {
	if pct <= 0 || ns == 0 {
		return ns
	}
	span := int64(ns) * int64(pct) / 100
	if span == 0 {
		return ns
	}
	return uint64(int64(ns) + rng.Int63n(2*span+1) - span)
}

// Tasks returns the simulated tasks ordered by index, including forked
// children.
func (s *Simulator) Tasks() []*Task {
	tasks := make([]*Task, len(s.tasks))
	copy(tasks, s.tasks)
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Index < tasks[j].Index })
	return tasks
}

// Now returns the current virtual time in nanoseconds.
func (s *Simulator) Now() uint64 { return s.nowNs }

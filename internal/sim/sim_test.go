package sim

import (
	"context"
	"testing"

	"burst-sched/internal/accounting"
	"burst-sched/internal/bore"
	"burst-sched/internal/config"
	"burst-sched/internal/dataframe"
)

func scenario(t *testing.T, yaml string) *config.ScenarioConfig {
	t.Helper()
	cfg, err := config.ParseConfig([]byte(yaml))
	if err != nil {
		t.Fatalf("invalid test scenario: %v", err)
	}
	return cfg
}

func runScenario(t *testing.T, yaml string) (*Simulator, *accounting.RunAccountant, *dataframe.RunFrames) {
	t.Helper()
	cfg := scenario(t, yaml)

	topo, err := TopologyFromConfig(cfg.Scenario.Topology)
	if err != nil {
		t.Fatalf("invalid test topology: %v", err)
	}

	acct := accounting.NewRunAccountant()
	frames := dataframe.NewRunFrames()
	s, err := New(cfg, topo, bore.NewEngine(), acct, frames)
	if err != nil {
		t.Fatalf("unexpected simulator construction error: %v", err)
	}
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("unexpected simulation error: %v", err)
	}
	return s, acct, frames
}

const burstScenario = `
scenario:
  name: burst-growth
  duration_ms: 400
  seed: 1
  topology:
    cpus: "0-3"

hog:
  index: 0
  class: fair
  nice: 0
  start_ms: 0
  behavior:
    run_us: 60000
    sleep_us: 2000

blinker:
  index: 1
  class: fair
  nice: 0
  start_ms: 0
  behavior:
    run_us: 300
    sleep_us: 3000
`

func TestBurstScoreSeparatesHogFromBlinker(t *testing.T) {
	s, _, frames := runScenario(t, burstScenario)

	var hog, blinker *Task
	for _, task := range s.Tasks() {
		switch task.Key {
		case "hog":
			hog = task
		case "blinker":
			blinker = task
		}
	}
	if hog == nil || blinker == nil {
		t.Fatal("expected both scenario tasks to exist")
	}

	hogSample := frames.Task(hog.Index).LatestBurstSample()
	blinkerSample := frames.Task(blinker.Index).LatestBurstSample()
	if hogSample == nil || blinkerSample == nil {
		t.Fatal("expected burst samples for both tasks")
	}

	if hogSample.Score <= blinkerSample.Score {
		t.Errorf("expected the 60ms burster to out-score the 300us blinker, got %d <= %d",
			hogSample.Score, blinkerSample.Score)
	}
	if hogSample.Score > 39 {
		t.Errorf("expected score within [0,39], got %d", hogSample.Score)
	}
	if hogSample.EffectivePrio > 39 {
		t.Errorf("expected effective prio within [0,39], got %d", hogSample.EffectivePrio)
	}
}

const forkScenario = `
scenario:
  name: fork-inheritance
  duration_ms: 300
  seed: 7
  topology:
    cpus: "0-1"

parent:
  index: 0
  class: fair
  nice: 0
  start_ms: 0
  behavior:
    run_us: 50000
    sleep_us: 1000
  fork:
    at_ms: 200
    children: 2
`

func TestForkedChildrenInheritBurstHistory(t *testing.T) {
	s, acct, _ := runScenario(t, forkScenario)

	tasks := s.Tasks()
	if len(tasks) != 3 {
		t.Fatalf("expected parent plus 2 children, got %d tasks", len(tasks))
	}

	var parent *Task
	for _, task := range tasks {
		if task.Key == "parent" {
			parent = task
		}
	}

	for _, task := range tasks {
		if task == parent {
			continue
		}
		// Children start pre-penalized from the parent's burst history
		// instead of at zero.
		if task.B.Penalty == 0 {
			t.Errorf("expected child %s to inherit a nonzero penalty", task.Key)
		}
		if task.B.Count != 1 {
			t.Errorf("expected child %s smoothing window reset to 1, got %d", task.Key, task.B.Count)
		}
	}

	if got := acct.Snapshot().Inheritances; got != 2 {
		t.Errorf("expected 2 inheritance events, got %d", got)
	}
}

const rtScenario = `
scenario:
  name: rt-steering
  duration_ms: 200
  seed: 3
  topology:
    cpus: "0-3"
    capacities:
      "0-1": 512
      "2-3": 1024

spinner:
  index: 0
  class: fair
  nice: 0
  start_ms: 0
  behavior:
    run_us: 5000
    sleep_us: 1000

audio:
  index: 1
  class: rt
  rt_prio: 80
  start_ms: 0
  behavior:
    run_us: 300
    sleep_us: 1700
`

func TestRealtimePlacementStaysOnHighPerfCores(t *testing.T) {
	s, _, frames := runScenario(t, rtScenario)

	var audio *Task
	for _, task := range s.Tasks() {
		if task.Key == "audio" {
			audio = task
		}
	}
	if audio == nil {
		t.Fatal("expected rt task to exist")
	}

	placements := frames.Task(audio.Index).Placements()
	if len(placements) == 0 {
		t.Fatal("expected rt placements to be recorded")
	}
	for _, p := range placements {
		// CPUs 0-1 are the low-power half of an asymmetric topology.
		if p.ChosenCPU < 2 {
			t.Errorf("expected rt task steered to high-perf CPUs, got CPU %d", p.ChosenCPU)
		}
	}
}

func TestRealtimePressureDrainsAfterRun(t *testing.T) {
	s, _, _ := runScenario(t, rtScenario)

	// After the run every rt task is either sleeping (pressure released)
	// or queued (pressure charged exactly once); the bank must not have
	// leaked in either direction.
	var queuedPressure int64
	for _, task := range s.Tasks() {
		if task.isRealtime() && task.Queued() {
			queuedPressure += int64(100 - task.NormalPrio())
		}
	}
	var bank int64
	for _, cpu := range s.topo.Present().SortedMembers() {
		bank += s.selector.Pressure(cpu)
	}
	if bank != queuedPressure {
		t.Errorf("expected pressure bank %d to match queued rt weight %d", bank, queuedPressure)
	}
}

func TestRunIsDeterministicForASeed(t *testing.T) {
	_, first, _ := runScenario(t, burstScenario)
	_, second, _ := runScenario(t, burstScenario)

	a, b := first.Snapshot(), second.Snapshot()
	if a.Restarts != b.Restarts || a.Migrations != b.Migrations || a.Sticky != b.Sticky {
		t.Errorf("expected identical runs for one seed, got %+v vs %+v", a, b)
	}
}

func TestAccountingCountsActivity(t *testing.T) {
	_, acct, _ := runScenario(t, burstScenario)

	s := acct.Snapshot()
	if s.Restarts == 0 {
		t.Error("expected burst restarts during the run")
	}
	if s.Rescales == 0 {
		t.Error("expected deadline rescales for fair tasks")
	}
	var placements uint64
	for _, count := range s.Placements {
		placements += count
	}
	if placements == 0 {
		t.Error("expected placements during the run")
	}
}

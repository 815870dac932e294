package config

import (
	"sort"
	"time"
)

type ScenarioConfig struct {
	Scenario ScenarioInfo          `yaml:"scenario"`
	Tasks    map[string]TaskConfig `yaml:",inline"`
}

type ScenarioInfo struct {
	Name        string          `yaml:"name"`
	Description string          `yaml:"description"`
	DurationMS  int             `yaml:"duration_ms"`
	TickUS      int             `yaml:"tick_us"`
	Seed        int64           `yaml:"seed"`
	LogLevel    string          `yaml:"log_level"`
	Placement   PlacementConfig `yaml:"placement"`
	Topology    TopologyConfig  `yaml:"topology"`
	Data        DataConfig      `yaml:"data"`
}

type PlacementConfig struct {
	// Bias weights are pointers so an explicit 0 is distinguishable from
	// "use the default".
	SMTBias *int `yaml:"smt_bias,omitempty"`
	LLCBias *int `yaml:"llc_bias,omitempty"`
}

type TopologyConfig struct {
	// CPUs lists the simulated CPU set ("0-7"). Empty means: discover the
	// real host topology instead.
	CPUs string `yaml:"cpus,omitempty"`
	// Capacities maps cpu-list specs to a static capacity (1024 = full).
	Capacities map[string]int64 `yaml:"capacities,omitempty"`
	// SMT and LLC group cpu-list specs into sibling sets / cache domains.
	SMT []string `yaml:"smt,omitempty"`
	LLC []string `yaml:"llc,omitempty"`

	// Parsed form of CPUs, filled by the loader.
	CPUIDs []int `yaml:"-"`
}

type DataConfig struct {
	Record bool           `yaml:"record"`
	DB     DatabaseConfig `yaml:"db"`
}

type DatabaseConfig struct {
	Host   string `yaml:"host"`
	Bucket string `yaml:"bucket"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
}

type TaskConfig struct {
	Index int `yaml:"index"`
	// Class is "fair", "rt" or "kthread" (a fair-class kernel thread,
	// exempt from burst scoring).
	Class  string `yaml:"class"`
	Nice   int    `yaml:"nice"`
	RTPrio int    `yaml:"rt_prio,omitempty"`
	// CPUs restricts the task's allowed CPU set; empty means all.
	CPUs     string         `yaml:"cpus,omitempty"`
	StartMS  int            `yaml:"start_ms"`
	Util     int64          `yaml:"util,omitempty"`
	Behavior BehaviorConfig `yaml:"behavior"`
	Fork     *ForkConfig    `yaml:"fork,omitempty"`

	// KeyName is the YAML map key, filled by the loader.
	KeyName string `yaml:"-"`
	// CPUCores is the parsed form of CPUs, filled by the loader.
	CPUCores []int `yaml:"-"`
}

type BehaviorConfig struct {
	// RunUS is the burst length before the task sleeps, SleepUS the sleep
	// length before the next wakeup.
	RunUS   int `yaml:"run_us"`
	SleepUS int `yaml:"sleep_us"`
	// JitterPct randomizes both lengths by up to +/- this percentage,
	// drawn from the scenario's seeded generator.
	JitterPct int `yaml:"jitter_pct,omitempty"`
}

type ForkConfig struct {
	AtMS     int `yaml:"at_ms"`
	Children int `yaml:"children"`
	// Threads forks the children as threads of the task's group instead
	// of independent child processes.
	Threads bool `yaml:"threads"`
}

func (c *ScenarioConfig) GetDuration() time.Duration {
	return time.Duration(c.Scenario.DurationMS) * time.Millisecond
}

func (c *ScenarioConfig) GetTick() time.Duration {
	return time.Duration(c.Scenario.TickUS) * time.Microsecond
}

func (c *ScenarioConfig) GetTasksSorted() []TaskConfig {
	var tasks []TaskConfig
	for _, task := range c.Tasks {
		tasks = append(tasks, task)
	}

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].Index < tasks[j].Index
	})

	return tasks
}

package dataframe

import (
	"sync"
	"time"
)

// RunFrames collects everything a run records, keyed by task index.
type RunFrames struct {
	tasks map[int]*TaskFrame
	mutex sync.RWMutex
}

// TaskFrame holds the recorded samples of one task.
type TaskFrame struct {
	burst      []BurstSample
	placements []PlacementDecision
	mutex      sync.RWMutex
}

// BurstSample is one observation of a task's burst state, taken either on
// a simulator sampling boundary or a live sampling interval.
type BurstSample struct {
	Timestamp time.Time `json:"timestamp"`
	// VirtualNs is the run's virtual clock; zero for live samples.
	VirtualNs     uint64 `json:"virtual_ns,omitempty"`
	BurstTimeNs   uint64 `json:"burst_time_ns"`
	Penalty       uint32 `json:"penalty"`
	Score         uint8  `json:"score"`
	EffectivePrio uint8  `json:"effective_prio"`
}

// PlacementDecision is one CPU-selection outcome.
type PlacementDecision struct {
	Timestamp time.Time `json:"timestamp"`
	VirtualNs uint64    `json:"virtual_ns,omitempty"`
	Class     string    `json:"class"`
	PrevCPU   int       `json:"prev_cpu"`
	ChosenCPU int       `json:"chosen_cpu"`
	FastPath  bool      `json:"fast_path"`
	Migrated  bool      `json:"migrated"`
}

func NewRunFrames() *RunFrames {
	return &RunFrames{
		tasks: make(map[int]*TaskFrame),
	}
}

// Task returns the frame of a task, creating it on first use.
func (rf *RunFrames) Task(index int) *TaskFrame {
	rf.mutex.RLock()
	tf := rf.tasks[index]
	rf.mutex.RUnlock()
	if tf != nil {
		return tf
	}

	rf.mutex.Lock()
	defer rf.mutex.Unlock()
	if tf = rf.tasks[index]; tf == nil {
		tf = &TaskFrame{}
		rf.tasks[index] = tf
	}
	return tf
}

// Tasks returns a snapshot of the task index -> frame map.
func (rf *RunFrames) Tasks() map[int]*TaskFrame {
	rf.mutex.RLock()
	defer rf.mutex.RUnlock()

	result := make(map[int]*TaskFrame, len(rf.tasks))
	for k, v := range rf.tasks {
		result[k] = v
	}
	return result
}

// Totals returns the total burst sample and placement counts across all
// tasks.
func (rf *RunFrames) Totals() (burstSamples, placements int) {
	for _, tf := range rf.Tasks() {
		b, p := tf.Counts()
		burstSamples += b
		placements += p
	}
	return burstSamples, placements
}

func (tf *TaskFrame) AddBurstSample(sample BurstSample) {
	tf.mutex.Lock()
	defer tf.mutex.Unlock()
	tf.burst = append(tf.burst, sample)
}

func (tf *TaskFrame) AddPlacement(decision PlacementDecision) {
	tf.mutex.Lock()
	defer tf.mutex.Unlock()
	tf.placements = append(tf.placements, decision)
}

// BurstSamples returns a copy of the task's burst samples in recording
// order.
func (tf *TaskFrame) BurstSamples() []BurstSample {
	tf.mutex.RLock()
	defer tf.mutex.RUnlock()

	result := make([]BurstSample, len(tf.burst))
	copy(result, tf.burst)
	return result
}

// Placements returns a copy of the task's placement decisions in
// recording order.
func (tf *TaskFrame) Placements() []PlacementDecision {
	tf.mutex.RLock()
	defer tf.mutex.RUnlock()

	result := make([]PlacementDecision, len(tf.placements))
	copy(result, tf.placements)
	return result
}

// LatestBurstSample returns the most recent burst sample, or nil when
// none was recorded.
func (tf *TaskFrame) LatestBurstSample() *BurstSample {
	tf.mutex.RLock()
	defer tf.mutex.RUnlock()

	if len(tf.burst) == 0 {
		return nil
	}
	sample := tf.burst[len(tf.burst)-1]
	return &sample
}

func (tf *TaskFrame) Counts() (burstSamples, placements int) {
	tf.mutex.RLock()
	defer tf.mutex.RUnlock()
	return len(tf.burst), len(tf.placements)
}

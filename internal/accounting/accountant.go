package accounting

import (
	"sync"

	"burst-sched/internal/logging"

	"github.com/sirupsen/logrus"
)

// ScoreLevels is the number of burst score buckets in the histogram.
const ScoreLevels = 40

// RunAccountant tracks run-level counters: where tasks were placed, how
// often the fast path fired, how much burst machinery ran. Collectors
// and the simulator feed it from their own goroutines.
type RunAccountant struct {
	logger *logrus.Logger
	mu     sync.Mutex

	placements   map[int]uint64 // chosen CPU -> count
	fastPathHits uint64
	sticky       uint64
	migrations   uint64
	fallbacks    uint64

	restarts     uint64
	rescales     uint64
	inheritances uint64
	reweights    uint64

	scoreHist [ScoreLevels]uint64
}

// Summary is a point-in-time copy of all counters, suitable for logging
// and spool artifacts.
type Summary struct {
	Placements   map[int]uint64         `json:"placements_per_cpu"`
	FastPathHits uint64                 `json:"fast_path_hits"`
	Sticky       uint64                 `json:"sticky_decisions"`
	Migrations   uint64                 `json:"migrations"`
	Fallbacks    uint64                 `json:"fallback_placements"`
	Restarts     uint64                 `json:"burst_restarts"`
	Rescales     uint64                 `json:"deadline_rescales"`
	Inheritances uint64                 `json:"inheritance_events"`
	Reweights    uint64                 `json:"reweights"`
	ScoreHist    [ScoreLevels]uint64    `json:"score_histogram"`
}

func NewRunAccountant() *RunAccountant {
	return &RunAccountant{
		logger:     logging.GetLogger(),
		placements: make(map[int]uint64),
	}
}

// RecordPlacement accounts one CPU-selection outcome. A fallback is a
// placement that had no active candidate and fell back to the first
// allowed CPU.
func (a *RunAccountant) RecordPlacement(prevCPU, chosenCPU int, fastPath, fallback bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.placements[chosenCPU]++
	if fastPath {
		a.fastPathHits++
	}
	if fallback {
		a.fallbacks++
	}
	if chosenCPU == prevCPU {
		a.sticky++
	} else {
		a.migrations++
	}
}

func (a *RunAccountant) RecordRestart(rescaled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.restarts++
	if rescaled {
		a.rescales++
	}
}

func (a *RunAccountant) RecordInheritance() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inheritances++
}

func (a *RunAccountant) RecordReweight() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reweights++
}

// ObserveScore adds one observation of a task's burst score to the
// histogram. Out-of-range scores are clamped into the last bucket.
func (a *RunAccountant) ObserveScore(score uint8) {
	if score >= ScoreLevels {
		score = ScoreLevels - 1
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scoreHist[score]++
}

func (a *RunAccountant) Snapshot() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	summary := Summary{
		Placements:   make(map[int]uint64, len(a.placements)),
		FastPathHits: a.fastPathHits,
		Sticky:       a.sticky,
		Migrations:   a.migrations,
		Fallbacks:    a.fallbacks,
		Restarts:     a.restarts,
		Rescales:     a.rescales,
		Inheritances: a.inheritances,
		Reweights:    a.reweights,
		ScoreHist:    a.scoreHist,
	}
	for cpu, count := range a.placements {
		summary.Placements[cpu] = count
	}
	return summary
}

// LogSummary writes the run counters to the log at Info level.
func (a *RunAccountant) LogSummary() {
	s := a.Snapshot()

	var total uint64
	for _, count := range s.Placements {
		total += count
	}

	maxScore := 0
	for score, count := range s.ScoreHist {
		if count > 0 {
			maxScore = score
		}
	}

	a.logger.WithFields(logrus.Fields{
		"placements":     total,
		"fast_path_hits": s.FastPathHits,
		"sticky":         s.Sticky,
		"migrations":     s.Migrations,
		"fallbacks":      s.Fallbacks,
		"restarts":       s.Restarts,
		"rescales":       s.Rescales,
		"inheritances":   s.Inheritances,
		"reweights":      s.Reweights,
		"max_score_seen": maxScore,
	}).Info("Run accounting summary")
}

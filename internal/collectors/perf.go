package collectors

import (
	"time"

	"github.com/elastic/go-perf"

	"burst-sched/internal/logging"
)

// eventState holds the cumulative readings of one perf event so the next
// sample can be turned into a delta.
type eventState struct {
	value   uint64
	enabled time.Duration
	running time.Duration
}

// TaskClockSampler reads the task-clock software counter of one thread.
// Task-clock counts nanoseconds the thread actually spent on a CPU, which
// is exactly the runtime a burst accrues between samples.
type TaskClockSampler struct {
	pid   int
	event *perf.Event
	last  eventState
	first bool
}

// NewTaskClockSampler opens a task-clock event on the given PID across
// all CPUs. Enabled/running times are requested so multiplexed intervals
// can be scaled back to full-speed estimates.
func NewTaskClockSampler(pid int) (*TaskClockSampler, error) {
	logger := logging.GetLogger()

	attr := new(perf.Attr)
	perf.TaskClock.Configure(attr)
	attr.CountFormat.Enabled = true
	attr.CountFormat.Running = true

	event, err := perf.Open(attr, pid, perf.AnyCPU, nil)
	if err != nil {
		logger.WithField("pid", pid).WithError(err).Error("Failed to open task-clock event")
		return nil, err
	}
	if err := event.Enable(); err != nil {
		event.Close()
		return nil, err
	}

	return &TaskClockSampler{pid: pid, event: event, first: true}, nil
}

// Delta returns the task-clock nanoseconds accumulated since the last
// call, corrected for counter multiplexing. The first call establishes
// the baseline and returns zero.
func (s *TaskClockSampler) Delta() (uint64, error) {
	count, err := s.event.ReadCount()
	if err != nil {
		return 0, err
	}

	curr := eventState{
		value:   uint64(count.Value),
		enabled: count.Enabled,
		running: count.Running,
	}

	if s.first {
		s.first = false
		s.last = curr
		return 0, nil
	}

	delta := curr.value - s.last.value
	deltaEnabled := curr.enabled - s.last.enabled
	deltaRunning := curr.running - s.last.running
	if deltaRunning > 0 && deltaEnabled > 0 && deltaRunning != deltaEnabled {
		scale := float64(deltaEnabled) / float64(deltaRunning)
		delta = uint64(float64(delta) * scale)
	}

	s.last = curr
	return delta, nil
}

func (s *TaskClockSampler) Close() error {
	if s.event == nil {
		return nil
	}
	err := s.event.Close()
	s.event = nil
	return err
}

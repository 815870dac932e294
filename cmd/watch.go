package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"burst-sched/internal/accounting"
	"burst-sched/internal/bore"
	"burst-sched/internal/collectors"
	"burst-sched/internal/dataframe"
	"burst-sched/internal/logging"
)

var (
	watchContainer string
	watchPIDs      []int
	watchInterval  time.Duration
	watchDuration  time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch live burst scores of real processes",
	Long: "Sample the runtime of a PID set or a Docker container through perf task-clock " +
		"events and show the burst scores their runtime pattern would earn",
	RunE: func(cmd *cobra.Command, args []string) error {
		if watchContainer == "" && len(watchPIDs) == 0 {
			return fmt.Errorf("either --container or --pids is required")
		}
		return runWatch()
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchContainer, "container", "", "Docker container ID or name to watch")
	watchCmd.Flags().IntSliceVar(&watchPIDs, "pids", nil, "Comma-separated list of PIDs to watch")
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 50*time.Millisecond, "Fastest sampling interval")
	watchCmd.Flags().DurationVar(&watchDuration, "duration", 0, "How long to watch (0 = until interrupted)")
}

func runWatch() error {
	logger := logging.GetLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if watchDuration > 0 {
		ctx, cancel = context.WithTimeout(ctx, watchDuration)
		defer cancel()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Received interrupt signal, stopping watch")
		cancel()
	}()

	targets, err := watchTargets(ctx)
	if err != nil {
		return err
	}

	interval, err := collectors.NewIntervalController(watchInterval, 16*watchInterval)
	if err != nil {
		return err
	}

	engine := bore.NewEngine()
	acct := accounting.NewRunAccountant()
	frames := dataframe.NewRunFrames()
	sampler := collectors.NewTaskSampler(engine, acct, frames, interval)

	watched := 0
	for pid, name := range targets {
		if err := sampler.WatchPID(pid, name); err != nil {
			logger.WithField("pid", pid).WithError(err).Warn("Skipping PID")
			continue
		}
		watched++
	}
	if watched == 0 {
		return fmt.Errorf("no watchable PIDs")
	}

	if err := sampler.Start(ctx); err != nil {
		return err
	}
	defer sampler.Stop()

	<-ctx.Done()
	if err := ctx.Err(); err == context.Canceled {
		logger.Debug("Watch cancelled")
	}

	for pid, record := range sampler.Records() {
		logger.WithFields(logrus.Fields{
			"pid":   pid,
			"name":  record.Name,
			"score": record.Score,
			"prio":  bore.EffectivePrio(record),
		}).Info("Final burst score")
	}
	acct.LogSummary()
	return nil
}

// watchTargets resolves the watched PID set: either the processes of a
// container or the explicitly given PIDs.
func watchTargets(ctx context.Context) (map[int]string, error) {
	targets := make(map[int]string)

	if watchContainer != "" {
		resolver, err := collectors.NewContainerResolver()
		if err != nil {
			return nil, err
		}
		defer resolver.Close()

		info, err := resolver.Resolve(ctx, watchContainer)
		if err != nil {
			return nil, err
		}
		for _, pid := range info.PIDs {
			targets[pid] = watchContainer + "/" + strconv.Itoa(pid)
		}
	}

	for _, pid := range watchPIDs {
		targets[pid] = "pid-" + strconv.Itoa(pid)
	}
	return targets, nil
}

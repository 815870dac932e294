package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"burst-sched/internal/accounting"
	"burst-sched/internal/bore"
	"burst-sched/internal/config"
	"burst-sched/internal/database"
	"burst-sched/internal/dataframe"
	"burst-sched/internal/logging"
	"burst-sched/internal/sim"
)

var simulateConfigFile string

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a scheduling scenario",
	Long:  "Run a scenario in virtual time and record burst scores and placement decisions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSimulation(simulateConfigFile)
	},
}

func init() {
	simulateCmd.Flags().StringVarP(&simulateConfigFile, "config", "c", "", "Path to scenario configuration file")
	simulateCmd.MarkFlagRequired("config")
}

func runSimulation(configFile string) error {
	logger := logging.GetLogger()

	cfg, configContent, err := config.LoadConfigWithContent(configFile)
	if err != nil {
		logger.WithField("config_file", configFile).WithError(err).Error("Failed to load configuration")
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.Scenario.LogLevel != "" {
		if err := logging.SetLogLevel(cfg.Scenario.LogLevel); err != nil {
			logger.WithField("log_level", cfg.Scenario.LogLevel).WithError(err).Warn("Invalid log level in config, using INFO")
			logging.SetLogLevel("info")
		}
	}

	topo, err := sim.TopologyFromConfig(cfg.Scenario.Topology)
	if err != nil {
		logger.WithError(err).Error("Failed to build topology")
		return err
	}

	acct := accounting.NewRunAccountant()
	frames := dataframe.NewRunFrames()
	simulator, err := sim.New(cfg, topo, bore.NewEngine(), acct, frames)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Received interrupt signal, shutting down")
		cancel()
	}()

	logger.WithFields(logrus.Fields{
		"scenario": cfg.Scenario.Name,
		"duration": cfg.GetDuration(),
	}).Info("Starting simulation")

	startTime := time.Now()
	if err := simulator.Run(ctx); err != nil {
		return fmt.Errorf("simulation failed: %w", err)
	}
	endTime := time.Now()

	acct.LogSummary()

	if !cfg.Scenario.Data.Record {
		logger.Debug("Recording disabled, skipping data write")
		return nil
	}
	return recordRun(cfg, configContent, frames, acct, startTime, endTime)
}

// recordRun writes the run to InfluxDB, or spools it to disk when the
// database is unreachable or unconfigured.
func recordRun(cfg *config.ScenarioConfig, configContent string, frames *dataframe.RunFrames,
	acct *accounting.RunAccountant, startTime, endTime time.Time) error {

	logger := logging.GetLogger()

	runID := 1
	written := false

	if err := validateEnvironment(); err == nil {
		dbClient, err := database.NewInfluxDBClient(cfg.Scenario.Data.DB)
		if err != nil {
			logger.WithError(err).Warn("Database unavailable, spooling run to disk")
		} else {
			defer dbClient.Close()

			lastID, err := dbClient.GetLastRunID()
			if err != nil {
				logger.WithError(err).Warn("Failed to get last run ID, starting from 1")
			} else {
				runID = lastID + 1
			}

			metadata := database.CollectRunMetadata(runID, cfg, configContent, frames, startTime, endTime, Version)
			if err := dbClient.WriteFrames(runID, cfg, frames); err != nil {
				logger.WithError(err).Warn("Failed to write frames, spooling run to disk")
			} else if err := dbClient.WriteMetadata(metadata); err != nil {
				logger.WithError(err).Warn("Failed to write metadata, spooling run to disk")
			} else {
				logger.WithField("run_id", runID).Info("Run written to database")
				written = true
			}
		}
	} else {
		logger.WithError(err).Info("Database not configured, spooling run to disk")
	}

	if written {
		return nil
	}

	summary := acct.Snapshot()
	metadata := database.CollectRunMetadata(runID, cfg, configContent, frames, startTime, endTime, Version)
	artifact := database.BuildSpoolArtifact(runID, cfg, configContent, frames, metadata, &summary, startTime, endTime)
	path, err := database.WriteSpoolArtifact(database.DefaultSpoolDir(), artifact)
	if err != nil {
		return fmt.Errorf("failed to spool run: %w", err)
	}
	logger.WithField("path", path).Info("Run spooled to disk")
	return nil
}

package database

import (
	"context"
	"fmt"
	"time"

	"burst-sched/internal/config"
	"burst-sched/internal/dataframe"
	"burst-sched/internal/host"
	"burst-sched/internal/logging"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"
)

// RunMetadata describes one recorded run.
type RunMetadata struct {
	RunID            int    `json:"run_id"`
	ScenarioName     string `json:"scenario_name"`
	Description      string `json:"description"`
	ScenarioChecksum string `json:"scenario_checksum"`
	DurationSeconds  int64  `json:"duration_seconds"`
	RunStarted       string `json:"run_started"`  // RFC3339 timestamp
	RunFinished      string `json:"run_finished"` // RFC3339 timestamp
	TotalTasks       int    `json:"total_tasks"`
	DriverVersion    string `json:"driver_version"`
	Hostname         string `json:"hostname"`
	OSInfo           string `json:"os_info"`
	KernelVersion    string `json:"kernel_version"`
	TickUS           int    `json:"tick_us"`
	Seed             int64  `json:"seed"`
	TotalBurstSamples int   `json:"total_burst_samples"`
	TotalPlacements   int   `json:"total_placements"`
	ConfigFile        string `json:"config_file"`
}

type InfluxDBClient struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	queryAPI api.QueryAPI
	bucket   string
	org      string
}

func NewInfluxDBClient(cfg config.DatabaseConfig) (*InfluxDBClient, error) {
	logger := logging.GetLogger()

	client := influxdb2.NewClient(cfg.Host, cfg.Token)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		logger.WithField("host", cfg.Host).WithError(err).Error("Failed to connect to InfluxDB")
		return nil, err
	}

	if health.Status != "pass" {
		logger.WithFields(logrus.Fields{
			"host":    cfg.Host,
			"status":  health.Status,
			"message": health.Message,
		}).Error("InfluxDB health check failed")
		return nil, fmt.Errorf("influxdb health check failed: %s", health.Status)
	}

	writeAPI := client.WriteAPIBlocking(cfg.Org, cfg.Bucket)
	queryAPI := client.QueryAPI(cfg.Org)

	logger.WithFields(logrus.Fields{
		"host":   cfg.Host,
		"bucket": cfg.Bucket,
		"org":    cfg.Org,
	}).Info("Connected to InfluxDB")

	return &InfluxDBClient{
		client:   client,
		writeAPI: writeAPI,
		queryAPI: queryAPI,
		bucket:   cfg.Bucket,
		org:      cfg.Org,
	}, nil
}

// GetLastRunID returns the highest run id recorded in the last 30 days,
// or 0 when none exists.
func (idb *InfluxDBClient) GetLastRunID() (int, error) {
	ctx := context.Background()

	query := fmt.Sprintf(`
		from(bucket: "%s")
		|> range(start: -30d)
		|> filter(fn: (r) => r._measurement == "run_meta")
		|> distinct(column: "run_id")
		|> map(fn: (r) => ({_value: int(v: r.run_id)}))
		|> max()
		|> yield(name: "max_run_id")
	`, idb.bucket)

	result, err := idb.queryAPI.Query(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to query last run ID: %w", err)
	}
	defer result.Close()

	maxID := 0
	for result.Next() {
		if result.Record().Value() != nil {
			if id, ok := result.Record().Value().(int64); ok {
				maxID = int(id)
			}
		}
	}

	if result.Err() != nil {
		return 0, fmt.Errorf("error reading query results: %w", result.Err())
	}

	return maxID, nil
}

// WriteFrames writes all burst samples and placement decisions of a run.
func (idb *InfluxDBClient) WriteFrames(runID int, cfg *config.ScenarioConfig, frames *dataframe.RunFrames) error {
	ctx := context.Background()

	var points []*write.Point

	for taskIndex, frame := range frames.Tasks() {
		taskConfig := getTaskConfig(cfg, taskIndex)
		taskKey := ""
		taskClass := ""
		if taskConfig != nil {
			taskKey = taskConfig.KeyName
			taskClass = taskConfig.Class
		}

		for _, sample := range frame.BurstSamples() {
			point := influxdb2.NewPoint("burst_metrics",
				map[string]string{
					"run_id":     fmt.Sprintf("%d", runID),
					"task_index": fmt.Sprintf("%d", taskIndex),
					"task_key":   taskKey,
					"task_class": taskClass,
				},
				map[string]interface{}{
					"virtual_ns":     int64(sample.VirtualNs),
					"burst_time_ns":  int64(sample.BurstTimeNs),
					"penalty":        int64(sample.Penalty),
					"score":          int64(sample.Score),
					"effective_prio": int64(sample.EffectivePrio),
				},
				sample.Timestamp)
			points = append(points, point)
		}

		for _, decision := range frame.Placements() {
			point := influxdb2.NewPoint("placement_metrics",
				map[string]string{
					"run_id":     fmt.Sprintf("%d", runID),
					"task_index": fmt.Sprintf("%d", taskIndex),
					"task_key":   taskKey,
					"task_class": decision.Class,
				},
				map[string]interface{}{
					"virtual_ns": int64(decision.VirtualNs),
					"prev_cpu":   decision.PrevCPU,
					"chosen_cpu": decision.ChosenCPU,
					"fast_path":  decision.FastPath,
					"migrated":   decision.Migrated,
				},
				decision.Timestamp)
			points = append(points, point)
		}
	}

	if len(points) > 0 {
		if err := idb.writeAPI.WritePoint(ctx, points...); err != nil {
			return fmt.Errorf("failed to write data points: %w", err)
		}
	}

	return nil
}

func (idb *InfluxDBClient) WriteMetadata(metadata *RunMetadata) error {
	ctx := context.Background()

	point := influxdb2.NewPoint("run_meta",
		map[string]string{
			"run_id": fmt.Sprintf("%d", metadata.RunID),
		},
		map[string]interface{}{
			"scenario_name":       metadata.ScenarioName,
			"description":         metadata.Description,
			"scenario_checksum":   metadata.ScenarioChecksum,
			"duration_seconds":    metadata.DurationSeconds,
			"run_started":         metadata.RunStarted,
			"run_finished":        metadata.RunFinished,
			"total_tasks":         metadata.TotalTasks,
			"driver_version":      metadata.DriverVersion,
			"hostname":            metadata.Hostname,
			"os_info":             metadata.OSInfo,
			"kernel_version":      metadata.KernelVersion,
			"tick_us":             metadata.TickUS,
			"seed":                metadata.Seed,
			"total_burst_samples": metadata.TotalBurstSamples,
			"total_placements":    metadata.TotalPlacements,
			"config_file":         metadata.ConfigFile,
		},
		time.Now())

	if err := idb.writeAPI.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}

	return nil
}

// CollectRunMetadata assembles the metadata record of a finished run.
func CollectRunMetadata(runID int, cfg *config.ScenarioConfig, configContent string,
	frames *dataframe.RunFrames, startTime, endTime time.Time, driverVersion string) *RunMetadata {

	hostname := "unknown"
	osInfo := "unknown"
	kernel := "unknown"
	if topo, err := host.GetTopology(); err == nil {
		hostname = topo.Hostname
		osInfo = topo.OSInfo
		kernel = topo.KernelVersion
	}

	checksum, err := config.ScenarioChecksum(cfg)
	if err != nil {
		checksum = ""
	}

	burstSamples, placements := frames.Totals()

	return &RunMetadata{
		RunID:             runID,
		ScenarioName:      cfg.Scenario.Name,
		Description:       cfg.Scenario.Description,
		ScenarioChecksum:  checksum,
		DurationSeconds:   int64(endTime.Sub(startTime).Seconds()),
		RunStarted:        startTime.Format(time.RFC3339),
		RunFinished:       endTime.Format(time.RFC3339),
		TotalTasks:        len(cfg.Tasks),
		DriverVersion:     driverVersion,
		Hostname:          hostname,
		OSInfo:            osInfo,
		KernelVersion:     kernel,
		TickUS:            cfg.Scenario.TickUS,
		Seed:              cfg.Scenario.Seed,
		TotalBurstSamples: burstSamples,
		TotalPlacements:   placements,
		ConfigFile:        configContent,
	}
}

func getTaskConfig(cfg *config.ScenarioConfig, taskIndex int) *config.TaskConfig {
	if cfg == nil {
		return nil
	}
	for _, task := range cfg.Tasks {
		if task.Index == taskIndex {
			return &task
		}
	}
	return nil
}

func (idb *InfluxDBClient) Close() {
	if idb.client != nil {
		idb.client.Close()
	}
}

package database

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"burst-sched/internal/accounting"
	"burst-sched/internal/config"
	"burst-sched/internal/dataframe"
)

// SpoolArtifact is the on-disk fallback record of a run when no InfluxDB
// connection is available.
type SpoolArtifact struct {
	Version int `json:"version"`

	CreatedAt time.Time `json:"created_at"`

	RunID            int    `json:"run_id"`
	ScenarioName     string `json:"scenario_name"`
	ScenarioChecksum string `json:"scenario_checksum"`

	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	ConfigContent string `json:"config_content"`

	Metadata *RunMetadata        `json:"metadata"`
	Summary  *accounting.Summary `json:"summary,omitempty"`

	// Frames holds each task's recorded samples, keyed by task index.
	Frames map[int]TaskFrameArtifact `json:"frames,omitempty"`
}

type TaskFrameArtifact struct {
	BurstSamples []dataframe.BurstSample        `json:"burst_samples,omitempty"`
	Placements   []dataframe.PlacementDecision  `json:"placements,omitempty"`
}

func DefaultSpoolDir() string {
	if v := strings.TrimSpace(os.Getenv("BURST_SCHED_SPOOL_DIR")); v != "" {
		return v
	}
	return "spool"
}

// WriteSpoolArtifact writes a gzip-compressed JSON artifact to disk atomically.
// It returns the final file path.
func WriteSpoolArtifact(dir string, artifact *SpoolArtifact) (string, error) {
	if artifact == nil {
		return "", fmt.Errorf("spool artifact is nil")
	}
	if dir == "" {
		dir = DefaultSpoolDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	checksum := artifact.ScenarioChecksum
	if checksum == "" {
		checksum = "nocsum"
	}
	name := fmt.Sprintf(
		"run_%d_%s_%s.json.gz",
		artifact.RunID,
		artifact.CreatedAt.UTC().Format("20060102T150405Z"),
		checksum,
	)
	finalPath := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, name+".tmp.*")
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()

	ok := false
	defer func() {
		_ = tmp.Close()
		if !ok {
			_ = os.Remove(tmpPath)
		}
	}()

	gz := gzip.NewWriter(tmp)
	enc := json.NewEncoder(gz)
	enc.SetIndent("", "  ")
	if err := enc.Encode(artifact); err != nil {
		_ = gz.Close()
		return "", err
	}
	if err := gz.Close(); err != nil {
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", err
	}
	ok = true
	return finalPath, nil
}

// ReadSpoolArtifact loads an artifact previously written by
// WriteSpoolArtifact.
func ReadSpoolArtifact(path string) (*SpoolArtifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	var artifact SpoolArtifact
	if err := json.NewDecoder(gz).Decode(&artifact); err != nil {
		return nil, err
	}
	return &artifact, nil
}

// BuildSpoolArtifact constructs a spool artifact from the in-memory run results.
func BuildSpoolArtifact(
	runID int,
	cfg *config.ScenarioConfig,
	configContent string,
	frames *dataframe.RunFrames,
	metadata *RunMetadata,
	summary *accounting.Summary,
	startTime, endTime time.Time,
) *SpoolArtifact {
	name := ""
	checksum := ""
	if cfg != nil {
		name = cfg.Scenario.Name
		if cs, err := config.ScenarioChecksum(cfg); err == nil {
			checksum = cs
		}
	}
	if metadata != nil {
		if checksum == "" {
			checksum = metadata.ScenarioChecksum
		}
		if name == "" {
			name = metadata.ScenarioName
		}
	}

	var frameArtifacts map[int]TaskFrameArtifact
	if frames != nil {
		frameArtifacts = make(map[int]TaskFrameArtifact)
		for index, frame := range frames.Tasks() {
			frameArtifacts[index] = TaskFrameArtifact{
				BurstSamples: frame.BurstSamples(),
				Placements:   frame.Placements(),
			}
		}
	}

	return &SpoolArtifact{
		Version:          1,
		CreatedAt:        time.Now(),
		RunID:            runID,
		ScenarioName:     name,
		ScenarioChecksum: checksum,
		StartTime:        startTime,
		EndTime:          endTime,
		ConfigContent:    configContent,
		Metadata:         metadata,
		Summary:          summary,
		Frames:           frameArtifacts,
	}
}

package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"burst-sched/internal/logging"

	"gopkg.in/yaml.v3"
)

const (
	MaxBias       = 8
	DefaultTickUS = 1000
)

func LoadConfig(filepath string) (*ScenarioConfig, error) {
	config, _, err := LoadConfigWithContent(filepath)
	return config, err
}

func LoadConfigWithContent(filepath string) (*ScenarioConfig, string, error) {
	logger := logging.GetLogger()

	data, err := os.ReadFile(filepath)
	if err != nil {
		logger.WithField("filepath", filepath).WithError(err).Error("Failed to read scenario file")
		return nil, "", err
	}

	originalContent := string(data)

	config, err := ParseConfig(data)
	if err != nil {
		logger.WithField("filepath", filepath).WithError(err).Error("Failed to parse scenario file")
		return nil, "", err
	}

	return config, originalContent, nil
}

// ParseConfig parses and validates raw scenario YAML. Environment
// variables referenced as ${VAR} are expanded before unmarshalling.
func ParseConfig(data []byte) (*ScenarioConfig, error) {
	expanded := expandEnvVars(string(data))

	var config ScenarioConfig
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		return nil, err
	}

	if config.Scenario.TickUS == 0 {
		config.Scenario.TickUS = DefaultTickUS
	}

	if config.Scenario.Topology.CPUs != "" {
		cpus, err := parseCPUSpec(config.Scenario.Topology.CPUs)
		if err != nil {
			return nil, fmt.Errorf("invalid topology CPU specification '%s': %w",
				config.Scenario.Topology.CPUs, err)
		}
		config.Scenario.Topology.CPUIDs = cpus
	}

	// Set KeyName for each task based on the YAML key and parse the
	// allowed CPU list.
	for keyName, task := range config.Tasks {
		task.KeyName = keyName

		if task.CPUs != "" {
			cpus, err := parseCPUSpec(task.CPUs)
			if err != nil {
				return nil, fmt.Errorf("task %s: invalid CPU specification '%s': %w",
					keyName, task.CPUs, err)
			}
			task.CPUCores = cpus
		}

		config.Tasks[keyName] = task
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &config, nil
}

func expandEnvVars(content string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(content, func(match string) string {
		envVar := strings.Trim(match, "${}")
		if value := os.Getenv(envVar); value != "" {
			return value
		}
		return match
	})
}

// CPU specification strings like "0", "0,2,4", or "0-3"
func parseCPUSpec(spec string) ([]int, error) {
	var cpus []int
	seen := make(map[int]bool)

	parts := strings.Split(spec, ",")
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if strings.Contains(part, "-") {
			rangeParts := strings.Split(part, "-")
			if len(rangeParts) != 2 {
				return nil, fmt.Errorf("invalid CPU range: %s", part)
			}

			start, err := strconv.Atoi(strings.TrimSpace(rangeParts[0]))
			if err != nil {
				return nil, fmt.Errorf("invalid CPU range start: %s", rangeParts[0])
			}

			end, err := strconv.Atoi(strings.TrimSpace(rangeParts[1]))
			if err != nil {
				return nil, fmt.Errorf("invalid CPU range end: %s", rangeParts[1])
			}

			if start > end {
				return nil, fmt.Errorf("invalid CPU range: start > end (%d > %d)", start, end)
			}

			for i := start; i <= end; i++ {
				if !seen[i] {
					cpus = append(cpus, i)
					seen[i] = true
				}
			}
		} else {
			cpu, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("invalid CPU number: %s", part)
			}

			if !seen[cpu] {
				cpus = append(cpus, cpu)
				seen[cpu] = true
			}
		}
	}

	if len(cpus) == 0 {
		return nil, fmt.Errorf("no CPUs specified")
	}

	return cpus, nil
}

func validateConfig(config *ScenarioConfig) error {
	if config.Scenario.Name == "" {
		return fmt.Errorf("scenario name is required")
	}

	if config.Scenario.DurationMS <= 0 {
		return fmt.Errorf("duration_ms must be greater than 0")
	}

	if config.Scenario.TickUS <= 0 {
		return fmt.Errorf("tick_us must be greater than 0")
	}

	if err := validateBias("smt_bias", config.Scenario.Placement.SMTBias); err != nil {
		return err
	}
	if err := validateBias("llc_bias", config.Scenario.Placement.LLCBias); err != nil {
		return err
	}

	topoCPUs := make(map[int]bool)
	for _, cpu := range config.Scenario.Topology.CPUIDs {
		topoCPUs[cpu] = true
	}
	for spec, capacity := range config.Scenario.Topology.Capacities {
		if capacity <= 0 {
			return fmt.Errorf("topology capacity for '%s' must be greater than 0, got %d", spec, capacity)
		}
		if err := validateTopologyMembers(spec, topoCPUs); err != nil {
			return err
		}
	}
	for _, spec := range config.Scenario.Topology.SMT {
		if err := validateTopologyMembers(spec, topoCPUs); err != nil {
			return err
		}
	}
	for _, spec := range config.Scenario.Topology.LLC {
		if err := validateTopologyMembers(spec, topoCPUs); err != nil {
			return err
		}
	}

	if len(config.Tasks) == 0 {
		return fmt.Errorf("at least one task must be defined")
	}

	indices := make(map[int]bool)
	for name, task := range config.Tasks {
		switch task.Class {
		case "fair", "kthread":
			if task.Nice < -20 || task.Nice > 19 {
				return fmt.Errorf("task %s: nice %d out of range [-20,19]", name, task.Nice)
			}
		case "rt":
			if task.RTPrio < 1 || task.RTPrio > 99 {
				return fmt.Errorf("task %s: rt_prio %d out of range [1,99]", name, task.RTPrio)
			}
		default:
			return fmt.Errorf("task %s: class must be fair, rt or kthread, got '%s'", name, task.Class)
		}

		if task.Behavior.RunUS <= 0 {
			return fmt.Errorf("task %s: behavior run_us must be greater than 0", name)
		}
		if task.Behavior.SleepUS < 0 {
			return fmt.Errorf("task %s: behavior sleep_us must not be negative", name)
		}
		if task.Behavior.JitterPct < 0 || task.Behavior.JitterPct > 100 {
			return fmt.Errorf("task %s: jitter_pct %d out of range [0,100]", name, task.Behavior.JitterPct)
		}

		if task.Util < 0 {
			return fmt.Errorf("task %s: util must not be negative", name)
		}

		if task.Fork != nil && task.Fork.Children <= 0 {
			return fmt.Errorf("task %s: fork children must be greater than 0", name)
		}

		if len(topoCPUs) > 0 {
			for _, cpu := range task.CPUCores {
				if !topoCPUs[cpu] {
					return fmt.Errorf("task %s: CPU %d is not part of the topology", name, cpu)
				}
			}
		}

		if indices[task.Index] {
			return fmt.Errorf("task %s: index %d is already used", name, task.Index)
		}
		indices[task.Index] = true
	}

	return nil
}

func validateBias(name string, v *int) error {
	if v != nil && (*v < 0 || *v > MaxBias) {
		return fmt.Errorf("%s %d out of range [0,%d]", name, *v, MaxBias)
	}
	return nil
}

func validateTopologyMembers(spec string, topoCPUs map[int]bool) error {
	cpus, err := parseCPUSpec(spec)
	if err != nil {
		return fmt.Errorf("invalid topology CPU specification '%s': %w", spec, err)
	}
	if len(topoCPUs) == 0 {
		return nil
	}
	for _, cpu := range cpus {
		if !topoCPUs[cpu] {
			return fmt.Errorf("topology group '%s' names CPU %d outside the CPU set", spec, cpu)
		}
	}
	return nil
}

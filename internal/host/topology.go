package host

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"burst-sched/internal/logging"

	idset "github.com/intel/goresctrl/pkg/utils"
	"github.com/sirupsen/logrus"
)

// CapacityScale is the capacity assigned to the fastest CPU; slower CPUs
// scale down proportionally.
const CapacityScale = 1024

const defaultSysfsCPU = "/sys/devices/system/cpu"

// Topology describes the machine as placement sees it: the present CPU
// set, per-CPU static capacity, SMT sibling sets and LLC domains.
// Initialized once at startup and read-only afterwards.
type Topology struct {
	Hostname      string
	KernelVersion string
	OSInfo        string

	Present    idset.IDSet
	Capacities map[idset.ID]int64
	SMT        map[idset.ID]idset.IDSet
	LLC        map[idset.ID]idset.IDSet
}

var (
	globalTopology *Topology
	topologyOnce   sync.Once
)

// GetTopology returns the host topology, discovering it on first call.
func GetTopology() (*Topology, error) {
	var err error
	topologyOnce.Do(func() {
		globalTopology, err = DiscoverTopology(defaultSysfsCPU)
	})
	if globalTopology == nil && err == nil {
		err = fmt.Errorf("host topology discovery failed previously")
	}
	return globalTopology, err
}

// DiscoverTopology reads the CPU topology from a sysfs cpu directory
// (normally /sys/devices/system/cpu). Capacity comes from cpu_capacity
// when the platform provides it, otherwise from cpuinfo_max_freq scaled
// so the fastest CPU gets CapacityScale, otherwise uniform.
func DiscoverTopology(sysfsCPU string) (*Topology, error) {
	logger := logging.GetLogger()

	topo := &Topology{
		Capacities: make(map[idset.ID]int64),
		SMT:        make(map[idset.ID]idset.IDSet),
		LLC:        make(map[idset.ID]idset.IDSet),
	}
	topo.initSystemInfo()

	data, err := os.ReadFile(filepath.Join(sysfsCPU, "present"))
	if err != nil {
		return nil, fmt.Errorf("failed to read present CPUs: %w", err)
	}
	present, err := ParseCPUList(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse present CPUs: %w", err)
	}
	topo.Present = present

	rawCapacities := make(map[idset.ID]int64)
	for _, cpu := range present.SortedMembers() {
		cpuDir := filepath.Join(sysfsCPU, fmt.Sprintf("cpu%d", cpu))

		if siblings, err := readCPUListFile(filepath.Join(cpuDir, "topology", "thread_siblings_list")); err == nil {
			topo.SMT[cpu] = siblings
		} else {
			topo.SMT[cpu] = idset.NewIDSet(cpu)
		}

		if llc, err := readLLCDomain(cpuDir); err == nil {
			topo.LLC[cpu] = llc
		}

		rawCapacities[cpu] = readRawCapacity(cpuDir)
	}

	topo.Capacities = scaleCapacities(rawCapacities)

	logger.WithFields(logrus.Fields{
		"hostname": topo.Hostname,
		"kernel":   topo.KernelVersion,
		"cpus":     topo.Present.Size(),
	}).Info("Host topology discovered")

	return topo, nil
}

func (t *Topology) initSystemInfo() {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	t.Hostname = hostname

	t.OSInfo = runtime.GOOS + "/" + runtime.GOARCH

	if data, err := os.ReadFile("/proc/version"); err == nil {
		fields := strings.Fields(string(data))
		if len(fields) >= 3 {
			t.KernelVersion = fields[2]
		}
	}
	if t.KernelVersion == "" {
		t.KernelVersion = "unknown"
	}
}

// ParseCPUList parses a kernel cpu-list string ("0-3,8,10-11") into an
// id set.
func ParseCPUList(list string) (idset.IDSet, error) {
	cpus := idset.NewIDSet()
	if strings.TrimSpace(list) == "" {
		return cpus, nil
	}

	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if start, end, found := strings.Cut(part, "-"); found {
			lo, err := strconv.Atoi(start)
			if err != nil {
				return nil, fmt.Errorf("invalid cpu-list range start '%s'", start)
			}
			hi, err := strconv.Atoi(end)
			if err != nil {
				return nil, fmt.Errorf("invalid cpu-list range end '%s'", end)
			}
			if lo > hi {
				return nil, fmt.Errorf("invalid cpu-list range %d-%d", lo, hi)
			}
			for cpu := lo; cpu <= hi; cpu++ {
				cpus.Add(idset.ID(cpu))
			}
		} else {
			cpu, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("invalid cpu-list entry '%s'", part)
			}
			cpus.Add(idset.ID(cpu))
		}
	}

	return cpus, nil
}

func readCPUListFile(path string) (idset.IDSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseCPUList(strings.TrimSpace(string(data)))
}

// readLLCDomain walks the cpu's cache index directories and returns the
// shared CPU set of the highest-level unified or data cache.
func readLLCDomain(cpuDir string) (idset.IDSet, error) {
	cacheDir := filepath.Join(cpuDir, "cache")
	entries, err := os.ReadDir(cacheDir)
	if err != nil {
		return nil, err
	}

	bestLevel := -1
	var llc idset.IDSet
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), "index") {
			continue
		}
		indexDir := filepath.Join(cacheDir, entry.Name())

		typeData, err := os.ReadFile(filepath.Join(indexDir, "type"))
		if err != nil {
			continue
		}
		cacheType := strings.TrimSpace(string(typeData))
		if cacheType != "Unified" && cacheType != "Data" {
			continue
		}

		levelData, err := os.ReadFile(filepath.Join(indexDir, "level"))
		if err != nil {
			continue
		}
		level, err := strconv.Atoi(strings.TrimSpace(string(levelData)))
		if err != nil || level <= bestLevel {
			continue
		}

		shared, err := readCPUListFile(filepath.Join(indexDir, "shared_cpu_list"))
		if err != nil {
			continue
		}

		bestLevel = level
		llc = shared
	}

	if llc == nil {
		return nil, fmt.Errorf("no cache information under %s", cacheDir)
	}
	return llc, nil
}

// readRawCapacity returns the platform capacity value of a CPU, or its
// maximum frequency as a stand-in, or 0 when neither is available.
func readRawCapacity(cpuDir string) int64 {
	if data, err := os.ReadFile(filepath.Join(cpuDir, "cpu_capacity")); err == nil {
		if capacity, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64); err == nil && capacity > 0 {
			return capacity
		}
	}
	if data, err := os.ReadFile(filepath.Join(cpuDir, "cpufreq", "cpuinfo_max_freq")); err == nil {
		if freq, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64); err == nil && freq > 0 {
			return freq
		}
	}
	return 0
}

// scaleCapacities normalizes raw per-CPU capacity values so the largest
// becomes CapacityScale. CPUs without a raw value get CapacityScale.
func scaleCapacities(raw map[idset.ID]int64) map[idset.ID]int64 {
	var max int64
	for _, v := range raw {
		if v > max {
			max = v
		}
	}

	scaled := make(map[idset.ID]int64, len(raw))
	for cpu, v := range raw {
		if v <= 0 || max <= 0 {
			scaled[cpu] = CapacityScale
			continue
		}
		capacity := v * CapacityScale / max
		if capacity < 1 {
			capacity = 1
		}
		scaled[cpu] = capacity
	}
	return scaled
}

// FormatCPUList renders an id set as a kernel cpu-list string.
func FormatCPUList(cpus idset.IDSet) string {
	members := cpus.SortedMembers()
	if len(members) == 0 {
		return ""
	}

	var parts []string
	start, prev := members[0], members[0]
	flush := func() {
		if start == prev {
			parts = append(parts, strconv.Itoa(int(start)))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", start, prev))
		}
	}
	for _, cpu := range members[1:] {
		if cpu == prev+1 {
			prev = cpu
			continue
		}
		flush()
		start, prev = cpu, cpu
	}
	flush()

	return strings.Join(parts, ",")
}

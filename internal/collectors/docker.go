package collectors

import (
	"context"
	"fmt"
	"strconv"

	"github.com/docker/docker/client"

	"burst-sched/internal/logging"
)

// ContainerInfo is what the sampler needs to watch a container: its init
// PID, its cgroup on the host, and the PIDs of every process inside it.
type ContainerInfo struct {
	ID         string
	Pid        int
	CgroupPath string
	PIDs       []int
}

// ContainerResolver turns a container ID into the PID set to sample.
type ContainerResolver struct {
	client *client.Client
}

func NewContainerResolver() (*ContainerResolver, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return &ContainerResolver{client: cli}, nil
}

// Resolve inspects a running container and lists its processes. The
// container must be started; a stopped container has no PIDs to watch.
func (r *ContainerResolver) Resolve(ctx context.Context, containerID string) (*ContainerInfo, error) {
	logger := logging.GetLogger()

	inspect, err := r.client.ContainerInspect(ctx, containerID)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect container %s: %w", containerID, err)
	}
	if inspect.State == nil || !inspect.State.Running {
		return nil, fmt.Errorf("container %s is not running", containerID)
	}

	info := &ContainerInfo{
		ID:         inspect.ID,
		Pid:        inspect.State.Pid,
		CgroupPath: fmt.Sprintf("/sys/fs/cgroup/system.slice/docker-%s.scope", inspect.ID),
	}

	top, err := r.client.ContainerTop(ctx, containerID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list container processes: %w", err)
	}

	pidCol := -1
	for i, title := range top.Titles {
		if title == "PID" {
			pidCol = i
			break
		}
	}
	if pidCol < 0 {
		return nil, fmt.Errorf("container top output has no PID column")
	}

	for _, proc := range top.Processes {
		if pidCol >= len(proc) {
			continue
		}
		pid, err := strconv.Atoi(proc[pidCol])
		if err != nil {
			continue
		}
		info.PIDs = append(info.PIDs, pid)
	}
	if len(info.PIDs) == 0 {
		info.PIDs = []int{info.Pid}
	}

	logger.WithFields(map[string]interface{}{
		"container_id": shortID(inspect.ID),
		"init_pid":     info.Pid,
		"processes":    len(info.PIDs),
	}).Info("Container resolved")

	return info, nil
}

func (r *ContainerResolver) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

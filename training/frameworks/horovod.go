package frameworks

import (
	"strconv"
	"strings"

	"experiment-scheduler/core/models"
)

// HorovodTopology resolves master/worker placement for Horovod.
// Horovod is ring-allreduce only: there is no parameter-server role.
type HorovodTopology struct {
	topology
}

// NewHorovodTopology creates the Horovod topology
func NewHorovodTopology() *HorovodTopology {
	return &HorovodTopology{topology{section: func(env *models.Environment) *models.DistributedConfig {
		return env.Horovod
	}}}
}

func (h *HorovodTopology) Framework() models.Framework {
	return models.FrameworkHorovod
}

// Environment returns the HOROVOD_* variables; rank 0 is the master
func (h *HorovodTopology) Environment(hosts Hosts, role models.TaskType, index int) map[string]string {
	rank := 0
	if role == models.TaskWorker {
		rank = index + 1
	}
	worldSize := hosts.worldSize()

	var slots []string
	for _, addr := range append(append([]string{}, hosts[models.TaskMaster]...), hosts[models.TaskWorker]...) {
		slots = append(slots, addr+":1")
	}

	return map[string]string{
		"HOROVOD_RANK":           strconv.Itoa(rank),
		"HOROVOD_SIZE":           strconv.Itoa(worldSize),
		"HOROVOD_LOCAL_RANK":     "0",
		"HOROVOD_CROSS_RANK":     strconv.Itoa(rank),
		"HOROVOD_CROSS_SIZE":     strconv.Itoa(worldSize),
		"HOROVOD_HOSTS":          strings.Join(slots, ","),
		"HOROVOD_GPU_ALLREDUCE":  "NCCL",
		"HOROVOD_CPU_OPERATIONS": "gloo",
	}
}

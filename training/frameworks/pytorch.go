package frameworks

import (
	"strconv"

	"experiment-scheduler/core/models"
)

// PytorchPort is the rendezvous port of the master unit
const PytorchPort = 29500

// PytorchTopology resolves master/worker placement for PyTorch DDP
type PytorchTopology struct {
	topology
}

// NewPytorchTopology creates the PyTorch topology
func NewPytorchTopology() *PytorchTopology {
	return &PytorchTopology{topology{section: func(env *models.Environment) *models.DistributedConfig {
		return env.Pytorch
	}}}
}

func (p *PytorchTopology) Framework() models.Framework {
	return models.FrameworkPytorch
}

// Environment returns the torch.distributed rendezvous variables
func (p *PytorchTopology) Environment(hosts Hosts, role models.TaskType, index int) map[string]string {
	rank := 0
	if role == models.TaskWorker {
		rank = index + 1
	}
	return map[string]string{
		"MASTER_ADDR": hosts.Master(),
		"MASTER_PORT": strconv.Itoa(PytorchPort),
		"WORLD_SIZE":  strconv.Itoa(hosts.worldSize()),
		"RANK":        strconv.Itoa(rank),
		"NCCL_DEBUG":  "INFO",
	}
}

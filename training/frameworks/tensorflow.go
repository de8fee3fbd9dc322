package frameworks

import (
	"encoding/json"

	"experiment-scheduler/core/models"
)

// TensorflowPort is the port every tensorflow server listens on
const TensorflowPort = 2222

// TensorflowTopology resolves master/worker/ps placement for TensorFlow
// parameter-server training
type TensorflowTopology struct {
	topology
}

// NewTensorflowTopology creates the TensorFlow topology
func NewTensorflowTopology() *TensorflowTopology {
	return &TensorflowTopology{topology{section: func(env *models.Environment) *models.DistributedConfig {
		return env.Tensorflow
	}}}
}

func (t *TensorflowTopology) Framework() models.Framework {
	return models.FrameworkTensorflow
}

func (t *TensorflowTopology) PSResources(env *models.Environment, cluster models.Cluster, isDistributed bool) map[int]*models.PodResources {
	return t.psResources(env, cluster[models.TaskPS], isDistributed)
}

func (t *TensorflowTopology) PSNodeSelectors(env *models.Environment, cluster models.Cluster, isDistributed bool) map[int]map[string]string {
	return t.psNodeSelectors(env, cluster[models.TaskPS], isDistributed)
}

func (t *TensorflowTopology) PSAffinities(env *models.Environment, cluster models.Cluster, isDistributed bool) map[int]models.Affinity {
	return t.psAffinities(env, cluster[models.TaskPS], isDistributed)
}

func (t *TensorflowTopology) PSTolerations(env *models.Environment, cluster models.Cluster, isDistributed bool) map[int][]models.Toleration {
	return t.psTolerations(env, cluster[models.TaskPS], isDistributed)
}

type tfTask struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

type tfConfig struct {
	Cluster     map[string][]string `json:"cluster"`
	Task        tfTask              `json:"task"`
	Environment string              `json:"environment"`
}

// Environment returns TF_CONFIG for the given unit
func (t *TensorflowTopology) Environment(hosts Hosts, role models.TaskType, index int) map[string]string {
	cluster := make(map[string][]string)
	for r, addrs := range hosts {
		for _, addr := range addrs {
			cluster[string(r)] = append(cluster[string(r)], hostPort(addr, TensorflowPort))
		}
	}

	cfg, _ := json.Marshal(tfConfig{
		Cluster:     cluster,
		Task:        tfTask{Type: string(role), Index: index},
		Environment: "cloud",
	})

	return map[string]string{
		"TF_CONFIG":                 string(cfg),
		"TF_CPP_MIN_LOG_LEVEL":      "0",
		"TF_FORCE_GPU_ALLOW_GROWTH": "true",
	}
}

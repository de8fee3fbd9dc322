package frameworks

import (
	"strconv"

	"experiment-scheduler/core/models"
)

// MXNetPort is the port of the MXNet scheduler (the master unit)
const MXNetPort = 9091

// MXNetTopology resolves master/worker/server placement for MXNet kvstore training.
// Servers are configured through the ps section of the environment.
type MXNetTopology struct {
	topology
}

// NewMXNetTopology creates the MXNet topology
func NewMXNetTopology() *MXNetTopology {
	return &MXNetTopology{topology{section: func(env *models.Environment) *models.DistributedConfig {
		return env.MXNet
	}}}
}

func (m *MXNetTopology) Framework() models.Framework {
	return models.FrameworkMXNet
}

func (m *MXNetTopology) PSResources(env *models.Environment, cluster models.Cluster, isDistributed bool) map[int]*models.PodResources {
	return m.psResources(env, cluster[models.TaskServer], isDistributed)
}

func (m *MXNetTopology) PSNodeSelectors(env *models.Environment, cluster models.Cluster, isDistributed bool) map[int]map[string]string {
	return m.psNodeSelectors(env, cluster[models.TaskServer], isDistributed)
}

func (m *MXNetTopology) PSAffinities(env *models.Environment, cluster models.Cluster, isDistributed bool) map[int]models.Affinity {
	return m.psAffinities(env, cluster[models.TaskServer], isDistributed)
}

func (m *MXNetTopology) PSTolerations(env *models.Environment, cluster models.Cluster, isDistributed bool) map[int][]models.Toleration {
	return m.psTolerations(env, cluster[models.TaskServer], isDistributed)
}

// ServerPlacement returns the role-level server placement shared by every
// server unit. Indexed overrides only apply to server resources.
func (m *MXNetTopology) ServerPlacement(env *models.Environment, cluster models.Cluster, isDistributed bool) models.Placement {
	var p models.Placement
	if !isDistributed || cluster[models.TaskServer] == 0 {
		return p
	}
	rp := psPlacements(m.config(env))
	p.NodeSelector, _ = roleDefault(rp, pickNodeSelector, envNodeSelector(env))
	p.Affinity, _ = roleDefault(rp, pickAffinity, envAffinity(env))
	p.Tolerations, _ = roleDefault(rp, pickTolerations, envTolerations(env))
	return p
}

// Environment returns the DMLC_* variables; the master acts as the kvstore scheduler
func (m *MXNetTopology) Environment(hosts Hosts, role models.TaskType, index int) map[string]string {
	dmlcRole := "scheduler"
	switch role {
	case models.TaskWorker:
		dmlcRole = "worker"
	case models.TaskServer:
		dmlcRole = "server"
	}
	return map[string]string{
		"DMLC_ROLE":         dmlcRole,
		"DMLC_PS_ROOT_URI":  hosts.Master(),
		"DMLC_PS_ROOT_PORT": strconv.Itoa(MXNetPort),
		"DMLC_NUM_SERVER":   strconv.Itoa(len(hosts[models.TaskServer])),
		"DMLC_NUM_WORKER":   strconv.Itoa(len(hosts[models.TaskWorker])),
		"DMLC_TASK_INDEX":   strconv.Itoa(index),
	}
}

package frameworks

import (
	"fmt"

	"experiment-scheduler/core/models"
)

// WorkerResolver computes the per-sequence placement of the worker role.
// Each query returns a map keyed by worker sequence; a missing key means no override.
type WorkerResolver interface {
	WorkerResources(env *models.Environment, cluster models.Cluster, isDistributed bool) map[int]*models.PodResources
	WorkerNodeSelectors(env *models.Environment, cluster models.Cluster, isDistributed bool) map[int]map[string]string
	WorkerAffinities(env *models.Environment, cluster models.Cluster, isDistributed bool) map[int]models.Affinity
	WorkerTolerations(env *models.Environment, cluster models.Cluster, isDistributed bool) map[int][]models.Toleration
}

// PSResolver computes the per-sequence placement of the parameter-server role
// (MXNet servers use the same queries).
type PSResolver interface {
	PSResources(env *models.Environment, cluster models.Cluster, isDistributed bool) map[int]*models.PodResources
	PSNodeSelectors(env *models.Environment, cluster models.Cluster, isDistributed bool) map[int]map[string]string
	PSAffinities(env *models.Environment, cluster models.Cluster, isDistributed bool) map[int]models.Affinity
	PSTolerations(env *models.Environment, cluster models.Cluster, isDistributed bool) map[int][]models.Toleration
}

// Topology is a distributed framework: worker placement plus the cluster
// wiring environment injected into every unit.
type Topology interface {
	WorkerResolver
	Framework() models.Framework
	// Environment returns the variables a unit needs to join the training cluster
	Environment(hosts Hosts, role models.TaskType, index int) map[string]string
}

// Hosts holds the resolvable addresses of every unit, by role and sequence
type Hosts map[models.TaskType][]string

// Master returns the address of the master unit
func (h Hosts) Master() string {
	if len(h[models.TaskMaster]) == 0 {
		return ""
	}
	return h[models.TaskMaster][0]
}

// worldSize is the number of units taking part in collective training
func (h Hosts) worldSize() int {
	return len(h[models.TaskMaster]) + len(h[models.TaskWorker])
}

// For returns the topology of a framework, or nil for the base framework
func For(f models.Framework) Topology {
	switch f {
	case models.FrameworkTensorflow:
		return NewTensorflowTopology()
	case models.FrameworkHorovod:
		return NewHorovodTopology()
	case models.FrameworkMXNet:
		return NewMXNetTopology()
	case models.FrameworkPytorch:
		return NewPytorchTopology()
	}
	return nil
}

// topology holds the lookups shared by every framework.
// section selects the framework's block of the environment.
type topology struct {
	section func(env *models.Environment) *models.DistributedConfig
}

func (t topology) config(env *models.Environment) *models.DistributedConfig {
	if env == nil {
		return nil
	}
	return t.section(env)
}

func (t topology) WorkerResources(env *models.Environment, cluster models.Cluster, isDistributed bool) map[int]*models.PodResources {
	cfg := t.config(env)
	return perIndex(cluster[models.TaskWorker], isDistributed, workerPlacements(cfg), pickResources, nil)
}

func (t topology) WorkerNodeSelectors(env *models.Environment, cluster models.Cluster, isDistributed bool) map[int]map[string]string {
	cfg := t.config(env)
	return perIndex(cluster[models.TaskWorker], isDistributed, workerPlacements(cfg), pickNodeSelector, envNodeSelector(env))
}

func (t topology) WorkerAffinities(env *models.Environment, cluster models.Cluster, isDistributed bool) map[int]models.Affinity {
	cfg := t.config(env)
	return perIndex(cluster[models.TaskWorker], isDistributed, workerPlacements(cfg), pickAffinity, envAffinity(env))
}

func (t topology) WorkerTolerations(env *models.Environment, cluster models.Cluster, isDistributed bool) map[int][]models.Toleration {
	cfg := t.config(env)
	return perIndex(cluster[models.TaskWorker], isDistributed, workerPlacements(cfg), pickTolerations, envTolerations(env))
}

func (t topology) psResources(env *models.Environment, n int, isDistributed bool) map[int]*models.PodResources {
	return perIndex(n, isDistributed, psPlacements(t.config(env)), pickResources, nil)
}

func (t topology) psNodeSelectors(env *models.Environment, n int, isDistributed bool) map[int]map[string]string {
	return perIndex(n, isDistributed, psPlacements(t.config(env)), pickNodeSelector, envNodeSelector(env))
}

func (t topology) psAffinities(env *models.Environment, n int, isDistributed bool) map[int]models.Affinity {
	return perIndex(n, isDistributed, psPlacements(t.config(env)), pickAffinity, envAffinity(env))
}

func (t topology) psTolerations(env *models.Environment, n int, isDistributed bool) map[int][]models.Toleration {
	return perIndex(n, isDistributed, psPlacements(t.config(env)), pickTolerations, envTolerations(env))
}

type rolePlacements struct {
	defaults  *models.Placement
	overrides []models.IndexedPlacement
}

func workerPlacements(cfg *models.DistributedConfig) rolePlacements {
	if cfg == nil {
		return rolePlacements{}
	}
	return rolePlacements{defaults: cfg.DefaultWorker, overrides: cfg.Worker}
}

func psPlacements(cfg *models.DistributedConfig) rolePlacements {
	if cfg == nil {
		return rolePlacements{}
	}
	return rolePlacements{defaults: cfg.DefaultPS, overrides: cfg.PS}
}

// perIndex fills sequences [0, n) with the role default (or the fallback when
// the role has none), then applies the indexed overrides.
func perIndex[T any](
	n int,
	isDistributed bool,
	rp rolePlacements,
	pick func(p *models.Placement) (T, bool),
	fallback *T,
) map[int]T {
	values := make(map[int]T)
	if !isDistributed || n <= 0 {
		return values
	}

	def := fallback
	if rp.defaults != nil {
		if v, ok := pick(rp.defaults); ok {
			def = &v
		}
	}
	if def != nil {
		for i := 0; i < n; i++ {
			values[i] = *def
		}
	}

	for i := range rp.overrides {
		o := rp.overrides[i]
		if o.Index < 0 || o.Index >= n {
			continue
		}
		if v, ok := pick(&o.Placement); ok {
			values[o.Index] = v
		}
	}
	return values
}

// roleDefault resolves the role-level value, ignoring indexed overrides
func roleDefault[T any](rp rolePlacements, pick func(p *models.Placement) (T, bool), fallback *T) (T, bool) {
	if rp.defaults != nil {
		if v, ok := pick(rp.defaults); ok {
			return v, true
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	var zero T
	return zero, false
}

func pickResources(p *models.Placement) (*models.PodResources, bool) {
	return p.Resources, p.Resources != nil
}

func pickNodeSelector(p *models.Placement) (map[string]string, bool) {
	return p.NodeSelector, len(p.NodeSelector) > 0
}

func pickAffinity(p *models.Placement) (models.Affinity, bool) {
	return p.Affinity, len(p.Affinity) > 0
}

func pickTolerations(p *models.Placement) ([]models.Toleration, bool) {
	return p.Tolerations, len(p.Tolerations) > 0
}

func envNodeSelector(env *models.Environment) *map[string]string {
	if env == nil || len(env.NodeSelector) == 0 {
		return nil
	}
	return &env.NodeSelector
}

func envAffinity(env *models.Environment) *models.Affinity {
	if env == nil || len(env.Affinity) == 0 {
		return nil
	}
	return &env.Affinity
}

func envTolerations(env *models.Environment) *[]models.Toleration {
	if env == nil || len(env.Tolerations) == 0 {
		return nil
	}
	return &env.Tolerations
}

func hostPort(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}

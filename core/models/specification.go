package models

import "strings"

// Framework is the closed set of training topologies the scheduler knows how to spawn
type Framework int

const (
	FrameworkBase Framework = iota
	FrameworkTensorflow
	FrameworkHorovod
	FrameworkMXNet
	FrameworkPytorch
)

var frameworkTags = map[string]Framework{
	"tensorflow": FrameworkTensorflow,
	"horovod":    FrameworkHorovod,
	"mxnet":      FrameworkMXNet,
	"pytorch":    FrameworkPytorch,
}

// ParseFramework maps a specification tag to a Framework.
// Unknown or empty tags resolve to FrameworkBase.
func ParseFramework(tag string) Framework {
	if f, ok := frameworkTags[strings.ToLower(strings.TrimSpace(tag))]; ok {
		return f
	}
	return FrameworkBase
}

func (f Framework) String() string {
	switch f {
	case FrameworkTensorflow:
		return "tensorflow"
	case FrameworkHorovod:
		return "horovod"
	case FrameworkMXNet:
		return "mxnet"
	case FrameworkPytorch:
		return "pytorch"
	default:
		return "base"
	}
}

// TaskType is the role of a spawned unit within an experiment topology
type TaskType string

const (
	TaskMaster TaskType = "master"
	TaskWorker TaskType = "worker"
	TaskPS     TaskType = "ps"
	TaskServer TaskType = "server"
)

// Specification is the parsed experiment specification
type Specification struct {
	Version      int          `yaml:"version"`
	Kind         string       `yaml:"kind"`
	FrameworkTag string       `yaml:"framework"`
	Build        *BuildConfig `yaml:"build,omitempty"`
	Environment  *Environment `yaml:"environment,omitempty"`
	Run          *RunConfig   `yaml:"run,omitempty"`
}

// BuildConfig names the build step producing the experiment image
type BuildConfig struct {
	Image      string   `yaml:"image"`
	BuildSteps []string `yaml:"build_steps,omitempty"`
}

// RunConfig holds the command executed by every unit
type RunConfig struct {
	Cmd string `yaml:"cmd"`
}

// Framework returns the framework kind of the specification
func (s *Specification) Framework() Framework {
	if s == nil {
		return FrameworkBase
	}
	return ParseFramework(s.FrameworkTag)
}

// Environment describes the master placement and the per-framework cluster layouts
type Environment struct {
	Resources    *PodResources     `yaml:"resources,omitempty"`
	NodeSelector map[string]string `yaml:"node_selector,omitempty"`
	Affinity     Affinity          `yaml:"affinity,omitempty"`
	Tolerations  []Toleration      `yaml:"tolerations,omitempty"`

	Tensorflow *DistributedConfig `yaml:"tensorflow,omitempty"`
	Horovod    *DistributedConfig `yaml:"horovod,omitempty"`
	MXNet      *DistributedConfig `yaml:"mxnet,omitempty"`
	Pytorch    *DistributedConfig `yaml:"pytorch,omitempty"`
}

// DistributedConfig is the per-framework cluster layout.
// PS doubles as the MXNet server role.
type DistributedConfig struct {
	NWorkers      int                `yaml:"n_workers"`
	NPS           int                `yaml:"n_ps"`
	DefaultWorker *Placement         `yaml:"default_worker,omitempty"`
	Worker        []IndexedPlacement `yaml:"worker,omitempty"`
	DefaultPS     *Placement         `yaml:"default_ps,omitempty"`
	PS            []IndexedPlacement `yaml:"ps,omitempty"`
}

// Placement groups the optional per-unit scheduling attributes
type Placement struct {
	Resources    *PodResources     `yaml:"resources,omitempty"`
	NodeSelector map[string]string `yaml:"node_selector,omitempty"`
	Affinity     Affinity          `yaml:"affinity,omitempty"`
	Tolerations  []Toleration      `yaml:"tolerations,omitempty"`
}

// IndexedPlacement overrides the placement of one unit in a role
type IndexedPlacement struct {
	Index     int `yaml:"index"`
	Placement `yaml:",inline"`
}

// Affinity is kept as the raw kubernetes affinity document
type Affinity map[string]interface{}

// Toleration mirrors a kubernetes pod toleration
type Toleration struct {
	Key               string `yaml:"key,omitempty" json:"key,omitempty"`
	Operator          string `yaml:"operator,omitempty" json:"operator,omitempty"`
	Value             string `yaml:"value,omitempty" json:"value,omitempty"`
	Effect            string `yaml:"effect,omitempty" json:"effect,omitempty"`
	TolerationSeconds *int64 `yaml:"tolerationSeconds,omitempty" json:"tolerationSeconds,omitempty"`
}

// ResourceRequest is a requests/limits pair for one resource dimension
type ResourceRequest struct {
	Requests float64 `yaml:"requests,omitempty" json:"requests,omitempty"`
	Limits   float64 `yaml:"limits,omitempty" json:"limits,omitempty"`
}

// IsEmpty reports whether neither requests nor limits carry a value
func (r *ResourceRequest) IsEmpty() bool {
	return r == nil || (r.Requests == 0 && r.Limits == 0)
}

// PodResources is the resource request of one unit.
// Memory is expressed in MiB, CPU in cores.
type PodResources struct {
	Memory *ResourceRequest `yaml:"memory,omitempty" json:"memory,omitempty"`
	CPU    *ResourceRequest `yaml:"cpu,omitempty" json:"cpu,omitempty"`
	GPU    *ResourceRequest `yaml:"gpu,omitempty" json:"gpu,omitempty"`
	TPU    *ResourceRequest `yaml:"tpu,omitempty" json:"tpu,omitempty"`
}

// IsEmpty reports whether no dimension carries a value
func (r *PodResources) IsEmpty() bool {
	if r == nil {
		return true
	}
	return r.Memory.IsEmpty() && r.CPU.IsEmpty() && r.GPU.IsEmpty() && r.TPU.IsEmpty()
}

// Cluster is the number of units per role
type Cluster map[TaskType]int

// ClusterDef returns the unit counts of the experiment and whether it is distributed
func (s *Specification) ClusterDef() (Cluster, bool) {
	cluster := Cluster{TaskMaster: 1}
	cfg := s.distributedConfig()
	if cfg == nil {
		return cluster, false
	}

	cluster[TaskWorker] = cfg.NWorkers
	switch s.Framework() {
	case FrameworkTensorflow:
		cluster[TaskPS] = cfg.NPS
	case FrameworkMXNet:
		cluster[TaskServer] = cfg.NPS
	}

	distributed := false
	for role, n := range cluster {
		if role != TaskMaster && n > 0 {
			distributed = true
		}
	}
	return cluster, distributed
}

func (s *Specification) distributedConfig() *DistributedConfig {
	if s == nil || s.Environment == nil {
		return nil
	}
	switch s.Framework() {
	case FrameworkTensorflow:
		return s.Environment.Tensorflow
	case FrameworkHorovod:
		return s.Environment.Horovod
	case FrameworkMXNet:
		return s.Environment.MXNet
	case FrameworkPytorch:
		return s.Environment.Pytorch
	}
	return nil
}

// MasterPlacement returns the placement of the master unit
func (s *Specification) MasterPlacement() Placement {
	if s == nil || s.Environment == nil {
		return Placement{}
	}
	return Placement{
		Resources:    s.Environment.Resources,
		NodeSelector: s.Environment.NodeSelector,
		Affinity:     s.Environment.Affinity,
		Tolerations:  s.Environment.Tolerations,
	}
}

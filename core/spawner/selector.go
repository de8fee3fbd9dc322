package spawner

import (
	"k8s.io/client-go/kubernetes"

	"experiment-scheduler/core/models"
	"experiment-scheduler/training/frameworks"
)

type constructor func(base *BaseSpawner) Spawner

func distributed(topology func() frameworks.Topology) constructor {
	return func(base *BaseSpawner) Spawner {
		return NewDistributedSpawner(base, topology())
	}
}

var strategies = map[models.Framework]constructor{
	models.FrameworkBase: func(base *BaseSpawner) Spawner { return base },
	models.FrameworkTensorflow: distributed(func() frameworks.Topology {
		return frameworks.NewTensorflowTopology()
	}),
	models.FrameworkHorovod: distributed(func() frameworks.Topology {
		return frameworks.NewHorovodTopology()
	}),
	models.FrameworkMXNet: distributed(func() frameworks.Topology {
		return frameworks.NewMXNetTopology()
	}),
	models.FrameworkPytorch: distributed(func() frameworks.Topology {
		return frameworks.NewPytorchTopology()
	}),
}

// Factory builds the spawner strategy of a framework
type Factory interface {
	New(framework models.Framework, config Config) Spawner
}

// KubernetesFactory builds spawners against one cluster
type KubernetesFactory struct {
	Client       kubernetes.Interface
	DefaultImage string
}

func NewKubernetesFactory(client kubernetes.Interface, defaultImage string) *KubernetesFactory {
	return &KubernetesFactory{Client: client, DefaultImage: defaultImage}
}

// New never fails: frameworks without a strategy get the base spawner
func (f *KubernetesFactory) New(framework models.Framework, config Config) Spawner {
	build, ok := strategies[framework]
	if !ok {
		build = strategies[models.FrameworkBase]
	}
	return build(NewBaseSpawner(f.Client, config, f.DefaultImage))
}

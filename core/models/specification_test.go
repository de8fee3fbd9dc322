package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseFramework(t *testing.T) {
	cases := map[string]Framework{
		"tensorflow": FrameworkTensorflow,
		"Horovod":    FrameworkHorovod,
		" mxnet ":    FrameworkMXNet,
		"pytorch":    FrameworkPytorch,
		"":           FrameworkBase,
		"caffe":      FrameworkBase,
	}
	for tag, want := range cases {
		assert.Equal(t, want, ParseFramework(tag), tag)
	}
	assert.Equal(t, "base", FrameworkBase.String())
}

func TestClusterDef(t *testing.T) {
	var nilSpec *Specification
	cluster, distributed := nilSpec.ClusterDef()
	assert.Equal(t, Cluster{TaskMaster: 1}, cluster)
	assert.False(t, distributed)

	tf := &Specification{
		FrameworkTag: "tensorflow",
		Environment:  &Environment{Tensorflow: &DistributedConfig{NWorkers: 2, NPS: 1}},
	}
	cluster, distributed = tf.ClusterDef()
	assert.Equal(t, Cluster{TaskMaster: 1, TaskWorker: 2, TaskPS: 1}, cluster)
	assert.True(t, distributed)

	mx := &Specification{
		FrameworkTag: "mxnet",
		Environment:  &Environment{MXNet: &DistributedConfig{NPS: 2}},
	}
	cluster, distributed = mx.ClusterDef()
	assert.Equal(t, 2, cluster[TaskServer])
	assert.True(t, distributed)

	// ps is meaningless for horovod
	hvd := &Specification{
		FrameworkTag: "horovod",
		Environment:  &Environment{Horovod: &DistributedConfig{NPS: 3}},
	}
	cluster, distributed = hvd.ClusterDef()
	assert.Equal(t, Cluster{TaskMaster: 1, TaskWorker: 0}, cluster)
	assert.False(t, distributed)
}

func TestNewJobResources(t *testing.T) {
	assert.Nil(t, NewJobResources(nil))
	assert.Nil(t, NewJobResources(&PodResources{CPU: &ResourceRequest{}}))

	res := NewJobResources(&PodResources{
		CPU:    &ResourceRequest{},
		Memory: &ResourceRequest{Requests: 512},
	})
	if assert.NotNil(t, res) {
		assert.Nil(t, res.CPU)
		assert.Equal(t, 512.0, res.Memory.Requests)
	}
}

func TestUniqueName(t *testing.T) {
	e := &Experiment{ID: 12, Project: Project{UniqueName: "alice.mnist"}}
	assert.Equal(t, "alice.mnist.12", e.UniqueName())
}

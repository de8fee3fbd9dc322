package spec

import (
	"testing"

	"experiment-scheduler/core/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tensorflowSpec = `
version: 1
kind: experiment
framework: tensorflow
build:
  image: registry.local/team/mnist:v3
environment:
  resources:
    cpu: {requests: 1, limits: 2}
  node_selector:
    pool: master
  tensorflow:
    n_workers: 3
    n_ps: 1
    default_worker:
      resources:
        gpu: {requests: 1, limits: 1}
      tolerations:
        - key: nvidia.com/gpu
          operator: Exists
          effect: NoSchedule
    worker:
      - index: 2
        resources:
          gpu: {requests: 2, limits: 2}
        affinity:
          nodeAffinity:
            requiredDuringSchedulingIgnoredDuringExecution:
              nodeSelectorTerms:
                - matchExpressions:
                    - {key: zone, operator: In, values: [a]}
run:
  cmd: python train.py
`

func TestParseSpecification_Tensorflow(t *testing.T) {
	s, err := ParseSpecification(tensorflowSpec)
	require.NoError(t, err)

	assert.Equal(t, models.FrameworkTensorflow, s.Framework())
	assert.Equal(t, "registry.local/team/mnist:v3", s.Build.Image)
	assert.Equal(t, "python train.py", s.Run.Cmd)
	assert.Equal(t, map[string]string{"pool": "master"}, s.Environment.NodeSelector)

	tf := s.Environment.Tensorflow
	require.NotNil(t, tf)
	assert.Equal(t, 3, tf.NWorkers)
	assert.Equal(t, 1, tf.NPS)
	assert.Equal(t, 1.0, tf.DefaultWorker.Resources.GPU.Requests)
	require.Len(t, tf.DefaultWorker.Tolerations, 1)
	assert.Equal(t, "NoSchedule", tf.DefaultWorker.Tolerations[0].Effect)
	require.Len(t, tf.Worker, 1)
	assert.Equal(t, 2, tf.Worker[0].Index)
	assert.Equal(t, 2.0, tf.Worker[0].Resources.GPU.Limits)
	assert.Contains(t, tf.Worker[0].Affinity, "nodeAffinity")

	cluster, distributed := s.ClusterDef()
	assert.True(t, distributed)
	assert.Equal(t, models.Cluster{models.TaskMaster: 1, models.TaskWorker: 3, models.TaskPS: 1}, cluster)
}

func TestParseSpecification_DefaultsKind(t *testing.T) {
	s, err := ParseSpecification("version: 1\nrun:\n  cmd: echo hi\n")
	require.NoError(t, err)
	assert.Equal(t, "experiment", s.Kind)
	assert.Equal(t, models.FrameworkBase, s.Framework())

	_, distributed := s.ClusterDef()
	assert.False(t, distributed)
}

func TestParseSpecification_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"malformed", "version: [1"},
		{"wrong kind", "kind: group"},
		{"build without image", "build: {build_steps: [make]}"},
		{"negative workers", "framework: horovod\nenvironment:\n  horovod: {n_workers: -1}"},
		{"pytorch with ps", "framework: pytorch\nenvironment:\n  pytorch: {n_workers: 1, n_ps: 1}"},
		{"worker index out of range", "framework: mxnet\nenvironment:\n  mxnet:\n    n_workers: 1\n    worker: [{index: 1}]"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseSpecification(tc.yaml)
			assert.Error(t, err)
		})
	}
}

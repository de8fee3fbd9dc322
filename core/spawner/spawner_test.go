package spawner

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	v1 "k8s.io/api/core/v1"
	k8s_errors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	clientTesting "k8s.io/client-go/testing"

	"experiment-scheduler/core/models"
	"experiment-scheduler/core/tokens"
)

const namespace = "training"

func testConfig(spec *models.Specification) Config {
	return Config{
		ProjectName:    "alice.mnist",
		ProjectUUID:    uuid.New().String(),
		ExperimentName: "alice.mnist.12",
		ExperimentUUID: uuid.New().String(),
		Spec:           spec,
		Namespace:      namespace,
	}
}

func tensorflowSpec() *models.Specification {
	return &models.Specification{
		FrameworkTag: "tensorflow",
		Run:          &models.RunConfig{Cmd: "python train.py"},
		Environment: &models.Environment{
			Resources: &models.PodResources{CPU: &models.ResourceRequest{Requests: 1}},
			Tensorflow: &models.DistributedConfig{
				NWorkers: 2,
				NPS:      1,
				Worker: []models.IndexedPlacement{{
					Index:     1,
					Placement: models.Placement{Resources: &models.PodResources{GPU: &models.ResourceRequest{Limits: 2}}},
				}},
			},
		},
	}
}

func decodePod(t *testing.T, unit Unit) *v1.Pod {
	pod := &v1.Pod{}
	require.NoError(t, json.Unmarshal(unit.Definition, pod))
	return pod
}

func envValue(c v1.Container, name string) string {
	for _, e := range c.Env {
		if e.Name == name {
			return e.Value
		}
	}
	return ""
}

func quantity(list v1.ResourceList, name v1.ResourceName) string {
	q, ok := list[name]
	if !ok {
		return ""
	}
	return q.String()
}

func TestKubernetesFactory_SelectsStrategy(t *testing.T) {
	factory := NewKubernetesFactory(fake.NewSimpleClientset(), "python:3.11")

	_, isBase := factory.New(models.FrameworkBase, testConfig(nil)).(*BaseSpawner)
	assert.True(t, isBase)
	_, isBase = factory.New(models.Framework(42), testConfig(nil)).(*BaseSpawner)
	assert.True(t, isBase)

	for _, f := range []models.Framework{
		models.FrameworkTensorflow,
		models.FrameworkHorovod,
		models.FrameworkMXNet,
		models.FrameworkPytorch,
	} {
		s := factory.New(f, testConfig(nil))
		_, isDistributed := s.(*DistributedSpawner)
		assert.True(t, isDistributed, f.String())
		assert.Equal(t, f, s.Framework())
	}
}

func TestBaseSpawner_Start(t *testing.T) {
	client := fake.NewSimpleClientset()
	cfg := testConfig(&models.Specification{
		Environment: &models.Environment{
			NodeSelector: map[string]string{"pool": "gpu"},
			Tolerations:  []models.Toleration{{Key: "gpu", Operator: "Exists", Effect: "NoSchedule"}},
		},
	})
	cfg.UseSidecar = true
	cfg.Sidecar = SidecarConfig{Image: "sidecar:1", LogLevel: "info", SleepInterval: 5}
	cfg.TokenScope = &tokens.Scope{Token: "tok", Scope: "7:experiment:12"}

	response, err := NewBaseSpawner(client, cfg, "python:3.11").Start(context.Background())
	require.NoError(t, err)
	require.Len(t, response, 1)
	require.Len(t, response[models.TaskMaster], 1)

	unit := response[models.TaskMaster][0]
	_, err = uuid.Parse(unit.JobUUID())
	assert.NoError(t, err)
	assert.Equal(t, "alice-mnist-12-master-0", unit.Name)

	pod := decodePod(t, unit)
	assert.Equal(t, cfg.ExperimentUUID, pod.Labels[LabelExperimentUUID])
	assert.Equal(t, map[string]string{"pool": "gpu"}, pod.Spec.NodeSelector)
	require.Len(t, pod.Spec.Tolerations, 1)
	assert.Equal(t, v1.TaintEffectNoSchedule, pod.Spec.Tolerations[0].Effect)

	require.Len(t, pod.Spec.Containers, 2)
	assert.Equal(t, "python:3.11", pod.Spec.Containers[0].Image)
	assert.Equal(t, "tok", envValue(pod.Spec.Containers[1], "SIDECAR_TOKEN"))
	assert.Equal(t, "7:experiment:12", envValue(pod.Spec.Containers[1], "SIDECAR_TOKEN_SCOPE"))

	pods, err := client.CoreV1().Pods(namespace).List(context.Background(), metav1.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, pods.Items, 1)
}

func TestBaseSpawner_Start_MissingVolume(t *testing.T) {
	client := fake.NewSimpleClientset(&v1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{Name: "datasets", Namespace: namespace},
	})
	cfg := testConfig(nil)
	cfg.PersistenceConfig = &models.PersistenceConfig{Data: []string{"datasets"}, Outputs: "outputs"}

	_, err := NewBaseSpawner(client, cfg, "img").Start(context.Background())
	require.Error(t, err)

	var volumeErr *VolumeNotFoundError
	require.True(t, errors.As(err, &volumeErr))
	assert.Equal(t, "outputs", volumeErr.Claim)

	pods, err := client.CoreV1().Pods(namespace).List(context.Background(), metav1.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, pods.Items)
}

func TestBaseSpawner_Start_MountsVolumes(t *testing.T) {
	client := fake.NewSimpleClientset(
		&v1.PersistentVolumeClaim{ObjectMeta: metav1.ObjectMeta{Name: "datasets", Namespace: namespace}},
		&v1.PersistentVolumeClaim{ObjectMeta: metav1.ObjectMeta{Name: "outputs", Namespace: namespace}},
	)
	cfg := testConfig(nil)
	cfg.PersistenceConfig = &models.PersistenceConfig{Data: []string{"datasets"}, Outputs: "outputs"}

	response, err := NewBaseSpawner(client, cfg, "img").Start(context.Background())
	require.NoError(t, err)

	pod := decodePod(t, response[models.TaskMaster][0])
	assert.Len(t, pod.Spec.Volumes, 2)
	assert.Equal(t, "/outputs/outputs", envValue(pod.Spec.Containers[0], "OUTPUTS_PATH"))
}

func TestBaseSpawner_Start_ClusterError(t *testing.T) {
	client := fake.NewSimpleClientset()
	client.Fake.PrependReactor("create", "pods", func(action clientTesting.Action) (bool, runtime.Object, error) {
		return true, nil, k8s_errors.NewForbidden(v1.Resource("pods"), "", errors.New("quota exceeded"))
	})

	_, err := NewBaseSpawner(client, testConfig(nil), "img").Start(context.Background())
	require.Error(t, err)

	var status k8s_errors.APIStatus
	assert.True(t, errors.As(err, &status))
}

func TestDistributedSpawner_Tensorflow(t *testing.T) {
	client := fake.NewSimpleClientset()
	factory := NewKubernetesFactory(client, "tensorflow/tensorflow:2.15.0")

	response, err := factory.New(models.FrameworkTensorflow, testConfig(tensorflowSpec())).Start(context.Background())
	require.NoError(t, err)

	assert.Len(t, response[models.TaskMaster], 1)
	require.Len(t, response[models.TaskWorker], 2)
	assert.Len(t, response[models.TaskPS], 1)

	worker := decodePod(t, response[models.TaskWorker][1])
	assert.Equal(t, "alice-mnist-12", worker.Spec.Subdomain)
	assert.Equal(t, "2", quantity(worker.Spec.Containers[0].Resources.Limits, ResourceGPU))
	assert.Contains(t, envValue(worker.Spec.Containers[0], "TF_CONFIG"), `"task":{"type":"worker","index":1}`)

	master := decodePod(t, response[models.TaskMaster][0])
	assert.Equal(t, "1", quantity(master.Spec.Containers[0].Resources.Requests, v1.ResourceCPU))
	assert.Equal(t, []string{"/bin/sh", "-c", "python train.py"}, master.Spec.Containers[0].Command)

	services, err := client.CoreV1().Services(namespace).List(context.Background(), metav1.ListOptions{})
	require.NoError(t, err)
	require.Len(t, services.Items, 1)
	assert.Equal(t, v1.ClusterIPNone, services.Items[0].Spec.ClusterIP)
}

func TestDistributedSpawner_HorovodHasNoPS(t *testing.T) {
	spec := &models.Specification{
		FrameworkTag: "horovod",
		Environment:  &models.Environment{Horovod: &models.DistributedConfig{NWorkers: 1, NPS: 4}},
	}
	response, err := NewKubernetesFactory(fake.NewSimpleClientset(), "img").
		New(models.FrameworkHorovod, testConfig(spec)).
		Start(context.Background())
	require.NoError(t, err)

	assert.Len(t, response[models.TaskWorker], 1)
	assert.Empty(t, response[models.TaskPS])
	assert.Empty(t, response[models.TaskServer])
}

func TestDistributedSpawner_NotDistributed(t *testing.T) {
	spec := &models.Specification{FrameworkTag: "pytorch"}
	client := fake.NewSimpleClientset()
	response, err := NewKubernetesFactory(client, "img").
		New(models.FrameworkPytorch, testConfig(spec)).
		Start(context.Background())
	require.NoError(t, err)

	assert.Len(t, response, 1)
	services, err := client.CoreV1().Services(namespace).List(context.Background(), metav1.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, services.Items)
}

func TestSpawner_Stop(t *testing.T) {
	client := fake.NewSimpleClientset()
	cfg := testConfig(tensorflowSpec())
	factory := NewKubernetesFactory(client, "img")

	_, err := factory.New(models.FrameworkTensorflow, cfg).Start(context.Background())
	require.NoError(t, err)

	other := testConfig(nil)
	other.ExperimentName = "bob.cifar.3"
	_, err = factory.New(models.FrameworkBase, other).Start(context.Background())
	require.NoError(t, err)

	result, err := factory.New(models.FrameworkTensorflow, cfg).Stop(context.Background())
	require.NoError(t, err)
	assert.Len(t, result.DeletedPods, 4)
	assert.Equal(t, []string{"alice-mnist-12"}, result.DeletedServices)

	pods, err := client.CoreV1().Pods(namespace).List(context.Background(), metav1.ListOptions{})
	require.NoError(t, err)
	require.Len(t, pods.Items, 1)
	assert.Equal(t, other.ExperimentUUID, pods.Items[0].Labels[LabelExperimentUUID])
}

func TestSpawner_Stop_PropagatesClusterError(t *testing.T) {
	client := fake.NewSimpleClientset()
	client.Fake.PrependReactor("list", "pods", func(action clientTesting.Action) (bool, runtime.Object, error) {
		return true, nil, k8s_errors.NewServiceUnavailable("down")
	})

	_, err := NewBaseSpawner(client, testConfig(nil), "img").Stop(context.Background())
	assert.True(t, k8s_errors.IsServiceUnavailable(err))
}

func TestToResourceRequirements(t *testing.T) {
	assert.Equal(t, v1.ResourceRequirements{}, toResourceRequirements(nil))

	requirements := toResourceRequirements(&models.PodResources{
		CPU:    &models.ResourceRequest{Requests: 0.5, Limits: 2},
		Memory: &models.ResourceRequest{Requests: 512},
		TPU:    &models.ResourceRequest{Limits: 8},
	})
	assert.Equal(t, "500m", quantity(requirements.Requests, v1.ResourceCPU))
	assert.Equal(t, "2", quantity(requirements.Limits, v1.ResourceCPU))
	assert.Equal(t, "512Mi", quantity(requirements.Requests, v1.ResourceMemory))
	assert.Equal(t, "8", quantity(requirements.Limits, ResourceTPU))
	_, hasGPU := requirements.Limits[ResourceGPU]
	assert.False(t, hasGPU)
}

func TestToAffinity(t *testing.T) {
	affinity, err := toAffinity(models.Affinity{
		"nodeAffinity": map[string]interface{}{
			"requiredDuringSchedulingIgnoredDuringExecution": map[string]interface{}{
				"nodeSelectorTerms": []interface{}{
					map[string]interface{}{
						"matchExpressions": []interface{}{
							map[string]interface{}{"key": "zone", "operator": "In", "values": []interface{}{"a"}},
						},
					},
				},
			},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, affinity.NodeAffinity)
	terms := affinity.NodeAffinity.RequiredDuringSchedulingIgnoredDuringExecution.NodeSelectorTerms
	assert.Equal(t, "zone", terms[0].MatchExpressions[0].Key)

	affinity, err = toAffinity(nil)
	assert.NoError(t, err)
	assert.Nil(t, affinity)
}

func TestSpawner_Stop_SkipsAlreadyDeleted(t *testing.T) {
	client := fake.NewSimpleClientset()
	cfg := testConfig(tensorflowSpec())
	factory := NewKubernetesFactory(client, "img")

	_, err := factory.New(models.FrameworkTensorflow, cfg).Start(context.Background())
	require.NoError(t, err)

	client.Fake.PrependReactor("delete", "pods", func(action clientTesting.Action) (bool, runtime.Object, error) {
		name := action.(clientTesting.DeleteAction).GetName()
		if name == "alice-mnist-12-worker-0" {
			return true, nil, k8s_errors.NewNotFound(v1.Resource("pods"), name)
		}
		return false, nil, nil
	})
	client.Fake.PrependReactor("delete", "services", func(action clientTesting.Action) (bool, runtime.Object, error) {
		return true, nil, k8s_errors.NewNotFound(v1.Resource("services"), action.(clientTesting.DeleteAction).GetName())
	})

	result, err := factory.New(models.FrameworkTensorflow, cfg).Stop(context.Background())
	require.NoError(t, err)
	assert.Len(t, result.DeletedPods, 3)
	assert.NotContains(t, result.DeletedPods, "alice-mnist-12-worker-0")
	assert.Empty(t, result.DeletedServices)
}

func TestSpawner_LongNamesStayUnique(t *testing.T) {
	client := fake.NewSimpleClientset()
	factory := NewKubernetesFactory(client, "img")

	first := testConfig(nil)
	first.ExperimentName = "alice.image-classification-benchmark-resnet50.1"
	second := testConfig(nil)
	second.ExperimentName = "alice.image-classification-benchmark-resnet50.2"

	firstResponse, err := factory.New(models.FrameworkBase, first).Start(context.Background())
	require.NoError(t, err)
	secondResponse, err := factory.New(models.FrameworkBase, second).Start(context.Background())
	require.NoError(t, err)

	firstName := firstResponse[models.TaskMaster][0].Name
	secondName := secondResponse[models.TaskMaster][0].Name
	assert.NotEqual(t, firstName, secondName)
	for _, name := range []string{firstName, secondName} {
		assert.LessOrEqual(t, len(name), 63)
		assert.Regexp(t, `^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`, name)
	}
	assert.Contains(t, firstName, "-1-"+strings.ReplaceAll(first.ExperimentUUID, "-", "")[:8]+"-master-0")

	pods, err := client.CoreV1().Pods(namespace).List(context.Background(), metav1.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, pods.Items, 2)
}

func TestSpawner_LongDistributedNamesStayUnique(t *testing.T) {
	client := fake.NewSimpleClientset()
	factory := NewKubernetesFactory(client, "img")

	for _, id := range []string{"7", "8"} {
		cfg := testConfig(tensorflowSpec())
		cfg.ExperimentName = "alice.image-classification-benchmark-resnet50." + id
		_, err := factory.New(models.FrameworkTensorflow, cfg).Start(context.Background())
		require.NoError(t, err)
	}

	services, err := client.CoreV1().Services(namespace).List(context.Background(), metav1.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, services.Items, 2)
	pods, err := client.CoreV1().Pods(namespace).List(context.Background(), metav1.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, pods.Items, 8)
}

func TestDistributedSpawner_MXNetServersShareRolePlacement(t *testing.T) {
	spec := &models.Specification{
		FrameworkTag: "mxnet",
		Environment: &models.Environment{
			MXNet: &models.DistributedConfig{
				NWorkers:  1,
				NPS:       2,
				DefaultPS: &models.Placement{NodeSelector: map[string]string{"pool": "servers"}},
				PS: []models.IndexedPlacement{{Index: 1, Placement: models.Placement{
					Resources:    &models.PodResources{GPU: &models.ResourceRequest{Limits: 1}},
					NodeSelector: map[string]string{"pool": "server-1"},
				}}},
			},
		},
	}
	response, err := NewKubernetesFactory(fake.NewSimpleClientset(), "img").
		New(models.FrameworkMXNet, testConfig(spec)).
		Start(context.Background())
	require.NoError(t, err)

	require.Len(t, response[models.TaskServer], 2)
	for _, unit := range response[models.TaskServer] {
		assert.Equal(t, map[string]string{"pool": "servers"}, decodePod(t, unit).Spec.NodeSelector)
	}
	server := decodePod(t, response[models.TaskServer][1])
	assert.Equal(t, "1", quantity(server.Spec.Containers[0].Resources.Limits, ResourceGPU))
}

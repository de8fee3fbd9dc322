package spawner

import (
	"encoding/json"
	"math"
	"sort"

	"github.com/pkg/errors"
	v1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"

	"experiment-scheduler/core/models"
)

const (
	ResourceGPU v1.ResourceName = "nvidia.com/gpu"
	ResourceTPU v1.ResourceName = "cloud-tpus.google.com/v2"
)

func cpuQuantity(cores float64) resource.Quantity {
	return *resource.NewMilliQuantity(int64(math.Round(cores*1000)), resource.DecimalSI)
}

// memory is expressed in MiB
func memoryQuantity(mib float64) resource.Quantity {
	return *resource.NewQuantity(int64(math.Round(mib*1024*1024)), resource.BinarySI)
}

func countQuantity(n float64) resource.Quantity {
	return *resource.NewQuantity(int64(math.Ceil(n)), resource.DecimalSI)
}

func toResourceRequirements(r *models.PodResources) v1.ResourceRequirements {
	requirements := v1.ResourceRequirements{}
	if r.IsEmpty() {
		return requirements
	}

	add := func(name v1.ResourceName, req *models.ResourceRequest, quantity func(float64) resource.Quantity) {
		if req.IsEmpty() {
			return
		}
		if req.Requests > 0 {
			if requirements.Requests == nil {
				requirements.Requests = v1.ResourceList{}
			}
			requirements.Requests[name] = quantity(req.Requests)
		}
		if req.Limits > 0 {
			if requirements.Limits == nil {
				requirements.Limits = v1.ResourceList{}
			}
			requirements.Limits[name] = quantity(req.Limits)
		}
	}
	add(v1.ResourceCPU, r.CPU, cpuQuantity)
	add(v1.ResourceMemory, r.Memory, memoryQuantity)
	add(ResourceGPU, r.GPU, countQuantity)
	add(ResourceTPU, r.TPU, countQuantity)
	return requirements
}

func toAffinity(a models.Affinity) (*v1.Affinity, error) {
	if len(a) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(a)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode affinity")
	}
	affinity := &v1.Affinity{}
	if err := json.Unmarshal(raw, affinity); err != nil {
		return nil, errors.Wrap(err, "invalid affinity definition")
	}
	return affinity, nil
}

func toTolerations(tolerations []models.Toleration) []v1.Toleration {
	if len(tolerations) == 0 {
		return nil
	}
	result := make([]v1.Toleration, 0, len(tolerations))
	for _, t := range tolerations {
		result = append(result, v1.Toleration{
			Key:               t.Key,
			Operator:          v1.TolerationOperator(t.Operator),
			Value:             t.Value,
			Effect:            v1.TaintEffect(t.Effect),
			TolerationSeconds: t.TolerationSeconds,
		})
	}
	return result
}

func toEnvVars(env map[string]string) []v1.EnvVar {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	vars := make([]v1.EnvVar, 0, len(keys))
	for _, k := range keys {
		vars = append(vars, v1.EnvVar{Name: k, Value: env[k]})
	}
	return vars
}

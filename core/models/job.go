package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Job is one spawned compute unit of an experiment
type Job struct {
	ID           int64
	UUID         uuid.UUID
	ExperimentID int64
	Role         TaskType // empty for the single master unit
	Sequence     *int
	Definition   json.RawMessage // pod as submitted to the cluster
	Resources    *JobResources
	NodeSelector map[string]string
	Affinity     Affinity
	Tolerations  []Toleration
	CreatedAt    time.Time
}

// JobResources is the persisted resource snapshot of a job.
// Only dimensions carrying a value are set.
type JobResources struct {
	ID     int64
	Memory *ResourceRequest
	CPU    *ResourceRequest
	GPU    *ResourceRequest
	TPU    *ResourceRequest
}

// NewJobResources folds a pod resource request into a JobResources snapshot.
// It returns nil when every dimension is empty.
func NewJobResources(r *PodResources) *JobResources {
	if r.IsEmpty() {
		return nil
	}
	res := &JobResources{}
	if !r.Memory.IsEmpty() {
		res.Memory = r.Memory
	}
	if !r.CPU.IsEmpty() {
		res.CPU = r.CPU
	}
	if !r.GPU.IsEmpty() {
		res.GPU = r.GPU
	}
	if !r.TPU.IsEmpty() {
		res.TPU = r.TPU
	}
	return res
}

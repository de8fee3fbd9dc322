package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ExperimentLifeCycle is the status of an experiment
type ExperimentLifeCycle string

const (
	ExperimentStatusCreated   ExperimentLifeCycle = "created"
	ExperimentStatusBuilding  ExperimentLifeCycle = "building"
	ExperimentStatusScheduled ExperimentLifeCycle = "scheduled"
	ExperimentStatusStarting  ExperimentLifeCycle = "starting"
	ExperimentStatusRunning   ExperimentLifeCycle = "running"
	ExperimentStatusSucceeded ExperimentLifeCycle = "succeeded"
	ExperimentStatusFailed    ExperimentLifeCycle = "failed"
	ExperimentStatusStopped   ExperimentLifeCycle = "stopped"
	ExperimentStatusUnknown   ExperimentLifeCycle = "unknown"
)

// CloningStrategy records how an experiment was derived from another one
type CloningStrategy string

const (
	CloningCopy    CloningStrategy = "copy"
	CloningRestart CloningStrategy = "restart"
	CloningResume  CloningStrategy = "resume"
)

// Project owns experiments
type Project struct {
	ID         int64
	UUID       uuid.UUID
	UniqueName string // "<user>.<project>"
}

// ExperimentGroup is an optional owner of experiments (hyperparameter search)
type ExperimentGroup struct {
	ID         int64
	UUID       uuid.UUID
	UniqueName string
}

// BuildJob is the image build an experiment depends on
type BuildJob struct {
	ID          int64
	UUID        uuid.UUID
	DockerImage string
}

// PersistenceConfig names the volume claims mounted into every unit
type PersistenceConfig struct {
	Data    []string `json:"data,omitempty"`
	Outputs string   `json:"outputs,omitempty"`
}

// Experiment is a training run request
type Experiment struct {
	ID        int64
	UUID      uuid.UUID
	UserID    int64
	Username  string
	Project   Project
	Group     *ExperimentGroup
	BuildJob  *BuildJob
	Config    string // original YAML
	Spec      *Specification
	Status    ExperimentLifeCycle
	CreatedAt time.Time

	PersistenceConfig      *PersistenceConfig
	OutputsRefsExperiments []string
	OutputsRefsJobs        []string
	OriginalUniqueName     string
	CloningStrategy        CloningStrategy
}

// UniqueName returns "<user>.<project>.<id>"
func (e *Experiment) UniqueName() string {
	return fmt.Sprintf("%s.%d", e.Project.UniqueName, e.ID)
}

package spawner

import (
	"context"
	"encoding/json"
	"fmt"

	"experiment-scheduler/core/models"
	"experiment-scheduler/core/tokens"
)

const (
	LabelApp            = "app"
	LabelExperimentUUID = "experiment_uuid"
	LabelJobUUID        = "job_uuid"
	LabelProjectUUID    = "project_uuid"
	LabelGroupUUID      = "group_uuid"
	LabelRole           = "role"
	LabelTaskIndex      = "task_index"

	appName = "experiment-scheduler"

	mainContainerName    = "experiment"
	sidecarContainerName = "sidecar"
)

// Unit is one spawned pod as reported back to the scheduler
type Unit struct {
	Name       string
	Labels     map[string]string
	Definition json.RawMessage
}

// JobUUID returns the label identifying the job record of the unit
func (u Unit) JobUUID() string {
	return u.Labels[LabelJobUUID]
}

// Response lists the spawned units by role, in creation order
type Response map[models.TaskType][]Unit

// StopResult reports what was removed from the cluster
type StopResult struct {
	DeletedPods     []string
	DeletedServices []string
}

// Spawner materializes an experiment topology on the cluster
type Spawner interface {
	Framework() models.Framework
	Start(ctx context.Context) (Response, error)
	Stop(ctx context.Context) (*StopResult, error)
}

// SidecarConfig configures the container running next to every unit
type SidecarConfig struct {
	Image         string
	LogLevel      string
	SleepInterval int
}

// Config is the identifying context a spawner is built with
type Config struct {
	ProjectName    string
	ProjectUUID    string
	GroupName      string
	GroupUUID      string
	ExperimentName string
	ExperimentUUID string

	PersistenceConfig      *models.PersistenceConfig
	OutputsRefsExperiments []string
	OutputsRefsJobs        []string
	OriginalName           string
	CloningStrategy        models.CloningStrategy

	Spec      *models.Specification
	Namespace string
	InCluster bool
	// Image is the resolved unit image; empty means the default job image
	Image string

	UseSidecar bool
	Sidecar    SidecarConfig
	// TokenScope is only minted on start
	TokenScope *tokens.Scope
}

// VolumeNotFoundError is returned when a persistence claim does not exist
type VolumeNotFoundError struct {
	Claim string
}

func (e *VolumeNotFoundError) Error() string {
	return fmt.Sprintf("persistence volume claim %q was not found", e.Claim)
}

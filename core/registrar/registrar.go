package registrar

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"experiment-scheduler/core/models"
)

// JobStore persists job records
type JobStore interface {
	CreateJobResources(ctx context.Context, res *models.JobResources) error
	CreateJob(ctx context.Context, job *models.Job) error
}

// Registration is the complete, immutable description of one spawned unit
type Registration struct {
	unitID       uuid.UUID
	experimentID int64
	definition   json.RawMessage
	role         models.TaskType
	sequence     *int
	resources    *models.PodResources
	nodeSelector map[string]string
	affinity     models.Affinity
	tolerations  []models.Toleration
}

func (r Registration) UnitID() uuid.UUID { return r.unitID }

func (r Registration) Role() models.TaskType { return r.role }

func (r Registration) Resources() *models.PodResources { return r.resources }

func (r Registration) NodeSelector() map[string]string { return r.nodeSelector }

func (r Registration) Affinity() models.Affinity { return r.affinity }

func (r Registration) Tolerations() []models.Toleration { return r.tolerations }

// Sequence returns the unit index within its role, if set
func (r Registration) Sequence() (int, bool) {
	if r.sequence == nil {
		return 0, false
	}
	return *r.sequence, true
}

// Builder assembles a Registration. Optional fields left unset stay unset.
type Builder struct {
	reg Registration
}

// NewJob starts a registration for the unit identified by unitID
func NewJob(unitID uuid.UUID, experiment *models.Experiment, definition json.RawMessage) *Builder {
	return &Builder{reg: Registration{
		unitID:       unitID,
		experimentID: experiment.ID,
		definition:   append(json.RawMessage(nil), definition...),
	}}
}

func (b *Builder) Role(role models.TaskType) *Builder {
	b.reg.role = role
	return b
}

func (b *Builder) Sequence(sequence int) *Builder {
	b.reg.sequence = &sequence
	return b
}

func (b *Builder) Resources(resources *models.PodResources) *Builder {
	b.reg.resources = resources
	return b
}

func (b *Builder) NodeSelector(nodeSelector map[string]string) *Builder {
	b.reg.nodeSelector = nodeSelector
	return b
}

func (b *Builder) Affinity(affinity models.Affinity) *Builder {
	b.reg.affinity = affinity
	return b
}

func (b *Builder) Tolerations(tolerations []models.Toleration) *Builder {
	b.reg.tolerations = tolerations
	return b
}

// Build returns the registration; later builder calls do not affect it
func (b *Builder) Build() Registration {
	reg := b.reg
	if reg.sequence != nil {
		seq := *reg.sequence
		reg.sequence = &seq
	}
	return reg
}

// Registrar turns registrations into durable job records
type Registrar struct {
	store JobStore
}

func NewRegistrar(store JobStore) *Registrar {
	return &Registrar{store: store}
}

// Register persists the job of one spawned unit. A resource record is only
// created when at least one resource dimension carries a value.
func (r *Registrar) Register(ctx context.Context, reg Registration) (*models.Job, error) {
	if reg.unitID == uuid.Nil {
		return nil, errors.New("job registration requires a unit identifier")
	}

	job := &models.Job{
		UUID:         reg.unitID,
		ExperimentID: reg.experimentID,
		Role:         reg.role,
		Sequence:     reg.sequence,
		Definition:   reg.definition,
		NodeSelector: reg.nodeSelector,
		Affinity:     reg.affinity,
		Tolerations:  reg.tolerations,
	}

	if res := models.NewJobResources(reg.resources); res != nil {
		if err := r.store.CreateJobResources(ctx, res); err != nil {
			return nil, errors.Wrapf(err, "failed to create resources of job %s", reg.unitID)
		}
		job.Resources = res
	}

	if err := r.store.CreateJob(ctx, job); err != nil {
		return nil, errors.Wrapf(err, "failed to create job %s", reg.unitID)
	}
	return job, nil
}

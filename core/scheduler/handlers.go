package scheduler

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"experiment-scheduler/core/models"
	"experiment-scheduler/core/registrar"
	"experiment-scheduler/core/spawner"
	"experiment-scheduler/training/frameworks"
)

// handler registers one job per unit of a spawner response
type handler func(ctx context.Context, r *registrar.Registrar, exp *models.Experiment, response spawner.Response) error

var handlers = map[models.Framework]handler{
	models.FrameworkBase:       handleBase,
	models.FrameworkTensorflow: handleTensorflow,
	models.FrameworkHorovod:    handleCollective(frameworks.NewHorovodTopology()),
	models.FrameworkPytorch:    handleCollective(frameworks.NewPytorchTopology()),
	models.FrameworkMXNet:      handleMXNet,
}

func handlerFor(f models.Framework) handler {
	if h, ok := handlers[f]; ok {
		return h
	}
	return handlers[models.FrameworkBase]
}

// placement is the state every distributed handler resolves against
type placement struct {
	env           *models.Environment
	cluster       models.Cluster
	isDistributed bool
}

func placementOf(exp *models.Experiment) placement {
	p := placement{}
	p.cluster, p.isDistributed = exp.Spec.ClusterDef()
	if exp.Spec != nil {
		p.env = exp.Spec.Environment
	}
	return p
}

func parseUnitID(unit spawner.Unit) (uuid.UUID, error) {
	id, err := uuid.Parse(unit.JobUUID())
	if err != nil {
		return uuid.Nil, errors.Wrapf(err, "unit %s has an invalid job label %q", unit.Name, unit.JobUUID())
	}
	return id, nil
}

func register(ctx context.Context, r *registrar.Registrar, b *registrar.Builder) error {
	reg := b.Build()
	job, err := r.Register(ctx, reg)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"experiment": job.ExperimentID,
		"job_uuid":   job.UUID,
		"role":       reg.Role(),
	}).Debug("Registered job")
	return nil
}

func registerMaster(ctx context.Context, r *registrar.Registrar, exp *models.Experiment, response spawner.Response) error {
	master := exp.Spec.MasterPlacement()
	for _, unit := range response[models.TaskMaster] {
		id, err := parseUnitID(unit)
		if err != nil {
			return err
		}
		err = register(ctx, r, registrar.NewJob(id, exp, unit.Definition).
			Resources(master.Resources).
			NodeSelector(master.NodeSelector).
			Affinity(master.Affinity).
			Tolerations(master.Tolerations))
		if err != nil {
			return err
		}
	}
	return nil
}

func registerWorkers(ctx context.Context, r *registrar.Registrar, exp *models.Experiment, response spawner.Response, resolver frameworks.WorkerResolver) error {
	p := placementOf(exp)
	resources := resolver.WorkerResources(p.env, p.cluster, p.isDistributed)
	selectors := resolver.WorkerNodeSelectors(p.env, p.cluster, p.isDistributed)
	affinities := resolver.WorkerAffinities(p.env, p.cluster, p.isDistributed)
	tolerations := resolver.WorkerTolerations(p.env, p.cluster, p.isDistributed)

	for i, unit := range response[models.TaskWorker] {
		id, err := parseUnitID(unit)
		if err != nil {
			return err
		}
		err = register(ctx, r, registrar.NewJob(id, exp, unit.Definition).
			Role(models.TaskWorker).
			Sequence(i).
			Resources(resources[i]).
			NodeSelector(selectors[i]).
			Affinity(affinities[i]).
			Tolerations(tolerations[i]))
		if err != nil {
			return err
		}
	}
	return nil
}

func handleBase(ctx context.Context, r *registrar.Registrar, exp *models.Experiment, response spawner.Response) error {
	return registerMaster(ctx, r, exp, response)
}

// handleCollective registers the master and workers of frameworks without a ps role
func handleCollective(resolver frameworks.WorkerResolver) handler {
	return func(ctx context.Context, r *registrar.Registrar, exp *models.Experiment, response spawner.Response) error {
		if err := registerMaster(ctx, r, exp, response); err != nil {
			return err
		}
		return registerWorkers(ctx, r, exp, response, resolver)
	}
}

func handleTensorflow(ctx context.Context, r *registrar.Registrar, exp *models.Experiment, response spawner.Response) error {
	topology := frameworks.NewTensorflowTopology()
	if err := handleCollective(topology)(ctx, r, exp, response); err != nil {
		return err
	}

	p := placementOf(exp)
	resources := topology.PSResources(p.env, p.cluster, p.isDistributed)
	selectors := topology.PSNodeSelectors(p.env, p.cluster, p.isDistributed)
	affinities := topology.PSAffinities(p.env, p.cluster, p.isDistributed)
	tolerations := topology.PSTolerations(p.env, p.cluster, p.isDistributed)

	for i, unit := range response[models.TaskPS] {
		id, err := parseUnitID(unit)
		if err != nil {
			return err
		}
		err = register(ctx, r, registrar.NewJob(id, exp, unit.Definition).
			Role(models.TaskPS).
			Sequence(i).
			Resources(resources[i]).
			NodeSelector(selectors[i]).
			Affinity(affinities[i]).
			Tolerations(tolerations[i]))
		if err != nil {
			return err
		}
	}
	return nil
}

// handleMXNet registers servers with indexed resources but the role-level
// node selector, affinity and tolerations.
func handleMXNet(ctx context.Context, r *registrar.Registrar, exp *models.Experiment, response spawner.Response) error {
	topology := frameworks.NewMXNetTopology()
	if err := handleCollective(topology)(ctx, r, exp, response); err != nil {
		return err
	}

	p := placementOf(exp)
	resources := topology.PSResources(p.env, p.cluster, p.isDistributed)
	server := topology.ServerPlacement(p.env, p.cluster, p.isDistributed)

	for i, unit := range response[models.TaskServer] {
		id, err := parseUnitID(unit)
		if err != nil {
			return err
		}
		err = register(ctx, r, registrar.NewJob(id, exp, unit.Definition).
			Role(models.TaskServer).
			Sequence(i).
			Resources(resources[i]).
			NodeSelector(server.NodeSelector).
			Affinity(server.Affinity).
			Tolerations(server.Tolerations))
		if err != nil {
			return err
		}
	}
	return nil
}

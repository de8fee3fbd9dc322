package scheduler

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"experiment-scheduler/core/images"
	"experiment-scheduler/core/models"
	"experiment-scheduler/core/spawner"
	"experiment-scheduler/core/tokens"
)

const tokenKindExperiment = "experiment"

// StartExperiment marks the experiment scheduled, spawns its topology and
// registers one job per spawned unit. Start failures end in a "failed"
// status; the returned error only reports status persistence problems.
func (s *Scheduler) StartExperiment(ctx context.Context, exp *models.Experiment) error {
	logger := log.WithFields(log.Fields{
		"experiment": exp.UniqueName(),
		"framework":  exp.Spec.Framework(),
	})

	if err := s.experiments.SetStatus(ctx, exp.ID, models.ExperimentStatusScheduled, "", ""); err != nil {
		return errors.Wrapf(err, "failed to schedule experiment %s", exp.UniqueName())
	}

	image := ""
	if exp.Spec != nil && exp.Spec.Build != nil {
		imageName, imageTag, err := s.images.Resolve(exp.BuildJob)
		if err != nil {
			return s.fail(ctx, logger, exp, err)
		}
		image = images.Image(imageName, imageTag)
		logger.Infof("Start experiment with built image %s", image)
	} else {
		logger.Info("Start experiment with default image")
	}

	if err := s.spawnAndRegister(ctx, exp, image); err != nil {
		return s.fail(ctx, logger, exp, err)
	}
	return nil
}

func (s *Scheduler) spawnAndRegister(ctx context.Context, exp *models.Experiment, image string) error {
	framework := exp.Spec.Framework()

	cfg := s.spawnerConfig(exp.Spec)
	cfg.ProjectName = exp.Project.UniqueName
	cfg.ProjectUUID = exp.Project.UUID.String()
	cfg.ExperimentName = exp.UniqueName()
	cfg.ExperimentUUID = exp.UUID.String()
	if exp.Group != nil {
		cfg.GroupName = exp.Group.UniqueName
		cfg.GroupUUID = exp.Group.UUID.String()
	}
	cfg.PersistenceConfig = exp.PersistenceConfig
	cfg.OutputsRefsExperiments = exp.OutputsRefsExperiments
	cfg.OutputsRefsJobs = exp.OutputsRefsJobs
	cfg.OriginalName = exp.OriginalUniqueName
	cfg.CloningStrategy = exp.CloningStrategy
	cfg.Image = image

	// The scope is filled in after selection; spawners read it on Start.
	cfg.TokenScope = &tokens.Scope{}
	sp := s.spawners.New(framework, cfg)

	scope, err := s.tokens.ScopeFor(exp.UserID, tokenKindExperiment, exp.ID)
	if err != nil {
		return err
	}
	*cfg.TokenScope = *scope

	response, err := sp.Start(ctx)
	if err != nil {
		return err
	}
	return handlerFor(framework)(ctx, s.registrar, exp, response)
}

func (s *Scheduler) fail(ctx context.Context, logger *log.Entry, exp *models.Experiment, err error) error {
	failure := Classify(err)
	logger.WithField("failure", failure.Kind).WithError(err).Error("Could not start the experiment")

	if err := s.experiments.SetStatus(ctx, exp.ID, models.ExperimentStatusFailed, failure.Message, failure.Trace); err != nil {
		return errors.Wrapf(err, "failed to mark experiment %s as failed", exp.UniqueName())
	}
	return nil
}

// StopRequest identifies the experiment whose cluster resources are removed
type StopRequest struct {
	ProjectName    string
	ProjectUUID    string
	ExperimentName string
	ExperimentUUID string
	Spec           *models.Specification
	GroupName      string
	GroupUUID      string
}

// NewStopRequest identifies a loaded experiment for StopExperiment
func NewStopRequest(exp *models.Experiment) StopRequest {
	req := StopRequest{
		ProjectName:    exp.Project.UniqueName,
		ProjectUUID:    exp.Project.UUID.String(),
		ExperimentName: exp.UniqueName(),
		ExperimentUUID: exp.UUID.String(),
		Spec:           exp.Spec,
	}
	if exp.Group != nil {
		req.GroupName = exp.Group.UniqueName
		req.GroupUUID = exp.Group.UUID.String()
	}
	return req
}

// StopExperiment tears down the experiment on the cluster. Cluster errors are
// returned unchanged and no status transition is made.
func (s *Scheduler) StopExperiment(ctx context.Context, req StopRequest) (*spawner.StopResult, error) {
	cfg := s.spawnerConfig(req.Spec)
	cfg.ProjectName = req.ProjectName
	cfg.ProjectUUID = req.ProjectUUID
	cfg.ExperimentName = req.ExperimentName
	cfg.ExperimentUUID = req.ExperimentUUID
	cfg.GroupName = req.GroupName
	cfg.GroupUUID = req.GroupUUID

	return s.spawners.New(req.Spec.Framework(), cfg).Stop(ctx)
}

func (s *Scheduler) spawnerConfig(spec *models.Specification) spawner.Config {
	return spawner.Config{
		Spec:       spec,
		Namespace:  s.config.Namespace,
		InCluster:  s.config.InCluster,
		UseSidecar: s.config.UseSidecar,
		Sidecar:    s.config.Sidecar,
	}
}

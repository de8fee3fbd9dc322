package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"experiment-scheduler/core/images"
	"experiment-scheduler/core/models"
	"experiment-scheduler/core/registrar"
	"experiment-scheduler/core/spawner"
	"experiment-scheduler/core/spec"
	"experiment-scheduler/core/tokens"
)

// ExperimentStore loads experiments and records their status transitions
type ExperimentStore interface {
	GetExperiment(ctx context.Context, id int64) (*models.Experiment, error)
	SetStatus(ctx context.Context, experimentID int64, status models.ExperimentLifeCycle, message, traceback string) error
}

// Config holds the cluster settings every spawner is built with
type Config struct {
	Namespace    string
	InCluster    bool
	UseSidecar   bool
	Sidecar      spawner.SidecarConfig
	PollInterval time.Duration
}

// Scheduler starts and stops experiments on the cluster
type Scheduler struct {
	experiments ExperimentStore
	registrar   *registrar.Registrar
	images      images.Resolver
	tokens      tokens.Service
	spawners    spawner.Factory
	config      Config

	queue    *StartQueue
	wake     chan struct{}
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewScheduler creates a new scheduler
func NewScheduler(
	experiments ExperimentStore,
	registrar *registrar.Registrar,
	images images.Resolver,
	tokens tokens.Service,
	spawners spawner.Factory,
	config Config,
) *Scheduler {
	if config.PollInterval <= 0 {
		config.PollInterval = 5 * time.Second
	}
	return &Scheduler{
		experiments: experiments,
		registrar:   registrar,
		images:      images,
		tokens:      tokens,
		spawners:    spawners,
		config:      config,
		queue:       NewStartQueue(),
		wake:        make(chan struct{}, 1),
		stopChan:    make(chan struct{}),
	}
}

// Start runs the start queue worker until the context is done or Stop is called.
// Starts are processed one at a time.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-s.wake:
			s.processQueue(ctx)
		case <-ticker.C:
			s.processQueue(ctx)
		}
	}
}

// Stop stops the queue worker
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

// Enqueue requests a start of the experiment; it returns false if one is already pending
func (s *Scheduler) Enqueue(experimentID int64) bool {
	if !s.queue.Enqueue(experimentID) {
		return false
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// processQueue drains the start queue
func (s *Scheduler) processQueue(ctx context.Context) {
	for {
		id, ok := s.queue.PopExperiment()
		if !ok {
			return
		}
		if err := s.startByID(ctx, id); err != nil {
			log.WithField("experiment", id).WithError(err).Error("Failed to start experiment")
		}
	}
}

func (s *Scheduler) startByID(ctx context.Context, id int64) error {
	exp, err := s.LoadExperiment(ctx, id)
	if err != nil {
		return err
	}

	switch exp.Status {
	case models.ExperimentStatusScheduled, models.ExperimentStatusStarting, models.ExperimentStatusRunning:
		log.WithField("experiment", exp.UniqueName()).Infof("Skipping start of %s experiment", exp.Status)
		return nil
	}

	if exp.Spec == nil {
		parsed, err := spec.ParseSpecification(exp.Config)
		if err != nil {
			return s.fail(ctx, log.WithField("experiment", exp.UniqueName()), exp, err)
		}
		exp.Spec = parsed
	}
	return s.StartExperiment(ctx, exp)
}

// LoadExperiment fetches an experiment and parses its specification when valid
func (s *Scheduler) LoadExperiment(ctx context.Context, id int64) (*models.Experiment, error) {
	exp, err := s.experiments.GetExperiment(ctx, id)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load experiment %d", id)
	}
	if parsed, err := spec.ParseSpecification(exp.Config); err == nil {
		exp.Spec = parsed
	}
	return exp, nil
}

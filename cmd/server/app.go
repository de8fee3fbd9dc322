package main

import (
	"context"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"experiment-scheduler/config"
	"experiment-scheduler/core/images"
	"experiment-scheduler/core/registrar"
	"experiment-scheduler/core/repository"
	"experiment-scheduler/core/scheduler"
	"experiment-scheduler/core/spawner"
	"experiment-scheduler/core/tokens"
)

// app holds the long-lived clients the commands share
type app struct {
	db        *repository.DB
	redis     *redis.Client
	scheduler *scheduler.Scheduler
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	db, err := repository.NewDB(cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to migrate database")
	}
	log.Info("Database connected successfully")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping().Err(); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "failed to connect to redis at %s", cfg.Redis.Addr)
	}

	client, err := kubernetesClient(cfg.Kubernetes)
	if err != nil {
		db.Close()
		redisClient.Close()
		return nil, err
	}

	sched := scheduler.NewScheduler(
		repository.NewExperimentRepository(db),
		registrar.NewRegistrar(repository.NewJobRepository(db)),
		images.NewRegistryResolver(),
		tokens.NewRedisEphemeralTokens(redisClient, cfg.EphemeralTokenTTL),
		spawner.NewKubernetesFactory(client, cfg.Kubernetes.DefaultJobImage),
		scheduler.Config{
			Namespace:  cfg.Kubernetes.Namespace,
			InCluster:  cfg.Kubernetes.InCluster,
			UseSidecar: cfg.Sidecar.Enabled,
			Sidecar: spawner.SidecarConfig{
				Image:         cfg.Sidecar.Image,
				LogLevel:      cfg.Sidecar.LogLevel,
				SleepInterval: cfg.Sidecar.SleepInterval,
			},
			PollInterval: cfg.QueuePollInterval,
		},
	)

	return &app{db: db, redis: redisClient, scheduler: sched}, nil
}

func (a *app) Close() {
	if err := a.redis.Close(); err != nil {
		log.WithError(err).Warn("Failed to close redis client")
	}
	if err := a.db.Close(); err != nil {
		log.WithError(err).Warn("Failed to close database")
	}
}

func kubernetesClient(cfg config.KubernetesConfig) (kubernetes.Interface, error) {
	var (
		restConfig *rest.Config
		err        error
	)
	if cfg.InCluster {
		restConfig, err = rest.InClusterConfig()
	} else {
		restConfig, err = clientcmd.BuildConfigFromFlags("", cfg.Kubeconfig)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load kubernetes configuration")
	}

	client, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create kubernetes client")
	}
	return client, nil
}

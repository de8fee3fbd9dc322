package config

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	// Database
	DatabaseURL string `mapstructure:"database_url"`

	// Server
	ServerPort string `mapstructure:"server_port"`

	Redis      RedisConfig      `mapstructure:"redis"`
	Kubernetes KubernetesConfig `mapstructure:"kubernetes"`
	Sidecar    SidecarConfig    `mapstructure:"sidecar"`
	Log        LogConfig        `mapstructure:"log"`

	EphemeralTokenTTL time.Duration `mapstructure:"ephemeral_token_ttl"`
	QueuePollInterval time.Duration `mapstructure:"queue_poll_interval"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KubernetesConfig struct {
	Namespace       string `mapstructure:"namespace"`
	InCluster       bool   `mapstructure:"in_cluster"`
	Kubeconfig      string `mapstructure:"kubeconfig"`
	DefaultJobImage string `mapstructure:"default_job_image"`
}

type SidecarConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Image         string `mapstructure:"image"`
	LogLevel      string `mapstructure:"log_level"`
	SleepInterval int    `mapstructure:"sleep_interval"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var defaults = map[string]interface{}{
	"database_url":                 "postgres://localhost/experiment_scheduler?sslmode=disable",
	"server_port":                  "8080",
	"redis.addr":                   "localhost:6379",
	"redis.password":               "",
	"redis.db":                     0,
	"kubernetes.namespace":         "default",
	"kubernetes.in_cluster":        false,
	"kubernetes.kubeconfig":        "",
	"kubernetes.default_job_image": "python:3.11-slim",
	"sidecar.enabled":              true,
	"sidecar.image":                "experiment-scheduler/sidecar:latest",
	"sidecar.log_level":            "info",
	"sidecar.sleep_interval":       1,
	"log.level":                    "info",
	"log.format":                   "text",
	"ephemeral_token_ttl":          "1h",
	"queue_poll_interval":          "5s",
}

var envBindings = map[string]string{
	"database_url":                 "DATABASE_URL",
	"server_port":                  "SERVER_PORT",
	"redis.addr":                   "REDIS_ADDR",
	"redis.password":               "REDIS_PASSWORD",
	"redis.db":                     "REDIS_DB",
	"kubernetes.namespace":         "K8S_NAMESPACE",
	"kubernetes.in_cluster":        "K8S_IN_CLUSTER",
	"kubernetes.kubeconfig":        "KUBECONFIG",
	"kubernetes.default_job_image": "DEFAULT_JOB_IMAGE",
	"sidecar.enabled":              "SIDECAR_ENABLED",
	"sidecar.image":                "SIDECAR_IMAGE",
	"sidecar.log_level":            "SIDECAR_LOG_LEVEL",
	"sidecar.sleep_interval":       "SIDECAR_SLEEP_INTERVAL",
	"log.level":                    "LOG_LEVEL",
	"log.format":                   "LOG_FORMAT",
	"ephemeral_token_ttl":          "EPHEMERAL_TOKEN_TTL",
	"queue_poll_interval":          "QUEUE_POLL_INTERVAL",
}

// Load loads configuration from defaults, an optional config file and
// environment variables, in increasing order of precedence
func Load(configFile string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, errors.WithStack(err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", configFile)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode configuration")
	}
	return &cfg, nil
}

package spec

import (
	"experiment-scheduler/core/models"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const experimentKind = "experiment"

// ParseSpecification parses a YAML experiment specification
func ParseSpecification(specYAML string) (*models.Specification, error) {
	var s models.Specification
	if err := yaml.Unmarshal([]byte(specYAML), &s); err != nil {
		return nil, errors.Wrap(err, "failed to parse YAML")
	}

	if s.Kind == "" {
		s.Kind = experimentKind
	}
	if s.Kind != experimentKind {
		return nil, errors.Errorf("unsupported specification kind %q", s.Kind)
	}
	if s.Build != nil && s.Build.Image == "" {
		return nil, errors.New("build section requires an image")
	}

	if s.Environment != nil {
		for name, cfg := range map[string]*models.DistributedConfig{
			"tensorflow": s.Environment.Tensorflow,
			"horovod":    s.Environment.Horovod,
			"mxnet":      s.Environment.MXNet,
			"pytorch":    s.Environment.Pytorch,
		} {
			if err := validateDistributed(name, cfg); err != nil {
				return nil, err
			}
		}
	}

	return &s, nil
}

func validateDistributed(name string, cfg *models.DistributedConfig) error {
	if cfg == nil {
		return nil
	}
	if cfg.NWorkers < 0 || cfg.NPS < 0 {
		return errors.Errorf("%s: replica counts must not be negative", name)
	}
	if (name == "horovod" || name == "pytorch") && (cfg.NPS > 0 || cfg.DefaultPS != nil || len(cfg.PS) > 0) {
		return errors.Errorf("%s: parameter servers are not supported", name)
	}
	for _, w := range cfg.Worker {
		if w.Index < 0 || w.Index >= cfg.NWorkers {
			return errors.Errorf("%s: worker index %d out of range [0, %d)", name, w.Index, cfg.NWorkers)
		}
	}
	for _, p := range cfg.PS {
		if p.Index < 0 || p.Index >= cfg.NPS {
			return errors.Errorf("%s: ps index %d out of range [0, %d)", name, p.Index, cfg.NPS)
		}
	}
	return nil
}

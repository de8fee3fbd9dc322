package spawner

import (
	"context"

	log "github.com/sirupsen/logrus"
	v1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"experiment-scheduler/core/models"
	"experiment-scheduler/training/frameworks"
)

// DistributedSpawner runs a master plus the worker and ps/server fan-out of a
// framework topology. Units find each other through a headless service.
type DistributedSpawner struct {
	*BaseSpawner
	topology frameworks.Topology
}

func NewDistributedSpawner(base *BaseSpawner, topology frameworks.Topology) *DistributedSpawner {
	return &DistributedSpawner{BaseSpawner: base, topology: topology}
}

func (s *DistributedSpawner) Framework() models.Framework {
	return s.topology.Framework()
}

func (s *DistributedSpawner) Start(ctx context.Context) (Response, error) {
	if err := s.checkVolumes(ctx); err != nil {
		return nil, err
	}

	spec := s.config.Spec
	cluster, isDistributed := spec.ClusterDef()
	var env *models.Environment
	if spec != nil {
		env = spec.Environment
	}

	subdomain := ""
	if isDistributed {
		svc, err := s.createService(ctx)
		if err != nil {
			return nil, err
		}
		subdomain = svc.Name
	}
	hosts := s.hosts(cluster, isDistributed, subdomain)

	response := Response{}
	master, err := s.createUnit(ctx, unitSpec{
		role:      models.TaskMaster,
		placement: spec.MasterPlacement(),
		env:       s.topology.Environment(hosts, models.TaskMaster, 0),
		subdomain: subdomain,
	})
	if err != nil {
		return response, err
	}
	response[models.TaskMaster] = []Unit{*master}

	if !isDistributed {
		return response, nil
	}

	workers := placements(cluster[models.TaskWorker],
		s.topology.WorkerResources(env, cluster, isDistributed),
		s.topology.WorkerNodeSelectors(env, cluster, isDistributed),
		s.topology.WorkerAffinities(env, cluster, isDistributed),
		s.topology.WorkerTolerations(env, cluster, isDistributed))
	if err := s.createRole(ctx, response, models.TaskWorker, workers, hosts, subdomain); err != nil {
		return response, err
	}

	ps, ok := s.topology.(frameworks.PSResolver)
	if !ok {
		return response, nil
	}
	for _, role := range []models.TaskType{models.TaskPS, models.TaskServer} {
		if cluster[role] == 0 {
			continue
		}
		units := placements(cluster[role],
			ps.PSResources(env, cluster, isDistributed),
			ps.PSNodeSelectors(env, cluster, isDistributed),
			ps.PSAffinities(env, cluster, isDistributed),
			ps.PSTolerations(env, cluster, isDistributed))
		if shared, ok := s.topology.(rolePlacer); ok && role == models.TaskServer {
			sharePlacement(units, shared.ServerPlacement(env, cluster, isDistributed))
		}
		if err := s.createRole(ctx, response, role, units, hosts, subdomain); err != nil {
			return response, err
		}
	}
	return response, nil
}

func (s *DistributedSpawner) createRole(
	ctx context.Context,
	response Response,
	role models.TaskType,
	units []models.Placement,
	hosts frameworks.Hosts,
	subdomain string,
) error {
	for i, p := range units {
		unit, err := s.createUnit(ctx, unitSpec{
			role:      role,
			index:     i,
			placement: p,
			env:       s.topology.Environment(hosts, role, i),
			subdomain: subdomain,
		})
		if err != nil {
			return err
		}
		response[role] = append(response[role], *unit)
	}
	return nil
}

func (s *DistributedSpawner) createService(ctx context.Context) (*v1.Service, error) {
	selector := map[string]string{LabelExperimentUUID: s.config.ExperimentUUID}
	svc := &v1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      s.resourceName(),
			Namespace: s.config.Namespace,
			Labels:    s.experimentLabels(),
		},
		Spec: v1.ServiceSpec{
			ClusterIP:                v1.ClusterIPNone,
			Selector:                 selector,
			PublishNotReadyAddresses: true,
		},
	}
	created, err := s.client.CoreV1().Services(s.config.Namespace).Create(ctx, svc, metav1.CreateOptions{})
	if err != nil {
		return nil, err
	}
	log.WithField("experiment", s.config.ExperimentName).Debugf("Created headless service %s", created.Name)
	return created, nil
}

// hosts returns the stable addresses every unit is reachable at
func (s *DistributedSpawner) hosts(cluster models.Cluster, isDistributed bool, subdomain string) frameworks.Hosts {
	address := func(role models.TaskType, i int) string {
		name := s.unitName(role, i)
		if subdomain == "" {
			return name
		}
		return name + "." + subdomain
	}

	hosts := frameworks.Hosts{models.TaskMaster: {address(models.TaskMaster, 0)}}
	if !isDistributed {
		return hosts
	}
	for _, role := range []models.TaskType{models.TaskWorker, models.TaskPS, models.TaskServer} {
		for i := 0; i < cluster[role]; i++ {
			hosts[role] = append(hosts[role], address(role, i))
		}
	}
	return hosts
}

// rolePlacer is a topology whose server units share one role-level
// node selector, affinity and toleration set
type rolePlacer interface {
	ServerPlacement(env *models.Environment, cluster models.Cluster, isDistributed bool) models.Placement
}

// sharePlacement keeps the indexed resources and applies the role-level rest
func sharePlacement(units []models.Placement, shared models.Placement) {
	for i := range units {
		units[i].NodeSelector = shared.NodeSelector
		units[i].Affinity = shared.Affinity
		units[i].Tolerations = shared.Tolerations
	}
}

// placements zips the per-index query results; a missing index leaves that attribute unset
func placements(
	n int,
	resources map[int]*models.PodResources,
	selectors map[int]map[string]string,
	affinities map[int]models.Affinity,
	tolerations map[int][]models.Toleration,
) []models.Placement {
	result := make([]models.Placement, n)
	for i := range result {
		result[i] = models.Placement{
			Resources:    resources[i],
			NodeSelector: selectors[i],
			Affinity:     affinities[i],
			Tolerations:  tolerations[i],
		}
	}
	return result
}

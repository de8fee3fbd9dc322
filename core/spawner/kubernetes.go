package spawner

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	v1 "k8s.io/api/core/v1"
	k8s_errors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/kubernetes"

	"experiment-scheduler/core/models"
)

const (
	dataMountPath    = "/data"
	outputsMountPath = "/outputs"
	maxNamePrefix    = 40
	uuidNamePiece    = 8
)

var invalidNameChars = regexp.MustCompile(`[^a-z0-9-]+`)

// BaseSpawner runs an experiment as a single master pod
type BaseSpawner struct {
	client       kubernetes.Interface
	config       Config
	defaultImage string
}

func NewBaseSpawner(client kubernetes.Interface, config Config, defaultImage string) *BaseSpawner {
	return &BaseSpawner{client: client, config: config, defaultImage: defaultImage}
}

func (s *BaseSpawner) Framework() models.Framework {
	return models.FrameworkBase
}

func (s *BaseSpawner) Start(ctx context.Context) (Response, error) {
	if err := s.checkVolumes(ctx); err != nil {
		return nil, err
	}
	unit, err := s.createUnit(ctx, unitSpec{
		role:      models.TaskMaster,
		placement: s.config.Spec.MasterPlacement(),
	})
	if err != nil {
		return nil, err
	}
	return Response{models.TaskMaster: {*unit}}, nil
}

// Stop deletes every pod and service labelled with the experiment
func (s *BaseSpawner) Stop(ctx context.Context) (*StopResult, error) {
	selector := labels.SelectorFromSet(labels.Set{LabelExperimentUUID: s.config.ExperimentUUID}).String()
	result := &StopResult{}

	pods, err := s.client.CoreV1().Pods(s.config.Namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		return nil, err
	}
	for _, pod := range pods.Items {
		err := s.client.CoreV1().Pods(s.config.Namespace).Delete(ctx, pod.Name, metav1.DeleteOptions{})
		if k8s_errors.IsNotFound(err) {
			continue
		}
		if err != nil {
			return result, err
		}
		result.DeletedPods = append(result.DeletedPods, pod.Name)
	}

	services, err := s.client.CoreV1().Services(s.config.Namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		return result, err
	}
	for _, svc := range services.Items {
		err := s.client.CoreV1().Services(s.config.Namespace).Delete(ctx, svc.Name, metav1.DeleteOptions{})
		if k8s_errors.IsNotFound(err) {
			continue
		}
		if err != nil {
			return result, err
		}
		result.DeletedServices = append(result.DeletedServices, svc.Name)
	}

	log.WithField("experiment", s.config.ExperimentName).
		Infof("Stopped experiment: %d pods, %d services deleted", len(result.DeletedPods), len(result.DeletedServices))
	return result, nil
}

func (s *BaseSpawner) claims() []string {
	pc := s.config.PersistenceConfig
	if pc == nil {
		return nil
	}
	claims := append([]string{}, pc.Data...)
	if pc.Outputs != "" {
		claims = append(claims, pc.Outputs)
	}
	return claims
}

// checkVolumes verifies every persistence claim exists before anything is created
func (s *BaseSpawner) checkVolumes(ctx context.Context) error {
	for _, claim := range s.claims() {
		_, err := s.client.CoreV1().PersistentVolumeClaims(s.config.Namespace).Get(ctx, claim, metav1.GetOptions{})
		if k8s_errors.IsNotFound(err) {
			return errors.WithStack(&VolumeNotFoundError{Claim: claim})
		}
		if err != nil {
			return err
		}
	}
	return nil
}

type unitSpec struct {
	role      models.TaskType
	index     int
	placement models.Placement
	env       map[string]string
	subdomain string
}

func (s *BaseSpawner) createUnit(ctx context.Context, spec unitSpec) (*Unit, error) {
	pod, err := s.buildPod(spec)
	if err != nil {
		return nil, err
	}

	created, err := s.client.CoreV1().Pods(s.config.Namespace).Create(ctx, pod, metav1.CreateOptions{})
	if err != nil {
		return nil, err
	}

	definition, err := json.Marshal(created)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode pod %s", created.Name)
	}

	log.WithFields(log.Fields{
		"experiment": s.config.ExperimentName,
		"role":       spec.role,
		"job_uuid":   created.Labels[LabelJobUUID],
	}).Debugf("Created pod %s", created.Name)

	return &Unit{Name: created.Name, Labels: created.Labels, Definition: definition}, nil
}

func (s *BaseSpawner) buildPod(spec unitSpec) (*v1.Pod, error) {
	affinity, err := toAffinity(spec.placement.Affinity)
	if err != nil {
		return nil, err
	}

	env := s.baseEnv(spec.role, spec.index)
	for k, v := range spec.env {
		env[k] = v
	}

	volumes, mounts := s.volumes()
	containers := []v1.Container{{
		Name:         mainContainerName,
		Image:        s.image(),
		Command:      s.command(),
		Env:          toEnvVars(env),
		Resources:    toResourceRequirements(spec.placement.Resources),
		VolumeMounts: mounts,
	}}
	if s.config.UseSidecar {
		containers = append(containers, s.sidecar())
	}

	name := s.unitName(spec.role, spec.index)
	pod := &v1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: s.config.Namespace,
			Labels:    s.labels(spec.role, spec.index, uuid.New().String()),
		},
		Spec: v1.PodSpec{
			RestartPolicy: v1.RestartPolicyNever,
			Containers:    containers,
			Volumes:       volumes,
			NodeSelector:  spec.placement.NodeSelector,
			Affinity:      affinity,
			Tolerations:   toTolerations(spec.placement.Tolerations),
		},
	}
	if spec.subdomain != "" {
		pod.Spec.Hostname = name
		pod.Spec.Subdomain = spec.subdomain
	}
	return pod, nil
}

func (s *BaseSpawner) labels(role models.TaskType, index int, jobUUID string) map[string]string {
	l := s.experimentLabels()
	l[LabelJobUUID] = jobUUID
	l[LabelRole] = string(role)
	l[LabelTaskIndex] = strconv.Itoa(index)
	return l
}

func (s *BaseSpawner) experimentLabels() map[string]string {
	l := map[string]string{
		LabelApp:            appName,
		LabelExperimentUUID: s.config.ExperimentUUID,
		LabelProjectUUID:    s.config.ProjectUUID,
	}
	if s.config.GroupUUID != "" {
		l[LabelGroupUUID] = s.config.GroupUUID
	}
	return l
}

func (s *BaseSpawner) baseEnv(role models.TaskType, index int) map[string]string {
	env := map[string]string{
		"EXPERIMENT_NAME": s.config.ExperimentName,
		"EXPERIMENT_UUID": s.config.ExperimentUUID,
		"PROJECT_NAME":    s.config.ProjectName,
		"TASK_TYPE":       string(role),
		"TASK_INDEX":      strconv.Itoa(index),
		"IN_CLUSTER":      strconv.FormatBool(s.config.InCluster),
	}
	if s.config.GroupName != "" {
		env["GROUP_NAME"] = s.config.GroupName
	}
	if s.config.OriginalName != "" {
		env["ORIGINAL_EXPERIMENT"] = s.config.OriginalName
		env["CLONING_STRATEGY"] = string(s.config.CloningStrategy)
	}
	if len(s.config.OutputsRefsExperiments) > 0 {
		env["OUTPUTS_REFS_EXPERIMENTS"] = strings.Join(s.config.OutputsRefsExperiments, ",")
	}
	if len(s.config.OutputsRefsJobs) > 0 {
		env["OUTPUTS_REFS_JOBS"] = strings.Join(s.config.OutputsRefsJobs, ",")
	}
	if pc := s.config.PersistenceConfig; pc != nil {
		var paths []string
		for _, claim := range pc.Data {
			paths = append(paths, dataMountPath+"/"+claim)
		}
		if len(paths) > 0 {
			env["DATA_PATHS"] = strings.Join(paths, ",")
		}
		if pc.Outputs != "" {
			env["OUTPUTS_PATH"] = outputsMountPath + "/" + pc.Outputs
		}
	}
	return env
}

func (s *BaseSpawner) volumes() ([]v1.Volume, []v1.VolumeMount) {
	pc := s.config.PersistenceConfig
	if pc == nil {
		return nil, nil
	}

	var volumes []v1.Volume
	var mounts []v1.VolumeMount
	add := func(claim, path string, readOnly bool) {
		volumeName := sanitizeName(claim)
		volumes = append(volumes, v1.Volume{
			Name: volumeName,
			VolumeSource: v1.VolumeSource{
				PersistentVolumeClaim: &v1.PersistentVolumeClaimVolumeSource{ClaimName: claim, ReadOnly: readOnly},
			},
		})
		mounts = append(mounts, v1.VolumeMount{Name: volumeName, MountPath: path, ReadOnly: readOnly})
	}
	for _, claim := range pc.Data {
		add(claim, dataMountPath+"/"+claim, true)
	}
	if pc.Outputs != "" {
		add(pc.Outputs, outputsMountPath+"/"+pc.Outputs, false)
	}
	return volumes, mounts
}

func (s *BaseSpawner) sidecar() v1.Container {
	env := map[string]string{
		"EXPERIMENT_UUID": s.config.ExperimentUUID,
		"CONTAINER_NAME":  mainContainerName,
	}
	if s.config.TokenScope != nil {
		env["SIDECAR_TOKEN"] = s.config.TokenScope.Token
		env["SIDECAR_TOKEN_SCOPE"] = s.config.TokenScope.Scope
	}
	return v1.Container{
		Name:  sidecarContainerName,
		Image: s.config.Sidecar.Image,
		Args: []string{
			"--log-level", s.config.Sidecar.LogLevel,
			"--sleep-interval", strconv.Itoa(s.config.Sidecar.SleepInterval),
		},
		Env: toEnvVars(env),
	}
}

func (s *BaseSpawner) image() string {
	if s.config.Image != "" {
		return s.config.Image
	}
	return s.defaultImage
}

func (s *BaseSpawner) command() []string {
	if s.config.Spec == nil || s.config.Spec.Run == nil || s.config.Spec.Run.Cmd == "" {
		return nil
	}
	return []string{"/bin/sh", "-c", s.config.Spec.Run.Cmd}
}

// resourceName is the sanitized experiment name. Long names are cut in the
// project part so the experiment id and a short uuid piece always remain.
func (s *BaseSpawner) resourceName() string {
	prefix := sanitizeName(s.config.ExperimentName)
	if prefix == "" {
		prefix = "experiment"
	}
	if len(prefix) <= maxNamePrefix {
		return prefix
	}

	var suffix []string
	if i := strings.LastIndex(s.config.ExperimentName, "."); i >= 0 {
		if id := sanitizeName(s.config.ExperimentName[i+1:]); id != "" && len(id) <= maxNamePrefix/2 {
			suffix = append(suffix, id)
		}
	}
	if short := sanitizeName(strings.ReplaceAll(s.config.ExperimentUUID, "-", "")); short != "" {
		if len(short) > uuidNamePiece {
			short = short[:uuidNamePiece]
		}
		suffix = append(suffix, short)
	}
	tail := strings.Join(suffix, "-")
	if tail == "" {
		return strings.Trim(prefix[:maxNamePrefix], "-")
	}

	head := strings.Trim(prefix[:maxNamePrefix-len(tail)-1], "-")
	if head == "" {
		return tail
	}
	return head + "-" + tail
}

func (s *BaseSpawner) unitName(role models.TaskType, index int) string {
	return fmt.Sprintf("%s-%s-%d", s.resourceName(), role, index)
}

func sanitizeName(name string) string {
	return strings.Trim(invalidNameChars.ReplaceAllString(strings.ToLower(name), "-"), "-")
}

package scheduler

import (
	"fmt"
	"go/ast"
	"reflect"

	"github.com/pkg/errors"
	k8s_errors "k8s.io/apimachinery/pkg/api/errors"

	"experiment-scheduler/core/images"
	"experiment-scheduler/core/spawner"
)

// FailureKind is the category of a failed start
type FailureKind int

const (
	FailureUnclassified FailureKind = iota
	FailureClusterAPI
	FailureVolumeDefinition
	FailureImageResolution
)

func (k FailureKind) String() string {
	switch k {
	case FailureClusterAPI:
		return "cluster_api"
	case FailureVolumeDefinition:
		return "volume_definition"
	case FailureImageResolution:
		return "image_resolution"
	default:
		return "unclassified"
	}
}

const (
	messageClusterAPI       = "Could not start the experiment, encountered a Kubernetes ApiException."
	messageVolumeDefinition = "Could not start the experiment, encountered a volume definition problem, %s."
	messageImageResolution  = "Image info was not found."
	messageUnclassified     = "Could not start the experiment encountered an %s exception."
)

// Failure is the classified outcome of a failed start
type Failure struct {
	Kind    FailureKind
	Message string
	// Trace is the full error chain with stack traces
	Trace string
}

// Classify maps a start error to its failure category. It returns nil for a nil error.
func Classify(err error) *Failure {
	if err == nil {
		return nil
	}
	failure := &Failure{Trace: fmt.Sprintf("%+v", err)}

	var volumeErr *spawner.VolumeNotFoundError
	var imageErr *images.ImageInfoError
	var apiStatus k8s_errors.APIStatus
	switch {
	case errors.As(err, &volumeErr):
		failure.Kind = FailureVolumeDefinition
		failure.Message = fmt.Sprintf(messageVolumeDefinition, volumeErr)
	case errors.As(err, &imageErr):
		failure.Kind = FailureImageResolution
		failure.Message = messageImageResolution
	case errors.As(err, &apiStatus):
		failure.Kind = FailureClusterAPI
		failure.Message = messageClusterAPI
	default:
		failure.Kind = FailureUnclassified
		failure.Message = fmt.Sprintf(messageUnclassified, errorName(err))
	}
	return failure
}

const unexpectedErrorName = "unexpected"

// errorName names the innermost exported error type of the chain, e.g.
// "SyntaxError" for a wrapped *json.SyntaxError. Chains made only of
// unexported types are reported as unexpected.
func errorName(err error) string {
	name := unexpectedErrorName
	for e := err; e != nil; e = errors.Unwrap(e) {
		if n := exportedTypeName(e); n != "" {
			name = n
		}
	}
	return name
}

func exportedTypeName(err error) string {
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if !ast.IsExported(t.Name()) {
		return ""
	}
	return t.Name()
}

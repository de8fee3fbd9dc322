package images

import (
	"fmt"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/pkg/errors"

	"experiment-scheduler/core/models"
)

// ImageInfoError is returned when a build does not name a usable image
type ImageInfoError struct {
	BuildID int64
	Reason  string
}

func (e *ImageInfoError) Error() string {
	return fmt.Sprintf("image info was not found for build %d: %s", e.BuildID, e.Reason)
}

// Resolver turns a build job into the image reference units are started from
type Resolver interface {
	Resolve(build *models.BuildJob) (imageName, imageTag string, err error)
}

// RegistryResolver validates build images as registry references
type RegistryResolver struct {
	// DefaultTag is used for references without a tag or digest
	DefaultTag string
}

func NewRegistryResolver() *RegistryResolver {
	return &RegistryResolver{DefaultTag: name.DefaultTag}
}

func (r *RegistryResolver) Resolve(build *models.BuildJob) (string, string, error) {
	if build == nil {
		return "", "", errors.WithStack(&ImageInfoError{Reason: "build is missing"})
	}
	if build.DockerImage == "" {
		return "", "", errors.WithStack(&ImageInfoError{BuildID: build.ID, Reason: "build has no image"})
	}

	ref, err := name.ParseReference(build.DockerImage, name.WithDefaultTag(r.DefaultTag))
	if err != nil {
		return "", "", errors.WithStack(&ImageInfoError{
			BuildID: build.ID,
			Reason:  fmt.Sprintf("failed to parse image reference %q: %v", build.DockerImage, err),
		})
	}

	switch ref := ref.(type) {
	case name.Tag:
		return ref.Context().Name(), ref.TagStr(), nil
	case name.Digest:
		return ref.Context().Name(), ref.DigestStr(), nil
	}
	return ref.Context().Name(), ref.Identifier(), nil
}

// Image joins a resolved name and tag into a pullable reference
func Image(imageName, imageTag string) string {
	if imageTag == "" {
		return imageName
	}
	if _, err := name.NewDigest(imageName + "@" + imageTag); err == nil {
		return imageName + "@" + imageTag
	}
	return imageName + ":" + imageTag
}

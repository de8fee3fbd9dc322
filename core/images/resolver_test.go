package images

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"experiment-scheduler/core/models"
)

func TestRegistryResolver_Resolve(t *testing.T) {
	r := NewRegistryResolver()

	imageName, tag, err := r.Resolve(&models.BuildJob{ID: 1, DockerImage: "registry.local:5000/alice/mnist:b12"})
	require.NoError(t, err)
	assert.Equal(t, "registry.local:5000/alice/mnist", imageName)
	assert.Equal(t, "b12", tag)
	assert.Equal(t, "registry.local:5000/alice/mnist:b12", Image(imageName, tag))

	imageName, tag, err = r.Resolve(&models.BuildJob{ID: 2, DockerImage: "gcr.io/proj/trainer"})
	require.NoError(t, err)
	assert.Equal(t, "gcr.io/proj/trainer", imageName)
	assert.Equal(t, "latest", tag)
}

func TestRegistryResolver_Digest(t *testing.T) {
	digest := "sha256:" + "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	imageName, tag, err := NewRegistryResolver().Resolve(&models.BuildJob{DockerImage: "gcr.io/proj/trainer@" + digest})
	require.NoError(t, err)
	assert.Equal(t, digest, tag)
	assert.Equal(t, "gcr.io/proj/trainer@"+digest, Image(imageName, tag))
}

func TestRegistryResolver_Failures(t *testing.T) {
	r := NewRegistryResolver()
	for _, build := range []*models.BuildJob{
		nil,
		{ID: 3},
		{ID: 4, DockerImage: "UPPER/case::bad"},
	} {
		_, _, err := r.Resolve(build)
		require.Error(t, err)
		var infoErr *ImageInfoError
		assert.True(t, errors.As(err, &infoErr))
	}
}

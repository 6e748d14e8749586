package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rolloutkit/rolloutkit/pkg/apis/rollouts/v1alpha1"
)

func TestComputePodTemplateHashIsStable(t *testing.T) {
	template := v1alpha1.PodTemplate{
		Image: "nginx:1.25",
		Env:   map[string]string{"A": "1", "B": "2"},
	}
	other := v1alpha1.PodTemplate{
		Image: "nginx:1.25",
		Env:   map[string]string{"B": "2", "A": "1"},
	}
	assert.Equal(t, ComputePodTemplateHash(&template), ComputePodTemplateHash(&other))
}

func TestComputePodTemplateHashDetectsChange(t *testing.T) {
	template := v1alpha1.PodTemplate{Image: "nginx:1.25"}
	oldHash := ComputePodTemplateHash(&template)

	template.Image = "nginx:1.26"
	assert.NotEqual(t, oldHash, ComputePodTemplateHash(&template))

	template.Image = "nginx:1.25"
	assert.Equal(t, oldHash, ComputePodTemplateHash(&template))
}

func TestComputePodTemplateHashIgnoresAliasing(t *testing.T) {
	template := v1alpha1.PodTemplate{
		Image:   "nginx:1.25",
		Command: []string{"/entrypoint.sh"},
	}
	snapshot := template.DeepCopy()
	template.Command[0] = "/other.sh"
	assert.NotEqual(t, ComputePodTemplateHash(&template), ComputePodTemplateHash(snapshot))
}

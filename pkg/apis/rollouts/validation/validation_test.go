package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/apimachinery/pkg/util/validation/field"
	"k8s.io/utils/ptr"

	"github.com/rolloutkit/rolloutkit/pkg/apis/rollouts/v1alpha1"
)

func validSpec() *v1alpha1.RolloutSpec {
	maxSurge := intstr.FromInt32(1)
	maxUnavailable := intstr.FromInt32(0)
	return &v1alpha1.RolloutSpec{
		Replicas: ptr.To[int32](4),
		Template: v1alpha1.PodTemplate{Image: "nginx:1.25"},
		Strategy: v1alpha1.RolloutStrategy{
			RollingUpdate: &v1alpha1.RollingUpdateStrategy{
				MaxSurge:       &maxSurge,
				MaxUnavailable: &maxUnavailable,
			},
		},
	}
}

func TestValidateRolloutSpec(t *testing.T) {
	t.Run("valid spec", func(t *testing.T) {
		allErrs := ValidateRolloutSpec(validSpec(), field.NewPath("spec"))
		assert.Empty(t, allErrs)
	})

	t.Run("negative replicas", func(t *testing.T) {
		spec := validSpec()
		spec.Replicas = ptr.To[int32](-1)
		allErrs := ValidateRolloutSpec(spec, field.NewPath("spec"))
		assert.Len(t, allErrs, 1)
		assert.Equal(t, "spec.replicas", allErrs[0].Field)
	})

	t.Run("missing image", func(t *testing.T) {
		spec := validSpec()
		spec.Template.Image = ""
		allErrs := ValidateRolloutSpec(spec, field.NewPath("spec"))
		assert.Len(t, allErrs, 1)
		assert.Equal(t, "spec.template.image", allErrs[0].Field)
	})

	t.Run("multiple strategies", func(t *testing.T) {
		spec := validSpec()
		spec.Strategy.Recreate = &v1alpha1.RecreateStrategy{}
		allErrs := ValidateRolloutSpec(spec, field.NewPath("spec"))
		assert.Len(t, allErrs, 1)
		assert.Contains(t, allErrs[0].Detail, InvalidStrategyMessage)
	})

	t.Run("both fenceposts zero", func(t *testing.T) {
		spec := validSpec()
		zero := intstr.FromInt32(0)
		spec.Strategy.RollingUpdate.MaxSurge = &zero
		allErrs := ValidateRolloutSpec(spec, field.NewPath("spec"))
		assert.Len(t, allErrs, 1)
		assert.Contains(t, allErrs[0].Detail, InvalidMaxSurgeMaxUnavailable)
	})

	t.Run("both fencepost percentages zero", func(t *testing.T) {
		spec := validSpec()
		zero := intstr.FromString("0%")
		spec.Strategy.RollingUpdate.MaxSurge = &zero
		spec.Strategy.RollingUpdate.MaxUnavailable = &zero
		allErrs := ValidateRolloutSpec(spec, field.NewPath("spec"))
		assert.Len(t, allErrs, 1)
	})

	t.Run("malformed percentage", func(t *testing.T) {
		spec := validSpec()
		bad := intstr.FromString("25 percent")
		spec.Strategy.RollingUpdate.MaxSurge = &bad
		allErrs := ValidateRolloutSpec(spec, field.NewPath("spec"))
		assert.Len(t, allErrs, 1)
		assert.Equal(t, "spec.strategy.rollingUpdate.maxSurge", allErrs[0].Field)
	})

	t.Run("recreate ignores rolling update fenceposts", func(t *testing.T) {
		spec := validSpec()
		spec.Strategy.RollingUpdate = nil
		spec.Strategy.Recreate = &v1alpha1.RecreateStrategy{}
		allErrs := ValidateRolloutSpec(spec, field.NewPath("spec"))
		assert.Empty(t, allErrs)
	})

	t.Run("minReadySeconds beyond deadline", func(t *testing.T) {
		spec := validSpec()
		spec.MinReadySeconds = 700
		allErrs := ValidateRolloutSpec(spec, field.NewPath("spec"))
		assert.Len(t, allErrs, 1)
		assert.Equal(t, "spec.minReadySeconds", allErrs[0].Field)
	})
}

package validation

import (
	"strings"

	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/apimachinery/pkg/util/validation/field"

	"github.com/rolloutkit/rolloutkit/pkg/apis/rollouts/v1alpha1"
	"github.com/rolloutkit/rolloutkit/utils/defaults"
)

const (
	// MissingFieldMessage the message to indicate a rollout is missing a field
	MissingFieldMessage = "Rollout has missing field '%s'"
	// InvalidStrategyMessage indicates that multiple strategies can not be listed
	InvalidStrategyMessage = "Multiple strategies can not be listed"
	// InvalidMaxSurgeMaxUnavailable indicates both maxSurge and maxUnavailable can not be zero
	InvalidMaxSurgeMaxUnavailable = "MaxSurge and MaxUnavailable both can not be zero"
	// InvalidIntOrPercentMessage indicates an intstr value is neither a non-negative
	// integer nor a percentage
	InvalidIntOrPercentMessage = "must be a non-negative integer or percentage (e.g. '25%')"
	// InvalidMinReadySecondsMessage indicates minReadySeconds is larger than the progress deadline
	InvalidMinReadySecondsMessage = "must be less than progressDeadlineSeconds"
)

// ValidateRolloutSpec checks the structural invariants of a rollout spec.
// Callers must reject a spec with a non-empty error list before handing it
// to the reconciler.
func ValidateRolloutSpec(spec *v1alpha1.RolloutSpec, fldPath *field.Path) field.ErrorList {
	allErrs := field.ErrorList{}

	if spec.Replicas != nil && *spec.Replicas < 0 {
		allErrs = append(allErrs, field.Invalid(fldPath.Child("replicas"), *spec.Replicas, "must be greater than or equal to 0"))
	}
	if spec.MinReadySeconds < 0 {
		allErrs = append(allErrs, field.Invalid(fldPath.Child("minReadySeconds"), spec.MinReadySeconds, "must be greater than or equal to 0"))
	}
	if spec.MinReadySeconds >= defaults.GetProgressDeadlineSecondsOrDefault(spec) {
		allErrs = append(allErrs, field.Invalid(fldPath.Child("minReadySeconds"), spec.MinReadySeconds, InvalidMinReadySecondsMessage))
	}
	if spec.RevisionHistoryLimit != nil && *spec.RevisionHistoryLimit < 0 {
		allErrs = append(allErrs, field.Invalid(fldPath.Child("revisionHistoryLimit"), *spec.RevisionHistoryLimit, "must be greater than or equal to 0"))
	}
	if spec.ProgressDeadlineSeconds != nil && *spec.ProgressDeadlineSeconds <= 0 {
		allErrs = append(allErrs, field.Invalid(fldPath.Child("progressDeadlineSeconds"), *spec.ProgressDeadlineSeconds, "must be greater than 0"))
	}

	allErrs = append(allErrs, validateTemplate(&spec.Template, fldPath.Child("template"))...)
	allErrs = append(allErrs, validateStrategy(spec, fldPath.Child("strategy"))...)
	return allErrs
}

func validateTemplate(template *v1alpha1.PodTemplate, fldPath *field.Path) field.ErrorList {
	allErrs := field.ErrorList{}
	if template.Image == "" {
		allErrs = append(allErrs, field.Required(fldPath.Child("image"), "image is required"))
	}
	return allErrs
}

func validateStrategy(spec *v1alpha1.RolloutSpec, fldPath *field.Path) field.ErrorList {
	allErrs := field.ErrorList{}
	strategy := spec.Strategy
	if strategy.Recreate != nil && strategy.RollingUpdate != nil {
		allErrs = append(allErrs, field.Invalid(fldPath, "recreate,rollingUpdate", InvalidStrategyMessage))
		return allErrs
	}
	if strategy.RollingUpdate != nil || (strategy.Recreate == nil && strategy.RollingUpdate == nil) {
		allErrs = append(allErrs, validateRollingUpdate(spec, fldPath.Child("rollingUpdate"))...)
	}
	return allErrs
}

func validateRollingUpdate(spec *v1alpha1.RolloutSpec, fldPath *field.Path) field.ErrorList {
	allErrs := field.ErrorList{}

	maxSurge := defaults.GetMaxSurgeOrDefault(spec)
	maxUnavailable := defaults.GetMaxUnavailableOrDefault(spec)
	allErrs = append(allErrs, validateIntOrPercent(maxSurge, fldPath.Child("maxSurge"))...)
	allErrs = append(allErrs, validateIntOrPercent(maxUnavailable, fldPath.Child("maxUnavailable"))...)
	if len(allErrs) > 0 {
		return allErrs
	}

	// Both resolving to zero would make progress impossible. Percentage
	// values can still round maxUnavailable down to zero at small replica
	// counts; the strategy engine compensates for that case.
	if isZeroValue(maxSurge) && isZeroValue(maxUnavailable) {
		allErrs = append(allErrs, field.Invalid(fldPath.Child("maxUnavailable"), *maxUnavailable, InvalidMaxSurgeMaxUnavailable))
	}
	return allErrs
}

func validateIntOrPercent(value *intstr.IntOrString, fldPath *field.Path) field.ErrorList {
	allErrs := field.ErrorList{}
	switch value.Type {
	case intstr.Int:
		if value.IntValue() < 0 {
			allErrs = append(allErrs, field.Invalid(fldPath, value.String(), InvalidIntOrPercentMessage))
		}
	case intstr.String:
		if _, err := intstr.GetScaledValueFromIntOrPercent(value, 100, true); err != nil {
			allErrs = append(allErrs, field.Invalid(fldPath, value.String(), InvalidIntOrPercentMessage))
		}
	}
	return allErrs
}

func isZeroValue(value *intstr.IntOrString) bool {
	if value == nil {
		return true
	}
	if value.Type == intstr.String {
		return strings.TrimSuffix(value.StrVal, "%") == "0"
	}
	return value.IntValue() == 0
}

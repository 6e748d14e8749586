package defaults

import (
	"k8s.io/apimachinery/pkg/util/intstr"

	"github.com/rolloutkit/rolloutkit/pkg/apis/rollouts/v1alpha1"
)

const (
	// DefaultReplicas default number of replicas if .Spec.Replicas is nil
	DefaultReplicas = int32(1)
	// DefaultRevisionHistoryLimit default number of revisions to keep if
	// .Spec.RevisionHistoryLimit is nil
	DefaultRevisionHistoryLimit = int32(10)
	// DefaultMaxSurge default for the max number of additional pods that can
	// be brought up during a rolling update
	DefaultMaxSurge = "25%"
	// DefaultMaxUnavailable default for the max number of unavailable pods
	// during a rolling update
	DefaultMaxUnavailable = "25%"
	// DefaultProgressDeadlineSeconds default number of seconds for the
	// rollout to be making progress
	DefaultProgressDeadlineSeconds = int32(600)
)

// GetReplicasOrDefault returns the dereferenced number of replicas or the
// default number
func GetReplicasOrDefault(replicas *int32) int32 {
	if replicas == nil {
		return DefaultReplicas
	}
	return *replicas
}

// GetRevisionHistoryLimitOrDefault returns the specified history limit or
// the default number
func GetRevisionHistoryLimitOrDefault(spec *v1alpha1.RolloutSpec) int32 {
	if spec.RevisionHistoryLimit == nil {
		return DefaultRevisionHistoryLimit
	}
	return *spec.RevisionHistoryLimit
}

func GetMaxSurgeOrDefault(spec *v1alpha1.RolloutSpec) *intstr.IntOrString {
	if spec.Strategy.RollingUpdate != nil && spec.Strategy.RollingUpdate.MaxSurge != nil {
		return spec.Strategy.RollingUpdate.MaxSurge
	}
	defaultValue := intstr.FromString(DefaultMaxSurge)
	return &defaultValue
}

func GetMaxUnavailableOrDefault(spec *v1alpha1.RolloutSpec) *intstr.IntOrString {
	if spec.Strategy.RollingUpdate != nil && spec.Strategy.RollingUpdate.MaxUnavailable != nil {
		return spec.Strategy.RollingUpdate.MaxUnavailable
	}
	defaultValue := intstr.FromString(DefaultMaxUnavailable)
	return &defaultValue
}

func GetProgressDeadlineSecondsOrDefault(spec *v1alpha1.RolloutSpec) int32 {
	if spec.ProgressDeadlineSeconds != nil {
		return *spec.ProgressDeadlineSeconds
	}
	return DefaultProgressDeadlineSeconds
}

// GetStrategyType returns the name of the strategy in effect. A spec with
// neither field set defaults to rolling update.
func GetStrategyType(spec *v1alpha1.RolloutSpec) string {
	if spec.Strategy.Recreate != nil {
		return "recreate"
	}
	return "rollingUpdate"
}

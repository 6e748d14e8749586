// Package strategy implements the rollout strategy engine: pure decision
// functions that, given current per-revision pod counts, compute the next
// bounded batch of create/delete actions. The engine has no side effects;
// the reconciler applies its decisions.
package strategy

import (
	"k8s.io/apimachinery/pkg/util/intstr"

	"github.com/rolloutkit/rolloutkit/pkg/apis/rollouts/v1alpha1"
	"github.com/rolloutkit/rolloutkit/utils/defaults"
)

// maxStepBatch caps creates and deletes per tick during a rolling update so
// readiness of newly created pods is observed before surging further. This
// throttling is what stops a bad revision from being fully rolled out before
// failure is detected.
const maxStepBatch = int32(1)

// Counts is the strategy engine's view of one revision's pods. Terminating
// pods are included in Total (they occupy capacity until termination is
// confirmed) but can no longer be acted on.
type Counts struct {
	Total       int32
	Terminating int32
	Ready       int32
	Available   int32
}

// Input carries everything a step decision depends on. Previous aggregates
// every revision being phased out.
type Input struct {
	DesiredReplicas int32
	MaxSurge        intstr.IntOrString
	MaxUnavailable  intstr.IntOrString
	Target          Counts
	Previous        Counts
}

// Decision is the bounded action set for one reconciliation tick.
type Decision struct {
	// CreateTarget is how many target-revision pods to create.
	CreateTarget int32
	// DeleteTarget is how many excess target-revision pods to delete
	// (replica count decreases).
	DeleteTarget int32
	// DeletePrevious is how many previous-revision pods to delete.
	DeletePrevious int32
	// Done reports convergence: the target revision owns exactly
	// DesiredReplicas available pods and no previous-revision pod is live.
	Done bool
}

// IsNoop reports whether the decision carries no actions.
func (d Decision) IsNoop() bool {
	return d.CreateTarget == 0 && d.DeleteTarget == 0 && d.DeletePrevious == 0
}

// Engine is the pure-function contract every strategy implements. New
// strategies are added by implementing NextStep, not by subclassing a base
// controller.
type Engine interface {
	NextStep(in Input) Decision
}

// ForSpec returns the engine for the spec's strategy. A spec with no
// strategy set rolls with the default rolling update fenceposts.
func ForSpec(spec *v1alpha1.RolloutSpec) Engine {
	if spec.Strategy.Recreate != nil {
		return Recreate{}
	}
	return RollingUpdate{}
}

// ResolveFenceposts resolves maxSurge and maxUnavailable against the desired
// replica count. Surge rounds up and unavailable rounds down, so that when
// both are expressed as the same percentage progress is still possible at
// small replica counts. If both resolve to zero, unavailable is forced to 1;
// validation rejects explicit zero/zero, but rounding down a percentage
// maxUnavailable can still produce it.
func ResolveFenceposts(maxSurge, maxUnavailable *intstr.IntOrString, desired int32) (int32, int32, error) {
	surge, err := intstr.GetScaledValueFromIntOrPercent(intstr.ValueOrDefault(maxSurge, intstr.FromInt32(0)), int(desired), true)
	if err != nil {
		return 0, 0, err
	}
	unavailable, err := intstr.GetScaledValueFromIntOrPercent(intstr.ValueOrDefault(maxUnavailable, intstr.FromInt32(0)), int(desired), false)
	if err != nil {
		return 0, 0, err
	}
	if surge == 0 && unavailable == 0 {
		unavailable = 1
	}
	if int32(unavailable) > desired {
		unavailable = int(desired)
	}
	return int32(surge), int32(unavailable), nil
}

// MaxSurge returns the resolved surge bound for a spec.
func MaxSurge(spec *v1alpha1.RolloutSpec) int32 {
	desired := defaults.GetReplicasOrDefault(spec.Replicas)
	surge, _, _ := ResolveFenceposts(defaults.GetMaxSurgeOrDefault(spec), defaults.GetMaxUnavailableOrDefault(spec), desired)
	return surge
}

// MaxUnavailable returns the resolved unavailable bound for a spec.
func MaxUnavailable(spec *v1alpha1.RolloutSpec) int32 {
	desired := defaults.GetReplicasOrDefault(spec.Replicas)
	if desired == 0 {
		return 0
	}
	_, unavailable, _ := ResolveFenceposts(defaults.GetMaxSurgeOrDefault(spec), defaults.GetMaxUnavailableOrDefault(spec), desired)
	return unavailable
}

func converged(in Input) bool {
	return in.Target.Total == in.DesiredReplicas &&
		in.Target.Available == in.DesiredReplicas &&
		in.Previous.Total == 0
}

func min32(a int32, rest ...int32) int32 {
	m := a
	for _, v := range rest {
		if v < m {
			m = v
		}
	}
	return m
}

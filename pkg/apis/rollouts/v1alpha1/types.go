package v1alpha1

import (
	"time"

	"k8s.io/apimachinery/pkg/util/intstr"
)

// Rollout is a named workload whose pod set is converged toward Spec by the
// controller.
type Rollout struct {
	Name string      `json:"name"`
	Spec RolloutSpec `json:"spec"`
}

// RolloutSpec is the desired state of a rollout. It is treated as an
// immutable value per Apply call.
type RolloutSpec struct {
	// Replicas is the desired number of pods owned by the target revision.
	Replicas *int32 `json:"replicas,omitempty"`
	// Template describes the pods the target revision materializes.
	Template PodTemplate `json:"template"`
	// Strategy controls how pods are replaced during an update.
	Strategy RolloutStrategy `json:"strategy,omitempty"`
	// MinReadySeconds is the minimum number of seconds a pod must be
	// continuously ready before it is counted as available.
	MinReadySeconds int32 `json:"minReadySeconds,omitempty"`
	// RevisionHistoryLimit is the number of old revisions retained for
	// rollback.
	RevisionHistoryLimit *int32 `json:"revisionHistoryLimit,omitempty"`
	// ProgressDeadlineSeconds is the maximum time in seconds a rollout may
	// fail to make progress before it is marked Failed.
	ProgressDeadlineSeconds *int32 `json:"progressDeadlineSeconds,omitempty"`
}

// PodTemplate is the immutable description of the pods a revision creates.
// Probe and resource details are opaque to the controller; only the
// externally reported readiness result is consumed.
type PodTemplate struct {
	Image          string               `json:"image"`
	Command        []string             `json:"command,omitempty"`
	Env            map[string]string    `json:"env,omitempty"`
	Resources      ResourceRequirements `json:"resources,omitempty"`
	ReadinessProbe *ProbeSpec           `json:"readinessProbe,omitempty"`
	LivenessProbe  *ProbeSpec           `json:"livenessProbe,omitempty"`
}

// ResourceRequirements carries opaque resource requests/limits.
type ResourceRequirements struct {
	Requests map[string]string `json:"requests,omitempty"`
	Limits   map[string]string `json:"limits,omitempty"`
}

// ProbeSpec carries an opaque probe definition executed by the external pod
// lifecycle collaborator.
type ProbeSpec struct {
	Handler             string `json:"handler"`
	InitialDelaySeconds int32  `json:"initialDelaySeconds,omitempty"`
	PeriodSeconds       int32  `json:"periodSeconds,omitempty"`
	FailureThreshold    int32  `json:"failureThreshold,omitempty"`
}

// DeepCopy returns a full copy of the template so revision snapshots cannot
// alias caller-owned maps/slices.
func (t *PodTemplate) DeepCopy() *PodTemplate {
	if t == nil {
		return nil
	}
	out := &PodTemplate{
		Image: t.Image,
	}
	if t.Command != nil {
		out.Command = append([]string(nil), t.Command...)
	}
	out.Env = copyStringMap(t.Env)
	out.Resources = ResourceRequirements{
		Requests: copyStringMap(t.Resources.Requests),
		Limits:   copyStringMap(t.Resources.Limits),
	}
	if t.ReadinessProbe != nil {
		probe := *t.ReadinessProbe
		out.ReadinessProbe = &probe
	}
	if t.LivenessProbe != nil {
		probe := *t.LivenessProbe
		out.LivenessProbe = &probe
	}
	return out
}

func copyStringMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// RolloutStrategy is a tagged union; exactly one field may be set.
type RolloutStrategy struct {
	Recreate      *RecreateStrategy      `json:"recreate,omitempty"`
	RollingUpdate *RollingUpdateStrategy `json:"rollingUpdate,omitempty"`
}

// RecreateStrategy terminates all previous-revision pods before any
// target-revision pod is created.
type RecreateStrategy struct{}

// RollingUpdateStrategy replaces pods incrementally, bounded by MaxSurge and
// MaxUnavailable.
type RollingUpdateStrategy struct {
	// MaxSurge is the maximum number of pods that can be created over the
	// desired replica count. Absolute number or percentage (rounded up).
	MaxSurge *intstr.IntOrString `json:"maxSurge,omitempty"`
	// MaxUnavailable is the maximum number of pods that can be unavailable
	// during the update. Absolute number or percentage (rounded down).
	MaxUnavailable *intstr.IntOrString `json:"maxUnavailable,omitempty"`
}

// Revision is an immutable, hashed snapshot of a pod template. Rolling back
// points at an old Revision; templates are never reconstructed.
type Revision struct {
	// ID is monotonic and reflects creation order.
	ID           int64       `json:"id"`
	TemplateHash string      `json:"templateHash"`
	Template     PodTemplate `json:"template"`
	CreatedAt    time.Time   `json:"createdAt"`
}

// PodPhase is the externally observed lifecycle phase of a pod.
type PodPhase string

const (
	PodPending     PodPhase = "Pending"
	PodRunning     PodPhase = "Running"
	PodTerminating PodPhase = "Terminating"
	PodFailed      PodPhase = "Failed"
	PodSucceeded   PodPhase = "Succeeded"
)

// Pod is the controller's record of one pod. Scheduling and execution are
// external; phase/ready/available arrive through the store's MarkPhase.
type Pod struct {
	ID              string    `json:"id"`
	OwnerRevisionID int64     `json:"ownerRevisionID"`
	Phase           PodPhase  `json:"phase"`
	Ready           bool      `json:"ready"`
	Available       bool      `json:"available"`
	CreatedAt       time.Time `json:"createdAt"`
	// ReadySince is the start of the current uninterrupted ready period,
	// used for minReadySeconds accounting.
	ReadySince time.Time `json:"readySince,omitempty"`
}

// IsLive reports whether the pod still occupies capacity. Terminating pods
// count toward the surge bound until termination is confirmed.
func (p *Pod) IsLive() bool {
	return p.Phase == PodPending || p.Phase == PodRunning || p.Phase == PodTerminating
}

// RolloutPhase is the top-level state of the rollout state machine.
type RolloutPhase string

const (
	// RolloutIdle means no spec has been applied yet.
	RolloutIdle RolloutPhase = "Idle"
	// RolloutProgressing means the target revision differs from the stable
	// revision and the controller is converging toward it.
	RolloutProgressing RolloutPhase = "Progressing"
	// RolloutPaused means new target-revision pods are suppressed while
	// previous-revision scale-down already in flight may continue.
	RolloutPaused RolloutPhase = "Paused"
	// RolloutComplete means the target revision owns exactly the desired
	// number of available pods and no other revision owns live pods.
	RolloutComplete RolloutPhase = "Complete"
	// RolloutFailed means the progress deadline elapsed with no forward
	// progress. The reconciler keeps running; operator action is required.
	RolloutFailed RolloutPhase = "Failed"
)

// RolloutConditionType is a valid value for RolloutCondition.Type.
type RolloutConditionType string

const (
	// RolloutConditionProgressing captures forward progress of an update.
	RolloutConditionProgressing RolloutConditionType = "Progressing"
	// RolloutConditionAvailable captures minimum availability.
	RolloutConditionAvailable RolloutConditionType = "Available"
	// RolloutConditionFailed is set when the progress deadline is exceeded.
	RolloutConditionFailed RolloutConditionType = "Failed"
)

// ConditionStatus is True, False or Unknown.
type ConditionStatus string

const (
	ConditionTrue    ConditionStatus = "True"
	ConditionFalse   ConditionStatus = "False"
	ConditionUnknown ConditionStatus = "Unknown"
)

// RolloutCondition describes the state of a rollout at a certain point.
type RolloutCondition struct {
	Type               RolloutConditionType `json:"type"`
	Status             ConditionStatus      `json:"status"`
	LastUpdateTime     time.Time            `json:"lastUpdateTime"`
	LastTransitionTime time.Time            `json:"lastTransitionTime"`
	Reason             string               `json:"reason"`
	Message            string               `json:"message"`
}

// RevisionCounts is the per-revision replica accounting surfaced in status.
type RevisionCounts struct {
	Desired   int32 `json:"desired"`
	Total     int32 `json:"total"`
	Ready     int32 `json:"ready"`
	Available int32 `json:"available"`
}

// RolloutStatus is derived state; callers never mutate it directly.
type RolloutStatus struct {
	ObservedGeneration int64        `json:"observedGeneration"`
	Phase              RolloutPhase `json:"phase"`
	// CurrentRevisionID is the revision the controller is converging toward.
	CurrentRevisionID int64 `json:"currentRevisionID"`
	// StableRevisionID is the last revision that fully displaced its
	// predecessor.
	StableRevisionID  int64                    `json:"stableRevisionID"`
	Replicas          int32                    `json:"replicas"`
	UpdatedReplicas   int32                    `json:"updatedReplicas"`
	ReadyReplicas     int32                    `json:"readyReplicas"`
	AvailableReplicas int32                    `json:"availableReplicas"`
	ReplicaCounts     map[int64]RevisionCounts `json:"replicaCounts,omitempty"`
	Conditions        []RolloutCondition       `json:"conditions,omitempty"`
}

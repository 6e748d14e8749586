package conditions

import (
	"time"

	"github.com/rolloutkit/rolloutkit/pkg/apis/rollouts/v1alpha1"
	timeutil "github.com/rolloutkit/rolloutkit/utils/time"
)

const (
	// InvalidSpecReason indicates that the spec is invalid
	InvalidSpecReason = "InvalidSpec"

	// AvailableReason the reason to indicate that the rollout has minimum availability
	AvailableReason = "MinimumReplicasAvailable"
	// NotAvailableMessage the message to indicate that the rollout does not have min availability
	NotAvailableMessage = "Rollout does not have minimum availability"
	// AvailableMessage the message to indicate that the rollout does have min availability
	AvailableMessage = "Rollout has minimum availability"

	// PodSetUpdatedReason is added in a rollout when its pod set is mutated as part
	// of the rollout process.
	PodSetUpdatedReason = "PodSetUpdated"
	// RolloutProgressingMessage is added in a rollout when its pod set is mutated as part
	// of the rollout process.
	RolloutProgressingMessage = "Rollout %q is progressing."

	// NewRevisionReason is added in a rollout when it creates a new revision.
	NewRevisionReason = "NewRevisionCreated"
	// NewRevisionMessage is added in a rollout when it creates a new revision.
	NewRevisionMessage = "Created new revision %d"

	// RolloutUpdatedReason indicates the rollout spec was updated.
	RolloutUpdatedReason = "RolloutUpdated"
	// RolloutUpdatedMessage indicates the rollout spec was updated.
	RolloutUpdatedMessage = "Rollout updated to revision %d"

	// RolloutCompletedReason is added in a rollout when it is completed.
	RolloutCompletedReason = "RolloutCompleted"
	// RolloutCompletedMessage is added when the rollout is completed.
	RolloutCompletedMessage = "Rollout completed update to revision %d"

	// RolloutPausedReason is added in a rollout when it is paused. Lack of progress shouldn't be
	// estimated once a rollout is paused.
	RolloutPausedReason = "RolloutPaused"
	// RolloutPausedMessage is added in a rollout when it is paused.
	RolloutPausedMessage = "Rollout is paused"

	// RolloutResumedReason is added in a rollout when it is resumed. Useful for not failing
	// accidentally a rollout that paused amidst an update and is bounded by a deadline.
	RolloutResumedReason = "RolloutResumed"
	// RolloutResumedMessage is added in a rollout when it is resumed.
	RolloutResumedMessage = "Rollout is resumed"

	// RolloutRetryReason indicates that the rollout is retrying after being failed
	RolloutRetryReason = "RolloutRetry"
	// RolloutRetryMessage indicates that the rollout is retrying after being failed
	RolloutRetryMessage = "Retrying rollout after failure"

	// RolloutUndoReason indicates that the rollout was rolled back to an earlier revision
	RolloutUndoReason = "RolloutUndo"
	// RolloutUndoMessage indicates that the rollout was rolled back to an earlier revision
	RolloutUndoMessage = "Rollout rolled back to revision %d"

	// TimedOutReason is added in a rollout when it fails to show any progress
	// within the given deadline (progressDeadlineSeconds).
	TimedOutReason = "ProgressDeadlineExceeded"
	// RolloutTimeOutMessage is added in a rollout when the rollout fails to show any progress
	// within the given deadline (progressDeadlineSeconds).
	RolloutTimeOutMessage = "Rollout %q has timed out progressing."

	// PodProvisionErrorReason is added in a rollout when a pod create/delete request is
	// rejected by the lifecycle collaborator. The action is retried on the next tick.
	PodProvisionErrorReason = "PodProvisionError"
)

// NewRolloutCondition creates a new rollout condition.
func NewRolloutCondition(condType v1alpha1.RolloutConditionType, status v1alpha1.ConditionStatus, reason, message string) *v1alpha1.RolloutCondition {
	now := timeutil.Now()
	return &v1alpha1.RolloutCondition{
		Type:               condType,
		Status:             status,
		LastUpdateTime:     now,
		LastTransitionTime: now,
		Reason:             reason,
		Message:            message,
	}
}

// GetRolloutCondition returns the condition with the provided type.
func GetRolloutCondition(status v1alpha1.RolloutStatus, condType v1alpha1.RolloutConditionType) *v1alpha1.RolloutCondition {
	for i := range status.Conditions {
		c := status.Conditions[i]
		if c.Type == condType {
			return &c
		}
	}
	return nil
}

// SetRolloutCondition updates the rollout status to include the provided condition. If the
// condition that we are about to add already exists and has the same status and reason, then
// we are not going to update. Returns true if the condition was updated
func SetRolloutCondition(status *v1alpha1.RolloutStatus, condition v1alpha1.RolloutCondition) bool {
	currentCond := GetRolloutCondition(*status, condition.Type)
	if currentCond != nil && currentCond.Status == condition.Status && currentCond.Reason == condition.Reason {
		return false
	}
	// Do not update lastTransitionTime if the status of the condition doesn't change.
	if currentCond != nil && currentCond.Status == condition.Status {
		condition.LastTransitionTime = currentCond.LastTransitionTime
	}
	newConditions := filterOutCondition(status.Conditions, condition.Type)
	status.Conditions = append(newConditions, condition)
	return true
}

// RemoveRolloutCondition removes the rollout condition with the provided type.
func RemoveRolloutCondition(status *v1alpha1.RolloutStatus, condType v1alpha1.RolloutConditionType) {
	status.Conditions = filterOutCondition(status.Conditions, condType)
}

// filterOutCondition returns a new slice of rollout conditions without conditions with the provided type.
func filterOutCondition(conditions []v1alpha1.RolloutCondition, condType v1alpha1.RolloutConditionType) []v1alpha1.RolloutCondition {
	var newConditions []v1alpha1.RolloutCondition
	for _, c := range conditions {
		if c.Type == condType {
			continue
		}
		newConditions = append(newConditions, c)
	}
	return newConditions
}

// RolloutTimedOut considers a rollout to have timed out once the Progressing condition that
// reports progress is older than progressDeadlineSeconds, or a Progressing condition with a
// TimedOutReason reason already exists.
func RolloutTimedOut(status *v1alpha1.RolloutStatus, progressDeadlineSeconds int32) bool {
	// Look for the Progressing condition. If it doesn't exist, we have no base to estimate
	// progress. If it's already set with a TimedOutReason reason, we have already timed out,
	// no need to check again.
	condition := GetRolloutCondition(*status, v1alpha1.RolloutConditionProgressing)
	if condition == nil {
		return false
	}
	if condition.Reason == TimedOutReason {
		return true
	}
	// A paused rollout is deliberately not making progress.
	if condition.Reason == RolloutPausedReason {
		return false
	}

	from := condition.LastUpdateTime
	delta := time.Duration(progressDeadlineSeconds) * time.Second
	return from.Add(delta).Before(timeutil.Now())
}

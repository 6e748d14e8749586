package conditions

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rolloutkit/rolloutkit/pkg/apis/rollouts/v1alpha1"
	timeutil "github.com/rolloutkit/rolloutkit/utils/time"
)

func TestSetRolloutCondition(t *testing.T) {
	status := v1alpha1.RolloutStatus{}

	progressing := NewRolloutCondition(v1alpha1.RolloutConditionProgressing, v1alpha1.ConditionTrue, PodSetUpdatedReason, "updated")
	assert.True(t, SetRolloutCondition(&status, *progressing))
	assert.Len(t, status.Conditions, 1)

	// Same status and reason is a no-op.
	assert.False(t, SetRolloutCondition(&status, *progressing))
	assert.Len(t, status.Conditions, 1)

	// Same status with a new reason replaces, keeping the transition time.
	completed := NewRolloutCondition(v1alpha1.RolloutConditionProgressing, v1alpha1.ConditionTrue, RolloutCompletedReason, "done")
	completed.LastTransitionTime = completed.LastTransitionTime.Add(time.Hour)
	assert.True(t, SetRolloutCondition(&status, *completed))
	assert.Len(t, status.Conditions, 1)
	assert.Equal(t, RolloutCompletedReason, status.Conditions[0].Reason)
	assert.Equal(t, progressing.LastTransitionTime, status.Conditions[0].LastTransitionTime)
}

func TestGetAndRemoveRolloutCondition(t *testing.T) {
	status := v1alpha1.RolloutStatus{}
	SetRolloutCondition(&status, *NewRolloutCondition(v1alpha1.RolloutConditionAvailable, v1alpha1.ConditionTrue, AvailableReason, AvailableMessage))

	cond := GetRolloutCondition(status, v1alpha1.RolloutConditionAvailable)
	assert.NotNil(t, cond)
	assert.Equal(t, v1alpha1.ConditionTrue, cond.Status)

	assert.Nil(t, GetRolloutCondition(status, v1alpha1.RolloutConditionFailed))

	RemoveRolloutCondition(&status, v1alpha1.RolloutConditionAvailable)
	assert.Empty(t, status.Conditions)
}

func TestRolloutTimedOut(t *testing.T) {
	now := time.Now()
	timeutil.Now = func() time.Time { return now }
	defer func() { timeutil.Now = time.Now }()

	newStatus := func(lastUpdate time.Time, reason string) *v1alpha1.RolloutStatus {
		status := &v1alpha1.RolloutStatus{}
		cond := NewRolloutCondition(v1alpha1.RolloutConditionProgressing, v1alpha1.ConditionTrue, reason, "")
		cond.LastUpdateTime = lastUpdate
		SetRolloutCondition(status, *cond)
		return status
	}

	// No progressing condition means no basis for a timeout.
	assert.False(t, RolloutTimedOut(&v1alpha1.RolloutStatus{}, 10))

	assert.False(t, RolloutTimedOut(newStatus(now.Add(-5*time.Second), PodSetUpdatedReason), 10))
	assert.True(t, RolloutTimedOut(newStatus(now.Add(-11*time.Second), PodSetUpdatedReason), 10))

	// Already timed out stays timed out.
	assert.True(t, RolloutTimedOut(newStatus(now, TimedOutReason), 10))

	// Paused rollouts are not subject to the deadline.
	assert.False(t, RolloutTimedOut(newStatus(now.Add(-time.Hour), RolloutPausedReason), 10))
}

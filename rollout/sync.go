package rollout

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rolloutkit/rolloutkit/pkg/apis/rollouts/v1alpha1"
	"github.com/rolloutkit/rolloutkit/strategy"
	"github.com/rolloutkit/rolloutkit/utils/conditions"
	"github.com/rolloutkit/rolloutkit/utils/defaults"
	logutil "github.com/rolloutkit/rolloutkit/utils/log"
)

// Tick runs one reconciliation pass. It never blocks on pod state changes:
// it issues at most one bounded batch of actions and returns, relying on pod
// events or the resync timer for the next wakeup.
func (c *Controller) Tick(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.spec == nil {
		return
	}
	start := time.Now()
	c.reconcile(ctx)
	c.metrics.ObserveReconcile(c.name, time.Since(start))
	c.metrics.SetPhase(c.name, c.status.Phase)
}

func (c *Controller) reconcile(ctx context.Context) {
	c.reapTerminalPods()

	desired := defaults.GetReplicasOrDefault(c.spec.Replicas)
	target := c.countsFor(c.currentRevision)

	// At most one previous revision is drained under the availability
	// bounds: the stable one if it still owns pods, otherwise the oldest.
	// Any other previous revision is a target superseded mid-rollout and is
	// drained immediately, so no more than two revisions hold live pods for
	// longer than the drain takes.
	previousIDs := c.livePreviousRevisions()
	keep := int64(0)
	if len(previousIDs) > 0 {
		keep = previousIDs[0]
		for _, id := range previousIDs {
			if id == c.stableRevision {
				keep = id
			}
		}
	}

	var previous strategy.Counts
	for _, id := range previousIDs {
		counts := c.countsFor(id)
		previous.Total += counts.Total
		previous.Terminating += counts.Terminating
		previous.Ready += counts.Ready
		previous.Available += counts.Available
		if id != keep {
			c.deletePods(ctx, id, counts.Total-counts.Terminating)
		}
	}

	d := strategy.ForSpec(c.spec).NextStep(strategy.Input{
		DesiredReplicas: desired,
		MaxSurge:        *defaults.GetMaxSurgeOrDefault(c.spec),
		MaxUnavailable:  *defaults.GetMaxUnavailableOrDefault(c.spec),
		Target:          target,
		Previous:        previous,
	})

	// Paused rollouts stop surging but keep draining what is already being
	// replaced. While a superseded revision drains, both surging and the
	// regular previous-revision scale-down hold off; the drain is already
	// spending the availability budget.
	if c.paused {
		d.CreateTarget = 0
	}
	if len(previousIDs) > 1 {
		d.CreateTarget = 0
		d.DeletePrevious = 0
	}

	// Creates before deletes within a tick.
	c.createTargetPods(ctx, d.CreateTarget)
	c.deletePods(ctx, c.currentRevision, d.DeleteTarget)
	if keep != 0 {
		c.deletePods(ctx, keep, d.DeletePrevious)
	}

	c.updateStatus(d, desired)
}

// countsFor builds the strategy engine's view of one revision's pods.
func (c *Controller) countsFor(revisionID int64) strategy.Counts {
	rc := c.store.Counts(revisionID, c.spec.MinReadySeconds)
	counts := strategy.Counts{Total: rc.Total, Ready: rc.Ready, Available: rc.Available}
	for _, pod := range c.store.ListByRevision(revisionID) {
		if pod.Phase == v1alpha1.PodTerminating {
			counts.Terminating++
		}
	}
	return counts
}

// livePreviousRevisions returns the non-target revisions that still own live
// pods. Pods whose owner is gone from history are left alone and logged;
// they are an upstream defect, not something to reconcile against.
func (c *Controller) livePreviousRevisions() []int64 {
	var ids []int64
	for _, id := range c.store.LiveRevisionIDs() {
		if id == c.currentRevision {
			continue
		}
		if !c.store.HasRevision(id) {
			c.log.WithField(logutil.RevisionKey, id).Warn("Skipping pods owned by a garbage-collected revision")
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// reapTerminalPods drops records of pods that reached a terminal phase on
// their own (crashed or ran to completion) without a delete being issued.
func (c *Controller) reapTerminalPods() {
	for _, pod := range c.store.List() {
		if pod.Phase != v1alpha1.PodFailed && pod.Phase != v1alpha1.PodSucceeded {
			continue
		}
		if err := c.store.ConfirmTermination(pod.ID); err == nil {
			c.log.WithField(logutil.PodKey, pod.ID).Infof("Removed pod in terminal phase %s", pod.Phase)
		}
	}
}

func (c *Controller) createTargetPods(ctx context.Context, n int32) {
	if n <= 0 {
		return
	}
	rev, err := c.revisions.Get(c.currentRevision)
	if err != nil {
		c.log.WithError(err).Error("Target revision missing from history")
		c.metrics.IncError(c.name)
		return
	}
	for i := int32(0); i < n; i++ {
		pod, err := c.store.Create(c.currentRevision)
		if err != nil {
			c.log.WithError(err).Error("Unable to allocate pod record")
			c.metrics.IncError(c.name)
			return
		}
		if err := c.provisioner.CreatePod(ctx, pod, rev.Template); err != nil {
			// Roll the record back; the create is retried on a later tick.
			_ = c.store.MarkPhase(pod.ID, v1alpha1.PodFailed, false, false)
			_ = c.store.ConfirmTermination(pod.ID)
			c.log.WithError(err).WithField(logutil.PodKey, pod.ID).Warn("Pod create rejected by provisioner")
			conditions.SetRolloutCondition(&c.status, *conditions.NewRolloutCondition(
				v1alpha1.RolloutConditionProgressing, v1alpha1.ConditionFalse, conditions.PodProvisionErrorReason, err.Error()))
			c.metrics.IncError(c.name)
			return
		}
		c.log.WithField(logutil.PodKey, pod.ID).WithField(logutil.RevisionKey, c.currentRevision).Info("Created pod")
		c.metrics.IncPodAction(c.name, "create")
	}
}

// deletePods issues up to n deletes against the revision's live,
// non-terminating pods, preferring not-ready pods and then the oldest.
func (c *Controller) deletePods(ctx context.Context, revisionID int64, n int32) {
	if n <= 0 {
		return
	}
	var victims []v1alpha1.Pod
	for _, pod := range c.store.ListByRevision(revisionID) {
		if pod.IsLive() && pod.Phase != v1alpha1.PodTerminating {
			victims = append(victims, pod)
		}
	}
	sort.SliceStable(victims, func(i, j int) bool {
		if victims[i].Ready != victims[j].Ready {
			return !victims[i].Ready
		}
		return victims[i].CreatedAt.Before(victims[j].CreatedAt)
	})
	if int32(len(victims)) > n {
		victims = victims[:n]
	}
	for _, pod := range victims {
		if err := c.provisioner.DeletePod(ctx, pod.ID); err != nil {
			c.log.WithError(err).WithField(logutil.PodKey, pod.ID).Warn("Pod delete rejected by provisioner")
			c.metrics.IncError(c.name)
			continue
		}
		_ = c.store.Delete(pod.ID)
		c.log.WithField(logutil.PodKey, pod.ID).WithField(logutil.RevisionKey, revisionID).Info("Deleting pod")
		c.metrics.IncPodAction(c.name, "delete")
	}
}

func (c *Controller) updateStatus(d strategy.Decision, desired int32) {
	prevStatus := c.status
	newStatus := v1alpha1.RolloutStatus{
		ObservedGeneration: c.generation,
		CurrentRevisionID:  c.currentRevision,
		StableRevisionID:   c.stableRevision,
		Conditions:         append([]v1alpha1.RolloutCondition(nil), c.status.Conditions...),
		ReplicaCounts:      make(map[int64]v1alpha1.RevisionCounts),
	}

	for _, id := range c.store.LiveRevisionIDs() {
		counts := c.store.Counts(id, c.spec.MinReadySeconds)
		if id == c.currentRevision {
			counts.Desired = desired
			newStatus.UpdatedReplicas = counts.Total
		}
		newStatus.ReplicaCounts[id] = counts
		newStatus.Replicas += counts.Total
		newStatus.ReadyReplicas += counts.Ready
		newStatus.AvailableReplicas += counts.Available
	}
	if _, ok := newStatus.ReplicaCounts[c.currentRevision]; !ok {
		newStatus.ReplicaCounts[c.currentRevision] = v1alpha1.RevisionCounts{Desired: desired}
	}

	minAvailable := desired - strategy.MaxUnavailable(c.spec)
	if newStatus.AvailableReplicas >= minAvailable {
		conditions.SetRolloutCondition(&newStatus, *conditions.NewRolloutCondition(
			v1alpha1.RolloutConditionAvailable, v1alpha1.ConditionTrue, conditions.AvailableReason, conditions.AvailableMessage))
	} else {
		conditions.SetRolloutCondition(&newStatus, *conditions.NewRolloutCondition(
			v1alpha1.RolloutConditionAvailable, v1alpha1.ConditionFalse, conditions.AvailableReason, conditions.NotAvailableMessage))
	}

	switch {
	case d.Done:
		if c.stableRevision != c.currentRevision {
			c.stableRevision = c.currentRevision
			newStatus.StableRevisionID = c.currentRevision
			c.log.Infof("Rollout completed update to revision %d", c.currentRevision)
		}
		setProgressingCondition(&newStatus, v1alpha1.ConditionTrue, conditions.RolloutCompletedReason,
			fmt.Sprintf(conditions.RolloutCompletedMessage, c.currentRevision))
		conditions.RemoveRolloutCondition(&newStatus, v1alpha1.RolloutConditionFailed)
		if c.paused {
			newStatus.Phase = v1alpha1.RolloutPaused
		} else {
			newStatus.Phase = v1alpha1.RolloutComplete
		}
	case c.paused:
		newStatus.Phase = v1alpha1.RolloutPaused
	default:
		if progressed(&prevStatus, &newStatus) {
			setProgressingCondition(&newStatus, v1alpha1.ConditionTrue, conditions.PodSetUpdatedReason,
				fmt.Sprintf(conditions.RolloutProgressingMessage, c.name))
		}
		if conditions.RolloutTimedOut(&newStatus, defaults.GetProgressDeadlineSecondsOrDefault(c.spec)) {
			message := fmt.Sprintf(conditions.RolloutTimeOutMessage, c.name)
			setProgressingCondition(&newStatus, v1alpha1.ConditionFalse, conditions.TimedOutReason, message)
			conditions.SetRolloutCondition(&newStatus, *conditions.NewRolloutCondition(
				v1alpha1.RolloutConditionFailed, v1alpha1.ConditionTrue, conditions.TimedOutReason, message))
			newStatus.Phase = v1alpha1.RolloutFailed
			if prevStatus.Phase != v1alpha1.RolloutFailed {
				c.log.Warn("Rollout exceeded its progress deadline")
			}
		} else {
			newStatus.Phase = v1alpha1.RolloutProgressing
		}
	}

	c.status = newStatus
	c.revisions.PruneHistory(defaults.GetRevisionHistoryLimitOrDefault(c.spec), c.currentRevision, c.stableRevision)
}

// progressed reports whether the new status shows forward movement over the
// old one: a target pod created or become ready/available, a previous pod
// retired, or a new target revision. Each occurrence resets the progress
// deadline clock.
func progressed(old, cur *v1alpha1.RolloutStatus) bool {
	oldPrevious := old.Replicas - old.UpdatedReplicas
	curPrevious := cur.Replicas - cur.UpdatedReplicas
	return cur.UpdatedReplicas > old.UpdatedReplicas ||
		curPrevious < oldPrevious ||
		cur.ReadyReplicas > old.ReadyReplicas ||
		cur.AvailableReplicas > old.AvailableReplicas ||
		cur.CurrentRevisionID != old.CurrentRevisionID
}

// setProgressingCondition replaces the Progressing condition outright so its
// LastUpdateTime always moves, unlike SetRolloutCondition which skips the
// update when status and reason are unchanged. The progress deadline is
// measured from that timestamp.
func setProgressingCondition(status *v1alpha1.RolloutStatus, condStatus v1alpha1.ConditionStatus, reason, message string) {
	cond := conditions.NewRolloutCondition(v1alpha1.RolloutConditionProgressing, condStatus, reason, message)
	if existing := conditions.GetRolloutCondition(*status, v1alpha1.RolloutConditionProgressing); existing != nil && existing.Status == condStatus {
		cond.LastTransitionTime = existing.LastTransitionTime
	}
	conditions.RemoveRolloutCondition(status, v1alpha1.RolloutConditionProgressing)
	conditions.SetRolloutCondition(status, *cond)
}

func (c *Controller) setProgressing(condStatus v1alpha1.ConditionStatus, reason, message string) {
	setProgressingCondition(&c.status, condStatus, reason, message)
}

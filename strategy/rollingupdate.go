package strategy

// RollingUpdate replaces previous-revision pods incrementally, keeping the
// total pod count at or below desired+maxSurge and the available count at or
// above desired-maxUnavailable at every step.
type RollingUpdate struct{}

// NextStep computes the next bounded action set. Scale-up is decided first;
// scale-down is then evaluated against availability as it stands after the
// creates are issued (freshly created pods count as unavailable), which is
// what keeps the maxUnavailable bound intact under concurrent pod events.
func (RollingUpdate) NextStep(in Input) Decision {
	d := Decision{Done: converged(in)}
	if d.Done {
		return d
	}

	surge, unavailable, err := ResolveFenceposts(&in.MaxSurge, &in.MaxUnavailable, in.DesiredReplicas)
	if err != nil {
		// Caught by validation before a spec is ever accepted.
		return d
	}
	maxTotal := in.DesiredReplicas + surge
	minAvailable := in.DesiredReplicas - unavailable

	// With no previous-revision pods in play this is plain horizontal
	// scaling of the target revision, not a version transition; the full
	// delta is applied at once.
	if in.Previous.Total == 0 {
		if in.Target.Total < in.DesiredReplicas {
			d.CreateTarget = in.DesiredReplicas - in.Target.Total
		} else if excess := in.Target.Total - in.Target.Terminating - in.DesiredReplicas; excess > 0 {
			d.DeleteTarget = excess
		}
		return d
	}

	// A replica count decrease mid-rollout deletes excess target pods
	// immediately; surge accounting below sees the post-delete total.
	if excess := in.Target.Total - in.Target.Terminating - in.DesiredReplicas; excess > 0 {
		d.DeleteTarget = excess
	}

	currentTotal := in.Target.Total + in.Previous.Total
	if currentTotal < maxTotal && in.Target.Total < in.DesiredReplicas {
		d.CreateTarget = min32(maxTotal-currentTotal, in.DesiredReplicas-in.Target.Total, maxStepBatch)
	}

	deletable := in.Previous.Total - in.Previous.Terminating
	if deletable <= 0 {
		return d
	}

	// Previous-revision pods that are not even ready can go without
	// consuming availability budget.
	if notReady := deletable - in.Previous.Ready; notReady > 0 {
		d.DeletePrevious = min32(notReady, maxStepBatch)
		return d
	}

	// Otherwise a previous pod may be removed only while enough available
	// pods remain to absorb the removal, the target-revision pods still
	// unavailable (including the ones created above), and the deletions
	// already in flight. Without the last term, two deletes could be issued
	// before availability is reassessed, breaching the bound.
	available := in.Target.Available + in.Previous.Available
	targetUnavailable := in.Target.Total + d.CreateTarget - in.Target.Available
	slack := available - minAvailable - targetUnavailable - in.Previous.Terminating
	if slack >= 1 {
		d.DeletePrevious = min32(deletable, slack, maxStepBatch)
	}
	return d
}

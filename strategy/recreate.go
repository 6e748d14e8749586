package strategy

// Recreate is the stop-the-world strategy: every previous-revision pod is
// deleted before any target-revision pod is created. Zero version overlap,
// full unavailability during the transition.
type Recreate struct{}

// NextStep never interleaves creates and deletes across revisions. As long
// as any previous-revision pod is live (terminating ones included), the only
// action is deleting what remains of the previous revision.
func (Recreate) NextStep(in Input) Decision {
	d := Decision{Done: converged(in)}
	if d.Done {
		return d
	}

	if in.Previous.Total > 0 {
		d.DeletePrevious = in.Previous.Total - in.Previous.Terminating
		return d
	}

	if in.Target.Total < in.DesiredReplicas {
		d.CreateTarget = in.DesiredReplicas - in.Target.Total
	} else if excess := in.Target.Total - in.Target.Terminating - in.DesiredReplicas; excess > 0 {
		d.DeleteTarget = excess
	}
	return d
}

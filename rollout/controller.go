// Package rollout implements the rollout controller: the public API and
// state machine that drives one workload's pod set from a stable revision to
// a target revision, and the reconciler that converges it.
package rollout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/validation/field"

	"github.com/rolloutkit/rolloutkit/controller/metrics"
	"github.com/rolloutkit/rolloutkit/pkg/apis/rollouts/v1alpha1"
	"github.com/rolloutkit/rolloutkit/pkg/apis/rollouts/validation"
	"github.com/rolloutkit/rolloutkit/podset"
	"github.com/rolloutkit/rolloutkit/revision"
	"github.com/rolloutkit/rolloutkit/utils/conditions"
	"github.com/rolloutkit/rolloutkit/utils/defaults"
	logutil "github.com/rolloutkit/rolloutkit/utils/log"
)

// PodProvisioner is the contract of the external pod lifecycle collaborator
// (scheduler/kubelet equivalent). Both calls issue the action and return
// immediately; the resulting pod state transitions arrive asynchronously
// through ObservePod/ObservePodTerminated.
type PodProvisioner interface {
	CreatePod(ctx context.Context, pod v1alpha1.Pod, template v1alpha1.PodTemplate) error
	DeletePod(ctx context.Context, podID string) error
}

// ControllerConfig holds the dependencies of a rollout controller.
type ControllerConfig struct {
	Name          string
	Provisioner   PodProvisioner
	MetricsServer *metrics.MetricsServer
}

// Controller is the single logical owner of one rollout. All mutations of
// the rollout's spec and state are serialized through its lock; distinct
// rollouts reconcile fully in parallel.
type Controller struct {
	name        string
	provisioner PodProvisioner
	metrics     *metrics.MetricsServer

	mu              sync.Mutex
	spec            *v1alpha1.RolloutSpec
	generation      int64
	paused          bool
	currentRevision int64
	stableRevision  int64
	previousTarget  int64
	status          v1alpha1.RolloutStatus
	store           *podset.Store
	revisions       *revision.Manager

	trigger chan struct{}
	log     *log.Entry
}

// NewController returns an idle controller for the named rollout.
func NewController(cfg ControllerConfig) *Controller {
	store := podset.NewStore()
	return &Controller{
		name:        cfg.Name,
		provisioner: cfg.Provisioner,
		metrics:     cfg.MetricsServer,
		store:       store,
		revisions:   revision.NewManager(store),
		status:      v1alpha1.RolloutStatus{Phase: v1alpha1.RolloutIdle},
		trigger:     make(chan struct{}, 1),
		log:         logutil.WithRollout(cfg.Name),
	}
}

// Name returns the rollout name.
func (c *Controller) Name() string {
	return c.name
}

// Apply submits a new desired spec. The spec is validated and rejected with
// no state change on error. If the template hash resolves to a revision
// other than the current target, the rollout transitions to Progressing; a
// spec edit that leaves the template untouched does not restart the rollout.
// Applying over an in-flight rollout supersedes it: the old target becomes a
// previous revision subject to scale-down on the next tick.
func (c *Controller) Apply(spec v1alpha1.RolloutSpec) error {
	if allErrs := validation.ValidateRolloutSpec(&spec, field.NewPath("spec")); len(allErrs) > 0 {
		return errors.Wrap(allErrs.ToAggregate(), conditions.InvalidSpecReason)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	specCopy := copySpec(&spec)
	rev := c.revisions.GetOrCreate(&specCopy.Template, c.currentRevision)
	c.generation++
	c.spec = specCopy

	if rev.ID != c.currentRevision {
		if c.currentRevision != 0 {
			c.previousTarget = c.currentRevision
		}
		c.currentRevision = rev.ID
		c.setProgressing(v1alpha1.ConditionTrue, conditions.RolloutUpdatedReason,
			fmt.Sprintf(conditions.RolloutUpdatedMessage, rev.ID))
		c.status.Phase = v1alpha1.RolloutProgressing
		conditions.RemoveRolloutCondition(&c.status, v1alpha1.RolloutConditionFailed)
		c.log.WithField("strategy", defaults.GetStrategyType(specCopy)).
			Infof("Rollout updated to revision %d", rev.ID)
	} else if c.status.Phase == v1alpha1.RolloutIdle || c.status.Phase == v1alpha1.RolloutFailed {
		// Same template, but a fresh spec restarts the progress clock.
		c.setProgressing(v1alpha1.ConditionTrue, conditions.RolloutUpdatedReason,
			fmt.Sprintf(conditions.RolloutUpdatedMessage, rev.ID))
		c.status.Phase = v1alpha1.RolloutProgressing
		conditions.RemoveRolloutCondition(&c.status, v1alpha1.RolloutConditionFailed)
	}

	c.requestTick()
	return nil
}

// Undo rolls back to a retained revision: the immediately previous target
// when toRevisionID is nil. It reuses the retained Revision object rather
// than minting an equivalent one, so undoing twice restores the prior state
// byte for byte.
func (c *Controller) Undo(toRevisionID *int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.spec == nil {
		return errors.New("no rollout spec has been applied")
	}

	var rev *v1alpha1.Revision
	var err error
	if toRevisionID != nil {
		rev, err = c.revisions.Get(*toRevisionID)
	} else if c.previousTarget == 0 {
		err = revision.ErrRevisionNotFound
	} else {
		rev, err = c.revisions.Get(c.previousTarget)
	}
	if err != nil {
		return errors.Wrap(err, "undo")
	}
	if rev.ID == c.currentRevision {
		return nil
	}

	c.spec.Template = *rev.Template.DeepCopy()
	c.generation++
	c.previousTarget = c.currentRevision
	c.currentRevision = rev.ID
	c.setProgressing(v1alpha1.ConditionTrue, conditions.RolloutUndoReason,
		fmt.Sprintf(conditions.RolloutUndoMessage, rev.ID))
	c.status.Phase = v1alpha1.RolloutProgressing
	conditions.RemoveRolloutCondition(&c.status, v1alpha1.RolloutConditionFailed)
	c.log.Infof("Rollout rolled back to revision %d", rev.ID)

	c.requestTick()
	return nil
}

// Pause freezes creation of new target-revision pods. Scale-down of previous
// revisions already in flight continues, so a partially rolled out canary
// can be inspected without losing reachable rollback.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.spec == nil {
		return errors.New("no rollout spec has been applied")
	}
	if c.paused {
		return nil
	}
	c.paused = true
	c.setProgressing(v1alpha1.ConditionUnknown, conditions.RolloutPausedReason, conditions.RolloutPausedMessage)
	c.log.Info("Rollout paused")
	c.requestTick()
	return nil
}

// Resume unfreezes a paused rollout and restarts the progress deadline
// clock.
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.spec == nil {
		return errors.New("no rollout spec has been applied")
	}
	if !c.paused {
		return nil
	}
	c.paused = false
	c.setProgressing(v1alpha1.ConditionTrue, conditions.RolloutResumedReason, conditions.RolloutResumedMessage)
	c.log.Info("Rollout resumed")
	c.requestTick()
	return nil
}

// Retry re-enters Progressing after a deadline failure without a spec
// change.
func (c *Controller) Retry() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status.Phase != v1alpha1.RolloutFailed {
		return errors.New("can only retry a failed rollout")
	}
	conditions.RemoveRolloutCondition(&c.status, v1alpha1.RolloutConditionFailed)
	c.setProgressing(v1alpha1.ConditionTrue, conditions.RolloutRetryReason, conditions.RolloutRetryMessage)
	c.status.Phase = v1alpha1.RolloutProgressing
	c.log.Info("Retrying rollout after failure")
	c.requestTick()
	return nil
}

// Status returns a read-only snapshot of the rollout status.
func (c *Controller) Status() v1alpha1.RolloutStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *copyStatus(&c.status)
}

// History returns the retained revisions, oldest first.
func (c *Controller) History() []v1alpha1.Revision {
	return c.revisions.History()
}

// Pods returns a snapshot of the rollout's pod records.
func (c *Controller) Pods() []v1alpha1.Pod {
	return c.store.List()
}

// ObservePod records an externally observed pod state change and schedules a
// reconciliation. This is the collaborator's notification path into the
// PodSet store.
func (c *Controller) ObservePod(podID string, phase v1alpha1.PodPhase, ready, available bool) error {
	if err := c.store.MarkPhase(podID, phase, ready, available); err != nil {
		return err
	}
	c.requestTick()
	return nil
}

// ObservePodTerminated finalizes a two-phase delete once the collaborator
// confirms the pod is gone.
func (c *Controller) ObservePodTerminated(podID string) error {
	if err := c.store.ConfirmTermination(podID); err != nil {
		return err
	}
	c.requestTick()
	return nil
}

// Run reconciles until the context is cancelled, waking on pod events and on
// the periodic resync timer that bounds worst-case reconciliation latency if
// event delivery is lost.
func (c *Controller) Run(ctx context.Context, resync time.Duration) {
	c.log.WithField("resync", resync).Info("Starting rollout worker")
	ticker := time.NewTicker(resync)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.log.Info("Shutting down rollout worker")
			return
		case <-c.trigger:
		case <-ticker.C:
		}
		c.Tick(ctx)
	}
}

func (c *Controller) requestTick() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

func copySpec(spec *v1alpha1.RolloutSpec) *v1alpha1.RolloutSpec {
	out := *spec
	out.Template = *spec.Template.DeepCopy()
	if spec.Replicas != nil {
		replicas := *spec.Replicas
		out.Replicas = &replicas
	}
	if spec.RevisionHistoryLimit != nil {
		limit := *spec.RevisionHistoryLimit
		out.RevisionHistoryLimit = &limit
	}
	if spec.ProgressDeadlineSeconds != nil {
		deadline := *spec.ProgressDeadlineSeconds
		out.ProgressDeadlineSeconds = &deadline
	}
	if spec.Strategy.Recreate != nil {
		recreate := *spec.Strategy.Recreate
		out.Strategy.Recreate = &recreate
	}
	if spec.Strategy.RollingUpdate != nil {
		rolling := *spec.Strategy.RollingUpdate
		if spec.Strategy.RollingUpdate.MaxSurge != nil {
			surge := *spec.Strategy.RollingUpdate.MaxSurge
			rolling.MaxSurge = &surge
		}
		if spec.Strategy.RollingUpdate.MaxUnavailable != nil {
			unavailable := *spec.Strategy.RollingUpdate.MaxUnavailable
			rolling.MaxUnavailable = &unavailable
		}
		out.Strategy.RollingUpdate = &rolling
	}
	return &out
}

func copyStatus(status *v1alpha1.RolloutStatus) *v1alpha1.RolloutStatus {
	out := *status
	if status.Conditions != nil {
		out.Conditions = append([]v1alpha1.RolloutCondition(nil), status.Conditions...)
	}
	if status.ReplicaCounts != nil {
		out.ReplicaCounts = make(map[int64]v1alpha1.RevisionCounts, len(status.ReplicaCounts))
		for id, counts := range status.ReplicaCounts {
			out.ReplicaCounts[id] = counts
		}
	}
	return &out
}

package rollout

import (
	"os"

	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"

	"github.com/rolloutkit/rolloutkit/pkg/apis/rollouts/v1alpha1"
)

// persistedState is the on-disk snapshot of one rollout's controller state.
// Pod phase and readiness are re-reported by the lifecycle collaborator
// after a restart; the snapshot preserves identity, ownership and history so
// rollback targets survive the restart.
type persistedState struct {
	Name            string                 `json:"name"`
	Generation      int64                  `json:"generation"`
	Spec            *v1alpha1.RolloutSpec  `json:"spec,omitempty"`
	Paused          bool                   `json:"paused,omitempty"`
	CurrentRevision int64                  `json:"currentRevision"`
	StableRevision  int64                  `json:"stableRevision"`
	PreviousTarget  int64                  `json:"previousTarget,omitempty"`
	Status          v1alpha1.RolloutStatus `json:"status"`
	Revisions       []v1alpha1.Revision    `json:"revisions,omitempty"`
	Pods            []v1alpha1.Pod         `json:"pods,omitempty"`
}

// SaveState writes a snapshot of the controller state to path. The write
// goes through a temp file and rename so a crash mid-write never leaves a
// truncated snapshot behind.
func (c *Controller) SaveState(path string) error {
	c.mu.Lock()
	state := persistedState{
		Name:            c.name,
		Generation:      c.generation,
		Paused:          c.paused,
		CurrentRevision: c.currentRevision,
		StableRevision:  c.stableRevision,
		PreviousTarget:  c.previousTarget,
		Status:          *copyStatus(&c.status),
		Revisions:       c.revisions.History(),
		Pods:            c.store.List(),
	}
	if c.spec != nil {
		state.Spec = copySpec(c.spec)
	}
	c.mu.Unlock()

	data, err := yaml.Marshal(state)
	if err != nil {
		return errors.Wrap(err, "marshal rollout state")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.Wrap(err, "write rollout state")
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrap(err, "rename rollout state")
	}
	return nil
}

// LoadState restores the controller from a snapshot written by SaveState.
// It replaces all in-memory state and schedules a reconciliation.
func (c *Controller) LoadState(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read rollout state")
	}
	var state persistedState
	if err := yaml.Unmarshal(data, &state); err != nil {
		return errors.Wrap(err, "unmarshal rollout state")
	}
	if state.Name != "" && state.Name != c.name {
		return errors.Errorf("state snapshot belongs to rollout %q, not %q", state.Name, c.name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.revisions.Restore(state.Revisions)
	if err := c.store.Restore(state.Pods); err != nil {
		return errors.Wrap(err, "restore pod records")
	}
	c.generation = state.Generation
	c.paused = state.Paused
	c.currentRevision = state.CurrentRevision
	c.stableRevision = state.StableRevision
	c.previousTarget = state.PreviousTarget
	c.status = state.Status
	if state.Spec != nil {
		c.spec = copySpec(state.Spec)
	}

	c.requestTick()
	return nil
}

// Package revision manages revision identity and history: it materializes
// immutable template snapshots, assigns monotonic revision IDs, and prunes
// retained history for rollback.
package revision

import (
	"errors"
	"sync"

	"github.com/rolloutkit/rolloutkit/pkg/apis/rollouts/v1alpha1"
	"github.com/rolloutkit/rolloutkit/podset"
	"github.com/rolloutkit/rolloutkit/utils/hash"
	timeutil "github.com/rolloutkit/rolloutkit/utils/time"
)

// ErrRevisionNotFound is returned when a revision lookup references an ID or
// offset outside the retained history.
var ErrRevisionNotFound = errors.New("revision not found")

// Manager owns the ordered revision history of one rollout. Revision IDs are
// allocated under the manager's lock so they reflect creation order, which
// rollback addressing depends on.
type Manager struct {
	mu        sync.Mutex
	store     *podset.Store
	revisions []*v1alpha1.Revision
	nextID    int64
}

// NewManager returns a manager with an empty history, registering created
// revisions as valid pod owners with the given store.
func NewManager(store *podset.Store) *Manager {
	return &Manager{
		store:  store,
		nextID: 1,
	}
}

// GetOrCreate hashes the template and returns the live revision pinning that
// exact template, if one exists. A revision is live while it owns at least
// one pod or is the current target; matching a live revision is what makes
// a no-op spec edit not trigger a new rollout. Otherwise a new revision with
// the next monotonic ID is materialized.
func (m *Manager) GetOrCreate(template *v1alpha1.PodTemplate, currentTargetID int64) *v1alpha1.Revision {
	m.mu.Lock()
	defer m.mu.Unlock()

	templateHash := hash.ComputePodTemplateHash(template)
	for _, rev := range m.revisions {
		if rev.TemplateHash != templateHash {
			continue
		}
		if rev.ID == currentTargetID || len(m.store.ListByRevision(rev.ID)) > 0 {
			return copyRevision(rev)
		}
	}

	rev := &v1alpha1.Revision{
		ID:           m.nextID,
		TemplateHash: templateHash,
		Template:     *template.DeepCopy(),
		CreatedAt:    timeutil.Now(),
	}
	m.nextID++
	m.revisions = append(m.revisions, rev)
	m.store.RegisterRevision(rev.ID)
	return copyRevision(rev)
}

// Get returns the retained revision with the given ID.
func (m *Manager) Get(revisionID int64) (*v1alpha1.Revision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rev := range m.revisions {
		if rev.ID == revisionID {
			return copyRevision(rev), nil
		}
	}
	return nil, ErrRevisionNotFound
}

// History returns the retained revisions, oldest first.
func (m *Manager) History() []v1alpha1.Revision {
	m.mu.Lock()
	defer m.mu.Unlock()
	history := make([]v1alpha1.Revision, 0, len(m.revisions))
	for _, rev := range m.revisions {
		history = append(history, *copyRevision(rev))
	}
	return history
}

// RevisionAt resolves rollback addressing relative to the current target:
// offset 0 is the current revision, 1 the one before it in retained
// history, and so on.
func (m *Manager) RevisionAt(offsetFromCurrent int, currentID int64) (*v1alpha1.Revision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	currentIdx := -1
	for i, rev := range m.revisions {
		if rev.ID == currentID {
			currentIdx = i
			break
		}
	}
	if currentIdx < 0 {
		return nil, ErrRevisionNotFound
	}
	idx := currentIdx - offsetFromCurrent
	if idx < 0 || idx >= len(m.revisions) {
		return nil, ErrRevisionNotFound
	}
	return copyRevision(m.revisions[idx]), nil
}

// PruneHistory garbage-collects revisions beyond the retention limit,
// oldest first. Only revisions owning zero pods are eligible, and the
// protected revisions (current and stable) are never deleted regardless of
// the limit. A no-op when nothing is eligible.
func (m *Manager) PruneHistory(limit int32, protected ...int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	protectedSet := make(map[int64]struct{}, len(protected))
	for _, id := range protected {
		protectedSet[id] = struct{}{}
	}

	for len(m.revisions) > int(limit) {
		pruned := false
		for i, rev := range m.revisions {
			if _, ok := protectedSet[rev.ID]; ok {
				continue
			}
			if len(m.store.ListByRevision(rev.ID)) > 0 {
				continue
			}
			m.store.ForgetRevision(rev.ID)
			m.revisions = append(m.revisions[:i], m.revisions[i+1:]...)
			pruned = true
			break
		}
		if !pruned {
			return
		}
	}
}

// Restore replaces the history from a persisted snapshot and re-registers
// every revision as a pod owner.
func (m *Manager) Restore(history []v1alpha1.Revision) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revisions = m.revisions[:0]
	m.nextID = 1
	for i := range history {
		rev := history[i]
		rev.Template = *rev.Template.DeepCopy()
		m.revisions = append(m.revisions, &rev)
		m.store.RegisterRevision(rev.ID)
		if rev.ID >= m.nextID {
			m.nextID = rev.ID + 1
		}
	}
}

func copyRevision(rev *v1alpha1.Revision) *v1alpha1.Revision {
	out := *rev
	out.Template = *rev.Template.DeepCopy()
	return &out
}

// Package podset holds the authoritative in-memory record of pod objects
// for one rollout: identity, owning revision, phase and readiness. It holds
// no business logic; the reconciler decides, the external lifecycle
// collaborator reports.
package podset

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rolloutkit/rolloutkit/pkg/apis/rollouts/v1alpha1"
	timeutil "github.com/rolloutkit/rolloutkit/utils/time"
)

var (
	// ErrRevisionNotFound is returned when a pod operation references a
	// revision that is unknown or already garbage-collected.
	ErrRevisionNotFound = errors.New("revision not found")
	// ErrPodNotFound is returned when a pod operation references an unknown
	// pod ID.
	ErrPodNotFound = errors.New("pod not found")
)

// Store is the queryable snapshot of pods owned by one rollout's revisions.
// Distinct rollouts use independent stores; within one store, access is
// serialized by a single lock.
type Store struct {
	mu        sync.RWMutex
	pods      map[string]*v1alpha1.Pod
	order     []string
	revisions map[int64]struct{}
}

// NewStore returns an empty store with no registered revisions.
func NewStore() *Store {
	return &Store{
		pods:      make(map[string]*v1alpha1.Pod),
		revisions: make(map[int64]struct{}),
	}
}

// RegisterRevision makes a revision a valid pod owner. The revision manager
// registers every revision it materializes.
func (s *Store) RegisterRevision(revisionID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revisions[revisionID] = struct{}{}
}

// ForgetRevision drops a garbage-collected revision. Pods still owned by it
// (a programming-defect-class situation) stay in the store and are skipped
// by the reconciler.
func (s *Store) ForgetRevision(revisionID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.revisions, revisionID)
}

// HasRevision reports whether the revision is a registered pod owner.
func (s *Store) HasRevision(revisionID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.revisions[revisionID]
	return ok
}

// List returns copies of all pods in creation order.
func (s *Store) List() []v1alpha1.Pod {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pods := make([]v1alpha1.Pod, 0, len(s.order))
	for _, id := range s.order {
		pods = append(pods, *s.pods[id])
	}
	return pods
}

// ListByRevision returns copies of the pods owned by the given revision, in
// creation order.
func (s *Store) ListByRevision(revisionID int64) []v1alpha1.Pod {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var pods []v1alpha1.Pod
	for _, id := range s.order {
		if pod := s.pods[id]; pod.OwnerRevisionID == revisionID {
			pods = append(pods, *pod)
		}
	}
	return pods
}

// Get returns a copy of the pod with the given ID.
func (s *Store) Get(podID string) (v1alpha1.Pod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pod, ok := s.pods[podID]
	if !ok {
		return v1alpha1.Pod{}, ErrPodNotFound
	}
	return *pod, nil
}

// Create allocates a new Pending pod owned by the given revision.
func (s *Store) Create(ownerRevisionID int64) (v1alpha1.Pod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.revisions[ownerRevisionID]; !ok {
		return v1alpha1.Pod{}, ErrRevisionNotFound
	}
	pod := &v1alpha1.Pod{
		ID:              uuid.NewString(),
		OwnerRevisionID: ownerRevisionID,
		Phase:           v1alpha1.PodPending,
		CreatedAt:       timeutil.Now(),
	}
	s.pods[pod.ID] = pod
	s.order = append(s.order, pod.ID)
	return *pod, nil
}

// MarkPhase records the externally observed pod state. This is the sole
// mutation path for phase/ready/available. A pod the reconciler already
// marked Terminating never regresses to a live phase; its termination is
// finalized through ConfirmTermination.
func (s *Store) MarkPhase(podID string, phase v1alpha1.PodPhase, ready, available bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pod, ok := s.pods[podID]
	if !ok {
		return ErrPodNotFound
	}
	if pod.Phase == v1alpha1.PodTerminating && (phase == v1alpha1.PodPending || phase == v1alpha1.PodRunning) {
		phase = v1alpha1.PodTerminating
	}
	if phase == v1alpha1.PodTerminating || phase == v1alpha1.PodFailed || phase == v1alpha1.PodSucceeded {
		ready = false
		available = false
	}
	if ready && !pod.Ready {
		pod.ReadySince = timeutil.Now()
	}
	if !ready {
		pod.ReadySince = time.Time{}
	}
	pod.Phase = phase
	pod.Ready = ready
	pod.Available = available
	return nil
}

// Delete marks the pod Terminating. The record stays in the store, counting
// toward the surge bound, until the collaborator confirms termination.
func (s *Store) Delete(podID string) error {
	return s.MarkPhase(podID, v1alpha1.PodTerminating, false, false)
}

// ConfirmTermination removes a pod whose termination (or terminal phase)
// the collaborator has confirmed. Removing a Pending or Running pod is a
// contract violation and is rejected.
func (s *Store) ConfirmTermination(podID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pod, ok := s.pods[podID]
	if !ok {
		return ErrPodNotFound
	}
	if pod.Phase == v1alpha1.PodPending || pod.Phase == v1alpha1.PodRunning {
		return errors.New("pod is not terminating")
	}
	delete(s.pods, podID)
	for i, id := range s.order {
		if id == podID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Counts aggregates the replica accounting for one revision. A pod counts
// as available only when the collaborator reports it available and it has
// been continuously ready for at least minReadySeconds; the debounce is
// load-bearing for maxUnavailable accounting.
func (s *Store) Counts(revisionID int64, minReadySeconds int32) v1alpha1.RevisionCounts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := timeutil.Now()
	counts := v1alpha1.RevisionCounts{}
	for _, pod := range s.pods {
		if pod.OwnerRevisionID != revisionID || !pod.IsLive() {
			continue
		}
		counts.Total++
		if pod.Ready && pod.Phase == v1alpha1.PodRunning {
			counts.Ready++
			if pod.Available && podReadyLongEnough(pod, minReadySeconds, now) {
				counts.Available++
			}
		}
	}
	return counts
}

// LiveRevisionIDs returns the distinct revisions that currently own live
// pods, in ascending order of first appearance.
func (s *Store) LiveRevisionIDs() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[int64]struct{})
	var ids []int64
	for _, id := range s.order {
		pod := s.pods[id]
		if !pod.IsLive() {
			continue
		}
		if _, ok := seen[pod.OwnerRevisionID]; !ok {
			seen[pod.OwnerRevisionID] = struct{}{}
			ids = append(ids, pod.OwnerRevisionID)
		}
	}
	return ids
}

func podReadyLongEnough(pod *v1alpha1.Pod, minReadySeconds int32, now time.Time) bool {
	if minReadySeconds <= 0 {
		return true
	}
	if pod.ReadySince.IsZero() {
		return false
	}
	return !now.Before(pod.ReadySince.Add(time.Duration(minReadySeconds) * time.Second))
}

// Restore replaces the store contents from a persisted snapshot.
func (s *Store) Restore(pods []v1alpha1.Pod) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range pods {
		if _, ok := s.revisions[pods[i].OwnerRevisionID]; !ok {
			return ErrRevisionNotFound
		}
	}
	s.pods = make(map[string]*v1alpha1.Pod, len(pods))
	s.order = s.order[:0]
	for i := range pods {
		pod := pods[i]
		s.pods[pod.ID] = &pod
		s.order = append(s.order, pod.ID)
	}
	return nil
}

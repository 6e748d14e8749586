package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rolloutkit/rolloutkit/pkg/apis/rollouts/v1alpha1"
)

type recordingSink struct {
	mu         sync.Mutex
	running    []string
	terminated []string
}

func (r *recordingSink) ObservePod(podID string, phase v1alpha1.PodPhase, ready, available bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if phase == v1alpha1.PodRunning && ready && available {
		r.running = append(r.running, podID)
	}
	return nil
}

func (r *recordingSink) ObservePodTerminated(podID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.terminated = append(r.terminated, podID)
	return nil
}

func (r *recordingSink) snapshot() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.running), len(r.terminated)
}

func TestSimulatorReportsRunning(t *testing.T) {
	sim := NewSimulator(5*time.Millisecond, 5*time.Millisecond)
	defer sim.Close()
	sink := &recordingSink{}
	sim.Bind(sink)

	pod := v1alpha1.Pod{ID: "pod-1", OwnerRevisionID: 1}
	require.NoError(t, sim.CreatePod(context.Background(), pod, v1alpha1.PodTemplate{Image: "app:v1"}))

	assert.Eventually(t, func() bool {
		running, _ := sink.snapshot()
		return running == 1
	}, time.Second, time.Millisecond)
}

func TestSimulatorConfirmsTermination(t *testing.T) {
	sim := NewSimulator(time.Hour, 5*time.Millisecond)
	defer sim.Close()
	sink := &recordingSink{}
	sim.Bind(sink)

	pod := v1alpha1.Pod{ID: "pod-1", OwnerRevisionID: 1}
	require.NoError(t, sim.CreatePod(context.Background(), pod, v1alpha1.PodTemplate{Image: "app:v1"}))
	// Deleting a pod still starting up cancels the startup transition.
	require.NoError(t, sim.DeletePod(context.Background(), pod.ID))

	assert.Eventually(t, func() bool {
		_, terminated := sink.snapshot()
		return terminated == 1
	}, time.Second, time.Millisecond)
	running, _ := sink.snapshot()
	assert.Zero(t, running)
}

func TestSimulatorRejectsAfterClose(t *testing.T) {
	sim := NewSimulator(time.Millisecond, time.Millisecond)
	sim.Bind(&recordingSink{})
	sim.Close()

	err := sim.CreatePod(context.Background(), v1alpha1.Pod{ID: "pod-1"}, v1alpha1.PodTemplate{})
	assert.Error(t, err)
	assert.Error(t, sim.DeletePod(context.Background(), "pod-1"))
}

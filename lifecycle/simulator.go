// Package lifecycle provides an in-process pod lifecycle collaborator: a
// simulator that accepts create/delete requests, brings pods up after a
// startup delay, and reports state transitions back to the controller. It
// stands in for a real scheduler/node agent in the standalone daemon and in
// integration-style tests.
package lifecycle

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/rolloutkit/rolloutkit/pkg/apis/rollouts/v1alpha1"
	logutil "github.com/rolloutkit/rolloutkit/utils/log"
)

// PodEventSink receives the simulated pods' asynchronous state transitions.
// *rollout.Controller satisfies it.
type PodEventSink interface {
	ObservePod(podID string, phase v1alpha1.PodPhase, ready, available bool) error
	ObservePodTerminated(podID string) error
}

// Simulator implements rollout.PodProvisioner. Created pods report Pending
// immediately, become Running and ready after StartupDelay, and deleted pods
// confirm termination after StopDelay.
type Simulator struct {
	StartupDelay time.Duration
	StopDelay    time.Duration

	mu     sync.Mutex
	sink   PodEventSink
	timers map[string]*time.Timer
	closed bool
	log    *log.Entry
}

// NewSimulator returns a simulator with the given delays. Bind must be
// called before the first CreatePod.
func NewSimulator(startupDelay, stopDelay time.Duration) *Simulator {
	return &Simulator{
		StartupDelay: startupDelay,
		StopDelay:    stopDelay,
		timers:       make(map[string]*time.Timer),
		log:          log.WithField("component", "lifecycle-simulator"),
	}
}

// Bind attaches the event sink. The controller and the simulator reference
// each other, so the sink is wired after both are constructed.
func (s *Simulator) Bind(sink PodEventSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
}

// CreatePod accepts the pod and schedules its transition to Running.
func (s *Simulator) CreatePod(ctx context.Context, pod v1alpha1.Pod, template v1alpha1.PodTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return context.Canceled
	}
	s.log.WithField(logutil.PodKey, pod.ID).WithField("image", template.Image).Debug("Starting pod")
	podID := pod.ID
	s.timers[podID] = time.AfterFunc(s.StartupDelay, func() {
		s.mu.Lock()
		delete(s.timers, podID)
		sink := s.sink
		s.mu.Unlock()
		if sink != nil {
			_ = sink.ObservePod(podID, v1alpha1.PodRunning, true, true)
		}
	})
	return nil
}

// DeletePod accepts the delete and schedules the termination confirmation.
// A pod still starting up has its startup timer cancelled first.
func (s *Simulator) DeletePod(ctx context.Context, podID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return context.Canceled
	}
	if timer, ok := s.timers[podID]; ok {
		timer.Stop()
		delete(s.timers, podID)
	}
	s.log.WithField(logutil.PodKey, podID).Debug("Stopping pod")
	s.timers[podID] = time.AfterFunc(s.StopDelay, func() {
		s.mu.Lock()
		delete(s.timers, podID)
		sink := s.sink
		s.mu.Unlock()
		if sink != nil {
			_ = sink.ObservePodTerminated(podID)
		}
	})
	return nil
}

// Close cancels all pending transitions. Pods in flight simply never report
// again, matching a node agent going away.
func (s *Simulator) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
}

// Package controller assembles the moving parts: it multiplexes rollout
// controllers by name, runs one worker per rollout, loads rollout manifests
// and serves the metrics endpoint.
package controller

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"sigs.k8s.io/yaml"

	"github.com/rolloutkit/rolloutkit/controller/metrics"
	"github.com/rolloutkit/rolloutkit/pkg/apis/rollouts/v1alpha1"
	"github.com/rolloutkit/rolloutkit/rollout"
)

// Manager holds the controllers of all known rollouts. Each rollout gets its
// own controller and worker goroutine; rollouts never contend with each
// other.
type Manager struct {
	mu            sync.Mutex
	rollouts      map[string]*rollout.Controller
	metricsServer *metrics.MetricsServer
	resync        time.Duration
}

// NewManager returns a manager. metricsServer may be nil to run without
// instrumentation.
func NewManager(metricsServer *metrics.MetricsServer, resync time.Duration) *Manager {
	return &Manager{
		rollouts:      make(map[string]*rollout.Controller),
		metricsServer: metricsServer,
		resync:        resync,
	}
}

// Register returns the controller for the named rollout, creating it with
// the given provisioner on first use.
func (m *Manager) Register(name string, provisioner rollout.PodProvisioner) *rollout.Controller {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.rollouts[name]; ok {
		return c
	}
	c := rollout.NewController(rollout.ControllerConfig{
		Name:          name,
		Provisioner:   provisioner,
		MetricsServer: m.metricsServer,
	})
	m.rollouts[name] = c
	return c
}

// Get returns the controller for the named rollout, if registered.
func (m *Manager) Get(name string) (*rollout.Controller, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rollouts[name]
	return c, ok
}

// List returns all registered controllers.
func (m *Manager) List() []*rollout.Controller {
	m.mu.Lock()
	defer m.mu.Unlock()
	controllers := make([]*rollout.Controller, 0, len(m.rollouts))
	for _, c := range m.rollouts {
		controllers = append(controllers, c)
	}
	return controllers
}

// Run starts one worker per registered rollout plus the metrics server, and
// blocks until the context is cancelled.
func (m *Manager) Run(ctx context.Context) {
	controllers := m.List()
	log.Infof("Starting rollout manager with %d rollouts", len(controllers))

	var wg sync.WaitGroup
	for _, c := range controllers {
		wg.Add(1)
		go func(c *rollout.Controller) {
			defer wg.Done()
			c.Run(ctx, m.resync)
		}(c)
	}

	if m.metricsServer != nil {
		go func() {
			log.Infof("Starting Metric Server at %s", m.metricsServer.Addr)
			if err := m.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("Metrics server exited")
			}
		}()
	}

	<-ctx.Done()
	if m.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.metricsServer.Shutdown(shutdownCtx)
	}
	wg.Wait()
	log.Info("Rollout manager stopped")
}

// LoadManifests reads rollout manifests (YAML or JSON) from a directory,
// sorted by file name. Subdirectories are ignored.
func LoadManifests(dir string) ([]v1alpha1.Rollout, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "read manifest directory")
	}
	var rollouts []v1alpha1.Rollout
	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml" && ext != ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, errors.Wrapf(err, "read manifest %s", entry.Name())
		}
		var ro v1alpha1.Rollout
		if err := yaml.Unmarshal(data, &ro); err != nil {
			return nil, errors.Wrapf(err, "parse manifest %s", entry.Name())
		}
		if ro.Name == "" {
			return nil, errors.Errorf("manifest %s does not name a rollout", entry.Name())
		}
		rollouts = append(rollouts, ro)
	}
	return rollouts, nil
}

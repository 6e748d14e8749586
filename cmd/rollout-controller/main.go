package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rolloutkit/rolloutkit/controller"
	"github.com/rolloutkit/rolloutkit/controller/metrics"
	"github.com/rolloutkit/rolloutkit/lifecycle"
)

const cliName = "rollout-controller"

func newCommand() *cobra.Command {
	var (
		logLevel     string
		logFormat    string
		metricsPort  int
		resync       time.Duration
		manifestDir  string
		stateDir     string
		startupDelay time.Duration
		stopDelay    time.Duration
	)
	command := cobra.Command{
		Use:   cliName,
		Short: "Workload rollout controller",
		RunE: func(c *cobra.Command, args []string) error {
			setLogLevel(logLevel)
			if logFormat == "json" {
				log.SetFormatter(&log.JSONFormatter{})
			} else {
				log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rollouts, err := controller.LoadManifests(manifestDir)
			if err != nil {
				return err
			}
			if len(rollouts) == 0 {
				return fmt.Errorf("no rollout manifests found in %s", manifestDir)
			}

			metricsServer := metrics.NewMetricsServer(fmt.Sprintf("0.0.0.0:%d", metricsPort))
			manager := controller.NewManager(metricsServer, resync)

			var simulators []*lifecycle.Simulator
			for _, ro := range rollouts {
				sim := lifecycle.NewSimulator(startupDelay, stopDelay)
				simulators = append(simulators, sim)
				ctrl := manager.Register(ro.Name, sim)
				sim.Bind(ctrl)

				if stateDir != "" {
					statePath := filepath.Join(stateDir, ro.Name+".yaml")
					if _, err := os.Stat(statePath); err == nil {
						if err := ctrl.LoadState(statePath); err != nil {
							return err
						}
						log.Infof("Restored rollout %q from %s", ro.Name, statePath)
					}
				}
				if err := ctrl.Apply(ro.Spec); err != nil {
					return err
				}
			}

			manager.Run(ctx)

			for _, sim := range simulators {
				sim.Close()
			}
			if stateDir != "" {
				if err := os.MkdirAll(stateDir, 0o700); err != nil {
					return err
				}
				for _, ctrl := range manager.List() {
					statePath := filepath.Join(stateDir, ctrl.Name()+".yaml")
					if err := ctrl.SaveState(statePath); err != nil {
						log.WithError(err).Errorf("Unable to save state for rollout %q", ctrl.Name())
					}
				}
			}
			return nil
		},
	}
	command.Flags().StringVar(&logLevel, "loglevel", "info", "Set the logging level. One of: debug|info|warn|error")
	command.Flags().StringVar(&logFormat, "logformat", "text", "Set the logging format. One of: text|json")
	command.Flags().IntVar(&metricsPort, "metricsport", 8090, "Set the port the metrics endpoint should be exposed over")
	command.Flags().DurationVar(&resync, "resync", 15*time.Second, "Period between full reconciliations of each rollout")
	command.Flags().StringVar(&manifestDir, "manifest-dir", "manifests", "Directory holding rollout manifests")
	command.Flags().StringVar(&stateDir, "state-dir", "", "Directory for state snapshots; empty disables persistence")
	command.Flags().DurationVar(&startupDelay, "startup-delay", 2*time.Second, "Simulated pod startup time")
	command.Flags().DurationVar(&stopDelay, "stop-delay", 1*time.Second, "Simulated pod termination time")
	return &command
}

func setLogLevel(logLevel string) {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		log.Fatal(err)
	}
	log.SetLevel(level)
}

func main() {
	if err := newCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Command rtcored is the process entry point: it loads configuration,
// wires every component in the documented init order, reconciles the
// Process Registry against any runs left over from a prior process, and
// blocks until SIGINT/SIGTERM, then tears everything down in reverse
// order. It deliberately does not expose a CLI surface beyond these
// flags; submitting runs, ingestion jobs, or drift evaluations is done
// through the packages directly by an embedding program.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"pulse.dev/rtcore/common"
	"pulse.dev/rtcore/config"
	"pulse.dev/rtcore/version"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional; defaults and RTCORE_ env vars still apply)")
	flag.Parse()

	log := common.ComponentLogger(common.Logger, "rtcored")

	build := version.GetBuildInfo()
	log.WithFields(map[string]interface{}{"go_version": build.GoVersion, "module_version": build.MainVersion}).Info("starting")

	manager, err := config.NewManager(*configPath, "RTCORE")
	if err != nil {
		log.WithError(err).Error("failed to load configuration")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, manager.Current())
	if err != nil {
		log.WithError(err).Error("failed to wire components")
		os.Exit(1)
	}
	defer a.Close()

	manager.Subscribe("rtcored", func(next *config.Config) error {
		log.Warn("configuration changed; restart the process to apply it (hot-reload is per-component, not whole-process)")
		return nil
	})

	a.reg.Reconcile(ctx, a.store, knownRunIDs(manager.Current()), manager.Current().Registry.OrphanThreshold)

	log.WithField("service", manager.Current().Service.Name).Info("rtcored started")

	<-ctx.Done()
	log.Info("shutdown signal received, draining in-flight work")
}

// knownRunIDs is a placeholder extension point: a deployment that
// persists its own list of run IDs outside the Store (e.g. alongside its
// job scheduler) supplies them here so Reconcile can classify each as
// resumable or orphaned on startup. With none configured, reconciliation
// is a no-op.
func knownRunIDs(cfg *config.Config) []string {
	return nil
}

// Package bootstrap implements startup ordering, the lifecycle of
// background plugin discovery, and graceful shutdown (§4.H). It is the one
// place that constructs every core collaborator and wires them together,
// so request handlers and background sweeps receive them as explicit
// arguments rather than reaching for package-level globals (§9).
package bootstrap

import (
	"context"
	"fmt"

	"orchestrator/internal/artifact"
	"orchestrator/internal/config"
	"orchestrator/internal/httpapi"
	"orchestrator/internal/ingest"
	"orchestrator/internal/logger"
	"orchestrator/internal/plugin"
	"orchestrator/internal/registry"
	"orchestrator/internal/scheduler"
	"orchestrator/internal/task"
)

// App is the fully wired orchestrator: every core component plus the
// background scheduler, ready to serve once Start returns.
type App struct {
	Config     *config.Config
	Registry   *registry.Registry
	Store      *artifact.Store
	Supervisor *plugin.Supervisor
	Tasks      *task.Manager
	Scheduler  *scheduler.Scheduler
	Server     *httpapi.Server
}

// New constructs every core collaborator from cfg but does not yet start
// any background work. It loads the declarative plugin config file; a
// missing file yields zero plugins rather than an error (§4.C).
func New(cfg *config.Config) (*App, error) {
	log := logger.Component("bootstrap")

	pluginFile, err := config.LoadPluginFile(cfg.PluginConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load plugin config: %w", err)
	}
	log.Info().Int("plugins", len(pluginFile.Plugins)).Str("path", cfg.PluginConfigPath).Msg("loaded plugin config")

	reg := registry.New()
	sup := plugin.New(cfg, pluginFile.Settings, pluginFile.Plugins, reg)
	store := artifact.New(reg, cfg.RemoteSubmitTimeout)
	tasks := task.New(cfg.TaskWorkerCount)
	sched := scheduler.New()
	server := httpapi.New(cfg, store, reg, sup, tasks)

	return &App{
		Config:     cfg,
		Registry:   reg,
		Store:      store,
		Supervisor: sup,
		Tasks:      tasks,
		Scheduler:  sched,
		Server:     server,
	}, nil
}

// Start runs the ingest loader synchronously (so the HTTP front-end has
// default artifacts to list as soon as it serves its first request), then
// launches plugin startup and the periodic sweeps in the background so the
// HTTP front-end does not wait on any plugin process (§4.H).
func (a *App) Start(ctx context.Context) {
	log := logger.Component("bootstrap")

	count, err := ingest.LoadDefaults(a.Store, a.Config.DefaultArtifactsPath)
	if err != nil {
		log.Warn().Err(err).Msg("failed to load default artifacts")
	} else if count > 0 {
		log.Info().Int("count", count).Msg("seeded default artifacts")
	}

	go func() {
		results := a.Supervisor.StartAll(ctx)
		healthy := 0
		for name, ok := range results {
			if ok {
				healthy++
			} else {
				log.Warn().Str("plugin", name).Msg("plugin did not start")
			}
		}
		log.Info().Int("healthy", healthy).Int("total", len(results)).Msg("plugin startup complete")
	}()

	if err := a.Scheduler.Every("supervisor-sweep", a.Config.SupervisorSweepEvery, func() {
		actions, err := a.Supervisor.CheckAndRestart(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("check-and-restart sweep reported errors")
		}
		for name, action := range actions {
			if action != "ok" {
				log.Info().Str("plugin", name).Str("action", action).Msg("supervisor sweep")
			}
		}
	}); err != nil {
		log.Error().Err(err).Msg("failed to schedule supervisor sweep")
	}

	if err := a.Scheduler.Every("task-cleanup", a.Config.TaskCleanupInterval, func() {
		removed := a.Tasks.Cleanup(a.Config.TaskCleanupMaxAge)
		if removed > 0 {
			log.Info().Int("removed", removed).Msg("reaped terminal tasks")
		}
	}); err != nil {
		log.Error().Err(err).Msg("failed to schedule task cleanup")
	}

	a.Scheduler.Start()
}

// Shutdown stops the Task Manager before the Supervisor, matching §4.H's
// mandatory ordering: in-flight tasks may be holding a plugin's
// connection, so they are drained before plugin processes are killed.
func (a *App) Shutdown() {
	log := logger.Component("bootstrap")

	log.Info().Msg("stopping scheduler")
	a.Scheduler.Stop()

	log.Info().Msg("shutting down task manager")
	a.Tasks.Shutdown(true, true)

	log.Info().Msg("stopping plugin supervisor")
	a.Supervisor.StopAll()
}

// Package plugin implements the Plugin Supervisor (§4.C): it loads the
// declarative plugin configuration, launches plugin child processes on
// dynamically allocated ports, health-checks and restarts them per policy,
// and feeds their advertised capabilities into the Capability Registry.
package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/natefinch/lumberjack"
	"github.com/pkg/errors"

	"orchestrator/internal/config"
	"orchestrator/internal/logger"
	"orchestrator/internal/model"
	"orchestrator/internal/portalloc"
	"orchestrator/internal/registry"
	"orchestrator/internal/remoteclient"
)

// Supervisor is the Plugin Supervisor. It exclusively owns Plugin Records
// and their OS processes.
type Supervisor struct {
	mu       sync.Mutex
	records  map[string]*pluginRecord
	settings config.PluginSettings
	cfg      *config.Config
	registry *registry.Registry
}

// New builds a Supervisor over the given plugin entries. Entries are keyed
// by name; a missing plugin config file upstream (config.LoadPluginFile)
// simply yields an empty entries slice, matching "missing file ⇒ no
// plugins."
func New(cfg *config.Config, settings config.PluginSettings, entries []config.PluginEntry, reg *registry.Registry) *Supervisor {
	records := make(map[string]*pluginRecord, len(entries))
	for _, e := range entries {
		records[e.Name] = &pluginRecord{entry: e, state: model.PluginDefined}
	}
	return &Supervisor{records: records, settings: settings, cfg: cfg, registry: reg}
}

// Status returns a snapshot of the named plugin record.
func (s *Supervisor) Status(name string) (Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[name]
	if !ok {
		return Status{}, false
	}
	return rec.snapshot(name), true
}

// List returns a snapshot of every plugin record.
func (s *Supervisor) List() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Status, 0, len(s.records))
	for name, rec := range s.records {
		out = append(out, rec.snapshot(name))
	}
	return out
}

// StartAll attempts start_plugin for every auto_start plugin concurrently
// and tolerates partial failure, returning a per-plugin success map.
func (s *Supervisor) StartAll(ctx context.Context) map[string]bool {
	log := logger.Component("supervisor")

	s.mu.Lock()
	names := make([]string, 0, len(s.records))
	for name, rec := range s.records {
		if rec.entry.AutoStart {
			names = append(names, name)
		}
	}
	s.mu.Unlock()

	results := make(map[string]bool, len(names))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			err := s.startWithRetries(ctx, name)
			mu.Lock()
			results[name] = err == nil
			mu.Unlock()
			if err != nil {
				log.Warn().Str("plugin", name).Err(err).Msg("plugin failed to start")
			}
		}(name)
	}
	wg.Wait()
	return results
}

func (s *Supervisor) startWithRetries(ctx context.Context, name string) error {
	var lastErr error
	for attempt := 0; attempt < s.maxPortRetries(); attempt++ {
		if err := s.startPlugin(ctx, name); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	s.setState(name, model.PluginDead)
	return lastErr
}

func (s *Supervisor) maxPortRetries() int {
	if s.cfg != nil && s.cfg.PluginMaxPortRetries > 0 {
		return s.cfg.PluginMaxPortRetries
	}
	return 3
}

// startPlugin performs one attempt of §4.C's start_plugin sequence: port
// allocation, spawn, health poll, /info fetch, registration.
func (s *Supervisor) startPlugin(ctx context.Context, name string) error {
	log := logger.Component("supervisor")

	s.mu.Lock()
	rec, ok := s.records[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("unknown plugin %q", name)
	}
	entry := rec.entry
	rec.state = model.PluginStarting
	s.mu.Unlock()

	if len(entry.Command) == 0 {
		return fmt.Errorf("plugin %q has no command configured", name)
	}

	port, err := portalloc.Allocate()
	if err != nil {
		return errors.Wrapf(err, "allocate port for %q", name)
	}
	url := fmt.Sprintf("http://127.0.0.1:%d", port)

	args := append(append([]string{}, entry.Command[1:]...), fmt.Sprintf("--port=%d", port))
	cmd := exec.Command(entry.Command[0], args...)
	cmd.Dir = entry.Cwd
	configureProcessGroup(cmd)

	var logFile *lumberjack.Logger
	if entry.LogFile != "" {
		logFile = &lumberjack.Logger{Filename: entry.LogFile, MaxSize: 10, MaxBackups: 3, MaxAge: 7, Compress: true}
		cmd.Stdout = logFile
		cmd.Stderr = logFile
	}

	if err := cmd.Start(); err != nil {
		if logFile != nil {
			logFile.Close()
		}
		return errors.Wrapf(err, "spawn %q", name)
	}

	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()

	info, err := s.waitForHealth(ctx, url, exited)
	if err != nil {
		killProcessGroup(cmd)
		<-exited
		if logFile != nil {
			logFile.Close()
		}
		return err
	}

	s.mu.Lock()
	rec.url = url
	rec.cmd = cmd
	rec.exited = exited
	rec.info = info
	rec.state = model.PluginHealthy
	rec.logFile = logFile
	s.mu.Unlock()

	s.registry.RegisterPlugin(url, info)
	log.Info().Str("plugin", name).Str("url", url).Msg("plugin healthy")
	return nil
}

// waitForHealth polls GET /health with exponential backoff (0.1s to 1.0s,
// factor 1.5) until it answers {status: "ok", api_version: 1}, the startup
// timeout elapses, or the child
// process exits; on success it fetches /info.
func (s *Supervisor) waitForHealth(ctx context.Context, url string, exited chan struct{}) (model.PluginInfo, error) {
	client := remoteclient.New(url, "plugin-health")
	backoff := &remoteclient.PollBackoff{
		Interval: s.cfg.PluginHealthInitial,
		Max:      s.cfg.PluginHealthMax,
		Factor:   s.cfg.PluginHealthFactor,
	}
	deadline := time.Now().Add(s.cfg.PluginStartupTimeout)

	for {
		select {
		case <-exited:
			return model.PluginInfo{}, fmt.Errorf("plugin process exited before becoming healthy")
		default:
		}

		resp, err := client.GET(ctx, "/health", s.cfg.PluginHealthTimeout)
		if err == nil {
			status, _ := resp["status"].(string)
			apiVersion, _ := resp["api_version"].(float64)
			if status == "ok" && apiVersion == 1 {
				return s.fetchInfo(ctx, url)
			}
		}

		if time.Now().After(deadline) {
			return model.PluginInfo{}, fmt.Errorf("plugin did not become healthy within %s", s.cfg.PluginStartupTimeout)
		}

		select {
		case <-exited:
			return model.PluginInfo{}, fmt.Errorf("plugin process exited before becoming healthy")
		case <-time.After(backoff.Next()):
		}
	}
}

func (s *Supervisor) fetchInfo(ctx context.Context, url string) (model.PluginInfo, error) {
	client := remoteclient.New(url, "plugin-info")
	resp, err := client.GET(ctx, "/info", s.cfg.PluginInfoTimeout)
	if err != nil {
		return model.PluginInfo{}, err
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return model.PluginInfo{}, err
	}
	var info model.PluginInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return model.PluginInfo{}, err
	}
	return info, nil
}

// CheckAndRestart runs one check-and-restart sweep over every plugin,
// returning a per-plugin action tag ({ok, restarted, dead, skipped}) and an
// aggregated error for any plugin that failed to restart.
func (s *Supervisor) CheckAndRestart(ctx context.Context) (map[string]string, error) {
	s.mu.Lock()
	names := make([]string, 0, len(s.records))
	for name := range s.records {
		names = append(names, name)
	}
	s.mu.Unlock()

	actions := make(map[string]string, len(names))
	var errs *multierror.Error
	for _, name := range names {
		action, err := s.checkAndRestartOne(ctx, name)
		actions[name] = action
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return actions, errs.ErrorOrNil()
}

func (s *Supervisor) checkAndRestartOne(ctx context.Context, name string) (string, error) {
	s.mu.Lock()
	rec, ok := s.records[name]
	if !ok {
		s.mu.Unlock()
		return "skipped", nil
	}
	if rec.alive() {
		s.mu.Unlock()
		return "ok", nil
	}
	if rec.state == model.PluginStopped {
		s.mu.Unlock()
		return "skipped", nil
	}
	policy := rec.entry.Restart
	restartCount := rec.restartCount
	maxRestarts := s.settings.MaxRestarts
	s.mu.Unlock()

	switch policy {
	case model.RestartNever:
		s.setState(name, model.PluginDead)
		return "dead", nil
	case model.RestartOnFailure:
		if restartCount >= maxRestarts {
			s.setState(name, model.PluginDead)
			return "dead", nil
		}
	case model.RestartAlways:
		// always attempt, regardless of restart count
	default:
		s.setState(name, model.PluginDead)
		return "dead", nil
	}

	s.setState(name, model.PluginRestarting)
	if err := s.startWithRetries(ctx, name); err != nil {
		return "dead", err
	}

	s.mu.Lock()
	rec.restartCount++
	s.mu.Unlock()
	return "restarted", nil
}

// StopAll terminates every running plugin process: SIGTERM to the process
// group, wait up to 5s, then SIGKILL and wait up to 2s. On Windows the
// child process itself is killed at the first step; no break signal is
// sent and its process group is not signalled.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	recs := make([]*pluginRecord, 0, len(s.records))
	for _, rec := range s.records {
		recs = append(recs, rec)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, rec := range recs {
		wg.Add(1)
		go func(rec *pluginRecord) {
			defer wg.Done()
			s.stopOne(rec)
		}(rec)
	}
	wg.Wait()
}

func (s *Supervisor) stopOne(rec *pluginRecord) {
	s.mu.Lock()
	cmd := rec.cmd
	exited := rec.exited
	logFile := rec.logFile
	s.mu.Unlock()

	if cmd != nil && exited != nil {
		select {
		case <-exited:
		default:
			terminateProcessGroup(cmd)
			select {
			case <-exited:
			case <-time.After(5 * time.Second):
				killProcessGroup(cmd)
				select {
				case <-exited:
				case <-time.After(2 * time.Second):
				}
			}
		}
	}
	if logFile != nil {
		logFile.Close()
	}

	s.mu.Lock()
	rec.state = model.PluginStopped
	rec.cmd = nil
	s.mu.Unlock()
}

func (s *Supervisor) setState(name string, state model.PluginState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[name]; ok {
		rec.state = state
	}
}

// Package scheduler runs the two periodic sweeps named in §4.H: the
// Supervisor's check-and-restart pass and the Task Manager's cleanup pass.
//
// It is grounded on the teacher's PluginScheduler
// (internal/plugins/scheduler.go): one shared robfig/cron/v3 instance,
// jobs registered by name, each wrapped with panic recovery so a single bad
// sweep never kills the scheduler.
package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"orchestrator/internal/logger"
)

// Scheduler wraps a single cron.Cron instance.
type Scheduler struct {
	cron *cron.Cron
}

// New returns a scheduler with no jobs registered yet.
func New() *Scheduler {
	return &Scheduler{cron: cron.New()}
}

// Every registers job to run on a fixed interval, wrapped with panic
// recovery and logging under name.
func (s *Scheduler) Every(name string, interval time.Duration, job func()) error {
	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", interval), wrapJob(name, job))
	if err != nil {
		return fmt.Errorf("schedule %q: %w", name, err)
	}
	return nil
}

// Start begins running scheduled jobs in a background goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler and blocks until any in-flight job finishes.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func wrapJob(name string, job func()) func() {
	log := logger.Component("scheduler")
	return func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Str("job", name).Interface("panic", r).Msg("scheduled job panicked")
			}
		}()
		log.Debug().Str("job", name).Msg("running scheduled job")
		job()
	}
}

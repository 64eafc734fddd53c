// Package task implements the Task Manager (§4.F): a bounded worker pool
// that runs long-running analyses with cancellation, status tracking, and
// age-based reaping, plus the Remote Task Driver (§4.G) that drives one
// such analysis to completion against a remote plugin.
//
// The pool is hand-rolled on goroutines and a buffered channel rather than
// a third-party pool library: nothing in the retrieval pack exposes the
// exact Submit semantics this spec needs (an opaque id returned
// immediately, a per-task cancel token injected into the job closure,
// per-task timestamps) without an adapter layer thick enough to make the
// library add no value over sync.WaitGroup and a channel.
package task

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"orchestrator/internal/cancel"
	apierrors "orchestrator/internal/errors"
	"orchestrator/internal/logger"
	"orchestrator/internal/model"
)

// RunFunc executes one task's work and always returns a result record,
// even on failure (§4.G: "the driver must never raise"). A RunFunc that
// panics is treated by the worker as an internal failure.
type RunFunc func(config map[string]interface{}) model.TaskResult

type job struct {
	id     string
	runFn  RunFunc
	config map[string]interface{}
}

// Manager is the Task Manager: a mutex-guarded task map backed by a fixed
// pool of worker goroutines.
type Manager struct {
	mu     sync.Mutex
	tasks  map[string]*model.Task
	tokens map[string]*cancel.Token
	closed bool

	jobs   chan job
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New starts a Task Manager with maxWorkers concurrent worker goroutines.
func New(maxWorkers int) *Manager {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	m := &Manager{
		tasks:  make(map[string]*model.Task),
		tokens: make(map[string]*cancel.Token),
		jobs:   make(chan job, maxWorkers*16),
		stopCh: make(chan struct{}),
	}
	for i := 0; i < maxWorkers; i++ {
		m.wg.Add(1)
		go m.worker()
	}
	return m
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			m.drain()
			return
		case j, ok := <-m.jobs:
			if !ok {
				return
			}
			m.run(j)
		}
	}
}

// drain runs any jobs already queued at shutdown time without blocking for
// new ones; cancelled tasks resolve near-instantly (see run), so this
// finishes quickly.
func (m *Manager) drain() {
	for {
		select {
		case j := <-m.jobs:
			m.run(j)
		default:
			return
		}
	}
}

// Submit generates an opaque task id, records a pending Task, and hands
// runFn to the worker pool. It returns immediately.
func (m *Manager) Submit(owner, artifactID, pluginName string, runFn RunFunc, config map[string]interface{}) (string, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", apierrors.InternalServer("task manager is shutting down")
	}
	id := newTaskID()
	m.tasks[id] = &model.Task{
		ID:         id,
		Owner:      owner,
		ArtifactID: artifactID,
		PluginName: pluginName,
		Config:     config,
		Status:     model.TaskPending,
		CreatedAt:  time.Now(),
	}
	tok := cancel.NewToken()
	m.tokens[id] = tok
	m.mu.Unlock()

	m.jobs <- job{id: id, runFn: runFn, config: config}
	return id, nil
}

// Get returns a snapshot of the task for id.
func (m *Manager) Get(id string) (model.Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return model.Task{}, false
	}
	return *t, true
}

// Cancel sets id's cancel token, unless the task is already terminal.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok || t.Status.IsTerminal() {
		m.mu.Unlock()
		return false
	}
	tok := m.tokens[id]
	m.mu.Unlock()
	tok.Set()
	return true
}

// List returns a snapshot of every task, optionally filtered to one owner.
func (m *Manager) List(owner string) []model.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		if owner != "" && t.Owner != owner {
			continue
		}
		out = append(out, *t)
	}
	return out
}

// Cleanup removes terminal tasks whose completed_at is older than maxAge,
// returning the count removed.
func (m *Manager) Cleanup(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	removed := 0
	for id, t := range m.tasks {
		if t.Status.IsTerminal() && t.CompletedAt != nil && now.Sub(*t.CompletedAt) > maxAge {
			delete(m.tasks, id)
			delete(m.tokens, id)
			removed++
		}
	}
	return removed
}

// Shutdown stops accepting submissions, optionally cancels every
// non-terminal task, and optionally waits for the worker pool to drain.
func (m *Manager) Shutdown(wait, cancelFutures bool) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	if cancelFutures {
		for _, tok := range m.tokens {
			tok.Set()
		}
	}
	m.mu.Unlock()

	close(m.stopCh)
	if wait {
		m.wg.Wait()
	}
}

func (m *Manager) run(j job) {
	log := logger.Component("task")
	tok := m.tokenFor(j.id)

	if tok.IsSet() {
		m.finish(j.id, model.TaskCancelled, nil, "")
		return
	}
	m.markRunning(j.id)

	effectiveConfig := make(map[string]interface{}, len(j.config)+1)
	for k, v := range j.config {
		effectiveConfig[k] = v
	}
	effectiveConfig["_cancel_token"] = tok

	result, panicErr := m.invoke(j.runFn, effectiveConfig)
	if panicErr != nil {
		log.Error().Str("task_id", j.id).Err(panicErr).Msg("task run_fn panicked")
		m.finish(j.id, model.TaskFailed, nil, panicErr.Error())
		return
	}

	if tok.IsSet() {
		m.finish(j.id, model.TaskCancelled, &result, "")
		return
	}
	m.finish(j.id, model.TaskCompleted, &result, "")
}

func (m *Manager) invoke(runFn RunFunc, config map[string]interface{}) (result model.TaskResult, panicErr error) {
	defer func() {
		if r := recover(); r != nil {
			panicErr = panicToError(r)
		}
	}()
	result = runFn(config)
	return
}

func (m *Manager) tokenFor(id string) *cancel.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens[id]
}

func (m *Manager) markRunning(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return
	}
	now := time.Now()
	t.StartedAt = &now
	t.Status = model.TaskRunning
}

// finish writes completed_at before the terminal status, matching
// invariant I2.
func (m *Manager) finish(id string, status model.TaskStatus, result *model.TaskResult, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return
	}
	now := time.Now()
	t.CompletedAt = &now
	t.Result = result
	t.Error = errMsg
	t.Status = status
}

func newTaskID() string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func panicToError(r interface{}) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", r)
}

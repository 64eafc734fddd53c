package task

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchestrator/internal/model"
)

func waitForTerminal(t *testing.T, m *Manager, id string, timeout time.Duration) model.Task {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		task, ok := m.Get(id)
		require.True(t, ok)
		if task.Status.IsTerminal() {
			return task
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("task %s did not reach a terminal state within %s", id, timeout)
	return model.Task{}
}

func TestSubmitRunsToCompletion(t *testing.T) {
	m := New(2)
	defer m.Shutdown(true, true)

	runFn := func(config map[string]interface{}) model.TaskResult {
		return model.TaskResult{Summary: "done"}
	}

	id, err := m.Submit("alice", "g1", "nash", runFn, nil)
	require.NoError(t, err)
	assert.Len(t, id, 8)

	task := waitForTerminal(t, m, id, time.Second)
	assert.Equal(t, model.TaskCompleted, task.Status)
	require.NotNil(t, task.Result)
	assert.Equal(t, "done", task.Result.Summary)
	assert.NotNil(t, task.StartedAt)
	assert.NotNil(t, task.CompletedAt)
	assert.False(t, task.CreatedAt.After(*task.StartedAt))
	assert.False(t, task.StartedAt.After(*task.CompletedAt))
}

func TestSubmitRunFnPanicProducesFailedTask(t *testing.T) {
	m := New(1)
	defer m.Shutdown(true, true)

	runFn := func(config map[string]interface{}) model.TaskResult {
		panic("boom")
	}
	id, err := m.Submit("alice", "g1", "nash", runFn, nil)
	require.NoError(t, err)

	task := waitForTerminal(t, m, id, time.Second)
	assert.Equal(t, model.TaskFailed, task.Status)
	assert.Contains(t, task.Error, "boom")
	assert.NotNil(t, task.CompletedAt)
}

func TestCancelBeforeStartSkipsWork(t *testing.T) {
	m := New(1)
	defer m.Shutdown(true, true)

	started := make(chan struct{})
	block := make(chan struct{})
	// Occupy the single worker so our target task never starts.
	_, err := m.Submit("alice", "g1", "nash", func(config map[string]interface{}) model.TaskResult {
		close(started)
		<-block
		return model.TaskResult{Summary: "first"}
	}, nil)
	require.NoError(t, err)
	<-started

	ran := false
	id, err := m.Submit("alice", "g1", "nash", func(config map[string]interface{}) model.TaskResult {
		ran = true
		return model.TaskResult{Summary: "second"}
	}, nil)
	require.NoError(t, err)

	require.True(t, m.Cancel(id))
	close(block)

	task := waitForTerminal(t, m, id, time.Second)
	assert.Equal(t, model.TaskCancelled, task.Status)
	assert.False(t, ran, "a task cancelled before it starts must never invoke run_fn")
}

func TestCancelOnTerminalTaskReturnsFalse(t *testing.T) {
	m := New(1)
	defer m.Shutdown(true, true)

	id, err := m.Submit("alice", "g1", "nash", func(config map[string]interface{}) model.TaskResult {
		return model.TaskResult{Summary: "done"}
	}, nil)
	require.NoError(t, err)
	waitForTerminal(t, m, id, time.Second)

	assert.False(t, m.Cancel(id))
}

func TestCancelUnknownTaskReturnsFalse(t *testing.T) {
	m := New(1)
	defer m.Shutdown(true, true)
	assert.False(t, m.Cancel("ffffffff"))
}

func TestListFiltersByOwner(t *testing.T) {
	m := New(2)
	defer m.Shutdown(true, true)

	runFn := func(config map[string]interface{}) model.TaskResult { return model.TaskResult{} }
	idA, err := m.Submit("alice", "g1", "nash", runFn, nil)
	require.NoError(t, err)
	idB, err := m.Submit("bob", "g1", "nash", runFn, nil)
	require.NoError(t, err)
	waitForTerminal(t, m, idA, time.Second)
	waitForTerminal(t, m, idB, time.Second)

	aliceTasks := m.List("alice")
	require.Len(t, aliceTasks, 1)
	assert.Equal(t, idA, aliceTasks[0].ID)

	assert.Len(t, m.List(""), 2)
}

func TestCleanupRemovesOldTerminalTasks(t *testing.T) {
	m := New(1)
	defer m.Shutdown(true, true)

	id, err := m.Submit("alice", "g1", "nash", func(config map[string]interface{}) model.TaskResult {
		return model.TaskResult{}
	}, nil)
	require.NoError(t, err)
	waitForTerminal(t, m, id, time.Second)

	assert.Equal(t, 0, m.Cleanup(time.Hour), "a freshly completed task is not old enough to reap")

	m.mu.Lock()
	past := time.Now().Add(-2 * time.Hour)
	m.tasks[id].CompletedAt = &past
	m.mu.Unlock()

	assert.Equal(t, 1, m.Cleanup(time.Hour))
	_, ok := m.Get(id)
	assert.False(t, ok)
}

func TestShutdownRejectsFurtherSubmissions(t *testing.T) {
	m := New(1)
	m.Shutdown(true, false)

	_, err := m.Submit("alice", "g1", "nash", func(config map[string]interface{}) model.TaskResult {
		return model.TaskResult{}
	}, nil)
	assert.Error(t, err)
}

func TestShutdownWithCancelFuturesCancelsInFlightTask(t *testing.T) {
	m := New(1)

	started := make(chan struct{})
	var mu sync.Mutex
	var observedCancelled bool

	id, err := m.Submit("alice", "g1", "nash", func(config map[string]interface{}) model.TaskResult {
		close(started)
		tok, _ := config["_cancel_token"].(interface{ IsSet() bool })
		for i := 0; i < 200 && !tok.IsSet(); i++ {
			time.Sleep(time.Millisecond)
		}
		mu.Lock()
		observedCancelled = tok.IsSet()
		mu.Unlock()
		return model.TaskResult{Summary: "partial"}
	}, nil)
	require.NoError(t, err)
	<-started

	m.Shutdown(true, true)

	task, ok := m.Get(id)
	require.True(t, ok)
	assert.Equal(t, model.TaskCancelled, task.Status)
	require.NotNil(t, task.Result, "result is retained even when cancelled mid-run")
	mu.Lock()
	assert.True(t, observedCancelled)
	mu.Unlock()
}

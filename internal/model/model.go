// Package model holds the data types shared across the orchestrator's
// components (§3), so that the Capability Registry, Artifact Store, Task
// Manager, and Plugin Supervisor can refer to the same shapes without
// importing each other.
package model

import "time"

// Artifact is an immutable, self-describing game representation (§3). It is
// never mutated after creation; replacing one by id is how the Artifact
// Store models an update.
type Artifact struct {
	ID         string                 `json:"id"`
	FormatName string                 `json:"format_name"`
	Title      string                 `json:"title"`
	Players    []string               `json:"players"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
}

// AsWire flattens the artifact into the dict shape the plugin HTTP contract
// expects as the "game" field of a request body.
func (a Artifact) AsWire() map[string]interface{} {
	out := map[string]interface{}{
		"id":          a.ID,
		"format_name": a.FormatName,
		"title":       a.Title,
		"players":     a.Players,
	}
	for k, v := range a.Payload {
		out[k] = v
	}
	return out
}

// ArtifactFromWire reconstructs an Artifact from a plugin's response dict.
func ArtifactFromWire(w map[string]interface{}) Artifact {
	a := Artifact{Payload: map[string]interface{}{}}
	if v, ok := w["id"].(string); ok {
		a.ID = v
	}
	if v, ok := w["format_name"].(string); ok {
		a.FormatName = v
	}
	if v, ok := w["title"].(string); ok {
		a.Title = v
	}
	if v, ok := w["players"].([]interface{}); ok {
		for _, p := range v {
			if s, ok := p.(string); ok {
				a.Players = append(a.Players, s)
			}
		}
	}
	for k, v := range w {
		switch k {
		case "id", "format_name", "title", "players":
			continue
		default:
			a.Payload[k] = v
		}
	}
	return a
}

// AnalysisDescriptor is a capability a plugin advertises (§3, §6).
type AnalysisDescriptor struct {
	Name          string                 `json:"name"`
	Description   string                 `json:"description"`
	ApplicableTo  []string               `json:"applicable_to"`
	Continuous    bool                   `json:"continuous"`
	ConfigSchema  map[string]interface{} `json:"config_schema,omitempty"`
}

// Edge is one hop in the conversion graph.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// CheckMode selects how thoroughly Check verifies a conversion path (§4.D).
type CheckMode int

const (
	CheckQuick CheckMode = iota
	CheckFull
)

// CheckResult is the outcome of checking whether an artifact can be
// converted to a target format.
type CheckResult struct {
	Possible bool     `json:"possible"`
	Warnings []string `json:"warnings,omitempty"`
	Blockers []string `json:"blockers,omitempty"`
}

// TaskStatus is the core's five-value task status domain (§3).
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskCancelled TaskStatus = "cancelled"
	TaskFailed    TaskStatus = "failed"
)

// TaskResult is the sum-type-flavored result a run_fn produces: either a
// result payload, or an encoded error (never both rendered as an
// exception — see package task and DESIGN.md).
type TaskResult struct {
	Summary string                 `json:"summary"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Task is a record of a long-running computation owned by the Task
// Manager (§3).
type Task struct {
	ID          string                 `json:"id"`
	Owner       string                 `json:"owner,omitempty"`
	PluginName  string                 `json:"plugin_name"`
	ArtifactID  string                 `json:"artifact_id"`
	Config      map[string]interface{} `json:"config,omitempty"`
	Status      TaskStatus             `json:"status"`
	Result      *TaskResult            `json:"result,omitempty"`
	Error       string                 `json:"error,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
}

// IsTerminal reports whether status is one that a task reaches exactly
// once and never leaves (invariant I1 in §3).
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskCancelled, TaskFailed:
		return true
	default:
		return false
	}
}

// PluginState is a Plugin Record's lifecycle state (§4.C).
type PluginState string

const (
	PluginDefined    PluginState = "defined"
	PluginStarting   PluginState = "starting"
	PluginHealthy    PluginState = "healthy"
	PluginCrashed    PluginState = "crashed"
	PluginRestarting PluginState = "restarting"
	PluginDead       PluginState = "dead"
	PluginStopped    PluginState = "stopped"
)

// RestartPolicy controls how the Supervisor reacts to a plugin's process
// exiting (§4.C).
type RestartPolicy string

const (
	RestartNever     RestartPolicy = "never"
	RestartOnFailure RestartPolicy = "on_failure"
	RestartAlways    RestartPolicy = "always"
)

// PluginInfo is the cached payload of a healthy plugin's GET /info (§6).
type PluginInfo struct {
	APIVersion   int                  `json:"api_version"`
	PluginVersion string              `json:"plugin_version"`
	Analyses     []AnalysisDescriptor `json:"analyses"`
	Formats      []string             `json:"formats,omitempty"`
	Conversions  []Edge               `json:"conversions,omitempty"`
}

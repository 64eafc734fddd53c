// Package registry implements the Capability Registry (§4.D): the merged,
// queryable view of analyses, formats, and conversions contributed by
// healthy plugins, plus BFS shortest-path conversion finding.
//
// The shape is modeled on the teacher's global plugin registry
// (streamspace's internal/plugins/registry.go): a mutex-guarded map with
// idempotent, last-write-wins registration and defensive-copy readers. The
// mechanism survives the trip from "in-process compiled plugin factories"
// to "capabilities fetched from an external process's /info" largely
// unchanged; only what gets stored differs.
package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"

	apierrors "orchestrator/internal/errors"
	"orchestrator/internal/logger"
	"orchestrator/internal/model"
)

type analysisEntry struct {
	descriptor model.AnalysisDescriptor
	pluginURL  string
}

type formatEntry struct {
	pluginURL string
}

type conversionKey struct {
	source, target string
}

type conversionEntry struct {
	pluginURL string
}

// Registry is the thread-safe, mutation-serialized-through-the-Supervisor
// capability store (§5: "mutations happen only at plugin-healthy
// transitions and are serialized through the Supervisor; reads are
// concurrent"). It is intentionally built on a plain mutex rather than an
// RWMutex: writes are rare (one per plugin-healthy transition) and reads
// are cheap snapshots, so the extra complexity of a read/write lock buys
// nothing measurable here.
type Registry struct {
	mu          sync.Mutex
	analyses    map[string]analysisEntry
	formats     map[string]formatEntry
	conversions map[conversionKey]conversionEntry
}

// New returns an empty Capability Registry.
func New() *Registry {
	return &Registry{
		analyses:    make(map[string]analysisEntry),
		formats:     make(map[string]formatEntry),
		conversions: make(map[conversionKey]conversionEntry),
	}
}

// RegisterPlugin merges one healthy plugin's advertised capabilities into
// the registry. Registration is idempotent: a later call for the same name
// replaces the earlier one (last registration wins), matching §3's
// invariant that an analysis name or (source,target) pair maps to exactly
// one plugin.
func (r *Registry) RegisterPlugin(pluginURL string, info model.PluginInfo) {
	log := logger.Component("registry")
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range info.Analyses {
		if _, exists := r.analyses[a.Name]; exists {
			log.Debug().Str("analysis", a.Name).Msg("replacing existing analysis registration")
		}
		r.analyses[a.Name] = analysisEntry{descriptor: a, pluginURL: pluginURL}
	}
	for _, ext := range info.Formats {
		r.formats[strings.TrimPrefix(ext, ".")] = formatEntry{pluginURL: pluginURL}
	}
	for _, edge := range info.Conversions {
		r.conversions[conversionKey{edge.Source, edge.Target}] = conversionEntry{pluginURL: pluginURL}
	}

	log.Info().
		Str("plugin_url", pluginURL).
		Int("analyses", len(info.Analyses)).
		Int("formats", len(info.Formats)).
		Int("conversions", len(info.Conversions)).
		Msg("registered plugin capabilities")
}

// Analysis returns the descriptor and owning plugin url for name.
func (r *Registry) Analysis(name string) (model.AnalysisDescriptor, string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.analyses[name]
	return e.descriptor, e.pluginURL, ok
}

// Analyses returns a defensive copy of every registered analysis
// descriptor.
func (r *Registry) Analyses() []model.AnalysisDescriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.AnalysisDescriptor, 0, len(r.analyses))
	for _, e := range r.analyses {
		out = append(out, e.descriptor)
	}
	return out
}

// FormatPlugin returns the plugin url that owns parsing for ext (the
// extension without its leading dot), if one is registered.
func (r *Registry) FormatPlugin(ext string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.formats[ext]
	return e.pluginURL, ok
}

// ConversionPlugin returns the plugin url that owns the (source, target)
// conversion edge, if one is registered.
func (r *Registry) ConversionPlugin(source, target string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conversions[conversionKey{source, target}]
	return e.pluginURL, ok
}

// edges returns a defensive copy of the conversion graph's edge set.
func (r *Registry) edges() []model.Edge {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Edge, 0, len(r.conversions))
	for k := range r.conversions {
		out = append(out, model.Edge{Source: k.source, Target: k.target})
	}
	return out
}

// FindPath runs a breadth-first search over the directed graph induced by
// the registered conversions and returns the shortest path from src to
// tgt, or (nil, false) if none exists. find_path(x, x) returns the empty
// path (T-path-shortest).
func (r *Registry) FindPath(src, tgt string) ([]model.Edge, bool) {
	if src == tgt {
		return []model.Edge{}, true
	}

	adjacency := map[string][]string{}
	for _, e := range r.edges() {
		adjacency[e.Source] = append(adjacency[e.Source], e.Target)
	}

	type queueItem struct {
		node string
		path []model.Edge
	}
	visited := map[string]bool{src: true}
	queue := []queueItem{{node: src, path: nil}}

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		for _, next := range adjacency[item.node] {
			path := append(append([]model.Edge{}, item.path...), model.Edge{Source: item.node, Target: next})
			if next == tgt {
				return path, true
			}
			if !visited[next] {
				visited[next] = true
				queue = append(queue, queueItem{node: next, path: path})
			}
		}
	}
	return nil, false
}

// EdgeApplier performs one conversion hop by delegating to the edge's
// owning plugin over HTTP (§4.B). The caller (package artifact) supplies
// this so the registry stays decoupled from the remote transport.
type EdgeApplier func(ctx context.Context, pluginURL string, edge model.Edge, artifact model.Artifact) (model.Artifact, error)

// Convert resolves the path from artifact.FormatName to target and applies
// each edge in order, threading the prior step's output into the next
// (§4.D, T-path-exists). Returns NoConversionPath if no path exists.
func (r *Registry) Convert(ctx context.Context, apply EdgeApplier, artifact model.Artifact, target string) (model.Artifact, error) {
	if artifact.FormatName == target {
		return artifact, nil
	}
	path, ok := r.FindPath(artifact.FormatName, target)
	if !ok {
		return model.Artifact{}, apierrors.NoConversionPath(artifact.FormatName, target)
	}

	current := artifact
	for _, edge := range path {
		pluginURL, ok := r.ConversionPlugin(edge.Source, edge.Target)
		if !ok {
			return model.Artifact{}, fmt.Errorf("conversion edge %s->%s has no owning plugin", edge.Source, edge.Target)
		}
		next, err := apply(ctx, pluginURL, edge, current)
		if err != nil {
			return model.Artifact{}, err
		}
		current = next
	}
	return current, nil
}

// checkPrecondition is the cheap, local, no-network predicate an edge must
// satisfy before it is attempted: the artifact actually carries the edge's
// declared source format. This mirrors the one precondition every
// plugin-backed conversion in the original source checks before ever
// contacting the plugin (its `can_convert` rejects a format mismatch up
// front, leaving the real validation to the plugin itself once called).
func checkPrecondition(a model.Artifact, edge model.Edge) model.CheckResult {
	if a.FormatName != edge.Source {
		return model.CheckResult{
			Possible: false,
			Blockers: []string{fmt.Sprintf("game format %q is not %q", a.FormatName, edge.Source)},
		}
	}
	return model.CheckResult{Possible: true}
}

// Check reports whether artifact can reach target. Quick mode verifies only
// that a path exists and the first edge's precondition holds; full mode
// verifies every edge's precondition in turn, materializing intermediate
// artifacts via apply to check the next edge's precondition against real
// output rather than assuming it holds (§4.D, spec.md:119-120). Full mode
// never performs the final hop itself — that's Convert's job — it only
// walks preconditions.
func (r *Registry) Check(ctx context.Context, apply EdgeApplier, artifact model.Artifact, target string, mode model.CheckMode) model.CheckResult {
	if artifact.FormatName == target {
		return model.CheckResult{Possible: true}
	}

	path, ok := r.FindPath(artifact.FormatName, target)
	if !ok {
		return model.CheckResult{Possible: false, Blockers: []string{fmt.Sprintf("no conversion path from %s to %s", artifact.FormatName, target)}}
	}

	var warnings []string
	if len(path) > 1 {
		warnings = append(warnings, fmt.Sprintf("Requires %d-step conversion", len(path)))
	}

	if mode == model.CheckQuick {
		if pre := checkPrecondition(artifact, path[0]); !pre.Possible {
			return model.CheckResult{Possible: false, Warnings: warnings, Blockers: pre.Blockers}
		}
		return model.CheckResult{Possible: true, Warnings: warnings}
	}

	current := artifact
	for i, edge := range path {
		if pre := checkPrecondition(current, edge); !pre.Possible {
			return model.CheckResult{Possible: false, Warnings: warnings, Blockers: pre.Blockers}
		}
		if i == len(path)-1 {
			break
		}
		pluginURL, ok := r.ConversionPlugin(edge.Source, edge.Target)
		if !ok {
			return model.CheckResult{Possible: false, Warnings: warnings, Blockers: []string{fmt.Sprintf("conversion edge %s->%s has no owning plugin", edge.Source, edge.Target)}}
		}
		next, err := apply(ctx, pluginURL, edge, current)
		if err != nil {
			return model.CheckResult{Possible: false, Warnings: warnings, Blockers: []string{fmt.Sprintf("intermediate conversion failed: %s", err.Error())}}
		}
		current = next
	}
	return model.CheckResult{Possible: true, Warnings: warnings}
}

// Available returns, for every format reachable from artifact's current
// format, the quick-mode Check result for that format (§4.D).
func (r *Registry) Available(ctx context.Context, apply EdgeApplier, artifact model.Artifact) map[string]model.CheckResult {
	targets := map[string]bool{}
	for _, e := range r.edges() {
		targets[e.Target] = true
	}

	out := make(map[string]model.CheckResult, len(targets))
	for target := range targets {
		if target == artifact.FormatName {
			continue
		}
		if _, ok := r.FindPath(artifact.FormatName, target); !ok {
			continue
		}
		out[target] = r.Check(ctx, apply, artifact, target, model.CheckQuick)
	}
	return out
}

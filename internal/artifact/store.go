// Package artifact implements the Artifact Store (§4.E): a thread-safe
// registry of artifacts with on-demand, cached format conversions.
package artifact

import (
	"context"
	"sync"
	"time"

	apierrors "orchestrator/internal/errors"
	"orchestrator/internal/logger"
	"orchestrator/internal/model"
	"orchestrator/internal/registry"
	"orchestrator/internal/remoteclient"
)

// Summary is the list-view projection of a stored artifact (§4.E).
type Summary struct {
	ID          string                         `json:"id"`
	Title       string                         `json:"title"`
	Players     []string                       `json:"players"`
	Format      string                         `json:"format"`
	Conversions map[string]model.CheckResult   `json:"conversions"`
}

// Store is the single-mutex-guarded artifact map plus conversion cache
// described in §4.E and §5. Operations that may perform HTTP (conversion)
// drop the lock before doing so and re-acquire only to insert the result,
// guarded by a per-id generation counter so a conversion computed against a
// stale artifact is never cached over a newer Add (T-conv-invalidate).
type Store struct {
	mu          sync.Mutex
	artifacts   map[string]model.Artifact
	cache       map[string]map[string]model.Artifact
	generations map[string]int64

	registry *registry.Registry
	apply    registry.EdgeApplier
}

// New returns an empty Artifact Store backed by reg for conversion lookups
// and timeout as the per-hop HTTP budget when applying a conversion edge.
func New(reg *registry.Registry, timeout time.Duration) *Store {
	return &Store{
		artifacts:   make(map[string]model.Artifact),
		cache:       make(map[string]map[string]model.Artifact),
		generations: make(map[string]int64),
		registry:    reg,
		apply:       NewHTTPEdgeApplier(timeout),
	}
}

// NewHTTPEdgeApplier builds a registry.EdgeApplier that performs a
// conversion hop by POSTing to the owning plugin's /convert/<src>-to-<tgt>
// endpoint (§6).
func NewHTTPEdgeApplier(timeout time.Duration) registry.EdgeApplier {
	return func(ctx context.Context, pluginURL string, edge model.Edge, a model.Artifact) (model.Artifact, error) {
		client := remoteclient.New(pluginURL, "plugin:"+edge.Source+"-to-"+edge.Target)
		body := remoteclient.JSON{"game": a.AsWire()}
		resp, err := client.POST(ctx, "/convert/"+edge.Source+"-to-"+edge.Target, body, timeout)
		if err != nil {
			return model.Artifact{}, err
		}
		game, ok := resp["game"].(map[string]interface{})
		if !ok {
			return model.Artifact{}, apierrors.ConversionFailed(nil)
		}
		return model.ArtifactFromWire(game), nil
	}
}

// Add replaces any existing entry with the same id and invalidates all of
// its cached conversions (replace-by-id semantics, §3).
func (s *Store) Add(a model.Artifact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[a.ID] = a
	delete(s.cache, a.ID)
	s.generations[a.ID]++
}

// Get returns the artifact for id, if any.
func (s *Store) Get(id string) (model.Artifact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.artifacts[id]
	return a, ok
}

// Remove drops the entry for id and all of its cached conversions,
// reporting whether it existed.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, existed := s.artifacts[id]
	delete(s.artifacts, id)
	delete(s.cache, id)
	delete(s.generations, id)
	return existed
}

// GetConverted returns a, converted to targetFormat if necessary. If a is
// already in targetFormat it is returned unchanged without consulting the
// registry. Otherwise the cache is consulted; on a miss the registry's
// conversion path is checked (quick) and, if possible, applied — entirely
// outside the store's lock (T-conv-idempotent: a second call with no
// intervening Add/Remove is a cache hit and performs no further HTTP).
func (s *Store) GetConverted(ctx context.Context, id, targetFormat string) (model.Artifact, bool, error) {
	log := logger.Component("artifact")

	s.mu.Lock()
	a, ok := s.artifacts[id]
	if !ok {
		s.mu.Unlock()
		return model.Artifact{}, false, nil
	}
	if a.FormatName == targetFormat {
		s.mu.Unlock()
		return a, true, nil
	}
	if byTarget, ok := s.cache[id]; ok {
		if cached, ok := byTarget[targetFormat]; ok {
			s.mu.Unlock()
			return cached, true, nil
		}
	}
	generation := s.generations[id]
	s.mu.Unlock()

	check := s.registry.Check(ctx, s.apply, a, targetFormat, model.CheckQuick)
	if !check.Possible {
		return model.Artifact{}, false, nil
	}

	converted, err := s.registry.Convert(ctx, s.apply, a, targetFormat)
	if err != nil {
		return model.Artifact{}, false, apierrors.ConversionFailed(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generations[id] != generation {
		log.Debug().Str("artifact_id", id).Msg("artifact replaced during conversion, discarding stale result")
		return converted, true, nil
	}
	if s.cache[id] == nil {
		s.cache[id] = map[string]model.Artifact{}
	}
	s.cache[id][targetFormat] = converted
	return converted, true, nil
}

// List returns a summary of every stored artifact, including a quick-check
// of every format reachable from it.
func (s *Store) List(ctx context.Context) []Summary {
	s.mu.Lock()
	snapshot := make([]model.Artifact, 0, len(s.artifacts))
	for _, a := range s.artifacts {
		snapshot = append(snapshot, a)
	}
	s.mu.Unlock()

	out := make([]Summary, 0, len(snapshot))
	for _, a := range snapshot {
		out = append(out, Summary{
			ID:          a.ID,
			Title:       a.Title,
			Players:     a.Players,
			Format:      a.FormatName,
			Conversions: s.registry.Available(ctx, s.apply, a),
		})
	}
	return out
}

package artifact

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchestrator/internal/model"
	"orchestrator/internal/registry"
)

func newTestStore(reg *registry.Registry, apply registry.EdgeApplier) *Store {
	return &Store{
		artifacts:   make(map[string]model.Artifact),
		cache:       make(map[string]map[string]model.Artifact),
		generations: make(map[string]int64),
		registry:    reg,
		apply:       apply,
	}
}

func TestAddGetRemoveRoundTrip(t *testing.T) {
	s := New(registry.New(), time.Second)
	a := model.Artifact{ID: "g1", FormatName: "gambit", Title: "Prisoner's Dilemma"}

	s.Add(a)
	got, ok := s.Get("g1")
	require.True(t, ok)
	assert.Equal(t, a, got)

	removed := s.Remove("g1")
	assert.True(t, removed)
	_, ok = s.Get("g1")
	assert.False(t, ok)

	assert.False(t, s.Remove("g1"), "removing a nonexistent id reports false")
}

func TestGetConvertedSameFormatSkipsRegistry(t *testing.T) {
	reg := registry.New()
	calls := 0
	apply := func(ctx context.Context, pluginURL string, edge model.Edge, a model.Artifact) (model.Artifact, error) {
		calls++
		return a, nil
	}
	s := newTestStore(reg, apply)
	s.Add(model.Artifact{ID: "g1", FormatName: "gambit"})

	out, ok, err := s.GetConverted(context.Background(), "g1", "gambit")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "gambit", out.FormatName)
	assert.Zero(t, calls)
}

func TestGetConvertedMissingArtifact(t *testing.T) {
	s := New(registry.New(), time.Second)
	_, ok, err := s.GetConverted(context.Background(), "nope", "gambit")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetConvertedNoPathReturnsNotOK(t *testing.T) {
	reg := registry.New()
	apply := func(ctx context.Context, pluginURL string, edge model.Edge, a model.Artifact) (model.Artifact, error) {
		return a, nil
	}
	s := newTestStore(reg, apply)
	s.Add(model.Artifact{ID: "g1", FormatName: "gambit"})

	_, ok, err := s.GetConverted(context.Background(), "g1", "nfg")
	require.NoError(t, err)
	assert.False(t, ok)
}

// T-conv-idempotent: a second GetConverted call with no intervening Add or
// Remove is a cache hit and performs no further conversion call.
func TestGetConvertedCachesConversionResult(t *testing.T) {
	reg := registry.New()
	reg.RegisterPlugin("http://p1", model.PluginInfo{Conversions: []model.Edge{{Source: "gambit", Target: "nfg"}}})

	calls := 0
	apply := func(ctx context.Context, pluginURL string, edge model.Edge, a model.Artifact) (model.Artifact, error) {
		calls++
		return model.Artifact{ID: a.ID, FormatName: edge.Target}, nil
	}
	s := newTestStore(reg, apply)
	s.Add(model.Artifact{ID: "g1", FormatName: "gambit"})

	first, ok, err := s.GetConverted(context.Background(), "g1", "nfg")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "nfg", first.FormatName)
	assert.Equal(t, 1, calls)

	second, ok, err := s.GetConverted(context.Background(), "g1", "nfg")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls, "second call should be served from cache")
}

// T-conv-invalidate: replacing an artifact by id drops its cached
// conversions, so a subsequent GetConverted recomputes rather than serving
// a stale result.
func TestAddInvalidatesConversionCache(t *testing.T) {
	reg := registry.New()
	reg.RegisterPlugin("http://p1", model.PluginInfo{Conversions: []model.Edge{{Source: "gambit", Target: "nfg"}}})

	calls := 0
	apply := func(ctx context.Context, pluginURL string, edge model.Edge, a model.Artifact) (model.Artifact, error) {
		calls++
		return model.Artifact{ID: a.ID, FormatName: edge.Target, Title: a.Title}, nil
	}
	s := newTestStore(reg, apply)
	s.Add(model.Artifact{ID: "g1", FormatName: "gambit", Title: "v1"})

	_, ok, err := s.GetConverted(context.Background(), "g1", "nfg")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, calls)

	s.Add(model.Artifact{ID: "g1", FormatName: "gambit", Title: "v2"})

	out, ok, err := s.GetConverted(context.Background(), "g1", "nfg")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v2", out.Title)
	assert.Equal(t, 2, calls, "stale cache entry must not be served after replacement")
}

func TestGetConvertedPropagatesConversionError(t *testing.T) {
	reg := registry.New()
	reg.RegisterPlugin("http://p1", model.PluginInfo{Conversions: []model.Edge{{Source: "gambit", Target: "nfg"}}})

	apply := func(ctx context.Context, pluginURL string, edge model.Edge, a model.Artifact) (model.Artifact, error) {
		return model.Artifact{}, assert.AnError
	}
	s := newTestStore(reg, apply)
	s.Add(model.Artifact{ID: "g1", FormatName: "gambit"})

	_, ok, err := s.GetConverted(context.Background(), "g1", "nfg")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestListReturnsSummariesWithAvailableConversions(t *testing.T) {
	reg := registry.New()
	reg.RegisterPlugin("http://p1", model.PluginInfo{Conversions: []model.Edge{{Source: "gambit", Target: "nfg"}}})
	apply := func(ctx context.Context, pluginURL string, edge model.Edge, a model.Artifact) (model.Artifact, error) {
		return model.Artifact{ID: a.ID, FormatName: edge.Target}, nil
	}
	s := newTestStore(reg, apply)
	s.Add(model.Artifact{ID: "g1", FormatName: "gambit", Title: "Prisoner's Dilemma", Players: []string{"A", "B"}})

	summaries := s.List(context.Background())
	require.Len(t, summaries, 1)
	assert.Equal(t, "g1", summaries[0].ID)
	assert.Equal(t, "gambit", summaries[0].Format)
	result, ok := summaries[0].Conversions["nfg"]
	require.True(t, ok)
	assert.True(t, result.Possible)
}

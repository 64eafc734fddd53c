package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	apierrors "orchestrator/internal/errors"
	"orchestrator/internal/model"
	"orchestrator/internal/task"
)

// listAnalyses implements GET /api/analyses: the full capability list
// merged across every healthy plugin (§4.D).
func (s *Server) listAnalyses(c *gin.Context) {
	c.JSON(http.StatusOK, s.registry.Analyses())
}

// listPlugins implements GET /api/plugins: a snapshot of every plugin
// record's lifecycle state (§4.C), supplementing the capability endpoints
// with the supervisory state callers need to explain a missing analysis.
func (s *Server) listPlugins(c *gin.Context) {
	c.JSON(http.StatusOK, s.supervisor.List())
}

// continuousResult is one entry of the convenience endpoint's response.
type continuousResult struct {
	Analysis   string                 `json:"analysis"`
	Summary    string                 `json:"summary"`
	Details    map[string]interface{} `json:"details,omitempty"`
	DurationMs int64                  `json:"duration_ms"`
}

// gameAnalyses implements GET /api/games/{id}/analyses?solver=&max_equilibria=
// (§6): a synchronous convenience endpoint that runs every continuous
// analysis applicable to the artifact, using the same Remote Task Driver a
// submitted task would use, timed per call, but without going through the
// Task Manager.
func (s *Server) gameAnalyses(c *gin.Context) {
	id := c.Param("id")
	a, ok := s.store.Get(id)
	if !ok {
		apierrors.AbortWithError(c, apierrors.NotFound("game"))
		return
	}

	cfg := map[string]interface{}{}
	if solver := c.Query("solver"); solver != "" {
		cfg["solver"] = solver
	}
	if raw := c.Query("max_equilibria"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			apierrors.AbortWithError(c, apierrors.BadRequest("max_equilibria must be an integer"))
			return
		}
		cfg["max_equilibria"] = n
	}

	results := make([]continuousResult, 0)
	for _, descriptor := range s.registry.Analyses() {
		if !descriptor.Continuous {
			continue
		}
		artifactForCall, runnable := s.resolveApplicable(c, descriptor, a)
		if !runnable {
			continue
		}

		_, pluginURL, ok := s.registry.Analysis(descriptor.Name)
		if !ok {
			continue
		}

		runFn := task.NewRemoteRunFunc(pluginURL, descriptor.Name, artifactForCall, descriptor, s.driverConfig())
		start := time.Now()
		result := runFn(cfg)
		results = append(results, continuousResult{
			Analysis:   descriptor.Name,
			Summary:    result.Summary,
			Details:    result.Details,
			DurationMs: time.Since(start).Milliseconds(),
		})
	}
	c.JSON(http.StatusOK, results)
}

// resolveApplicable returns the artifact to pass to descriptor's analysis,
// converting it to one of descriptor's applicable formats if the stored
// artifact isn't already in one (§2's "format mismatches cause the
// Artifact Store to synthesize a converted artifact"). The second return
// value is false if no applicable format is reachable.
func (s *Server) resolveApplicable(c *gin.Context, descriptor model.AnalysisDescriptor, a model.Artifact) (model.Artifact, bool) {
	if len(descriptor.ApplicableTo) == 0 {
		return a, true
	}
	for _, format := range descriptor.ApplicableTo {
		if a.FormatName == format {
			return a, true
		}
	}
	for _, format := range descriptor.ApplicableTo {
		converted, ok, err := s.store.GetConverted(c.Request.Context(), a.ID, format)
		if err == nil && ok {
			return converted, true
		}
	}
	return model.Artifact{}, false
}

func (s *Server) driverConfig() task.DriverConfig {
	return task.DriverConfig{
		SubmitTimeout:      s.cfg.RemoteSubmitTimeout,
		PollInitial:        s.cfg.PollInitial,
		PollMax:            s.cfg.PollMax,
		PollFactor:         s.cfg.PollFactor,
		PollRequestTimeout: s.cfg.RemotePollTimeout,
	}
}

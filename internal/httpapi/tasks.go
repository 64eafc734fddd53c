package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	apierrors "orchestrator/internal/errors"
	"orchestrator/internal/task"
)

// submitTask implements POST /api/tasks?game_id&plugin&owner&solver&max_equilibria
// (§6): it resolves the named analysis to its owning plugin, converts the
// artifact to an applicable format if necessary, and hands a Remote Task
// Driver run_fn to the Task Manager.
func (s *Server) submitTask(c *gin.Context) {
	gameID := c.Query("game_id")
	analysisName := c.Query("plugin")
	owner := c.Query("owner")
	if gameID == "" || analysisName == "" {
		apierrors.AbortWithError(c, apierrors.BadRequest("game_id and plugin are required"))
		return
	}

	a, ok := s.store.Get(gameID)
	if !ok {
		apierrors.AbortWithError(c, apierrors.NotFound("game"))
		return
	}

	descriptor, pluginURL, ok := s.registry.Analysis(analysisName)
	if !ok {
		apierrors.AbortWithError(c, apierrors.NotFound("analysis"))
		return
	}

	artifactForCall, runnable := s.resolveApplicable(c, descriptor, a)
	if !runnable {
		apierrors.AbortWithError(c, apierrors.IncompatiblePlugin(analysisName+" has no applicable format reachable from "+a.FormatName))
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

	runFn := task.NewRemoteRunFunc(pluginURL, analysisName, artifactForCall, descriptor, s.driverConfig())
	id, err := s.tasks.Submit(owner, gameID, analysisName, runFn, cfg)
	if err != nil {
		apierrors.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"task_id": id,
		"status":  "pending",
		"plugin":  analysisName,
		"game_id": gameID,
	})
}

// getTask implements GET /api/tasks/{id}.
func (s *Server) getTask(c *gin.Context) {
	t, ok := s.tasks.Get(c.Param("id"))
	if !ok {
		apierrors.AbortWithError(c, apierrors.NotFound("task"))
		return
	}
	c.JSON(http.StatusOK, t)
}

// cancelTask implements DELETE /api/tasks/{id}: best-effort cooperative
// cancellation (§4.F). An unknown task reports 404; a task already in a
// terminal state reports 400 rather than a successful cancel.
func (s *Server) cancelTask(c *gin.Context) {
	id := c.Param("id")
	if _, ok := s.tasks.Get(id); !ok {
		apierrors.AbortWithError(c, apierrors.NotFound("task"))
		return
	}
	if !s.tasks.Cancel(id) {
		apierrors.AbortWithError(c, apierrors.BadRequest("task is already in a terminal state"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelling", "id": id})
}

// listTasks implements GET /api/tasks?owner=.
func (s *Server) listTasks(c *gin.Context) {
	c.JSON(http.StatusOK, s.tasks.List(c.Query("owner")))
}

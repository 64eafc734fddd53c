// Package httpapi is the thin router over the core components (§1, §6):
// it translates HTTP requests into calls against the Artifact Store,
// Capability Registry, Task Manager, and Plugin Supervisor, and renders
// their results (or AppErrors) back to callers. It owns no state of its
// own and implements no domain logic.
package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"orchestrator/internal/artifact"
	"orchestrator/internal/config"
	apierrors "orchestrator/internal/errors"
	"orchestrator/internal/logger"
	"orchestrator/internal/plugin"
	"orchestrator/internal/registry"
	"orchestrator/internal/task"
)

// Server bundles the collaborators the public HTTP surface is built over.
// It is constructed once by bootstrap and threaded into gin's handlers,
// following §9's "global singletons become explicit collaborators."
type Server struct {
	cfg        *config.Config
	store      *artifact.Store
	registry   *registry.Registry
	supervisor *plugin.Supervisor
	tasks      *task.Manager
}

// New returns a Server over the given collaborators.
func New(cfg *config.Config, store *artifact.Store, reg *registry.Registry, sup *plugin.Supervisor, tasks *task.Manager) *Server {
	return &Server{cfg: cfg, store: store, registry: reg, supervisor: sup, tasks: tasks}
}

// Router builds the gin engine for the public HTTP surface (§6).
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(errorLogger())
	r.Use(apierrors.Recovery())
	r.Use(s.cors())
	r.Use(apierrors.ErrorHandler())

	r.GET("/healthz", s.healthz)

	api := r.Group("/api")
	{
		api.GET("/games", s.listGames)
		api.POST("/games/upload", s.uploadGame)
		api.GET("/games/:id", s.getGame)
		api.GET("/games/:id/as/:target", s.getGameAs)
		api.DELETE("/games/:id", s.deleteGame)
		api.GET("/games/:id/analyses", s.gameAnalyses)

		api.GET("/analyses", s.listAnalyses)

		api.GET("/plugins", s.listPlugins)

		api.POST("/tasks", s.submitTask)
		api.GET("/tasks", s.listTasks)
		api.GET("/tasks/:id", s.getTask)
		api.DELETE("/tasks/:id", s.cancelTask)
	}

	return r
}

// cors applies the configured allowed-origins list (§6's CORS_ORIGINS).
// An empty list is the production-safe default: no cross-origin access.
func (s *Server) cors() gin.HandlerFunc {
	allowed := make(map[string]bool, len(s.cfg.AllowedOrigins))
	for _, o := range s.cfg.AllowedOrigins {
		allowed[strings.TrimSpace(o)] = true
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && allowed[origin] {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func errorLogger() gin.HandlerFunc {
	log := logger.Component("http")
	return func(c *gin.Context) {
		c.Next()
		log.Debug().
			Int("status", c.Writer.Status()).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Msg("request handled")
	}
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/neuroinsight/neuroinsight/pkg/audit"
	"github.com/neuroinsight/neuroinsight/pkg/backend"
	"github.com/neuroinsight/neuroinsight/pkg/config"
	"github.com/neuroinsight/neuroinsight/pkg/log"
	"github.com/neuroinsight/neuroinsight/pkg/metrics"
	"github.com/neuroinsight/neuroinsight/pkg/objectstore"
	"github.com/neuroinsight/neuroinsight/pkg/queue"
	"github.com/neuroinsight/neuroinsight/pkg/registry"
	"github.com/neuroinsight/neuroinsight/pkg/results"
	"github.com/neuroinsight/neuroinsight/pkg/sshconn"
	"github.com/neuroinsight/neuroinsight/pkg/store"
)

// Server wires every component behind the HTTP routes
type Server struct {
	cfg      *config.Config
	store    store.Store
	queue    *queue.Queue
	registry *registry.Registry
	backends *backend.Manager
	ssh      *sshconn.Session
	results  *results.Projection
	uploader objectstore.Uploader
	audit    *audit.Logger

	engine *gin.Engine
	http   *http.Server
}

// Deps bundles the server's collaborators
type Deps struct {
	Store    store.Store
	Queue    *queue.Queue
	Registry *registry.Registry
	Backends *backend.Manager
	SSH      *sshconn.Session
	Results  *results.Projection
	Uploader objectstore.Uploader
	Audit    *audit.Logger
}

// NewServer creates the HTTP server and registers all routes
func NewServer(cfg *config.Config, deps Deps) *Server {
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &Server{
		cfg:      cfg,
		store:    deps.Store,
		queue:    deps.Queue,
		registry: deps.Registry,
		backends: deps.Backends,
		ssh:      deps.SSH,
		results:  deps.Results,
		uploader: deps.Uploader,
		audit:    deps.Audit,
		engine:   gin.New(),
	}
	s.engine.Use(gin.Recovery(), requestLogger())
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.engine

	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api")
	{
		api.GET("/plugins", s.listPlugins)
		api.GET("/plugins/:id", s.getPlugin)
		api.POST("/plugins/:id/submit", s.submitPlugin)

		api.GET("/workflows", s.listWorkflows)
		api.GET("/workflows/:id", s.getWorkflow)
		api.POST("/workflows/:id/submit", s.submitWorkflow)

		api.GET("/registry/lockfile", s.lockfile)
		api.POST("/registry/verify", s.verifyLockfile)
		api.POST("/registry/reload", s.reloadRegistry)

		api.GET("/jobs", s.listJobs)
		api.GET("/jobs/progress", s.jobsProgress)
		api.GET("/jobs/:id", s.getJob)
		api.POST("/jobs/:id/cancel", s.cancelJob)
		api.GET("/jobs/:id/logs", s.jobLogs)
		api.DELETE("/jobs/:id", s.deleteJob)

		api.GET("/results/:id/files", s.resultFiles)
		api.GET("/results/:id/volume", s.resultVolumes)
		api.GET("/results/:id/segmentation", s.resultSegmentations)
		api.GET("/results/:id/labels", s.resultLabels)
		api.GET("/results/:id/metrics", s.resultMetrics)
		api.GET("/results/:id/download", s.resultDownload)
		api.GET("/results/:id/export", s.resultExport)
		api.GET("/results/:id/provenance", s.resultProvenance)

		api.POST("/hpc/backend/switch", s.switchBackend)
		api.GET("/hpc/backend/current", s.currentBackend)
		api.GET("/hpc/partitions", s.partitions)
		api.GET("/hpc/queue", s.clusterQueue)
		api.GET("/hpc/accounts", s.accounts)
		api.GET("/hpc/system-info", s.systemInfo)
		api.GET("/hpc/resource-presets", s.resourcePresets)

		api.GET("/audit/recent", s.auditRecent)
	}
}

// Start serves HTTP until the listener fails or Stop is called
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.WithComponent("api").Info().Str("addr", addr).Msg("HTTP server listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop drains in-flight requests
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// Handler exposes the router, used by tests
func (s *Server) Handler() http.Handler {
	return s.engine
}

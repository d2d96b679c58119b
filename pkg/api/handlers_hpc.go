package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/neuroinsight/neuroinsight/pkg/backend"
	"github.com/neuroinsight/neuroinsight/pkg/sysinfo"
	"github.com/neuroinsight/neuroinsight/pkg/types"
)

func (s *Server) switchBackend(c *gin.Context) {
	var req struct {
		BackendType string `json:"backend_type"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.BackendType == "" {
		badRequest(c, "backend_type is required")
		return
	}
	if err := s.backends.Switch(req.BackendType); err != nil {
		badRequest(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"backend_type": req.BackendType, "status": "switched"})
}

func (s *Server) currentBackend(c *gin.Context) {
	bk := s.backends.Current()
	c.JSON(http.StatusOK, gin.H{
		"backend_type": string(bk.Type()),
		"health":       bk.Health(c.Request.Context()),
	})
}

// slurm returns the active backend as SLURM, or responds 400
func (s *Server) slurm(c *gin.Context) (*backend.SLURMBackend, bool) {
	bk, ok := s.backends.Current().(*backend.SLURMBackend)
	if !ok {
		badRequest(c, "active backend is not SLURM")
		return nil, false
	}
	return bk, true
}

func (s *Server) partitions(c *gin.Context) {
	bk, ok := s.slurm(c)
	if !ok {
		return
	}
	partitions, err := bk.Partitions(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"partitions": partitions})
}

func (s *Server) clusterQueue(c *gin.Context) {
	bk, ok := s.slurm(c)
	if !ok {
		return
	}
	userOnly := c.Query("user_only") == "true"
	entries, err := bk.Queue(c.Request.Context(), userOnly)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"queue": entries, "count": len(entries)})
}

func (s *Server) accounts(c *gin.Context) {
	bk, ok := s.slurm(c)
	if !ok {
		return
	}
	accounts, err := bk.Accounts(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accounts": accounts})
}

func (s *Server) systemInfo(c *gin.Context) {
	if s.backends.Current().Type() == types.BackendLocal {
		c.JSON(http.StatusOK, sysinfo.Probe(s.cfg.DataDir))
		return
	}
	if s.ssh == nil || !s.ssh.IsConnected() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "SSH not connected"})
		return
	}
	c.JSON(http.StatusOK, s.ssh.HealthCheck())
}

// resourcePresets are the named sizing profiles offered by the UI, from a
// quick test run up to a full production allocation
func (s *Server) resourcePresets(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"presets": map[string]types.ResourceSpec{
			"small":  {MemoryGB: 8, CPUs: 4, TimeHours: 2},
			"medium": {MemoryGB: 32, CPUs: 8, TimeHours: 8},
			"large":  {MemoryGB: 64, CPUs: 16, TimeHours: 24},
			"max":    {MemoryGB: 128, CPUs: 32, TimeHours: 168, GPU: true},
		},
		"default": types.DefaultResources(),
	})
}

func (s *Server) auditRecent(c *gin.Context) {
	if s.audit == nil {
		c.JSON(http.StatusOK, gin.H{"entries": []any{}, "count": 0})
		return
	}
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	entries := s.audit.Recent(limit, c.Query("event"))
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

func (s *Server) health(c *gin.Context) {
	ctx := c.Request.Context()
	components := gin.H{}
	healthy := true

	if err := s.store.Health(ctx); err != nil {
		components["database"] = gin.H{"healthy": false, "error": err.Error()}
		healthy = false
	} else {
		components["database"] = gin.H{"healthy": true}
	}

	if err := s.queue.Health(ctx); err != nil {
		components["queue"] = gin.H{"healthy": false, "error": err.Error()}
		healthy = false
	} else {
		queueStatus := gin.H{"healthy": true}
		if pending, processing, err := s.queue.Depth(ctx); err == nil {
			queueStatus["pending"] = pending
			queueStatus["processing"] = processing
		}
		components["queue"] = queueStatus
	}

	if s.uploader != nil {
		if err := s.uploader.Health(ctx); err != nil {
			components["object_store"] = gin.H{"healthy": false, "error": err.Error()}
		} else {
			components["object_store"] = gin.H{"healthy": true}
		}
	}

	bk := s.backends.Current()
	bkHealth := bk.Health(ctx)
	components["backend"] = bkHealth
	if !bkHealth.Healthy {
		healthy = false
	}

	status := http.StatusOK
	overall := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}
	c.JSON(status, gin.H{
		"status":       overall,
		"backend_type": string(bk.Type()),
		"components":   components,
	})
}

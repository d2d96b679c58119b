package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/neuroinsight/neuroinsight/pkg/registry"
)

func (s *Server) listPlugins(c *gin.Context) {
	userOnly := c.Query("all") != "true"
	plugins := s.registry.ListPlugins(userOnly)
	c.JSON(http.StatusOK, gin.H{"plugins": plugins, "count": len(plugins)})
}

func (s *Server) getPlugin(c *gin.Context) {
	plugin, ok := s.registry.GetPlugin(c.Param("id"))
	if !ok {
		notFound(c, "plugin not found: "+c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, plugin)
}

func (s *Server) listWorkflows(c *gin.Context) {
	workflows := s.registry.ListWorkflows()
	c.JSON(http.StatusOK, gin.H{"workflows": workflows, "count": len(workflows)})
}

func (s *Server) getWorkflow(c *gin.Context) {
	workflow, ok := s.registry.GetWorkflow(c.Param("id"))
	if !ok {
		notFound(c, "workflow not found: "+c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, workflow)
}

func (s *Server) lockfile(c *gin.Context) {
	c.JSON(http.StatusOK, s.registry.GenerateLockfile())
}

func (s *Server) verifyLockfile(c *gin.Context) {
	var lf registry.Lockfile
	if err := c.ShouldBindJSON(&lf); err != nil {
		badRequest(c, "malformed lockfile: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, s.registry.VerifyLockfile(lf))
}

func (s *Server) reloadRegistry(c *gin.Context) {
	if err := s.registry.Reload(); err != nil {
		respondError(c, err)
		return
	}
	if s.audit != nil {
		s.audit.Record("registry_reloaded", map[string]any{
			"plugins":   len(s.registry.ListPlugins(false)),
			"workflows": len(s.registry.ListWorkflows()),
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "reloaded",
		"plugins":   len(s.registry.ListPlugins(false)),
		"workflows": len(s.registry.ListWorkflows()),
	})
}

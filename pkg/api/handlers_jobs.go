package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/neuroinsight/neuroinsight/pkg/backend"
	"github.com/neuroinsight/neuroinsight/pkg/registry"
	"github.com/neuroinsight/neuroinsight/pkg/types"
)

// submitRequest is the body accepted by both submit endpoints
type submitRequest struct {
	InputFiles []string            `json:"input_files"`
	Parameters map[string]any      `json:"parameters"`
	Resources  *types.ResourceSpec `json:"resources"`
}

func (s *Server) submitPlugin(c *gin.Context) {
	pluginID := c.Param("id")
	plugin, ok := s.registry.GetPlugin(pluginID)
	if !ok {
		notFound(c, "plugin not found: "+pluginID)
		return
	}

	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "malformed submission: "+err.Error())
		return
	}
	if len(req.InputFiles) == 0 {
		badRequest(c, "input_files must not be empty")
		return
	}
	if plugin.CommandTemplate() == "" {
		badRequest(c, "plugin declares no command template: "+pluginID)
		return
	}
	if err := backend.ValidateImage(plugin.Container.Image); err != nil {
		badRequest(c, err.Error())
		return
	}

	spec := &types.JobSpec{
		PipelineName:    pluginID,
		ContainerImage:  plugin.Container.Image,
		InputFiles:      req.InputFiles,
		Parameters:      req.Parameters,
		Resources:       resolveResources(plugin, req.Resources),
		PluginID:        pluginID,
		ExecutionMode:   types.ExecutionModePlugin,
		CommandTemplate: plugin.CommandTemplate(),
	}

	jobID, err := s.backends.Current().Submit(c.Request.Context(), spec, "")
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"job_id": jobID,
		"status": string(types.JobStatusPending),
		"plugin": pluginID,
	})
}

func (s *Server) submitWorkflow(c *gin.Context) {
	workflowID := c.Param("id")
	workflow, ok := s.registry.GetWorkflow(workflowID)
	if !ok {
		notFound(c, "workflow not found: "+workflowID)
		return
	}

	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "malformed submission: "+err.Error())
		return
	}
	if len(req.InputFiles) == 0 {
		badRequest(c, "input_files must not be empty")
		return
	}
	stepPlugins, err := s.registry.ResolveWorkflowPlugins(workflow)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	if len(stepPlugins) == 0 {
		badRequest(c, "workflow declares no steps: "+workflowID)
		return
	}
	for _, p := range stepPlugins {
		if err := backend.ValidateImage(p.Container.Image); err != nil {
			badRequest(c, err.Error())
			return
		}
	}

	first := stepPlugins[0]
	spec := &types.JobSpec{
		PipelineName:   workflowID,
		ContainerImage: first.Container.Image,
		InputFiles:     req.InputFiles,
		Parameters:     req.Parameters,
		Resources:      workflowResources(stepPlugins, req.Resources),
		WorkflowID:     workflowID,
		WorkflowSteps:  workflow.StepPlugins(),
		ExecutionMode:  types.ExecutionModeWorkflow,
	}

	jobID, err := s.backends.Current().Submit(c.Request.Context(), spec, "")
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"job_id":   jobID,
		"status":   string(types.JobStatusPending),
		"workflow": workflowID,
	})
}

// resolveResources takes the user override when present, else the plugin's
// declared defaults
func resolveResources(plugin *registry.Plugin, override *types.ResourceSpec) types.ResourceSpec {
	if override != nil {
		return *override
	}
	return plugin.DefaultResources()
}

// workflowResources sizes a workflow job to its most demanding step
func workflowResources(plugins []*registry.Plugin, override *types.ResourceSpec) types.ResourceSpec {
	if override != nil {
		return *override
	}
	r := types.DefaultResources()
	for _, p := range plugins {
		pr := p.DefaultResources()
		if pr.MemoryGB > r.MemoryGB {
			r.MemoryGB = pr.MemoryGB
		}
		if pr.CPUs > r.CPUs {
			r.CPUs = pr.CPUs
		}
		if pr.TimeHours > r.TimeHours {
			r.TimeHours = pr.TimeHours
		}
		if pr.GPU {
			r.GPU = true
		}
	}
	return r
}

func (s *Server) listJobs(c *gin.Context) {
	status := types.JobStatus(c.Query("status"))
	limit := 100
	jobs, err := s.backends.Current().List(c.Request.Context(), status, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "count": len(jobs)})
}

// jobsProgress returns a light snapshot for every active job, refreshing
// remote state through the backend
func (s *Server) jobsProgress(c *gin.Context) {
	active, err := s.store.ListActive(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	bk := s.backends.Current()

	type progressEntry struct {
		JobID    string `json:"job_id"`
		Status   string `json:"status"`
		Progress int    `json:"progress"`
		Phase    string `json:"phase,omitempty"`
	}
	entries := make([]progressEntry, 0, len(active))
	for _, job := range active {
		entry := progressEntry{
			JobID:    job.ID,
			Status:   string(job.Status),
			Progress: job.Progress,
			Phase:    job.CurrentPhase,
		}
		if info, err := bk.Info(c.Request.Context(), job.ID); err == nil {
			entry.Status = string(info.Status)
			entry.Progress = info.Progress
			entry.Phase = info.CurrentPhase
		}
		entries = append(entries, entry)
	}
	c.JSON(http.StatusOK, gin.H{"jobs": entries, "count": len(entries)})
}

func (s *Server) getJob(c *gin.Context) {
	info, err := s.backends.Current().Info(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) cancelJob(c *gin.Context) {
	stopped, err := s.backends.Current().Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"job_id":  c.Param("id"),
		"status":  string(types.JobStatusCancelled),
		"stopped": stopped,
	})
}

func (s *Server) jobLogs(c *gin.Context) {
	logs, err := s.backends.Current().Logs(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, logs)
}

func (s *Server) deleteJob(c *gin.Context) {
	removed, err := s.backends.Current().Cleanup(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job_id": c.Param("id"), "deleted": removed})
}

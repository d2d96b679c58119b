package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/neuroinsight/neuroinsight/pkg/log"
)

func (s *Server) resultFiles(c *gin.Context) {
	files, err := s.results.ListFiles(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": files, "count": len(files)})
}

func (s *Server) resultVolumes(c *gin.Context) {
	files, err := s.results.Volumes(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"volumes": files, "count": len(files)})
}

func (s *Server) resultSegmentations(c *gin.Context) {
	files, err := s.results.Segmentations(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"segmentations": files, "count": len(files)})
}

func (s *Server) resultLabels(c *gin.Context) {
	labels, err := s.results.Labels(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"labels": labels, "count": len(labels)})
}

func (s *Server) resultMetrics(c *gin.Context) {
	metrics, err := s.results.Metrics(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, metrics)
}

func (s *Server) resultDownload(c *gin.Context) {
	filePath := c.Query("file_path")
	if filePath == "" {
		badRequest(c, "file_path query parameter is required")
		return
	}
	abs, mediaType, err := s.results.Download(c.Request.Context(), c.Param("id"), filePath)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Content-Type", mediaType)
	c.File(abs)
}

func (s *Server) resultExport(c *gin.Context) {
	jobID := c.Param("id")
	c.Header("Content-Type", "application/gzip")
	c.Header("Content-Disposition", `attachment; filename="`+jobID+`_outputs.tar.gz"`)
	if err := s.results.Export(c.Request.Context(), jobID, c.Writer); err != nil {
		if !c.Writer.Written() {
			respondError(c, err)
			return
		}
		// Mid-stream failure: the status is already out, the archive is
		// truncated
		log.WithComponent("api").Warn().Err(err).Str("job_id", jobID).Msg("export truncated")
	}
}

func (s *Server) resultProvenance(c *gin.Context) {
	prov, err := s.results.Provenance(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, prov)
}

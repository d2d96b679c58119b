package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/neuroinsight/neuroinsight/pkg/backend"
	"github.com/neuroinsight/neuroinsight/pkg/results"
	"github.com/neuroinsight/neuroinsight/pkg/sshconn"
	"github.com/neuroinsight/neuroinsight/pkg/store"
)

// respondError maps internal error kinds to the HTTP convention: 404 for
// missing entities, 400 for bad input or terminal-state cancels, 503 when
// the SSH transport is down, 500 otherwise
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, backend.ErrJobNotFound),
		errors.Is(err, results.ErrJobNotFound),
		errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, backend.ErrAlreadyTerminal),
		errors.Is(err, results.ErrPathEscape),
		errors.Is(err, results.ErrNoOutput),
		errors.Is(err, store.ErrInvalidTransition):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, backend.ErrUnavailable),
		errors.Is(err, sshconn.ErrNotConfigured),
		errors.Is(err, sshconn.ErrConnectionLost):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func notFound(c *gin.Context, msg string) {
	c.JSON(http.StatusNotFound, gin.H{"error": msg})
}

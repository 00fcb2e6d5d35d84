package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mobox-ai/mobox/pkg/services"
)

// abortWithServiceError maps service-layer errors to HTTP error responses.
// notFoundDetail customizes the 404 body, matching the per-route messages.
func abortWithServiceError(c *gin.Context, err error, notFoundDetail string) {
	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": validErr.Error()})
		return
	}
	if errors.Is(err, services.ErrNotFound) {
		if notFoundDetail == "" {
			notFoundDetail = "resource not found"
		}
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"detail": notFoundDetail})
		return
	}

	slog.Error("Unexpected service error", "error", err, "path", c.Request.URL.Path)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"detail": "internal server error"})
}

func abortBadRequest(c *gin.Context, detail string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": detail})
}

func abortNotFound(c *gin.Context, detail string) {
	c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"detail": detail})
}

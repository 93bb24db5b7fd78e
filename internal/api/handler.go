package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"driver-dispatch-backend/internal/dispatch"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	engine *dispatch.Engine
}

// NewHandler creates a new API handler.
func NewHandler(engine *dispatch.Engine) *Handler {
	return &Handler{engine: engine}
}

// respondError maps the dispatch error taxonomy onto HTTP statuses:
// validation 400, forbidden 403, not found 404, stale conflict 409,
// precondition 412.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, dispatch.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, dispatch.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, dispatch.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, dispatch.ErrStale):
		status = http.StatusConflict
	case errors.Is(err, dispatch.ErrPrecondition):
		status = http.StatusPreconditionFailed
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

// pathID parses a UUID path parameter, aborting with 400 on failure.
func pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}

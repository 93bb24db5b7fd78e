package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"driver-dispatch-backend/internal/mw"
)

// Confirm handles POST /api/assignments/:id/confirm.
func (h *Handler) Confirm(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	a, err := h.engine.Confirm(c.Request.Context(), id, mw.ActorID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

type cancelRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// Cancel handles POST /api/assignments/:id/cancel.
func (h *Handler) Cancel(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	a, err := h.engine.Cancel(c.Request.Context(), id, mw.ActorID(c), req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// Arrive handles POST /api/assignments/:id/arrive.
func (h *Handler) Arrive(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	a, err := h.engine.Arrive(c.Request.Context(), id, mw.ActorID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// Start handles POST /api/assignments/:id/start.
func (h *Handler) Start(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	a, err := h.engine.Start(c.Request.Context(), id, mw.ActorID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

type completeRequest struct {
	ParcelsDelivered int `json:"parcels_delivered" binding:"min=0"`
	ParcelsReturned  int `json:"parcels_returned" binding:"min=0"`
}

// Complete handles POST /api/assignments/:id/complete.
func (h *Handler) Complete(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req completeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	a, err := h.engine.Complete(c.Request.Context(), id, mw.ActorID(c), req.ParcelsDelivered, req.ParcelsReturned)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// UpdateCounts handles PATCH /api/assignments/:id/counts inside the
// post-completion edit window.
func (h *Handler) UpdateCounts(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req completeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	a, err := h.engine.UpdateCounts(c.Request.Context(), id, mw.ActorID(c), req.ParcelsDelivered, req.ParcelsReturned)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

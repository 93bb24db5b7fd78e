package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type managerAssignRequest struct {
	DriverID uuid.UUID `json:"driver_id" binding:"required"`
}

// ManagerAssign handles POST /api/manager/assignments/:id/assign.
func (h *Handler) ManagerAssign(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req managerAssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	a, err := h.engine.ManagerAssign(c.Request.Context(), id, req.DriverID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

type emergencyRequest struct {
	BonusPercent int `json:"bonus_percent" binding:"min=0"`
}

// OpenEmergency handles POST /api/manager/assignments/:id/emergency.
func (h *Handler) OpenEmergency(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req emergencyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	w, err := h.engine.OpenEmergencyWindow(c.Request.Context(), id, req.BonusPercent)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, w)
}

// ManagerClose handles POST /api/manager/windows/:id/close.
func (h *Handler) ManagerClose(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	w, err := h.engine.ManagerClose(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"driver-dispatch-backend/internal/dispatch"
	"driver-dispatch-backend/internal/mw"
)

// SubmitBid handles POST /api/windows/:id/bids.
func (h *Handler) SubmitBid(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	b, err := h.engine.SubmitBid(c.Request.Context(), id, mw.ActorID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

// Claim handles POST /api/windows/:id/claim for instant and emergency
// windows.
func (h *Handler) Claim(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	a, err := h.engine.Claim(c.Request.Context(), id, mw.ActorID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

type preferencesRequest struct {
	WeekStart   string `json:"week_start" binding:"required"`
	Preferences []struct {
		RouteID uuid.UUID `json:"route_id" binding:"required"`
		Rank    int       `json:"rank" binding:"required"`
	} `json:"preferences"`
}

// UpdatePreferences handles PUT /api/drivers/:id/preferences, subject to
// the scheduling-cycle lock.
func (h *Handler) UpdatePreferences(c *gin.Context) {
	driverID, ok := pathID(c, "id")
	if !ok {
		return
	}
	if driverID != mw.ActorID(c) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "cannot edit another driver's preferences"})
		return
	}
	var req preferencesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	prefs := make([]dispatch.PreferenceInput, len(req.Preferences))
	for i, p := range req.Preferences {
		prefs[i] = dispatch.PreferenceInput{RouteID: p.RouteID, Rank: p.Rank}
	}
	if err := h.engine.UpdatePreferences(c.Request.Context(), driverID, req.WeekStart, prefs); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

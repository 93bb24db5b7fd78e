package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"driver-dispatch-backend/internal/model"
	"driver-dispatch-backend/internal/mw"
)

// GetAssignment handles GET /api/assignments/:id.
func (h *Handler) GetAssignment(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var a model.Assignment
	err := h.engine.DB().WithContext(c.Request.Context()).
		Preload("Route").First(&a, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "assignment not found"})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// ListMyAssignments handles GET /api/assignments. Optional ?date= filters
// by shift date; ?status= by assignment status.
func (h *Handler) ListMyAssignments(c *gin.Context) {
	q := h.engine.DB().WithContext(c.Request.Context()).
		Preload("Route").
		Where("driver_id = ?", mw.ActorID(c)).
		Order("shift_date ASC")
	if date := c.Query("date"); date != "" {
		q = q.Where("shift_date = ?", date)
	}
	if status := c.Query("status"); status != "" {
		q = q.Where("status = ?", status)
	}
	var assignments []model.Assignment
	if err := q.Find(&assignments).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, assignments)
}

// ListOpenWindows handles GET /api/windows. Drivers browse this to find
// routes to bid on or claim.
func (h *Handler) ListOpenWindows(c *gin.Context) {
	var windows []model.BidWindow
	err := h.engine.DB().WithContext(c.Request.Context()).
		Where("status = ?", model.WindowOpen).
		Order("closes_at ASC").
		Find(&windows).Error
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, windows)
}

// GetWindow handles GET /api/windows/:id, including the window's bids.
func (h *Handler) GetWindow(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var w model.BidWindow
	err := h.engine.DB().WithContext(c.Request.Context()).First(&w, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "bid window not found"})
			return
		}
		respondError(c, err)
		return
	}
	var bids []model.Bid
	if err := h.engine.DB().WithContext(c.Request.Context()).
		Where("bid_window_id = ?", w.ID).
		Order("submitted_at ASC").
		Find(&bids).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"window": w, "bids": bids})
}

// GetDriverHealth handles GET /api/drivers/:id/health. Drivers see their
// own record; managers see anyone's.
func (h *Handler) GetDriverHealth(c *gin.Context) {
	driverID, ok := pathID(c, "id")
	if !ok {
		return
	}
	if c.GetString("actor_role") != mw.RoleManager && driverID != mw.ActorID(c) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "cannot view another driver's health record"})
		return
	}
	var health model.DriverHealth
	err := h.engine.DB().WithContext(c.Request.Context()).
		First(&health, "driver_id = ?", driverID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no health record for driver"})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, health)
}

// ListAssignmentEvents handles GET /api/manager/assignments/:id/events, the
// audit trail for one assignment.
func (h *Handler) ListAssignmentEvents(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var events []model.LifecycleEvent
	err := h.engine.DB().WithContext(c.Request.Context()).
		Where("assignment_id = ?", id).
		Order("occurred_at ASC").
		Find(&events).Error
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"driver-dispatch-backend/internal/model"
	"driver-dispatch-backend/internal/mw"
)

type subscribeRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
	Keys     struct {
		P256DH string `json:"p256dh" binding:"required"`
		Auth   string `json:"auth" binding:"required"`
	} `json:"keys" binding:"required"`
}

// Subscribe handles POST /api/subscriptions, registering the caller's
// browser push endpoint. Re-registering an existing endpoint rebinds it.
func (h *Handler) Subscribe(c *gin.Context) {
	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sub := model.PushSubscription{
		Endpoint: req.Endpoint,
		DriverID: mw.ActorID(c),
		P256DH:   req.Keys.P256DH,
		Auth:     req.Keys.Auth,
	}
	if err := h.engine.DB().WithContext(c.Request.Context()).Save(&sub).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "subscribed"})
}

type unsubscribeRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

// Unsubscribe handles DELETE /api/subscriptions.
func (h *Handler) Unsubscribe(c *gin.Context) {
	var req unsubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := h.engine.DB().WithContext(c.Request.Context()).
		Where("endpoint = ? AND driver_id = ?", req.Endpoint, mw.ActorID(c)).
		Delete(&model.PushSubscription{}).Error
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "unsubscribed"})
}

package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tariel-x/meshcall/internal/auth"
	"github.com/tariel-x/meshcall/internal/push"
)

func (h *Handlers) GetVAPIDPublicKey(c *gin.Context) {
	key := h.push.PublicKey()
	if key == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Push notifications are disabled"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"publicKey": key})
}

func (h *Handlers) SubscribePush(c *gin.Context) {
	var req push.Subscription
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sub, err := h.push.Subscribe(c.Request.Context(), auth.UserID(c), req)
	if err != nil {
		h.logger.Warn("push subscribe failed", "user_id", auth.UserID(c), "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, sub)
}

func (h *Handlers) UnsubscribePush(c *gin.Context) {
	var req struct {
		Endpoint string `json:"endpoint" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.push.Unsubscribe(c.Request.Context(), auth.UserID(c), req.Endpoint); err != nil {
		if errors.Is(err, push.ErrSubscriptionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Subscription not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete subscription"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Unsubscribed"})
}

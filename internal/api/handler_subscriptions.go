package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"webchat-push-bot/internal/model"
)

type putSubscriptionRequest struct {
	UserID     string `json:"user_id" binding:"required"`
	Endpoint   string `json:"endpoint" binding:"required"`
	Key        string `json:"key" binding:"required"`
	AuthSecret string `json:"authSecret" binding:"required"`
}

// PutSubscription registers or replaces a user's subscription without going through the chat channel.
func (h *Handler) PutSubscription(c *gin.Context) {
	var req putSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	sub := model.Subscription{Endpoint: req.Endpoint, P256DH: req.Key, Auth: req.AuthSecret}
	if err := h.registry.Upsert(c.Request.Context(), req.UserID, sub); err != nil {
		h.log.Error().Err(err).Str("user_id", req.UserID).Msg("failed to store subscription")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store subscription"})
		return
	}

	c.Status(http.StatusCreated)
}

type deleteSubscriptionRequest struct {
	UserID   string `json:"user_id" binding:"required"`
	Endpoint string `json:"endpoint" binding:"required"`
}

// DeleteSubscription removes a user's subscription when it still points at the given endpoint.
func (h *Handler) DeleteSubscription(c *gin.Context) {
	var req deleteSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	removed, err := h.registry.Forget(c.Request.Context(), req.UserID, req.Endpoint)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", req.UserID).Msg("failed to delete subscription")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete subscription"})
		return
	}
	if !removed {
		c.JSON(http.StatusNotFound, gin.H{"error": "subscription not found"})
		return
	}

	c.Status(http.StatusNoContent)
}

// GetSubscription reports the endpoint registered for ?user_id=.
func (h *Handler) GetSubscription(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	sub, found, err := h.registry.Lookup(c.Request.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("failed to look up subscription")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to look up subscription"})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "subscription not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user_id": userID, "endpoint": sub.Endpoint})
}

package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"webchat-push-bot/internal/bot"
	"webchat-push-bot/internal/model"
)

// PostMessages handles POST /api/messages, the chat channel's activity feed.
func (h *Handler) PostMessages(c *gin.Context) {
	var activity model.Activity
	if err := c.ShouldBindJSON(&activity); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if err := h.bot.HandleActivity(c.Request.Context(), activity); err != nil {
		if errors.Is(err, bot.ErrInvalidActivity) {
			h.log.Warn().Err(err).Str("type", activity.Type).Msg("activity rejected")
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.log.Error().Err(err).Str("type", activity.Type).Msg("activity failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process activity"})
		return
	}

	c.Status(http.StatusAccepted)
}

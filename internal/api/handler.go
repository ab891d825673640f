package api

import (
	"context"

	"github.com/rs/zerolog"

	"webchat-push-bot/internal/model"
	"webchat-push-bot/internal/registry"
)

// ActivityHandler processes inbound chat activities.
type ActivityHandler interface {
	HandleActivity(ctx context.Context, a model.Activity) error
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	bot            ActivityHandler
	registry       registry.Registry
	vapidPublicKey string
	log            zerolog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(bot ActivityHandler, reg registry.Registry, vapidPublicKey string, log zerolog.Logger) *Handler {
	return &Handler{
		bot:            bot,
		registry:       reg,
		vapidPublicKey: vapidPublicKey,
		log:            log.With().Str("component", "api").Logger(),
	}
}

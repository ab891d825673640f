// Package bot routes inbound chat activities to the loop, the subscription registry and the greeting.
package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"webchat-push-bot/internal/connector"
	"webchat-push-bot/internal/conversation"
	"webchat-push-bot/internal/metrics"
	"webchat-push-bot/internal/model"
	"webchat-push-bot/internal/registry"
)

// ErrInvalidActivity marks activities rejected because of missing or malformed fields.
var ErrInvalidActivity = errors.New("invalid activity")

// Options configures a Bot.
type Options struct {
	AppID    string // optional; members with this id never get the greeting
	Greeting string
}

// Bot handles the activities posted to /api/messages.
type Bot struct {
	registry registry.Registry
	loops    *conversation.Manager
	sender   connector.Sender
	opts     Options
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

// New creates a Bot. sender should already be wrapped with the outgoing hooks.
func New(reg registry.Registry, loops *conversation.Manager, sender connector.Sender, opts Options, m *metrics.Metrics, log zerolog.Logger) *Bot {
	if m == nil {
		m = metrics.New(nil)
	}
	return &Bot{
		registry: reg,
		loops:    loops,
		sender:   sender,
		opts:     opts,
		metrics:  m,
		log:      log.With().Str("component", "bot").Logger(),
	}
}

// HandleActivity processes one inbound activity. Errors wrapping ErrInvalidActivity mean the
// activity was dropped because of its content.
func (b *Bot) HandleActivity(ctx context.Context, a model.Activity) error {
	if a.Type == "" {
		return fmt.Errorf("%w: missing type", ErrInvalidActivity)
	}
	if a.From.ID == "" {
		return fmt.Errorf("%w: missing from.id", ErrInvalidActivity)
	}

	switch a.Type {
	case model.ActivityMessage:
		b.metrics.Activities.WithLabelValues(a.Type).Inc()
		return b.onMessage(ctx, a)
	case model.ActivityEvent:
		b.metrics.Activities.WithLabelValues(a.Type).Inc()
		return b.onEvent(ctx, a)
	case model.ActivityConversationUpdate:
		b.metrics.Activities.WithLabelValues(a.Type).Inc()
		return b.onConversationUpdate(ctx, a)
	default:
		b.metrics.Activities.WithLabelValues("other").Inc()
		b.log.Debug().Str("type", a.Type).Msg("ignoring activity")
		return nil
	}
}

func (b *Bot) onMessage(ctx context.Context, a model.Activity) error {
	if a.Conversation.ID == "" {
		return fmt.Errorf("%w: message without conversation.id", ErrInvalidActivity)
	}
	b.loops.Handle(ctx, a.Conversation.ID, a.Text, b.replyTo(a))
	return nil
}

// replyTo binds the reply address of a so the loop can keep talking after the request ends.
func (b *Bot) replyTo(a model.Activity) conversation.SendFunc {
	return func(ctx context.Context, text string) error {
		return b.sender.Send(ctx, a, text)
	}
}

func (b *Bot) onEvent(ctx context.Context, a model.Activity) error {
	if a.Name != model.EventPushSubscriptionAdded {
		b.log.Debug().Str("name", a.Name).Msg("ignoring event")
		return nil
	}

	sub, err := decodeSubscription(a.Value)
	if err != nil {
		return err
	}
	if err := b.registry.Upsert(ctx, a.From.ID, sub); err != nil {
		return fmt.Errorf("register subscription for %s: %w", a.From.ID, err)
	}
	b.log.Info().Str("user_id", a.From.ID).Msg("push subscription registered")
	return nil
}

func decodeSubscription(raw json.RawMessage) (model.Subscription, error) {
	var sub model.Subscription
	if len(bytes.TrimSpace(raw)) == 0 {
		return sub, fmt.Errorf("%w: %s event without value", ErrInvalidActivity, model.EventPushSubscriptionAdded)
	}
	if err := json.Unmarshal(raw, &sub); err != nil {
		return sub, fmt.Errorf("%w: malformed subscription: %v", ErrInvalidActivity, err)
	}
	if !sub.Complete() {
		return sub, fmt.Errorf("%w: subscription needs endpoint, key and authSecret", ErrInvalidActivity)
	}
	return sub, nil
}

func (b *Bot) onConversationUpdate(ctx context.Context, a model.Activity) error {
	for _, member := range a.MembersAdded {
		if b.isSelf(a, member.ID) {
			continue
		}
		greet := a
		greet.From = member
		if err := b.sender.Send(ctx, greet, b.opts.Greeting); err != nil {
			b.log.Warn().Err(err).Str("member_id", member.ID).Msg("failed to send greeting")
		}
	}
	return nil
}

func (b *Bot) isSelf(a model.Activity, id string) bool {
	return id == a.Recipient.ID || (b.opts.AppID != "" && id == b.opts.AppID)
}

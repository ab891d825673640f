package connector

import (
	"context"

	"webchat-push-bot/internal/model"
)

// Hook is told about every outgoing bot message: the recipient's user id and the text.
type Hook func(userID, text string)

type observed struct {
	next  Sender
	hooks []Hook
}

// Observe wraps next so each hook sees every message after the send attempt.
// The message itself is passed through unchanged.
func Observe(next Sender, hooks ...Hook) Sender {
	return &observed{next: next, hooks: hooks}
}

func (o *observed) Send(ctx context.Context, inbound model.Activity, text string) error {
	err := o.next.Send(ctx, inbound, text)
	for _, h := range o.hooks {
		h(inbound.From.ID, text)
	}
	return err
}

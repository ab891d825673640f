// Package connector posts bot replies back to the chat channel that sent the inbound activity.
package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"webchat-push-bot/config"
	"webchat-push-bot/internal/model"
)

// ErrNoServiceURL is returned when the inbound activity carries no address to reply to.
var ErrNoServiceURL = errors.New("activity has no serviceUrl")

// Sender delivers bot text in reply to an inbound activity.
type Sender interface {
	Send(ctx context.Context, inbound model.Activity, text string) error
}

// Client is the HTTP implementation of Sender.
type Client struct {
	client *http.Client
	log    zerolog.Logger
}

// NewClient creates a channel client using the configured timeout and optional proxy.
func NewClient(cfg config.ConnectorConfig, log zerolog.Logger) *Client {
	log = log.With().Str("component", "connector").Logger()

	var transport http.RoundTripper = &http.Transport{}
	if cfg.HTTPProxy != "" {
		proxyURL, err := url.Parse(cfg.HTTPProxy)
		if err != nil {
			log.Warn().Err(err).Str("proxy", cfg.HTTPProxy).Msg("invalid proxy URL, connector will not use a proxy")
		} else {
			transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
		}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		client: &http.Client{Transport: transport, Timeout: timeout},
		log:    log,
	}
}

// NewReply builds the reply activity for inbound, addressed back to its sender.
func NewReply(inbound model.Activity, text string) model.Activity {
	now := time.Now().UTC()
	return model.Activity{
		Type:         model.ActivityMessage,
		ID:           uuid.NewString(),
		Timestamp:    &now,
		ServiceURL:   inbound.ServiceURL,
		ChannelID:    inbound.ChannelID,
		From:         inbound.Recipient,
		Recipient:    inbound.From,
		Conversation: inbound.Conversation,
		Text:         text,
		ReplyToID:    inbound.ID,
	}
}

// Send posts the reply to {serviceUrl}/v3/conversations/{id}/activities.
func (c *Client) Send(ctx context.Context, inbound model.Activity, text string) error {
	if inbound.ServiceURL == "" {
		return ErrNoServiceURL
	}
	reply := NewReply(inbound, text)

	body, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("failed to marshal reply: %w", err)
	}

	endpoint := strings.TrimRight(inbound.ServiceURL, "/") +
		"/v3/conversations/" + url.PathEscape(inbound.Conversation.ID) + "/activities"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("channel returned status %d for conversation %s", resp.StatusCode, inbound.Conversation.ID)
	}
	c.log.Debug().Str("conversation_id", inbound.Conversation.ID).Str("reply_id", reply.ID).Msg("reply sent")
	return nil
}

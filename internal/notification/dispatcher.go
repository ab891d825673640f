package notification

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog"

	"webchat-push-bot/internal/metrics"
	"webchat-push-bot/internal/registry"
)

var (
	// ErrSubscriptionGone is returned when the push service reports the subscription no longer exists.
	ErrSubscriptionGone = errors.New("push subscription gone")
	// ErrRejected is returned for any other non-2xx push service response.
	ErrRejected = errors.New("push service rejected notification")
)

// Options tunes a Dispatcher.
type Options struct {
	Workers      int
	QueueSize    int
	Timeout      time.Duration // per delivery
	ForgetOnGone bool
	Sender       Sender // nil means WebPushSender
}

type job struct {
	userID string
	text   string
}

// Dispatcher mirrors outgoing bot messages to the recipient's push subscription.
// Callers never wait on delivery: messages are queued and sent by a pool of workers.
type Dispatcher struct {
	size         int
	jobs         chan job
	registry     registry.Registry
	webpush      *webpush.Options
	sender       Sender
	timeout      time.Duration
	forgetOnGone bool
	metrics      *metrics.Metrics
	log          zerolog.Logger
	wg           sync.WaitGroup
}

// NewDispatcher creates a dispatcher. Call Start before messages are dispatched.
func NewDispatcher(reg registry.Registry, webpushOptions *webpush.Options, opts Options, m *metrics.Metrics, log zerolog.Logger) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = opts.Workers
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Sender == nil {
		opts.Sender = &WebPushSender{}
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &Dispatcher{
		size:         opts.Workers,
		jobs:         make(chan job, opts.QueueSize),
		registry:     reg,
		webpush:      webpushOptions,
		sender:       opts.Sender,
		timeout:      opts.Timeout,
		forgetOnGone: opts.ForgetOnGone,
		metrics:      m,
		log:          log.With().Str("component", "dispatcher").Logger(),
	}
}

// Start launches the worker goroutines. They exit when ctx is done.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.size; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}
}

// Wait blocks until every worker started by Start has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.wg.Done()
	d.log.Debug().Int("worker", id).Msg("worker started")
	for {
		select {
		case j := <-d.jobs:
			if err := d.Deliver(ctx, j.userID, j.text); err != nil {
				d.log.Warn().Err(err).Int("worker", id).Str("user_id", j.userID).Msg("push delivery failed")
			}
		case <-ctx.Done():
			d.log.Debug().Int("worker", id).Msg("worker shutting down")
			return
		}
	}
}

// DispatchOutgoing queues text for delivery to userID's subscription and returns immediately.
// When the queue is full the message is dropped.
func (d *Dispatcher) DispatchOutgoing(userID, text string) {
	if userID == "" || text == "" {
		return
	}
	select {
	case d.jobs <- job{userID: userID, text: text}:
	default:
		d.metrics.Dropped.Inc()
		d.log.Warn().Str("user_id", userID).Msg("dispatch queue full, dropping push notification")
	}
}

// Deliver sends text to the subscription registered for userID, if any.
// A missing subscription is not an error.
func (d *Dispatcher) Deliver(ctx context.Context, userID, text string) error {
	sub, found, err := d.registry.Lookup(ctx, userID)
	if err != nil {
		d.metrics.Deliveries.WithLabelValues(metrics.ResultFailed).Inc()
		return fmt.Errorf("lookup subscription: %w", err)
	}
	if !found {
		d.metrics.Deliveries.WithLabelValues(metrics.ResultSkipped).Inc()
		return nil
	}

	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	resp, err := d.sender.Send(sendCtx, []byte(text), wpSub, d.webpush)
	if err != nil {
		d.metrics.Deliveries.WithLabelValues(metrics.ResultFailed).Inc()
		return fmt.Errorf("send to %s: %w", sub.Endpoint, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
		d.metrics.Deliveries.WithLabelValues(metrics.ResultGone).Inc()
		if d.forgetOnGone {
			d.forget(ctx, userID, sub.Endpoint)
		}
		return fmt.Errorf("%w: %s returned %d", ErrSubscriptionGone, sub.Endpoint, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		d.metrics.Deliveries.WithLabelValues(metrics.ResultFailed).Inc()
		return fmt.Errorf("%w: %s returned %d", ErrRejected, sub.Endpoint, resp.StatusCode)
	}

	d.metrics.Deliveries.WithLabelValues(metrics.ResultSent).Inc()
	return nil
}

func (d *Dispatcher) forget(ctx context.Context, userID, endpoint string) {
	removed, err := d.registry.Forget(ctx, userID, endpoint)
	if err != nil {
		d.log.Error().Err(err).Str("user_id", userID).Msg("failed to remove expired subscription")
		return
	}
	if removed {
		d.log.Info().Str("user_id", userID).Str("endpoint", endpoint).Msg("subscription expired, removed")
	}
}

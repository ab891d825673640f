// Package conversation drives the proactive message loop of each chat conversation.
package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"webchat-push-bot/internal/metrics"
)

// State of a conversation loop.
type State int

const (
	Idle State = iota
	Looping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Looping:
		return "looping"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// StopReply is sent when a running loop is stopped.
const StopReply = "Stopping loop"

// CounterMessage formats the proactive message for counter n.
func CounterMessage(n int) string {
	return fmt.Sprintf("Hello, I am a web push notification! :) (%d)", n)
}

// SendFunc delivers a bot message into the conversation.
type SendFunc func(ctx context.Context, text string) error

// Config holds the loop parameters shared by every controller.
type Config struct {
	Interval    time.Duration
	StopCommand string
	Scheduler   Scheduler
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.StopCommand == "" {
		c.StopCommand = "stop"
	}
	if c.Scheduler == nil {
		c.Scheduler = ClockScheduler
	}
	return c
}

// Controller is the Idle/Looping state machine of one conversation.
//
// Transitions and ticks are serialised by mu. Every (re)start bumps run, and a tick only
// acts when it belongs to the current run, so a timer that fires after a stop is a no-op.
type Controller struct {
	cfg     Config
	ctx     context.Context // used by ticks, which outlive the request that started the loop
	metrics *metrics.Metrics
	log     zerolog.Logger

	mu      sync.Mutex
	state   State
	counter int
	run     uint64
	timer   Timer
	send    SendFunc
	retired bool // dropped by the Manager; further input goes to a fresh controller
}

// NewController creates an idle controller. ctx bounds every tick send.
func NewController(ctx context.Context, cfg Config, m *metrics.Metrics, log zerolog.Logger) *Controller {
	if m == nil {
		m = metrics.New(nil)
	}
	return &Controller{
		cfg:     cfg.withDefaults(),
		ctx:     ctx,
		metrics: m,
		log:     log,
	}
}

// Handle applies one inbound text. send is used for the reply and, when the text starts a
// loop, for every following tick.
func (c *Controller) Handle(ctx context.Context, text string, send SendFunc) {
	c.handle(ctx, text, send)
}

// handle is Handle that reports false, without acting, once the controller is retired.
func (c *Controller) handle(ctx context.Context, text string, send SendFunc) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.retired {
		return false
	}

	if text == c.cfg.StopCommand {
		if c.state == Looping {
			c.haltLocked()
			c.deliver(ctx, send, StopReply)
		}
		return true
	}

	if c.state == Looping {
		return true
	}
	c.state = Looping
	c.run++
	c.counter = 1
	c.send = send
	c.log.Debug().Uint64("run", c.run).Msg("loop started")
	c.tickLocked(ctx)
	return true
}

// retireIfIdle marks an idle controller as retired and reports whether it did.
func (c *Controller) retireIfIdle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Idle {
		return false
	}
	c.retired = true
	return true
}

// Halt stops a running loop without replying.
func (c *Controller) Halt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Looping {
		c.haltLocked()
	}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Counter returns the value the next tick will report.
func (c *Controller) Counter() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counter
}

func (c *Controller) haltLocked() {
	c.state = Idle
	c.run++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.send = nil
	c.log.Debug().Msg("loop stopped")
}

// tickLocked sends while mu is held, so a stop arriving mid-send waits for it (up to the
// channel timeout). That keeps a conversation's messages ordered and the stop reply last.
func (c *Controller) tickLocked(ctx context.Context) {
	c.deliver(ctx, c.send, CounterMessage(c.counter))
	c.metrics.LoopTicks.Inc()
	c.counter++

	run := c.run
	c.timer = c.cfg.Scheduler.AfterFunc(c.cfg.Interval, func() { c.fire(run) })
}

func (c *Controller) fire(run uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Looping || run != c.run {
		return
	}
	if c.ctx.Err() != nil {
		c.haltLocked()
		return
	}
	c.tickLocked(c.ctx)
}

// deliver sends text and only logs failures; the loop keeps its schedule regardless.
func (c *Controller) deliver(ctx context.Context, send SendFunc, text string) {
	if send == nil {
		return
	}
	if err := send(ctx, text); err != nil {
		c.log.Warn().Err(err).Msg("failed to send loop message")
	}
}

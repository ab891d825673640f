package conversation

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"webchat-push-bot/internal/metrics"
)

// Manager owns one Controller per conversation id. Controllers are dropped once idle, so
// only looping conversations are kept.
type Manager struct {
	cfg     Config
	metrics *metrics.Metrics
	log     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.RWMutex
	controllers map[string]*Controller
}

// NewManager creates an empty manager.
func NewManager(cfg Config, m *metrics.Metrics, log zerolog.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:         cfg.withDefaults(),
		metrics:     m,
		log:         log.With().Str("component", "loop").Logger(),
		ctx:         ctx,
		cancel:      cancel,
		controllers: make(map[string]*Controller),
	}
}

// Controller returns the controller for conversationID, creating it on first use.
func (m *Manager) Controller(conversationID string) *Controller {
	m.mu.RLock()
	c, exists := m.controllers[conversationID]
	m.mu.RUnlock()
	if exists {
		return c
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, exists = m.controllers[conversationID]; exists {
		return c
	}
	c = NewController(m.ctx, m.cfg, m.metrics, m.log.With().Str("conversation_id", conversationID).Logger())
	m.controllers[conversationID] = c
	return c
}

// Handle routes text to the conversation's controller.
func (m *Manager) Handle(ctx context.Context, conversationID, text string, send SendFunc) {
	for {
		c := m.Controller(conversationID)
		if !c.handle(ctx, text, send) {
			// retired between lookup and handle
			m.evict(conversationID, c)
			continue
		}
		if c.State() == Idle {
			m.evict(conversationID, c)
		}
		return
	}
}

// evict removes c if it is still the controller registered for conversationID and is idle.
func (m *Manager) evict(conversationID string, c *Controller) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.controllers[conversationID] != c {
		return
	}
	if c.retireIfIdle() {
		delete(m.controllers, conversationID)
	}
}

// Len returns the number of conversations currently held.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.controllers)
}

// Shutdown halts every loop. Ticks already waiting on a controller see a cancelled context.
func (m *Manager) Shutdown() {
	m.cancel()
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.controllers {
		c.Halt()
	}
}

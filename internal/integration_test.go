package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"webchat-push-bot/config"
	"webchat-push-bot/internal/api"
	"webchat-push-bot/internal/bot"
	"webchat-push-bot/internal/connector"
	"webchat-push-bot/internal/conversation"
	"webchat-push-bot/internal/db"
	"webchat-push-bot/internal/metrics"
	"webchat-push-bot/internal/model"
	"webchat-push-bot/internal/notification"
	"webchat-push-bot/internal/registry"
)

// stepScheduler holds scheduled ticks until the test fires them.
type stepScheduler struct {
	mu      sync.Mutex
	pending []*stepTimer
}

type stepTimer struct {
	f       func()
	stopped bool
}

func (t *stepTimer) Stop() bool {
	wasActive := !t.stopped
	t.stopped = true
	return wasActive
}

func (s *stepScheduler) AfterFunc(_ time.Duration, f func()) conversation.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &stepTimer{f: f}
	s.pending = append(s.pending, t)
	return t
}

// fire runs the oldest pending tick. Stopped ticks are run too; the loop must ignore them.
func (s *stepScheduler) fire(t *testing.T) {
	t.Helper()
	s.mu.Lock()
	require.NotEmpty(t, s.pending, "no tick scheduled")
	next := s.pending[0]
	s.pending = s.pending[1:]
	s.mu.Unlock()
	next.f()
}

// channelServer records the replies the bot posts back to the chat channel.
type channelServer struct {
	mu      sync.Mutex
	replies []model.Activity
	paths   []string
}

func (c *channelServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var a model.Activity
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	c.mu.Lock()
	c.replies = append(c.replies, a)
	c.paths = append(c.paths, r.URL.Path)
	c.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (c *channelServer) reply(i int) (model.Activity, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replies[i], c.paths[i]
}

func (c *channelServer) texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.replies))
	for _, a := range c.replies {
		out = append(out, a.Text)
	}
	return out
}

// pushRecorder stands in for the push service.
type pushRecorder struct {
	mu        sync.Mutex
	status    int
	endpoints []string
	payloads  []string
}

func (p *pushRecorder) Send(_ context.Context, payload []byte, sub *webpush.Subscription, _ *webpush.Options) (*http.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endpoints = append(p.endpoints, sub.Endpoint)
	p.payloads = append(p.payloads, string(payload))
	return &http.Response{StatusCode: p.status, Body: io.NopCloser(strings.NewReader(""))}, nil
}

func (p *pushRecorder) sent() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.payloads...)
}

type harness struct {
	router  *gin.Engine
	channel *channelServer
	chanURL string
	push    *pushRecorder
	sched   *stepScheduler
	subs    registry.Registry
	metrics *metrics.Metrics
	loops   *conversation.Manager
}

func newHarness(t *testing.T, pushStatus int) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	testDB, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err, "failed to connect to the in-memory database")
	sqlDB, err := testDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.Migrate(testDB))
	subs := registry.NewGorm(testDB)
	t.Cleanup(func() { _ = subs.Close() })

	channel := &channelServer{}
	srv := httptest.NewServer(channel)
	t.Cleanup(srv.Close)

	m := metrics.New(prometheus.NewRegistry())
	log := zerolog.Nop()

	push := &pushRecorder{status: pushStatus}
	ctx, cancel := context.WithCancel(context.Background())
	dispatcher := notification.NewDispatcher(subs, &webpush.Options{TTL: 1}, notification.Options{
		Workers:      2,
		QueueSize:    16,
		Timeout:      time.Second,
		ForgetOnGone: true,
		Sender:       push,
	}, m, log)
	dispatcher.Start(ctx)

	sched := &stepScheduler{}
	loops := conversation.NewManager(conversation.Config{
		Interval:    5 * time.Second,
		StopCommand: "stop",
		Scheduler:   sched,
	}, m, log)
	t.Cleanup(func() {
		loops.Shutdown()
		cancel()
		dispatcher.Wait()
	})

	sender := connector.Observe(connector.NewClient(config.ConnectorConfig{Timeout: time.Second}, log), dispatcher.DispatchOutgoing)
	b := bot.New(subs, loops, sender, bot.Options{AppID: "bot", Greeting: "hi there"}, m, log)
	router := api.NewRouter(api.NewHandler(b, subs, "BPub", log), config.ServerConfig{
		RateLimitPerSec: 1000,
		RateLimitBurst:  1000,
	}, nil, log)

	return &harness{
		router:  router,
		channel: channel,
		chanURL: srv.URL,
		push:    push,
		sched:   sched,
		subs:    subs,
		metrics: m,
		loops:   loops,
	}
}

func (h *harness) post(t *testing.T, a model.Activity) int {
	t.Helper()
	if a.ServiceURL == "" {
		a.ServiceURL = h.chanURL
	}
	body, err := json.Marshal(a)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/messages", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w.Code
}

func message(text string) model.Activity {
	return model.Activity{
		Type:         model.ActivityMessage,
		ID:           "in-" + text,
		ChannelID:    "webchat",
		From:         model.ChannelAccount{ID: "user-1"},
		Recipient:    model.ChannelAccount{ID: "bot"},
		Conversation: model.ConversationAccount{ID: "conv-1"},
		Text:         text,
	}
}

func subscribe(endpoint string) model.Activity {
	return model.Activity{
		Type:         model.ActivityEvent,
		Name:         model.EventPushSubscriptionAdded,
		From:         model.ChannelAccount{ID: "user-1"},
		Recipient:    model.ChannelAccount{ID: "bot"},
		Conversation: model.ConversationAccount{ID: "conv-1"},
		Value:        json.RawMessage(`{"endpoint":"` + endpoint + `","key":"p256","authSecret":"auth"}`),
	}
}

// TestLoopMirroredToPush walks a user through subscribing, starting the loop, one tick and stop,
// checking the chat replies and the mirrored push notifications at each step.
func TestLoopMirroredToPush(t *testing.T) {
	h := newHarness(t, http.StatusCreated)

	require.Equal(t, http.StatusAccepted, h.post(t, subscribe("https://push.example/u1")))
	sub, found, err := h.subs.Lookup(context.Background(), "user-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "p256", sub.P256DH)

	require.Equal(t, http.StatusAccepted, h.post(t, message("hello")))
	assert.Equal(t, []string{conversation.CounterMessage(1)}, h.channel.texts())
	first, path := h.channel.reply(0)
	assert.Equal(t, "/v3/conversations/conv-1/activities", path)
	assert.Equal(t, "user-1", first.Recipient.ID)
	assert.Equal(t, "in-hello", first.ReplyToID)
	require.Eventually(t, func() bool { return len(h.push.sent()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, conversation.CounterMessage(1), h.push.sent()[0])

	h.sched.fire(t)
	assert.Equal(t, []string{conversation.CounterMessage(1), conversation.CounterMessage(2)}, h.channel.texts())
	require.Eventually(t, func() bool { return len(h.push.sent()) == 2 }, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, http.StatusAccepted, h.post(t, message("stop")))
	assert.Equal(t, conversation.StopReply, h.channel.texts()[2])
	assert.Equal(t, conversation.Idle, h.loops.Controller("conv-1").State())

	// the tick scheduled before stop must not produce a message
	h.sched.fire(t)
	assert.Len(t, h.channel.texts(), 3)

	require.Eventually(t, func() bool { return len(h.push.sent()) == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []string{
		conversation.CounterMessage(1), conversation.CounterMessage(2), conversation.StopReply,
	}, h.push.sent())
	assert.Equal(t, 3.0, testutil.ToFloat64(h.metrics.Deliveries.WithLabelValues(metrics.ResultSent)))
}

// TestUnsubscribedUserOnlyGetsChat ensures messages to users without a subscription stay chat-only.
func TestUnsubscribedUserOnlyGetsChat(t *testing.T) {
	h := newHarness(t, http.StatusCreated)

	require.Equal(t, http.StatusAccepted, h.post(t, message("hello")))
	assert.Equal(t, []string{conversation.CounterMessage(1)}, h.channel.texts())

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.metrics.Deliveries.WithLabelValues(metrics.ResultSkipped)) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, h.push.sent())
}

// TestGoneSubscriptionIsForgotten checks that a 410 from the push service removes the record.
func TestGoneSubscriptionIsForgotten(t *testing.T) {
	h := newHarness(t, http.StatusGone)

	require.Equal(t, http.StatusAccepted, h.post(t, subscribe("https://push.example/expired")))
	require.Equal(t, http.StatusAccepted, h.post(t, message("hello")))

	require.Eventually(t, func() bool {
		_, found, err := h.subs.Lookup(context.Background(), "user-1")
		return err == nil && !found
	}, 2*time.Second, 10*time.Millisecond)
}

// TestGreetingOnJoin checks that joining users are greeted and the bot itself is not.
func TestGreetingOnJoin(t *testing.T) {
	h := newHarness(t, http.StatusCreated)

	code := h.post(t, model.Activity{
		Type:         model.ActivityConversationUpdate,
		From:         model.ChannelAccount{ID: "user-1"},
		Recipient:    model.ChannelAccount{ID: "bot"},
		Conversation: model.ConversationAccount{ID: "conv-1"},
		MembersAdded: []model.ChannelAccount{{ID: "bot"}, {ID: "user-1"}},
	})
	require.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, []string{"hi there"}, h.channel.texts())
	greeting, _ := h.channel.reply(0)
	assert.Equal(t, "user-1", greeting.Recipient.ID)
}

func TestMalformedSubscriptionRejected(t *testing.T) {
	h := newHarness(t, http.StatusCreated)

	a := subscribe("")
	a.Value = json.RawMessage(`{"endpoint":"https://push.example/x"}`)
	assert.Equal(t, http.StatusBadRequest, h.post(t, a))

	_, found, err := h.subs.Lookup(context.Background(), "user-1")
	require.NoError(t, err)
	assert.False(t, found)
}

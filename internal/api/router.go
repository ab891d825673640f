package api

import (
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"webchat-push-bot/config"
	"webchat-push-bot/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(handler *Handler, cfg config.ServerConfig, gatherer prometheus.Gatherer, log zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), mw.RequestLogger(log))

	// The activity feed arrives from the chat channel's connector, one client address for
	// every user, so it is not limited per IP.
	r.POST("/api/messages", handler.PostMessages)

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.GET("/subscriptions", handler.GetSubscription)
		api.PUT("/subscriptions", handler.PutSubscription)
		api.DELETE("/subscriptions", handler.DeleteSubscription)

		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	if info, err := os.Stat(cfg.WebDir); err == nil && info.IsDir() {
		r.NoRoute(serveWebClient(cfg.WebDir))
	} else {
		log.Warn().Str("web_dir", cfg.WebDir).Msg("web client directory not found, static files disabled")
	}

	return r
}

// serveWebClient serves the chat page and its assets for any unmatched GET/HEAD; index.html is the default document.
func serveWebClient(dir string) gin.HandlerFunc {
	files := http.FileServer(gin.Dir(dir, false))
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		files.ServeHTTP(c.Writer, c.Request)
	}
}

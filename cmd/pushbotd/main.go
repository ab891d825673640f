package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"webchat-push-bot/config"
	"webchat-push-bot/internal/api"
	"webchat-push-bot/internal/bot"
	"webchat-push-bot/internal/connector"
	"webchat-push-bot/internal/conversation"
	"webchat-push-bot/internal/logging"
	"webchat-push-bot/internal/metrics"
	"webchat-push-bot/internal/notification"
	"webchat-push-bot/internal/registry"
	"webchat-push-bot/internal/vapid"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml"
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration from %s: %v\n", configPath, err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log)
	logger.Info().Str("path", configPath).Msg("configuration loaded")

	keys, err := vapid.Resolve(cfg.Push, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to resolve VAPID keys")
	}
	webpushOptions := vapid.Options(keys, cfg.Push)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promReg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	subs, err := registry.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open subscription registry")
	}

	dispatcher := notification.NewDispatcher(subs, webpushOptions, notification.Options{
		Workers:      cfg.WorkerPool.Size,
		QueueSize:    cfg.WorkerPool.QueueSize,
		Timeout:      cfg.Push.Timeout,
		ForgetOnGone: cfg.Registry.ForgetOnGoneEnabled(),
	}, m, logger)
	dispatcher.Start(ctx)

	channel := connector.Observe(connector.NewClient(cfg.Connector, logger), dispatcher.DispatchOutgoing)

	loops := conversation.NewManager(conversation.Config{
		Interval:    cfg.Bot.LoopInterval,
		StopCommand: cfg.Bot.StopCommand,
	}, m, logger)

	b := bot.New(subs, loops, channel, bot.Options{
		AppID:    cfg.Bot.AppID,
		Greeting: cfg.Bot.Greeting,
	}, m, logger)

	handler := api.NewHandler(b, subs, keys.PublicKey, logger)
	router := api.NewRouter(handler, cfg.Server, promReg, logger)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Int("port", cfg.Server.Port).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("HTTP server ListenAndServe")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Info().Msg("shutdown signal received, stopping services")

	shutdown(server, loops, dispatcher, subs, cancel, logger)
	logger.Info().Msg("server gracefully stopped")
}

// loadConfig reads path, or falls back to environment and defaults when it does not exist.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return config.Default()
	}
	return cfg, err
}

func shutdown(server *http.Server, loops *conversation.Manager, dispatcher *notification.Dispatcher, subs registry.Registry, cancel context.CancelFunc, logger zerolog.Logger) {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server Shutdown")
	}

	loops.Shutdown()
	cancel()
	dispatcher.Wait()

	if err := subs.Close(); err != nil {
		logger.Error().Err(err).Msg("failed to close subscription registry")
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rssi-haptics/actuator"
	"rssi-haptics/cache"
	"rssi-haptics/config"
	"rssi-haptics/handlers"

	"github.com/lmittmann/tint"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.New(tint.NewHandler(os.Stderr, nil)).Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	level, _ := cfg.SlogLevel()
	log := slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: level, TimeFormat: time.TimeOnly}))
	slog.SetDefault(log)

	ctx := context.Background()

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	redisClient, err := cache.NewRedisClient(startCtx, cfg.RedisAddr, cfg.SnapshotTTL)
	if err != nil {
		log.Error("failed to connect to redis", "addr", cfg.RedisAddr, "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	log.Info("connected to redis", "addr", cfg.RedisAddr)

	opts := handlers.Options{
		Store:     redisClient,
		Reader:    redisClient,
		Mapping:   cfg.Mapping,
		QueueSize: cfg.SessionQueueSize,
		Logger:    log,
	}

	if cfg.MQTTBroker != "" {
		mqttActuator, err := actuator.Dial(startCtx, actuator.Options{
			Broker:      cfg.MQTTBroker,
			ClientID:    cfg.MQTTClientID,
			TopicPrefix: cfg.MQTTTopicPrefix,
			Logger:      log,
		})
		if err != nil {
			log.Error("failed to connect to mqtt broker", "broker", cfg.MQTTBroker, "error", err)
			os.Exit(1)
		}
		defer mqttActuator.Close()
		opts.Actuator = mqttActuator
		log.Info("connected to mqtt broker", "broker", cfg.MQTTBroker, "topic_prefix", cfg.MQTTTopicPrefix)
	} else {
		log.Warn("no mqtt broker configured, pulses are only streamed over /stream")
	}

	readingHandler := handlers.NewReadingHandler(opts)
	defer readingHandler.Close()

	srv := &http.Server{
		Addr:           cfg.ListenAddr,
		Handler:        handlers.NewRouter(readingHandler),
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		log.Info("server starting", "addr", cfg.ListenAddr,
			"debounce", cfg.Mapping.DebounceInterval, "min_z", cfg.Mapping.MinZ, "max_z", cfg.Mapping.MaxZ)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	shutdownCtx, cancelShutdown := context.WithTimeout(ctx, 30*time.Second)
	defer cancelShutdown()

	// stream clients hold hijacked connections that Shutdown does not wait for
	readingHandler.Hub().Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}

	log.Info("server exited")
}

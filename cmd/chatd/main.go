package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/motormart/motormart-chat/internal/broker"
	"github.com/motormart/motormart-chat/internal/config"
	"github.com/motormart/motormart-chat/internal/handlers"
)

func main() {
	cfg := config.Load()

	var logger *zap.Logger
	var err error
	if cfg.IsDevelopment() {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	hub := broker.NewHub(broker.NewHistoryLog(), logger)
	go hub.Start()

	h := handlers.NewChatHandler(hub)

	app := fiber.New()
	app.Get("/ws/:user", websocket.New(h.Register))
	app.Get("/api/conversations", h.Conversations)
	app.Get("/api/history/:conversation", h.History)
	app.Get("/healthz", h.Health)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	go func() {
		logger.Info("broker listening", zap.String("addr", cfg.Addr))
		if err := app.Listen(cfg.Addr); err != nil {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	if err := app.Shutdown(); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
	}
}

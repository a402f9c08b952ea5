package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/wazzap/chat-backend/internal/config"
	"github.com/wazzap/chat-backend/internal/database"
	"github.com/wazzap/chat-backend/internal/domain"
	"github.com/wazzap/chat-backend/internal/handler"
	"github.com/wazzap/chat-backend/internal/hub"
	"github.com/wazzap/chat-backend/internal/service"
	"github.com/wazzap/chat-backend/internal/session"
	"github.com/wazzap/chat-backend/internal/store"
	"github.com/wazzap/chat-backend/internal/worker"
	"github.com/wazzap/chat-backend/pkg/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log.Init(cfg.Log)
	logger := log.L()
	logger.Info().Str("addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)).Msg("starting chat backend")

	db, err := database.New(cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := database.AutoMigrate(db,
		&domain.User{},
		&domain.Chat{},
		&domain.ChatMember{},
		&domain.Message{},
		&domain.MessageStatus{},
	); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate database")
	}

	chatStore := store.NewGormStore(db)

	// Registries are process-lifetime; a restart leaves every client
	// with an unknown session, which is the reconnect signal.
	sessions := session.NewRegistry()
	sessions.ClearAll()

	wsHub := hub.NewHub()

	pool := worker.NewPool(cfg.Worker.Size, cfg.Worker.QueueSize)
	defer pool.Close()

	realtimeSvc := service.NewRealtimeService(wsHub, chatStore, pool)

	wsHandler := handler.NewWSHandler(wsHub, sessions, realtimeSvc, cfg.WebSocket)
	legacyHandler := handler.NewLegacyHandler(wsHub, realtimeSvc, cfg.WebSocket)
	authHandler := handler.NewAuthHandler(chatStore, sessions, cfg.Auth)

	router := mux.NewRouter()
	wsHandler.RegisterRoutes(router)
	legacyHandler.RegisterRoutes(router)
	authHandler.RegisterRoutes(router)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	server := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     router,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info().Int("port", cfg.Server.Port).Msg("listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("forced shutdown")
	}

	logger.Info().Msg("stopped")
}

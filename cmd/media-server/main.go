package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"conify/internal/common"
	"conify/internal/config"
	"conify/internal/dbmongo"
	"conify/internal/logger"
	"conify/internal/media"
	"conify/internal/user"
)

// Standalone attachment server for deployments that keep media off the chat nodes.
func main() {
	cfg := config.LoadConfig()

	zlog := logger.Must(cfg.Logging)
	defer func() { _ = zlog.Sync() }()

	mongoClient, err := dbmongo.NewMongoConnection(cfg)
	if err != nil {
		zlog.Fatal("failed to connect to MongoDB", zap.Error(err))
	}
	defer mongoClient.Close(context.Background())

	mediaServer := media.NewHTTPServer(dbmongo.NewMediaStorage(mongoClient), cfg, zlog)

	router := mux.NewRouter()
	mediaServer.RegisterPublic(router)
	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(common.HTTPAuthMiddleware(user.NewResolver(cfg, nil, zlog), cfg.Auth.CookieName))
	mediaServer.RegisterUpload(api)

	server := &http.Server{
		Addr:           net.JoinHostPort(cfg.Server.Host, cfg.Server.HTTPPort),
		Handler:        router,
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		zlog.Info("media server listening", zap.String("addr", server.Addr), zap.String("base_url", cfg.Server.MediaBaseURL))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("media server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		zlog.Warn("media server forced to shutdown", zap.Error(err))
	}
	zlog.Info("media server stopped")
}

package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"conify/internal/common"
	"conify/internal/dbmongo"
	"conify/internal/wire"
)

const (
	serviceName     = "conify.chat"
	shutdownTimeout = 30 * time.Second
	healthInterval  = 10 * time.Second
)

func main() {
	app, cleanup, err := wire.InitializeApplication()
	if err != nil {
		log.Fatalf("Failed to initialize chat service: %v", err)
	}
	defer cleanup()

	logger := app.Logger.Named("chat-svc")
	zap.ReplaceGlobals(app.Logger)

	cfg := app.Config
	logger.Info("starting chat service",
		zap.String("environment", cfg.Server.Environment),
		zap.String("store", cfg.Chat.StoreDriver),
		zap.String("presence", cfg.Realtime.PresenceBackend),
		zap.Bool("nats", cfg.NATS.Enabled),
	)

	httpServer := &http.Server{
		Addr:           net.JoinHostPort(cfg.Server.Host, cfg.Server.HTTPPort),
		Handler:        app.Router,
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(loggingUnaryInterceptor(logger), common.AuthInterceptor(app.Resolver)),
		grpc.ChainStreamInterceptor(loggingStreamInterceptor(logger), common.StreamAuthInterceptor(app.Resolver)),
	)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	lis, err := net.Listen("tcp", net.JoinHostPort(cfg.Server.Host, cfg.Server.ChatServicePort))
	if err != nil {
		logger.Fatal("listen for gRPC failed", zap.String("port", cfg.Server.ChatServicePort), zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("gRPC server listening", zap.String("addr", lis.Addr().String()))
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		watchHealth(gctx, healthServer, app.Stores.Mongo, logger)
		return nil
	})
	if lease := app.Presence.Lease; lease != nil {
		g.Go(func() error {
			return lease.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down chat service")
		healthServer.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := app.Gateway.Shutdown(shutdownCtx); err != nil {
			logger.Warn("realtime sessions did not drain", zap.Error(err))
		}
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP server forced to shutdown", zap.Error(err))
		}
		grpcServer.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("chat service stopped with error", zap.Error(err))
		return
	}
	logger.Info("chat service stopped")
}

// watchHealth reports NOT_SERVING while the document store is unreachable.
func watchHealth(ctx context.Context, hs *health.Server, mongo *dbmongo.MongoClient, logger *zap.Logger) {
	set := func(status healthpb.HealthCheckResponse_ServingStatus) {
		hs.SetServingStatus("", status)
		hs.SetServingStatus(serviceName, status)
	}
	set(healthpb.HealthCheckResponse_SERVING)
	if mongo == nil {
		return
	}

	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := mongo.Ping(pingCtx)
		cancel()
		if err != nil {
			logger.Warn("mongo ping failed", zap.Error(err))
			set(healthpb.HealthCheckResponse_NOT_SERVING)
			continue
		}
		set(healthpb.HealthCheckResponse_SERVING)
	}
}

func loggingUnaryInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if err != nil {
			logger.Warn("rpc failed", zap.String("method", info.FullMethod), zap.Duration("took", time.Since(start)), zap.Error(err))
		} else {
			logger.Debug("rpc completed", zap.String("method", info.FullMethod), zap.Duration("took", time.Since(start)))
		}
		return resp, err
	}
}

func loggingStreamInterceptor(logger *zap.Logger) grpc.StreamServerInterceptor {
	return func(srv interface{}, stream grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		logger.Debug("stream started", zap.String("method", info.FullMethod))
		err := handler(srv, stream)
		if err != nil {
			logger.Warn("stream ended with error", zap.String("method", info.FullMethod), zap.Error(err))
		}
		return err
	}
}

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

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lewatt23/smi.to/internal/app"
	"github.com/lewatt23/smi.to/internal/config"
	grpcv2 "github.com/lewatt23/smi.to/internal/grpc/v2"
	"github.com/lewatt23/smi.to/internal/handlers"
	"github.com/lewatt23/smi.to/internal/router"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := run(ctx, os.Args[1:], logger); err != nil {
		logger.Fatal("Сервер остановлен с ошибкой", zap.Error(err))
	}
}

// run запускает HTTP и, если задан адрес, gRPC сервер и ждёт отмены ctx.
func run(ctx context.Context, args []string, logger *zap.Logger) error {
	cfg, err := config.Load(args)
	if err != nil {
		return err
	}
	logger.Info("Инициализация конфигурации",
		zap.String("address", cfg.ServerAddress),
		zap.String("grpc_address", cfg.GRPCAddress),
		zap.String("base_url", cfg.BaseURL),
		zap.String("mode", cfg.Mode),
	)

	st, err := app.OpenStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("Ошибка при закрытии хранилища", zap.Error(err))
		}
	}()

	svc := app.NewService(st, cfg, logger)
	handler := handlers.NewHandler(svc, logger)

	srv := &http.Server{
		Addr:              cfg.ServerAddress,
		Handler:           router.NewRouter(handler, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	var grpcLis net.Listener
	if cfg.GRPCAddress != "" {
		if grpcLis, err = net.Listen("tcp", cfg.GRPCAddress); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Сервер запущен", zap.String("address", cfg.ServerAddress))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if grpcLis != nil {
		grpcSrv := grpcv2.NewServer(svc, logger)
		g.Go(func() error {
			logger.Info("gRPC сервер запущен", zap.String("address", cfg.GRPCAddress))
			return grpcSrv.Serve(grpcLis)
		})
		g.Go(func() error {
			<-gctx.Done()
			grpcSrv.GracefulStop()
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Останавливаем сервер")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

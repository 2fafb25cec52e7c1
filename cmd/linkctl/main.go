// Команда linkctl управляет короткими ссылками через gRPC API сервиса.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	grpcv2 "github.com/lewatt23/smi.to/internal/grpc/v2"
)

func main() {
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(dialGRPC).ExecuteContext(ctx); err != nil {
		logger.Fatal("Команда завершилась с ошибкой", zap.Error(err))
	}
}

// dialGRPC открывает соединение без TLS.
func dialGRPC(addr string) (*grpcv2.Client, func() error, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, err
	}
	return grpcv2.NewClient(conn), conn.Close, nil
}

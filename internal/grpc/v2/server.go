// Package v2 реализует gRPC API сервиса коротких ссылок.
package v2

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/lewatt23/smi.to/internal/handlers"
	"github.com/lewatt23/smi.to/internal/model"
	"github.com/lewatt23/smi.to/internal/service"
)

// GRPCServer реализует ShortLinksServer поверх сервиса ссылок.
type GRPCServer struct {
	Service handlers.LinkService
	Logger  *zap.Logger
}

var _ ShortLinksServer = (*GRPCServer)(nil)

// NewGRPCServer создаёт реализацию сервиса.
func NewGRPCServer(svc handlers.LinkService, logger *zap.Logger) *GRPCServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GRPCServer{Service: svc, Logger: logger}
}

// NewServer создаёт grpc.Server с журналированием и зарегистрированным сервисом.
func NewServer(svc handlers.LinkService, logger *zap.Logger, opts ...grpc.ServerOption) *grpc.Server {
	impl := NewGRPCServer(svc, logger)
	opts = append([]grpc.ServerOption{grpc.UnaryInterceptor(LoggingInterceptor(impl.Logger))}, opts...)
	s := grpc.NewServer(opts...)
	RegisterShortLinksServer(s, impl)
	return s
}

func (s *GRPCServer) Shorten(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	if req.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "URL is empty")
	}

	link, created, err := s.Service.CreateShortLink(ctx, req.GetValue())
	if err != nil {
		return nil, s.toStatus(err)
	}

	out, err := s.linkStruct(link)
	if err != nil {
		return nil, err
	}
	out.Fields["created"] = structpb.NewBoolValue(created)
	return out, nil
}

func (s *GRPCServer) Resolve(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	if req.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "code is required")
	}

	origin, err := s.Service.Resolve(ctx, req.GetValue(), visitMeta(ctx))
	if err != nil {
		return nil, s.toStatus(err)
	}
	return wrapperspb.String(origin), nil
}

func (s *GRPCServer) Stats(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	link, err := s.Service.GetStats(ctx, req.GetValue())
	if err != nil {
		return nil, s.toStatus(err)
	}
	return s.linkStruct(link)
}

func (s *GRPCServer) ListRecent(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	links, err := s.Service.ListRecent(ctx)
	if err != nil {
		return nil, s.toStatus(err)
	}

	out := &structpb.ListValue{Values: make([]*structpb.Value, 0, len(links))}
	for _, link := range links {
		item, err := s.linkStruct(link)
		if err != nil {
			return nil, err
		}
		out.Values = append(out.Values, structpb.NewStructValue(item))
	}
	return out, nil
}

func (s *GRPCServer) DeleteByCode(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.Int64Value, error) {
	n, err := s.Service.DeleteByCode(ctx, req.GetValue())
	if err != nil {
		return nil, s.toStatus(err)
	}
	return wrapperspb.Int64(n), nil
}

func (s *GRPCServer) DeleteByID(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.Int64Value, error) {
	n, err := s.Service.DeleteByID(ctx, req.GetValue())
	if err != nil {
		return nil, s.toStatus(err)
	}
	return wrapperspb.Int64(n), nil
}

// linkStruct переводит запись в Struct через её JSON-представление,
// поэтому имена полей совпадают с HTTP API.
func (s *GRPCServer) linkStruct(link *model.ShortLink) (*structpb.Struct, error) {
	data, err := json.Marshal(model.LinkResponse{ShortLink: link, ShortURL: s.Service.ShortURL(link.ShortCode)})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode link: %v", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encode link: %v", err)
	}
	return out, nil
}

// visitMeta берёт данные клиента из входящих метаданных.
func visitMeta(ctx context.Context) service.VisitMeta {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return service.VisitMeta{}
	}
	first := func(key string) string {
		if v := md.Get(key); len(v) > 0 {
			return v[0]
		}
		return ""
	}
	return service.VisitMeta{UserAgent: first("user-agent"), Referrer: first("referer")}
}

func (s *GRPCServer) toStatus(err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidURL):
		return status.Error(codes.InvalidArgument, "invalid URL")
	case errors.Is(err, service.ErrNotFound):
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		s.Logger.Error("link service failure", zap.Error(err))
		return status.Error(codes.Internal, "internal error")
	}
}

// LoggingInterceptor пишет в журнал метод, код ответа и длительность вызова.
func LoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		code := status.Code(err)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("duration", time.Since(start)),
		}
		if code == codes.Internal || code == codes.Unknown {
			logger.Error("gRPC Request", append(fields, zap.Error(err))...)
		} else {
			logger.Info("gRPC Request", fields...)
		}
		return resp, err
	}
}

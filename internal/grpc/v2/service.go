package v2

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName задаёт полное имя gRPC-сервиса.
const ServiceName = "shortener.v2.ShortLinks"

const (
	methodShorten      = "/" + ServiceName + "/Shorten"
	methodResolve      = "/" + ServiceName + "/Resolve"
	methodStats        = "/" + ServiceName + "/Stats"
	methodListRecent   = "/" + ServiceName + "/ListRecent"
	methodDeleteByCode = "/" + ServiceName + "/DeleteByCode"
	methodDeleteByID   = "/" + ServiceName + "/DeleteByID"
)

// ShortLinksServer описывает серверную часть сервиса. Сообщения используют стандартные типы protobuf,
// запись ссылки передаётся как google.protobuf.Struct.
type ShortLinksServer interface {
	Shorten(ctx context.Context, url *wrapperspb.StringValue) (*structpb.Struct, error)
	Resolve(ctx context.Context, code *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
	Stats(ctx context.Context, code *wrapperspb.StringValue) (*structpb.Struct, error)
	ListRecent(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error)
	DeleteByCode(ctx context.Context, code *wrapperspb.StringValue) (*wrapperspb.Int64Value, error)
	DeleteByID(ctx context.Context, id *wrapperspb.StringValue) (*wrapperspb.Int64Value, error)
}

// RegisterShortLinksServer регистрирует реализацию на gRPC-сервере.
func RegisterShortLinksServer(s grpc.ServiceRegistrar, srv ShortLinksServer) {
	s.RegisterService(&ShortLinksServiceDesc, srv)
}

// ShortLinksServiceDesc описывает методы сервиса для grpc.Server.
var ShortLinksServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ShortLinksServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Shorten", Handler: shortenHandler},
		{MethodName: "Resolve", Handler: resolveHandler},
		{MethodName: "Stats", Handler: statsHandler},
		{MethodName: "ListRecent", Handler: listRecentHandler},
		{MethodName: "DeleteByCode", Handler: deleteByCodeHandler},
		{MethodName: "DeleteByID", Handler: deleteByIDHandler},
	},
	Streams:  []grpc.StreamDesc{},
	// путь относительно каталога proto/ в корне репозитория
	Metadata: "shortener/v2/shortlinks.proto",
}

// unary разбирает запрос и вызывает call напрямую или через перехватчик.
func unary[Req any, Resp any](
	fullMethod string,
	call func(ShortLinksServer, context.Context, *Req) (Resp, error),
) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ShortLinksServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ShortLinksServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var (
	shortenHandler = unary(methodShorten, func(s ShortLinksServer, ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
		return s.Shorten(ctx, in)
	})
	resolveHandler = unary(methodResolve, func(s ShortLinksServer, ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
		return s.Resolve(ctx, in)
	})
	statsHandler = unary(methodStats, func(s ShortLinksServer, ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
		return s.Stats(ctx, in)
	})
	listRecentHandler = unary(methodListRecent, func(s ShortLinksServer, ctx context.Context, in *emptypb.Empty) (*structpb.ListValue, error) {
		return s.ListRecent(ctx, in)
	})
	deleteByCodeHandler = unary(methodDeleteByCode, func(s ShortLinksServer, ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.Int64Value, error) {
		return s.DeleteByCode(ctx, in)
	})
	deleteByIDHandler = unary(methodDeleteByID, func(s ShortLinksServer, ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.Int64Value, error) {
		return s.DeleteByID(ctx, in)
	})
)

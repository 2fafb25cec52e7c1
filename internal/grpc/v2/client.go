package v2

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/lewatt23/smi.to/internal/model"
)

// Client вызывает методы сервиса shortener.v2.ShortLinks.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient оборачивает установленное соединение.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// ShortenResult содержит ответ Shorten.
type ShortenResult struct {
	model.LinkResponse
	Created bool `json:"created"`
}

// Shorten создаёт ссылку или возвращает существующую.
func (c *Client) Shorten(ctx context.Context, url string, opts ...grpc.CallOption) (*ShortenResult, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodShorten, wrapperspb.String(url), out, opts...); err != nil {
		return nil, err
	}
	res := &ShortenResult{}
	if err := fromProto(out, res); err != nil {
		return nil, err
	}
	return res, nil
}

// Resolve учитывает визит и возвращает исходный адрес.
func (c *Client) Resolve(ctx context.Context, code string, opts ...grpc.CallOption) (string, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, methodResolve, wrapperspb.String(code), out, opts...); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}

// Stats возвращает запись без учёта визита.
func (c *Client) Stats(ctx context.Context, code string, opts ...grpc.CallOption) (*model.LinkResponse, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodStats, wrapperspb.String(code), out, opts...); err != nil {
		return nil, err
	}
	res := &model.LinkResponse{}
	if err := fromProto(out, res); err != nil {
		return nil, err
	}
	return res, nil
}

// ListRecent возвращает все ссылки, новые первыми.
func (c *Client) ListRecent(ctx context.Context, opts ...grpc.CallOption) ([]model.LinkResponse, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, methodListRecent, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	res := make([]model.LinkResponse, 0, len(out.GetValues()))
	if err := fromProto(out, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// DeleteByCode удаляет ссылку по коду.
func (c *Client) DeleteByCode(ctx context.Context, code string, opts ...grpc.CallOption) (int64, error) {
	out := new(wrapperspb.Int64Value)
	if err := c.cc.Invoke(ctx, methodDeleteByCode, wrapperspb.String(code), out, opts...); err != nil {
		return 0, err
	}
	return out.GetValue(), nil
}

// DeleteByID удаляет ссылку по ID.
func (c *Client) DeleteByID(ctx context.Context, id string, opts ...grpc.CallOption) (int64, error) {
	out := new(wrapperspb.Int64Value)
	if err := c.cc.Invoke(ctx, methodDeleteByID, wrapperspb.String(id), out, opts...); err != nil {
		return 0, err
	}
	return out.GetValue(), nil
}

func fromProto(m proto.Message, v any) error {
	data, err := protojson.Marshal(m)
	if err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

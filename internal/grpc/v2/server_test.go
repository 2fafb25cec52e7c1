package v2

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/lewatt23/smi.to/internal/handlers"
	"github.com/lewatt23/smi.to/internal/mocks"
	"github.com/lewatt23/smi.to/internal/sequence"
	"github.com/lewatt23/smi.to/internal/service"
	"github.com/lewatt23/smi.to/internal/storage"
	"github.com/lewatt23/smi.to/internal/storage/memory"
)

func startServer(t *testing.T, store storage.LinkStore, counter storage.Counter) *Client {
	t.Helper()

	alloc := sequence.NewAllocator(counter, nil)
	alloc.Backoff = 0
	var svc handlers.LinkService = service.NewShortenerService(store, alloc, zap.NewNop(), "http://short.test")

	lis := bufconn.Listen(1 << 20)
	srv := NewServer(svc, zap.NewNop())
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return NewClient(conn)
}

func startMemoryServer(t *testing.T) *Client {
	t.Helper()
	store, err := memory.NewStore("", nil)
	require.NoError(t, err)
	return startServer(t, store, store)
}

func TestGRPC_ShortenResolveStats(t *testing.T) {
	client := startMemoryServer(t)
	ctx := context.Background()

	res, err := client.Shorten(ctx, "https://example.com")
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, "1", res.ShortCode)
	assert.Equal(t, "http://short.test/1", res.ShortURL)

	again, err := client.Shorten(ctx, "https://example.com")
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Equal(t, res.ID, again.ID)

	md := metadata.Pairs("referer", "https://ya.ru")
	origin, err := client.Resolve(metadata.NewOutgoingContext(ctx, md), "1")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", origin)

	stats, err := client.Stats(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Visits)
	require.Len(t, stats.VisitHistory, 1)
	assert.Equal(t, "https://ya.ru", stats.VisitHistory[0].Referrer)
	assert.NotEmpty(t, stats.VisitHistory[0].UserAgent)
	require.NotNil(t, stats.LastVisitedAt)
}

func TestGRPC_ListAndDelete(t *testing.T) {
	client := startMemoryServer(t)
	ctx := context.Background()

	a, err := client.Shorten(ctx, "https://a.example")
	require.NoError(t, err)
	_, err = client.Shorten(ctx, "https://b.example")
	require.NoError(t, err)

	links, err := client.ListRecent(ctx)
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, "https://b.example", links[0].OriginalURL)

	n, err := client.DeleteByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = client.DeleteByCode(ctx, "2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = client.DeleteByCode(ctx, "2")
	require.NoError(t, err)
	assert.Zero(t, n)

	links, err = client.ListRecent(ctx)
	require.NoError(t, err)
	assert.Empty(t, links)
}

func TestGRPC_ErrorCodes(t *testing.T) {
	client := startMemoryServer(t)
	ctx := context.Background()

	_, err := client.Shorten(ctx, "")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.Shorten(ctx, "not a url")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.Resolve(ctx, "zz")
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = client.Stats(ctx, "zz")
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestGRPC_InternalErrorHidesDetails(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockLinkStore(ctrl)
	counter := mocks.NewMockCounter(ctrl)

	store.EXPECT().FindByOriginalURL(gomock.Any(), "https://example.com").Return(nil, nil)
	counter.EXPECT().Increment(gomock.Any(), sequence.ShortLinkSequence).
		Return(int64(0), errors.New("password=secret")).Times(sequence.DefaultMaxAttempts)

	client := startServer(t, store, counter)

	_, err := client.Shorten(context.Background(), "https://example.com")
	st, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, codes.Internal, st.Code())
	assert.NotContains(t, st.Message(), "secret")
}

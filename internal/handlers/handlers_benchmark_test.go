package handlers_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lewatt23/smi.to/internal/handlers"
	"github.com/lewatt23/smi.to/internal/sequence"
	"github.com/lewatt23/smi.to/internal/service"
	"github.com/lewatt23/smi.to/internal/storage/memory"
)

func setupTestHandler(b *testing.B) *handlers.Handler {
	b.Helper()
	store, err := memory.NewStore(filepath.Join(b.TempDir(), "bench_data.json"), zap.NewNop())
	if err != nil {
		b.Fatal(err)
	}
	svc := service.NewShortenerService(store, sequence.NewAllocator(store, nil), zap.NewNop(), "http://localhost:8080")
	return handlers.NewHandler(svc, zap.NewNop())
}

func BenchmarkReceiveShorten(b *testing.B) {
	handler := setupTestHandler(b)

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		body := fmt.Sprintf(`{"url": "https://yandex.ru/benchmark/%d"}`, i)
		req := httptest.NewRequest(http.MethodPost, "/api/shorten", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		handler.ReceiveShorten(rec, req)
	}
}

func BenchmarkReceiveShorten_Existing(b *testing.B) {
	handler := setupTestHandler(b)
	body := `{"url": "https://yandex.ru/benchmark"}`

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/shorten", strings.NewReader(body))
		rec := httptest.NewRecorder()
		handler.ReceiveShorten(rec, req)
	}
}

func BenchmarkResponseURL(b *testing.B) {
	handler := setupTestHandler(b)

	rec := httptest.NewRecorder()
	handler.ReceiveURL(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("https://yandex.ru")))
	code := strings.TrimPrefix(rec.Body.String(), "http://localhost:8080/")

	req := httptest.NewRequest(http.MethodGet, "/"+code, nil)
	// Добавляем chi-параметр вручную
	ctx := chi.NewRouteContext()
	ctx.URLParams.Add("code", code)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, ctx))

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		rec := httptest.NewRecorder()
		handler.ResponseURL(rec, req)
	}
}

func BenchmarkListLinks(b *testing.B) {
	handler := setupTestHandler(b)
	for i := 0; i < 100; i++ {
		body := fmt.Sprintf("https://yandex.ru/%d", i)
		handler.ReceiveURL(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
	}
	req := httptest.NewRequest(http.MethodGet, "/api/links", nil)

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		rec := httptest.NewRecorder()
		handler.ListLinks(rec, req)
	}
}

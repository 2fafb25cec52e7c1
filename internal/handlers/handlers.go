// Package handlers реализует HTTP API сервиса коротких ссылок.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lewatt23/smi.to/internal/model"
	"github.com/lewatt23/smi.to/internal/service"
)

// LinkService описывает операции сервиса, которыми пользуются обработчики.
type LinkService interface {
	CreateShortLink(ctx context.Context, originalURL string) (*model.ShortLink, bool, error)
	Resolve(ctx context.Context, code string, meta service.VisitMeta) (string, error)
	GetStats(ctx context.Context, code string) (*model.ShortLink, error)
	ListRecent(ctx context.Context) ([]*model.ShortLink, error)
	DeleteByCode(ctx context.Context, code string) (int64, error)
	DeleteByID(ctx context.Context, id string) (int64, error)
	Ping(ctx context.Context) error
	ShortURL(code string) string
}

// Handler обрабатывает HTTP-запросы.
type Handler struct {
	Service LinkService
	Logger  *zap.Logger
}

// NewHandler создаёт обработчик.
func NewHandler(svc LinkService, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Service: svc, Logger: logger}
}

// ReceiveURL принимает URL в теле text/plain и отвечает коротким адресом.
// 201 для новой ссылки, 200 если ссылка уже существовала.
func (h *Handler) ReceiveURL(res http.ResponseWriter, req *http.Request) {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		http.Error(res, "BadRequest", http.StatusBadRequest)
		return
	}

	originalURL := strings.TrimSpace(string(body))
	if originalURL == "" {
		http.Error(res, "URL empty", http.StatusBadRequest)
		return
	}

	link, created, err := h.Service.CreateShortLink(req.Context(), originalURL)
	if err != nil {
		h.Logger.Warn("failed to shorten url", zap.String("url", originalURL), zap.Error(err))
		http.Error(res, errorMessage(err), errorStatus(err))
		return
	}

	res.Header().Set("Content-Type", "text/plain")
	res.WriteHeader(createdStatus(created))
	res.Write([]byte(h.Service.ShortURL(link.ShortCode)))
}

// ReceiveShorten принимает URL в JSON, как ReceiveURL в тексте, и отвечает
// записью ссылки с полным коротким адресом.
func (h *Handler) ReceiveShorten(res http.ResponseWriter, req *http.Request) {
	var request model.ShortenRequest
	if err := json.NewDecoder(req.Body).Decode(&request); err != nil {
		writeError(res, http.StatusBadRequest, "invalid JSON")
		return
	}
	if request.Target() == "" {
		writeError(res, http.StatusBadRequest, "url is required")
		return
	}

	link, created, err := h.Service.CreateShortLink(req.Context(), request.Target())
	if err != nil {
		h.Logger.Warn("failed to shorten url", zap.String("url", request.Target()), zap.Error(err))
		writeError(res, errorStatus(err), errorMessage(err))
		return
	}

	out := h.linkResponse(link)
	writeJSON(res, createdStatus(created), model.ShortenResponse{LinkResponse: out, Result: out.ShortURL})
}

// ResponseURL учитывает визит и перенаправляет на исходный адрес.
func (h *Handler) ResponseURL(res http.ResponseWriter, req *http.Request) {
	code := chi.URLParam(req, "code")
	if code == "" {
		http.Error(res, "Bad Request: Missing code in URL", http.StatusBadRequest)
		return
	}

	originalURL, err := h.Service.Resolve(req.Context(), code, service.VisitMeta{
		UserAgent: req.UserAgent(),
		Referrer:  req.Referer(),
	})
	if err != nil {
		if !errors.Is(err, service.ErrNotFound) {
			h.Logger.Error("failed to resolve code", zap.String("code", code), zap.Error(err))
		}
		http.Error(res, errorMessage(err), errorStatus(err))
		return
	}

	res.Header().Set("Location", originalURL)
	res.WriteHeader(http.StatusTemporaryRedirect)
}

// GetStats возвращает запись вместе со статистикой визитов.
func (h *Handler) GetStats(res http.ResponseWriter, req *http.Request) {
	code := chi.URLParam(req, "code")

	link, err := h.Service.GetStats(req.Context(), code)
	if err != nil {
		writeError(res, errorStatus(err), errorMessage(err))
		return
	}
	writeJSON(res, http.StatusOK, h.linkResponse(link))
}

// ListLinks возвращает все ссылки, новые первыми.
func (h *Handler) ListLinks(res http.ResponseWriter, req *http.Request) {
	links, err := h.Service.ListRecent(req.Context())
	if err != nil {
		h.Logger.Error("failed to list links", zap.Error(err))
		writeError(res, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	out := make([]model.LinkResponse, 0, len(links))
	for _, link := range links {
		out = append(out, h.linkResponse(link))
	}
	writeJSON(res, http.StatusOK, out)
}

// DeleteByCode удаляет ссылку по коду. Повторное удаление отвечает deleted: 0.
func (h *Handler) DeleteByCode(res http.ResponseWriter, req *http.Request) {
	n, err := h.Service.DeleteByCode(req.Context(), chi.URLParam(req, "code"))
	if err != nil {
		h.Logger.Error("failed to delete link", zap.Error(err))
		writeError(res, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	writeJSON(res, http.StatusOK, model.DeleteResponse{Deleted: n})
}

// DeleteByID удаляет ссылку по ID записи.
func (h *Handler) DeleteByID(res http.ResponseWriter, req *http.Request) {
	n, err := h.Service.DeleteByID(req.Context(), chi.URLParam(req, "id"))
	if err != nil {
		h.Logger.Error("failed to delete link", zap.Error(err))
		writeError(res, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	writeJSON(res, http.StatusOK, model.DeleteResponse{Deleted: n})
}

// PingDB проверяет доступность хранилища.
func (h *Handler) PingDB(res http.ResponseWriter, req *http.Request) {
	if err := h.Service.Ping(req.Context()); err != nil {
		h.Logger.Error("storage ping failed", zap.Error(err))
		http.Error(res, "Storage connection error", http.StatusInternalServerError)
		return
	}
	res.WriteHeader(http.StatusOK)
}

func (h *Handler) linkResponse(link *model.ShortLink) model.LinkResponse {
	return model.LinkResponse{ShortLink: link, ShortURL: h.Service.ShortURL(link.ShortCode)}
}

func createdStatus(created bool) int {
	if created {
		return http.StatusCreated
	}
	return http.StatusOK
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidURL):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// errorMessage не раскрывает клиенту детали внутренних ошибок.
func errorMessage(err error) string {
	switch {
	case errors.Is(err, service.ErrInvalidURL):
		return "Invalid URL format"
	case errors.Is(err, service.ErrNotFound):
		return "Short link not found"
	default:
		return "Internal Server Error"
	}
}

func writeJSON(res http.ResponseWriter, status int, v any) {
	res.Header().Set("Content-Type", "application/json")
	res.WriteHeader(status)
	_ = json.NewEncoder(res).Encode(v)
}

func writeError(res http.ResponseWriter, status int, msg string) {
	writeJSON(res, status, model.ErrorResponse{Error: msg})
}

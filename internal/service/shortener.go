// Package service связывает аллокатор, кодек и хранилище в операции над короткими ссылками.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lewatt23/smi.to/internal/codec"
	"github.com/lewatt23/smi.to/internal/model"
	"github.com/lewatt23/smi.to/internal/sequence"
	"github.com/lewatt23/smi.to/internal/storage"
)

var (
	// ErrInvalidURL: исходный URL не является абсолютным.
	ErrInvalidURL = errors.New("invalid url")
	// ErrNotFound: для кода нет записи.
	ErrNotFound = errors.New("short link not found")
	// ErrAllocationFailed: не удалось выдать новый код.
	ErrAllocationFailed = sequence.ErrAllocationFailed
)

// Allocator выдаёт следующее значение именованной последовательности.
type Allocator interface {
	Next(ctx context.Context, name string) (int64, error)
}

// VisitMeta содержит данные клиента, которые попадают в историю визитов.
type VisitMeta struct {
	UserAgent string
	Referrer  string
}

// ShortenerService реализует операции над короткими ссылками.
type ShortenerService struct {
	Store     storage.LinkStore
	Allocator Allocator
	Logger    *zap.Logger
	BaseURL   string

	now func() time.Time
}

// NewShortenerService создаёт сервис.
func NewShortenerService(store storage.LinkStore, allocator Allocator, logger *zap.Logger, baseURL string) *ShortenerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ShortenerService{
		Store:     store,
		Allocator: allocator,
		Logger:    logger,
		BaseURL:   strings.TrimSuffix(baseURL, "/"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ValidateURL проверяет, что строка разбирается как абсолютный URL со схемой и хостом.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: %q is not absolute", ErrInvalidURL, raw)
	}
	return nil
}

// CreateShortLink возвращает ссылку для originalURL. Если ссылка уже есть,
// она возвращается без изменений и created == false. Адрес проверяется
// как есть, пробелы по краям не срезаются.
func (s *ShortenerService) CreateShortLink(ctx context.Context, originalURL string) (*model.ShortLink, bool, error) {
	if err := ValidateURL(originalURL); err != nil {
		return nil, false, err
	}

	existing, err := s.Store.FindByOriginalURL(ctx, originalURL)
	if err != nil {
		return nil, false, fmt.Errorf("lookup original url: %w", err)
	}
	if existing != nil {
		return existing, false, nil
	}

	seq, err := s.Allocator.Next(ctx, sequence.ShortLinkSequence)
	if err != nil {
		s.Logger.Error("failed to allocate short code", zap.String("url", originalURL), zap.Error(err))
		return nil, false, err
	}

	code, err := codec.Encode(seq)
	if err != nil {
		return nil, false, fmt.Errorf("%w: encode %d: %w", ErrAllocationFailed, seq, err)
	}

	saved, err := s.Store.Insert(ctx, &model.ShortLink{
		OriginalURL: originalURL,
		ShortCode:   code,
		CreatedAt:   s.now(),
	})
	switch {
	case err == nil:
		s.Logger.Info("short link created",
			zap.String("code", saved.ShortCode),
			zap.String("url", saved.OriginalURL),
			zap.Int64("seq", seq),
		)
		return saved, true, nil
	case errors.Is(err, storage.ErrDuplicateCode):
		// сгенерированный код уже занят: последовательность выдала повтор
		s.Logger.Error("short code collision",
			zap.String("code", code),
			zap.Int64("seq", seq),
			zap.String("url", originalURL),
			zap.Error(err),
		)
		return nil, false, fmt.Errorf("%w: %w", ErrAllocationFailed, err)
	case errors.Is(err, storage.ErrDuplicateURL):
		winner, findErr := s.Store.FindByOriginalURL(ctx, originalURL)
		if findErr != nil {
			return nil, false, fmt.Errorf("lookup original url after conflict: %w", findErr)
		}
		if winner == nil {
			return nil, false, fmt.Errorf("original url conflict for %q, but no record found: %w", originalURL, err)
		}
		s.Logger.Debug("concurrent create resolved to existing link",
			zap.String("code", winner.ShortCode),
			zap.Int64("unused_seq", seq),
		)
		return winner, false, nil
	default:
		return nil, false, fmt.Errorf("insert short link: %w", err)
	}
}

// Visit атомарно учитывает визит и возвращает обновлённую запись.
// Время визита ставит хранилище.
func (s *ShortenerService) Visit(ctx context.Context, code string, meta VisitMeta) (*model.ShortLink, error) {
	link, err := s.Store.RecordVisit(ctx, code, model.VisitDetail{
		UserAgent: meta.UserAgent,
		Referrer:  meta.Referrer,
	})
	if err != nil {
		return nil, fmt.Errorf("record visit %s: %w", code, err)
	}
	if link == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, code)
	}
	return link, nil
}

// Resolve учитывает визит и возвращает адрес назначения.
func (s *ShortenerService) Resolve(ctx context.Context, code string, meta VisitMeta) (string, error) {
	link, err := s.Visit(ctx, code, meta)
	if err != nil {
		return "", err
	}
	return link.OriginalURL, nil
}

// GetStats возвращает запись без учёта визита.
func (s *ShortenerService) GetStats(ctx context.Context, code string) (*model.ShortLink, error) {
	link, err := s.Store.FindByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", code, err)
	}
	if link == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, code)
	}
	return link, nil
}

// ListRecent возвращает все ссылки, новые первыми.
func (s *ShortenerService) ListRecent(ctx context.Context) ([]*model.ShortLink, error) {
	links, err := s.Store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	return links, nil
}

// DeleteByCode удаляет ссылку по коду. Удаление отсутствующей записи не ошибка.
func (s *ShortenerService) DeleteByCode(ctx context.Context, code string) (int64, error) {
	n, err := s.Store.DeleteByCode(ctx, code)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", code, err)
	}
	if n > 0 {
		s.Logger.Info("short link deleted", zap.String("code", code))
	}
	return n, nil
}

// DeleteByID удаляет ссылку по ID.
func (s *ShortenerService) DeleteByID(ctx context.Context, id string) (int64, error) {
	n, err := s.Store.DeleteByID(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("delete id %s: %w", id, err)
	}
	if n > 0 {
		s.Logger.Info("short link deleted", zap.String("id", id))
	}
	return n, nil
}

// Ping проверяет хранилище, если оно сетевое. Для памяти и файла всегда nil.
func (s *ShortenerService) Ping(ctx context.Context) error {
	if p, ok := s.Store.(storage.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// ShortURL собирает полный короткий адрес.
func (s *ShortenerService) ShortURL(code string) string {
	return s.BaseURL + "/" + code
}

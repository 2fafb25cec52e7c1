// Package app собирает зависимости сервиса по конфигурации.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lewatt23/smi.to/internal/config"
	"github.com/lewatt23/smi.to/internal/database"
	"github.com/lewatt23/smi.to/internal/repositories"
	"github.com/lewatt23/smi.to/internal/sequence"
	"github.com/lewatt23/smi.to/internal/service"
	"github.com/lewatt23/smi.to/internal/storage"
	"github.com/lewatt23/smi.to/internal/storage/memory"
	"github.com/lewatt23/smi.to/internal/storage/redis"
	"github.com/lewatt23/smi.to/internal/storage/sqlite"
)

// Storage объединяет хранилище ссылок и счётчик выбранного режима.
type Storage struct {
	Links   storage.LinkStore
	Counter storage.Counter
	close   func() error
}

// Close освобождает соединения хранилища.
func (s *Storage) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// OpenStorage открывает хранилище для cfg.Mode. Для database применяет миграции.
func OpenStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Storage, error) {
	switch cfg.Mode {
	case config.ModeDatabase:
		if err := database.Migrate(cfg.DatabaseDSN, cfg.PgMigrationsPath, logger); err != nil {
			return nil, err
		}
		db, err := database.NewDB(ctx, cfg.DatabaseDSN, logger)
		if err != nil {
			return nil, err
		}
		return &Storage{
			Links:   repositories.NewLinkRepository(db.Pool),
			Counter: repositories.NewCounterRepository(db.Pool),
			close:   func() error { db.Close(); return nil },
		}, nil

	case config.ModeRedis:
		store, err := redis.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		return &Storage{Links: store, Counter: store, close: store.Close}, nil

	case config.ModeSQLite:
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.SQLitePath, err)
		}
		return &Storage{Links: store, Counter: store, close: store.Close}, nil

	case config.ModeFile, config.ModeMemory:
		path := ""
		if cfg.Mode == config.ModeFile {
			path = cfg.FileStoragePath
		}
		store, err := memory.NewStore(path, logger)
		if err != nil {
			return nil, err
		}
		return &Storage{Links: store, Counter: store}, nil

	default:
		return nil, fmt.Errorf("unknown storage mode %q", cfg.Mode)
	}
}

// NewService собирает сервис ссылок поверх хранилища.
func NewService(st *Storage, cfg *config.Config, logger *zap.Logger) *service.ShortenerService {
	alloc := sequence.NewAllocator(st.Counter, logger)
	alloc.MaxAttempts = cfg.SequenceAttempts
	return service.NewShortenerService(st.Links, alloc, logger, cfg.BaseURL)
}

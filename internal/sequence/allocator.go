// Package sequence выдаёт строго возрастающие номера для коротких кодов.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lewatt23/smi.to/internal/storage"
)

// ShortLinkSequence задаёт имя последовательности для коротких ссылок.
const ShortLinkSequence = "shortLinkId"

// DefaultMaxAttempts ограничивает число попыток атомарного инкремента.
const DefaultMaxAttempts = 3

// ErrAllocationFailed возвращается, если не удалось получить следующий номер.
var ErrAllocationFailed = errors.New("sequence allocation failed")

// errIndeterminate означает, что хранилище ответило без ошибки, но без валидного значения.
var errIndeterminate = errors.New("indeterminate counter value")

// Allocator оборачивает атомарный примитив хранилища ограниченным числом повторов.
type Allocator struct {
	Counter     storage.Counter
	Logger      *zap.Logger
	MaxAttempts int
	Backoff     time.Duration
}

// NewAllocator создаёт Allocator с настройками по умолчанию.
func NewAllocator(counter storage.Counter, logger *zap.Logger) *Allocator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Allocator{
		Counter:     counter,
		Logger:      logger,
		MaxAttempts: DefaultMaxAttempts,
		Backoff:     10 * time.Millisecond,
	}
}

// Next возвращает значение счётчика name после инкремента. Первый вызов для
// нового имени возвращает 1. При сбое повторяется только сам инкремент.
func (a *Allocator) Next(ctx context.Context, name string) (int64, error) {
	attempts := a.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		seq, err := a.Counter.Increment(ctx, name)
		if err == nil && seq > 0 {
			return seq, nil
		}
		if err == nil {
			err = fmt.Errorf("%w: %d", errIndeterminate, seq)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		lastErr = err

		a.Logger.Warn("sequence increment failed",
			zap.String("sequence", name),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Error(err),
		)

		if attempt < attempts && a.Backoff > 0 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(a.Backoff * time.Duration(attempt)):
			}
		}
	}

	return 0, fmt.Errorf("%w: %q after %d attempts: %w", ErrAllocationFailed, name, attempts, lastErr)
}

package repositories

import (
	"context"
	"fmt"

	"github.com/lewatt23/smi.to/internal/storage"
)

// CounterRepository реализует storage.Counter поверх таблицы counters.
type CounterRepository struct {
	DB Querier
}

var _ storage.Counter = (*CounterRepository)(nil)

// NewCounterRepository создаёт новый экземпляр CounterRepository.
func NewCounterRepository(db Querier) *CounterRepository {
	return &CounterRepository{DB: db}
}

// Increment атомарно увеличивает счётчик, создавая его при первом обращении.
func (r *CounterRepository) Increment(ctx context.Context, name string) (int64, error) {
	query := `INSERT INTO counters (name, seq) VALUES ($1, 1)
              ON CONFLICT (name) DO UPDATE SET seq = counters.seq + 1
              RETURNING seq`

	var seq int64
	if err := r.DB.QueryRow(ctx, query, name).Scan(&seq); err != nil {
		return 0, fmt.Errorf("increment counter %q: %w", name, err)
	}
	return seq, nil
}

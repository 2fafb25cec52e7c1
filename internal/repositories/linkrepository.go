package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/lewatt23/smi.to/internal/model"
	"github.com/lewatt23/smi.to/internal/storage"
)

const (
	uniqueViolation = "23505"

	shortCodeConstraint   = "short_links_short_code_key"
	originalURLConstraint = "short_links_original_url_key"

	linkColumns = `id, original_url, short_code, created_at, visits, last_visited_at, visit_history`
)

// Querier покрывает часть API pgxpool.Pool, которой пользуются репозитории.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// LinkRepository реализует storage.LinkStore с использованием PostgreSQL.
type LinkRepository struct {
	DB Querier
}

var _ storage.LinkStore = (*LinkRepository)(nil)

// NewLinkRepository создаёт новый экземпляр LinkRepository.
func NewLinkRepository(db Querier) *LinkRepository {
	return &LinkRepository{DB: db}
}

// FindByOriginalURL возвращает запись по оригинальному URL.
func (r *LinkRepository) FindByOriginalURL(ctx context.Context, originalURL string) (*model.ShortLink, error) {
	query := `SELECT ` + linkColumns + ` FROM short_links WHERE md5(original_url) = md5($1) AND original_url = $1`
	link, err := scanLink(r.DB.QueryRow(ctx, query, originalURL))
	if err != nil {
		return nil, fmt.Errorf("find by original url: %w", err)
	}
	return link, nil
}

// FindByCode возвращает запись по короткому коду.
func (r *LinkRepository) FindByCode(ctx context.Context, code string) (*model.ShortLink, error) {
	query := `SELECT ` + linkColumns + ` FROM short_links WHERE short_code = $1`
	link, err := scanLink(r.DB.QueryRow(ctx, query, code))
	if err != nil {
		return nil, fmt.Errorf("find by code: %w", err)
	}
	return link, nil
}

// Insert сохраняет запись. Уникальность кода и URL обеспечивают индексы.
func (r *LinkRepository) Insert(ctx context.Context, link *model.ShortLink) (*model.ShortLink, error) {
	query := `INSERT INTO short_links (id, original_url, short_code, created_at)
              VALUES ($1, $2, $3, $4)
              RETURNING ` + linkColumns

	saved, err := scanLink(r.DB.QueryRow(ctx, query, uuid.NewString(), link.OriginalURL, link.ShortCode, link.CreatedAt))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			switch pgErr.ConstraintName {
			case shortCodeConstraint:
				return nil, fmt.Errorf("%w: %s", storage.ErrDuplicateCode, link.ShortCode)
			case originalURLConstraint:
				return nil, storage.ErrDuplicateURL
			}
		}
		return nil, fmt.Errorf("database insert error: %w", err)
	}
	return saved, nil
}

// RecordVisit одним выражением блокирует строку, берёт время визита под
// блокировкой (не раньше предыдущего визита), увеличивает счётчик и дописывает
// визит в JSONB-массив истории.
func (r *LinkRepository) RecordVisit(ctx context.Context, code string, visit model.VisitDetail) (*model.ShortLink, error) {
	client, err := visit.ClientJSON()
	if err != nil {
		return nil, err
	}

	query := `WITH locked AS (
                  SELECT short_code AS code,
                         GREATEST(clock_timestamp(), COALESCE(last_visited_at, '-infinity'::timestamptz)) AS ts
                  FROM short_links
                  WHERE short_code = $1
                  FOR UPDATE
              )
              UPDATE short_links
              SET visits = visits + 1,
                  last_visited_at = locked.ts,
                  visit_history = visit_history || jsonb_build_array($2::jsonb || jsonb_build_object('timestamp', locked.ts))
              FROM locked
              WHERE short_links.short_code = locked.code
              RETURNING ` + linkColumns

	link, err := scanLink(r.DB.QueryRow(ctx, query, code, string(client)))
	if err != nil {
		return nil, fmt.Errorf("record visit: %w", err)
	}
	return link, nil
}

// DeleteByCode удаляет запись по коду.
func (r *LinkRepository) DeleteByCode(ctx context.Context, code string) (int64, error) {
	tag, err := r.DB.Exec(ctx, `DELETE FROM short_links WHERE short_code = $1`, code)
	if err != nil {
		return 0, fmt.Errorf("delete by code: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteByID удаляет запись по ID.
func (r *LinkRepository) DeleteByID(ctx context.Context, id string) (int64, error) {
	tag, err := r.DB.Exec(ctx, `DELETE FROM short_links WHERE id = $1`, id)
	if err != nil {
		return 0, fmt.Errorf("delete by id: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListAll возвращает все записи, новые первыми. При равном created_at
// раньше идёт более поздняя вставка.
func (r *LinkRepository) ListAll(ctx context.Context) ([]*model.ShortLink, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+linkColumns+` FROM short_links ORDER BY created_at DESC, insert_no DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query links: %w", err)
	}
	defer rows.Close()

	results := make([]*model.ShortLink, 0)
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		results = append(results, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate links: %w", err)
	}
	return results, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanLink читает одну запись; pgx.ErrNoRows превращается в nil, nil.
func scanLink(row rowScanner) (*model.ShortLink, error) {
	var (
		link        model.ShortLink
		lastVisited pgtype.Timestamptz
		history     []byte
	)
	err := row.Scan(&link.ID, &link.OriginalURL, &link.ShortCode, &link.CreatedAt, &link.Visits, &lastVisited, &history)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	if lastVisited.Valid {
		t := lastVisited.Time
		link.LastVisitedAt = &t
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &link.VisitHistory); err != nil {
			return nil, fmt.Errorf("decode visit history: %w", err)
		}
	}
	if len(link.VisitHistory) == 0 {
		link.VisitHistory = nil
	}
	return &link, nil
}

// Ping проверяет доступность базы данных.
func (r *LinkRepository) Ping(ctx context.Context) error {
	_, err := r.DB.Exec(ctx, "SELECT 1")
	return err
}

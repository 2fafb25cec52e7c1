// Package sqlite реализует встраиваемое хранилище ссылок на modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/lewatt23/smi.to/internal/model"
	"github.com/lewatt23/smi.to/internal/storage"
)

const linkColumns = `id, original_url, short_code, created_at, visits, last_visited_at, visit_history`

// Store реализует storage.LinkStore и storage.Counter.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var (
	_ storage.LinkStore = (*Store)(nil)
	_ storage.Counter   = (*Store)(nil)
)

// Open открывает базу по пути path и создаёт схему.
func Open(path string) (*Store, error) {
	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn += sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// SQLite сериализует запись; одно соединение исключает SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func migrate(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS short_links (
		id TEXT PRIMARY KEY,
		original_url TEXT NOT NULL UNIQUE,
		short_code TEXT NOT NULL UNIQUE,
		created_at INTEGER NOT NULL,
		visits INTEGER NOT NULL DEFAULT 0,
		last_visited_at INTEGER,
		visit_history TEXT NOT NULL DEFAULT '[]'
	);
	CREATE INDEX IF NOT EXISTS idx_short_links_created_at ON short_links(created_at);

	CREATE TABLE IF NOT EXISTS counters (
		name TEXT PRIMARY KEY,
		seq INTEGER NOT NULL DEFAULT 0
	);
	`
	_, err := db.Exec(query)
	return err
}

// Close закрывает базу.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping проверяет соединение.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) FindByOriginalURL(ctx context.Context, originalURL string) (*model.ShortLink, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+linkColumns+` FROM short_links WHERE original_url = ?`, originalURL)
	return scanLink(row)
}

func (s *Store) FindByCode(ctx context.Context, code string) (*model.ShortLink, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+linkColumns+` FROM short_links WHERE short_code = ?`, code)
	return scanLink(row)
}

func (s *Store) Insert(ctx context.Context, link *model.ShortLink) (*model.ShortLink, error) {
	query := `INSERT INTO short_links (id, original_url, short_code, created_at)
			  VALUES (?, ?, ?, ?) RETURNING ` + linkColumns

	row := s.db.QueryRowContext(ctx, query, uuid.NewString(), link.OriginalURL, link.ShortCode, link.CreatedAt.UnixNano())
	saved, err := scanLink(row)
	if err != nil {
		var sqliteErr *sqlite.Error
		if errors.As(err, &sqliteErr) && isUniqueViolation(sqliteErr.Code()) {
			switch {
			case strings.Contains(sqliteErr.Error(), "short_links.short_code"):
				return nil, fmt.Errorf("%w: %s", storage.ErrDuplicateCode, link.ShortCode)
			case strings.Contains(sqliteErr.Error(), "short_links.original_url"):
				return nil, storage.ErrDuplicateURL
			}
		}
		return nil, fmt.Errorf("insert link: %w", err)
	}
	return saved, nil
}

// RecordVisit выполняет один UPDATE ... RETURNING, история дописывается через json_insert.
// Время визита берётся после захвата единственного соединения и не бывает
// раньше предыдущего визита.
func (s *Store) RecordVisit(ctx context.Context, code string, visit model.VisitDetail) (*model.ShortLink, error) {
	client, err := visit.ClientJSON()
	if err != nil {
		return nil, err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("record visit: %w", err)
	}
	defer conn.Close()

	query := `WITH v AS (
				  SELECT max(?, COALESCE(last_visited_at, 0)) AS ts FROM short_links WHERE short_code = ?
			  )
			  UPDATE short_links
			  SET visits = visits + 1,
			      last_visited_at = v.ts,
			      visit_history = json_insert(visit_history, '$[#]', json_set(json(?), '$.timestamp',
			          strftime('%Y-%m-%dT%H:%M:%S', v.ts / 1000000000, 'unixepoch') || printf('.%09dZ', v.ts % 1000000000)))
			  FROM v
			  WHERE short_code = ?
			  RETURNING ` + linkColumns

	row := conn.QueryRowContext(ctx, query, s.now().UnixNano(), code, string(client), code)
	link, err := scanLink(row)
	if err != nil {
		return nil, fmt.Errorf("record visit: %w", err)
	}
	return link, nil
}

func (s *Store) DeleteByCode(ctx context.Context, code string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM short_links WHERE short_code = ?`, code)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) DeleteByID(ctx context.Context, id string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM short_links WHERE id = ?`, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) ListAll(ctx context.Context) ([]*model.ShortLink, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+linkColumns+` FROM short_links ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	links := make([]*model.ShortLink, 0)
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

// Increment выполняет upsert с RETURNING в одном выражении.
func (s *Store) Increment(ctx context.Context, name string) (int64, error) {
	query := `INSERT INTO counters (name, seq) VALUES (?, 1)
			  ON CONFLICT(name) DO UPDATE SET seq = seq + 1
			  RETURNING seq`

	var seq int64
	if err := s.db.QueryRowContext(ctx, query, name).Scan(&seq); err != nil {
		return 0, fmt.Errorf("increment counter %q: %w", name, err)
	}
	return seq, nil
}

func isUniqueViolation(code int) bool {
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code&0xff == sqlite3.SQLITE_CONSTRAINT
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLink(row rowScanner) (*model.ShortLink, error) {
	var (
		link        model.ShortLink
		createdAt   int64
		lastVisited sql.NullInt64
		history     string
	)
	err := row.Scan(&link.ID, &link.OriginalURL, &link.ShortCode, &createdAt, &link.Visits, &lastVisited, &history)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	link.CreatedAt = time.Unix(0, createdAt).UTC()
	if lastVisited.Valid {
		t := time.Unix(0, lastVisited.Int64).UTC()
		link.LastVisitedAt = &t
	}
	if history != "" && history != "[]" {
		if err := json.Unmarshal([]byte(history), &link.VisitHistory); err != nil {
			return nil, fmt.Errorf("decode visit history: %w", err)
		}
	}
	return &link, nil
}

// Package redis хранит короткие ссылки в Redis.
//
// Ссылка лежит в хэше link:<code>, история визитов в списке link:<code>:visits,
// обратные индексы по URL и ID в строковых ключах, порядок создания в ZSET.
// Все изменения нескольких ключей выполняются Lua-скриптами, каждый ключ
// передаётся скрипту через KEYS.
//
// Элемент ZSET имеет вид <номер вставки>:<code>, номер дополнен нулями до
// 20 знаков, поэтому при равном createdAt раньше идёт более поздняя вставка.
// Время визитов хранится в микросекундах Unix.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/lewatt23/smi.to/internal/model"
	"github.com/lewatt23/smi.to/internal/storage"
)

const (
	defaultPrefix = "smi:"

	insertOK        = 1
	insertDupCode   = -1
	insertDupURL    = -2
	timestampLayout = time.RFC3339Nano

	deleteRetries = 3
)

// KEYS: link hash, url key, id key, recent zset, insert counter.
// ARGV: id, original url, code, createdAt, createdAt в микросекундах.
var insertScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return -1 end
if redis.call('EXISTS', KEYS[2]) == 1 then return -2 end
local n = tostring(redis.call('INCR', KEYS[5]))
local member = string.rep('0', 20 - #n) .. n .. ':' .. ARGV[3]
redis.call('HSET', KEYS[1], 'id', ARGV[1], 'originalUrl', ARGV[2], 'shortCode', ARGV[3], 'createdAt', ARGV[4], 'visits', 0, 'recent', member)
redis.call('SET', KEYS[2], ARGV[3])
redis.call('SET', KEYS[3], ARGV[3])
redis.call('ZADD', KEYS[4], ARGV[5], member)
return 1
`)

// KEYS: link hash, history list. ARGV: поля визита от клиента в JSON.
// Время берётся из TIME сервера и не опускается ниже lastVisitedAt.
var visitScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return false end
local t = redis.call('TIME')
local now = tonumber(t[1]) * 1000000 + tonumber(t[2])
local last = tonumber(redis.call('HGET', KEYS[1], 'lastVisitedAt') or '0') or 0
if last > now then now = last end
local ts = string.format('%.0f', now)
local entry = '{"ts":' .. ts .. '}'
if ARGV[1] ~= '{}' then entry = '{"ts":' .. ts .. ',' .. string.sub(ARGV[1], 2) end
redis.call('HINCRBY', KEYS[1], 'visits', 1)
redis.call('HSET', KEYS[1], 'lastVisitedAt', ts)
redis.call('RPUSH', KEYS[2], entry)
return {redis.call('HGETALL', KEYS[1]), redis.call('LRANGE', KEYS[2], 0, -1)}
`)

// KEYS: link hash, history list, recent zset, id key, url key.
// ARGV: ожидаемые id и original url, элемент ZSET.
// -1 значит, что запись под кодом сменилась после чтения.
var deleteScript = redis.NewScript(`
local h = redis.call('HMGET', KEYS[1], 'id', 'originalUrl')
if not h[1] then return 0 end
if h[1] ~= ARGV[1] or h[2] ~= ARGV[2] then return -1 end
redis.call('DEL', KEYS[1], KEYS[2], KEYS[4], KEYS[5])
redis.call('ZREM', KEYS[3], ARGV[3])
return 1
`)

// Store реализует storage.LinkStore и storage.Counter поверх go-redis.
type Store struct {
	client *redis.Client
	prefix string
}

var (
	_ storage.LinkStore = (*Store)(nil)
	_ storage.Counter   = (*Store)(nil)
)

// NewStore оборачивает готовый клиент.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client, prefix: defaultPrefix}
}

// Connect создаёт клиент и проверяет соединение.
func Connect(ctx context.Context, addr, password string, db int) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", addr, err)
	}
	return NewStore(client), nil
}

// Close закрывает клиент.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping проверяет соединение.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) linkKey(code string) string    { return s.prefix + "link:" + code }
func (s *Store) historyKey(code string) string { return s.prefix + "link:" + code + ":visits" }
func (s *Store) urlKey(url string) string      { return s.prefix + "url:" + url }
func (s *Store) idKey(id string) string        { return s.prefix + "id:" + id }
func (s *Store) recentKey() string             { return s.prefix + "links:recent" }
func (s *Store) counterKey(name string) string { return s.prefix + "counter:" + name }
func (s *Store) insertedKey() string           { return s.prefix + "links:inserted" }

func (s *Store) FindByOriginalURL(ctx context.Context, originalURL string) (*model.ShortLink, error) {
	code, err := s.client.Get(ctx, s.urlKey(originalURL)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by original url: %w", err)
	}
	return s.FindByCode(ctx, code)
}

func (s *Store) FindByCode(ctx context.Context, code string) (*model.ShortLink, error) {
	pipe := s.client.Pipeline()
	fields := pipe.HGetAll(ctx, s.linkKey(code))
	history := pipe.LRange(ctx, s.historyKey(code), 0, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("find by code: %w", err)
	}
	if len(fields.Val()) == 0 {
		return nil, nil
	}
	return decodeLink(fields.Val(), history.Val())
}

func (s *Store) Insert(ctx context.Context, link *model.ShortLink) (*model.ShortLink, error) {
	saved := &model.ShortLink{
		ID:          uuid.NewString(),
		OriginalURL: link.OriginalURL,
		ShortCode:   link.ShortCode,
		CreatedAt:   link.CreatedAt.UTC(),
	}

	keys := []string{
		s.linkKey(saved.ShortCode), s.urlKey(saved.OriginalURL), s.idKey(saved.ID),
		s.recentKey(), s.insertedKey(),
	}
	res, err := insertScript.Run(ctx, s.client, keys,
		saved.ID, saved.OriginalURL, saved.ShortCode,
		saved.CreatedAt.Format(timestampLayout), saved.CreatedAt.UnixMicro(),
	).Int64()
	if err != nil {
		return nil, fmt.Errorf("insert link: %w", err)
	}

	switch res {
	case insertOK:
		return saved, nil
	case insertDupCode:
		return nil, fmt.Errorf("%w: %s", storage.ErrDuplicateCode, saved.ShortCode)
	case insertDupURL:
		return nil, storage.ErrDuplicateURL
	default:
		return nil, fmt.Errorf("insert link: unexpected script result %d", res)
	}
}

// RecordVisit выполняет скрипт, который увеличивает счётчик, ставит время
// визита по часам Redis и дописывает историю, а затем возвращает
// обновлённую запись.
func (s *Store) RecordVisit(ctx context.Context, code string, visit model.VisitDetail) (*model.ShortLink, error) {
	client, err := visit.ClientJSON()
	if err != nil {
		return nil, err
	}

	res, err := visitScript.Run(ctx, s.client,
		[]string{s.linkKey(code), s.historyKey(code)},
		string(client),
	).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("record visit: %w", err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("record visit: unexpected script result of %d items", len(res))
	}

	fields, err := pairsToMap(res[0])
	if err != nil {
		return nil, fmt.Errorf("record visit: %w", err)
	}
	history, err := toStrings(res[1])
	if err != nil {
		return nil, fmt.Errorf("record visit: %w", err)
	}
	return decodeLink(fields, history)
}

func (s *Store) DeleteByCode(ctx context.Context, code string) (int64, error) {
	return s.delete(ctx, code, "")
}

func (s *Store) DeleteByID(ctx context.Context, id string) (int64, error) {
	code, err := s.client.Get(ctx, s.idKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("delete by id: %w", err)
	}
	return s.delete(ctx, code, id)
}

// delete читает id и URL записи, а скрипт удаляет её только если они
// не изменились. Непустой wantID должен совпасть с id записи.
func (s *Store) delete(ctx context.Context, code, wantID string) (int64, error) {
	for range deleteRetries {
		h, err := s.client.HMGet(ctx, s.linkKey(code), "id", "originalUrl", "recent").Result()
		if err != nil {
			return 0, fmt.Errorf("delete link %s: %w", code, err)
		}
		id, _ := h[0].(string)
		url, _ := h[1].(string)
		member, _ := h[2].(string)
		if id == "" || (wantID != "" && id != wantID) {
			return 0, nil
		}
		if member == "" {
			member = code
		}

		n, err := deleteScript.Run(ctx, s.client,
			[]string{s.linkKey(code), s.historyKey(code), s.recentKey(), s.idKey(id), s.urlKey(url)},
			id, url, member,
		).Int64()
		if err != nil {
			return 0, fmt.Errorf("delete link %s: %w", code, err)
		}
		if n >= 0 {
			return n, nil
		}
	}
	return 0, fmt.Errorf("delete link %s: record keeps changing", code)
}

// ListAll читает элементы ZSET в обратном порядке и забирает записи одним конвейером.
func (s *Store) ListAll(ctx context.Context) ([]*model.ShortLink, error) {
	members, err := s.client.ZRevRange(ctx, s.recentKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	codes := make([]string, len(members))
	for i, m := range members {
		codes[i] = codeOf(m)
	}

	links := make([]*model.ShortLink, 0, len(codes))
	if len(codes) == 0 {
		return links, nil
	}

	pipe := s.client.Pipeline()
	fields := make([]*redis.MapStringStringCmd, len(codes))
	histories := make([]*redis.StringSliceCmd, len(codes))
	for i, code := range codes {
		fields[i] = pipe.HGetAll(ctx, s.linkKey(code))
		histories[i] = pipe.LRange(ctx, s.historyKey(code), 0, -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}

	for i := range codes {
		// запись удалена между ZREVRANGE и конвейером
		if len(fields[i].Val()) == 0 {
			continue
		}
		link, err := decodeLink(fields[i].Val(), histories[i].Val())
		if err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	return links, nil
}

// Increment выполняет INCR, атомарный на стороне Redis.
func (s *Store) Increment(ctx context.Context, name string) (int64, error) {
	seq, err := s.client.Incr(ctx, s.counterKey(name)).Result()
	if err != nil {
		return 0, fmt.Errorf("increment counter %q: %w", name, err)
	}
	return seq, nil
}

func decodeLink(fields map[string]string, history []string) (*model.ShortLink, error) {
	link := &model.ShortLink{
		ID:          fields["id"],
		OriginalURL: fields["originalUrl"],
		ShortCode:   fields["shortCode"],
	}

	var err error
	if link.CreatedAt, err = time.Parse(timestampLayout, fields["createdAt"]); err != nil {
		return nil, fmt.Errorf("decode createdAt of %s: %w", link.ShortCode, err)
	}
	if link.Visits, err = strconv.ParseInt(fields["visits"], 10, 64); err != nil {
		return nil, fmt.Errorf("decode visits of %s: %w", link.ShortCode, err)
	}
	if raw, ok := fields["lastVisitedAt"]; ok {
		us, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode lastVisitedAt of %s: %w", link.ShortCode, err)
		}
		t := time.UnixMicro(us).UTC()
		link.LastVisitedAt = &t
	}

	if len(history) > 0 {
		link.VisitHistory = make([]model.VisitDetail, 0, len(history))
		for _, raw := range history {
			var v storedVisit
			if err := json.Unmarshal([]byte(raw), &v); err != nil {
				return nil, fmt.Errorf("decode visit of %s: %w", link.ShortCode, err)
			}
			link.VisitHistory = append(link.VisitHistory, model.VisitDetail{
				Timestamp: time.UnixMicro(v.TS).UTC(),
				UserAgent: v.UserAgent,
				Referrer:  v.Referrer,
			})
		}
	}
	return link, nil
}

// storedVisit элемент списка истории.
type storedVisit struct {
	TS        int64  `json:"ts"`
	UserAgent string `json:"userAgent,omitempty"`
	Referrer  string `json:"referrer,omitempty"`
}

// codeOf достаёт код из элемента ZSET.
func codeOf(member string) string {
	if _, code, ok := strings.Cut(member, ":"); ok {
		return code
	}
	return member
}

func pairsToMap(v any) (map[string]string, error) {
	items, err := toStrings(v)
	if err != nil {
		return nil, err
	}
	if len(items)%2 != 0 {
		return nil, errors.New("odd number of hash items")
	}
	m := make(map[string]string, len(items)/2)
	for i := 0; i < len(items); i += 2 {
		m[items[i]] = items[i+1]
	}
	return m, nil
}

func toStrings(v any) ([]string, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected reply type %T", v)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		str, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected item type %T", item)
		}
		out = append(out, str)
	}
	return out, nil
}

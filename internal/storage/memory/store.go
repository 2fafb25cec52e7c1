// Package memory хранит короткие ссылки в памяти процесса.
//
// Если задан путь к файлу, каждая операция дописывается в него строкой JSON,
// а при старте журнал проигрывается заново.
package memory

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lewatt23/smi.to/internal/model"
	"github.com/lewatt23/smi.to/internal/storage"
)

// Store provides a thread-safe link storage
type Store struct {
	mutex  sync.RWMutex
	links  map[string]*model.ShortLink // code -> link
	byURL  map[string]string           // original url -> code
	byID   map[string]string           // id -> code
	order  map[string]int64            // code -> insertion number
	seqs   map[string]int64
	nextNo int64
	file   string
	logger *zap.Logger
	now    func() time.Time
}

var (
	_ storage.LinkStore = (*Store)(nil)
	_ storage.Counter   = (*Store)(nil)
)

// NewStore создаёт хранилище. С пустым file данные живут только в памяти.
func NewStore(file string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		links:  make(map[string]*model.ShortLink),
		byURL:  make(map[string]string),
		byID:   make(map[string]string),
		order:  make(map[string]int64),
		seqs:   make(map[string]int64),
		file:   file,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}

	if err := s.LoadFromFile(); err != nil {
		return nil, err
	}
	return s, nil
}

// FindByOriginalURL ищет запись по оригинальному URL.
func (s *Store) FindByOriginalURL(_ context.Context, originalURL string) (*model.ShortLink, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	code, ok := s.byURL[originalURL]
	if !ok {
		return nil, nil
	}
	return s.links[code].Clone(), nil
}

// FindByCode ищет запись по короткому коду.
func (s *Store) FindByCode(_ context.Context, code string) (*model.ShortLink, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.links[code].Clone(), nil
}

// Insert сохраняет новую запись.
func (s *Store) Insert(_ context.Context, link *model.ShortLink) (*model.ShortLink, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.links[link.ShortCode]; exists {
		return nil, fmt.Errorf("%w: %s", storage.ErrDuplicateCode, link.ShortCode)
	}
	if _, exists := s.byURL[link.OriginalURL]; exists {
		return nil, storage.ErrDuplicateURL
	}

	stored := link.Clone()
	stored.ID = uuid.NewString()

	if err := s.appendToFile(model.Entry{Op: model.OpInsert, Link: stored}); err != nil {
		return nil, err
	}
	s.put(stored)
	return stored.Clone(), nil
}

// RecordVisit учитывает визит под эксклюзивной блокировкой. Время визита
// берётся под той же блокировкой.
func (s *Store) RecordVisit(_ context.Context, code string, visit model.VisitDetail) (*model.ShortLink, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	link, ok := s.links[code]
	if !ok {
		return nil, nil
	}
	visit.Timestamp = link.NextVisitTime(s.now())
	if err := s.appendToFile(model.Entry{Op: model.OpVisit, Code: code, Visit: &visit}); err != nil {
		return nil, err
	}
	link.ApplyVisit(visit)
	return link.Clone(), nil
}

// DeleteByCode удаляет запись по коду.
func (s *Store) DeleteByCode(_ context.Context, code string) (int64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.deleteLocked(code)
}

// DeleteByID удаляет запись по ID.
func (s *Store) DeleteByID(_ context.Context, id string) (int64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	code, ok := s.byID[id]
	if !ok {
		return 0, nil
	}
	return s.deleteLocked(code)
}

// ListAll возвращает все записи, новые первыми. При равном времени создания
// позже вставленная запись идёт раньше.
func (s *Store) ListAll(_ context.Context) ([]*model.ShortLink, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	result := make([]*model.ShortLink, 0, len(s.links))
	for _, link := range s.links {
		result = append(result, link.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return s.order[result[i].ShortCode] > s.order[result[j].ShortCode]
	})
	return result, nil
}

// Increment увеличивает именованный счётчик.
func (s *Store) Increment(_ context.Context, name string) (int64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	next := s.seqs[name] + 1
	if err := s.appendToFile(model.Entry{Op: model.OpSeq, Name: name, Seq: next}); err != nil {
		return 0, err
	}
	s.seqs[name] = next
	return next, nil
}

func (s *Store) put(link *model.ShortLink) {
	s.nextNo++
	s.links[link.ShortCode] = link
	s.byURL[link.OriginalURL] = link.ShortCode
	s.byID[link.ID] = link.ShortCode
	s.order[link.ShortCode] = s.nextNo
}

func (s *Store) deleteLocked(code string) (int64, error) {
	link, ok := s.links[code]
	if !ok {
		return 0, nil
	}
	if err := s.appendToFile(model.Entry{Op: model.OpDelete, Code: code}); err != nil {
		return 0, err
	}
	s.remove(link)
	return 1, nil
}

func (s *Store) remove(link *model.ShortLink) {
	delete(s.links, link.ShortCode)
	delete(s.byURL, link.OriginalURL)
	delete(s.byID, link.ID)
	delete(s.order, link.ShortCode)
}

// LoadFromFile проигрывает журнал при старте сервера.
func (s *Store) LoadFromFile() error {
	if s.file == "" {
		return nil
	}
	file, err := os.Open(s.file)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // Файл ещё не создан, это не ошибка
		}
		return fmt.Errorf("open storage file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	s.mutex.Lock()
	defer s.mutex.Unlock()

	line := 0
	for scanner.Scan() {
		line++
		var entry model.Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			s.logger.Warn("skipping broken journal line", zap.String("file", s.file), zap.Int("line", line), zap.Error(err))
			continue
		}
		s.replay(entry)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read storage file: %w", err)
	}

	s.logger.Info("storage file loaded", zap.String("file", s.file), zap.Int("links", len(s.links)))
	return nil
}

func (s *Store) replay(entry model.Entry) {
	switch entry.Op {
	case model.OpInsert:
		if entry.Link != nil {
			s.put(entry.Link)
		}
	case model.OpVisit:
		if link, ok := s.links[entry.Code]; ok && entry.Visit != nil {
			link.ApplyVisit(*entry.Visit)
		}
	case model.OpDelete:
		if link, ok := s.links[entry.Code]; ok {
			s.remove(link)
		}
	case model.OpSeq:
		if entry.Seq > s.seqs[entry.Name] {
			s.seqs[entry.Name] = entry.Seq
		}
	}
}

// appendToFile добавляет новую запись в файл. Вызывается под блокировкой.
func (s *Store) appendToFile(entry model.Entry) error {
	if s.file == "" {
		return nil
	}
	file, err := os.OpenFile(s.file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open storage file: %w", err)
	}
	defer file.Close()

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append storage file: %w", err)
	}
	return nil
}

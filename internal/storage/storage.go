// Package storage описывает контракты хранилищ коротких ссылок и счётчиков.
//
// Каждая операция, меняющая данные, атомарна на уровне хранилища и затрагивает
// ровно одну запись. Отсутствие записи не является ошибкой: методы поиска
// возвращают nil, nil.
package storage

import (
	"context"
	"errors"

	"github.com/lewatt23/smi.to/internal/model"
)

var (
	// ErrDuplicateCode сообщает о нарушении уникальности короткого кода.
	ErrDuplicateCode = errors.New("short code already exists")
	// ErrDuplicateURL сообщает, что для оригинального URL уже есть запись.
	ErrDuplicateURL = errors.New("original url already exists")
)

//go:generate mockgen -destination=../mocks/mock_storage.go -package=mocks github.com/lewatt23/smi.to/internal/storage LinkStore,Counter

// LinkStore определяет операции с короткими ссылками.
type LinkStore interface {
	// FindByOriginalURL ищет запись по оригинальному URL.
	FindByOriginalURL(ctx context.Context, originalURL string) (*model.ShortLink, error)
	// FindByCode ищет запись по короткому коду.
	FindByCode(ctx context.Context, code string) (*model.ShortLink, error)
	// Insert сохраняет новую запись и присваивает ей ID.
	// Возвращает ErrDuplicateCode или ErrDuplicateURL при конфликте.
	Insert(ctx context.Context, link *model.ShortLink) (*model.ShortLink, error)
	// RecordVisit одной атомарной операцией увеличивает счётчик визитов,
	// обновляет время последнего визита и дописывает визит в историю.
	// Время визита ставит хранилище внутри этой же операции, visit.Timestamp
	// не используется. Время не убывает: история упорядочена по времени,
	// а lastVisitedAt равно времени последнего элемента истории.
	RecordVisit(ctx context.Context, code string, visit model.VisitDetail) (*model.ShortLink, error)
	// DeleteByCode удаляет запись по коду и возвращает число удалённых записей.
	DeleteByCode(ctx context.Context, code string) (int64, error)
	// DeleteByID удаляет запись по ID и возвращает число удалённых записей.
	DeleteByID(ctx context.Context, id string) (int64, error)
	// ListAll возвращает все записи, новые первыми.
	ListAll(ctx context.Context) ([]*model.ShortLink, error)
}

// Counter предоставляет атомарный increment-and-fetch для именованных последовательностей.
type Counter interface {
	// Increment создаёт счётчик со значением 0, если его нет, увеличивает на 1
	// и возвращает новое значение.
	Increment(ctx context.Context, name string) (int64, error)
}

// Pinger реализуют хранилища с сетевым подключением.
type Pinger interface {
	Ping(ctx context.Context) error
}

package model

import (
	"encoding/json"
	"time"
)

// ShortLink хранит запись о сокращённой ссылке, одну на каждый оригинальный URL.
type ShortLink struct {
	ID            string        `json:"id"`
	OriginalURL   string        `json:"originalUrl"`
	ShortCode     string        `json:"shortCode"`
	CreatedAt     time.Time     `json:"createdAt"`
	Visits        int64         `json:"visits"`
	LastVisitedAt *time.Time    `json:"lastVisitedAt,omitempty"`
	VisitHistory  []VisitDetail `json:"visitHistory,omitempty"`
}

// VisitDetail описывает один переход по короткой ссылке.
type VisitDetail struct {
	Timestamp time.Time `json:"timestamp"`
	UserAgent string    `json:"userAgent,omitempty"`
	Referrer  string    `json:"referrer,omitempty"`
}

// Clone возвращает глубокую копию записи.
func (l *ShortLink) Clone() *ShortLink {
	if l == nil {
		return nil
	}
	c := *l
	if l.LastVisitedAt != nil {
		t := *l.LastVisitedAt
		c.LastVisitedAt = &t
	}
	if l.VisitHistory != nil {
		c.VisitHistory = make([]VisitDetail, len(l.VisitHistory))
		copy(c.VisitHistory, l.VisitHistory)
	}
	return &c
}

// NextVisitTime возвращает время следующего визита: now, но не раньше
// последнего уже учтённого визита.
func (l *ShortLink) NextVisitTime(now time.Time) time.Time {
	if l.LastVisitedAt != nil && now.Before(*l.LastVisitedAt) {
		return *l.LastVisitedAt
	}
	return now
}

// ApplyVisit учитывает переход: счётчик, время последнего визита и история.
// Используется хранилищами, у которых нет серверной атомарной операции над документом.
func (l *ShortLink) ApplyVisit(v VisitDetail) {
	l.Visits++
	ts := v.Timestamp
	l.LastVisitedAt = &ts
	l.VisitHistory = append(l.VisitHistory, v)
}

// ClientJSON кодирует поля визита, пришедшие от клиента, без времени визита.
func (v VisitDetail) ClientJSON() ([]byte, error) {
	return json.Marshal(struct {
		UserAgent string `json:"userAgent,omitempty"`
		Referrer  string `json:"referrer,omitempty"`
	}{v.UserAgent, v.Referrer})
}

package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lewatt23/smi.to/internal/model"
	"github.com/lewatt23/smi.to/internal/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "links.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_InsertFindDelete(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	created := time.Date(2025, 3, 1, 10, 0, 0, 123456789, time.UTC)
	saved, err := store.Insert(ctx, &model.ShortLink{OriginalURL: "https://a.example", ShortCode: "1", CreatedAt: created})
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)
	assert.True(t, created.Equal(saved.CreatedAt))
	assert.Zero(t, saved.Visits)
	assert.Nil(t, saved.LastVisitedAt)

	byCode, err := store.FindByCode(ctx, "1")
	require.NoError(t, err)
	require.NotNil(t, byCode)
	assert.Equal(t, saved.ID, byCode.ID)

	byURL, err := store.FindByOriginalURL(ctx, "https://a.example")
	require.NoError(t, err)
	require.NotNil(t, byURL)
	assert.Equal(t, "1", byURL.ShortCode)

	n, err := store.DeleteByID(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = store.DeleteByCode(ctx, "1")
	require.NoError(t, err)
	assert.Zero(t, n)

	gone, err := store.FindByCode(ctx, "1")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestStore_UniqueConstraints(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	_, err := store.Insert(ctx, &model.ShortLink{OriginalURL: "https://a.example", ShortCode: "1", CreatedAt: time.Now()})
	require.NoError(t, err)

	_, err = store.Insert(ctx, &model.ShortLink{OriginalURL: "https://b.example", ShortCode: "1", CreatedAt: time.Now()})
	assert.ErrorIs(t, err, storage.ErrDuplicateCode)

	_, err = store.Insert(ctx, &model.ShortLink{OriginalURL: "https://a.example", ShortCode: "2", CreatedAt: time.Now()})
	assert.ErrorIs(t, err, storage.ErrDuplicateURL)
}

func TestStore_RecordVisit(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	_, err := store.Insert(ctx, &model.ShortLink{OriginalURL: "https://a.example", ShortCode: "1", CreatedAt: time.Now()})
	require.NoError(t, err)

	base := time.Date(2025, 3, 1, 10, 0, 0, 123456789, time.UTC)
	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		store.now = func() time.Time { return at }
		link, err := store.RecordVisit(ctx, "1", model.VisitDetail{
			Timestamp: base.Add(-time.Hour),
			UserAgent: fmt.Sprintf("agent-%d", i),
		})
		require.NoError(t, err)
		require.NotNil(t, link)
		assert.Equal(t, int64(i+1), link.Visits)
	}

	link, err := store.FindByCode(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), link.Visits)
	require.Len(t, link.VisitHistory, 3)
	for i, v := range link.VisitHistory {
		assert.Equal(t, fmt.Sprintf("agent-%d", i), v.UserAgent)
		assert.True(t, base.Add(time.Duration(i)*time.Minute).Equal(v.Timestamp), "visit %d at %s", i, v.Timestamp)
	}
	require.NotNil(t, link.LastVisitedAt)
	assert.True(t, base.Add(2*time.Minute).Equal(*link.LastVisitedAt))

	missing, err := store.RecordVisit(ctx, "nope", model.VisitDetail{Timestamp: base})
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_RecordVisitClockGoesBack(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	_, err := store.Insert(ctx, &model.ShortLink{OriginalURL: "https://a.example", ShortCode: "1", CreatedAt: time.Now()})
	require.NoError(t, err)

	late := time.Date(2025, 3, 1, 10, 0, 5, 0, time.UTC)
	store.now = func() time.Time { return late }
	_, err = store.RecordVisit(ctx, "1", model.VisitDetail{})
	require.NoError(t, err)

	store.now = func() time.Time { return late.Add(-time.Second) }
	link, err := store.RecordVisit(ctx, "1", model.VisitDetail{Referrer: "https://ya.ru"})
	require.NoError(t, err)

	require.Len(t, link.VisitHistory, 2)
	assert.True(t, late.Equal(*link.LastVisitedAt))
	assert.True(t, late.Equal(link.VisitHistory[1].Timestamp))
	assert.Equal(t, "https://ya.ru", link.VisitHistory[1].Referrer)
}

func TestStore_ConcurrentVisitsAreNotLost(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	_, err := store.Insert(ctx, &model.ShortLink{OriginalURL: "https://a.example", ShortCode: "1", CreatedAt: time.Now()})
	require.NoError(t, err)

	const visits = 100
	var wg sync.WaitGroup
	for i := 0; i < visits; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.RecordVisit(ctx, "1", model.VisitDetail{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	link, err := store.FindByCode(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, int64(visits), link.Visits)
	require.Len(t, link.VisitHistory, visits)
	for i := 1; i < visits; i++ {
		assert.False(t, link.VisitHistory[i].Timestamp.Before(link.VisitHistory[i-1].Timestamp))
	}
	assert.True(t, link.LastVisitedAt.Equal(link.VisitHistory[visits-1].Timestamp))
}

func TestStore_IncrementConcurrent(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	const n = 100
	values := make([]int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := store.Increment(ctx, "x")
			assert.NoError(t, err)
			values[i] = v
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool, n)
	for _, v := range values {
		assert.False(t, seen[v], "value %d issued twice", v)
		seen[v] = true
	}
	for i := int64(1); i <= n; i++ {
		assert.True(t, seen[i], "gap at %d", i)
	}

	other, err := store.Increment(ctx, "y")
	require.NoError(t, err)
	assert.Equal(t, int64(1), other)
}

func TestStore_ListAllNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		_, err := store.Insert(ctx, &model.ShortLink{
			OriginalURL: fmt.Sprintf("https://%d.example", i),
			ShortCode:   fmt.Sprint(i),
			CreatedAt:   base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	links, err := store.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, links, 3)
	assert.Equal(t, "2", links[0].ShortCode)
	assert.Equal(t, "0", links[2].ShortCode)
}

func TestStore_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "links.db")

	store, err := Open(path)
	require.NoError(t, err)
	_, err = store.Increment(ctx, "shortLinkId")
	require.NoError(t, err)
	_, err = store.Insert(ctx, &model.ShortLink{OriginalURL: "https://a.example", ShortCode: "1", CreatedAt: time.Now()})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	link, err := reopened.FindByCode(ctx, "1")
	require.NoError(t, err)
	assert.NotNil(t, link)

	seq, err := reopened.Increment(ctx, "shortLinkId")
	require.NoError(t, err)
	assert.Equal(t, int64(2), seq)
}

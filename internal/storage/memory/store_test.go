package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lewatt23/smi.to/internal/model"
	"github.com/lewatt23/smi.to/internal/storage"
)

func newLink(code, url string) *model.ShortLink {
	return &model.ShortLink{
		OriginalURL: url,
		ShortCode:   code,
		CreatedAt:   time.Now().UTC(),
	}
}

// Тест сохранения и получения записи из памяти
func TestStore_InsertAndFind(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore("", nil)
	require.NoError(t, err)

	saved, err := store.Insert(ctx, newLink("1", "https://yandex.ru"))
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)

	got, err := store.FindByCode(ctx, "1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "https://yandex.ru", got.OriginalURL)
	assert.Equal(t, saved.ID, got.ID)

	got, err = store.FindByOriginalURL(ctx, "https://yandex.ru")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "1", got.ShortCode)

	missing, err := store.FindByCode(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_InsertConflicts(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore("", nil)
	require.NoError(t, err)

	_, err = store.Insert(ctx, newLink("a", "https://a.example"))
	require.NoError(t, err)

	_, err = store.Insert(ctx, newLink("a", "https://b.example"))
	assert.ErrorIs(t, err, storage.ErrDuplicateCode)

	_, err = store.Insert(ctx, newLink("b", "https://a.example"))
	assert.ErrorIs(t, err, storage.ErrDuplicateURL)

	assert.Len(t, listAll(t, store), 1)
}

func TestStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore("", nil)
	require.NoError(t, err)

	_, err = store.Insert(ctx, newLink("a", "https://a.example"))
	require.NoError(t, err)

	got, _ := store.FindByCode(ctx, "a")
	got.OriginalURL = "https://evil.example"
	got.Visits = 100

	again, _ := store.FindByCode(ctx, "a")
	assert.Equal(t, "https://a.example", again.OriginalURL)
	assert.Zero(t, again.Visits)
}

func TestStore_RecordVisit(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore("", nil)
	require.NoError(t, err)

	_, err = store.Insert(ctx, newLink("a", "https://a.example"))
	require.NoError(t, err)

	ts := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	store.now = func() time.Time { return ts }
	got, err := store.RecordVisit(ctx, "a", model.VisitDetail{Timestamp: ts.Add(-time.Hour), UserAgent: "curl/8.0"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(1), got.Visits)
	require.NotNil(t, got.LastVisitedAt)
	assert.True(t, ts.Equal(*got.LastVisitedAt))
	require.Len(t, got.VisitHistory, 1)
	assert.Equal(t, "curl/8.0", got.VisitHistory[0].UserAgent)

	missing, err := store.RecordVisit(ctx, "zzz", model.VisitDetail{Timestamp: ts})
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_RecordVisitClockGoesBack(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore("", nil)
	require.NoError(t, err)

	_, err = store.Insert(ctx, newLink("a", "https://a.example"))
	require.NoError(t, err)

	late := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	store.now = func() time.Time { return late }
	_, err = store.RecordVisit(ctx, "a", model.VisitDetail{})
	require.NoError(t, err)

	store.now = func() time.Time { return late.Add(-time.Second) }
	got, err := store.RecordVisit(ctx, "a", model.VisitDetail{Referrer: "https://ya.ru"})
	require.NoError(t, err)

	require.Len(t, got.VisitHistory, 2)
	assert.True(t, late.Equal(*got.LastVisitedAt))
	assert.True(t, late.Equal(got.VisitHistory[1].Timestamp))
	assert.Equal(t, "https://ya.ru", got.VisitHistory[1].Referrer)
}

func TestStore_ConcurrentVisits(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore("", nil)
	require.NoError(t, err)

	_, err = store.Insert(ctx, newLink("a", "https://a.example"))
	require.NoError(t, err)

	const visits = 200
	var wg sync.WaitGroup
	for i := 0; i < visits; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = store.RecordVisit(ctx, "a", model.VisitDetail{})
		}()
	}
	wg.Wait()

	got, _ := store.FindByCode(ctx, "a")
	assert.Equal(t, int64(visits), got.Visits)
	require.Len(t, got.VisitHistory, visits)
	for i := 1; i < visits; i++ {
		assert.False(t, got.VisitHistory[i].Timestamp.Before(got.VisitHistory[i-1].Timestamp))
	}
	assert.True(t, got.LastVisitedAt.Equal(got.VisitHistory[visits-1].Timestamp))
}

func TestStore_Delete(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore("", nil)
	require.NoError(t, err)

	a, _ := store.Insert(ctx, newLink("a", "https://a.example"))
	_, _ = store.Insert(ctx, newLink("b", "https://b.example"))

	n, err := store.DeleteByCode(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = store.DeleteByCode(ctx, "a")
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = store.DeleteByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, _ := store.FindByOriginalURL(ctx, "https://a.example")
	assert.Nil(t, got)

	b, _ := store.FindByCode(ctx, "b")
	n, err = store.DeleteByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Empty(t, listAll(t, store))
}

func TestStore_ListAllNewestFirst(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore("", nil)
	require.NoError(t, err)

	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		link := newLink(fmt.Sprint(i), fmt.Sprintf("https://%d.example", i))
		link.CreatedAt = base.Add(time.Duration(i) * time.Second)
		_, err := store.Insert(ctx, link)
		require.NoError(t, err)
	}
	// та же секунда, вставлена позже
	same := newLink("3", "https://3.example")
	same.CreatedAt = base.Add(2 * time.Second)
	_, err = store.Insert(ctx, same)
	require.NoError(t, err)

	links, err := store.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, links, 4)
	assert.Equal(t, []string{"3", "2", "1", "0"}, []string{
		links[0].ShortCode, links[1].ShortCode, links[2].ShortCode, links[3].ShortCode,
	})
}

func TestStore_IncrementConcurrent(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore("", nil)
	require.NoError(t, err)

	const n = 100
	results := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := store.Increment(ctx, "x")
			assert.NoError(t, err)
			results <- v
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int64]bool, n)
	for v := range results {
		assert.False(t, seen[v], "value %d issued twice", v)
		seen[v] = true
	}
	for i := int64(1); i <= n; i++ {
		assert.True(t, seen[i], "value %d missing", i)
	}
}

// Тест загрузки данных из файла
func TestStore_ReplayFromFile(t *testing.T) {
	ctx := context.Background()
	tmpFile := filepath.Join(t.TempDir(), "store.json")

	store, err := NewStore(tmpFile, nil)
	require.NoError(t, err)

	seq, err := store.Increment(ctx, "shortLinkId")
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)

	_, err = store.Insert(ctx, newLink("1", "https://mail.ru"))
	require.NoError(t, err)
	_, err = store.Insert(ctx, newLink("2", "https://vk.com"))
	require.NoError(t, err)
	visitedAt := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return visitedAt }
	_, err = store.RecordVisit(ctx, "1", model.VisitDetail{Timestamp: visitedAt.Add(-time.Hour), Referrer: "https://ya.ru"})
	require.NoError(t, err)
	_, err = store.DeleteByCode(ctx, "2")
	require.NoError(t, err)

	content, err := os.ReadFile(tmpFile)
	require.NoError(t, err)
	assert.Contains(t, string(content), "mail.ru")

	reloaded, err := NewStore(tmpFile, nil)
	require.NoError(t, err)

	got, _ := reloaded.FindByCode(ctx, "1")
	require.NotNil(t, got)
	assert.Equal(t, int64(1), got.Visits)
	require.Len(t, got.VisitHistory, 1)
	assert.Equal(t, "https://ya.ru", got.VisitHistory[0].Referrer)
	assert.True(t, visitedAt.Equal(got.VisitHistory[0].Timestamp))
	require.NotNil(t, got.LastVisitedAt)
	assert.True(t, visitedAt.Equal(*got.LastVisitedAt))

	gone, _ := reloaded.FindByCode(ctx, "2")
	assert.Nil(t, gone)

	seq, err = reloaded.Increment(ctx, "shortLinkId")
	require.NoError(t, err)
	assert.Equal(t, int64(2), seq)
}

func TestStore_SkipsBrokenLines(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "broken.json")
	require.NoError(t, os.WriteFile(tmpFile, []byte("{not json\n{\"op\":\"seq\",\"name\":\"x\",\"seq\":7}\n"), 0644))

	store, err := NewStore(tmpFile, nil)
	require.NoError(t, err)

	v, err := store.Increment(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, int64(8), v)
}

func listAll(t *testing.T, store *Store) []*model.ShortLink {
	t.Helper()
	links, err := store.ListAll(context.Background())
	require.NoError(t, err)
	return links
}

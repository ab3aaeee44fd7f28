package accounts

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/receipt-flow/internal/domain"
)

type fakeLister struct {
	mu    sync.Mutex
	calls int
	items []domain.AccountItem
	err   error
}

func (f *fakeLister) ListAccountItems(ctx context.Context) ([]domain.AccountItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.items, nil
}

func (f *fakeLister) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var chart = []domain.AccountItem{
	{ID: 1, Name: "売上高", ShortcutNum: "4110", Categories: []string{"income"}},
	{ID: 2, Name: "旅費交通費", ShortcutNum: "7470", DefaultTaxCode: 136, Categories: []string{"expense"}},
	{ID: 3, Name: "会議費", ShortcutNum: "7620", DefaultTaxCode: 136, Categories: []string{"expense"}},
	{ID: 4, Name: "雑費", ShortcutNum: "7990", DefaultTaxCode: 136, Categories: []string{"expense"}},
}

func TestResolve_ExactMatch(t *testing.T) {
	r := NewResolver(&fakeLister{items: chart}, nil)

	item, err := r.Resolve(context.Background(), "7620")
	require.NoError(t, err)
	assert.Equal(t, int64(3), item.ID)
}

func TestResolve_FallbackCode(t *testing.T) {
	r := NewResolver(&fakeLister{items: chart}, nil)

	item, err := r.Resolve(context.Background(), "0000")
	require.NoError(t, err)
	assert.Equal(t, "7990", item.ShortcutNum)
}

func TestResolve_FirstExpenseAccount(t *testing.T) {
	r := NewResolver(&fakeLister{items: chart[:3]}, nil)

	item, err := r.Resolve(context.Background(), "0000")
	require.NoError(t, err)
	assert.Equal(t, int64(2), item.ID)
}

func TestResolve_NotFound(t *testing.T) {
	r := NewResolver(&fakeLister{items: chart[:1]}, nil)

	_, err := r.Resolve(context.Background(), "0000")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolve_FetchesChartOnce(t *testing.T) {
	lister := &fakeLister{items: chart}
	r := NewResolver(lister, nil)

	first, err := r.Resolve(context.Background(), "7470")
	require.NoError(t, err)
	second, err := r.Resolve(context.Background(), "7470")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, lister.callCount())
}

func TestResolve_ConcurrentFirstLookupsFetchOnce(t *testing.T) {
	lister := &fakeLister{items: chart}
	r := NewResolver(lister, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = r.Resolve(context.Background(), "7620")
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, lister.callCount())
}

func TestResolve_FailedFetchIsRetriedNextCall(t *testing.T) {
	lister := &fakeLister{err: errors.New("connection reset")}
	r := NewResolver(lister, nil)

	_, err := r.Resolve(context.Background(), "7620")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.False(t, r.Cache().Loaded())

	lister.mu.Lock()
	lister.err = nil
	lister.items = chart
	lister.mu.Unlock()

	item, err := r.Resolve(context.Background(), "7620")
	require.NoError(t, err)
	assert.Equal(t, int64(3), item.ID)
	assert.Equal(t, 2, lister.callCount())
}

func TestResolve_InvalidateRefetches(t *testing.T) {
	lister := &fakeLister{items: chart}
	r := NewResolver(lister, nil)

	_, err := r.Resolve(context.Background(), "7620")
	require.NoError(t, err)

	r.Cache().Invalidate()
	_, err = r.Resolve(context.Background(), "7620")
	require.NoError(t, err)

	assert.Equal(t, 2, lister.callCount())
}

func TestCache_FirstCodeWins(t *testing.T) {
	c := NewCache()
	c.Store([]domain.AccountItem{
		{ID: 10, ShortcutNum: "7990"},
		{ID: 11, ShortcutNum: "7990"},
		{ID: 12},
	})

	item, ok := c.Get("7990")
	require.True(t, ok)
	assert.Equal(t, int64(10), item.ID)
	assert.Equal(t, 3, c.Len())

	_, ok = c.Get("")
	assert.False(t, ok)
}

func TestCache_EmptyChartIsLoaded(t *testing.T) {
	c := NewCache()
	assert.False(t, c.Loaded())

	c.Store(nil)
	assert.True(t, c.Loaded())
	assert.Equal(t, 0, c.Len())

	_, ok := c.FirstInCategory(ExpenseCategory)
	assert.False(t, ok)
}

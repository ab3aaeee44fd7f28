package accounts

import (
	"sync"

	"github.com/dvloznov/receipt-flow/internal/domain"
)

// Cache holds the chart of accounts keyed by shortcut code. It is empty until
// the first successful Store and stays loaded until Invalidate.
type Cache struct {
	mu     sync.RWMutex
	loaded bool
	byCode map[string]domain.AccountItem
	order  []domain.AccountItem
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{}
}

// Loaded reports whether the cache holds a chart.
func (c *Cache) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

// Store replaces the cached chart. When two items share a code the first one wins.
func (c *Cache) Store(items []domain.AccountItem) {
	byCode := make(map[string]domain.AccountItem, len(items))
	order := make([]domain.AccountItem, 0, len(items))
	for _, item := range items {
		order = append(order, item)
		if item.ShortcutNum == "" {
			continue
		}
		if _, ok := byCode[item.ShortcutNum]; !ok {
			byCode[item.ShortcutNum] = item
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.byCode = byCode
	c.order = order
	c.loaded = true
}

// Get returns the item for an exact code.
func (c *Cache) Get(code string) (domain.AccountItem, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.byCode[code]
	return item, ok
}

// FirstInCategory returns the first item, in chart order, tagged with category.
func (c *Cache) FirstInCategory(category string) (domain.AccountItem, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, item := range c.order {
		if item.HasCategory(category) {
			return item, true
		}
	}
	return domain.AccountItem{}, false
}

// Len returns the number of cached items.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

// Invalidate drops the cached chart so the next lookup refetches it.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byCode = nil
	c.order = nil
	c.loaded = false
}

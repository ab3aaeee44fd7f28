// Package accounts maps suggested account codes onto the chart of accounts.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dvloznov/receipt-flow/internal/domain"
	"github.com/dvloznov/receipt-flow/internal/logger"
)

// FallbackAccountCode is tried when the suggested code is not in the chart.
const FallbackAccountCode = domain.DefaultAccountCode

// ExpenseCategory is the category searched as a last resort.
const ExpenseCategory = "expense"

// ErrNotFound is returned when no usable expense account exists.
var ErrNotFound = errors.New("no expense account item found")

// Lister fetches the full chart of accounts.
type Lister interface {
	ListAccountItems(ctx context.Context) ([]domain.AccountItem, error)
}

// Resolver resolves account codes against a lazily loaded chart.
type Resolver struct {
	lister Lister
	cache  *Cache

	// serialises loads so concurrent first lookups fetch once
	loadMu sync.Mutex
}

// NewResolver creates a resolver. A nil cache gets a fresh one.
func NewResolver(lister Lister, cache *Cache) *Resolver {
	if cache == nil {
		cache = NewCache()
	}
	return &Resolver{lister: lister, cache: cache}
}

// Cache exposes the resolver's cache, mainly so callers can Invalidate it.
func (r *Resolver) Cache() *Cache {
	return r.cache
}

// Resolve returns the item for code, falling back to FallbackAccountCode and
// then to the first expense account in chart order.
func (r *Resolver) Resolve(ctx context.Context, code string) (domain.AccountItem, error) {
	if err := r.ensureLoaded(ctx); err != nil {
		return domain.AccountItem{}, err
	}

	log := logger.Component(logger.FromContext(ctx), "accounts")

	if item, ok := r.cache.Get(code); ok {
		return item, nil
	}
	if item, ok := r.cache.Get(FallbackAccountCode); ok {
		log.Debug().
			Str("code", code).
			Str("fallback_code", FallbackAccountCode).
			Msg("Account code not found, using fallback")
		return item, nil
	}
	if item, ok := r.cache.FirstInCategory(ExpenseCategory); ok {
		log.Debug().
			Str("code", code).
			Int64("account_item_id", item.ID).
			Msg("Account code not found, using first expense account")
		return item, nil
	}
	return domain.AccountItem{}, fmt.Errorf("Resolve: code %q: %w", code, ErrNotFound)
}

func (r *Resolver) ensureLoaded(ctx context.Context) error {
	if r.cache.Loaded() {
		return nil
	}

	r.loadMu.Lock()
	defer r.loadMu.Unlock()
	if r.cache.Loaded() {
		return nil
	}

	items, err := r.lister.ListAccountItems(ctx)
	if err != nil {
		return fmt.Errorf("Resolve: list account items: %w", err)
	}
	r.cache.Store(items)

	log := logger.Component(logger.FromContext(ctx), "accounts")
	log.Info().
		Int("account_items", len(items)).
		Msg("Loaded chart of accounts")
	return nil
}

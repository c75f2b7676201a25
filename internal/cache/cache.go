package cache

import (
	"context"
	"time"

	"shopledger/backend/internal/domain"
)

// LookupCache fronts hot read paths: product-by-barcode lookups at the
// billing screen and the settings singleton. Reporting is never cached.
type LookupCache interface {
	GetProduct(ctx context.Context, barcode string) (*domain.Product, bool, error)
	SetProduct(ctx context.Context, barcode string, product *domain.Product, ttl time.Duration) error
	InvalidateProduct(ctx context.Context, barcode string) error

	GetSettings(ctx context.Context) (*domain.Settings, bool, error)
	SetSettings(ctx context.Context, settings *domain.Settings, ttl time.Duration) error
	InvalidateSettings(ctx context.Context) error
}

// NoopLookupCache is used when no redis address is configured.
type NoopLookupCache struct{}

func (NoopLookupCache) GetProduct(context.Context, string) (*domain.Product, bool, error) {
	return nil, false, nil
}

func (NoopLookupCache) SetProduct(context.Context, string, *domain.Product, time.Duration) error {
	return nil
}

func (NoopLookupCache) InvalidateProduct(context.Context, string) error { return nil }

func (NoopLookupCache) GetSettings(context.Context) (*domain.Settings, bool, error) {
	return nil, false, nil
}

func (NoopLookupCache) SetSettings(context.Context, *domain.Settings, time.Duration) error {
	return nil
}

func (NoopLookupCache) InvalidateSettings(context.Context) error { return nil }

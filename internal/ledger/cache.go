package ledger

import (
	"context"

	"github.com/giftvault/giftvault/internal/models"
)

// Cache is an optional read-through cache in front of the store. Implementations
// must fail open: a miss or backend error is reported as a miss.
type Cache interface {
	GetByID(ctx context.Context, id uint64) (*models.GiftCard, bool)
	GetByCode(ctx context.Context, code string) (*models.GiftCard, bool)
	Set(ctx context.Context, card *models.GiftCard)
	Invalidate(ctx context.Context, id uint64, code string)
}

// NoopCache never stores anything.
type NoopCache struct{}

func (NoopCache) GetByID(context.Context, uint64) (*models.GiftCard, bool)   { return nil, false }
func (NoopCache) GetByCode(context.Context, string) (*models.GiftCard, bool) { return nil, false }
func (NoopCache) Set(context.Context, *models.GiftCard)                      {}
func (NoopCache) Invalidate(context.Context, uint64, string)                 {}

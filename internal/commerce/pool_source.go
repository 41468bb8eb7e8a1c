package commerce

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/tayteboss/bfl/internal/domain"
)

// VariantLister fetches every variant of a product handle.
type VariantLister interface {
	ProductVariants(ctx context.Context, handle string) ([]domain.Variant, error)
}

// PoolSource refreshes carrier pools from their product listings.
type PoolSource struct {
	lister      VariantLister
	concurrency int
}

// NewPoolSource constructs a pool source over lister.
func NewPoolSource(lister VariantLister, concurrency int) (*PoolSource, error) {
	if lister == nil {
		return nil, errors.New("commerce: variant lister is required")
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &PoolSource{lister: lister, concurrency: concurrency}, nil
}

// RefreshPools replaces each pool's variants with the full product listing. Pools without a
// handle are returned unchanged. Refreshed pools are no longer marked truncated.
func (s *PoolSource) RefreshPools(ctx context.Context, pools []domain.Pool) ([]domain.Pool, error) {
	out := make([]domain.Pool, len(pools))
	copy(out, pools)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i := range out {
		if out[i].Handle == "" {
			continue
		}
		i := i
		g.Go(func() error {
			variants, err := s.lister.ProductVariants(gctx, out[i].Handle)
			if err != nil {
				return fmt.Errorf("refresh pool %s: %w", out[i].Name, err)
			}
			out[i].Variants = variants
			out[i].Truncated = false
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

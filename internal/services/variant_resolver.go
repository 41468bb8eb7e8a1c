package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/tayteboss/bfl/internal/domain"
)

const (
	defaultHardCeiling    = int64(200000)
	defaultRefreshTimeout = 10 * time.Second
	refreshKey            = "pools"

	ResolutionHit           = "hit"
	ResolutionRefreshed     = "refreshed"
	ResolutionNotFound      = "not_found"
	ResolutionRefreshFailed = "refresh_failed"
	ResolutionAboveCeiling  = "above_ceiling"
	ResolutionInvalid       = "invalid"
)

var resolverTracer = otel.Tracer("github.com/tayteboss/bfl/internal/services/resolver")

// Resolution is the purchasable unit chosen for a per-unit total.
type Resolution struct {
	Variant   domain.Variant
	Pool      string
	Refreshed bool
}

// VariantResolverDeps wires a VariantResolver.
type VariantResolverDeps struct {
	Pools          []domain.Pool
	Source         PoolSource
	HardCeiling    int64
	RefreshTimeout time.Duration
	Metrics        ResolutionRecorder
	Tracer         trace.Tracer
	Now            func() time.Time
	Logger         Logger
}

// VariantResolver maps per-unit totals to variants from carrier pools.
type VariantResolver struct {
	mu      sync.RWMutex
	pools   []domain.Pool
	ceiling int64

	source         PoolSource
	refreshTimeout time.Duration
	flight         singleflight.Group
	metrics        ResolutionRecorder
	tracer         trace.Tracer
	now            func() time.Time
	logger         Logger
}

// NewVariantResolver constructs a resolver over the injected pools.
func NewVariantResolver(deps VariantResolverDeps) (*VariantResolver, error) {
	ceiling := deps.HardCeiling
	if ceiling <= 0 {
		ceiling = defaultHardCeiling
	}
	for _, pool := range deps.Pools {
		for _, v := range pool.Variants {
			if v.ID <= 0 || v.Price <= 0 {
				return nil, fmt.Errorf("variant resolver: pool %q has invalid variant %d", pool.Name, v.ID)
			}
		}
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = resolverTracer
	}
	refreshTimeout := deps.RefreshTimeout
	if refreshTimeout <= 0 {
		refreshTimeout = defaultRefreshTimeout
	}
	return &VariantResolver{
		pools:          sortPools(deps.Pools),
		ceiling:        ceiling,
		source:         deps.Source,
		refreshTimeout: refreshTimeout,
		metrics:        deps.Metrics,
		tracer:         tracer,
		now: func() time.Time {
			return now().UTC()
		},
		logger: logger,
	}, nil
}

// Pools returns the cached pools sorted by ascending minimum price.
func (r *VariantResolver) Pools() []domain.Pool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.Pool(nil), r.pools...)
}

// Resolve finds the variant whose price equals target (minor units). Ceiling checks run before
// any lookup. A cache miss triggers exactly one pool refresh and one retry.
func (r *VariantResolver) Resolve(ctx context.Context, target int64) (Resolution, error) {
	start := r.now()
	ctx, span := r.tracer.Start(ctx, "variant.resolve", trace.WithAttributes(attribute.Int64("variant.target", target)))
	defer span.End()

	res, outcome, err := r.resolve(ctx, target)
	span.SetAttributes(attribute.String("variant.outcome", outcome))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(attribute.Int64("variant.id", res.Variant.ID), attribute.String("variant.pool", res.Pool))
	}
	if r.metrics != nil {
		r.metrics.ObserveResolution(outcome, r.now().Sub(start))
	}
	return res, err
}

func (r *VariantResolver) resolve(ctx context.Context, target int64) (Resolution, string, error) {
	if target <= 0 {
		return Resolution{}, ResolutionInvalid, fmt.Errorf("%w: %d", ErrNonPositiveTotal, target)
	}
	if err := r.checkCeiling(target); err != nil {
		r.logger(ctx, "variant_above_ceiling", map[string]any{"target": target, "ceiling": r.ceiling})
		return Resolution{}, ResolutionAboveCeiling, err
	}

	if res, ok := lookupVariant(r.Pools(), target); ok {
		return res, ResolutionHit, nil
	}

	if r.source == nil {
		return Resolution{}, ResolutionNotFound, fmt.Errorf("%w: %d", ErrVariantNotFound, target)
	}
	if err := r.Refresh(ctx); err != nil {
		r.logger(ctx, "variant_refresh_failed", map[string]any{"target": target, "error": err.Error()})
		return Resolution{}, ResolutionRefreshFailed, fmt.Errorf("%w: target %d: %w", ErrPoolRefreshFailed, target, err)
	}
	if res, ok := lookupVariant(r.Pools(), target); ok {
		res.Refreshed = true
		return res, ResolutionRefreshed, nil
	}
	r.logger(ctx, "variant_not_found", map[string]any{"target": target})
	return Resolution{}, ResolutionNotFound, fmt.Errorf("%w: %d", ErrVariantNotFound, target)
}

// Refresh replaces the cached pools with the source's fuller listing. Concurrent callers share
// one fetch, which runs detached from any single caller's cancellation and is bounded by the
// refresh timeout.
func (r *VariantResolver) Refresh(ctx context.Context) error {
	if r.source == nil {
		return errors.New("variant resolver: pool source is not configured")
	}
	ch := r.flight.DoChan(refreshKey, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.refreshTimeout)
		defer cancel()
		pools, err := r.source.RefreshPools(fetchCtx, r.Pools())
		if err != nil {
			return nil, err
		}
		for _, pool := range pools {
			for _, v := range pool.Variants {
				if v.ID <= 0 || v.Price <= 0 {
					return nil, fmt.Errorf("pool %q returned invalid variant %d", pool.Name, v.ID)
				}
			}
		}
		sorted := sortPools(pools)
		r.mu.Lock()
		r.pools = sorted
		r.mu.Unlock()
		return nil, nil
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

func (r *VariantResolver) checkCeiling(target int64) error {
	if target > r.ceiling {
		return fmt.Errorf("%w: %d exceeds hard ceiling %d", ErrPriceAboveCeiling, target, r.ceiling)
	}
	pools := r.Pools()
	var maxPrice int64
	known := false
	for _, pool := range pools {
		if pool.Truncated {
			return nil
		}
		if _, max, ok := pool.Range(); ok {
			known = true
			if max > maxPrice {
				maxPrice = max
			}
		}
	}
	if known && target > maxPrice {
		return fmt.Errorf("%w: %d exceeds largest unit price %d", ErrPriceAboveCeiling, target, maxPrice)
	}
	return nil
}

// lookupVariant picks the first pool whose range contains target and requires an exact member.
func lookupVariant(pools []domain.Pool, target int64) (Resolution, bool) {
	for _, pool := range pools {
		min, max, ok := pool.Range()
		if !ok || target < min || target > max {
			continue
		}
		for _, v := range pool.Variants {
			if v.Price == target {
				return Resolution{Variant: v, Pool: pool.Name}, true
			}
		}
		return Resolution{}, false
	}
	return Resolution{}, false
}

func sortPools(pools []domain.Pool) []domain.Pool {
	out := make([]domain.Pool, len(pools))
	copy(out, pools)
	sort.SliceStable(out, func(i, j int) bool {
		mi, _, oki := out[i].Range()
		mj, _, okj := out[j].Range()
		if oki != okj {
			return oki
		}
		return mi < mj
	})
	return out
}

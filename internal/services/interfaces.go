package services

import (
	"context"
	"time"

	"github.com/tayteboss/bfl/internal/domain"
)

// Logger receives structured diagnostics; cmd/bfl adapts it to zap.
type Logger func(ctx context.Context, event string, fields map[string]any)

func noopLogger(context.Context, string, map[string]any) {}

// CartClient is the commerce backend surface used for submission.
type CartClient interface {
	AddItems(ctx context.Context, req domain.CartAddRequest) (domain.CartAddResponse, error)
	Cart(ctx context.Context) (domain.Cart, error)
}

// CartUpdater extends CartClient with line quantity updates for the return-shipping guard.
type CartUpdater interface {
	CartClient
	Update(ctx context.Context, updates map[string]int) (domain.Cart, error)
}

// PoolSource returns a fuller listing of carrier pools when the cached data misses.
type PoolSource interface {
	RefreshPools(ctx context.Context, pools []domain.Pool) ([]domain.Pool, error)
}

// CartRenderer hands a successful add response to the cart drawer.
type CartRenderer interface {
	RenderContents(ctx context.Context, resp domain.CartAddResponse) error
}

// CartEventPublisher fans cart notifications out to other collaborators. Publishing is fire-and-forget.
type CartEventPublisher interface {
	PublishCartUpdated(ctx context.Context, evt domain.CartUpdatedEvent)
	PublishCartError(ctx context.Context, evt domain.CartErrorEvent)
}

// ResolutionRecorder observes variant resolution outcomes.
type ResolutionRecorder interface {
	ObserveResolution(outcome string, elapsed time.Duration)
}

// SubmissionRecorder observes submission outcomes.
type SubmissionRecorder interface {
	ObserveSubmission(outcome string, elapsed time.Duration)
	ObserveGuardAction(action string)
}

// Resolver maps a per-unit total to a purchasable variant.
type Resolver interface {
	Resolve(ctx context.Context, target int64) (Resolution, error)
}

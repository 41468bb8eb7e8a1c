package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tayteboss/bfl/internal/domain"
	"github.com/tayteboss/bfl/internal/platform/textutil"
)

const (
	// EventSourceCartGuard tags cart events emitted by the return-shipping guard.
	EventSourceCartGuard = "cart-guard"

	legacyShippingProperty = "negatives shipped back"
	shippingRoleProperty   = "_role"
	shippingRoleValue      = "return_shipping"
)

// GuardAction names what a reconciliation did to the cart.
type GuardAction string

const (
	GuardActionNone          GuardAction = "none"
	GuardActionAdded         GuardAction = "added"
	GuardActionQuantityFixed GuardAction = "quantity_fixed"
	GuardActionRemoved       GuardAction = "removed"
)

// GuardResult reports the outcome of one reconciliation.
type GuardResult struct {
	Action        GuardAction
	NeedsShipping bool
	Cart          domain.Cart
}

// ReturnShippingGuardDeps wires a ReturnShippingGuard.
type ReturnShippingGuardDeps struct {
	Cart         CartUpdater
	VariantID    int64
	PropertyName string
	Events       CartEventPublisher
	Metrics      SubmissionRecorder
	Tracer       trace.Tracer
	Now          func() time.Time
	Logger       Logger
}

// ReturnShippingGuard keeps exactly one return-shipping unit in the cart while any line asks
// for negatives back, and none otherwise.
type ReturnShippingGuard struct {
	cart         CartUpdater
	variantID    int64
	propertyName string
	events       CartEventPublisher
	metrics      SubmissionRecorder
	tracer       trace.Tracer
	now          func() time.Time
	logger       Logger

	mu sync.Mutex
}

// NewReturnShippingGuard validates dependencies and constructs a guard.
func NewReturnShippingGuard(deps ReturnShippingGuardDeps) (*ReturnShippingGuard, error) {
	if deps.Cart == nil {
		return nil, errors.New("return shipping guard: cart client is required")
	}
	if deps.VariantID <= 0 {
		return nil, errors.New("return shipping guard: variant id is required")
	}
	name := strings.TrimSpace(deps.PropertyName)
	if name == "" {
		name = "_return_shipping_required"
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
		tracer = submitTracer
	}
	return &ReturnShippingGuard{
		cart:         deps.Cart,
		variantID:    deps.VariantID,
		propertyName: name,
		events:       deps.Events,
		metrics:      deps.Metrics,
		tracer:       tracer,
		now: func() time.Time {
			return now().UTC()
		},
		logger: logger,
	}, nil
}

// Reconcile reads a fresh cart snapshot and corrects the return-shipping line.
func (g *ReturnShippingGuard) Reconcile(ctx context.Context) (GuardResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ctx, span := g.tracer.Start(ctx, "cart.guard.reconcile")
	defer span.End()

	result, err := g.reconcile(ctx)
	span.SetAttributes(attribute.String("guard.action", string(result.Action)))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		g.logger(ctx, "cart_guard_failed", map[string]any{"error": err.Error()})
		return result, err
	}
	if g.metrics != nil {
		g.metrics.ObserveGuardAction(string(result.Action))
	}
	if result.Action != GuardActionNone {
		g.logger(ctx, "cart_guard_corrected", map[string]any{"action": string(result.Action), "variantId": g.variantID})
		if g.events != nil {
			g.events.PublishCartUpdated(ctx, domain.CartUpdatedEvent{
				Source:      EventSourceCartGuard,
				CartData:    result.Cart,
				PublishedAt: g.now(),
			})
		}
	}
	return result, nil
}

func (g *ReturnShippingGuard) reconcile(ctx context.Context) (GuardResult, error) {
	cart, err := g.cart.Cart(ctx)
	if err != nil {
		return GuardResult{Action: GuardActionNone}, fmt.Errorf("read cart: %w", err)
	}
	needs := g.needsShipping(cart)
	line, present := cart.Line(g.variantID)
	result := GuardResult{Action: GuardActionNone, NeedsShipping: needs, Cart: cart}

	switch {
	case needs && !present:
		_, err := g.cart.AddItems(ctx, domain.CartAddRequest{Items: []domain.LineItem{{
			ID:         g.variantID,
			Quantity:   1,
			Properties: map[string]string{shippingRoleProperty: shippingRoleValue},
		}}})
		if err != nil {
			return result, fmt.Errorf("add return shipping: %w", err)
		}
		fresh, err := g.cart.Cart(ctx)
		if err != nil {
			return result, fmt.Errorf("refresh cart: %w", err)
		}
		result.Action = GuardActionAdded
		result.Cart = fresh
	case needs && line.Quantity != 1:
		fresh, err := g.cart.Update(ctx, map[string]int{line.Key: 1})
		if err != nil {
			return result, fmt.Errorf("fix return shipping quantity: %w", err)
		}
		result.Action = GuardActionQuantityFixed
		result.Cart = fresh
	case !needs && present:
		fresh, err := g.cart.Update(ctx, map[string]int{line.Key: 0})
		if err != nil {
			return result, fmt.Errorf("remove return shipping: %w", err)
		}
		result.Action = GuardActionRemoved
		result.Cart = fresh
	}
	return result, nil
}

func (g *ReturnShippingGuard) needsShipping(cart domain.Cart) bool {
	for _, line := range cart.Items {
		if line.ID == g.variantID || line.VariantID == g.variantID {
			continue
		}
		props := line.PropertyMap()
		if strings.TrimSpace(props[g.propertyName]) == "true" {
			return true
		}
		if textutil.HasKeyContaining(props, legacyShippingProperty, "yes") {
			return true
		}
	}
	return false
}

// HandleCartUpdated reconciles after cart changes made by other collaborators. Events emitted
// by the guard itself are ignored.
func (g *ReturnShippingGuard) HandleCartUpdated(ctx context.Context, evt domain.CartUpdatedEvent) {
	if evt.Source == EventSourceCartGuard {
		return
	}
	if _, err := g.Reconcile(ctx); err != nil {
		g.logger(ctx, "cart_guard_event_failed", map[string]any{"source": evt.Source, "error": err.Error()})
	}
}

package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tayteboss/bfl/internal/catalog"
	"github.com/tayteboss/bfl/internal/domain"
	"github.com/tayteboss/bfl/internal/platform/textutil"
)

const (
	// EventSourceProductForm tags cart events emitted after a form submission.
	EventSourceProductForm = "product-form"

	propertyService     = "Service"
	propertyTotal       = "Total"
	propertySubmittedAt = "_submitted_at"

	SubmissionSucceeded = "succeeded"
	SubmissionInvalid   = "validation"
	SubmissionPricing   = "pricing"
	SubmissionFailed    = "transient"
	SubmissionBusy      = "in_progress"
)

var submitTracer = otel.Tracer("github.com/tayteboss/bfl/internal/services/submit")

// SubmitterDeps wires a Submitter.
type SubmitterDeps struct {
	Catalog     *catalog.Catalog
	Resolver    Resolver
	Cart        CartClient
	Renderer    CartRenderer
	Events      CartEventPublisher
	Sections    []string
	SectionsURL string
	Metrics     SubmissionRecorder
	Tracer      trace.Tracer
	Now         func() time.Time
	Logger      Logger
}

// Submitter validates a form, resolves its variant and adds it to the cart in one request.
type Submitter struct {
	catalog     *catalog.Catalog
	resolver    Resolver
	cart        CartClient
	renderer    CartRenderer
	events      CartEventPublisher
	sections    []string
	sectionsURL string
	metrics     SubmissionRecorder
	tracer      trace.Tracer
	now         func() time.Time
	logger      Logger
}

// SubmitResult describes a successful submission.
type SubmitResult struct {
	Items    []domain.LineItem
	Variant  domain.Variant
	Response domain.CartAddResponse
	Cart     domain.Cart
	View     FormView
}

// NewSubmitter validates dependencies and constructs a Submitter.
func NewSubmitter(deps SubmitterDeps) (*Submitter, error) {
	if deps.Catalog == nil {
		return nil, errors.New("submitter: catalog is required")
	}
	if deps.Resolver == nil {
		return nil, errors.New("submitter: resolver is required")
	}
	if deps.Cart == nil {
		return nil, errors.New("submitter: cart client is required")
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
	return &Submitter{
		catalog:     deps.Catalog,
		resolver:    deps.Resolver,
		cart:        deps.Cart,
		renderer:    deps.Renderer,
		events:      deps.Events,
		sections:    append([]string(nil), deps.Sections...),
		sectionsURL: deps.SectionsURL,
		metrics:     deps.Metrics,
		tracer:      tracer,
		now: func() time.Time {
			return now().UTC()
		},
		logger: logger,
	}, nil
}

// Submit runs guard, validation, pricing, resolution and the atomic cart add. Failures are
// written to the form's inline error slot and leave selections untouched.
func (s *Submitter) Submit(ctx context.Context, form *Form) (SubmitResult, error) {
	if form == nil {
		return SubmitResult{}, fmt.Errorf("%w: form is required", ErrFormInvalidInput)
	}
	start := s.now()
	ctx, span := s.tracer.Start(ctx, "cart.submit", trace.WithAttributes(attribute.String("form.id", form.ID())))
	defer span.End()

	result, outcome, err := s.submit(ctx, form)
	span.SetAttributes(attribute.String("submit.outcome", outcome))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	if s.metrics != nil {
		s.metrics.ObserveSubmission(outcome, s.now().Sub(start))
	}
	return result, err
}

func (s *Submitter) submit(ctx context.Context, form *Form) (SubmitResult, string, error) {
	view, err := form.BeginSubmit()
	if err != nil {
		return SubmitResult{}, SubmissionBusy, err
	}
	ended := false
	defer func() {
		if !ended {
			form.EndSubmit()
		}
	}()

	if view.ServiceID == "" {
		form.SetError(messageSelectService, nil)
		return SubmitResult{}, SubmissionInvalid, &SubmitError{Kind: SubmitErrorValidation, Message: messageSelectService, Err: ErrNoActiveService}
	}
	if err := Validate(view); err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			form.SetError(messageIncomplete, verr.Groups)
			return SubmitResult{}, SubmissionInvalid, &SubmitError{Kind: SubmitErrorValidation, Message: messageIncomplete, Validation: verr, Err: verr}
		}
		return SubmitResult{}, SubmissionInvalid, err
	}

	res, err := s.resolver.Resolve(ctx, view.Pricing.PerUnit)
	if errors.Is(err, ErrPoolRefreshFailed) {
		message := userMessage(err, messageCartGeneric)
		s.logger(ctx, "submit_refresh_failed", map[string]any{
			"formId":  view.ID,
			"perUnit": view.Pricing.PerUnit,
			"error":   err.Error(),
		})
		form.SetError(message, nil)
		return SubmitResult{}, SubmissionFailed, &SubmitError{Kind: SubmitErrorTransient, Message: message, Err: err}
	}
	if err != nil {
		message := messageNoVariant
		if errors.Is(err, ErrPriceAboveCeiling) {
			message = messageAboveCeiling
		}
		s.logger(ctx, "submit_pricing_failed", map[string]any{
			"formId":  view.ID,
			"perUnit": view.Pricing.PerUnit,
			"error":   err.Error(),
		})
		form.SetError(message, nil)
		return SubmitResult{}, SubmissionPricing, &SubmitError{Kind: SubmitErrorPricing, Message: message, Err: err}
	}

	shipping := s.catalog.ReturnShipping
	needsShipping := shipping.Triggered(view.Selection)
	main := domain.LineItem{
		ID:         res.Variant.ID,
		Quantity:   view.Quantity,
		Properties: s.lineProperties(view, needsShipping),
	}
	items := []domain.LineItem{main}
	if needsShipping && s.shippingMissing(ctx, view.ID, shipping.VariantID) {
		items = append([]domain.LineItem{{ID: shipping.VariantID, Quantity: 1}}, items...)
	}

	req := domain.CartAddRequest{Items: items, Sections: s.sections, SectionsURL: s.sectionsURL}
	resp, err := s.cart.AddItems(ctx, req)
	if err != nil {
		message := userMessage(err, messageCartGeneric)
		s.logger(ctx, "submit_cart_failed", map[string]any{
			"formId":    view.ID,
			"variantId": res.Variant.ID,
			"error":     err.Error(),
		})
		form.SetError(message, nil)
		if s.events != nil {
			s.events.PublishCartError(ctx, domain.CartErrorEvent{Source: EventSourceProductForm, VariantID: res.Variant.ID, Message: message})
		}
		return SubmitResult{}, SubmissionFailed, &SubmitError{Kind: SubmitErrorTransient, Message: message, Err: err}
	}

	form.resetAfterSubmit(ctx)
	if s.renderer != nil {
		if err := s.renderer.RenderContents(ctx, resp); err != nil {
			s.logger(ctx, "submit_render_failed", map[string]any{"formId": view.ID, "error": err.Error()})
		}
	}
	snapshot, err := s.cart.Cart(ctx)
	if err != nil {
		s.logger(ctx, "submit_snapshot_failed", map[string]any{"formId": view.ID, "error": err.Error()})
		snapshot = domain.Cart{Items: resp.Items, ItemCount: len(resp.Items)}
	}
	if s.events != nil {
		s.events.PublishCartUpdated(ctx, domain.CartUpdatedEvent{
			Source:      EventSourceProductForm,
			VariantID:   res.Variant.ID,
			CartData:    snapshot,
			PublishedAt: s.now(),
		})
	}
	s.logger(ctx, "submit_succeeded", map[string]any{
		"formId":    view.ID,
		"variantId": res.Variant.ID,
		"pool":      res.Pool,
		"quantity":  view.Quantity,
		"items":     len(items),
	})
	ended = true
	return SubmitResult{
		Items:    items,
		Variant:  res.Variant,
		Response: resp,
		Cart:     snapshot,
		View:     form.EndSubmit(),
	}, SubmissionSucceeded, nil
}

// shippingMissing re-reads the live cart. A failed read counts as missing; the cart guard
// removes any duplicate afterwards.
func (s *Submitter) shippingMissing(ctx context.Context, formID string, variantID int64) bool {
	snapshot, err := s.cart.Cart(ctx)
	if err != nil {
		s.logger(ctx, "submit_shipping_snapshot_failed", map[string]any{"formId": formID, "error": err.Error()})
		return true
	}
	return !snapshot.HasVariant(variantID)
}

// lineProperties keys each visible selection by cluster name and records the option value, so
// line items stay stable when display labels are reworded.
func (s *Submitter) lineProperties(view FormView, needsShipping bool) map[string]string {
	props := map[string]string{
		propertyService:     view.ServiceTitle,
		propertyTotal:       view.Pricing.GrandTotalDisplay,
		propertySubmittedAt: strconv.FormatInt(s.now().UnixMilli(), 10),
	}
	for _, group := range view.Groups {
		if !group.Visible {
			continue
		}
		for _, cluster := range group.Clusters {
			if cluster.Visible && cluster.Selected != "" {
				props[cluster.Name] = cluster.Selected
			}
		}
	}
	if needsShipping {
		props[s.catalog.ReturnShipping.PropertyName] = "true"
	}
	return textutil.NormalizeProperties(props)
}

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tayteboss/bfl/internal/catalog"
	"github.com/tayteboss/bfl/internal/domain"
)

// FormView is a consistent snapshot of a form session.
type FormView struct {
	ID            string           `json:"id"`
	ServiceID     string           `json:"serviceId,omitempty"`
	ServiceTitle  string           `json:"serviceTitle,omitempty"`
	Quantity      int              `json:"quantity"`
	MaxQuantity   int              `json:"maxQuantity"`
	Groups        []GroupState     `json:"groups"`
	Pricing       PriceBreakdown   `json:"pricing"`
	ErrorMessage  string           `json:"errorMessage,omitempty"`
	FailingGroups []string         `json:"failingGroups,omitempty"`
	Submitting    bool             `json:"submitting"`
	UpdatedAt     time.Time        `json:"updatedAt"`
	Selection     domain.Selection `json:"-"`
	Evaluation    Evaluation       `json:"-"`
}

// FormDeps wires a form session.
type FormDeps struct {
	Catalog *catalog.Catalog
	Now     func() time.Time
	Logger  Logger
}

// Form owns the selection state of one order form. Every mutation re-evaluates rules and
// pricing before returning, so views never observe a half-applied change.
type Form struct {
	mu sync.Mutex

	id         string
	catalog    *catalog.Catalog
	service    *catalog.Service
	selection  domain.Selection
	quantity   int
	eval       Evaluation
	pricing    PriceBreakdown
	errMessage string
	failing    []string
	submitting bool
	updatedAt  time.Time

	now    func() time.Time
	logger Logger
}

// NewForm creates a form in its initial state: no service, no selections, quantity one.
func NewForm(id string, deps FormDeps) (*Form, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("order form: id is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("order form: catalog is required")
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	f := &Form{
		id:      id,
		catalog: deps.Catalog,
		now: func() time.Time {
			return now().UTC()
		},
		logger: logger,
	}
	f.resetLocked(context.Background())
	return f, nil
}

// ID returns the form session identifier.
func (f *Form) ID() string {
	return f.id
}

// SelectService activates a service block. Selections from the previous block are cleared
// and the new block's defaults are applied.
func (f *Form) SelectService(ctx context.Context, serviceID string) (FormView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.submitting {
		return f.viewLocked(), ErrSubmissionInProgress
	}
	svc, ok := f.catalog.Service(strings.TrimSpace(serviceID))
	if !ok {
		return f.viewLocked(), fmt.Errorf("%w: %q", ErrUnknownService, serviceID)
	}
	if f.service != nil && f.service.ID == svc.ID {
		return f.viewLocked(), nil
	}
	f.service = svc
	f.selection = domain.Selection{}
	f.failing = nil
	f.errMessage = ""
	if err := f.recomputeLocked(ctx); err != nil {
		return f.viewLocked(), err
	}
	return f.viewLocked(), nil
}

// Select applies a radio choice within a cluster of the active block.
func (f *Form) Select(ctx context.Context, group, value string) (FormView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.submitting {
		return f.viewLocked(), ErrSubmissionInProgress
	}
	if f.service == nil {
		return f.viewLocked(), ErrNoActiveService
	}
	key := catalog.CanonicalKey(group)
	if key == "" || strings.TrimSpace(value) == "" {
		return f.viewLocked(), fmt.Errorf("%w: group and value are required", ErrFormInvalidInput)
	}
	cluster, ok := f.eval.Cluster(key)
	if !ok {
		return f.viewLocked(), fmt.Errorf("%w: group %q", ErrUnknownOption, group)
	}
	state, ok := cluster.Option(value)
	if !ok {
		return f.viewLocked(), fmt.Errorf("%w: %q in group %q", ErrUnknownOption, value, group)
	}
	if !cluster.Visible || !state.Visible || state.Disabled {
		return f.viewLocked(), fmt.Errorf("%w: %q in group %q", ErrOptionUnavailable, value, group)
	}

	f.errMessage = ""
	f.failing = removeKey(f.failing, key)
	if state.Forced {
		return f.viewLocked(), nil
	}
	f.selection[key] = domain.Choice{Value: state.Value, Origin: domain.OriginUser}
	if err := f.recomputeLocked(ctx); err != nil {
		return f.viewLocked(), err
	}
	return f.viewLocked(), nil
}

// SetQuantity updates the line quantity.
func (f *Form) SetQuantity(ctx context.Context, quantity int) (FormView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.submitting {
		return f.viewLocked(), ErrSubmissionInProgress
	}
	if quantity < 1 {
		return f.viewLocked(), fmt.Errorf("%w: quantity must be at least 1", ErrInvalidQuantity)
	}
	if limit := f.catalog.MaxQuantity; limit > 0 && quantity > limit {
		return f.viewLocked(), fmt.Errorf("%w: quantity must be at most %d", ErrInvalidQuantity, limit)
	}
	previous := f.quantity
	f.quantity = quantity
	f.errMessage = ""
	if err := f.recomputeLocked(ctx); err != nil {
		f.quantity = previous
		_ = f.recomputeLocked(ctx)
		return f.viewLocked(), err
	}
	return f.viewLocked(), nil
}

// View returns the current snapshot.
func (f *Form) View() FormView {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.viewLocked()
}

// Reset returns the form to its initial state. It is rejected while a submission is in flight.
func (f *Form) Reset(ctx context.Context) (FormView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitting {
		return f.viewLocked(), ErrSubmissionInProgress
	}
	f.resetLocked(ctx)
	return f.viewLocked(), nil
}

// BeginSubmit marks the form as submitting. A second call before EndSubmit fails with
// ErrSubmissionInProgress.
func (f *Form) BeginSubmit() (FormView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitting {
		return f.viewLocked(), ErrSubmissionInProgress
	}
	f.submitting = true
	f.touchLocked()
	return f.viewLocked(), nil
}

// EndSubmit clears the in-flight flag and returns the settled view.
func (f *Form) EndSubmit() FormView {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitting = false
	f.touchLocked()
	return f.viewLocked()
}

// SetError replaces the inline error and marks the failing clusters.
func (f *Form) SetError(message string, failing []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errMessage = strings.TrimSpace(message)
	f.failing = append([]string(nil), failing...)
	f.touchLocked()
}

// ClearError empties the inline error slot.
func (f *Form) ClearError() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errMessage = ""
	f.failing = nil
	f.touchLocked()
}

// UpdatedAt reports when the form last changed.
func (f *Form) UpdatedAt() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updatedAt
}

// resetAfterSubmit clears selections while the in-flight flag is held by the submitter.
func (f *Form) resetAfterSubmit(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetLocked(ctx)
}

// resetLocked leaves the in-flight flag alone; only BeginSubmit and EndSubmit change it.
func (f *Form) resetLocked(ctx context.Context) {
	f.service = nil
	f.selection = domain.Selection{}
	f.quantity = 1
	f.errMessage = ""
	f.failing = nil
	_ = f.recomputeLocked(ctx)
}

func (f *Form) recomputeLocked(ctx context.Context) error {
	var base int64
	if f.service != nil {
		base = f.service.BasePrice
	}
	eval := EvaluateRules(f.service, f.selection)
	if !eval.Converged {
		f.logger(ctx, "rules_not_converged", map[string]any{
			"formId":    f.id,
			"serviceId": eval.ServiceID,
			"passes":    eval.Passes,
		})
	}
	pricing, err := CalculatePrice(base, eval, f.quantity, f.catalog.Symbol)
	if err != nil {
		return err
	}
	if pricing.Clamped {
		f.logger(ctx, "pricing_total_clamped", map[string]any{
			"formId":       f.id,
			"serviceId":    eval.ServiceID,
			"basePrice":    base,
			"optionsTotal": pricing.OptionsTotal,
		})
	}
	f.eval = eval
	f.selection = eval.Selection.Clone()
	f.pricing = pricing
	f.touchLocked()
	return nil
}

func (f *Form) touchLocked() {
	f.updatedAt = f.now()
}

func (f *Form) viewLocked() FormView {
	view := FormView{
		ID:            f.id,
		Quantity:      f.quantity,
		MaxQuantity:   f.catalog.MaxQuantity,
		Groups:        f.eval.Groups,
		Pricing:       f.pricing,
		ErrorMessage:  f.errMessage,
		FailingGroups: append([]string(nil), f.failing...),
		Submitting:    f.submitting,
		UpdatedAt:     f.updatedAt,
		Selection:     f.selection.Clone(),
		Evaluation:    f.eval,
	}
	if view.Groups == nil {
		view.Groups = []GroupState{}
	}
	if f.service != nil {
		view.ServiceID = f.service.ID
		view.ServiceTitle = f.service.Title
	}
	return view
}

func removeKey(keys []string, key string) []string {
	out := keys[:0]
	for _, k := range keys {
		if k != key {
			out = append(out, k)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

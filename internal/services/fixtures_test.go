package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tayteboss/bfl/internal/catalog"
	"github.com/tayteboss/bfl/internal/domain"
)

const testCatalogYAML = `
symbol: "$"
price_ceiling: 2000
max_quantity: 10
return_shipping:
  variant_id: 9001
  trigger_group: Negatives Shipped Back
  trigger_value: "Yes"
services:
  - id: develop-scan
    title: Develop & Scan
    base_price: 21.00
    groups:
      - name: Film Development Format
        options:
          - {value: 35mm, static_default: true}
          - {value: 120mm}
          - {value: 4x5 Sheet, price: 4.00}
      - name: Scan Resolution
        options:
          - {value: Standard, sentinel: true, static_default: true}
          - value: High
            price: 5.00
            price_overrides:
              Film Development Format: {120mm: 2.00}
          - value: Ultra
            price: 12.00
            show_if: {film_development_format: [35mm, 120mm]}
      - name: Add Ons
        sub_groups:
          - name: Push Pull
            options:
              - {value: None, sentinel: true, static_default: true}
              - {value: Push +1, price: 3.00}
          - name: Negatives Shipped Back
            options:
              - {value: "No", sentinel: true, static_default: true}
              - {value: "Yes"}
      - name: Sleeving
        options:
          - {value: None, sentinel: true, static_default: true}
          - value: Sleeved
            price: 1.50
            default_if: {Film Development Format: [4x5 Sheet]}
          - value: Mystery
            price: 9.00
            show_if: {Removed Group: []}
      - name: Rush
        required: false
        show_if: {scan-resolution: [Ultra]}
        options:
          - {value: Same Day, price: 10.00}
  - id: develop-only
    title: Develop Only
    base_price: 15.00
    groups:
      - name: Film Development Format
        options:
          - {value: 35mm, static_default: true}
          - {value: 120mm, price: 1.00}
carriers:
  - name: carrier-a
    handle: carrier-a
    variants:
      - {id: 101, price: 1500}
      - {id: 102, price: 2100}
      - {id: 103, price: 2300}
      - {id: 106, price: 2600}
      - {id: 104, price: 2650}
      - {id: 105, price: 5000}
  - name: carrier-b
    handle: carrier-b
    variants:
      - {id: 201, price: 5001}
      - {id: 202, price: 10000}
`

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.Parse([]byte(testCatalogYAML))
	if err != nil {
		t.Fatalf("catalog.Parse error: %v", err)
	}
	return cat
}

func testService(t *testing.T, id string) *catalog.Service {
	t.Helper()
	svc, ok := testCatalog(t).Service(id)
	if !ok {
		t.Fatalf("service %q missing from fixture", id)
	}
	return svc
}

var fixedNow = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func newTestForm(t *testing.T, cat *catalog.Catalog) *Form {
	t.Helper()
	form, err := NewForm("form_test", FormDeps{Catalog: cat, Now: func() time.Time { return fixedNow }})
	if err != nil {
		t.Fatalf("NewForm error: %v", err)
	}
	return form
}

func mustSelect(t *testing.T, form *Form, group, value string) FormView {
	t.Helper()
	view, err := form.Select(context.Background(), group, value)
	if err != nil {
		t.Fatalf("Select(%q, %q) error: %v", group, value, err)
	}
	return view
}

func mustService(t *testing.T, form *Form, id string) FormView {
	t.Helper()
	view, err := form.SelectService(context.Background(), id)
	if err != nil {
		t.Fatalf("SelectService(%q) error: %v", id, err)
	}
	return view
}

type fakeCart struct {
	mu        sync.Mutex
	cart      domain.Cart
	cartErr   error
	addErr    error
	addResp   domain.CartAddResponse
	adds      []domain.CartAddRequest
	updates   []map[string]int
	cartCalls int
	onAdd     func(req domain.CartAddRequest)
}

func (f *fakeCart) AddItems(_ context.Context, req domain.CartAddRequest) (domain.CartAddResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adds = append(f.adds, req)
	if f.addErr != nil {
		return domain.CartAddResponse{}, f.addErr
	}
	if f.onAdd != nil {
		f.onAdd(req)
	}
	return f.addResp, nil
}

func (f *fakeCart) Cart(context.Context) (domain.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cartCalls++
	if f.cartErr != nil {
		return domain.Cart{}, f.cartErr
	}
	return f.cart, nil
}

func (f *fakeCart) Update(_ context.Context, updates map[string]int) (domain.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, updates)
	var kept []domain.CartLine
	for _, line := range f.cart.Items {
		if qty, ok := updates[line.Key]; ok {
			if qty == 0 {
				continue
			}
			line.Quantity = qty
		}
		kept = append(kept, line)
	}
	f.cart.Items = kept
	return f.cart, nil
}

type fakeEvents struct {
	mu      sync.Mutex
	updated []domain.CartUpdatedEvent
	errors  []domain.CartErrorEvent
}

func (f *fakeEvents) PublishCartUpdated(_ context.Context, evt domain.CartUpdatedEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated = append(f.updated, evt)
}

func (f *fakeEvents) PublishCartError(_ context.Context, evt domain.CartErrorEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, evt)
}

type fakeRenderer struct {
	rendered []domain.CartAddResponse
}

func (f *fakeRenderer) RenderContents(_ context.Context, resp domain.CartAddResponse) error {
	f.rendered = append(f.rendered, resp)
	return nil
}

type fakePoolSource struct {
	mu    sync.Mutex
	pools []domain.Pool
	err   error
	calls int
	delay time.Duration
}

func (f *fakePoolSource) RefreshPools(context.Context, []domain.Pool) ([]domain.Pool, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.pools, nil
}

type fakeRecorder struct {
	mu          sync.Mutex
	resolutions []string
	submissions []string
	guard       []string
}

func (f *fakeRecorder) ObserveResolution(outcome string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolutions = append(f.resolutions, outcome)
}

func (f *fakeRecorder) ObserveSubmission(outcome string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submissions = append(f.submissions, outcome)
}

func (f *fakeRecorder) ObserveGuardAction(action string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.guard = append(f.guard, action)
}

type backendError struct {
	message string
}

func (e backendError) Error() string       { return "backend rejected: " + e.message }
func (e backendError) UserMessage() string { return e.message }

var errNetwork = errors.New("dial tcp: connection refused")

type logEntry struct {
	event  string
	fields map[string]any
}

type captureLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (c *captureLogger) log(_ context.Context, event string, fields map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, logEntry{event: event, fields: fields})
}

func (c *captureLogger) has(event string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if e.event == event {
			return true
		}
	}
	return false
}

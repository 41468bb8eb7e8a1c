package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tayteboss/bfl/internal/catalog"
	"github.com/tayteboss/bfl/internal/commerce"
	"github.com/tayteboss/bfl/internal/domain"
	"github.com/tayteboss/bfl/internal/platform/sessions"
	"github.com/tayteboss/bfl/internal/services"
	"github.com/tayteboss/bfl/internal/testutil"
)

const handlerCatalogYAML = `
symbol: "$"
price_ceiling: 2000
max_quantity: 10
services:
  - id: develop-only
    title: Develop Only
    description: "Push processing <script>alert(1)</script> available."
    base_price: 15.00
    groups:
      - name: Film Development Format
        options:
          - {value: 35mm, static_default: true}
          - {value: 120mm, price: 1.00}
      - name: Scan Resolution
        options:
          - {value: Standard}
          - {value: High, price: 5.00}
carriers:
  - name: carrier-a
    handle: carrier-a
    variants:
      - {id: 101, price: 1500}
`

var fixedNow = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

type fakeSubmitter struct {
	calls  atomic.Int32
	result services.SubmitResult
	err    error
	token  string
}

func (f *fakeSubmitter) Submit(ctx context.Context, form *services.Form) (services.SubmitResult, error) {
	f.calls.Add(1)
	f.token = commerce.CartToken(ctx)
	if f.err != nil {
		return services.SubmitResult{}, f.err
	}
	res := f.result
	res.View = form.View()
	return res, nil
}

type formsFixture struct {
	router    http.Handler
	store     *sessions.Store[*services.Form]
	submitter *fakeSubmitter
	active    atomic.Int64
}

func newFormsFixture(t *testing.T) *formsFixture {
	t.Helper()

	cat, err := catalog.Parse([]byte(handlerCatalogYAML))
	require.NoError(t, err)

	fx := &formsFixture{
		store:     sessions.NewStore[*services.Form](time.Hour),
		submitter: &fakeSubmitter{},
	}
	var seq atomic.Int32
	forms, err := NewFormHandlers(FormHandlerDeps{
		Catalog:   cat,
		Store:     fx.store,
		Submitter: fx.submitter,
		Now:       func() time.Time { return fixedNow },
		NewID: func(time.Time) string {
			return "form-" + string(rune('a'+seq.Add(1)-1))
		},
		ActiveForms: func(n int) { fx.active.Store(int64(n)) },
	})
	require.NoError(t, err)

	fx.router = NewRouter(
		WithFormRoutes(forms.Routes()),
		WithCatalogRoutes(NewCatalogHandlers(cat, nil).Routes()),
	)
	return fx
}

func (fx *formsFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)
	return rec
}

func decodeView(t *testing.T, rec *httptest.ResponseRecorder) services.FormView {
	t.Helper()
	var view services.FormView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	return view
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload
}

func TestCreateFormAppliesServiceDefaults(t *testing.T) {
	fx := newFormsFixture(t)

	rec := fx.do(t, http.MethodPost, "/api/v1/forms", map[string]string{"serviceId": "develop-only"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "/api/v1/forms/form-a", rec.Header().Get("Location"))

	view := decodeView(t, rec)
	assert.Equal(t, "form-a", view.ID)
	assert.Equal(t, "develop-only", view.ServiceID)
	assert.Equal(t, 1, view.Quantity)
	assert.Equal(t, int64(1500), view.Pricing.PerUnit)
	assert.Equal(t, int64(1), fx.active.Load())
}

func TestCreateFormWithoutBody(t *testing.T) {
	fx := newFormsFixture(t)

	rec := fx.do(t, http.MethodPost, "/api/v1/forms", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	view := decodeView(t, rec)
	assert.Empty(t, view.ServiceID)
	assert.False(t, view.Pricing.SummaryVisible)
}

func TestCreateFormUnknownService(t *testing.T) {
	fx := newFormsFixture(t)

	rec := fx.do(t, http.MethodPost, "/api/v1/forms", map[string]string{"serviceId": "nope"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "unknown_service", decodeError(t, rec)["error"])
	assert.Zero(t, fx.store.Len())
}

func TestSelectionAndQuantityUpdatePricing(t *testing.T) {
	fx := newFormsFixture(t)
	require.Equal(t, http.StatusCreated, fx.do(t, http.MethodPost, "/api/v1/forms", map[string]string{"serviceId": "develop-only"}).Code)

	rec := fx.do(t, http.MethodPut, "/api/v1/forms/form-a/selections", map[string]string{"group": "Scan Resolution", "value": "High"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(2000), decodeView(t, rec).Pricing.PerUnit)

	rec = fx.do(t, http.MethodPut, "/api/v1/forms/form-a/quantity", map[string]int{"quantity": 3})
	require.Equal(t, http.StatusOK, rec.Code)
	view := decodeView(t, rec)
	assert.Equal(t, 3, view.Quantity)
	assert.Equal(t, int64(6000), view.Pricing.GrandTotal)

	rec = fx.do(t, http.MethodGet, "/api/v1/forms/form-a", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(6000), decodeView(t, rec).Pricing.GrandTotal)
}

func TestFormErrorsMapToStatusCodes(t *testing.T) {
	fx := newFormsFixture(t)
	require.Equal(t, http.StatusCreated, fx.do(t, http.MethodPost, "/api/v1/forms", map[string]string{"serviceId": "develop-only"}).Code)

	tests := []struct {
		name   string
		path   string
		body   any
		status int
		code   string
	}{
		{"unknown option", "/api/v1/forms/form-a/selections", map[string]string{"group": "Scan Resolution", "value": "Ultra"}, http.StatusBadRequest, "unknown_option"},
		{"unknown group", "/api/v1/forms/form-a/selections", map[string]string{"group": "Rush", "value": "Yes"}, http.StatusBadRequest, "unknown_option"},
		{"quantity zero", "/api/v1/forms/form-a/quantity", map[string]int{"quantity": 0}, http.StatusBadRequest, "invalid_quantity"},
		{"quantity above max", "/api/v1/forms/form-a/quantity", map[string]int{"quantity": 11}, http.StatusBadRequest, "invalid_quantity"},
		{"empty body", "/api/v1/forms/form-a/service", nil, http.StatusBadRequest, "invalid_request"},
		{"unknown form", "/api/v1/forms/missing/quantity", map[string]int{"quantity": 2}, http.StatusNotFound, "form_not_found"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := fx.do(t, http.MethodPut, tc.path, tc.body)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			assert.Equal(t, tc.code, decodeError(t, rec)["error"])
		})
	}
}

func TestSelectWithoutServiceConflicts(t *testing.T) {
	fx := newFormsFixture(t)
	require.Equal(t, http.StatusCreated, fx.do(t, http.MethodPost, "/api/v1/forms", nil).Code)

	rec := fx.do(t, http.MethodPut, "/api/v1/forms/form-a/selections", map[string]string{"group": "Scan Resolution", "value": "High"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "no_active_service", decodeError(t, rec)["error"])
}

func TestOversizedBodyRejected(t *testing.T) {
	fx := newFormsFixture(t)
	require.Equal(t, http.StatusCreated, fx.do(t, http.MethodPost, "/api/v1/forms", nil).Code)

	huge := map[string]string{"serviceId": string(bytes.Repeat([]byte("x"), maxFormBodySize))}
	rec := fx.do(t, http.MethodPut, "/api/v1/forms/form-a/service", huge)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestSubmitSuccess(t *testing.T) {
	fx := newFormsFixture(t)
	fx.submitter.result = services.SubmitResult{
		Items:    []domain.LineItem{{ID: 101, Quantity: 2}},
		Variant:  domain.Variant{ID: 101, Price: 1500, Title: "$15.00"},
		Response: domain.CartAddResponse{Sections: map[string]string{"cart-drawer": "<div>cart</div>"}},
		Cart:     domain.Cart{ItemCount: 2},
	}
	require.Equal(t, http.StatusCreated, fx.do(t, http.MethodPost, "/api/v1/forms", map[string]string{"serviceId": "develop-only"}).Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/forms/form-a/submit", nil)
	req.AddCookie(&http.Cookie{Name: "cart", Value: "c-77"})
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp submitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(101), resp.VariantID)
	assert.Equal(t, 2, resp.Quantity)
	assert.Equal(t, 2, resp.ItemCount)
	assert.Equal(t, "<div>cart</div>", resp.Sections["cart-drawer"])
	assert.Equal(t, "form-a", resp.Form.ID)
	assert.Equal(t, "c-77", fx.submitter.token)
}

func TestSubmitErrorKinds(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
		check  func(t *testing.T, payload map[string]any)
	}{
		{
			name: "validation",
			err: &services.SubmitError{
				Kind:    services.SubmitErrorValidation,
				Message: "Please complete the highlighted options before adding to cart.",
				Validation: &services.ValidationError{
					Groups:       []string{"scan-resolution"},
					FocusGroup:   "scan-resolution",
					FocusInput:   "scan-resolution-standard",
					ScrollOffset: 100,
				},
			},
			status: http.StatusUnprocessableEntity,
			code:   "incomplete_selection",
			check: func(t *testing.T, payload map[string]any) {
				assert.Equal(t, []any{"scan-resolution"}, payload["failingGroups"])
				assert.Equal(t, "scan-resolution-standard", payload["focusInput"])
				assert.EqualValues(t, 100, payload["scrollOffset"])
			},
		},
		{
			name:   "pricing",
			err:    &services.SubmitError{Kind: services.SubmitErrorPricing, Message: "Please contact us."},
			status: http.StatusUnprocessableEntity,
			code:   "pricing_unavailable",
			check: func(t *testing.T, payload map[string]any) {
				assert.Equal(t, true, payload["support"])
				assert.Equal(t, "Please contact us.", payload["message"])
			},
		},
		{
			name:   "transient",
			err:    &services.SubmitError{Kind: services.SubmitErrorTransient, Message: "Sold out", Err: errors.New("422")},
			status: http.StatusBadGateway,
			code:   "cart_unavailable",
		},
		{
			name:   "busy",
			err:    services.ErrSubmissionInProgress,
			status: http.StatusConflict,
			code:   "submission_in_progress",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fx := newFormsFixture(t)
			fx.submitter.err = tc.err
			require.Equal(t, http.StatusCreated, fx.do(t, http.MethodPost, "/api/v1/forms", map[string]string{"serviceId": "develop-only"}).Code)

			rec := fx.do(t, http.MethodPost, "/api/v1/forms/form-a/submit", nil)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			payload := decodeError(t, rec)
			assert.Equal(t, tc.code, payload["error"])
			assert.Contains(t, payload, "form")
			if tc.check != nil {
				tc.check(t, payload)
			}
		})
	}
}

func TestSummaryFragment(t *testing.T) {
	fx := newFormsFixture(t)
	require.Equal(t, http.StatusCreated, fx.do(t, http.MethodPost, "/api/v1/forms", map[string]string{"serviceId": "develop-only"}).Code)
	require.Equal(t, http.StatusOK, fx.do(t, http.MethodPut, "/api/v1/forms/form-a/selections", map[string]string{"group": "Film Development Format", "value": "120mm"}).Code)
	require.Equal(t, http.StatusOK, fx.do(t, http.MethodPut, "/api/v1/forms/form-a/quantity", map[string]int{"quantity": 2}).Code)

	rec := fx.do(t, http.MethodGet, "/api/v1/forms/form-a/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")

	doc := testutil.ParseHTML(t, rec.Body.Bytes())
	section := doc.Find("section.order-summary")
	require.Equal(t, 1, section.Length())
	_, hidden := section.Attr("hidden")
	assert.False(t, hidden)
	assert.Equal(t, []string{"120mm"}, testutil.Texts(doc, ".order-summary__option"))
	assert.Equal(t, "$16.00", doc.Find(".order-summary__per-unit").Text())
	assert.Equal(t, "$32.00", doc.Find(".order-summary__total").Text())
}

func TestSummaryHiddenWithoutService(t *testing.T) {
	fx := newFormsFixture(t)
	require.Equal(t, http.StatusCreated, fx.do(t, http.MethodPost, "/api/v1/forms", nil).Code)

	rec := fx.do(t, http.MethodGet, "/api/v1/forms/form-a/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	doc := testutil.ParseHTML(t, rec.Body.Bytes())
	_, hidden := doc.Find("section.order-summary").Attr("hidden")
	assert.True(t, hidden)
	assert.Zero(t, doc.Find(".order-summary__line").Length())
}

func TestResetAndDelete(t *testing.T) {
	fx := newFormsFixture(t)
	require.Equal(t, http.StatusCreated, fx.do(t, http.MethodPost, "/api/v1/forms", map[string]string{"serviceId": "develop-only"}).Code)

	rec := fx.do(t, http.MethodPost, "/api/v1/forms/form-a/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeView(t, rec).ServiceID)

	rec = fx.do(t, http.MethodDelete, "/api/v1/forms/form-a", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, fx.active.Load())

	rec = fx.do(t, http.MethodGet, "/api/v1/forms/form-a", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResetRejectedDuringSubmission(t *testing.T) {
	fx := newFormsFixture(t)
	require.Equal(t, http.StatusCreated, fx.do(t, http.MethodPost, "/api/v1/forms", map[string]string{"serviceId": "develop-only"}).Code)

	form, err := fx.store.Get(context.Background(), "form-a", fixedNow)
	require.NoError(t, err)
	_, err = form.BeginSubmit()
	require.NoError(t, err)

	rec := fx.do(t, http.MethodPost, "/api/v1/forms/form-a/reset", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "submission_in_progress", decodeError(t, rec)["error"])

	view := form.View()
	assert.True(t, view.Submitting)
	assert.Equal(t, "develop-only", view.ServiceID)
	_, err = form.BeginSubmit()
	assert.ErrorIs(t, err, services.ErrSubmissionInProgress)
}

func TestListServicesSanitizesDescriptions(t *testing.T) {
	fx := newFormsFixture(t)

	rec := fx.do(t, http.MethodGet, "/api/v1/catalog/services", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp serviceListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Services, 1)
	svc := resp.Services[0]
	assert.Equal(t, "develop-only", svc.ID)
	assert.Equal(t, "$15.00", svc.BasePriceDisplay)
	assert.Equal(t, 2, svc.Groups)
	assert.Contains(t, svc.DescriptionHTML, "Push processing")
	assert.NotContains(t, svc.DescriptionHTML, "<script")
	assert.Equal(t, 10, resp.MaxQuantity)
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tayteboss/bfl/internal/catalog"
	"github.com/tayteboss/bfl/internal/platform/httpx"
	"github.com/tayteboss/bfl/internal/platform/requestctx"
	"github.com/tayteboss/bfl/internal/platform/sessions"
	"github.com/tayteboss/bfl/internal/services"
)

const maxFormBodySize = 8 * 1024

var (
	errEmptyBody    = errors.New("request body is empty")
	errBodyTooLarge = errors.New("request body too large")
)

// FormStore keeps form sessions between requests.
type FormStore interface {
	Put(ctx context.Context, id string, form *services.Form, now time.Time) error
	Get(ctx context.Context, id string, now time.Time) (*services.Form, error)
	Delete(ctx context.Context, id string) error
	Len() int
}

// FormSubmitter turns a completed form into a cart add.
type FormSubmitter interface {
	Submit(ctx context.Context, form *services.Form) (services.SubmitResult, error)
}

// FormHandlerDeps wires FormHandlers.
type FormHandlerDeps struct {
	Catalog     *catalog.Catalog
	Store       FormStore
	Submitter   FormSubmitter
	Now         func() time.Time
	NewID       func(time.Time) string
	Logger      services.Logger
	ActiveForms func(int)
}

// FormHandlers exposes the order form session over HTTP.
type FormHandlers struct {
	catalog     *catalog.Catalog
	store       FormStore
	submitter   FormSubmitter
	now         func() time.Time
	newID       func(time.Time) string
	logger      services.Logger
	activeForms func(int)
}

// NewFormHandlers validates dependencies and constructs FormHandlers.
func NewFormHandlers(deps FormHandlerDeps) (*FormHandlers, error) {
	if deps.Catalog == nil {
		return nil, errors.New("form handlers: catalog is required")
	}
	if deps.Store == nil {
		return nil, errors.New("form handlers: store is required")
	}
	if deps.Submitter == nil {
		return nil, errors.New("form handlers: submitter is required")
	}
	h := &FormHandlers{
		catalog:     deps.Catalog,
		store:       deps.Store,
		submitter:   deps.Submitter,
		now:         deps.Now,
		newID:       deps.NewID,
		logger:      deps.Logger,
		activeForms: deps.ActiveForms,
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.newID == nil {
		h.newID = sessions.NewID
	}
	if h.logger == nil {
		h.logger = func(context.Context, string, map[string]any) {}
	}
	if h.activeForms == nil {
		h.activeForms = func(int) {}
	}
	return h, nil
}

// Routes returns the registrar for /forms.
func (h *FormHandlers) Routes() RouteRegistrar {
	return func(r chi.Router) {
		r.Post("/", h.createForm)
		r.Route("/{formId}", func(fr chi.Router) {
			fr.Use(h.loadForm)
			fr.Get("/", h.getForm)
			fr.Delete("/", h.deleteForm)
			fr.Put("/service", h.selectService)
			fr.Put("/selections", h.selectOption)
			fr.Put("/quantity", h.setQuantity)
			fr.Post("/reset", h.resetForm)
			fr.Post("/submit", h.submitForm)
			fr.Get("/summary", h.summary)
		})
	}
}

type formCtxKey struct{}

func formFromContext(ctx context.Context) *services.Form {
	form, _ := ctx.Value(formCtxKey{}).(*services.Form)
	return form
}

func (h *FormHandlers) loadForm(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id := strings.TrimSpace(chi.URLParam(r, "formId"))
		form, err := h.store.Get(ctx, id, h.now())
		if err != nil {
			if errors.Is(err, sessions.ErrNotFound) || errors.Is(err, sessions.ErrInvalidID) {
				httpx.WriteError(ctx, w, httpx.NewError("form_not_found", "order form not found or expired", http.StatusNotFound))
				return
			}
			httpx.WriteError(ctx, w, httpx.NewError("form_store_error", "unable to load order form", http.StatusInternalServerError))
			return
		}
		ctx = requestctx.WithFormID(ctx, form.ID())
		ctx = context.WithValue(ctx, formCtxKey{}, form)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type createFormRequest struct {
	ServiceID string `json:"serviceId"`
}

func (h *FormHandlers) createForm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createFormRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	now := h.now()
	form, err := services.NewForm(h.newID(now), services.FormDeps{
		Catalog: h.catalog,
		Now:     h.now,
		Logger:  h.logger,
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("form_create_failed", "unable to create order form", http.StatusInternalServerError))
		return
	}
	ctx = requestctx.WithFormID(ctx, form.ID())

	view := form.View()
	if id := strings.TrimSpace(req.ServiceID); id != "" {
		view, err = form.SelectService(ctx, id)
		if err != nil {
			writeFormError(ctx, w, view, err)
			return
		}
	}
	if err := h.store.Put(ctx, form.ID(), form, now); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("form_store_error", "unable to save order form", http.StatusInternalServerError))
		return
	}
	h.activeForms(h.store.Len())
	h.logger(ctx, "form_created", map[string]any{"formId": form.ID(), "serviceId": view.ServiceID})

	w.Header().Set("Location", fmt.Sprintf("%s/forms/%s", defaultAPIPrefix, form.ID()))
	httpx.WriteJSON(w, http.StatusCreated, view)
}

func (h *FormHandlers) getForm(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, formFromContext(r.Context()).View())
}

func (h *FormHandlers) deleteForm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	form := formFromContext(ctx)
	if err := h.store.Delete(ctx, form.ID()); err != nil && !errors.Is(err, sessions.ErrNotFound) {
		httpx.WriteError(ctx, w, httpx.NewError("form_store_error", "unable to delete order form", http.StatusInternalServerError))
		return
	}
	h.activeForms(h.store.Len())
	w.WriteHeader(http.StatusNoContent)
}

type selectServiceRequest struct {
	ServiceID string `json:"serviceId"`
}

func (h *FormHandlers) selectService(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req selectServiceRequest
	if err := decodeBody(r, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	form := formFromContext(ctx)
	view, err := form.SelectService(ctx, req.ServiceID)
	if err != nil {
		writeFormError(ctx, w, view, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, view)
}

type selectOptionRequest struct {
	Group string `json:"group"`
	Value string `json:"value"`
}

func (h *FormHandlers) selectOption(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req selectOptionRequest
	if err := decodeBody(r, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	form := formFromContext(ctx)
	view, err := form.Select(ctx, req.Group, req.Value)
	if err != nil {
		writeFormError(ctx, w, view, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, view)
}

type quantityRequest struct {
	Quantity int `json:"quantity"`
}

func (h *FormHandlers) setQuantity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req quantityRequest
	if err := decodeBody(r, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	form := formFromContext(ctx)
	view, err := form.SetQuantity(ctx, req.Quantity)
	if err != nil {
		writeFormError(ctx, w, view, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, view)
}

func (h *FormHandlers) resetForm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	view, err := formFromContext(ctx).Reset(ctx)
	if err != nil {
		writeFormError(ctx, w, view, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, view)
}

type submitResponse struct {
	Form         services.FormView `json:"form"`
	VariantID    int64             `json:"variantId"`
	VariantTitle string            `json:"variantTitle,omitempty"`
	Quantity     int               `json:"quantity"`
	ItemCount    int               `json:"itemCount"`
	Sections     map[string]string `json:"sections,omitempty"`
}

func (h *FormHandlers) submitForm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	form := formFromContext(ctx)

	result, err := h.submitter.Submit(ctx, form)
	if err != nil {
		writeSubmitError(ctx, w, form.View(), err)
		return
	}
	quantity := 0
	if len(result.Items) > 0 {
		quantity = result.Items[0].Quantity
	}
	httpx.WriteJSON(w, http.StatusOK, submitResponse{
		Form:         result.View,
		VariantID:    result.Variant.ID,
		VariantTitle: result.Variant.Title,
		Quantity:     quantity,
		ItemCount:    result.Cart.ItemCount,
		Sections:     result.Response.Sections,
	})
}

func (h *FormHandlers) summary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := renderSummary(formFromContext(ctx).View())
	if err != nil {
		h.logger(ctx, "summary_render_failed", map[string]any{"error": err.Error()})
		httpx.WriteError(ctx, w, httpx.NewError("summary_render_failed", "unable to render order summary", http.StatusInternalServerError))
		return
	}
	writeHTML(w, http.StatusOK, body)
}

func writeFormError(ctx context.Context, w http.ResponseWriter, view services.FormView, err error) {
	details := map[string]any{"form": view}
	switch {
	case errors.Is(err, services.ErrSubmissionInProgress):
		httpx.WriteError(ctx, w, httpx.NewError("submission_in_progress", "a submission for this form is already in progress", http.StatusConflict).WithDetails(details))
	case errors.Is(err, services.ErrUnknownService):
		httpx.WriteError(ctx, w, httpx.NewError("unknown_service", err.Error(), http.StatusBadRequest).WithDetails(details))
	case errors.Is(err, services.ErrUnknownOption):
		httpx.WriteError(ctx, w, httpx.NewError("unknown_option", err.Error(), http.StatusBadRequest).WithDetails(details))
	case errors.Is(err, services.ErrOptionUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("option_unavailable", err.Error(), http.StatusUnprocessableEntity).WithDetails(details))
	case errors.Is(err, services.ErrInvalidQuantity):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_quantity", err.Error(), http.StatusBadRequest).WithDetails(details))
	case errors.Is(err, services.ErrNoActiveService):
		httpx.WriteError(ctx, w, httpx.NewError("no_active_service", "select a service first", http.StatusConflict).WithDetails(details))
	case errors.Is(err, services.ErrFormInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest).WithDetails(details))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("form_error", "unable to update order form", http.StatusInternalServerError))
	}
}

func writeSubmitError(ctx context.Context, w http.ResponseWriter, view services.FormView, err error) {
	if errors.Is(err, services.ErrSubmissionInProgress) {
		writeFormError(ctx, w, view, err)
		return
	}
	var submitErr *services.SubmitError
	if !errors.As(err, &submitErr) {
		writeFormError(ctx, w, view, err)
		return
	}
	details := map[string]any{"form": view}
	switch submitErr.Kind {
	case services.SubmitErrorValidation:
		if v := submitErr.Validation; v != nil {
			details["failingGroups"] = v.Groups
			details["focusGroup"] = v.FocusGroup
			details["focusInput"] = v.FocusInput
			details["scrollOffset"] = v.ScrollOffset
		}
		httpx.WriteError(ctx, w, httpx.NewError("incomplete_selection", submitErr.Message, http.StatusUnprocessableEntity).WithDetails(details))
	case services.SubmitErrorPricing:
		details["support"] = true
		httpx.WriteError(ctx, w, httpx.NewError("pricing_unavailable", submitErr.Message, http.StatusUnprocessableEntity).WithDetails(details))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("cart_unavailable", submitErr.Message, http.StatusBadGateway).WithDetails(details))
	}
}

func decodeBody(r *http.Request, dst any) error {
	data, err := readLimitedBody(r, maxFormBodySize)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("invalid JSON payload: %w", err)
	}
	return nil
}

func decodeOptionalBody(r *http.Request, dst any) error {
	err := decodeBody(r, dst)
	if errors.Is(err, errEmptyBody) {
		return nil
	}
	return err
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = maxFormBodySize
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds limit", http.StatusRequestEntityTooLarge))
	case errors.Is(err, errEmptyBody):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

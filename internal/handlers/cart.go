package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tayteboss/bfl/internal/commerce"
	"github.com/tayteboss/bfl/internal/domain"
	"github.com/tayteboss/bfl/internal/platform/httpx"
	"github.com/tayteboss/bfl/internal/services"
)

const (
	cartCookieName  = "cart"
	cartTokenHeader = "X-Cart-Token"
)

// CartReconciler corrects the return-shipping line of the shopper's cart.
type CartReconciler interface {
	Reconcile(ctx context.Context) (services.GuardResult, error)
}

// CartHandlers exposes cart maintenance endpoints.
type CartHandlers struct {
	guard CartReconciler
}

// NewCartHandlers constructs cart handlers. A nil guard reports the endpoint as disabled.
func NewCartHandlers(guard CartReconciler) *CartHandlers {
	return &CartHandlers{guard: guard}
}

// Routes returns the registrar for /cart.
func (h *CartHandlers) Routes() RouteRegistrar {
	return func(r chi.Router) {
		r.Post("/reconcile", h.reconcile)
	}
}

type reconcileResponse struct {
	Action        services.GuardAction `json:"action"`
	NeedsShipping bool                 `json:"needsShipping"`
	Cart          domain.Cart          `json:"cart"`
}

func (h *CartHandlers) reconcile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.guard == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_guard_disabled", "return shipping guard is not enabled", http.StatusServiceUnavailable))
		return
	}
	result, err := h.guard.Reconcile(ctx)
	if err != nil {
		message := "unable to reconcile cart"
		var cartErr *commerce.CartError
		if errors.As(err, &cartErr) && cartErr.UserMessage() != "" {
			message = cartErr.UserMessage()
		}
		httpx.WriteError(ctx, w, httpx.NewError("cart_unavailable", message, http.StatusBadGateway))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, reconcileResponse{
		Action:        result.Action,
		NeedsShipping: result.NeedsShipping,
		Cart:          result.Cart,
	})
}

// cartTokenMiddleware forwards the shopper's cart cookie, or the X-Cart-Token header, to
// commerce calls made while serving the request.
func cartTokenMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(r.Header.Get(cartTokenHeader))
		if token == "" {
			if cookie, err := r.Cookie(cartCookieName); err == nil {
				token = strings.TrimSpace(cookie.Value)
			}
		}
		if token != "" {
			r = r.WithContext(commerce.WithCartToken(r.Context(), token))
		}
		next.ServeHTTP(w, r)
	})
}

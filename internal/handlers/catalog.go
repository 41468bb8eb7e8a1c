package handlers

import (
	"html/template"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tayteboss/bfl/internal/catalog"
	"github.com/tayteboss/bfl/internal/domain"
	"github.com/tayteboss/bfl/internal/platform/httpx"
)

// DescriptionRenderer turns catalog description markup into safe HTML.
type DescriptionRenderer interface {
	Render(src string) template.HTML
}

// CatalogHandlers lists the services the form can configure.
type CatalogHandlers struct {
	catalog      *catalog.Catalog
	descriptions DescriptionRenderer
}

// NewCatalogHandlers constructs catalog handlers. A nil renderer selects the default sanitizing renderer.
func NewCatalogHandlers(cat *catalog.Catalog, descriptions DescriptionRenderer) *CatalogHandlers {
	if descriptions == nil {
		descriptions = catalog.NewDescriptionRenderer()
	}
	return &CatalogHandlers{catalog: cat, descriptions: descriptions}
}

// Routes returns the registrar for /catalog.
func (h *CatalogHandlers) Routes() RouteRegistrar {
	return func(r chi.Router) {
		r.Get("/services", h.listServices)
	}
}

type serviceSummary struct {
	ID               string `json:"id"`
	Title            string `json:"title"`
	BasePrice        int64  `json:"basePrice"`
	BasePriceDisplay string `json:"basePriceDisplay"`
	DescriptionHTML  string `json:"descriptionHtml,omitempty"`
	Groups           int    `json:"groups"`
}

type serviceListResponse struct {
	Currency    string           `json:"currency"`
	MaxQuantity int              `json:"maxQuantity"`
	Services    []serviceSummary `json:"services"`
}

func (h *CatalogHandlers) listServices(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("catalog_unavailable", "catalog is not loaded", http.StatusServiceUnavailable))
		return
	}
	resp := serviceListResponse{
		Currency:    h.catalog.Currency,
		MaxQuantity: h.catalog.MaxQuantity,
		Services:    make([]serviceSummary, 0, len(h.catalog.Services)),
	}
	for _, svc := range h.catalog.Services {
		resp.Services = append(resp.Services, serviceSummary{
			ID:               svc.ID,
			Title:            svc.Title,
			BasePrice:        svc.BasePrice,
			BasePriceDisplay: domain.FormatMoney(svc.BasePrice, h.catalog.Symbol),
			DescriptionHTML:  string(h.descriptions.Render(svc.Description)),
			Groups:           len(svc.Groups),
		})
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

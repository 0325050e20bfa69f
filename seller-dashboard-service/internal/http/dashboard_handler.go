package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/fjod/commerce-pipeline/pkg/auth"
	"github.com/fjod/commerce-pipeline/pkg/httpapi"
	"github.com/fjod/commerce-pipeline/pkg/peer"
	"github.com/fjod/commerce-pipeline/seller-dashboard-service/internal/projection"
	"github.com/go-chi/chi/v5"
)

type ProductLister interface {
	ListSellerProducts(ctx context.Context, token string) ([]peer.Product, error)
}

type MetricsReader interface {
	Metrics(ctx context.Context, productIDs []string) (projection.Metrics, error)
}

type DashboardHandler struct {
	catalog ProductLister
	metrics MetricsReader
	log     *slog.Logger
}

func NewDashboardHandler(catalog ProductLister, metrics MetricsReader, log *slog.Logger) *DashboardHandler {
	return &DashboardHandler{catalog: catalog, metrics: metrics, log: log}
}

// Routes mounts under /api/seller/dashboard.
func (h *DashboardHandler) Routes(v *auth.Verifier) chi.Router {
	r := chi.NewRouter()
	r.Use(auth.Middleware(v, auth.RoleSeller))
	r.Get("/metrics", h.GetMetrics)
	return r
}

// GET /api/seller/dashboard/metrics
func (h *DashboardHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())

	products, err := h.catalog.ListSellerProducts(r.Context(), p.Token)
	if err != nil {
		if httpapi.RespondIfUpstream(w, err) {
			return
		}
		httpapi.RespondInternal(w, r, h.log, err)
		return
	}

	ids := make([]string, 0, len(products))
	for _, product := range products {
		ids = append(ids, product.ID)
	}

	m, err := h.metrics.Metrics(r.Context(), ids)
	if err != nil {
		httpapi.RespondInternal(w, r, h.log, err)
		return
	}
	httpapi.RespondJSON(w, http.StatusOK, m)
}

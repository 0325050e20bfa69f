package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/fjod/commerce-pipeline/orders-service/internal/domain"
	"github.com/fjod/commerce-pipeline/orders-service/internal/service"
	"github.com/fjod/commerce-pipeline/pkg/auth"
	"github.com/fjod/commerce-pipeline/pkg/httpapi"
	"github.com/go-chi/chi/v5"
)

type OrderWorkflow interface {
	CreateOrder(ctx context.Context, p auth.Principal, addr domain.Address) (*domain.Order, error)
	GetOrder(ctx context.Context, p auth.Principal, id string) (*domain.Order, error)
	CancelOrder(ctx context.Context, p auth.Principal, id string) (*domain.Order, error)
	UpdateShippingAddress(ctx context.Context, p auth.Principal, id string, addr domain.Address) (*domain.Order, error)
	ListMyOrders(ctx context.Context, p auth.Principal, page, limit int) (*service.OrderPage, error)
	SellerOrders(ctx context.Context, p auth.Principal) ([]service.SellerOrder, error)
}

type OrdersHandler struct {
	orders OrderWorkflow
	log    *slog.Logger
}

func NewOrdersHandler(orders OrderWorkflow, log *slog.Logger) *OrdersHandler {
	return &OrdersHandler{orders: orders, log: log}
}

// Routes mounts under /api/orders.
func (h *OrdersHandler) Routes(v *auth.Verifier) chi.Router {
	r := chi.NewRouter()
	user := auth.Middleware(v, auth.RoleUser)

	r.With(user).Post("/", h.CreateOrder)
	r.With(user).Get("/me", h.ListMyOrders)
	r.With(auth.Middleware(v, auth.RoleSeller)).Get("/seller", h.SellerOrders)
	r.With(user).Post("/{id}/cancel", h.CancelOrder)
	r.With(user).Patch("/{id}/address", h.UpdateAddress)
	r.With(auth.Middleware(v, auth.RoleUser, auth.RoleAdmin)).Get("/{id}", h.GetOrder)
	return r
}

type AddressDTO struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	Pincode string `json:"pincode"`
	Country string `json:"country"`
}

func (a AddressDTO) toDomain() domain.Address {
	return domain.Address{Street: a.Street, City: a.City, State: a.State, Zip: a.Pincode, Country: a.Country}
}

type AddressRequestDTO struct {
	ShippingAddress *AddressDTO `json:"shippingAddress"`
}

type OrderResponseDTO struct {
	Order *domain.Order `json:"order"`
}

type MetaDTO struct {
	Total int64 `json:"total"`
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
}

type OrderListResponseDTO struct {
	Orders []*domain.Order `json:"orders"`
	Meta   MetaDTO         `json:"meta"`
}

type SellerOrdersResponseDTO struct {
	Orders []service.SellerOrder `json:"orders"`
}

// POST /api/orders
func (h *OrdersHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())

	addr, ok := decodeAddress(w, r)
	if !ok {
		return
	}

	order, err := h.orders.CreateOrder(r.Context(), p, addr)
	if err != nil {
		h.handleError(w, r, err, "")
		return
	}
	httpapi.RespondJSON(w, http.StatusCreated, OrderResponseDTO{Order: order})
}

// GET /api/orders/me?page=&limit=
func (h *OrdersHandler) ListMyOrders(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	result, err := h.orders.ListMyOrders(r.Context(), p, page, limit)
	if err != nil {
		h.handleError(w, r, err, "")
		return
	}
	orders := result.Orders
	if orders == nil {
		orders = []*domain.Order{}
	}
	httpapi.RespondJSON(w, http.StatusOK, OrderListResponseDTO{
		Orders: orders,
		Meta:   MetaDTO{Total: result.Total, Page: result.Page, Limit: result.Limit},
	})
}

// GET /api/orders/seller
func (h *OrdersHandler) SellerOrders(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())

	orders, err := h.orders.SellerOrders(r.Context(), p)
	if err != nil {
		h.handleError(w, r, err, "")
		return
	}
	httpapi.RespondJSON(w, http.StatusOK, SellerOrdersResponseDTO{Orders: orders})
}

// GET /api/orders/{id}
func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())

	order, err := h.orders.GetOrder(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, r, err, "")
		return
	}
	httpapi.RespondJSON(w, http.StatusOK, OrderResponseDTO{Order: order})
}

// POST /api/orders/{id}/cancel
func (h *OrdersHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())

	order, err := h.orders.CancelOrder(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, r, err, "Order cannot be cancelled at this stage")
		return
	}
	httpapi.RespondJSON(w, http.StatusOK, OrderResponseDTO{Order: order})
}

// PATCH /api/orders/{id}/address
func (h *OrdersHandler) UpdateAddress(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())

	addr, ok := decodeAddress(w, r)
	if !ok {
		return
	}

	order, err := h.orders.UpdateShippingAddress(r.Context(), p, chi.URLParam(r, "id"), addr)
	if err != nil {
		h.handleError(w, r, err, "Order address cannot be updated at this stage")
		return
	}
	httpapi.RespondJSON(w, http.StatusOK, OrderResponseDTO{Order: order})
}

func decodeAddress(w http.ResponseWriter, r *http.Request) (domain.Address, bool) {
	var req AddressRequestDTO
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.RespondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return domain.Address{}, false
	}
	if req.ShippingAddress == nil {
		httpapi.RespondError(w, http.StatusBadRequest, "invalid_address", "shippingAddress is required")
		return domain.Address{}, false
	}
	addr := req.ShippingAddress.toDomain()
	if !addr.IsComplete() {
		httpapi.RespondError(w, http.StatusBadRequest, "invalid_address", service.ErrInvalidAddress.Error())
		return domain.Address{}, false
	}
	return addr, true
}

func (h *OrdersHandler) handleError(w http.ResponseWriter, r *http.Request, err error, conflictMsg string) {
	if httpapi.RespondIfUpstream(w, err) {
		return
	}

	var oos *service.OutOfStockError
	switch {
	case errors.As(err, &oos):
		httpapi.RespondError(w, http.StatusConflict, "out_of_stock", oos.Error())
	case errors.Is(err, service.ErrEmptyCart):
		httpapi.RespondError(w, http.StatusBadRequest, "empty_cart", err.Error())
	case errors.Is(err, service.ErrInvalidQuantity):
		httpapi.RespondError(w, http.StatusBadRequest, "invalid_quantity", err.Error())
	case errors.Is(err, service.ErrMixedCurrency):
		httpapi.RespondError(w, http.StatusBadRequest, "mixed_currency", err.Error())
	case errors.Is(err, service.ErrInvalidAddress):
		httpapi.RespondError(w, http.StatusBadRequest, "invalid_address", err.Error())
	case errors.Is(err, service.ErrOrderNotFound):
		httpapi.RespondError(w, http.StatusNotFound, "not_found", "Order not found")
	case errors.Is(err, service.ErrForbidden):
		httpapi.RespondError(w, http.StatusForbidden, "forbidden", "Forbidden: You do not have access to this order")
	case errors.Is(err, service.IllegalTransitionError):
		if conflictMsg == "" {
			conflictMsg = err.Error()
		}
		httpapi.RespondError(w, http.StatusConflict, "invalid_transition", conflictMsg)
	default:
		httpapi.RespondInternal(w, r, h.log, err)
	}
}

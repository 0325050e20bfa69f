package http

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fjod/commerce-pipeline/orders-service/internal/domain"
	"github.com/fjod/commerce-pipeline/orders-service/internal/service"
	"github.com/fjod/commerce-pipeline/pkg/auth"
	"github.com/fjod/commerce-pipeline/pkg/peer"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

const validBody = `{"shippingAddress":{"street":"1 Main","city":"Pune","state":"MH","pincode":"411001","country":"IN"}}`

func newRouter(wf OrderWorkflow) http.Handler {
	h := NewOrdersHandler(wf, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r := chi.NewRouter()
	r.Mount("/api/orders", h.Routes(auth.NewVerifier(testSecret)))
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string, p *auth.Principal) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if p != nil {
		token, err := auth.NewVerifier(testSecret).Sign(*p)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

var (
	user   = &auth.Principal{ID: "u1", Role: auth.RoleUser}
	admin  = &auth.Principal{ID: "a1", Role: auth.RoleAdmin}
	seller = &auth.Principal{ID: "s1", Role: auth.RoleSeller}
)

func TestCreateOrder_Created(t *testing.T) {
	wf := &MockWorkflow{Order: &domain.Order{ID: "o1", Status: domain.OrderStatusPending, TotalPrice: domain.Price{Amount: 200, Currency: "INR"}}}

	rec := do(t, newRouter(wf), http.MethodPost, "/api/orders/", validBody, user)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"o1"`)
	assert.Contains(t, rec.Body.String(), `"totalPrice":{"amount":200,"currency":"INR"}`)
	assert.Equal(t, "u1", wf.GotCaller.ID)
	assert.NotEmpty(t, wf.GotCaller.Token)
	assert.Equal(t, "411001", wf.GotAddress.Zip)
}

func TestCreateOrder_Validation(t *testing.T) {
	wf := &MockWorkflow{}
	r := newRouter(wf)

	rec := do(t, r, http.MethodPost, "/api/orders/", `{`, user)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, r, http.MethodPost, "/api/orders/", `{}`, user)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, r, http.MethodPost, "/api/orders/", `{"shippingAddress":{"city":"Pune"}}`, user)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_address")
}

func TestCreateOrder_Auth(t *testing.T) {
	r := newRouter(&MockWorkflow{})

	rec := do(t, r, http.MethodPost, "/api/orders/", validBody, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, r, http.MethodPost, "/api/orders/", validBody, seller)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCreateOrder_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"out of stock", fmt.Errorf("wrap: %w", &service.OutOfStockError{ProductID: "p1", Title: "Mug", Requested: 2, Available: 1}), http.StatusConflict, "out_of_stock"},
		{"empty cart", service.ErrEmptyCart, http.StatusBadRequest, "empty_cart"},
		{"mixed currency", service.ErrMixedCurrency, http.StatusBadRequest, "mixed_currency"},
		{"cart down", fmt.Errorf("failed to get cart: %w", &peer.UpstreamError{Service: peer.ServiceCart, Err: errors.New("refused")}), http.StatusBadGateway, "cart_unavailable"},
		{"catalog 404", &peer.UpstreamError{Service: peer.ServiceCatalog, Status: 404, Body: []byte(`{"message":"Product not found"}`)}, http.StatusNotFound, "catalog_error"},
		{"unexpected", errors.New("disk full"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, newRouter(&MockWorkflow{Err: tt.err}), http.MethodPost, "/api/orders/", validBody, user)

			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), `"code":"`+tt.code+`"`)
		})
	}
}

func TestListMyOrders(t *testing.T) {
	wf := &MockWorkflow{Page: &service.OrderPage{Total: 0, Page: 2, Limit: 5}}

	rec := do(t, newRouter(wf), http.MethodGet, "/api/orders/me?page=2&limit=5", "", user)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"orders":[],"meta":{"total":0,"page":2,"limit":5}}`, rec.Body.String())
	assert.Equal(t, 2, wf.GotPage)
	assert.Equal(t, 5, wf.GotLimit)
}

func TestSellerOrders_RequiresSeller(t *testing.T) {
	wf := &MockWorkflow{Seller: []service.SellerOrder{{ID: "o1", Status: domain.OrderStatusPending}}}
	r := newRouter(wf)

	rec := do(t, r, http.MethodGet, "/api/orders/seller", "", user)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, r, http.MethodGet, "/api/orders/seller", "", seller)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"o1"`)
}

func TestGetOrder(t *testing.T) {
	wf := &MockWorkflow{Order: &domain.Order{ID: "o1"}}
	r := newRouter(wf)

	rec := do(t, r, http.MethodGet, "/api/orders/o1", "", admin)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "o1", wf.GotID)

	wf.Err = service.ErrForbidden
	rec = do(t, r, http.MethodGet, "/api/orders/o1", "", user)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	wf.Err = service.ErrOrderNotFound
	rec = do(t, r, http.MethodGet, "/api/orders/o1", "", user)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelOrder(t *testing.T) {
	wf := &MockWorkflow{Order: &domain.Order{ID: "o1", Status: domain.OrderStatusCancelled}}
	r := newRouter(wf)

	rec := do(t, r, http.MethodPost, "/api/orders/o1/cancel", "", user)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"CANCELLED"`)

	wf.Err = service.IllegalTransitionError
	rec = do(t, r, http.MethodPost, "/api/orders/o1/cancel", "", user)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "Order cannot be cancelled at this stage")
}

func TestUpdateAddress(t *testing.T) {
	wf := &MockWorkflow{Order: &domain.Order{ID: "o1"}}
	r := newRouter(wf)

	rec := do(t, r, http.MethodPatch, "/api/orders/o1/address", validBody, user)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Pune", wf.GotAddress.City)

	rec = do(t, r, http.MethodPatch, "/api/orders/o1/address", `{}`, user)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	wf.Err = service.IllegalTransitionError
	rec = do(t, r, http.MethodPatch, "/api/orders/o1/address", validBody, user)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "Order address cannot be updated at this stage")
}

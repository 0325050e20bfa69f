package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fjod/commerce-pipeline/payment-service/internal/domain"
	"github.com/fjod/commerce-pipeline/payment-service/internal/service"
	"github.com/fjod/commerce-pipeline/pkg/auth"
	"github.com/fjod/commerce-pipeline/pkg/httpapi"
	"github.com/go-chi/chi/v5"
)

type PaymentWorkflow interface {
	CreatePayment(ctx context.Context, p auth.Principal, orderID string) (*domain.Payment, error)
	VerifyPayment(ctx context.Context, p auth.Principal, cb service.Callback) (*domain.Payment, error)
	PaymentsForOrder(ctx context.Context, p auth.Principal, orderID string) ([]*domain.Payment, error)
}

type PaymentsHandler struct {
	payments PaymentWorkflow
	log      *slog.Logger
}

func NewPaymentsHandler(payments PaymentWorkflow, log *slog.Logger) *PaymentsHandler {
	return &PaymentsHandler{payments: payments, log: log}
}

// Routes mounts under /api/payments.
func (h *PaymentsHandler) Routes(v *auth.Verifier) chi.Router {
	r := chi.NewRouter()
	r.Use(auth.Middleware(v, auth.RoleUser))

	r.Post("/verify", h.VerifyPayment)
	r.Get("/order/{orderId}", h.ListPayments)
	r.Post("/{orderId}", h.CreatePayment)
	return r
}

type VerifyRequestDTO struct {
	RazorpayOrderID string `json:"razorpayOrderId"`
	PaymentID       string `json:"paymentId"`
	Signature       string `json:"signature"`
}

type PaymentResponseDTO struct {
	Message string          `json:"message"`
	Payment *domain.Payment `json:"payment"`
}

type PaymentListResponseDTO struct {
	Payments []*domain.Payment `json:"payments"`
}

// POST /api/payments/{orderId}
func (h *PaymentsHandler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())

	payment, err := h.payments.CreatePayment(r.Context(), p, chi.URLParam(r, "orderId"))
	if err != nil {
		h.log.ErrorContext(r.Context(), "payment initiation failed", "order_id", chi.URLParam(r, "orderId"), "error", err)
		httpapi.RespondError(w, http.StatusInternalServerError, createErrorCode(err), "Failed to initiate payment")
		return
	}
	httpapi.RespondJSON(w, http.StatusCreated, PaymentResponseDTO{Message: "Payment initiated", Payment: payment})
}

// POST /api/payments/verify
func (h *PaymentsHandler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())

	var req VerifyRequestDTO
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.RespondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	payment, err := h.payments.VerifyPayment(r.Context(), p, service.Callback{
		RazorpayOrderID: req.RazorpayOrderID,
		PaymentID:       req.PaymentID,
		Signature:       req.Signature,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrMissingCallbackFields):
			httpapi.RespondError(w, http.StatusBadRequest, "missing_fields", "Missing payment details")
		case errors.Is(err, service.ErrInvalidSignature):
			httpapi.RespondError(w, http.StatusBadRequest, "invalid_signature", "Invalid payment signature")
		case errors.Is(err, service.ErrPaymentNotFound):
			httpapi.RespondError(w, http.StatusNotFound, "not_found", "Payment not found")
		default:
			httpapi.RespondInternal(w, r, h.log, err)
		}
		return
	}
	httpapi.RespondJSON(w, http.StatusOK, PaymentResponseDTO{Message: "Payment verified successfully", Payment: payment})
}

// GET /api/payments/order/{orderId}
func (h *PaymentsHandler) ListPayments(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())

	payments, err := h.payments.PaymentsForOrder(r.Context(), p, chi.URLParam(r, "orderId"))
	if err != nil {
		if httpapi.RespondIfUpstream(w, err) {
			return
		}
		httpapi.RespondInternal(w, r, h.log, err)
		return
	}
	if payments == nil {
		payments = []*domain.Payment{}
	}
	httpapi.RespondJSON(w, http.StatusOK, PaymentListResponseDTO{Payments: payments})
}

// Initiation always answers 500; the code tells the caller which step failed.
func createErrorCode(err error) string {
	switch {
	case errors.Is(err, service.ErrUpstreamOrderUnavailable):
		return "order_unavailable"
	case errors.Is(err, service.ErrOrderNotPayable):
		return "order_not_payable"
	case errors.Is(err, service.ErrGateway):
		return "gateway_error"
	default:
		return "internal_error"
	}
}

package adaptor

import (
	"encoding/json"
	"net/http"

	"carconnect-api/internal/dto/request"
	"carconnect-api/internal/dto/response"
	"carconnect-api/internal/usecase"
	"carconnect-api/pkg/utils"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type PaymentHandler struct {
	service usecase.PaymentService
	errorWriter
	log *zap.Logger
}

func NewPaymentHandler(service usecase.PaymentService, errs errorWriter, log *zap.Logger) *PaymentHandler {
	return &PaymentHandler{
		service:     service,
		errorWriter: errs,
		log:         log.With(zap.String("handler", "payment")),
	}
}

// Initialize handles POST /api/payments/initialize
func (h *PaymentHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	var req request.InitializePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.ResponseBadRequest(w, "Invalid request body", nil)
		return
	}

	if validationErrors := utils.ValidateStruct(req); len(validationErrors) > 0 {
		utils.ResponseBadRequest(w, "Validation failed", validationErrors)
		return
	}

	checkout, err := h.service.Initialize(r.Context(), &req)
	if err != nil {
		h.handleServiceError(w, err, "initialize payment")
		return
	}

	utils.ResponseCreated(w, "Payment initialized", checkout)
}

// Verify handles GET /api/payments/verify/{reference}
func (h *PaymentHandler) Verify(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")
	if reference == "" {
		utils.ResponseBadRequest(w, "Payment reference is required", nil)
		return
	}

	result, err := h.service.Verify(r.Context(), reference)
	if err != nil {
		h.handleServiceError(w, err, "verify payment")
		return
	}

	resp := response.VerifyResponse{
		Status:       "failed",
		Message:      "Payment verification failed",
		Data:         result.Payment,
		PaystackData: result.ProviderData,
	}
	if result.Succeeded {
		resp.Status = "success"
		resp.Message = "Payment verified successfully"
	}

	utils.ResponseJSON(w, http.StatusOK, resp)
}

// GetByReference handles GET /api/payments/{reference}
func (h *PaymentHandler) GetByReference(w http.ResponseWriter, r *http.Request) {
	payment, err := h.service.GetByReference(r.Context(), chi.URLParam(r, "reference"))
	if err != nil {
		h.handleServiceError(w, err, "get payment")
		return
	}

	utils.ResponseSuccess(w, "Payment retrieved successfully", payment.Redacted())
}

// List handles GET /api/admin/payments (admin only)
func (h *PaymentHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	req := &request.ListPaymentsRequest{
		PaginatedRequest: request.PaginatedRequest{
			Page:    utils.ParseInt(query.Get("page"), 1),
			PerPage: utils.ParseInt(query.Get("per_page"), 10),
		},
		Status: query.Get("status"),
	}

	// Validate per_page max
	if req.PerPage > 100 {
		req.PerPage = 100
	}

	payments, err := h.service.List(r.Context(), req)
	if err != nil {
		h.handleServiceError(w, err, "list payments")
		return
	}

	utils.ResponseSuccess(w, "Payments retrieved successfully", payments)
}

// Refund handles POST /api/admin/payments/refund (admin only)
func (h *PaymentHandler) Refund(w http.ResponseWriter, r *http.Request) {
	var req request.RefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.ResponseBadRequest(w, "Invalid request body", nil)
		return
	}

	if validationErrors := utils.ValidateStruct(req); len(validationErrors) > 0 {
		utils.ResponseBadRequest(w, "Validation failed", validationErrors)
		return
	}

	payment, err := h.service.Refund(r.Context(), &req)
	if err != nil {
		h.handleServiceError(w, err, "refund payment")
		return
	}

	h.log.Info("Payment refunded by admin", zap.String("reference", payment.Reference))
	utils.ResponseSuccess(w, "Payment refunded successfully", payment)
}

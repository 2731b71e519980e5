package vouchers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/bissquit/cafe-storefront/internal/domain"
	"github.com/bissquit/cafe-storefront/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrVoucherNotFound, Status: http.StatusNotFound, Message: "voucher not found"},
	{Error: ErrVoucherNotEligible, Status: http.StatusUnprocessableEntity, Message: "voucher is not applicable to this cart"},
	{Error: ErrVoucherCodeExists, Status: http.StatusConflict, Message: "voucher with this code already exists"},
	{Error: ErrInvalidDiscount, Status: http.StatusBadRequest},
	{Error: ErrInvalidCode, Status: http.StatusBadRequest, Message: "code is required"},
}

// Handler handles HTTP requests for vouchers.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new vouchers handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterUserRoutes registers routes for the authenticated caller.
func (h *Handler) RegisterUserRoutes(r chi.Router) {
	r.Get("/me/vouchers", h.ListAvailable)
	r.Post("/me/vouchers/quote", h.Quote)
}

// RegisterAdminRoutes registers voucher management routes.
func (h *Handler) RegisterAdminRoutes(r chi.Router) {
	r.Post("/vouchers", h.CreateVoucher)
}

// QuoteRequest represents request body for pricing a cart with a voucher.
type QuoteRequest struct {
	Code      string `json:"code" validate:"required,max=64"`
	CartTotal *int64 `json:"cart_total" validate:"omitempty,min=0"`
}

// CreateVoucherRequest represents request body for creating a voucher.
type CreateVoucherRequest struct {
	Code            string  `json:"code" validate:"required,max=64"`
	Title           string  `json:"title" validate:"required,max=255"`
	Description     *string `json:"description"`
	DiscountType    string  `json:"discount_type" validate:"required,oneof=percent fixed"`
	DiscountValue   int64   `json:"discount_value" validate:"min=0"`
	MinOrderValue   *int64  `json:"min_order_value" validate:"omitempty,min=0"`
	ForNewUser      bool    `json:"for_new_user"`
	MaxUsagePerUser int     `json:"max_usage_per_user" validate:"min=0"`
	IsActive        *bool   `json:"is_active"`
}

// AvailableResponse is the body of GET /me/vouchers.
type AvailableResponse struct {
	CartTotal int64              `json:"cart_total"`
	Vouchers  []AvailableVoucher `json:"vouchers"`
}

// ListAvailable handles GET /me/vouchers.
func (h *Handler) ListAvailable(w http.ResponseWriter, r *http.Request) {
	userID := httputil.GetUserID(r.Context())

	cartTotal, ok := h.resolveCartTotal(w, r, r.URL.Query().Get("cart_total"))
	if !ok {
		return
	}

	httputil.Success(w, http.StatusOK, AvailableResponse{
		CartTotal: cartTotal,
		Vouchers:  h.service.ListForCart(r.Context(), userID, cartTotal),
	})
}

// Quote handles POST /me/vouchers/quote.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	userID := httputil.GetUserID(r.Context())

	var req QuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	var cartTotal int64
	if req.CartTotal != nil {
		cartTotal = *req.CartTotal
	} else {
		total, err := h.service.CartTotal(r.Context(), userID)
		if err != nil {
			httputil.HandleError(r.Context(), w, err, errorMappings)
			return
		}
		cartTotal = total
	}

	quote, err := h.service.Quote(r.Context(), userID, req.Code, cartTotal)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, quote)
}

// CreateVoucher handles POST /vouchers.
func (h *Handler) CreateVoucher(w http.ResponseWriter, r *http.Request) {
	var req CreateVoucherRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	voucher, err := h.service.CreateVoucher(r.Context(), CreateVoucherInput{
		Code:            req.Code,
		Title:           req.Title,
		Description:     req.Description,
		DiscountType:    domain.DiscountType(req.DiscountType),
		DiscountValue:   req.DiscountValue,
		MinOrderValue:   req.MinOrderValue,
		ForNewUser:      req.ForNewUser,
		MaxUsagePerUser: req.MaxUsagePerUser,
		IsActive:        req.IsActive,
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, voucher)
}

// resolveCartTotal parses the cart_total parameter, falling back to the stored cart.
func (h *Handler) resolveCartTotal(w http.ResponseWriter, r *http.Request, raw string) (int64, bool) {
	if raw == "" {
		total, err := h.service.CartTotal(r.Context(), httputil.GetUserID(r.Context()))
		if err != nil {
			httputil.HandleError(r.Context(), w, err, errorMappings)
			return 0, false
		}
		return total, true
	}

	total, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || total < 0 {
		httputil.Error(w, http.StatusBadRequest, "cart_total must be a non-negative integer")
		return 0, false
	}
	return total, true
}

package catalog

import (
	"encoding/json"
	"net/http"

	"github.com/bissquit/cafe-storefront/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrNewsNotFound, Status: http.StatusNotFound, Message: "news not found"},
	{Error: ErrInvalidPrice, Status: http.StatusBadRequest},
	{Error: ErrEmptyName, Status: http.StatusBadRequest},
	{Error: ErrEmptyTitle, Status: http.StatusBadRequest},
}

// Handler handles HTTP requests for the catalog module.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new catalog handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterAdminRoutes registers catalog management routes (admin only).
func (h *Handler) RegisterAdminRoutes(r chi.Router) {
	r.Post("/news", h.CreateNews)
	r.Post("/news/{id}/activate", h.activation(true))
	r.Post("/news/{id}/deactivate", h.activation(false))
	r.Post("/products", h.CreateProduct)
}

// CreateNewsRequest represents request body for publishing news.
type CreateNewsRequest struct {
	Title       string  `json:"title" validate:"required,max=255"`
	Description *string `json:"description" validate:"omitempty,max=4000"`
	IsActive    *bool   `json:"is_active"`
}

// CreateProductRequest represents request body for adding a menu item.
type CreateProductRequest struct {
	Name  string `json:"name" validate:"required,max=255"`
	Price int64  `json:"price" validate:"min=0"`
}

// CreateNews handles POST /news.
func (h *Handler) CreateNews(w http.ResponseWriter, r *http.Request) {
	var req CreateNewsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	news, err := h.service.CreateNews(r.Context(), CreateNewsInput{
		Title:       req.Title,
		Description: req.Description,
		IsActive:    req.IsActive,
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, news)
}

func (h *Handler) activation(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := uuid.Parse(id); err != nil {
			httputil.Error(w, http.StatusBadRequest, "invalid news id")
			return
		}

		news, err := h.service.SetNewsActive(r.Context(), id, active)
		if err != nil {
			httputil.HandleError(r.Context(), w, err, errorMappings)
			return
		}

		httputil.Success(w, http.StatusOK, news)
	}
}

// CreateProduct handles POST /products.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	product, err := h.service.CreateProduct(r.Context(), CreateProductInput{
		Name:  req.Name,
		Price: req.Price,
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, product)
}

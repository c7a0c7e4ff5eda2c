package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/dublintech/callbridge/internal/customer/domain"
)

// CreateCustomerRequest is accepted at the interface level even though no
// current backing store implements creation.
type CreateCustomerRequest struct {
	Name      string `json:"name" validate:"required"`
	Phone     string `json:"phone" validate:"required"`
	Email     string `json:"email" validate:"omitempty,email"`
	AccountID string `json:"accountId"`
	Notes     string `json:"notes"`
}

type CustomerHandler struct {
	repo     domain.Repository
	logger   *slog.Logger
	validate *validator.Validate
}

func NewCustomerHandler(repo domain.Repository, logger *slog.Logger) *CustomerHandler {
	return &CustomerHandler{
		repo:     repo,
		logger:   logger.With("component", "customer_handler"),
		validate: validator.New(),
	}
}

// GetByPhone handles GET /api/customers/by-phone?number=.
func (h *CustomerHandler) GetByPhone(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	number := r.URL.Query().Get("number")
	if number == "" {
		http.Error(w, "Phone number is a required parameter", http.StatusBadRequest)
		return
	}

	c, err := h.repo.GetByPhone(ctx, number)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.logger.InfoContext(ctx, "Customer not found", "phone", number)
			http.Error(w, "Customer not found", http.StatusNotFound)
			return
		}
		h.logger.ErrorContext(ctx, "Error searching for customer", "phone", number, "error", err)
		http.Error(w, "Error searching for customer", http.StatusInternalServerError)
		return
	}

	h.logger.InfoContext(ctx, "Found customer", "name", c.Name, "phone", number)
	writeJSON(w, http.StatusOK, c)
}

// GetAll handles GET /api/customers.
func (h *CustomerHandler) GetAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	customers, err := h.repo.GetAll(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "Error retrieving customers list", "error", err)
		http.Error(w, "Error retrieving customers list", http.StatusInternalServerError)
		return
	}
	if customers == nil {
		customers = []domain.Customer{}
	}
	writeJSON(w, http.StatusOK, customers)
}

// Create handles POST /api/customers. The request is validated so callers
// get accurate 400s, but every current store answers ErrNotImplemented,
// which maps deliberately to 501 rather than a silent success.
func (h *CustomerHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateCustomerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "Malformed create customer payload", "error", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.logger.WarnContext(ctx, "Invalid create customer payload", "error", err)
		http.Error(w, "name and phone are required fields", http.StatusBadRequest)
		return
	}

	h.logger.InfoContext(ctx, "Create customer requested", "name", req.Name)

	_, err := h.repo.Create(ctx, domain.Customer{
		Name:      req.Name,
		Phone:     req.Phone,
		Email:     req.Email,
		AccountID: req.AccountID,
		Notes:     req.Notes,
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotImplemented) {
			http.Error(w, "Customer creation is not supported by this store", http.StatusNotImplemented)
			return
		}
		h.logger.ErrorContext(ctx, "Error creating customer", "error", err)
		http.Error(w, "Error creating customer", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
}

package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/Usmaexe/artisanal-moroccan-market/pkg/errors"
	"github.com/Usmaexe/artisanal-moroccan-market/pkg/httputil"
	"github.com/Usmaexe/artisanal-moroccan-market/pkg/middleware"
	"github.com/Usmaexe/artisanal-moroccan-market/pkg/pagination"
	"github.com/Usmaexe/artisanal-moroccan-market/pkg/validator"
	"github.com/Usmaexe/artisanal-moroccan-market/services/review/internal/domain"
	"github.com/Usmaexe/artisanal-moroccan-market/services/review/internal/query"
	"github.com/Usmaexe/artisanal-moroccan-market/services/review/internal/service"
)

const maxBodyBytes = 1 << 20

// ReviewHandler handles HTTP requests for review endpoints.
type ReviewHandler struct {
	service *service.ReviewService
	logger  *slog.Logger
}

// NewReviewHandler creates a new review HTTP handler.
func NewReviewHandler(svc *service.ReviewService, logger *slog.Logger) *ReviewHandler {
	return &ReviewHandler{
		service: svc,
		logger:  logger,
	}
}

// --- Request DTOs ---

// SubmitReviewRequest is the JSON request body for submitting a review.
// CustomerID may be omitted when the caller is authenticated.
type SubmitReviewRequest struct {
	CustomerID string                   `json:"customer_id" validate:"omitempty,max=200"`
	Rating     *int                     `json:"rating" validate:"required,min=1,max=5"`
	Comment    *string                  `json:"comment" validate:"omitempty,max=5000"`
	Customer   *domain.CustomerSnapshot `json:"customer"`
}

// UpdateReviewRequest is the JSON request body for updating a review.
type UpdateReviewRequest struct {
	Rating  *int    `json:"rating" validate:"required,min=1,max=5"`
	Comment *string `json:"comment" validate:"omitempty,max=5000"`
}

// PurgeResponse reports how many reviews an admin purge removed.
type PurgeResponse struct {
	ProductID string `json:"product_id"`
	Removed   int    `json:"removed"`
}

// --- Handlers ---

// ListReviews handles GET /api/v1/products/{productId}/reviews?page&limit&sort
func (h *ReviewHandler) ListReviews(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productId")

	sort, err := domain.ParseSortMode(r.URL.Query().Get("sort"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	window := pagination.FromRequest(r)
	params := query.Params{Page: window.Page, Limit: window.Limit, Sort: sort}

	result, err := h.service.ListReviews(r.Context(), productID, params)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: result})
}

// SubmitReview handles POST /api/v1/products/{productId}/reviews
func (h *ReviewHandler) SubmitReview(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req SubmitReviewRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	customerID := domain.CanonicalCustomerID(req.CustomerID)
	if userID := middleware.UserIDFromContext(r.Context()); userID != "" {
		if customerID != "" && customerID != userID {
			httputil.WriteError(w, r, apperrors.Forbidden("customer_id does not match the authenticated user"), h.logger)
			return
		}
		customerID = userID
	}

	review, err := h.service.SubmitReview(r.Context(), &service.SubmitReviewInput{
		ProductID:  chi.URLParam(r, "productId"),
		CustomerID: customerID,
		Rating:     req.Rating,
		Comment:    req.Comment,
		Customer:   req.Customer,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: review})
}

// GetReview handles GET /api/v1/reviews/{reviewId}
func (h *ReviewHandler) GetReview(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseID(w, "review id", chi.URLParam(r, "reviewId"))
	if !ok {
		return
	}

	review, err := h.service.GetReview(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: review})
}

// UpdateReview handles PUT /api/v1/reviews/{reviewId}
func (h *ReviewHandler) UpdateReview(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseID(w, "review id", chi.URLParam(r, "reviewId"))
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req UpdateReviewRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	review, err := h.service.UpdateReview(r.Context(), &service.UpdateReviewInput{
		ReviewID: id,
		Actor:    actorFrom(r),
		Rating:   req.Rating,
		Comment:  req.Comment,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: review})
}

// DeleteReview handles DELETE /api/v1/reviews/{reviewId}
func (h *ReviewHandler) DeleteReview(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseID(w, "review id", chi.URLParam(r, "reviewId"))
	if !ok {
		return
	}

	err := h.service.DeleteReview(r.Context(), &service.DeleteReviewInput{
		ReviewID: id,
		Actor:    actorFrom(r),
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// PurgeProductReviews handles DELETE /api/v1/admin/products/{productId}/reviews
func (h *ReviewHandler) PurgeProductReviews(w http.ResponseWriter, r *http.Request) {
	productID := domain.CanonicalProductID(chi.URLParam(r, "productId"))

	removed, err := h.service.PurgeProduct(r.Context(), productID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: PurgeResponse{ProductID: productID, Removed: removed},
	})
}

func actorFrom(r *http.Request) service.Actor {
	return service.Actor{
		UserID: middleware.UserIDFromContext(r.Context()),
		Role:   middleware.RoleFromContext(r.Context()),
	}
}

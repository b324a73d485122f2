package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/Usmaexe/artisanal-moroccan-market/pkg/errors"
	"github.com/Usmaexe/artisanal-moroccan-market/pkg/tracing"
	"github.com/Usmaexe/artisanal-moroccan-market/pkg/validator"
	"github.com/Usmaexe/artisanal-moroccan-market/services/review/internal/catalog"
	"github.com/Usmaexe/artisanal-moroccan-market/services/review/internal/domain"
	"github.com/Usmaexe/artisanal-moroccan-market/services/review/internal/query"
	"github.com/Usmaexe/artisanal-moroccan-market/services/review/internal/repository"
)

// RoleAdmin may edit and delete any review.
const RoleAdmin = "admin"

// SubmitReviewInput holds the parameters for submitting a review.
type SubmitReviewInput struct {
	ProductID  string                   `json:"product_id" validate:"required,max=200"`
	CustomerID string                   `json:"customer_id" validate:"required,max=200"`
	Rating     *int                     `json:"rating" validate:"required,min=1,max=5"`
	Comment    *string                  `json:"comment" validate:"omitempty,max=5000"`
	Customer   *domain.CustomerSnapshot `json:"customer"`
}

// Actor is the authenticated caller of a mutating operation.
type Actor struct {
	UserID string
	Role   string
}

// UpdateReviewInput holds the parameters for updating a review.
type UpdateReviewInput struct {
	ReviewID int64   `json:"-"`
	Actor    Actor   `json:"-"`
	Rating   *int    `json:"rating" validate:"required,min=1,max=5"`
	Comment  *string `json:"comment" validate:"omitempty,max=5000"`
}

// DeleteReviewInput holds the parameters for deleting a review.
type DeleteReviewInput struct {
	ReviewID int64
	Actor    Actor
}

// ResultCache caches query results per product. Writes invalidate every
// cached page of the product.
type ResultCache interface {
	Lookup(ctx context.Context, productID string, p query.Params) (*query.Result, int64, bool)
	Store(ctx context.Context, productID string, generation int64, p query.Params, res *query.Result)
	Invalidate(ctx context.Context, productID string)
}

// EventPublisher emits review domain events.
type EventPublisher interface {
	PublishReviewCreated(ctx context.Context, review *domain.Review) error
	PublishReviewUpdated(ctx context.Context, review *domain.Review, previousRating int) error
	PublishReviewDeleted(ctx context.Context, review *domain.Review) error
}

// Option configures a ReviewService.
type Option func(*ReviewService)

// WithCache enables the query result cache.
func WithCache(c ResultCache) Option {
	return func(s *ReviewService) { s.cache = c }
}

// WithEvents enables domain event publishing.
func WithEvents(p EventPublisher) Option {
	return func(s *ReviewService) { s.events = p }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *ReviewService) { s.now = now }
}

// ReviewService implements the business logic for review operations.
type ReviewService struct {
	repo     repository.ReviewRepository
	products catalog.ProductLookup
	cache    ResultCache
	events   EventPublisher
	pairs    *keyLock
	tracer   trace.Tracer
	now      func() time.Time
	logger   *slog.Logger
}

// NewReviewService creates a new review service.
func NewReviewService(repo repository.ReviewRepository, products catalog.ProductLookup, logger *slog.Logger, opts ...Option) *ReviewService {
	s := &ReviewService{
		repo:     repo,
		products: products,
		pairs:    newKeyLock(),
		tracer:   tracing.Tracer("github.com/Usmaexe/artisanal-moroccan-market/services/review/internal/service"),
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ReviewService) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := s.tracer.Start(ctx, "ReviewService."+name, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// SubmitReview validates and stores a new review. A customer may review a
// product only once.
func (s *ReviewService) SubmitReview(ctx context.Context, input *SubmitReviewInput) (review *domain.Review, err error) {
	ctx, end := s.startSpan(ctx, "SubmitReview")
	defer func() { end(err) }()

	input.ProductID = domain.CanonicalProductID(input.ProductID)
	input.CustomerID = domain.CanonicalCustomerID(input.CustomerID)
	if input.Customer != nil {
		snapshot := input.Customer.WithDefaults()
		input.Customer = &snapshot
	}
	if err := validator.Validate(input); err != nil {
		reviewsRejected.WithLabelValues(rejectValidation).Inc()
		return nil, err
	}

	if err := s.requireProduct(ctx, input.ProductID); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			reviewsRejected.WithLabelValues(rejectProductNotFound).Inc()
		}
		return nil, err
	}

	unlock := s.pairs.Lock(input.ProductID + "\x00" + input.CustomerID)
	defer unlock()

	_, err = s.repo.FindOne(ctx, domain.ReviewFilter{ProductID: input.ProductID, CustomerID: input.CustomerID})
	switch {
	case err == nil:
		reviewsRejected.WithLabelValues(rejectDuplicate).Inc()
		return nil, apperrors.Conflict("customer has already reviewed this product")
	case !errors.Is(err, apperrors.ErrNotFound):
		return nil, fmt.Errorf("check existing review: %w", err)
	}

	customer := domain.CustomerSnapshot{}.WithDefaults()
	if input.Customer != nil {
		customer = *input.Customer
	}
	var comment string
	if input.Comment != nil {
		comment = *input.Comment
	}

	now := s.now()
	review = &domain.Review{
		ProductID:  input.ProductID,
		CustomerID: input.CustomerID,
		Rating:     *input.Rating,
		Comment:    comment,
		Customer:   customer,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.repo.Insert(ctx, review); err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			reviewsRejected.WithLabelValues(rejectDuplicate).Inc()
		}
		return nil, fmt.Errorf("insert review: %w", err)
	}

	reviewsSubmitted.Inc()
	s.invalidate(ctx, review.ProductID)
	s.publish(ctx, "review.created", func(p EventPublisher) error {
		return p.PublishReviewCreated(ctx, review)
	})

	s.logger.InfoContext(ctx, "review submitted",
		slog.Int64("review_id", review.ID),
		slog.String("product_id", review.ProductID),
		slog.String("customer_id", review.CustomerID),
		slog.Int("rating", review.Rating),
	)

	return review, nil
}

// GetReview returns a single review by id.
func (s *ReviewService) GetReview(ctx context.Context, id int64) (review *domain.Review, err error) {
	ctx, end := s.startSpan(ctx, "GetReview", attribute.Int64("review.id", id))
	defer func() { end(err) }()

	if id <= 0 {
		return nil, apperrors.InvalidInput("review id must be a positive integer")
	}

	review, err = s.repo.FindOne(ctx, domain.ReviewFilter{ID: id})
	if err != nil {
		return nil, fmt.Errorf("get review %d: %w", id, err)
	}
	return review, nil
}

// UpdateReview changes the rating and, when given, the comment of a review.
// Only the author or an admin may update it.
func (s *ReviewService) UpdateReview(ctx context.Context, input *UpdateReviewInput) (review *domain.Review, err error) {
	ctx, end := s.startSpan(ctx, "UpdateReview", attribute.Int64("review.id", input.ReviewID))
	defer func() { end(err) }()

	if err := validator.Validate(input); err != nil {
		return nil, err
	}

	existing, err := s.authorize(ctx, input.ReviewID, input.Actor)
	if err != nil {
		return nil, err
	}

	review, err = s.repo.Update(ctx, input.ReviewID, domain.ReviewPatch{
		Rating:    input.Rating,
		Comment:   input.Comment,
		UpdatedAt: s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("update review %d: %w", input.ReviewID, err)
	}

	reviewsUpdated.Inc()
	s.invalidate(ctx, review.ProductID)
	s.publish(ctx, "review.updated", func(p EventPublisher) error {
		return p.PublishReviewUpdated(ctx, review, existing.Rating)
	})

	s.logger.InfoContext(ctx, "review updated",
		slog.Int64("review_id", review.ID),
		slog.String("product_id", review.ProductID),
		slog.Int("rating", review.Rating),
		slog.Int("previous_rating", existing.Rating),
	)

	return review, nil
}

// DeleteReview permanently removes a review. Only the author or an admin may
// delete it.
func (s *ReviewService) DeleteReview(ctx context.Context, input *DeleteReviewInput) (err error) {
	ctx, end := s.startSpan(ctx, "DeleteReview", attribute.Int64("review.id", input.ReviewID))
	defer func() { end(err) }()

	existing, err := s.authorize(ctx, input.ReviewID, input.Actor)
	if err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, input.ReviewID); err != nil {
		return fmt.Errorf("delete review %d: %w", input.ReviewID, err)
	}

	reviewsDeleted.WithLabelValues("request").Inc()
	s.invalidate(ctx, existing.ProductID)
	s.publish(ctx, "review.deleted", func(p EventPublisher) error {
		return p.PublishReviewDeleted(ctx, existing)
	})

	s.logger.InfoContext(ctx, "review deleted",
		slog.Int64("review_id", existing.ID),
		slog.String("product_id", existing.ProductID),
		slog.String("actor", input.Actor.UserID),
	)

	return nil
}

// ListReviews returns one page of a product's reviews with aggregate figures
// computed over all of them.
func (s *ReviewService) ListReviews(ctx context.Context, productID string, params query.Params) (res *query.Result, err error) {
	productID = domain.CanonicalProductID(productID)
	ctx, end := s.startSpan(ctx, "ListReviews",
		attribute.String("product.id", productID),
		attribute.String("sort", string(params.Sort)),
		attribute.Int("page", params.Page),
		attribute.Int("limit", params.Limit),
	)
	defer func() { end(err) }()

	if productID == "" {
		return nil, apperrors.InvalidInput("product_id is required")
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if err := s.requireProduct(ctx, productID); err != nil {
		return nil, err
	}

	var generation int64
	if s.cache != nil {
		cached, gen, ok := s.cache.Lookup(ctx, productID, params)
		if ok {
			queryCacheRequests.WithLabelValues("hit").Inc()
			return cached, nil
		}
		queryCacheRequests.WithLabelValues("miss").Inc()
		generation = gen
	}

	reviews, err := s.repo.FindByProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("find reviews of product %s: %w", productID, err)
	}

	res, err = query.Run(reviews, params)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Store(ctx, productID, generation, params, res)
	}
	return res, nil
}

// PurgeProduct removes every review of a product that left the catalog.
func (s *ReviewService) PurgeProduct(ctx context.Context, productID string) (removed int, err error) {
	productID = domain.CanonicalProductID(productID)
	ctx, end := s.startSpan(ctx, "PurgeProduct", attribute.String("product.id", productID))
	defer func() { end(err) }()

	if productID == "" {
		return 0, apperrors.InvalidInput("product_id is required")
	}

	removed, err = s.repo.DeleteByProduct(ctx, productID)
	if err != nil {
		return 0, fmt.Errorf("purge reviews of product %s: %w", productID, err)
	}

	if f, ok := s.products.(catalog.Forgetter); ok {
		f.Forget(ctx, productID)
	}
	reviewsDeleted.WithLabelValues("purge").Add(float64(removed))
	s.invalidate(ctx, productID)

	s.logger.InfoContext(ctx, "product reviews purged",
		slog.String("product_id", productID),
		slog.Int("removed", removed),
	)

	return removed, nil
}

func (s *ReviewService) requireProduct(ctx context.Context, productID string) error {
	exists, err := s.products.Exists(ctx, productID)
	if err != nil {
		return fmt.Errorf("look up product %s: %w", productID, err)
	}
	if !exists {
		return apperrors.NotFound("product", productID)
	}
	return nil
}

// authorize loads the review and checks that actor may change it. A missing
// review is reported before a permission failure.
func (s *ReviewService) authorize(ctx context.Context, id int64, actor Actor) (*domain.Review, error) {
	if strings.TrimSpace(actor.UserID) == "" {
		return nil, apperrors.Unauthorized("authentication required")
	}
	if id <= 0 {
		return nil, apperrors.InvalidInput("review id must be a positive integer")
	}

	existing, err := s.repo.FindOne(ctx, domain.ReviewFilter{ID: id})
	if err != nil {
		return nil, fmt.Errorf("get review %d: %w", id, err)
	}

	if existing.CustomerID != actor.UserID && actor.Role != RoleAdmin {
		s.logger.WarnContext(ctx, "review change denied",
			slog.Int64("review_id", id),
			slog.String("actor", actor.UserID),
		)
		return nil, apperrors.Forbidden("only the author may change this review")
	}
	return existing, nil
}

func (s *ReviewService) invalidate(ctx context.Context, productID string) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, productID)
	}
}

// publish emits an event without failing the caller.
func (s *ReviewService) publish(ctx context.Context, name string, fn func(EventPublisher) error) {
	if s.events == nil {
		return
	}
	if err := fn(s.events); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish event",
			slog.String("event", name),
			slog.String("error", err.Error()),
		)
	}
}

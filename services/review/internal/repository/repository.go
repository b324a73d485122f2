package repository

import (
	"context"

	"github.com/Usmaexe/artisanal-moroccan-market/services/review/internal/domain"
)

// ReviewRepository defines the interface for review persistence operations.
// Implementations must make the (product_id, customer_id) uniqueness check
// and the insert a single atomic step.
type ReviewRepository interface {
	// Insert assigns review.ID and stores the review. It returns a Conflict
	// error when the customer already has a review for the product.
	Insert(ctx context.Context, review *domain.Review) error

	// FindByProduct returns every review of a product in no particular order.
	FindByProduct(ctx context.Context, productID string) ([]domain.Review, error)

	// FindOne returns the first review matching filter, or NotFound.
	FindOne(ctx context.Context, filter domain.ReviewFilter) (*domain.Review, error)

	// Update merges patch into the review with the given id and returns the
	// stored result, or NotFound.
	Update(ctx context.Context, id int64, patch domain.ReviewPatch) (*domain.Review, error)

	// Delete removes the review with the given id, or returns NotFound.
	Delete(ctx context.Context, id int64) error

	// DeleteByProduct removes every review of a product and returns how many
	// were removed.
	DeleteByProduct(ctx context.Context, productID string) (int, error)
}

// Package memory provides an in-process ReviewRepository for tests and
// single-instance development runs.
package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	apperrors "github.com/Usmaexe/artisanal-moroccan-market/pkg/errors"
	"github.com/Usmaexe/artisanal-moroccan-market/services/review/internal/domain"
	"github.com/Usmaexe/artisanal-moroccan-market/services/review/internal/repository"
)

var _ repository.ReviewRepository = (*ReviewRepository)(nil)

// ReviewRepository keeps reviews in a slice guarded by a RWMutex. Callers
// always receive copies.
type ReviewRepository struct {
	mu      sync.RWMutex
	reviews []domain.Review
}

// NewReviewRepository returns a repository pre-loaded with seed, which is
// copied.
func NewReviewRepository(seed ...domain.Review) *ReviewRepository {
	reviews := make([]domain.Review, len(seed))
	copy(reviews, seed)
	return &ReviewRepository{reviews: reviews}
}

// Insert assigns the next id (current maximum plus one) and appends the
// review. The duplicate check happens under the write lock.
func (r *ReviewRepository) Insert(_ context.Context, review *domain.Review) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var maxID int64
	for i := range r.reviews {
		existing := &r.reviews[i]
		if existing.ProductID == review.ProductID && existing.CustomerID == review.CustomerID {
			return apperrors.Conflict(fmt.Sprintf("customer %s has already reviewed product %s", review.CustomerID, review.ProductID))
		}
		maxID = max(maxID, existing.ID)
	}

	review.ID = maxID + 1
	r.reviews = append(r.reviews, *review)
	return nil
}

// FindByProduct returns copies of every review of productID.
func (r *ReviewRepository) FindByProduct(_ context.Context, productID string) ([]domain.Review, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []domain.Review{}
	for _, rv := range r.reviews {
		if rv.ProductID == productID {
			out = append(out, rv)
		}
	}
	return out, nil
}

// FindOne returns a copy of the first review matching filter.
func (r *ReviewRepository) FindOne(_ context.Context, filter domain.ReviewFilter) (*domain.Review, error) {
	if filter.IsEmpty() {
		return nil, apperrors.InvalidInput("review filter must not be empty")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := range r.reviews {
		if filter.Matches(&r.reviews[i]) {
			found := r.reviews[i]
			return &found, nil
		}
	}
	return nil, apperrors.NotFound("review", filter.String())
}

// Update applies patch to the review with the given id.
func (r *ReviewRepository) Update(_ context.Context, id int64, patch domain.ReviewPatch) (*domain.Review, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.indexOf(id)
	if idx < 0 {
		return nil, apperrors.NotFound("review", strconv.FormatInt(id, 10))
	}

	patch.Apply(&r.reviews[idx])
	updated := r.reviews[idx]
	return &updated, nil
}

// Delete removes the review with the given id.
func (r *ReviewRepository) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.indexOf(id)
	if idx < 0 {
		return apperrors.NotFound("review", strconv.FormatInt(id, 10))
	}

	r.reviews = append(r.reviews[:idx], r.reviews[idx+1:]...)
	return nil
}

// DeleteByProduct removes every review of productID.
func (r *ReviewRepository) DeleteByProduct(_ context.Context, productID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.reviews[:0]
	removed := 0
	for _, rv := range r.reviews {
		if rv.ProductID == productID {
			removed++
			continue
		}
		kept = append(kept, rv)
	}
	clear(r.reviews[len(kept):])
	r.reviews = kept
	return removed, nil
}

// Len returns the number of stored reviews.
func (r *ReviewRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.reviews)
}

func (r *ReviewRepository) indexOf(id int64) int {
	for i := range r.reviews {
		if r.reviews[i].ID == id {
			return i
		}
	}
	return -1
}

// Package query turns a product's reviews into a sorted, paginated page with
// summary statistics. It is the only place ordering, paging and averaging are
// computed; every entry point goes through Run.
package query

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	apperrors "github.com/Usmaexe/artisanal-moroccan-market/pkg/errors"
	"github.com/Usmaexe/artisanal-moroccan-market/pkg/pagination"
	"github.com/Usmaexe/artisanal-moroccan-market/services/review/internal/domain"
)

// Params selects the page and order of a review query.
type Params struct {
	Page  int             `json:"page"`
	Limit int             `json:"limit"`
	Sort  domain.SortMode `json:"sort"`
}

// DefaultParams returns page 1, five reviews per page, newest first.
func DefaultParams() Params {
	return Params{Page: 1, Limit: pagination.DefaultLimit, Sort: domain.SortNewest}
}

// Validate rejects a page or limit below 1, a limit above
// pagination.MaxLimit and an unknown sort mode.
func (p Params) Validate() error {
	if p.Page < 1 {
		return apperrors.InvalidInput(fmt.Sprintf("page must be at least 1, got %d", p.Page))
	}
	if p.Limit < 1 || p.Limit > pagination.MaxLimit {
		return apperrors.InvalidInput(fmt.Sprintf("limit must be between 1 and %d, got %d", pagination.MaxLimit, p.Limit))
	}
	switch p.Sort {
	case domain.SortNewest, domain.SortHighest, domain.SortLowest:
	default:
		return apperrors.InvalidInput(fmt.Sprintf("invalid sort %q: must be one of newest, highest, lowest", p.Sort))
	}
	return nil
}

func (p Params) window() pagination.Params {
	return pagination.Params{Page: p.Page, Limit: p.Limit}
}

// Result is one page of reviews plus statistics over every matching review.
type Result struct {
	Reviews       []domain.Review `json:"reviews"`
	TotalCount    int             `json:"total_count"`
	Page          int             `json:"page"`
	Limit         int             `json:"limit"`
	TotalPages    int             `json:"total_pages"`
	AverageRating *float64        `json:"average_rating"`
	RatingCounts  map[int]int     `json:"rating_counts"`
	HasNext       bool            `json:"has_next"`
	HasPrev       bool            `json:"has_prev"`
}

// Run sorts reviews according to p, cuts out the requested page and computes
// the totals. The input slice is not modified. A page past the end yields an
// empty Reviews slice, not an error.
func Run(reviews []domain.Review, p Params) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	sorted := slices.Clone(reviews)
	Sort(sorted, p.Sort)

	total := len(sorted)
	win := p.window()
	start, end := win.Bounds(total)

	page := make([]domain.Review, end-start)
	copy(page, sorted[start:end])

	return &Result{
		Reviews:       page,
		TotalCount:    total,
		Page:          p.Page,
		Limit:         p.Limit,
		TotalPages:    win.TotalPages(total),
		AverageRating: AverageRating(sorted),
		RatingCounts:  RatingCounts(sorted),
		HasNext:       win.HasNext(total),
		HasPrev:       win.HasPrev(),
	}, nil
}

// Sort orders reviews in place. Newest is descending created_at with ties
// broken by descending id. Highest and lowest sort by rating and keep newest
// order among equal ratings.
func Sort(reviews []domain.Review, mode domain.SortMode) {
	slices.SortStableFunc(reviews, newestFirst)

	switch mode {
	case domain.SortHighest:
		slices.SortStableFunc(reviews, func(a, b domain.Review) int {
			return cmp.Compare(b.Rating, a.Rating)
		})
	case domain.SortLowest:
		slices.SortStableFunc(reviews, func(a, b domain.Review) int {
			return cmp.Compare(a.Rating, b.Rating)
		})
	}
}

func newestFirst(a, b domain.Review) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(b.ID, a.ID)
}

// AverageRating returns the mean rating rounded to one decimal, or nil when
// there are no reviews.
func AverageRating(reviews []domain.Review) *float64 {
	if len(reviews) == 0 {
		return nil
	}
	sum := 0
	for _, r := range reviews {
		sum += r.Rating
	}
	avg := math.Round(float64(sum)/float64(len(reviews))*10) / 10
	return &avg
}

// RatingCounts returns the number of reviews per star value. Every value from
// domain.MinRating to domain.MaxRating is present.
func RatingCounts(reviews []domain.Review) map[int]int {
	counts := make(map[int]int, domain.MaxRating)
	for star := domain.MinRating; star <= domain.MaxRating; star++ {
		counts[star] = 0
	}
	for _, r := range reviews {
		counts[r.Rating]++
	}
	return counts
}

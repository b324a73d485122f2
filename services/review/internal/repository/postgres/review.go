package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/Usmaexe/artisanal-moroccan-market/pkg/database"
	apperrors "github.com/Usmaexe/artisanal-moroccan-market/pkg/errors"
	"github.com/Usmaexe/artisanal-moroccan-market/services/review/internal/domain"
	"github.com/Usmaexe/artisanal-moroccan-market/services/review/internal/repository"
)

var _ repository.ReviewRepository = (*ReviewRepository)(nil)

const reviewColumns = `id, product_id, customer_id, rating, comment,
		customer_name, customer_email, customer_image_url, created_at, updated_at`

// ReviewRepository implements review persistence operations using PostgreSQL.
// The unique index on (product_id, customer_id) makes Insert atomic.
type ReviewRepository struct {
	pool database.DBTX
}

// NewReviewRepository creates a new PostgreSQL-backed review repository.
func NewReviewRepository(pool database.DBTX) *ReviewRepository {
	return &ReviewRepository{pool: pool}
}

// Insert stores a review and sets its database-assigned id.
func (r *ReviewRepository) Insert(ctx context.Context, review *domain.Review) (err error) {
	query := `
		INSERT INTO reviews (product_id, customer_id, rating, comment,
			customer_name, customer_email, customer_image_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	ctx, end := database.TraceQuery(ctx, "InsertReview", query)
	defer func() { end(err) }()

	err = r.pool.QueryRow(ctx, query,
		review.ProductID,
		review.CustomerID,
		review.Rating,
		review.Comment,
		review.Customer.Name,
		review.Customer.Email,
		review.Customer.ImageURL,
		review.CreatedAt,
		review.UpdatedAt,
	).Scan(&review.ID)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperrors.Conflict(fmt.Sprintf("customer %s has already reviewed product %s", review.CustomerID, review.ProductID))
		}
		return fmt.Errorf("insert review: %w", err)
	}

	return nil
}

// FindByProduct returns every review of a product.
func (r *ReviewRepository) FindByProduct(ctx context.Context, productID string) (_ []domain.Review, err error) {
	query := `SELECT ` + reviewColumns + `
		FROM reviews
		WHERE product_id = $1`

	ctx, end := database.TraceQuery(ctx, "FindReviewsByProduct", query)
	defer func() { end(err) }()

	rows, err := r.pool.Query(ctx, query, productID)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	reviews := []domain.Review{}
	for rows.Next() {
		rv, err := scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("scan review row: %w", err)
		}
		reviews = append(reviews, *rv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate review rows: %w", err)
	}

	return reviews, nil
}

// FindOne returns the lowest-id review matching filter.
func (r *ReviewRepository) FindOne(ctx context.Context, filter domain.ReviewFilter) (_ *domain.Review, err error) {
	if filter.IsEmpty() {
		return nil, apperrors.InvalidInput("review filter must not be empty")
	}

	var (
		conds []string
		args  []any
	)
	if filter.ID != 0 {
		args = append(args, filter.ID)
		conds = append(conds, fmt.Sprintf("id = $%d", len(args)))
	}
	if filter.ProductID != "" {
		args = append(args, filter.ProductID)
		conds = append(conds, fmt.Sprintf("product_id = $%d", len(args)))
	}
	if filter.CustomerID != "" {
		args = append(args, filter.CustomerID)
		conds = append(conds, fmt.Sprintf("customer_id = $%d", len(args)))
	}

	query := `SELECT ` + reviewColumns + `
		FROM reviews
		WHERE ` + strings.Join(conds, " AND ") + `
		ORDER BY id
		LIMIT 1`

	ctx, end := database.TraceQuery(ctx, "FindReview", query)
	defer func() { end(err) }()

	rv, err := scanReview(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("review", filter.String())
		}
		return nil, fmt.Errorf("find review: %w", err)
	}

	return rv, nil
}

// Update sets rating and comment when present in patch and bumps updated_at.
func (r *ReviewRepository) Update(ctx context.Context, id int64, patch domain.ReviewPatch) (_ *domain.Review, err error) {
	query := `
		UPDATE reviews
		SET rating = COALESCE($2, rating),
		    comment = COALESCE($3, comment),
		    updated_at = $4
		WHERE id = $1
		RETURNING ` + reviewColumns

	ctx, end := database.TraceQuery(ctx, "UpdateReview", query)
	defer func() { end(err) }()

	var rating, comment any
	if patch.Rating != nil {
		rating = *patch.Rating
	}
	if patch.Comment != nil {
		comment = *patch.Comment
	}

	rv, err := scanReview(r.pool.QueryRow(ctx, query, id, rating, comment, patch.UpdatedAt))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("review", strconv.FormatInt(id, 10))
		}
		return nil, fmt.Errorf("update review: %w", err)
	}

	return rv, nil
}

// Delete removes a review by id.
func (r *ReviewRepository) Delete(ctx context.Context, id int64) (err error) {
	query := `DELETE FROM reviews WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, "DeleteReview", query)
	defer func() { end(err) }()

	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete review: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("review", strconv.FormatInt(id, 10))
	}

	return nil
}

// DeleteByProduct removes every review of a product.
func (r *ReviewRepository) DeleteByProduct(ctx context.Context, productID string) (_ int, err error) {
	query := `DELETE FROM reviews WHERE product_id = $1`

	ctx, end := database.TraceQuery(ctx, "DeleteReviewsByProduct", query)
	defer func() { end(err) }()

	tag, err := r.pool.Exec(ctx, query, productID)
	if err != nil {
		return 0, fmt.Errorf("delete reviews of product: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

func scanReview(row pgx.Row) (*domain.Review, error) {
	var rv domain.Review
	if err := row.Scan(
		&rv.ID,
		&rv.ProductID,
		&rv.CustomerID,
		&rv.Rating,
		&rv.Comment,
		&rv.Customer.Name,
		&rv.Customer.Email,
		&rv.Customer.ImageURL,
		&rv.CreatedAt,
		&rv.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &rv, nil
}

package domain

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/Usmaexe/artisanal-moroccan-market/pkg/errors"
	"github.com/Usmaexe/artisanal-moroccan-market/pkg/slug"
)

// Rating bounds, inclusive.
const (
	MinRating = 1
	MaxRating = 5
)

// AnonymousName is shown for reviewers who did not supply a display name.
const AnonymousName = "Anonymous"

// CustomerSnapshot is the reviewer's public profile as it was when the review
// was written. It is never refreshed from the user service.
type CustomerSnapshot struct {
	Name     string `json:"name" validate:"max=100"`
	Email    string `json:"email" validate:"omitempty,email,max=255"`
	ImageURL string `json:"image_url" validate:"omitempty,url,max=2048"`
}

// WithDefaults fills a blank name with AnonymousName and trims every field.
func (c CustomerSnapshot) WithDefaults() CustomerSnapshot {
	c.Name = strings.TrimSpace(c.Name)
	c.Email = strings.TrimSpace(c.Email)
	c.ImageURL = strings.TrimSpace(c.ImageURL)
	if c.Name == "" {
		c.Name = AnonymousName
	}
	return c
}

// Review represents a customer's rating and comment for a product.
type Review struct {
	ID         int64            `json:"review_id"`
	ProductID  string           `json:"product_id"`
	CustomerID string           `json:"customer_id"`
	Rating     int              `json:"rating"`
	Comment    string           `json:"comment"`
	Customer   CustomerSnapshot `json:"customer"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// ValidRating reports whether r is within MinRating..MaxRating.
func ValidRating(r int) bool {
	return r >= MinRating && r <= MaxRating
}

// ReviewPatch carries the mutable fields of a review. Nil fields are left
// unchanged.
type ReviewPatch struct {
	Rating    *int
	Comment   *string
	UpdatedAt time.Time
}

// Apply merges p into r.
func (p ReviewPatch) Apply(r *Review) {
	if p.Rating != nil {
		r.Rating = *p.Rating
	}
	if p.Comment != nil {
		r.Comment = *p.Comment
	}
	if !p.UpdatedAt.IsZero() {
		r.UpdatedAt = p.UpdatedAt
	}
}

// ReviewFilter selects a single review. Zero-valued fields are ignored; at
// least one field must be set.
type ReviewFilter struct {
	ID         int64
	ProductID  string
	CustomerID string
}

// IsEmpty reports whether no field is set.
func (f ReviewFilter) IsEmpty() bool {
	return f.ID == 0 && f.ProductID == "" && f.CustomerID == ""
}

// Matches reports whether r satisfies every set field of f.
func (f ReviewFilter) Matches(r *Review) bool {
	if f.ID != 0 && r.ID != f.ID {
		return false
	}
	if f.ProductID != "" && r.ProductID != f.ProductID {
		return false
	}
	if f.CustomerID != "" && r.CustomerID != f.CustomerID {
		return false
	}
	return true
}

func (f ReviewFilter) String() string {
	var parts []string
	if f.ID != 0 {
		parts = append(parts, fmt.Sprintf("id=%d", f.ID))
	}
	if f.ProductID != "" {
		parts = append(parts, "product_id="+f.ProductID)
	}
	if f.CustomerID != "" {
		parts = append(parts, "customer_id="+f.CustomerID)
	}
	return strings.Join(parts, ",")
}

// CanonicalProductID converts a product slug, number or UUID into the single
// form stored with reviews: lower-case, accent-folded and hyphen-separated.
// "Tapis Berbère" and "tapis-berbere" name the same product. The mapping is
// lossy: "SKU_42" and "sku-42" also collapse into one id.
func CanonicalProductID(raw string) string {
	if slug.IsCanonical(raw) {
		return raw
	}
	return slug.Generate(raw)
}

// CanonicalCustomerID trims surrounding whitespace from a customer id.
func CanonicalCustomerID(raw string) string {
	return strings.TrimSpace(raw)
}

// SortMode orders query results.
type SortMode string

const (
	SortNewest  SortMode = "newest"
	SortHighest SortMode = "highest"
	SortLowest  SortMode = "lowest"
)

// ParseSortMode parses s, defaulting to SortNewest when s is empty.
func ParseSortMode(s string) (SortMode, error) {
	switch mode := SortMode(strings.ToLower(strings.TrimSpace(s))); mode {
	case "":
		return SortNewest, nil
	case SortNewest, SortHighest, SortLowest:
		return mode, nil
	default:
		return "", apperrors.InvalidInput(fmt.Sprintf("invalid sort %q: must be one of newest, highest, lowest", s))
	}
}

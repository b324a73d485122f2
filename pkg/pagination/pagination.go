package pagination

import (
	"net/http"
	"strconv"
)

const (
	// DefaultLimit is the page size used when the caller does not supply one.
	DefaultLimit = 5
	// MaxLimit caps the page size accepted from clients.
	MaxLimit = 100
)

// Params holds a pagination window. Page is 1-based.
type Params struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

// DefaultParams returns page 1 with DefaultLimit items.
func DefaultParams() Params {
	return Params{Page: 1, Limit: DefaultLimit}
}

// FromRequest extracts page and limit query parameters. Missing, malformed or
// out-of-range values fall back to the defaults; limit is capped at MaxLimit.
func FromRequest(r *http.Request) Params {
	p := DefaultParams()

	if page := r.URL.Query().Get("page"); page != "" {
		if v, err := strconv.Atoi(page); err == nil && v > 0 {
			p.Page = v
		}
	}

	if limit := r.URL.Query().Get("limit"); limit != "" {
		if v, err := strconv.Atoi(limit); err == nil && v > 0 {
			p.Limit = min(v, MaxLimit)
		}
	}

	return p
}

// Offset returns the index of the first item on the page.
func (p Params) Offset() int {
	return (p.Page - 1) * p.Limit
}

// Bounds returns the half-open [start, end) slice range of the page within a
// collection of total items. A page past the end yields start == end == total.
func (p Params) Bounds(total int) (start, end int) {
	start = min(p.Offset(), total)
	end = min(start+p.Limit, total)
	return start, end
}

// TotalPages returns ceil(total / limit).
func (p Params) TotalPages(total int) int {
	if p.Limit <= 0 {
		return 0
	}
	pages := total / p.Limit
	if total%p.Limit > 0 {
		pages++
	}
	return pages
}

// HasNext reports whether a page follows p.
func (p Params) HasNext(total int) bool {
	return p.Page < p.TotalPages(total)
}

// HasPrev reports whether a page precedes p.
func (p Params) HasPrev() bool {
	return p.Page > 1
}

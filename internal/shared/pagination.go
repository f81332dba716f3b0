package shared

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
)

const (
	defaultPerPage = 20
	maxPerPage     = 200
)

// Pagination contains metadata for paginated listings.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"perPage"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// NewPagination computes pagination metadata.
func NewPagination(page, perPage, total int) Pagination {
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	if page <= 0 {
		page = 1
	}
	totalPages := int(math.Ceil(float64(total) / float64(perPage)))
	return Pagination{Page: page, PerPage: perPage, Total: total, TotalPages: totalPages}
}

// PageRequest carries the page and perPage query parameters of a listing.
type PageRequest struct {
	Page    int
	PerPage int
}

// ParsePageRequest reads page and perPage from the query string, applying
// defaults and clamping perPage to 200.
func ParsePageRequest(values url.Values) (PageRequest, error) {
	page := PageRequest{Page: 1, PerPage: defaultPerPage}
	if raw := values.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return PageRequest{}, fmt.Errorf("%w: page must be a positive integer", ErrValidation)
		}
		page.Page = n
	}
	if raw := values.Get("perPage"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return PageRequest{}, fmt.Errorf("%w: perPage must be a positive integer", ErrValidation)
		}
		page.PerPage = n
	}
	if page.PerPage > maxPerPage {
		page.PerPage = maxPerPage
	}
	return page, nil
}

// Limit returns the row limit for the page.
func (p PageRequest) Limit() int {
	return p.PerPage
}

// Offset returns the row offset for the page.
func (p PageRequest) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// Meta builds response metadata given the total matching rows.
func (p PageRequest) Meta(total int) Pagination {
	return NewPagination(p.Page, p.PerPage, total)
}

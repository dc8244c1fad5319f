// Package pagination provides page-based listing helpers shared by the
// HTTP handlers. Listings accept page and per_page query parameters and
// respond with a page envelope that carries the total result count.
package pagination

import (
	"net/http"
	"strconv"
)

const (
	// DefaultPerPage is used when the client does not ask for a page size.
	DefaultPerPage = 20
	// MaxPerPage caps the page size a client may request.
	MaxPerPage = 100
)

// Params holds the normalized paging inputs for a listing query.
type Params struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
	Limit   int `json:"-"`
	Offset  int `json:"-"`
}

// Response wraps one page of results together with paging metadata.
type Response[T any] struct {
	Page         int `json:"page"`
	PerPage      int `json:"per_page"`
	TotalPages   int `json:"total_pages"`
	TotalResults int `json:"total_results"`
	Results      []T `json:"results"`
}

// ParseParams reads page and per_page from the request query string,
// clamping them to sane bounds. Invalid or missing values fall back to
// the first page at the default size.
func ParseParams(r *http.Request) Params {
	query := r.URL.Query()

	page, _ := strconv.Atoi(query.Get("page"))
	if page < 1 {
		page = 1
	}

	perPage, _ := strconv.Atoi(query.Get("per_page"))
	switch {
	case perPage < 1:
		perPage = DefaultPerPage
	case perPage > MaxPerPage:
		perPage = MaxPerPage
	}

	return Params{
		Page:    page,
		PerPage: perPage,
		Limit:   perPage,
		Offset:  (page - 1) * perPage,
	}
}

// NewResponse assembles a page envelope. A nil result slice is rendered
// as an empty JSON array rather than null.
func NewResponse[T any](results []T, page, perPage, totalResults int) Response[T] {
	if results == nil {
		results = []T{}
	}
	return Response[T]{
		Page:         page,
		PerPage:      perPage,
		TotalPages:   totalPages(totalResults, perPage),
		TotalResults: totalResults,
		Results:      results,
	}
}

func totalPages(totalResults, perPage int) int {
	if perPage <= 0 {
		return 0
	}
	pages := (totalResults + perPage - 1) / perPage
	if pages < 1 {
		pages = 1
	}
	return pages
}

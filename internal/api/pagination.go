package api

import (
	"net/http"

	"github.com/ignite/mail-pipeline/internal/domain"
	"github.com/ignite/mail-pipeline/internal/pkg/httputil"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// PaginatedResponse wraps any list data with pagination metadata.
type PaginatedResponse struct {
	Data       any            `json:"data"`
	Pagination PaginationMeta `json:"pagination"`
}

// PaginationMeta contains pagination metadata for the response.
type PaginationMeta struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"total_pages"`
	HasMore    bool `json:"has_more"`
}

// listFilter reads status, type, page and limit from the query string.
func listFilter(r *http.Request) (domain.ListFilter, int) {
	limit, offset, page := httputil.Pagination(r, defaultPageSize, maxPageSize)
	q := r.URL.Query()
	return domain.ListFilter{
		Status:    q.Get("status"),
		EmailType: q.Get("type"),
		Limit:     limit,
		Offset:    offset,
	}, page
}

func newPaginatedResponse(data any, f domain.ListFilter, page, total int) PaginatedResponse {
	totalPages := (total + f.Limit - 1) / f.Limit
	if totalPages < 1 {
		totalPages = 1
	}
	return PaginatedResponse{
		Data: data,
		Pagination: PaginationMeta{
			Page:       page,
			Limit:      f.Limit,
			Total:      total,
			TotalPages: totalPages,
			HasMore:    f.Offset+f.Limit < total,
		},
	}
}

package common

import (
	"net/http"
	"strconv"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Pagination holds the parsed pagination parameters of a list request
type Pagination struct {
	Page     int
	PageSize int
}

// PaginationInfo contains pagination details for responses
type PaginationInfo struct {
	Page       int  `json:"page"`
	PageSize   int  `json:"page_size"`
	Total      int  `json:"total"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
	HasPrev    bool `json:"has_prev"`
}

// ParsePagination extracts pagination parameters from a request,
// clamping them to sane bounds
func ParsePagination(r *http.Request) Pagination {
	page := 1
	if v := r.URL.Query().Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}

	pageSize := defaultPageSize
	if v := r.URL.Query().Get("page_size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			pageSize = n
		}
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	return Pagination{Page: page, PageSize: pageSize}
}

// Offset returns the item offset for this page
func (p Pagination) Offset() int {
	return (p.Page - 1) * p.PageSize
}

// Info builds response metadata for a total item count
func (p Pagination) Info(total int) *PaginationInfo {
	totalPages := (total + p.PageSize - 1) / p.PageSize
	return &PaginationInfo{
		Page:       p.Page,
		PageSize:   p.PageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    p.Page < totalPages,
		HasPrev:    p.Page > 1,
	}
}

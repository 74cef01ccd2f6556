package models

import "fmt"

const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100
)

// StatusFilter is either "all" or one of the task statuses.
type StatusFilter string

const StatusAll StatusFilter = "all"

// Matches reports whether a task with the given status passes the filter.
func (f StatusFilter) Matches(s TaskStatus) bool {
	return f == StatusAll || TaskStatus(f) == s
}

type SortField string

const (
	SortByID          SortField = "id"
	SortByDescription SortField = "description"
	SortByCreatedAt   SortField = "createdAt"
)

type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// ListQuery selects one page of tasks.
type ListQuery struct {
	Status    StatusFilter
	SortBy    SortField
	SortOrder SortOrder
	Page      int
	Limit     int
}

// ParseStatusFilter falls back to "all" for anything it does not recognize.
func ParseStatusFilter(s string) StatusFilter {
	if TaskStatus(s).Valid() {
		return StatusFilter(s)
	}
	return StatusAll
}

func ParseSortField(s string) SortField {
	switch SortField(s) {
	case SortByID, SortByDescription, SortByCreatedAt:
		return SortField(s)
	}
	return SortByCreatedAt
}

func ParseSortOrder(s string) SortOrder {
	if SortOrder(s) == SortAsc {
		return SortAsc
	}
	return SortDesc
}

// Normalize replaces unknown filter and sort values with defaults and
// rejects a page or limit below one. Limits above MaxLimit are capped.
func (q ListQuery) Normalize() (ListQuery, error) {
	if q.Page < 1 {
		return q, &ValidationError{Field: "page", Message: fmt.Sprintf("page must be >= 1, got %d", q.Page)}
	}
	if q.Limit < 1 {
		return q, &ValidationError{Field: "limit", Message: fmt.Sprintf("limit must be >= 1, got %d", q.Limit)}
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}
	q.Status = ParseStatusFilter(string(q.Status))
	q.SortBy = ParseSortField(string(q.SortBy))
	q.SortOrder = ParseSortOrder(string(q.SortOrder))
	return q, nil
}

func (q ListQuery) Offset() int {
	return (q.Page - 1) * q.Limit
}

// Key identifies a normalized query, used to collapse duplicate reads.
func (q ListQuery) Key() string {
	return fmt.Sprintf("%s|%s|%s|%d|%d", q.Status, q.SortBy, q.SortOrder, q.Page, q.Limit)
}

type Pagination struct {
	CurrentPage     int   `json:"currentPage"`
	TotalPages      int   `json:"totalPages"`
	TotalCount      int64 `json:"totalCount"`
	Limit           int   `json:"limit"`
	HasNextPage     bool  `json:"hasNextPage"`
	HasPreviousPage bool  `json:"hasPreviousPage"`
}

func NewPagination(page, limit int, total int64) Pagination {
	totalPages := 0
	if limit > 0 {
		totalPages = int((total + int64(limit) - 1) / int64(limit))
	}
	return Pagination{
		CurrentPage:     page,
		TotalPages:      totalPages,
		TotalCount:      total,
		Limit:           limit,
		HasNextPage:     page < totalPages,
		HasPreviousPage: page > 1,
	}
}

// TaskPage is the GET /tasks response body.
type TaskPage struct {
	Tasks      []Task     `json:"tasks"`
	Pagination Pagination `json:"pagination"`
}

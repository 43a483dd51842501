package core

import "strings"

// Page size limits for list endpoints.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ListFilter narrows a fetched list.
type ListFilter struct {
	Query    string
	Page     int
	PageSize int
}

// Page is one page of a filtered list.
type Page[T any] struct {
	Items      []T `json:"items"`
	Total      int `json:"total"`
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalPages int `json:"total_pages"`
}

// Paginate filters items by a case-insensitive substring over the fields returned by text and
// returns the requested page.
func Paginate[T any](items []T, filter ListFilter, text func(T) []string) Page[T] {
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}

	query := strings.ToLower(strings.TrimSpace(filter.Query))
	matched := make([]T, 0, len(items))
	for _, item := range items {
		if query == "" || matchesQuery(text(item), query) {
			matched = append(matched, item)
		}
	}

	out := Page[T]{Items: []T{}, Total: len(matched), Page: page, PageSize: size}
	out.TotalPages = (len(matched) + size - 1) / size
	start := (page - 1) * size
	if start >= len(matched) {
		return out
	}
	end := start + size
	if end > len(matched) {
		end = len(matched)
	}
	out.Items = matched[start:end]
	return out
}

func matchesQuery(fields []string, query string) bool {
	for _, field := range fields {
		if strings.Contains(strings.ToLower(field), query) {
			return true
		}
	}
	return false
}

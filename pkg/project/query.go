package project

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ParseQuery reads projection parameters from HTTP query values:
// search, category, status, sort, dir, page and page_size (or limit).
func ParseQuery(v url.Values) (Query, error) {
	q := Query{
		Search:   strings.TrimSpace(v.Get("search")),
		Category: v.Get("category"),
		Status:   v.Get("status"),
		SortKey:  v.Get("sort"),
		SortDir:  strings.ToLower(v.Get("dir")),
		PageSize: DefaultPageSize,
	}

	if q.SortDir != "" && q.SortDir != DirAsc && q.SortDir != DirDesc {
		return Query{}, fmt.Errorf("invalid sort direction %q", q.SortDir)
	}

	if p := v.Get("page"); p != "" {
		page, err := strconv.Atoi(p)
		if err != nil {
			return Query{}, fmt.Errorf("invalid page: %w", err)
		}
		if page < 0 {
			return Query{}, fmt.Errorf("invalid page: %d", page)
		}
		q.Page = page
	}

	sizeParam := v.Get("page_size")
	if sizeParam == "" {
		sizeParam = v.Get("limit")
	}
	if sizeParam != "" {
		size, err := strconv.Atoi(sizeParam)
		if err != nil {
			return Query{}, fmt.Errorf("invalid page size: %w", err)
		}
		q.PageSize = size
	}

	if q.PageSize < 1 {
		q.PageSize = DefaultPageSize
	}

	if q.PageSize > MaxPageSize {
		q.PageSize = MaxPageSize
	}

	return q, nil
}

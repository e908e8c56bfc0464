package project

import (
	"cmp"
	"slices"
	"strings"

	"github.com/samber/lo"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Item is anything a dashboard lists. FilterCategory and FilterStatus may
// return "" when the dimension does not apply to the item kind.
type Item interface {
	SearchFields() []string
	FilterCategory() string
	FilterStatus() string
	Time() int64
	Number(key string) (float64, bool)
	Text(key string) (string, bool)
}

const (
	SortRecency = "recency"

	DirAsc  = "asc"
	DirDesc = "desc"

	// All disables a filter dimension.
	All = "all"

	DefaultPageSize = 20
	MaxPageSize     = 1000
)

type Query struct {
	Search   string
	Category string
	Status   string
	SortKey  string
	SortDir  string
	Page     int
	PageSize int
}

func active(v string) bool {
	return v != "" && !strings.EqualFold(v, All)
}

// Project filters, sorts and paginates items. The input slice is never modified.
func Project[T Item](items []T, q Query) []T {
	out := Filter(items, q)
	Sort(out, q.SortKey, q.SortDir)
	return Paginate(out, q.Page, q.PageSize)
}

// Filter keeps the items that match every active dimension of q.
func Filter[T Item](items []T, q Query) []T {
	search := strings.ToLower(strings.TrimSpace(q.Search))
	return lo.Filter(items, func(it T, _ int) bool {
		if active(q.Category) && !strings.EqualFold(it.FilterCategory(), q.Category) {
			return false
		}
		if active(q.Status) && !strings.EqualFold(it.FilterStatus(), q.Status) {
			return false
		}
		if search != "" && !matches(it, search) {
			return false
		}
		return true
	})
}

func matches(it Item, needle string) bool {
	for _, f := range it.SearchFields() {
		if f != "" && strings.Contains(strings.ToLower(f), needle) {
			return true
		}
	}
	return false
}

// Sort orders items in place. The sort is stable: items with equal keys keep
// their relative order. An empty key leaves the order untouched.
func Sort[T Item](items []T, key, dir string) {
	if key == "" || len(items) < 2 {
		return
	}

	desc := dir != DirAsc

	if key == SortRecency {
		slices.SortStableFunc(items, func(a, b T) int {
			return order(cmp.Compare(a.Time(), b.Time()), desc)
		})
		return
	}

	if _, ok := items[0].Number(key); ok {
		slices.SortStableFunc(items, func(a, b T) int {
			av, _ := a.Number(key)
			bv, _ := b.Number(key)
			return order(cmp.Compare(av, bv), desc)
		})
		return
	}

	// String keys sort ascending unless asked otherwise.
	desc = dir == DirDesc
	col := collate.New(language.English, collate.IgnoreCase)
	slices.SortStableFunc(items, func(a, b T) int {
		as, _ := a.Text(key)
		bs, _ := b.Text(key)
		return order(col.CompareString(as, bs), desc)
	})
}

func order(c int, desc bool) int {
	if desc {
		return -c
	}
	return c
}

// Paginate returns page number page (zero based). A page past the end of the
// data yields an empty slice.
func Paginate[T any](items []T, page, pageSize int) []T {
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	if page < 0 {
		page = 0
	}

	// Checked before multiplying so a huge page cannot overflow start.
	if len(items) == 0 || page > (len(items)-1)/pageSize {
		return []T{}
	}
	start := page * pageSize
	end := min(start+pageSize, len(items))

	out := make([]T, end-start)
	copy(out, items[start:end])
	return out
}

package envelope

import "github.com/spf13/cast"

// DefaultMetaPaths lists where pagination metadata has been observed, in
// priority order. The empty path covers top-level Laravel paginator fields.
var DefaultMetaPaths = []string{"meta", "data.meta", "meta.pagination", "pagination", ""}

// PageMeta is the pagination metadata of one catalog page.
type PageMeta struct {
	CurrentPage int
	LastPage    int
	Total       int
	Found       bool
}

// Pagination reads current_page, last_page and total from the first path
// holding a last_page field.
func Pagination(v any, paths ...string) PageMeta {
	if len(paths) == 0 {
		paths = DefaultMetaPaths
	}
	for _, p := range paths {
		node, ok := walk(v, p)
		if !ok {
			continue
		}
		m, ok := node.(map[string]any)
		if !ok {
			continue
		}
		last, ok := m["last_page"]
		if !ok {
			continue
		}
		meta := PageMeta{
			CurrentPage: cast.ToInt(m["current_page"]),
			LastPage:    cast.ToInt(last),
			Total:       cast.ToInt(m["total"]),
			Found:       true,
		}
		if meta.LastPage < 1 {
			meta.LastPage = 1
		}
		return meta
	}
	return PageMeta{LastPage: 1}
}

package shared

// Pagination carries the page window for list queries.
type Pagination struct {
	Page     int
	PageSize int
}

// NewPagination clamps page and size to sane bounds.
func NewPagination(page, size int) Pagination {
	if size <= 0 {
		size = 20
	}
	if size > 100 {
		size = 100
	}
	if page <= 0 {
		page = 1
	}
	return Pagination{Page: page, PageSize: size}
}

// Offset returns the row offset for the current page.
func (p Pagination) Offset() int {
	return (p.Page - 1) * p.PageSize
}

package repository

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// PageQuery is the normalized list window every List method accepts.
type PageQuery struct {
	Page     int
	PageSize int
}

// Normalize clamps the window to sane bounds.
func (q PageQuery) Normalize() PageQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = defaultPageSize
	}
	if q.PageSize > maxPageSize {
		q.PageSize = maxPageSize
	}
	return q
}

// Offset returns the SQL offset for the window.
func (q PageQuery) Offset() int {
	return (q.Page - 1) * q.PageSize
}

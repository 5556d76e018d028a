package pagination

// Pagination is the page/size query contract shared by all listing endpoints.
type Pagination struct {
	Page int `form:"page,default=1" validate:"gte=1"`
	Size int `form:"size,default=20" validate:"gte=1,lte=250"`
}

func (p Pagination) Normalize() Pagination {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Size < 1 {
		p.Size = 20
	}
	if p.Size > 250 {
		p.Size = 250
	}
	return p
}

func (p Pagination) Offset() int {
	n := p.Normalize()
	return (n.Page - 1) * n.Size
}

func (p Pagination) Limit() int {
	return p.Normalize().Size
}

// Page is the listing envelope returned to collaborators.
type Page[T any] struct {
	Items []T   `json:"items"`
	Total int64 `json:"total"`
	Page  int   `json:"page"`
	Size  int   `json:"size"`
}

func NewPage[T any](items []T, total int64, p Pagination) *Page[T] {
	n := p.Normalize()
	if items == nil {
		items = []T{}
	}
	return &Page[T]{
		Items: items,
		Total: total,
		Page:  n.Page,
		Size:  n.Size,
	}
}

package jsonapi

import (
	"net/url"
	"strconv"
)

// MaxPageSize caps the page size a caller may request.
const MaxPageSize = 100

// Pagination holds the paging window of a collection response.
type Pagination struct {
	Total   int64  // total number of items
	Page    int    // 1-based
	PerPage int    // items per page
	BaseURL string // used to build links; empty disables links
}

// NewPagination creates a new Pagination instance.
func NewPagination(total int64, page, perPage int, baseURL string) *Pagination {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}
	return &Pagination{
		Total:   total,
		Page:    page,
		PerPage: perPage,
		BaseURL: baseURL,
	}
}

// TotalPages returns the total number of pages; an empty collection has one.
func (p *Pagination) TotalPages() int {
	pages := int((p.Total + int64(p.PerPage) - 1) / int64(p.PerPage))
	if pages < 1 {
		pages = 1
	}
	return pages
}

// Offset returns the index of the first item on the page.
func (p *Pagination) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// Limit returns the page size.
func (p *Pagination) Limit() int {
	return p.PerPage
}

// Window clamps the page to a slice of n items and returns its bounds.
func (p *Pagination) Window(n int) (start, end int) {
	start = min(p.Offset(), n)
	end = min(start+p.Limit(), n)
	return start, end
}

// Links generates pagination links.
func (p *Pagination) Links() *Links {
	if p.BaseURL == "" {
		return nil
	}
	total := p.TotalPages()
	links := &Links{
		Self:  p.buildURL(p.Page),
		First: p.buildURL(1),
		Last:  p.buildURL(total),
	}
	if p.Page > 1 {
		links.Prev = p.buildURL(p.Page - 1)
	}
	if p.Page < total {
		links.Next = p.buildURL(p.Page + 1)
	}
	return links
}

func (p *Pagination) buildURL(page int) string {
	u, err := url.Parse(p.BaseURL)
	if err != nil {
		return p.BaseURL
	}
	q := u.Query()
	q.Set("page[number]", strconv.Itoa(page))
	q.Set("page[size]", strconv.Itoa(p.PerPage))
	u.RawQuery = q.Encode()
	return u.String()
}

// Meta returns pagination metadata.
func (p *Pagination) Meta() Meta {
	return Meta{
		"total":    p.Total,
		"page":     p.Page,
		"per_page": p.PerPage,
		"pages":    p.TotalPages(),
	}
}

// ParsePaginationParams reads page[number] and page[size] from a query,
// falling back to page and per_page. The size is capped at MaxPageSize.
func ParsePaginationParams(query url.Values, defaultPerPage int) (page, perPage int) {
	page = positive(query, 1, "page[number]", "page")
	perPage = positive(query, defaultPerPage, "page[size]", "per_page")
	if perPage > MaxPageSize {
		perPage = MaxPageSize
	}
	return page, perPage
}

// positive returns the first key holding a positive integer, or def.
func positive(query url.Values, def int, keys ...string) int {
	for _, k := range keys {
		if n, err := strconv.Atoi(query.Get(k)); err == nil && n > 0 {
			return n
		}
	}
	return def
}

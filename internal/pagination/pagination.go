// Package pagination parses page-number pagination parameters from a query
// string and builds the next/previous links of a list envelope.
package pagination

import (
	"math"
	"net/url"
	"strconv"
)

// Params represents pagination parameters extracted from a request.
type Params struct {
	Page   int32  // Current page number (1-based)
	Limit  int32  // Number of items per page
	Offset int32  // Calculated offset for database queries
	Sort   string // "newest", "oldest", "asc" or "desc"
}

const (
	// MaxLimit is the maximum number of items allowed per page
	MaxLimit int32 = 100
	// DefaultPage is the default page number when not specified
	DefaultPage int32 = 1
	// DefaultLimit is the default number of items per page when not specified
	DefaultLimit int32 = 20
	// DefaultSort is the default sort order when not specified
	DefaultSort = "newest"

	pageParam     = "page"
	pageSizeParam = "page_size"
	sortParam     = "sort"
)

// calculateOffset saturates at math.MaxInt32, so a page past the end of any
// result set reads as empty instead of wrapping around.
func calculateOffset(page, limit int32) int32 {
	if page < 1 {
		page = 1
	}
	offset := int64(page-1) * int64(limit)
	if offset > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(offset)
}

func isValidSort(sort string) bool {
	switch sort {
	case "newest", "oldest", "asc", "desc":
		return true
	default:
		return false
	}
}

// PaginationOption configures the defaults applied before the query is read.
type PaginationOption func(*Params)

// WithDefaultLimit sets the default page size. Non-positive values are ignored.
func WithDefaultLimit(limit int32) PaginationOption {
	return func(p *Params) {
		if limit > 0 {
			p.Limit = limit
		}
	}
}

// WithDefaultSort sets the default sort order. Invalid values are ignored.
func WithDefaultSort(sort string) PaginationOption {
	if !isValidSort(sort) {
		return func(p *Params) {}
	}
	return func(p *Params) {
		p.Sort = sort
	}
}

// GetPaginationParams extracts pagination parameters from URL query values,
// enforcing MaxLimit and computing the offset.
func GetPaginationParams(q url.Values, opts ...PaginationOption) *Params {
	params := &Params{
		Page:  DefaultPage,
		Limit: DefaultLimit,
		Sort:  DefaultSort,
	}

	for _, opt := range opts {
		opt(params)
	}

	if pageStr := q.Get(pageParam); pageStr != "" {
		if val, err := strconv.ParseInt(pageStr, 10, 32); err == nil && val > 0 {
			params.Page = int32(val)
		}
	}

	if limitStr := q.Get(pageSizeParam); limitStr != "" {
		if val, err := strconv.ParseInt(limitStr, 10, 32); err == nil && val > 0 {
			params.Limit = int32(val)
		}
	}

	if params.Limit > MaxLimit {
		params.Limit = MaxLimit
	}

	params.Offset = calculateOffset(params.Page, params.Limit)

	if sortStr := q.Get(sortParam); sortStr != "" && isValidSort(sortStr) {
		params.Sort = sortStr
	}

	return params
}

// GetHasNext determines if there are more items available after the current page.
func GetHasNext(offset, limit, count int32) bool {
	return int64(offset)+int64(limit) < int64(count)
}

// Links returns absolute-path links to the neighbouring pages of base, or
// nil where no such page exists. Other query parameters are preserved.
func Links(base *url.URL, params *Params, count int32) (next, previous *string) {
	if GetHasNext(params.Offset, params.Limit, count) {
		link := pageLink(base, params.Page+1)
		next = &link
	}
	if params.Page > 1 {
		link := pageLink(base, params.Page-1)
		previous = &link
	}
	return next, previous
}

func pageLink(base *url.URL, page int32) string {
	u := *base
	q := u.Query()
	if page <= 1 {
		q.Del(pageParam)
	} else {
		q.Set(pageParam, strconv.FormatInt(int64(page), 10))
	}
	u.RawQuery = q.Encode()
	return u.RequestURI()
}

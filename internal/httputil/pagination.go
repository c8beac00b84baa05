package httputil

import (
	"fmt"
	"strconv"
)

const (
	defaultPerPage = 50
	maxPerPage     = 200
)

// ParsePagination parses and validates page/per_page query parameters
// for the call-ledger listings, where a daily window can hold hundreds
// of live records. Defaults: page=1, per_page=50; per_page is capped at
// 200. Pages below 1 are clamped rather than rejected.
func ParsePagination(pageStr, perPageStr string) (int, int, error) {
	page := 1
	perPage := defaultPerPage

	if pageStr != "" {
		p, err := strconv.Atoi(pageStr)
		if err != nil {
			return 0, 0, fmt.Errorf("page must be an integer")
		}
		if p < 1 {
			p = 1
		}
		page = p
	}

	if perPageStr != "" {
		pp, err := strconv.Atoi(perPageStr)
		if err != nil {
			return 0, 0, fmt.Errorf("per_page must be an integer")
		}
		if pp < 1 || pp > maxPerPage {
			return 0, 0, fmt.Errorf("per_page must be between 1 and %d", maxPerPage)
		}
		perPage = pp
	}

	return page, perPage, nil
}

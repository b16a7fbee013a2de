package service

import (
	"math"

	"readaddicts/internal/models"
)

// DefaultMaxPageLimit caps page sizes when a service is built without one.
const DefaultMaxPageLimit = 100

// Page is a 1-based page request.
type Page struct {
	Page  int
	Limit int
}

// offset validates the page request and returns the row offset and the
// effective limit. Limits above maxLimit are clamped.
func (p Page) offset(maxLimit int) (int, int, error) {
	if p.Page < 1 {
		return 0, 0, models.NewValidationError("page must be at least 1")
	}
	if p.Limit < 1 {
		return 0, 0, models.NewValidationError("limit must be at least 1")
	}
	if maxLimit <= 0 {
		maxLimit = DefaultMaxPageLimit
	}
	limit := p.Limit
	if limit > maxLimit {
		limit = maxLimit
	}
	if p.Page-1 > math.MaxInt/limit {
		return 0, 0, models.NewValidationError("page is out of range")
	}
	return (p.Page - 1) * limit, limit, nil
}

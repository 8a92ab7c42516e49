package engine

import (
	"errors"
	"fmt"
)

// PageQuota bounds the number of page requests one form fetch may issue.
//
// A fetch that hits the quota stops early and reports truncation instead
// of failing: the pages already retrieved are still processed. This mirrors
// an operator running a bounded sample before a full recovery.
//
// A limit of 0 means unlimited.
type PageQuota struct {
	limit   int
	current int
}

// NewPageQuota creates a quota with the given page limit.
func NewPageQuota(limit int) *PageQuota {
	if limit < 0 {
		limit = 0
	}
	return &PageQuota{limit: limit}
}

// Take consumes one page request. It returns a *PageQuotaExceededError
// once the limit has been reached; the counter does not advance past it.
func (q *PageQuota) Take(formID string) error {
	if q.limit > 0 && q.current >= q.limit {
		return &PageQuotaExceededError{FormID: formID, Limit: q.limit}
	}
	q.current++
	return nil
}

// Current returns the number of pages taken.
func (q *PageQuota) Current() int {
	return q.current
}

// Limit returns the configured limit, 0 for unlimited.
func (q *PageQuota) Limit() int {
	return q.limit
}

// PageQuotaExceededError reports that a fetch was truncated.
type PageQuotaExceededError struct {
	FormID string
	Limit  int
}

// Error implements the error interface.
func (e *PageQuotaExceededError) Error() string {
	return fmt.Sprintf("form %s reached the page limit of %d", e.FormID, e.Limit)
}

// IsPageQuotaExceeded reports whether err is a PageQuotaExceededError.
func IsPageQuotaExceeded(err error) bool {
	var pe *PageQuotaExceededError
	return errors.As(err, &pe)
}

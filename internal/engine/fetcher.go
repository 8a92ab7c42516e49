package engine

import (
	"context"
	"fmt"

	"github.com/roach88/formrecovery/internal/hubspot"
	"github.com/roach88/formrecovery/internal/model"
)

const (
	// DefaultPageSize is the number of submissions requested per page. It
	// is the most the forms submissions endpoint returns; asking for more
	// yields short pages that would end pagination early.
	DefaultPageSize = 50

	// DefaultMaxStalledPages is how many consecutive repeated-cursor pages
	// a fetch tolerates before failing as stalled.
	DefaultMaxStalledPages = 3
)

// SubmissionSource lists form submissions page by page.
type SubmissionSource interface {
	ListFormSubmissions(ctx context.Context, formID, after string, limit int) (model.SubmissionPage, error)
}

// FetchOptions configures a Fetcher.
type FetchOptions struct {
	PageSize        int
	MaxPages        int
	MaxStalledPages int
}

func (o FetchOptions) withDefaults() FetchOptions {
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	if o.MaxStalledPages <= 0 {
		o.MaxStalledPages = DefaultMaxStalledPages
	}
	return o
}

// PageInfo describes one page request of a fetch.
type PageInfo struct {
	Number   int
	Cursor   string
	Next     string
	Count    int
	Repeated bool
}

// FetchReport summarizes a fetch. It is returned even when the fetch fails
// so the pages seen so far can be reported.
type FetchReport struct {
	Pages     []PageInfo
	Total     int
	Repeats   int
	Truncated bool
	MaxPages  int
}

// Fetcher retrieves every submission of a form before any is processed.
type Fetcher struct {
	src  SubmissionSource
	opts FetchOptions
}

// NewFetcher creates a Fetcher over src.
func NewFetcher(src SubmissionSource, opts FetchOptions) *Fetcher {
	return &Fetcher{src: src, opts: opts.withDefaults()}
}

// FetchAll follows the continuation token until the upstream signals the
// last page, returning submissions in upstream order.
//
// Pagination ends on an empty continuation token, an empty page, or a page
// shorter than the page size. A page whose cursor was already consumed is
// followed but not appended, so a briefly repeating token never duplicates
// submissions. Upstream failures are returned as *RunError.
func (f *Fetcher) FetchAll(ctx context.Context, formID string) ([]model.Submission, FetchReport, error) {
	var (
		all     []model.Submission
		report  = FetchReport{MaxPages: f.opts.MaxPages}
		quota   = NewPageQuota(f.opts.MaxPages)
		tracker = NewCursorTracker(f.opts.MaxStalledPages)
		cursor  string
	)

	for {
		if err := quota.Take(formID); err != nil {
			report.Truncated = true
			break
		}

		page, err := f.src.ListFormSubmissions(ctx, formID, cursor, f.opts.PageSize)
		if err != nil {
			if ctx.Err() != nil {
				return all, report, ctx.Err()
			}
			return all, report, fetchError(formID, err)
		}

		fresh := tracker.Visit(cursor)
		report.Pages = append(report.Pages, PageInfo{
			Number:   quota.Current(),
			Cursor:   cursor,
			Next:     page.Next,
			Count:    len(page.Submissions),
			Repeated: !fresh,
		})
		if fresh {
			all = append(all, page.Submissions...)
		} else if tracker.Stalled() {
			report.Repeats = tracker.Repeats()
			report.Total = len(all)
			return all, report, &RunError{
				Code:    CodeStalled,
				Stage:   StageFetch,
				FormID:  formID,
				Message: fmt.Sprintf("continuation token %q repeated on %d consecutive pages", cursor, f.opts.MaxStalledPages+1),
			}
		}

		if len(page.Submissions) == 0 || page.Next == "" || len(page.Submissions) < f.opts.PageSize {
			break
		}
		cursor = page.Next
	}

	report.Repeats = tracker.Repeats()
	report.Total = len(all)
	return all, report, nil
}

func fetchError(formID string, err error) *RunError {
	if hubspot.IsNotFound(err) {
		return &RunError{
			Code:    CodeNotFound,
			Stage:   StageFetch,
			FormID:  formID,
			Message: "form not found or deleted",
			Err:     err,
		}
	}
	return &RunError{Code: CodeUpstream, Stage: StageFetch, FormID: formID, Err: err}
}

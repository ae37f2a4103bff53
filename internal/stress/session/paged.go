package session

import (
	"context"

	"github.com/pkg/errors"
)

// PageFetcher retrieves the page following the current one and reports whether another follows it.
type PageFetcher func(ctx context.Context) (rows []Row, more bool, err error)

// PagedResult is a ResultSet backed by a PageFetcher. It is not safe for concurrent use; a result
// belongs to the completion that received it.
type PagedResult struct {
	rows  []Row
	more  bool
	fetch PageFetcher
}

func NewPagedResult(first []Row, more bool, fetch PageFetcher) *PagedResult {
	return &PagedResult{rows: first, more: more && fetch != nil, fetch: fetch}
}

// EmptyResult is the result of statements that return no rows.
func EmptyResult() *PagedResult {
	return &PagedResult{}
}

func (r *PagedResult) Rows() []Row {
	return r.rows
}

func (r *PagedResult) HasMorePages() bool {
	return r.more
}

func (r *PagedResult) FetchNextPage(ctx context.Context) error {
	if !r.more {
		return errors.New("no more pages")
	}
	rows, more, err := r.fetch(ctx)
	if err != nil {
		return err
	}
	r.rows = rows
	r.more = more
	return nil
}

// SlicePages splits rows into pages of pageSize and returns a result positioned on the first.
// A non-positive pageSize yields a single page.
func SlicePages(rows []Row, pageSize int) *PagedResult {
	if pageSize <= 0 || len(rows) <= pageSize {
		return NewPagedResult(rows, false, nil)
	}
	offset := pageSize
	fetch := func(ctx context.Context) ([]Row, bool, error) {
		if err := ctx.Err(); err != nil {
			return nil, false, errors.WithStack(err)
		}
		end := offset + pageSize
		if end > len(rows) {
			end = len(rows)
		}
		page := rows[offset:end]
		offset = end
		return page, offset < len(rows), nil
	}
	return NewPagedResult(rows[:pageSize], true, fetch)
}

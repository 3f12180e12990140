package storage

import (
	"context"
	"sync"
)

// SliceIterator is an Iterator over records materialized up front.
type SliceIterator struct {
	mu      sync.Mutex
	records []*Record
	total   *int
	pos     int
	closed  bool
}

var _ Iterator = (*SliceIterator)(nil)

// NewSliceIterator returns an iterator draining records. total is nil when the
// count was not requested.
func NewSliceIterator(records []*Record, total *int) *SliceIterator {
	return &SliceIterator{records: records, total: total}
}

// CountOnly returns an iterator with a total count and no records.
func CountOnly(total int) *SliceIterator {
	return NewSliceIterator(nil, &total)
}

func (it *SliceIterator) Next(ctx context.Context) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.closed || it.pos >= len(it.records) {
		return nil, nil
	}
	r := it.records[it.pos]
	it.records[it.pos] = nil
	it.pos++
	return r, nil
}

func (it *SliceIterator) TotalCount() (int, bool) {
	if it.total == nil {
		return 0, false
	}
	return *it.total, true
}

func (it *SliceIterator) Close() error {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.closed = true
	it.records = nil
	return nil
}

// Collect drains it into a slice and closes it.
func Collect(ctx context.Context, it Iterator) ([]*Record, error) {
	defer it.Close() //nolint:errcheck
	var out []*Record
	for {
		r, err := it.Next(ctx)
		if err != nil {
			return nil, err
		}
		if r == nil {
			return out, nil
		}
		out = append(out, r)
	}
}

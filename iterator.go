package bunquery

import (
	"fmt"
	"sort"

	"github.com/kartikbazzad/bunbase/bunquery/internal/query"
	"github.com/kartikbazzad/bunbase/bunquery/storage"
)

// Iterator defines the interface for iterating over record results.
// It follows the standard Cursor pattern: Next() advances, Value() retrieves.
type Iterator interface {
	Next() bool                     // Advances to the next record. Returns false if exhausted.
	Value() (storage.Record, error) // Returns the current record.
	Close() error                   // Releases resources.
}

// SliceIterator iterates over an already fetched snapshot, in store order.
type SliceIterator struct {
	records      []storage.Record
	currentIndex int
}

func NewSliceIterator(records []storage.Record) *SliceIterator {
	return &SliceIterator{records: records, currentIndex: -1}
}

func (it *SliceIterator) Next() bool {
	it.currentIndex++
	return it.currentIndex < len(it.records)
}

func (it *SliceIterator) Value() (storage.Record, error) {
	if it.currentIndex < 0 || it.currentIndex >= len(it.records) {
		return nil, fmt.Errorf("iterator out of bounds")
	}
	return it.records[it.currentIndex], nil
}

func (it *SliceIterator) Close() error {
	return nil
}

// FilterIterator keeps records matched by every matcher
type FilterIterator struct {
	source   Iterator
	matchers []query.Matcher
	current  storage.Record
}

func NewFilterIterator(source Iterator, matchers ...query.Matcher) *FilterIterator {
	return &FilterIterator{
		source:   source,
		matchers: matchers,
	}
}

func (it *FilterIterator) Next() bool {
	for it.source.Next() {
		rec, err := it.source.Value()
		if err != nil {
			continue
		}
		if it.matches(rec) {
			it.current = rec
			return true
		}
	}
	return false
}

func (it *FilterIterator) matches(rec storage.Record) bool {
	for _, m := range it.matchers {
		if !m.Matches(rec) {
			return false
		}
	}
	return true
}

func (it *FilterIterator) Value() (storage.Record, error) {
	return it.current, nil
}

func (it *FilterIterator) Close() error {
	return it.source.Close()
}

// LimitIterator limits the number of results
type LimitIterator struct {
	source Iterator
	limit  int
	count  int
}

func NewLimitIterator(source Iterator, limit int) *LimitIterator {
	return &LimitIterator{
		source: source,
		limit:  limit,
	}
}

func (it *LimitIterator) Next() bool {
	if it.count >= it.limit {
		return false
	}
	if it.source.Next() {
		it.count++
		return true
	}
	return false
}

func (it *LimitIterator) Value() (storage.Record, error) {
	return it.source.Value()
}

func (it *LimitIterator) Close() error {
	return it.source.Close()
}

// SkipIterator skips the first N results
type SkipIterator struct {
	source  Iterator
	skip    int
	skipped bool
}

func NewSkipIterator(source Iterator, skip int) *SkipIterator {
	return &SkipIterator{
		source: source,
		skip:   skip,
	}
}

func (it *SkipIterator) Next() bool {
	if !it.skipped {
		it.skipped = true
		for i := 0; i < it.skip; i++ {
			if !it.source.Next() {
				return false // Source exhausted before skip finished
			}
		}
	}
	return it.source.Next()
}

func (it *SkipIterator) Value() (storage.Record, error) {
	return it.source.Value()
}

func (it *SkipIterator) Close() error {
	return it.source.Close()
}

// SortIterator buffers all results, sorts them, and iterates.
// The sort is stable so equal keys keep store order.
type SortIterator struct {
	source    Iterator
	sortField string
	desc      bool
	records   []storage.Record
	index     int
	prepared  bool
}

func NewSortIterator(source Iterator, field string, desc bool) *SortIterator {
	return &SortIterator{
		source:    source,
		sortField: field,
		desc:      desc,
		index:     -1,
	}
}

func (it *SortIterator) Next() bool {
	if !it.prepared {
		for it.source.Next() {
			rec, err := it.source.Value()
			if err == nil {
				it.records = append(it.records, rec)
			}
		}

		sort.SliceStable(it.records, func(i, j int) bool {
			result := query.CompareValues(it.records[i][it.sortField], it.records[j][it.sortField])
			if it.desc {
				return result > 0
			}
			return result < 0
		})
		it.prepared = true
	}

	it.index++
	return it.index < len(it.records)
}

func (it *SortIterator) Value() (storage.Record, error) {
	if it.index < 0 || it.index >= len(it.records) {
		return nil, fmt.Errorf("iterator out of bounds")
	}
	return it.records[it.index], nil
}

func (it *SortIterator) Close() error {
	it.records = nil // Release memory
	return it.source.Close()
}

// drain collects every remaining value of iter and closes it.
func drain(iter Iterator) ([]storage.Record, error) {
	defer iter.Close()
	results := make([]storage.Record, 0)
	for iter.Next() {
		rec, err := iter.Value()
		if err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, nil
}

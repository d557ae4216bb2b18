package bunquery

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kartikbazzad/bunbase/bunquery/internal/metrics"
	"github.com/kartikbazzad/bunbase/bunquery/storage"
)

// loadRelations attaches every relation named in with to each record.
//
// Without a pool, records are resolved one after another in result order and the
// first failure stops the load; earlier records already carry their relations.
// With a pool, records resolve concurrently; the first failure cancels the rest,
// and which other records got their relations attached is unspecified.
func (c *Client) loadRelations(ctx context.Context, m *Model, records []storage.Record, with map[string]Refine) error {
	names := make([]string, 0, len(with))
	for name := range with {
		names = append(names, name)
	}
	sort.Strings(names)

	if c.pool == nil || len(records) == 1 {
		for _, rec := range records {
			if err := c.loadRecordSafe(ctx, m, rec, names, with); err != nil {
				return err
			}
		}
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for _, rec := range records {
		rec := rec
		wg.Add(1)
		task := func() {
			defer wg.Done()
			if err := c.loadRecordSafe(ctx, m, rec, names, with); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
					cancel()
				}
				mu.Unlock()
			}
		}
		if err := c.pool.Submit(task); err != nil {
			// Pool saturated or released: run on the caller's goroutine.
			task()
		}
	}
	wg.Wait()
	return firstErr
}

// loadRecordSafe is loadRecord with a panic from a refine or a store turned
// into an error, so a pooled task cannot fail silently.
func (c *Client) loadRecordSafe(ctx context.Context, m *Model, rec storage.Record, names []string, with map[string]Refine) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("relation loader panic: %v", r)
		}
	}()
	return c.loadRecord(ctx, m, rec, names, with)
}

func (c *Client) loadRecord(ctx context.Context, m *Model, rec storage.Record, names []string, with map[string]Refine) error {
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		related, err := c.resolve(ctx, m, rec, name, with[name])
		if err != nil {
			return err
		}
		rec[name] = related
	}
	return nil
}

// resolve runs the query for one relation of one source record.
func (c *Client) resolve(ctx context.Context, m *Model, source storage.Record, name string, refine Refine) ([]storage.Record, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: cannot load %q", ErrNoModel, name)
	}
	rel, err := m.Relation(name)
	if err != nil {
		return nil, err
	}

	base := c.relatedQuery(rel).Where(rel.filterFor(source))
	q := base
	if refine != nil {
		if refined := refine(base); refined != nil {
			q = refined
		}
	}

	related, err := q.Get(ctx)
	metrics.RelationLoadsTotal.WithLabelValues(rel.Kind.String(), metrics.Status(err)).Inc()
	if err != nil {
		return nil, err
	}
	return related, nil
}

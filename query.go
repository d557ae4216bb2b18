package bunquery

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kartikbazzad/bunbase/bunquery/internal/logger"
	"github.com/kartikbazzad/bunbase/bunquery/internal/metrics"
	"github.com/kartikbazzad/bunbase/bunquery/internal/query"
	"github.com/kartikbazzad/bunbase/bunquery/storage"
)

// Refine adjusts the base query of a relation before it runs. It may chain
// Where, Limit, Skip, OrderBy and With, so relation loading nests. A nil Refine,
// or one returning nil, runs the base query unchanged.
type Refine func(*Query) *Query

// Query is a fluent, reusable query builder bound to one store.
//
// Configuration methods mutate the query and return it for chaining. Get and Find
// consume the configuration and reset it, so a long-lived Query can be reused.
// A Query has a single owner: it must not be configured or executed from two
// goroutines at once. Use Clone to hand out an independent copy.
type Query struct {
	client *Client
	store  string
	model  *Model // nil when bound to a bare store
	state  queryState
}

type queryState struct {
	clauses []query.Clause
	limit   int
	skip    int
	sort    *sortSpec
	with    map[string]Refine
}

type sortSpec struct {
	field string
	desc  bool
}

func newQuery(c *Client, store string, m *Model) *Query {
	return &Query{client: c, store: store, model: m}
}

// StoreName returns the store the query reads.
func (q *Query) StoreName() string {
	return q.store
}

// Model returns the bound model, or nil.
func (q *Query) Model() *Model {
	return q.model
}

// Where appends a clause. Clauses combine with AND.
func (q *Query) Where(clause Clause) *Query {
	q.state.clauses = append(q.state.clauses, clause)
	return q
}

// Limit caps the number of returned records. n <= 0 removes the cap.
func (q *Query) Limit(n int) *Query {
	q.state.limit = max(n, 0)
	return q
}

// Skip drops the first n filtered records. n <= 0 removes the offset.
func (q *Query) Skip(n int) *Query {
	q.state.skip = max(n, 0)
	return q
}

// OrderBy sorts filtered records by field before skip and limit. Without it
// records keep store order.
func (q *Query) OrderBy(field string, desc bool) *Query {
	if field == "" {
		q.state.sort = nil
		return q
	}
	q.state.sort = &sortSpec{field: field, desc: desc}
	return q
}

// With sets the relations to eager-load, replacing any earlier With.
func (q *Query) With(relations map[string]Refine) *Query {
	with := make(map[string]Refine, len(relations))
	for name, refine := range relations {
		with[name] = refine
	}
	q.state.with = with
	return q
}

// Clone returns an independent copy of the query and its current configuration.
func (q *Query) Clone() *Query {
	cp := *q
	cp.state.clauses = append([]query.Clause(nil), q.state.clauses...)
	if q.state.sort != nil {
		s := *q.state.sort
		cp.state.sort = &s
	}
	if q.state.with != nil {
		cp.state.with = make(map[string]Refine, len(q.state.with))
		for k, v := range q.state.with {
			cp.state.with[k] = v
		}
	}
	return &cp
}

// take returns the accumulated configuration and resets the builder.
func (q *Query) take() queryState {
	st := q.state
	q.state = queryState{}
	return st
}

func (q *Query) validate(st queryState) error {
	if !q.client.strict {
		return nil
	}
	for _, clause := range st.clauses {
		if err := query.Validate(clause); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidQuery, err)
		}
	}
	return nil
}

func withQueryID(ctx context.Context) context.Context {
	if _, ok := logger.QueryID(ctx); ok {
		return ctx
	}
	return logger.WithQueryID(ctx, uuid.NewString())
}

// Get fetches every record of the store, keeps those matching all clauses,
// applies ordering, skip and limit in that order, then resolves the With
// relations of each remaining record. The builder is reset whether or not Get
// succeeds. Store errors are returned unchanged.
func (q *Query) Get(ctx context.Context) (results []storage.Record, err error) {
	st := q.take()
	ctx = withQueryID(ctx)
	log := logger.WithQuery(ctx, q.client.logger)
	started := time.Now()
	defer func() {
		metrics.ObserveExecution(q.store, "get", started, len(results), err)
		if err != nil {
			log.Error("query failed", "store", q.store, "op", "get", "error", err)
			return
		}
		log.Debug("query executed", "store", q.store, "op", "get",
			"clauses", len(st.clauses), "returned", len(results), "duration", time.Since(started))
	}()

	if err := q.validate(st); err != nil {
		return nil, err
	}

	records, err := q.client.store.FetchAll(ctx, q.store)
	if err != nil {
		return nil, err
	}

	matchers := make([]query.Matcher, 0, len(st.clauses))
	for _, clause := range st.clauses {
		matchers = append(matchers, query.Parse(clause))
	}

	var iter Iterator = NewSliceIterator(records)
	iter = NewFilterIterator(iter, matchers...)
	if st.sort != nil {
		iter = NewSortIterator(iter, st.sort.field, st.sort.desc)
	}
	if st.skip > 0 {
		iter = NewSkipIterator(iter, st.skip)
	}
	if st.limit > 0 {
		iter = NewLimitIterator(iter, st.limit)
	}

	results, err = drain(iter)
	if err != nil {
		return nil, err
	}

	if len(st.with) > 0 && len(results) > 0 {
		if err := q.client.loadRelations(ctx, q.model, results, st.with); err != nil {
			return nil, err
		}
	}
	return results, nil
}

// Find fetches the record with primary key id and resolves its With relations.
// Clauses, skip, limit and ordering do not apply but are still reset. A missing
// record is (nil, nil).
func (q *Query) Find(ctx context.Context, id int64) (rec storage.Record, err error) {
	st := q.take()
	ctx = withQueryID(ctx)
	log := logger.WithQuery(ctx, q.client.logger)
	started := time.Now()
	defer func() {
		found := 0
		if rec != nil {
			found = 1
		}
		metrics.ObserveExecution(q.store, "find", started, found, err)
		if err != nil {
			log.Error("query failed", "store", q.store, "op", "find", "id", id, "error", err)
			return
		}
		log.Debug("query executed", "store", q.store, "op", "find",
			"id", id, "found", rec != nil, "duration", time.Since(started))
	}()

	rec, err = q.client.store.FetchByKey(ctx, q.store, id)
	if err != nil || rec == nil {
		return nil, err
	}

	if len(st.with) > 0 {
		if err := q.client.loadRelations(ctx, q.model, []storage.Record{rec}, st.with); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

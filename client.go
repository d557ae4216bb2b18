// Package bunquery is a query and eager-relationship loading layer over a keyed
// record store.
//
// A Client wraps any storage.Store. Queries are fluent builders bound to one store
// and, optionally, one Model whose relation table drives With:
//
//	users, _ := client.Model("users")
//	list, err := users.
//		Where(bunquery.Clause{"age": bunquery.Ops{"$gte": 30}}).
//		With(map[string]bunquery.Refine{"posts": nil}).
//		Get(ctx)
//
// Get fetches the whole store, filters, orders, skips, limits and then resolves
// relations. Find fetches one record by primary key. Both reset the builder.
package bunquery

import (
	"fmt"
	"log/slog"

	"github.com/kartikbazzad/bunbase/bunquery/internal/query"
	"github.com/kartikbazzad/bunbase/bunquery/storage"
	"github.com/panjf2000/ants/v2"
)

// Record is one store record.
type Record = storage.Record

// Clause is a filter clause: field -> literal or operator map.
type Clause = query.Clause

// Ops is an operator map such as Ops{"$gte": 18, "$lt": 65}.
type Ops = map[string]interface{}

// Client binds queries to a store, a model registry and execution settings.
type Client struct {
	store    storage.Store
	registry *Registry
	logger   *slog.Logger
	strict   bool
	pool     *ants.Pool // nil = sequential relation loading
}

// Open creates a client over store. A nil opts uses DefaultOptions.
func Open(store storage.Store, opts *Options) (*Client, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	defaults := DefaultOptions()
	if opts == nil {
		opts = defaults
	}

	c := &Client{
		store:    store,
		registry: opts.Registry,
		logger:   opts.Logger,
		strict:   opts.StrictOperators,
	}
	if c.registry == nil {
		c.registry = defaults.Registry
	}
	if c.logger == nil {
		c.logger = defaults.Logger
	}

	if opts.RelationConcurrency > 1 {
		// Nonblocking: when every worker is busy (e.g. nested relation loads) the
		// caller runs the task itself instead of waiting on the pool.
		pool, err := ants.NewPool(opts.RelationConcurrency,
			ants.WithNonblocking(true),
			ants.WithPanicHandler(func(v any) {
				c.logger.Error("relation loader panic", "panic", v)
			}))
		if err != nil {
			return nil, fmt.Errorf("failed to create relation pool: %w", err)
		}
		c.pool = pool
	}

	return c, nil
}

// Close releases the relation worker pool.
func (c *Client) Close() error {
	if c.pool != nil {
		c.pool.Release()
	}
	return nil
}

// Registry returns the model registry.
func (c *Client) Registry() *Registry {
	return c.registry
}

// Store returns a query bound to store with no model. Queries returned by Store
// cannot eager-load relations.
func (c *Client) Store(name string) *Query {
	return newQuery(c, name, nil)
}

// Model returns a query bound to the named model's store and relation table.
func (c *Client) Model(name string) (*Query, error) {
	m, ok := c.registry.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}
	return newQuery(c, m.Store, m), nil
}

// MustModel is Model that panics when the model is not registered.
func (c *Client) MustModel(name string) *Query {
	q, err := c.Model(name)
	if err != nil {
		panic(err)
	}
	return q
}

// relatedQuery builds the base query for rel, bound to the target store's model
// when one is registered so that nested With works.
func (c *Client) relatedQuery(rel Relation) *Query {
	m, _ := c.registry.ForStore(rel.Store)
	return newQuery(c, rel.Store, m)
}

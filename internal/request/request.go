// Package request decodes JSON query documents and applies them to queries.
//
// A document names its target, its clauses, paging options and the relations to
// load. Relation entries are themselves documents (without a target) and become
// Refine functions, so loading nests:
//
//	{
//	  "model": "users",
//	  "where": {"age": {"$gte": 30}},
//	  "opts":  {"sort_field": "name", "limit": 10},
//	  "with":  {"posts": {"with": {"comments": null}}}
//	}
package request

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/kartikbazzad/bunbase/bunquery"
	"github.com/xeipuuv/gojsonschema"
)

var ErrInvalidDocument = errors.New("invalid query document")

// Options mirrors the paging and ordering settings of a query.
type Options struct {
	SortField string `json:"sort_field,omitempty"`
	SortDesc  bool   `json:"sort_desc,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	Skip      int    `json:"skip,omitempty"`
}

// Document is one query. Model and Store are only read on the top-level document.
type Document struct {
	Model string               `json:"model,omitempty"`
	Store string               `json:"store,omitempty"`
	ID    *int64               `json:"id,omitempty"` // set: run Find instead of Get
	Where []bunquery.Clause    `json:"-"`
	Opts  Options              `json:"opts,omitempty"`
	With  map[string]*Document `json:"with,omitempty"`
}

// wireDocument accepts "where" as a single clause or a list of clauses.
type wireDocument struct {
	Model string                   `json:"model,omitempty"`
	Store string                   `json:"store,omitempty"`
	ID    *int64                   `json:"id,omitempty"`
	Where json.RawMessage          `json:"where,omitempty"`
	Opts  Options                  `json:"opts,omitempty"`
	With  map[string]*wireDocument `json:"with,omitempty"`
}

const documentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "model": {"type": "string", "minLength": 1},
    "store": {"type": "string", "minLength": 1},
    "id":    {"type": "integer", "minimum": 0},
    "where": {
      "oneOf": [
        {"type": "object"},
        {"type": "array", "items": {"type": "object"}}
      ]
    },
    "opts": {
      "type": "object",
      "properties": {
        "sort_field": {"type": "string"},
        "sort_desc":  {"type": "boolean"},
        "limit":      {"type": "integer", "minimum": 0},
        "skip":       {"type": "integer", "minimum": 0}
      },
      "additionalProperties": false
    },
    "with": {
      "type": "object",
      "additionalProperties": {
        "oneOf": [{"type": "null"}, {"$ref": "#"}]
      }
    }
  },
  "additionalProperties": false
}`

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(documentSchema))
	})
	return schema, schemaErr
}

// Parse validates data against the document schema and decodes it.
func Parse(data []byte) (*Document, error) {
	s, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("invalid json schema: %w", err)
	}

	result, err := s.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if !result.Valid() {
		var errs []string
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidDocument, strings.Join(errs, "; "))
	}

	var wd wireDocument
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&wd); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return wd.document()
}

func (wd *wireDocument) document() (*Document, error) {
	doc := &Document{Model: wd.Model, Store: wd.Store, ID: wd.ID, Opts: wd.Opts}

	if len(wd.Where) > 0 {
		where, err := decodeWhere(wd.Where)
		if err != nil {
			return nil, err
		}
		doc.Where = where
	}

	if len(wd.With) > 0 {
		doc.With = make(map[string]*Document, len(wd.With))
		for name, nested := range wd.With {
			if nested == nil {
				doc.With[name] = nil
				continue
			}
			if nested.Model != "" || nested.Store != "" || nested.ID != nil {
				return nil, fmt.Errorf("%w: relation %q cannot set model, store or id", ErrInvalidDocument, name)
			}
			d, err := nested.document()
			if err != nil {
				return nil, err
			}
			doc.With[name] = d
		}
	}
	return doc, nil
}

func decodeWhere(raw json.RawMessage) ([]bunquery.Clause, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if bytes.HasPrefix(bytes.TrimSpace(raw), []byte("[")) {
		var list []bunquery.Clause
		if err := dec.Decode(&list); err != nil {
			return nil, fmt.Errorf("%w: where: %v", ErrInvalidDocument, err)
		}
		return list, nil
	}
	var one bunquery.Clause
	if err := dec.Decode(&one); err != nil {
		return nil, fmt.Errorf("%w: where: %v", ErrInvalidDocument, err)
	}
	return []bunquery.Clause{one}, nil
}

// Target returns the query the document addresses: its model, or its bare store.
func (d *Document) Target(c *bunquery.Client) (*bunquery.Query, error) {
	switch {
	case d.Model != "" && d.Store != "":
		return nil, fmt.Errorf("%w: set model or store, not both", ErrInvalidDocument)
	case d.Model != "":
		return c.Model(d.Model)
	case d.Store != "":
		return c.Store(d.Store), nil
	}
	return nil, fmt.Errorf("%w: model or store is required", ErrInvalidDocument)
}

// Apply configures q with the document's clauses, options and relations.
func (d *Document) Apply(q *bunquery.Query) *bunquery.Query {
	for _, clause := range d.Where {
		q = q.Where(clause)
	}
	if d.Opts.SortField != "" {
		q = q.OrderBy(d.Opts.SortField, d.Opts.SortDesc)
	}
	if d.Opts.Skip > 0 {
		q = q.Skip(d.Opts.Skip)
	}
	if d.Opts.Limit > 0 {
		q = q.Limit(d.Opts.Limit)
	}
	if len(d.With) > 0 {
		q = q.With(d.refines())
	}
	return q
}

func (d *Document) refines() map[string]bunquery.Refine {
	out := make(map[string]bunquery.Refine, len(d.With))
	for name, nested := range d.With {
		if nested == nil {
			out[name] = nil
			continue
		}
		out[name] = nested.Apply
	}
	return out
}

// Execute runs the document against c. A document with an id runs Find and
// returns zero or one record; otherwise it runs Get.
func Execute(ctx context.Context, c *bunquery.Client, d *Document) ([]bunquery.Record, error) {
	q, err := d.Target(c)
	if err != nil {
		return nil, err
	}
	q = d.Apply(q)

	if d.ID != nil {
		rec, err := q.Find(ctx, *d.ID)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return []bunquery.Record{}, nil
		}
		return []bunquery.Record{rec}, nil
	}
	return q.Get(ctx)
}

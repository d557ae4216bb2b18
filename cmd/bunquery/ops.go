package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/kartikbazzad/bunbase/bunquery"
	"github.com/kartikbazzad/bunbase/bunquery/internal/request"
	"github.com/kartikbazzad/bunbase/bunquery/storage"
)

func (a *app) insert(ctx context.Context, store string, rec map[string]interface{}) (int64, error) {
	return a.store.Insert(ctx, store, storage.Record(rec))
}

// get runs a JSON query document.
func (a *app) get(ctx context.Context, doc []byte) ([]bunquery.Record, error) {
	d, err := request.Parse(doc)
	if err != nil {
		return nil, err
	}
	return request.Execute(ctx, a.client, d)
}

// find fetches one record from a model, or from a bare store when bareStore is
// set, eager-loading the named relations without refinement.
func (a *app) find(ctx context.Context, target string, bareStore bool, id int64, with []string) (bunquery.Record, error) {
	var q *bunquery.Query
	if bareStore {
		q = a.client.Store(target)
	} else {
		var err error
		if q, err = a.client.Model(target); err != nil {
			return nil, err
		}
	}
	if len(with) > 0 {
		relations := make(map[string]bunquery.Refine, len(with))
		for _, name := range with {
			relations[name] = nil
		}
		q = q.With(relations)
	}
	return q.Find(ctx, id)
}

func writeJSON(w io.Writer, v interface{}, pretty bool) error {
	var (
		data []byte
		err  error
	)
	if pretty {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

package bunquery

import (
	"fmt"

	"github.com/kartikbazzad/bunbase/bunquery/internal/query"
	"github.com/kartikbazzad/bunbase/bunquery/storage"
)

// Kind is the declared cardinality of a relation.
type Kind int

const (
	KindOneToOne Kind = iota + 1
	KindOneToMany
	KindManyToMany
)

func (k Kind) String() string {
	switch k {
	case KindOneToOne:
		return "one_to_one"
	case KindOneToMany:
		return "one_to_many"
	case KindManyToMany:
		return "many_to_many"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind maps "one_to_one", "one_to_many" or "many_to_many" to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "one_to_one":
		return KindOneToOne, nil
	case "one_to_many":
		return KindOneToMany, nil
	case "many_to_many":
		return KindManyToMany, nil
	}
	return 0, fmt.Errorf("%w: unknown relation kind %q", ErrInvalidModel, s)
}

// Relation describes how related records are found from a source record.
//
// OneToOne and OneToMany select target records whose ForeignKey equals the source's
// LocalKey; they differ only in intent. ManyToMany selects target records whose
// ForeignKey is in the list held at the source's LocalKey.
type Relation struct {
	Kind       Kind
	Store      string
	ForeignKey string
	LocalKey   string
}

func newRelation(kind Kind, store, foreignKey string, localKey []string) Relation {
	lk := storage.KeyField
	if len(localKey) > 0 && localKey[0] != "" {
		lk = localKey[0]
	}
	return Relation{Kind: kind, Store: store, ForeignKey: foreignKey, LocalKey: lk}
}

// OneToOne declares a single related record in store. localKey defaults to "id".
func OneToOne(store, foreignKey string, localKey ...string) Relation {
	return newRelation(KindOneToOne, store, foreignKey, localKey)
}

// OneToMany declares related records in store. localKey defaults to "id".
func OneToMany(store, foreignKey string, localKey ...string) Relation {
	return newRelation(KindOneToMany, store, foreignKey, localKey)
}

// ManyToMany declares related records whose foreignKey is listed in the source's
// localKey array. localKey defaults to "id".
func ManyToMany(store, foreignKey string, localKey ...string) Relation {
	return newRelation(KindManyToMany, store, foreignKey, localKey)
}

func (r Relation) validate() error {
	if err := storage.ValidateStoreName(r.Store); err != nil {
		return err
	}
	if r.ForeignKey == "" || r.LocalKey == "" {
		return fmt.Errorf("%w: relation to %s needs foreign and local keys", ErrInvalidModel, r.Store)
	}
	switch r.Kind {
	case KindOneToOne, KindOneToMany, KindManyToMany:
		return nil
	}
	return fmt.Errorf("%w: relation to %s has %s", ErrInvalidModel, r.Store, r.Kind)
}

// filterFor builds the base clause selecting the records related to source.
// A many-to-many source value that is not a list selects nothing.
func (r Relation) filterFor(source storage.Record) query.Clause {
	local := source[r.LocalKey]
	if r.Kind == KindManyToMany {
		keys, ok := query.AsSlice(local)
		if !ok {
			keys = []interface{}{}
		}
		return query.Clause{r.ForeignKey: map[string]interface{}{string(query.OpIn): keys}}
	}
	return query.Clause{r.ForeignKey: map[string]interface{}{string(query.OpEq): local}}
}

package bunquery

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"github.com/kartikbazzad/bunbase/bunquery/internal/logger"
	"github.com/kartikbazzad/bunbase/bunquery/internal/query"
	"github.com/kartikbazzad/bunbase/bunquery/storage"
)

// flakyStore wraps a store and fails fetches of one store on demand.
type flakyStore struct {
	storage.Store

	mu      sync.Mutex
	failOn  string
	failErr error
	calls   map[string]int
}

func (f *flakyStore) fail(store string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOn, f.failErr = store, err
}

func (f *flakyStore) check(store string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[store]++
	if f.failErr != nil && f.failOn == store {
		return f.failErr
	}
	return nil
}

func (f *flakyStore) FetchAll(ctx context.Context, store string) ([]storage.Record, error) {
	if err := f.check(store); err != nil {
		return nil, err
	}
	return f.Store.FetchAll(ctx, store)
}

func (f *flakyStore) FetchByKey(ctx context.Context, store string, id int64) (storage.Record, error) {
	if err := f.check(store); err != nil {
		return nil, err
	}
	return f.Store.FetchByKey(ctx, store, id)
}

func seed(t *testing.T, m *storage.Memory, store string, records ...storage.Record) {
	t.Helper()
	for _, r := range records {
		if _, err := m.Insert(context.Background(), store, r); err != nil {
			t.Fatalf("seed %s: %v", store, err)
		}
	}
}

func seedUsers(t *testing.T, m *storage.Memory) {
	seed(t, m, "users",
		storage.Record{"name": "Alice", "age": 30, "roleIds": []interface{}{1, 2}},
		storage.Record{"name": "Bob", "age": 25, "roleIds": []interface{}{2}},
		storage.Record{"name": "Charlie", "age": 35},
		storage.Record{"name": "David", "age": 25, "roleIds": []interface{}{}},
	)
	seed(t, m, "posts",
		storage.Record{"title": "P1", "userId": 1},
		storage.Record{"title": "P2", "userId": 1},
		storage.Record{"title": "P3", "userId": 2},
	)
	seed(t, m, "comments",
		storage.Record{"body": "C1", "postId": 1},
		storage.Record{"body": "C2", "postId": 3},
		storage.Record{"body": "C3", "postId": 1},
	)
	seed(t, m, "roles",
		storage.Record{"name": "admin"},
		storage.Record{"name": "editor"},
	)
}

func testRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(Model{
		Name: "users",
		Relations: map[string]Relation{
			"posts": OneToMany("posts", "userId"),
			"roles": ManyToMany("roles", "id", "roleIds"),
		},
	})
	r.MustRegister(Model{
		Name: "posts",
		Relations: map[string]Relation{
			"comments": OneToMany("comments", "postId"),
			"author":   OneToOne("users", "id", "userId"),
		},
	})
	return r
}

func newTestClient(t *testing.T, store storage.Store, opts *Options) *Client {
	t.Helper()
	if opts == nil {
		opts = &Options{Registry: testRegistry()}
	}
	opts.Logger = logger.Discard()
	c, err := Open(store, opts)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func names(records []storage.Record, field string) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, fmt.Sprintf("%v", r[field]))
	}
	return out
}

func expectNames(t *testing.T, records []storage.Record, field string, want ...string) {
	t.Helper()
	got := names(records, field)
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestGetScenario(t *testing.T) {
	ctx := context.Background()
	m := storage.NewMemory()
	seedUsers(t, m)
	users := newTestClient(t, m, nil).Store("users")

	tests := []struct {
		name  string
		build func(q *Query) *Query
		want  []string
	}{
		{"gte", func(q *Query) *Query { return q.Where(Clause{"age": Ops{"$gte": 30}}) }, []string{"Alice", "Charlie"}},
		{"nin", func(q *Query) *Query { return q.Where(Clause{"age": Ops{"$nin": []interface{}{25, 35}}}) }, []string{"Alice"}},
		{"startsWith", func(q *Query) *Query { return q.Where(Clause{"name": Ops{"$startsWith": "A"}}) }, []string{"Alice"}},
		{"skip then limit", func(q *Query) *Query { return q.Skip(1).Limit(2) }, []string{"Bob", "Charlie"}},
		{"literal", func(q *Query) *Query { return q.Where(Clause{"age": 25}) }, []string{"Bob", "David"}},
		{"clauses AND", func(q *Query) *Query {
			return q.Where(Clause{"age": 25}).Where(Clause{"name": Ops{"$endsWith": "d"}})
		}, []string{"David"}},
		{"filter before skip", func(q *Query) *Query { return q.Where(Clause{"age": 25}).Skip(1) }, []string{"David"}},
		{"skip past end", func(q *Query) *Query { return q.Skip(10) }, []string{}},
		{"order desc", func(q *Query) *Query { return q.OrderBy("age", true) }, []string{"Charlie", "Alice", "Bob", "David"}},
		{"order then page", func(q *Query) *Query { return q.OrderBy("age", false).Skip(1).Limit(2) }, []string{"David", "Alice"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := tt.build(users).Get(ctx)
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			expectNames(t, results, "name", tt.want...)
		})
	}
}

func TestBoundsOverwrite(t *testing.T) {
	ctx := context.Background()
	m := storage.NewMemory()
	seedUsers(t, m)
	users := newTestClient(t, m, nil).Store("users")

	results, _ := users.Limit(3).Limit(1).Get(ctx)
	expectNames(t, results, "name", "Alice")

	results, _ = users.Skip(3).Skip(1).Get(ctx)
	expectNames(t, results, "name", "Bob", "Charlie", "David")

	results, _ = users.Limit(2).Limit(0).Skip(2).Skip(-1).Get(ctx)
	if len(results) != 4 {
		t.Errorf("zero/negative bounds should clear, got %d records", len(results))
	}
}

func TestStateResetsAfterGet(t *testing.T) {
	ctx := context.Background()
	m := storage.NewMemory()
	seedUsers(t, m)
	users := newTestClient(t, m, nil).Store("users")

	first, err := users.Where(Clause{"name": "Bob"}).Limit(1).Get(ctx)
	if err != nil || len(first) != 1 {
		t.Fatalf("expected Bob only, got %v, %v", first, err)
	}

	second, err := users.Get(ctx)
	if err != nil {
		t.Fatal(err)
	}
	expectNames(t, second, "name", "Alice", "Bob", "Charlie", "David")
}

func TestStateResetsAfterFailure(t *testing.T) {
	ctx := context.Background()
	m := storage.NewMemory()
	seedUsers(t, m)
	boom := errors.New("store unavailable")
	fs := &flakyStore{Store: m}
	users := newTestClient(t, fs, nil).Store("users")

	fs.fail("users", boom)
	_, err := users.Where(Clause{"name": "Bob"}).Get(ctx)
	if !errors.Is(err, boom) || err != boom {
		t.Fatalf("expected store error unchanged, got %v", err)
	}
	_, err = users.Where(Clause{"name": "Bob"}).Find(ctx, 2)
	if err != boom {
		t.Fatalf("expected store error unchanged from Find, got %v", err)
	}

	fs.fail("", nil)
	all, err := users.Get(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 {
		t.Errorf("retry should start clean, got %d records", len(all))
	}
}

func TestFind(t *testing.T) {
	ctx := context.Background()
	m := storage.NewMemory()
	seedUsers(t, m)
	users := newTestClient(t, m, nil).Store("users")

	rec, err := users.Where(Clause{"name": "Bob"}).Skip(5).Limit(1).Find(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil || rec["name"] != "Alice" {
		t.Errorf("Find must ignore clauses, got %v", rec)
	}

	all, _ := users.Get(ctx)
	if len(all) != 4 {
		t.Errorf("Find must clear state, got %d records", len(all))
	}

	missing, err := users.Find(ctx, 42)
	if err != nil {
		t.Fatalf("missing key is not an error: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil record, got %v", missing)
	}
}

func TestUnknownOperatorLenientAndStrict(t *testing.T) {
	ctx := context.Background()
	m := storage.NewMemory()
	seedUsers(t, m)

	lenient := newTestClient(t, m, nil).Store("users")
	results, err := lenient.Where(Clause{"name": Ops{"$regex": "^A"}}).Get(ctx)
	if err != nil || len(results) != 0 {
		t.Errorf("unknown operator should silently match nothing, got %v, %v", results, err)
	}

	opts := DefaultOptions()
	opts.StrictOperators = true
	strict := newTestClient(t, m, opts).Store("users")
	_, err = strict.Where(Clause{"name": Ops{"$regex": "^A"}}).Get(ctx)
	if !errors.Is(err, ErrInvalidQuery) || !errors.Is(err, query.ErrUnknownOperator) {
		t.Errorf("expected ErrInvalidQuery wrapping ErrUnknownOperator, got %v", err)
	}

	// The failed query still reset the builder.
	all, err := strict.Get(ctx)
	if err != nil || len(all) != 4 {
		t.Errorf("expected clean retry, got %d records, %v", len(all), err)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	ctx := context.Background()
	m := storage.NewMemory()
	seedUsers(t, m)
	users := newTestClient(t, m, nil).Store("users")

	users.Where(Clause{"age": 25})
	cp := users.Clone().Limit(1)

	fromClone, _ := cp.Get(ctx)
	expectNames(t, fromClone, "name", "Bob")

	fromOriginal, _ := users.Get(ctx)
	expectNames(t, fromOriginal, "name", "Bob", "David")
}

func TestModelLookup(t *testing.T) {
	m := storage.NewMemory()
	c := newTestClient(t, m, nil)

	if _, err := c.Model("ghosts"); !errors.Is(err, ErrUnknownModel) {
		t.Errorf("expected ErrUnknownModel, got %v", err)
	}
	q, err := c.Model("users")
	if err != nil {
		t.Fatal(err)
	}
	if q.StoreName() != "users" || q.Model() == nil || q.Model().Name != "users" {
		t.Errorf("unexpected model query %+v", q)
	}
	if c.Store("users").Model() != nil {
		t.Errorf("Store queries carry no model")
	}
}

func TestOpenRejectsNilStore(t *testing.T) {
	if _, err := Open(nil, nil); err == nil {
		t.Errorf("expected error for nil store")
	}
}

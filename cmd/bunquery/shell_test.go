package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/kartikbazzad/bunbase/bunquery/internal/config"
	"github.com/kartikbazzad/bunbase/bunquery/internal/logger"
)

func testConfig() *config.Config {
	return &config.Config{
		Storage: config.StorageConfig{Driver: config.DriverMemory},
		Query:   config.QueryConfig{RelationConcurrency: 1},
		Models: []config.ModelConfig{
			{Name: "users", Relations: []config.RelationConfig{
				{Name: "posts", Kind: "one_to_many", Store: "posts", ForeignKey: "userId"},
			}},
			{Name: "posts", Relations: []config.RelationConfig{
				{Name: "author", Kind: "one_to_one", Store: "users", ForeignKey: "id", LocalKey: "userId"},
			}},
		},
	}
}

func newTestShell(t *testing.T) *Shell {
	t.Helper()
	a, err := newApp(context.Background(), testConfig(), logger.Discard())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(a.Close)
	sh := NewShell(a)
	sh.pretty = false
	return sh
}

func exec(t *testing.T, sh *Shell, line string) string {
	t.Helper()
	cmd, err := Parse(line)
	if err != nil {
		t.Fatalf("parse %q: %v", line, err)
	}
	var out bytes.Buffer
	sh.Execute(context.Background(), cmd).Print(&out)
	return strings.TrimSpace(out.String())
}

func TestShellInsertAndQuery(t *testing.T) {
	sh := newTestShell(t)

	if got := exec(t, sh, `.insert users {"name": "Alice", "age": 30}`); got != `{"id":1}` {
		t.Fatalf("unexpected insert output %q", got)
	}
	exec(t, sh, `.insert users {"name": "Bob", "age": 25}`)
	exec(t, sh, `.insert posts {"title": "P1", "userId": 1}`)

	var results []map[string]interface{}
	out := exec(t, sh, `.get {"model": "users", "where": {"age": {"$lt": 30}}}`)
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("output is not JSON: %q", out)
	}
	if len(results) != 1 || results[0]["name"] != "Bob" {
		t.Errorf("unexpected results %v", results)
	}

	var alice map[string]interface{}
	out = exec(t, sh, `.find users 1 posts`)
	if err := json.Unmarshal([]byte(out), &alice); err != nil {
		t.Fatalf("output is not JSON: %q", out)
	}
	posts, ok := alice["posts"].([]interface{})
	if !ok || len(posts) != 1 {
		t.Errorf("expected one post, got %v", alice["posts"])
	}

	if got := exec(t, sh, `.findstore users 99`); got != "null" {
		t.Errorf("missing record should print null, got %q", got)
	}
}

func TestShellErrors(t *testing.T) {
	sh := newTestShell(t)

	tests := map[string]string{
		".nope":               "unknown command",
		".insert users":       "expected 2 argument",
		".insert users {bad}": ErrInvalidJSON.Error(),
		".insert 9bad {}":     "invalid store name",
		`.get {"store": 1}`:   "invalid query document",
		".find ghosts 1":      "unknown model",
		".find users x":       "invalid id",
		".pretty maybe":       "usage",
	}
	for line, want := range tests {
		got := exec(t, sh, line)
		if !strings.HasPrefix(got, "ERROR") || !strings.Contains(got, want) {
			t.Errorf("%s: expected error containing %q, got %q", line, want, got)
		}
	}
}

func TestShellMeta(t *testing.T) {
	sh := newTestShell(t)

	if got := exec(t, sh, ".models"); got != "posts\nusers" {
		t.Errorf("unexpected models %q", got)
	}
	if !strings.Contains(exec(t, sh, ".help"), ".insert") {
		t.Errorf("help should list commands")
	}
	exec(t, sh, ".pretty on")
	if !sh.pretty {
		t.Errorf(".pretty on did not apply")
	}
	if got := exec(t, sh, ".history"); !strings.Contains(got, ".pretty on") {
		t.Errorf("history should contain earlier commands, got %q", got)
	}

	cmd, _ := Parse(".exit")
	if !sh.Execute(context.Background(), cmd).IsExit() {
		t.Errorf(".exit should exit")
	}
}

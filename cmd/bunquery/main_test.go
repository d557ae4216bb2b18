package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "bunquery.yaml")
	yaml := `
storage:
  driver: sqlite
  path: ` + filepath.Join(dir, "data.db") + `
log:
  level: ERROR
models:
  - name: users
    relations:
      - name: posts
        kind: one_to_many
        store: posts
        foreign_key: userId
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCommandsAgainstSQLite(t *testing.T) {
	cfg := writeConfig(t)

	for _, rec := range []struct{ store, body string }{
		{"users", `{"name":"Alice","age":30}`},
		{"users", `{"name":"Bob","age":25}`},
		{"posts", `{"title":"P1","userId":1}`},
		{"posts", `{"title":"P2","userId":1}`},
	} {
		if _, err := run(t, "", "--config", cfg, "insert", rec.store, rec.body); err != nil {
			t.Fatalf("insert %s: %v", rec.body, err)
		}
	}

	out, err := run(t, "", "--config", cfg, "--compact", "get", `{"model":"users","where":{"age":{"$gte":30}},"with":{"posts":null}}`)
	if err != nil {
		t.Fatal(err)
	}
	var results []map[string]interface{}
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("get output is not JSON: %q", out)
	}
	if len(results) != 1 || results[0]["name"] != "Alice" {
		t.Fatalf("unexpected results %v", results)
	}
	if posts, _ := results[0]["posts"].([]interface{}); len(posts) != 2 {
		t.Errorf("expected two posts, got %v", results[0]["posts"])
	}

	out, err = run(t, `{"store":"users","opts":{"sort_field":"age"}}`, "--config", cfg, "get", "-")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "\n  ") || strings.Index(out, "Bob") > strings.Index(out, "Alice") {
		t.Errorf("expected indented output sorted by age, got %q", out)
	}

	out, err = run(t, "", "--config", cfg, "find", "users", "2", "--with", "posts")
	if err != nil {
		t.Fatal(err)
	}
	var bob map[string]interface{}
	if err := json.Unmarshal([]byte(out), &bob); err != nil || bob["name"] != "Bob" {
		t.Errorf("unexpected find output %q", out)
	}

	out, err = run(t, "", "--config", cfg, "models")
	if err != nil || strings.TrimSpace(out) != "users" {
		t.Errorf("unexpected models output %q, %v", out, err)
	}
}

func TestCommandErrors(t *testing.T) {
	cfg := writeConfig(t)

	if _, err := run(t, "", "--config", cfg, "insert", "users", "not json"); err == nil {
		t.Error("insert with bad JSON should fail")
	}
	if _, err := run(t, "", "--config", cfg, "get"); err == nil {
		t.Error("get without a document should fail")
	}
	if _, err := run(t, "", "--config", cfg, "find", "ghosts", "1"); err == nil {
		t.Error("find on an unknown model should fail")
	}
	if _, err := run(t, "", "--config", filepath.Join(t.TempDir(), "missing.yaml"), "models"); err == nil {
		t.Error("missing config file should fail")
	}
}

package schemavalidation

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

func TestHistoryFixturesValidate(t *testing.T) {
	schema := compileHistorySchema(t)

	for _, fixture := range []string{"history-v1.json", "history-v1-empty.json"} {
		t.Run(fixture, func(t *testing.T) {
			doc := loadJSON(t, filepath.Join(moduleRoot(t), "docs", "spec", "fixtures", fixture))
			if err := schema.Validate(doc); err != nil {
				t.Errorf("%s does not satisfy the history schema: %v", fixture, err)
			}
		})
	}
}

func TestSchemaRejectsMalformed(t *testing.T) {
	schema := compileHistorySchema(t)

	cases := []struct {
		name     string
		instance string
	}{
		{
			name:     "missing file_key",
			instance: `{"schema_version":1,"exported_at":"2026-08-20T09:02:45Z","commits":[],"starred_ids":[]}`,
		},
		{
			name:     "wrong schema version",
			instance: `{"schema_version":2,"file_key":"0d41bc29a77e6f83","exported_at":"2026-08-20T09:02:45Z","commits":[],"starred_ids":[]}`,
		},
		{
			name: "commit without id",
			instance: `{"schema_version":1,"file_key":"0d41bc29a77e6f83","exported_at":"2026-08-20T09:02:45Z",
				"commits":[{"message":"x","created_at":"2026-08-20T09:00:00Z","starred":false,"degraded":false,"has_snapshot":true}],
				"starred_ids":[]}`,
		},
		{
			name: "malformed commit id",
			instance: `{"schema_version":1,"file_key":"0d41bc29a77e6f83","exported_at":"2026-08-20T09:02:45Z",
				"commits":[{"id":"not-a-commit-id","message":"x","created_at":"2026-08-20T09:00:00Z","starred":false,"degraded":false,"has_snapshot":true}],
				"starred_ids":[]}`,
		},
		{
			name:     "unknown top-level field",
			instance: `{"schema_version":1,"file_key":"0d41bc29a77e6f83","exported_at":"2026-08-20T09:02:45Z","commits":[],"starred_ids":[],"payload":"AAAA"}`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var doc any
			if err := json.Unmarshal([]byte(tc.instance), &doc); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if schema.Validate(doc) == nil {
				t.Error("schema accepted a malformed document")
			}
		})
	}
}

func loadJSON(t *testing.T, path string) any {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", filepath.Base(path), err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal %s: %v", filepath.Base(path), err)
	}
	return doc
}

func compileHistorySchema(t *testing.T) *jsonschema.Schema {
	t.Helper()

	path := filepath.Join(moduleRoot(t), "docs", "schema", "history-v1.schema.json")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read schema: %v", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(path, bytes.NewReader(data)); err != nil {
		t.Fatalf("add schema resource: %v", err)
	}
	schema, err := compiler.Compile(path)
	if err != nil {
		t.Fatalf("compile schema: %v", err)
	}
	return schema
}

// moduleRoot walks up from this file to the repository root, keeping the
// fixture paths valid no matter where go test runs.
func moduleRoot(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("cannot locate test source file")
	}
	return filepath.Dir(filepath.Dir(filepath.Dir(file)))
}

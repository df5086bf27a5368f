package types

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		req   DBRequest
		valid bool
	}{
		{"query", NewQuery("SELECT 1", nil, false), true},
		{"query first row", NewQuery("SELECT ?", []any{1}, true), true},
		{"query without sql", NewQuery("", nil, false), false},
		{"query with batch", DBRequest{Kind: KindQuery, SQL: "x", Batch: [][]any{{1}}}, false},
		{"query columns only", NewColumnsQuery("INSERT INTO t VALUES (?)", []any{1}), true},
		{"begin", NewControl(KindBegin), true},
		{"commit", NewControl(KindCommit), true},
		{"rollback", NewControl(KindRollback), true},
		{"begin with sql", DBRequest{Kind: KindBegin, SQL: "BEGIN"}, false},
		{"commit with args", DBRequest{Kind: KindCommit, Args: []any{1}}, false},
		{"rollback first row", DBRequest{Kind: KindRollback, FirstRowOnly: true}, false},
		{"executemany", NewExecuteMany("INSERT INTO t VALUES (?)", [][]any{{1}, {2}}), true},
		{"executemany empty batch", NewExecuteMany("INSERT INTO t VALUES (?)", nil), true},
		{"executemany without sql", NewExecuteMany("", [][]any{{1}}), false},
		{"commit columns only", DBRequest{Kind: KindCommit, ColumnsOnly: true}, false},
		{"executemany columns only", DBRequest{Kind: KindExecuteMany, SQL: "x", ColumnsOnly: true}, false},
		{"executemany with args", DBRequest{Kind: KindExecuteMany, SQL: "x", Args: []any{1}}, false},
		{"unknown kind", DBRequest{Kind: "vacuum"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.valid && err != nil {
				t.Fatalf("expected valid request, got %v", err)
			}
			if !tt.valid && err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestNewQueryArgs(t *testing.T) {
	req := NewQuery("SELECT 1", nil, false)
	if req.Args == nil || len(req.Args) != 0 {
		t.Fatalf("expected an empty argument list, got %#v", req.Args)
	}
}

func TestDecodeNormalizesNumbers(t *testing.T) {
	var resp QueryResponse
	payload := []byte(`{"columns":["a","b","c","d"],"rows":[[1,2.5,"x",null],[9007199254740993,1e2,true,-0]]}`)
	if err := Decode(payload, &resp); err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	want := [][]any{
		{int64(1), 2.5, "x", nil},
		{int64(9007199254740993), float64(100), true, int64(0)},
	}
	if diff := cmp.Diff(want, resp.Rows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}

	var req DBRequest
	if err := Decode([]byte(`{"kind":"executemany","sql":"x","batch":[[1],[2.25]]}`), &req); err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if diff := cmp.Diff([][]any{{int64(1)}, {2.25}}, req.Batch); diff != "" {
		t.Errorf("batch mismatch (-want +got):\n%s", diff)
	}

	var v any
	if err := Decode([]byte(`42`), &v); err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if v != int64(42) {
		t.Errorf("expected int64 42, got %#v", v)
	}
}

func TestDecodeMalformed(t *testing.T) {
	var resp QueryResponse
	if err := Decode([]byte(`{"rows":[[1]`), &resp); err == nil {
		t.Fatal("expected error for truncated payload")
	}
}

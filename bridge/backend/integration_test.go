package backend_test

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/tomyedwab/enginebridge/bridge/backend"
	"github.com/tomyedwab/enginebridge/bridge/host"
	"github.com/tomyedwab/enginebridge/bridge/types"
)

func openHostSession(t *testing.T, pageSize int, langs ...string) *backend.Session {
	t.Helper()
	eng, err := host.New(host.Config{})
	if err != nil {
		t.Fatalf("host.New returned error: %v", err)
	}
	s := backend.New(eng, backend.Config{PageSize: pageSize})
	if err := s.Open(context.Background(), langs); err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	t.Cleanup(func() {
		s.Close(context.Background())
	})
	return s
}

func openMemoryCollection(t *testing.T, s *backend.Session) {
	t.Helper()
	ctx := context.Background()
	if err := s.OpenCollection(ctx, types.OpenCollectionRequest{Path: host.MemoryPath}); err != nil {
		t.Fatalf("OpenCollection returned error: %v", err)
	}
	if _, err := s.Exec(ctx, `CREATE TABLE notes (id INTEGER PRIMARY KEY, title TEXT NOT NULL, score REAL)`); err != nil {
		t.Fatalf("create table failed: %v", err)
	}
	batch := [][]any{
		{1, "first", 1.5},
		{2, "second", nil},
		{3, "third", 3.25},
		{4, "fourth", 4.0},
		{5, "fifth", -1.0},
	}
	if _, err := s.ExecuteMany(ctx, `INSERT INTO notes (id, title, score) VALUES (?, ?, ?)`, batch); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
}

func TestHostQueries(t *testing.T) {
	s := openHostSession(t, 0)
	openMemoryCollection(t, s)
	ctx := context.Background()

	rs, err := s.Query(ctx, `SELECT id, title, score FROM notes WHERE id <= ? ORDER BY id`, 2)
	if err != nil {
		t.Fatalf("Query returned error: %v", err)
	}
	want := &backend.RowSet{
		Columns: []string{"id", "title", "score"},
		Rows: [][]any{
			{int64(1), "first", 1.5},
			{int64(2), "second", nil},
		},
	}
	if diff := cmp.Diff(want, rs); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}

	n, err := s.Scalar(ctx, `SELECT count(*) FROM notes`)
	if err != nil {
		t.Fatalf("Scalar returned error: %v", err)
	}
	if n != int64(5) {
		t.Errorf("expected 5 notes, got %#v", n)
	}

	res, err := s.Exec(ctx, `UPDATE notes SET score = 0 WHERE id > ?`, 3)
	if err != nil {
		t.Fatalf("Exec returned error: %v", err)
	}
	if res.RowsAffected != 2 {
		t.Errorf("expected 2 rows affected, got %d", res.RowsAffected)
	}

	res, err = s.Exec(ctx, `INSERT INTO notes (title) VALUES (?)`, "sixth")
	if err != nil {
		t.Fatalf("insert returned error: %v", err)
	}
	if res.LastInsertID != 6 {
		t.Errorf("expected last insert id 6, got %d", res.LastInsertID)
	}

	cols, err := s.ColumnNames(ctx, `SELECT title, id AS note_id FROM notes`)
	if err != nil {
		t.Fatalf("ColumnNames returned error: %v", err)
	}
	if diff := cmp.Diff([]string{"title", "note_id"}, cols); diff != "" {
		t.Errorf("columns mismatch (-want +got):\n%s", diff)
	}

	if _, err := s.QueryRow(ctx, `SELECT id FROM notes WHERE id = ?`, 99); !errors.Is(err, backend.ErrNoRows) {
		t.Errorf("expected ErrNoRows, got %v", err)
	}
}

func TestHostMultiStatementExec(t *testing.T) {
	s := openHostSession(t, 0)
	openMemoryCollection(t, s)
	ctx := context.Background()

	if _, err := s.Exec(ctx, `DELETE FROM notes; INSERT INTO notes (title) VALUES ('a'); INSERT INTO notes (title) VALUES ('b')`); err != nil {
		t.Fatalf("Exec returned error: %v", err)
	}
	n, err := s.Scalar(ctx, `SELECT count(*) FROM notes`)
	if err != nil {
		t.Fatalf("Scalar returned error: %v", err)
	}
	if n != int64(2) {
		t.Fatalf("expected every statement to run, got %v notes", n)
	}
}

func TestHostColumnNamesDoesNotWrite(t *testing.T) {
	s := openHostSession(t, 0)
	openMemoryCollection(t, s)
	ctx := context.Background()

	cols, err := s.ColumnNames(ctx, `INSERT INTO notes (title) VALUES (?) RETURNING id`, "seventh")
	if err != nil {
		t.Fatalf("ColumnNames returned error: %v", err)
	}
	if diff := cmp.Diff([]string{"id"}, cols); diff != "" {
		t.Errorf("columns mismatch (-want +got):\n%s", diff)
	}
	if _, err := s.ColumnNames(ctx, `DELETE FROM notes`); err != nil {
		t.Fatalf("ColumnNames returned error: %v", err)
	}
	n, err := s.Scalar(ctx, `SELECT count(*) FROM notes`)
	if err != nil {
		t.Fatalf("Scalar returned error: %v", err)
	}
	if n != int64(5) {
		t.Fatalf("ColumnNames changed the table: %v notes", n)
	}
}

func TestHostStorageError(t *testing.T) {
	s := openHostSession(t, 0)
	openMemoryCollection(t, s)

	_, err := s.Query(context.Background(), `SELECT * FROM missing`)
	if !backend.IsStorage(err) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if diag := backend.Diagnostic(err); diag == "" {
		t.Error("expected the engine diagnostic to be kept")
	}
}

func TestHostStreaming(t *testing.T) {
	s := openHostSession(t, 2)
	openMemoryCollection(t, s)
	ctx := context.Background()

	st, err := s.Stream(ctx, `SELECT id FROM notes ORDER BY id`)
	if err != nil {
		t.Fatalf("Stream returned error: %v", err)
	}
	defer st.Close(ctx)

	var ids []any
	pages := 0
	for {
		rows, err := st.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next returned error: %v", err)
		}
		pages++
		for _, row := range rows {
			ids = append(ids, row[0])
		}
	}
	if diff := cmp.Diff([]any{int64(1), int64(2), int64(3), int64(4), int64(5)}, ids); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}
	if pages != 3 {
		t.Errorf("expected 3 pages of 2 rows, got %d", pages)
	}
}

func TestHostStreamStartMismatch(t *testing.T) {
	s := openHostSession(t, 2)
	openMemoryCollection(t, s)
	ctx := context.Background()

	first, seq, err := s.BeginStreamedQuery(ctx, `SELECT id FROM notes ORDER BY id`)
	if err != nil {
		t.Fatalf("BeginStreamedQuery returned error: %v", err)
	}
	if len(first.Rows) != 2 || first.Done {
		t.Fatalf("unexpected first slice %+v", first)
	}
	if _, err := s.NextSlice(ctx, seq, 0); !errors.Is(err, backend.ErrInvalidInput) {
		t.Fatalf("expected invalid input for a replayed start, got %v", err)
	}
	next, err := s.NextSlice(ctx, seq, 2)
	if err != nil {
		t.Fatalf("NextSlice returned error: %v", err)
	}
	if next.Start != 2 || len(next.Rows) != 2 {
		t.Fatalf("unexpected slice %+v", next)
	}

	if err := s.Cancel(ctx, seq); err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}
	if err := s.Cancel(ctx, seq); err != nil {
		t.Fatalf("second Cancel returned error: %v", err)
	}
	if _, err := s.NextSlice(ctx, seq, 4); !backend.IsNotFound(err) {
		t.Fatalf("expected not found after cancel, got %v", err)
	}
}

func TestHostCloseCollectionDropsStreams(t *testing.T) {
	s := openHostSession(t, 2)
	openMemoryCollection(t, s)
	ctx := context.Background()

	_, seq, err := s.BeginStreamedQuery(ctx, `SELECT id FROM notes`)
	if err != nil {
		t.Fatalf("BeginStreamedQuery returned error: %v", err)
	}
	if err := s.CloseCollection(ctx, false); err != nil {
		t.Fatalf("CloseCollection returned error: %v", err)
	}
	if _, err := s.NextSlice(ctx, seq, 2); !backend.IsNotFound(err) {
		t.Fatalf("expected not found after closing the collection, got %v", err)
	}
}

func TestHostTransactions(t *testing.T) {
	s := openHostSession(t, 0)
	openMemoryCollection(t, s)
	ctx := context.Background()

	txCtx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin returned error: %v", err)
	}
	if _, err := s.Exec(txCtx, `DELETE FROM notes`); err != nil {
		t.Fatalf("delete returned error: %v", err)
	}
	if err := s.Rollback(txCtx); err != nil {
		t.Fatalf("Rollback returned error: %v", err)
	}
	n, err := s.Scalar(ctx, `SELECT count(*) FROM notes`)
	if err != nil {
		t.Fatalf("Scalar returned error: %v", err)
	}
	if n != int64(5) {
		t.Fatalf("rollback should keep 5 notes, got %#v", n)
	}

	err = s.Transact(ctx, func(ctx context.Context) error {
		_, err := s.Exec(ctx, `DELETE FROM notes WHERE id > ?`, 3)
		return err
	})
	if err != nil {
		t.Fatalf("Transact returned error: %v", err)
	}
	n, err = s.Scalar(ctx, `SELECT count(*) FROM notes`)
	if err != nil {
		t.Fatalf("Scalar returned error: %v", err)
	}
	if n != int64(3) {
		t.Fatalf("commit should leave 3 notes, got %#v", n)
	}
}

func TestHostSchemaVersions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collection.db")
	ctx := context.Background()

	s := openHostSession(t, 0)
	if err := s.OpenCollection(ctx, types.OpenCollectionRequest{Path: path, LegacySchema: true}); err != nil {
		t.Fatalf("OpenCollection returned error: %v", err)
	}
	info, err := s.CollectionInfo(ctx)
	if err != nil {
		t.Fatalf("CollectionInfo returned error: %v", err)
	}
	if info.SchemaVersion != host.SchemaLegacy || info.Path != path {
		t.Fatalf("unexpected info %+v", info)
	}
	if err := s.CloseCollection(ctx, false); err != nil {
		t.Fatalf("CloseCollection returned error: %v", err)
	}

	if err := s.OpenCollection(ctx, types.OpenCollectionRequest{Path: path}); err != nil {
		t.Fatalf("reopen returned error: %v", err)
	}
	info, err = s.CollectionInfo(ctx)
	if err != nil {
		t.Fatalf("CollectionInfo returned error: %v", err)
	}
	if info.SchemaVersion != host.SchemaCurrent {
		t.Fatalf("expected upgraded schema %d, got %d", host.SchemaCurrent, info.SchemaVersion)
	}
	if err := s.CloseCollection(ctx, true); err != nil {
		t.Fatalf("downgrading close returned error: %v", err)
	}

	if err := s.OpenCollection(ctx, types.OpenCollectionRequest{Path: path, LegacySchema: true}); err != nil {
		t.Fatalf("reopen returned error: %v", err)
	}
	info, err = s.CollectionInfo(ctx)
	if err != nil {
		t.Fatalf("CollectionInfo returned error: %v", err)
	}
	if info.SchemaVersion != host.SchemaLegacy {
		t.Fatalf("expected downgraded schema %d, got %d", host.SchemaLegacy, info.SchemaVersion)
	}
}

func TestHostCollectionOpenFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "collection.db")

	s := openHostSession(t, 0)
	err := s.OpenCollection(context.Background(), types.OpenCollectionRequest{Path: path})
	if !errors.Is(err, backend.ErrCollectionOpen) {
		t.Fatalf("expected collection open error, got %v", err)
	}
	if backend.Diagnostic(err) == "" {
		t.Error("expected the engine diagnostic to be kept")
	}
}

func TestHostNotFoundAfterSessionClose(t *testing.T) {
	eng, err := host.New(host.Config{})
	if err != nil {
		t.Fatalf("host.New returned error: %v", err)
	}
	s := backend.New(eng, backend.Config{})
	ctx := context.Background()
	if err := s.Open(ctx, nil); err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	if err := s.Close(ctx); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if _, err := s.Query(ctx, `SELECT 1`); !backend.IsSessionClosed(err) {
		t.Fatalf("expected session closed error, got %v", err)
	}

	// The session can be reopened on the same engine.
	if err := s.Open(ctx, nil); err != nil {
		t.Fatalf("reopen returned error: %v", err)
	}
	defer s.Close(ctx)
	if err := s.OpenCollection(ctx, types.OpenCollectionRequest{Path: host.MemoryPath}); err != nil {
		t.Fatalf("OpenCollection returned error: %v", err)
	}
}

func TestHostCurrentLanguage(t *testing.T) {
	tests := []struct {
		langs []string
		want  string
	}{
		{[]string{"de-CH"}, "de"},
		{[]string{"pt-BR", "en"}, "pt-BR"},
		{[]string{"xx-invalid!!"}, "en"},
		{nil, "en"},
	}
	for _, tt := range tests {
		s := openHostSession(t, 0, tt.langs...)
		got, err := s.CurrentLanguage(context.Background())
		if err != nil {
			t.Fatalf("CurrentLanguage returned error: %v", err)
		}
		if got != tt.want {
			t.Errorf("languages %v: expected %q, got %q", tt.langs, tt.want, got)
		}
	}
}

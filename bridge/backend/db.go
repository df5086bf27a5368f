package backend

import (
	"context"
	"time"

	"github.com/tomyedwab/enginebridge/bridge/engine"
	"github.com/tomyedwab/enginebridge/bridge/types"
)

// ErrNoRows is returned by QueryRow and Scalar when the query yields nothing.
var ErrNoRows = &Error{Kind: KindNotFound, Message: "no rows in result set", code: "no_rows"}

// RowSet is a fully materialized query result.
type RowSet struct {
	Columns []string
	Rows    [][]any
}

// ExecResult carries the single values a statement reports.
type ExecResult struct {
	RowsAffected int64
	LastInsertID int64
}

func convertArgs(args []any) []any {
	converted := make([]any, len(args))
	for i, v := range args {
		switch val := v.(type) {
		case time.Time:
			converted[i] = val.Format(time.RFC3339Nano)
		default:
			converted[i] = v
		}
	}
	return converted
}

// runDB encodes and sends a relational command. Callers must hold the guard.
func (s *Session) runDB(h engine.Handle, req types.DBRequest) ([]byte, error) {
	payload, err := encodeDB(req)
	if err != nil {
		return nil, err
	}
	return unpack(s.engine.RunDBCommand(h, payload))
}

func encodeDB(req types.DBRequest) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, newError(KindInvalidInput, "invalid db command", err)
	}
	return encode(req, "db command")
}

// query sends req through the guarded dispatch path and decodes the reply.
func (s *Session) query(ctx context.Context, req types.DBRequest) (types.QueryResponse, error) {
	var resp types.QueryResponse
	payload, err := encodeDB(req)
	if err != nil {
		return resp, err
	}
	data, err := s.call(ctx, func(h engine.Handle) engine.Output {
		return s.engine.RunDBCommand(h, payload)
	})
	if err != nil {
		return resp, err
	}
	if err := decode(data, &resp, "query response"); err != nil {
		return resp, err
	}
	return resp, nil
}

// Query runs sql and returns every row.
func (s *Session) Query(ctx context.Context, sql string, args ...any) (*RowSet, error) {
	resp, err := s.query(ctx, types.NewQuery(sql, convertArgs(args), false))
	if err != nil {
		return nil, err
	}
	return &RowSet{Columns: resp.Columns, Rows: resp.Rows}, nil
}

// QueryRow runs sql asking the engine for the first row only.
func (s *Session) QueryRow(ctx context.Context, sql string, args ...any) ([]any, error) {
	resp, err := s.query(ctx, types.NewQuery(sql, convertArgs(args), true))
	if err != nil {
		return nil, err
	}
	if len(resp.Rows) == 0 {
		return nil, ErrNoRows
	}
	return resp.Rows[0], nil
}

// Scalar returns the first column of the first row.
func (s *Session) Scalar(ctx context.Context, sql string, args ...any) (any, error) {
	row, err := s.QueryRow(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	if len(row) == 0 {
		return nil, ErrNoRows
	}
	return row[0], nil
}

// Exec runs a statement and reports the affected row count and last rowid.
func (s *Session) Exec(ctx context.Context, sql string, args ...any) (ExecResult, error) {
	resp, err := s.query(ctx, types.NewQuery(sql, convertArgs(args), false))
	if err != nil {
		return ExecResult{}, err
	}
	return ExecResult{RowsAffected: resp.RowsAffected, LastInsertID: resp.LastInsertID}, nil
}

// ColumnNames returns the column names sql would produce. The engine
// describes the statement without running it.
func (s *Session) ColumnNames(ctx context.Context, sql string, args ...any) ([]string, error) {
	resp, err := s.query(ctx, types.NewColumnsQuery(sql, convertArgs(args)))
	if err != nil {
		return nil, err
	}
	return resp.Columns, nil
}

// ExecuteMany runs sql once for every argument list in batch.
func (s *Session) ExecuteMany(ctx context.Context, sql string, batch [][]any) (ExecResult, error) {
	converted := make([][]any, len(batch))
	for i, args := range batch {
		converted[i] = convertArgs(args)
	}
	resp, err := s.query(ctx, types.NewExecuteMany(sql, converted))
	if err != nil {
		return ExecResult{}, err
	}
	return ExecResult{RowsAffected: resp.RowsAffected, LastInsertID: resp.LastInsertID}, nil
}

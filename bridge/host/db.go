package host

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/tomyedwab/enginebridge/bridge/engine"
	"github.com/tomyedwab/enginebridge/bridge/types"
)

// queryer returns the open transaction, or the collection database outside one.
func (s *session) queryer() sqlx.Ext {
	if s.tx != nil {
		return s.tx
	}
	return s.col.db
}

func (s *session) handleDBCommand(req *types.DBRequest) engine.Output {
	if s.col == nil {
		return failure(types.ErrKindInvalidInput, "collection not open")
	}

	switch req.Kind {
	case types.KindBegin:
		if s.tx != nil {
			return failure(types.ErrKindInvalidInput, "transaction already active")
		}
		tx, err := s.col.db.Beginx()
		if err != nil {
			return dbFailure("begin transaction failed", err)
		}
		s.tx = tx
		return engine.Success([]byte("{}"))
	case types.KindCommit:
		return s.endTx(true)
	case types.KindRollback:
		return s.endTx(false)
	case types.KindQuery:
		if req.ColumnsOnly {
			columns, err := s.describe(req.SQL, req.Args)
			if err != nil {
				return dbFailure("query failed", err)
			}
			return marshalResponse(types.QueryResponse{Columns: columns, Rows: [][]any{}})
		}
		resp, err := s.runQuery(req.SQL, req.Args, req.FirstRowOnly)
		if err != nil {
			return dbFailure("query failed", err)
		}
		return marshalResponse(resp)
	case types.KindExecuteMany:
		resp, err := s.runExecuteMany(req.SQL, req.Batch)
		if err != nil {
			return dbFailure("executemany failed", err)
		}
		return marshalResponse(resp)
	}
	return failure(types.ErrKindInvalidInput, fmt.Sprintf("unknown command: %s", req.Kind))
}

func (s *session) endTx(commit bool) engine.Output {
	tx := s.tx
	if tx == nil {
		return failure(types.ErrKindInvalidInput, "no transaction active")
	}
	// The transaction is over from the caller's perspective whatever happens.
	s.tx = nil

	if commit {
		if err := tx.Commit(); err != nil {
			return dbFailure("commit failed", err)
		}
	} else if err := tx.Rollback(); err != nil {
		return dbFailure("rollback failed", err)
	}
	return engine.Success([]byte("{}"))
}

// describe returns the columns of sql without stepping it. The driver only
// binds arguments until the first call to Next.
func (s *session) describe(sql string, args []any) ([]string, error) {
	rows, err := s.queryer().Queryx(sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}
	return columns, nil
}

// runQuery executes sql and materializes its result. SQL that returns no
// columns goes through Exec, which runs every statement in a script, and
// reports the driver's RowsAffected and LastInsertId. The query path only
// runs the final statement.
func (s *session) runQuery(sql string, args []any, firstRowOnly bool) (types.QueryResponse, error) {
	q := s.queryer()
	rows, err := q.Queryx(sql, args...)
	if err != nil {
		return types.QueryResponse{}, err
	}

	columns, err := rows.Columns()
	if err != nil {
		rows.Close()
		return types.QueryResponse{}, fmt.Errorf("failed to get columns: %w", err)
	}
	if len(columns) == 0 {
		// Nothing has been stepped yet.
		if err := rows.Close(); err != nil {
			return types.QueryResponse{}, err
		}
		return s.runExec(sql, args)
	}

	results := [][]any{}
	for rows.Next() {
		row, err := rows.SliceScan()
		if err != nil {
			rows.Close()
			return types.QueryResponse{}, fmt.Errorf("failed to scan row: %w", err)
		}
		results = append(results, processRowValues(row))
		if firstRowOnly {
			break
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return types.QueryResponse{}, fmt.Errorf("error iterating rows: %w", err)
	}
	if err := rows.Close(); err != nil {
		return types.QueryResponse{}, err
	}
	return types.QueryResponse{Columns: columns, Rows: results}, nil
}

func (s *session) runExec(sql string, args []any) (types.QueryResponse, error) {
	res, err := s.queryer().Exec(sql, args...)
	if err != nil {
		return types.QueryResponse{}, err
	}
	resp := types.QueryResponse{Columns: []string{}, Rows: [][]any{}}
	if resp.RowsAffected, err = res.RowsAffected(); err != nil {
		return types.QueryResponse{}, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if resp.LastInsertID, err = res.LastInsertId(); err != nil {
		return types.QueryResponse{}, fmt.Errorf("failed to read last insert id: %w", err)
	}
	return resp, nil
}

func (s *session) runExecuteMany(sql string, batch [][]any) (types.QueryResponse, error) {
	q := s.queryer()
	var resp types.QueryResponse
	resp.Rows = [][]any{}
	for i, args := range batch {
		res, err := q.Exec(sql, args...)
		if err != nil {
			return types.QueryResponse{}, fmt.Errorf("batch entry %d: %w", i, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			resp.RowsAffected += n
		}
		if id, err := res.LastInsertId(); err == nil {
			resp.LastInsertID = id
		}
	}
	return resp, nil
}

func processRowValues(rawRow []any) []any {
	processedRow := make([]any, len(rawRow))
	for i, val := range rawRow {
		switch v := val.(type) {
		case nil:
			processedRow[i] = nil
		case []byte:
			processedRow[i] = base64.StdEncoding.EncodeToString(v)
		case time.Time:
			processedRow[i] = v.Format(time.RFC3339Nano)
		default:
			processedRow[i] = v
		}
	}
	return processedRow
}

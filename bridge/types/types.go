package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// --- JSON structures for engine communication ---

// Service ids understood by the engine's generic Invoke entry point.
const (
	ServiceCollection uint32 = 3
	ServiceI18n       uint32 = 5
)

// Collection service methods.
const (
	MethodOpenCollection  uint32 = 0
	MethodCloseCollection uint32 = 1
	MethodCollectionInfo  uint32 = 2
)

// I18n service methods.
const (
	MethodCurrentLanguage uint32 = 0
)

// DefaultPageSize is the number of rows in one stream slice when the init
// payload does not name one.
const DefaultPageSize = 1000

// InitRequest is the payload passed to OpenSession.
type InitRequest struct {
	PreferredLanguages []string `json:"preferred_langs"`
	PageSize           int      `json:"page_size,omitempty"`
}

// DBKind selects what a DBRequest asks the engine to do.
type DBKind string

const (
	KindQuery       DBKind = "query"
	KindBegin       DBKind = "begin"
	KindCommit      DBKind = "commit"
	KindRollback    DBKind = "rollback"
	KindExecuteMany DBKind = "executemany"
)

// DBRequest is the relational command envelope.
type DBRequest struct {
	Kind         DBKind  `json:"kind"`
	SQL          string  `json:"sql,omitempty"`
	Args         []any   `json:"args,omitempty"`
	Batch        [][]any `json:"batch,omitempty"` // executemany only
	FirstRowOnly bool    `json:"first_row_only,omitempty"`
	// ColumnsOnly asks for the result's column names without running sql.
	ColumnsOnly bool `json:"columns_only,omitempty"`
}

// NewQuery builds a query request. Nil args are sent as an empty list.
func NewQuery(sql string, args []any, firstRowOnly bool) DBRequest {
	if args == nil {
		args = []any{}
	}
	return DBRequest{Kind: KindQuery, SQL: sql, Args: args, FirstRowOnly: firstRowOnly}
}

// NewColumnsQuery builds a query request that only describes sql's columns.
func NewColumnsQuery(sql string, args []any) DBRequest {
	req := NewQuery(sql, args, false)
	req.ColumnsOnly = true
	return req
}

// NewControl builds a begin, commit or rollback request.
func NewControl(kind DBKind) DBRequest {
	return DBRequest{Kind: kind}
}

// NewExecuteMany builds an executemany request running sql once per batch entry.
func NewExecuteMany(sql string, batch [][]any) DBRequest {
	return DBRequest{Kind: KindExecuteMany, SQL: sql, Batch: batch}
}

// Validate checks the shape of the request for its kind.
func (r DBRequest) Validate() error {
	switch r.Kind {
	case KindQuery:
		if r.SQL == "" {
			return fmt.Errorf("query request without sql")
		}
		if len(r.Batch) != 0 {
			return fmt.Errorf("query request carries a batch")
		}
	case KindBegin, KindCommit, KindRollback:
		if r.SQL != "" || len(r.Args) != 0 || len(r.Batch) != 0 || r.FirstRowOnly || r.ColumnsOnly {
			return fmt.Errorf("%s request must not carry sql or arguments", r.Kind)
		}
	case KindExecuteMany:
		if r.SQL == "" {
			return fmt.Errorf("executemany request without sql")
		}
		if len(r.Args) != 0 || r.FirstRowOnly || r.ColumnsOnly {
			return fmt.Errorf("executemany request carries query-only fields")
		}
	default:
		return fmt.Errorf("unknown request kind %q", r.Kind)
	}
	return nil
}

// QueryResponse is the success payload of a query command.
type QueryResponse struct {
	Columns      []string `json:"columns"`
	Rows         [][]any  `json:"rows"`
	RowsAffected int64    `json:"rows_affected"`
	LastInsertID int64    `json:"last_insert_id"`
}

// StreamSlice is one page of a streamed query.
type StreamSlice struct {
	Sequence int32    `json:"sequence"`
	Start    int      `json:"start"`
	Columns  []string `json:"columns,omitempty"`
	Rows     [][]any  `json:"rows"`
	Done     bool     `json:"done"`
}

// Error kinds reported by the engine.
const (
	ErrKindDB           = "db_error"
	ErrKindNotFound     = "not_found"
	ErrKindInvalidInput = "invalid_input"
	ErrKindInternal     = "internal"
)

// BackendError is the structured payload carried in the error slot.
type BackendError struct {
	Kind       string `json:"kind"`
	Message    string `json:"message"`
	Diagnostic string `json:"diagnostic,omitempty"`
}

// OpenCollectionRequest opens the session's unit of work.
type OpenCollectionRequest struct {
	Path         string `json:"path"`
	MediaFolder  string `json:"media_folder,omitempty"`
	MediaDB      string `json:"media_db,omitempty"`
	LegacySchema bool   `json:"legacy_schema,omitempty"`
}

// CloseCollectionRequest closes the session's unit of work.
type CloseCollectionRequest struct {
	Downgrade bool `json:"downgrade,omitempty"`
}

// CollectionInfo describes the open collection.
type CollectionInfo struct {
	Path          string `json:"path"`
	MediaFolder   string `json:"media_folder,omitempty"`
	SchemaVersion int    `json:"schema_version"`
}

// LanguageResponse reports the locale the engine settled on.
type LanguageResponse struct {
	Language string `json:"language"`
}

// Decode unmarshals payload into v, keeping numbers exact. Integral numbers
// become int64 and the rest float64 wherever v holds interface values.
func Decode(payload []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	normalizeInto(v)
	return nil
}

func normalizeInto(v any) {
	switch t := v.(type) {
	case *QueryResponse:
		NormalizeRows(t.Rows)
	case *StreamSlice:
		NormalizeRows(t.Rows)
	case *DBRequest:
		NormalizeValues(t.Args)
		NormalizeRows(t.Batch)
	case *[]any:
		NormalizeValues(*t)
	case *any:
		*t = NormalizeValue(*t)
	}
}

// NormalizeRows applies NormalizeValues to every row in place.
func NormalizeRows(rows [][]any) {
	for _, row := range rows {
		NormalizeValues(row)
	}
}

// NormalizeValues applies NormalizeValue to every element in place.
func NormalizeValues(values []any) {
	for i, v := range values {
		values[i] = NormalizeValue(v)
	}
}

// NormalizeValue converts json.Number into int64 when it is integral and
// float64 otherwise. Other values are returned unchanged.
func NormalizeValue(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

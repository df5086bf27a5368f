package driver

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"sync"

	"github.com/tomyedwab/enginebridge/bridge/backend"
)

// DriverName is the name the driver is registered under with database/sql.
const DriverName = "enginebridge"

var (
	registryMu sync.RWMutex
	registry   = map[string]*backend.Session{}
)

func init() {
	sql.Register(DriverName, &Driver{})
}

// RegisterSession makes s available to sql.Open under name.
func RegisterSession(name string, s *backend.Session) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = s
}

// UnregisterSession removes a name added by RegisterSession.
func UnregisterSession(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(registry, name)
}

// --- Driver implementation ---

// Driver is the SQL driver for engine sessions.
type Driver struct{}

// Open returns a connection to the session registered under name.
func (d *Driver) Open(name string) (driver.Conn, error) {
	c, err := d.OpenConnector(name)
	if err != nil {
		return nil, err
	}
	return c.Connect(context.Background())
}

// OpenConnector implements driver.DriverContext.
func (d *Driver) OpenConnector(name string) (driver.Connector, error) {
	registryMu.RLock()
	s, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("enginebridge: no session registered as %q", name)
	}
	return NewConnector(s), nil
}

// Connector opens connections on one session.
type Connector struct {
	session *backend.Session
}

// NewConnector returns a connector whose connections use s.
func NewConnector(s *backend.Session) *Connector {
	return &Connector{session: s}
}

// Connect implements driver.Connector.
func (c *Connector) Connect(ctx context.Context) (driver.Conn, error) {
	if !c.session.IsOpen() {
		return nil, driver.ErrBadConn
	}
	return &Conn{session: c.session}, nil
}

// Driver implements driver.Connector.
func (c *Connector) Driver() driver.Driver {
	return &Driver{}
}

// --- Connection implementation ---

// Conn implements the driver.Conn interface.
type Conn struct {
	session *backend.Session
	txCtx   context.Context // Set while a transaction started on this connection is active
}

// ctx returns the transaction context when one is active, so statements run
// under the held guard.
func (c *Conn) ctx(ctx context.Context) context.Context {
	if c.txCtx != nil {
		return c.txCtx
	}
	return ctx
}

// Prepare returns a statement for query. Nothing is sent to the engine.
func (c *Conn) Prepare(query string) (driver.Stmt, error) {
	return c.PrepareContext(context.Background(), query)
}

// PrepareContext implements driver.ConnPrepareContext.
func (c *Conn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	return &Stmt{conn: c, query: query}, nil
}

// Close rolls back a transaction left open on the connection.
func (c *Conn) Close() error {
	if c.txCtx == nil {
		return nil
	}
	txCtx := c.txCtx
	c.txCtx = nil
	return c.session.Rollback(txCtx)
}

// Begin starts and returns a new transaction.
func (c *Conn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// BeginTx implements driver.ConnBeginTx. Isolation levels and read-only
// transactions are not supported.
func (c *Conn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if c.txCtx != nil {
		return nil, fmt.Errorf("enginebridge: transaction already active on this connection")
	}
	if opts.Isolation != driver.IsolationLevel(sql.LevelDefault) {
		return nil, fmt.Errorf("enginebridge: isolation level %d not supported", opts.Isolation)
	}
	if opts.ReadOnly {
		return nil, fmt.Errorf("enginebridge: read-only transactions not supported")
	}
	txCtx, err := c.session.Begin(ctx)
	if err != nil {
		return nil, err
	}
	c.txCtx = txCtx
	return &Tx{conn: c}, nil
}

// IsValid implements driver.Validator.
func (c *Conn) IsValid() bool {
	return c.session.IsOpen()
}

// --- Statement implementation ---

// Stmt implements the driver.Stmt interface.
type Stmt struct {
	conn  *Conn
	query string
}

// Close closes the statement.
func (s *Stmt) Close() error {
	return nil
}

// NumInput returns -1; the engine checks placeholder counts.
func (s *Stmt) NumInput() int {
	return -1
}

func namedToArgs(named []driver.NamedValue) ([]any, error) {
	args := make([]any, len(named))
	for i, nv := range named {
		if nv.Name != "" {
			return nil, fmt.Errorf("enginebridge: named parameter %q not supported", nv.Name)
		}
		args[i] = nv.Value
	}
	return args, nil
}

func valuesToArgs(values []driver.Value) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

// Exec executes the statement with the given arguments and returns a Result.
func (s *Stmt) Exec(args []driver.Value) (driver.Result, error) {
	return s.exec(context.Background(), valuesToArgs(args))
}

// ExecContext implements driver.StmtExecContext.
func (s *Stmt) ExecContext(ctx context.Context, named []driver.NamedValue) (driver.Result, error) {
	args, err := namedToArgs(named)
	if err != nil {
		return nil, err
	}
	return s.exec(ctx, args)
}

func (s *Stmt) exec(ctx context.Context, args []any) (driver.Result, error) {
	res, err := s.conn.session.Exec(s.conn.ctx(ctx), s.query, args...)
	if err != nil {
		return nil, err
	}
	return &result{lastInsertID: res.LastInsertID, rowsAffected: res.RowsAffected}, nil
}

// Query executes the statement with the given arguments and returns Rows.
func (s *Stmt) Query(args []driver.Value) (driver.Rows, error) {
	return s.runQuery(context.Background(), valuesToArgs(args))
}

// QueryContext implements driver.StmtQueryContext.
func (s *Stmt) QueryContext(ctx context.Context, named []driver.NamedValue) (driver.Rows, error) {
	args, err := namedToArgs(named)
	if err != nil {
		return nil, err
	}
	return s.runQuery(ctx, args)
}

func (s *Stmt) runQuery(ctx context.Context, args []any) (driver.Rows, error) {
	set, err := s.conn.session.Query(s.conn.ctx(ctx), s.query, args...)
	if err != nil {
		return nil, err
	}
	return &rows{columns: set.Columns, data: set.Rows}, nil
}

// --- Transaction implementation ---

// Tx implements the driver.Tx interface.
type Tx struct {
	conn *Conn
}

// Commit commits the transaction. The connection leaves the transaction even
// when the commit fails.
func (t *Tx) Commit() error {
	txCtx := t.conn.txCtx
	if txCtx == nil {
		return fmt.Errorf("enginebridge: transaction already committed or rolled back")
	}
	t.conn.txCtx = nil
	return t.conn.session.Commit(txCtx)
}

// Rollback aborts the transaction.
func (t *Tx) Rollback() error {
	txCtx := t.conn.txCtx
	if txCtx == nil {
		return fmt.Errorf("enginebridge: transaction already committed or rolled back")
	}
	t.conn.txCtx = nil
	return t.conn.session.Rollback(txCtx)
}

// --- Result implementation ---

type result struct {
	lastInsertID int64
	rowsAffected int64
}

func (r *result) LastInsertId() (int64, error) {
	return r.lastInsertID, nil
}

func (r *result) RowsAffected() (int64, error) {
	return r.rowsAffected, nil
}

// --- Rows implementation ---

// rows implements driver.Rows over a materialized result.
type rows struct {
	columns         []string
	data            [][]any
	currentRowIndex int
}

func (r *rows) Columns() []string {
	return r.columns
}

func (r *rows) Close() error {
	r.data = nil
	r.currentRowIndex = 0
	return nil
}

func (r *rows) Next(dest []driver.Value) error {
	if r.currentRowIndex >= len(r.data) {
		return io.EOF
	}

	rowData := r.data[r.currentRowIndex]
	if len(rowData) != len(dest) {
		return fmt.Errorf("enginebridge: column count mismatch. Expected %d, got %d", len(dest), len(rowData))
	}
	for i, val := range rowData {
		dest[i] = val
	}

	r.currentRowIndex++
	return nil
}

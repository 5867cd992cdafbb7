package db

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// TraceOptions controls what the tracing connector reports per statement.
type TraceOptions struct {
	// LogStatements logs every statement at debug level with its arguments.
	LogStatements bool
	// SlowThreshold logs statements at warn when they take at least this long.
	// Zero disables the check.
	SlowThreshold time.Duration
	// Observe, when set, receives op ("exec", "query", "commit", "rollback"),
	// duration and error of every traced call.
	Observe func(op string, elapsed time.Duration, err error)
}

type tracer struct {
	opts   TraceOptions
	logger *slog.Logger
}

// NewTracingConnector returns a sqlite3 driver.Connector whose connections
// report through opts. Use sql.OpenDB(connector) to get a *sql.DB.
// If logger is nil, slog.Default() is used.
func NewTracingConnector(dsn string, logger *slog.Logger, opts TraceOptions) driver.Connector {
	if logger == nil {
		logger = slog.Default()
	}
	return &tracingConnector{
		dsn: dsn,
		tr:  &tracer{opts: opts, logger: logger.With("component", "sql")},
	}
}

type tracingConnector struct {
	dsn string
	tr  *tracer
}

func (c *tracingConnector) Driver() driver.Driver {
	return unsupportedDriver{}
}

func (c *tracingConnector) Connect(ctx context.Context) (driver.Conn, error) {
	conn, err := (&sqlite3.SQLiteDriver{}).Open(c.dsn)
	if err != nil {
		return nil, err
	}
	return &tracingConn{conn: conn, tr: c.tr}, nil
}

// unsupportedDriver satisfies Connector.Driver; connections only come from Connect.
type unsupportedDriver struct{}

func (unsupportedDriver) Open(string) (driver.Conn, error) {
	return nil, errors.New("db: open through sql.OpenDB(NewTracingConnector(...))")
}

type tracingConn struct {
	conn driver.Conn
	tr   *tracer
}

func (c *tracingConn) Prepare(query string) (driver.Stmt, error) {
	return c.PrepareContext(context.Background(), query)
}

func (c *tracingConn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	var (
		stmt driver.Stmt
		err  error
	)
	if prep, ok := c.conn.(driver.ConnPrepareContext); ok {
		stmt, err = prep.PrepareContext(ctx, query)
	} else {
		stmt, err = c.conn.Prepare(query)
	}
	if err != nil {
		return nil, err
	}
	return &tracingStmt{stmt: stmt, query: query, tr: c.tr}, nil
}

func (c *tracingConn) Close() error {
	return c.conn.Close()
}

func (c *tracingConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *tracingConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	var (
		tx  driver.Tx
		err error
	)
	if beginTx, ok := c.conn.(driver.ConnBeginTx); ok {
		tx, err = beginTx.BeginTx(ctx, opts)
	} else {
		//nolint:staticcheck // SA1019 fallback when the conn has no BeginTx
		tx, err = c.conn.Begin()
	}
	if err != nil {
		return nil, err
	}
	return &tracingTx{tx: tx, tr: c.tr, start: time.Now()}, nil
}

// tracingTx reports commit and rollback with the lifetime of the transaction,
// which for the raw tier covers the insert and its eviction together.
type tracingTx struct {
	tx    driver.Tx
	tr    *tracer
	start time.Time
}

func (t *tracingTx) Commit() error {
	err := t.tx.Commit()
	t.tr.report("commit", "", nil, time.Since(t.start), err)
	return err
}

func (t *tracingTx) Rollback() error {
	err := t.tx.Rollback()
	t.tr.report("rollback", "", nil, time.Since(t.start), err)
	return err
}

type tracingStmt struct {
	stmt  driver.Stmt
	query string
	tr    *tracer
}

func (s *tracingStmt) Exec(args []driver.Value) (driver.Result, error) {
	return s.ExecContext(context.Background(), valuesToNamed(args))
}

func (s *tracingStmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	return trace(s, "exec", args, func() (driver.Result, error) {
		if execCtx, ok := s.stmt.(driver.StmtExecContext); ok {
			return execCtx.ExecContext(ctx, args)
		}
		//nolint:staticcheck // SA1019 fallback when the stmt has no ExecContext
		return s.stmt.Exec(namedToValues(args))
	})
}

func (s *tracingStmt) Query(args []driver.Value) (driver.Rows, error) {
	return s.QueryContext(context.Background(), valuesToNamed(args))
}

func (s *tracingStmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	return trace(s, "query", args, func() (driver.Rows, error) {
		if queryCtx, ok := s.stmt.(driver.StmtQueryContext); ok {
			return queryCtx.QueryContext(ctx, args)
		}
		//nolint:staticcheck // SA1019 fallback when the stmt has no QueryContext
		return s.stmt.Query(namedToValues(args))
	})
}

func (s *tracingStmt) Close() error {
	return s.stmt.Close()
}

func (s *tracingStmt) NumInput() int {
	return s.stmt.NumInput()
}

func trace[T any](s *tracingStmt, op string, args []driver.NamedValue, call func() (T, error)) (T, error) {
	start := time.Now()
	res, err := call()
	s.tr.report(op, s.query, args, time.Since(start), err)
	return res, err
}

func (t *tracer) report(op, query string, args []driver.NamedValue, elapsed time.Duration, err error) {
	if t.opts.Observe != nil {
		t.opts.Observe(op, elapsed, err)
	}

	slow := t.opts.SlowThreshold > 0 && elapsed >= t.opts.SlowThreshold
	if !slow && !t.opts.LogStatements {
		return
	}

	attrs := []any{"op", op, "duration_us", elapsed.Microseconds()}
	if query != "" {
		attrs = append(attrs, "sql", query, "args", formatArgs(args))
	}
	if err != nil {
		attrs = append(attrs, "error", err)
	}

	if slow {
		t.logger.Warn("slow sql", attrs...)
		return
	}
	t.logger.Debug("sql", attrs...)
}

func valuesToNamed(args []driver.Value) []driver.NamedValue {
	out := make([]driver.NamedValue, len(args))
	for i, v := range args {
		out[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}
	return out
}

func namedToValues(args []driver.NamedValue) []driver.Value {
	out := make([]driver.Value, len(args))
	for i := range args {
		out[i] = args[i].Value
	}
	return out
}

func formatArgs(args []driver.NamedValue) []string {
	out := make([]string, len(args))
	for i, a := range args {
		var v string
		switch t := a.Value.(type) {
		case nil:
			v = "NULL"
		case []byte:
			v = string(t)
		case time.Time:
			v = t.UTC().Format(time.RFC3339Nano)
		default:
			v = fmt.Sprint(t)
		}
		if a.Name != "" {
			v = a.Name + "=" + v
		}
		out[i] = v
	}
	return out
}

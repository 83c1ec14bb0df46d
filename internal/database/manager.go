package database

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rongwang/sot-gold-tracker/internal/config"
	"github.com/rongwang/sot-gold-tracker/internal/utils"
)

// HealthCheck is the outcome of the last connectivity probe
type HealthCheck struct {
	Status         string    `json:"status"`
	Timestamp      time.Time `json:"timestamp"`
	ResponseTimeMS int64     `json:"responseTime,omitempty"`
	Error          string    `json:"error,omitempty"`
}

// LastError records the most recent failed statement
type LastError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Stats holds the cumulative counters of a Manager
type Stats struct {
	QueriesExecuted   int64        `json:"queriesExecuted"`
	ErrorsEncountered int64        `json:"errorsEncountered"`
	Reconnections     int64        `json:"reconnections"`
	LastHealthCheck   *HealthCheck `json:"lastHealthCheck"`
}

// Status is a read-only snapshot for monitoring
type Status struct {
	IsConnected bool       `json:"isConnected"`
	Stats       Stats      `json:"stats"`
	LastError   *LastError `json:"lastError"`
}

type txKey struct{}

// Manager owns the connection pool. It is the only place raw SQL reaches
// the driver. The pool is opened lazily on first use; a failed open is
// retried by the next caller.
type Manager struct {
	cfg    config.DatabaseConfig
	logger *utils.Logger
	open   func(ctx context.Context, cfg *config.DatabaseConfig) (*sqlx.DB, error)

	mu sync.Mutex
	db *sqlx.DB

	queriesExecuted   atomic.Int64
	errorsEncountered atomic.Int64
	reconnections     atomic.Int64

	stateMu         sync.Mutex
	lastHealthCheck *HealthCheck
	lastError       *LastError
}

// New creates a Manager for cfg. No connection is made until Init or the
// first query.
func New(cfg config.DatabaseConfig, logger *utils.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		logger: logger,
		open:   config.SetupDatabase,
	}
}

// Init opens the pool, creating the database if needed, and runs one
// health check. Subsequent calls are no-ops once it has succeeded.
func (m *Manager) Init(ctx context.Context) error {
	m.mu.Lock()
	if m.db != nil {
		m.mu.Unlock()
		return nil
	}

	m.logger.Info("Initializing database connection", "host", m.cfg.Host, "database", m.cfg.DBName)
	db, err := m.open(ctx, &m.cfg)
	if err != nil {
		m.mu.Unlock()
		connErr := &ConnectionError{Err: err}
		m.errorsEncountered.Add(1)
		m.recordError(connErr)
		m.logger.Error("Error initializing database", "error", err)
		return connErr
	}
	m.db = db
	m.mu.Unlock()

	m.logger.Info("Database connection established", "database", m.cfg.DBName)
	m.HealthCheck(ctx)
	return nil
}

// Conn returns the connection bound to ctx: the transaction started by
// Transaction if there is one, the pool otherwise.
func (m *Manager) Conn(ctx context.Context) (*Conn, error) {
	if tx, ok := ctx.Value(txKey{}).(*Conn); ok && tx != nil {
		return tx, nil
	}
	if err := m.Init(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	db := m.db
	m.mu.Unlock()
	if db == nil {
		return nil, &ConnectionError{Err: fmt.Errorf("pool is closed")}
	}
	return &Conn{ext: db, m: m}, nil
}

// WithoutTx returns a context whose queries go to the pool even when ctx
// carries a transaction.
func WithoutTx(ctx context.Context) context.Context {
	return context.WithValue(ctx, txKey{}, (*Conn)(nil))
}

// Select runs a query and scans all rows into dest
func (m *Manager) Select(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	c, err := m.Conn(ctx)
	if err != nil {
		return err
	}
	return c.Select(ctx, dest, query, args...)
}

// Get runs a query and scans one row into dest; sql.ErrNoRows when empty
func (m *Manager) Get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	c, err := m.Conn(ctx)
	if err != nil {
		return err
	}
	return c.Get(ctx, dest, query, args...)
}

// Run executes a statement without result rows
func (m *Manager) Run(ctx context.Context, query string, args ...interface{}) (RunResult, error) {
	c, err := m.Conn(ctx)
	if err != nil {
		return RunResult{}, err
	}
	return c.Run(ctx, query, args...)
}

// Insert executes an INSERT ... RETURNING id
func (m *Manager) Insert(ctx context.Context, query string, args ...interface{}) (RunResult, error) {
	c, err := m.Conn(ctx)
	if err != nil {
		return RunResult{}, err
	}
	return c.Insert(ctx, query, args...)
}

// Transaction runs fn inside a transaction. fn receives a context carrying
// the transaction, so Manager calls made with it join the transaction. If
// ctx already carries one, fn joins it instead of starting a new one.
// Any error or panic from fn rolls back; otherwise the transaction commits.
func (m *Manager) Transaction(ctx context.Context, fn func(ctx context.Context, tx *Conn) error) (err error) {
	if tx, ok := ctx.Value(txKey{}).(*Conn); ok && tx != nil {
		return fn(ctx, tx)
	}

	c, err := m.Conn(ctx)
	if err != nil {
		return err
	}
	db := c.ext.(*sqlx.DB)

	sqlTx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return m.track(fmt.Errorf("failed to begin transaction: %w", err), "BEGIN", nil)
	}
	tx := &Conn{ext: sqlTx, m: m, tx: true}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx), tx); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			m.logger.Error("failed to rollback transaction", "error", err, "rollback_error", rbErr)
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return m.track(fmt.Errorf("failed to commit transaction: %w", err), "COMMIT", nil)
	}
	return nil
}

// HealthCheck issues a trivial query and records the round-trip latency.
func (m *Manager) HealthCheck(ctx context.Context) HealthCheck {
	start := time.Now()
	var one int
	err := m.Get(WithoutTx(ctx), &one, "SELECT 1")

	hc := HealthCheck{Status: "healthy", Timestamp: time.Now()}
	if err != nil {
		hc.Status = "error"
		hc.Error = err.Error()
	} else {
		hc.ResponseTimeMS = time.Since(start).Milliseconds()
	}

	m.stateMu.Lock()
	m.lastHealthCheck = &hc
	m.stateMu.Unlock()
	return hc
}

// Status returns connectivity, counters, last health check and last error.
func (m *Manager) Status() Status {
	m.mu.Lock()
	connected := m.db != nil
	m.mu.Unlock()

	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	st := Status{
		IsConnected: connected,
		Stats: Stats{
			QueriesExecuted:   m.queriesExecuted.Load(),
			ErrorsEncountered: m.errorsEncountered.Load(),
			Reconnections:     m.reconnections.Load(),
		},
	}
	if m.lastHealthCheck != nil {
		hc := *m.lastHealthCheck
		st.Stats.LastHealthCheck = &hc
	}
	if m.lastError != nil {
		le := *m.lastError
		st.LastError = &le
	}
	return st
}

// Close drains and closes the pool. Safe to call repeatedly or before Init.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db == nil {
		return nil
	}
	err := m.db.Close()
	m.db = nil
	if err != nil {
		m.logger.Error("Error closing database connections", "error", err)
		return err
	}
	m.logger.Info("Database pool closed successfully")
	return nil
}

// track updates counters and the last error for a failed call, logs it,
// and hands the error back unchanged.
func (m *Manager) track(err error, query string, args []interface{}) error {
	if err == nil || isNoRows(err) {
		return err
	}
	m.errorsEncountered.Add(1)
	if isConnectionLoss(err) {
		m.reconnections.Add(1)
	}
	m.recordError(err)
	m.logger.Error("Error executing query",
		"error", err,
		"sql", compactSQL(query),
		"params", redactParams(query, args),
	)
	return err
}

func (m *Manager) recordError(err error) {
	m.stateMu.Lock()
	m.lastError = &LastError{
		Code:      errorCode(err),
		Message:   err.Error(),
		Timestamp: time.Now(),
	}
	m.stateMu.Unlock()
}

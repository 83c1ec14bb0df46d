package database

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"

	"github.com/jmoiron/sqlx"
)

// RunResult is the outcome of a statement that returns no rows
type RunResult struct {
	InsertedID   int64 `json:"insertedId"`
	AffectedRows int64 `json:"affectedRows"`
}

// Conn is a query surface bound either to the pool or to one transaction.
// Every call is counted on the owning Manager.
type Conn struct {
	ext sqlx.ExtContext
	m   *Manager
	tx  bool
}

// InTx reports whether the connection is bound to a transaction
func (c *Conn) InTx() bool {
	return c.tx
}

// Select runs a query and scans all rows into dest (a slice pointer)
func (c *Conn) Select(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	c.m.queriesExecuted.Add(1)
	err := sqlx.SelectContext(ctx, c.ext, dest, query, args...)
	return c.m.track(err, query, args)
}

// Get runs a query and scans a single row into dest.
// It returns sql.ErrNoRows when nothing matched.
func (c *Conn) Get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	c.m.queriesExecuted.Add(1)
	err := sqlx.GetContext(ctx, c.ext, dest, query, args...)
	return c.m.track(err, query, args)
}

// Run executes a statement and reports the affected row count
func (c *Conn) Run(ctx context.Context, query string, args ...interface{}) (RunResult, error) {
	c.m.queriesExecuted.Add(1)
	res, err := c.ext.ExecContext(ctx, query, args...)
	if err != nil {
		return RunResult{}, c.m.track(err, query, args)
	}
	affected, _ := res.RowsAffected()
	return RunResult{AffectedRows: affected}, nil
}

// Insert executes an INSERT ... RETURNING id and reports the new id
func (c *Conn) Insert(ctx context.Context, query string, args ...interface{}) (RunResult, error) {
	c.m.queriesExecuted.Add(1)
	var id int64
	err := c.ext.QueryRowxContext(ctx, query, args...).Scan(&id)
	if err != nil {
		return RunResult{}, c.m.track(err, query, args)
	}
	return RunResult{InsertedID: id, AffectedRows: 1}, nil
}

var whitespace = regexp.MustCompile(`\s+`)

func compactSQL(query string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(query, " "))
}

// redactParams hides parameters of statements that touch a password column.
func redactParams(query string, args []interface{}) []interface{} {
	if !strings.Contains(strings.ToLower(query), "password") {
		return args
	}
	out := make([]interface{}, len(args))
	for i := range args {
		out[i] = "[redacted]"
	}
	return out
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

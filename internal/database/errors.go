package database

import (
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// ConnectionError reports that the pool could not be created or the
// connectivity probe failed. The Manager retries on the next call.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("database connection failed: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// UniqueViolation returns the constraint name when err is a PostgreSQL
// unique_violation (23505).
func UniqueViolation(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return pqErr.Constraint, true
	}
	return "", false
}

// ForeignKeyViolation returns the constraint name when err is a PostgreSQL
// foreign_key_violation (23503).
func ForeignKeyViolation(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23503" {
		return pqErr.Constraint, true
	}
	return "", false
}

// errorCode extracts the SQLSTATE code, or "" for non-driver errors.
func errorCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return "CONNECTION"
	}
	return ""
}

// isConnectionLoss reports errors after which the pool has to redial.
func isConnectionLoss(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code.Class() == "08"
	}
	return false
}

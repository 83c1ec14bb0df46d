package schema

import "fmt"

// SchemaError reports that a table could not be verified or evolved.
// The owning model must not serve queries against that table.
type SchemaError struct {
	Table string
	Op    string
	Err   error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema error on %s (%s): %v", e.Table, e.Op, e.Err)
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

func wrap(table, op string, err error) error {
	if err == nil {
		return nil
	}
	if se, ok := err.(*SchemaError); ok {
		return se
	}
	return &SchemaError{Table: table, Op: op, Err: err}
}

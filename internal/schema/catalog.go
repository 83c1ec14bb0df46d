package schema

import (
	"context"
	"fmt"
)

// Catalog answers questions about the live schema from information_schema,
// scoped to the connection's current schema.
type Catalog struct {
	q Querier
}

// NewCatalog creates a Catalog over q
func NewCatalog(q Querier) *Catalog {
	return &Catalog{q: q}
}

// TableExists reports whether table exists
func (c *Catalog) TableExists(ctx context.Context, table string) (bool, error) {
	var exists bool
	err := c.q.Get(ctx, &exists, `
		SELECT EXISTS(
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = current_schema() AND table_name = $1
		)`, table)
	if err != nil {
		return false, wrap(table, "check table", err)
	}
	return exists, nil
}

// ColumnExists reports whether table has column
func (c *Catalog) ColumnExists(ctx context.Context, table, column string) (bool, error) {
	var exists bool
	err := c.q.Get(ctx, &exists, `
		SELECT EXISTS(
			SELECT 1 FROM information_schema.columns
			WHERE table_schema = current_schema() AND table_name = $1 AND column_name = $2
		)`, table, column)
	if err != nil {
		return false, wrap(table, "check column "+column, err)
	}
	return exists, nil
}

// IndexExists reports whether an index with that name exists
func (c *Catalog) IndexExists(ctx context.Context, table, index string) (bool, error) {
	var exists bool
	err := c.q.Get(ctx, &exists, `
		SELECT EXISTS(
			SELECT 1 FROM pg_indexes
			WHERE schemaname = current_schema() AND tablename = $1 AND indexname = $2
		)`, table, index)
	if err != nil {
		return false, wrap(table, "check index "+index, err)
	}
	return exists, nil
}

// TableColumns lists the columns of table in ordinal order
func (c *Catalog) TableColumns(ctx context.Context, table string) ([]string, error) {
	var columns []string
	err := c.q.Select(ctx, &columns, `
		SELECT column_name FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1
		ORDER BY ordinal_position`, table)
	if err != nil {
		return nil, wrap(table, "list columns", err)
	}
	return columns, nil
}

// EnsureColumn adds column to table using definition (which starts with
// the column name) when it is missing. It reports whether it added it.
func (c *Catalog) EnsureColumn(ctx context.Context, table, column, definition string) (bool, error) {
	exists, err := c.ColumnExists(ctx, table, column)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if _, err := c.q.Run(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", table, definition)); err != nil {
		return false, wrap(table, "add column "+column, err)
	}
	return true, nil
}

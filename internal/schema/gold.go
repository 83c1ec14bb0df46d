package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/rongwang/sot-gold-tracker/internal/utils"
)

// DefaultAmountColumn is the canonical name of the ledger amount column
const DefaultAmountColumn = "gold_amount"

// amountSynonyms are legacy names that held the ledger amount, in
// preference order.
var amountSynonyms = []string{"amount", "gold", "value", "quantity"}

// ResolveAmountColumn picks the column holding the ledger amount from an
// existing gold_history column list. missing is true when none is usable
// and gold_amount has to be added. More than one legacy candidate is
// reported as an error rather than guessed.
func ResolveAmountColumn(columns []string) (name string, missing bool, err error) {
	present := make(map[string]string, len(columns))
	for _, col := range columns {
		present[strings.ToLower(col)] = col
	}
	if col, ok := present[DefaultAmountColumn]; ok {
		return col, false, nil
	}

	var matches []string
	for _, syn := range amountSynonyms {
		if col, ok := present[syn]; ok {
			matches = append(matches, col)
		}
	}
	switch len(matches) {
	case 0:
		return DefaultAmountColumn, true, nil
	case 1:
		return matches[0], false, nil
	default:
		return "", false, &SchemaError{
			Table: GoldHistory.Name,
			Op:    "resolve amount column",
			Err:   fmt.Errorf("ambiguous legacy amount columns %v", matches),
		}
	}
}

// ComputeDeltas returns, for a chronological amount sequence, each
// amount minus its predecessor, with the first measured against zero.
func ComputeDeltas(amounts []int64) []int64 {
	deltas := make([]int64, len(amounts))
	var previous int64
	for i, amount := range amounts {
		deltas[i] = amount - previous
		previous = amount
	}
	return deltas
}

// EnsureGoldHistory brings gold_history to its target shape and returns
// the name of the column to use for the amount.
//
// A missing table is created. An existing one gets its amount column
// resolved (see ResolveAmountColumn), missing change_amount and notes
// columns added, change_amount backfilled, and legacy amount values copied
// into gold_amount when both columns exist.
func EnsureGoldHistory(ctx context.Context, q Querier, logger *utils.Logger) (string, error) {
	catalog := NewCatalog(q)

	exists, err := catalog.TableExists(ctx, GoldHistory.Name)
	if err != nil {
		return "", err
	}
	if !exists {
		if err := CreateTable(ctx, q, GoldHistory); err != nil {
			return "", err
		}
		logger.Info("Created gold_history table")
		return DefaultAmountColumn, nil
	}

	columns, err := catalog.TableColumns(ctx, GoldHistory.Name)
	if err != nil {
		return "", err
	}
	amountColumn, missing, err := ResolveAmountColumn(columns)
	if err != nil {
		return "", err
	}
	if missing {
		if _, err := catalog.EnsureColumn(ctx, GoldHistory.Name, DefaultAmountColumn,
			DefaultAmountColumn+" BIGINT NOT NULL DEFAULT 0"); err != nil {
			return "", err
		}
		logger.Info("Added missing gold_amount column to gold_history")
	} else if amountColumn != DefaultAmountColumn {
		logger.Warn("Using legacy column for gold amount", "column", amountColumn)
	}

	if _, err := catalog.EnsureColumn(ctx, GoldHistory.Name, "notes", "notes TEXT"); err != nil {
		return "", err
	}
	if _, err := catalog.EnsureColumn(ctx, GoldHistory.Name, "change_amount", "change_amount BIGINT"); err != nil {
		return "", err
	}

	if err := migrateLegacyAmount(ctx, q, catalog); err != nil {
		return "", err
	}

	updated, err := BackfillChangeAmounts(ctx, q, amountColumn)
	if err != nil {
		return "", err
	}
	if updated > 0 {
		logger.Info("Backfilled change amounts", "rows", updated)
	}

	for _, idx := range GoldHistory.Indexes {
		if _, err := q.Run(ctx, idx); err != nil {
			return "", wrap(GoldHistory.Name, "create index", err)
		}
	}
	return amountColumn, nil
}

// migrateLegacyAmount copies amount into gold_amount where the latter was
// never filled, when a table carries both.
func migrateLegacyAmount(ctx context.Context, q Querier, catalog *Catalog) error {
	hasLegacy, err := catalog.ColumnExists(ctx, GoldHistory.Name, "amount")
	if err != nil || !hasLegacy {
		return err
	}
	hasCanonical, err := catalog.ColumnExists(ctx, GoldHistory.Name, DefaultAmountColumn)
	if err != nil || !hasCanonical {
		return err
	}
	_, err = q.Run(ctx, `
		UPDATE gold_history
		SET gold_amount = amount
		WHERE (gold_amount = 0 OR gold_amount IS NULL) AND amount IS NOT NULL`)
	return wrap(GoldHistory.Name, "copy amount into gold_amount", err)
}

type backfillRow struct {
	ID           int64         `db:"id"`
	Amount       int64         `db:"amount"`
	ChangeAmount sql.NullInt64 `db:"change_amount"`
}

// BackfillChangeAmounts fills change_amount for rows where it is NULL.
// Each owner's rows are walked in (timestamp, id) order against a running
// previous amount seeded at zero. Rows that already carry a value are
// left alone, so running it again changes nothing.
func BackfillChangeAmounts(ctx context.Context, q Querier, amountColumn string) (int, error) {
	var owners []string
	err := q.Select(ctx, &owners,
		`SELECT DISTINCT discord_id FROM gold_history WHERE change_amount IS NULL`)
	if err != nil {
		return 0, wrap(GoldHistory.Name, "backfill change_amount", err)
	}

	updated := 0
	for _, owner := range owners {
		var rows []backfillRow
		err := q.Select(ctx, &rows, fmt.Sprintf(`
			SELECT id, COALESCE(%s, 0) AS amount, change_amount
			FROM gold_history
			WHERE discord_id = $1
			ORDER BY "timestamp" ASC, id ASC`, amountColumn), owner)
		if err != nil {
			return updated, wrap(GoldHistory.Name, "backfill change_amount", err)
		}

		amounts := make([]int64, len(rows))
		for i, row := range rows {
			amounts[i] = row.Amount
		}
		deltas := ComputeDeltas(amounts)

		for i, row := range rows {
			if row.ChangeAmount.Valid {
				continue
			}
			_, err := q.Run(ctx,
				`UPDATE gold_history SET change_amount = $1 WHERE id = $2 AND change_amount IS NULL`,
				deltas[i], row.ID)
			if err != nil {
				return updated, wrap(GoldHistory.Name, "backfill change_amount", err)
			}
			updated++
		}
	}
	return updated, nil
}

package repository

import (
	"context"
	"fmt"

	"github.com/rongwang/sot-gold-tracker/internal/database"
	"github.com/rongwang/sot-gold-tracker/internal/models"
	"github.com/rongwang/sot-gold-tracker/internal/schema"
	"github.com/rongwang/sot-gold-tracker/internal/utils"
)

// PostgresGoldRepository implements GoldRepository.
// Writes for one user are serialized with a transaction-scoped advisory
// lock, so each delta is computed against the amount it actually follows.
type PostgresGoldRepository struct {
	db     *database.Manager
	logger *utils.Logger
	schema schemaGuard

	// amountColumn is the resolved ledger amount column; set by EnsureSchema
	amountColumn string
}

// NewPostgresGoldRepository creates a new gold ledger repository
func NewPostgresGoldRepository(db *database.Manager, logger *utils.Logger) *PostgresGoldRepository {
	return &PostgresGoldRepository{
		db:           db,
		logger:       logger,
		amountColumn: schema.DefaultAmountColumn,
	}
}

// EnsureSchema verifies and evolves gold_history on first use, including
// the change_amount backfill for rows written by older versions.
func (r *PostgresGoldRepository) EnsureSchema(ctx context.Context) error {
	return r.schema.ensure(ctx, func(ctx context.Context) error {
		return r.db.Transaction(ctx, func(ctx context.Context, tx *database.Conn) error {
			// the leaderboard joins users for display names
			if err := schema.CreateTable(ctx, tx, schema.Users); err != nil {
				return err
			}
			column, err := schema.EnsureGoldHistory(ctx, tx, r.logger)
			if err != nil {
				return err
			}
			r.amountColumn = column
			r.logger.Debug("Gold model initialized", "amount_column", column)
			return nil
		})
	})
}

func (r *PostgresGoldRepository) entryColumns() string {
	return fmt.Sprintf(
		`id, discord_id, %s AS gold_amount, COALESCE(change_amount, 0) AS change_amount, "timestamp", notes`,
		r.amountColumn)
}

// CurrentGold returns the amount of the user's latest entry, or 0 when the
// user has no history. Entries sharing a timestamp are ordered by id.
func (r *PostgresGoldRepository) CurrentGold(ctx context.Context, discordID string) (int64, error) {
	if err := r.EnsureSchema(ctx); err != nil {
		return 0, err
	}
	return r.currentGold(ctx, discordID)
}

func (r *PostgresGoldRepository) currentGold(ctx context.Context, discordID string) (int64, error) {
	var amount int64
	err := r.db.Get(ctx, &amount, fmt.Sprintf(`
		SELECT COALESCE(%s, 0) FROM gold_history
		WHERE discord_id = $1
		ORDER BY "timestamp" DESC, id DESC
		LIMIT 1`, r.amountColumn), discordID)
	if err != nil {
		if isNoRows(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("error getting current gold: %w", err)
	}
	return amount, nil
}

// UpdateGold appends an entry setting the user's gold to amount, with the
// change measured against the previous latest entry.
func (r *PostgresGoldRepository) UpdateGold(ctx context.Context, discordID string, amount int64, note string) (*models.GoldEntry, error) {
	return r.write(ctx, discordID, note, func(current int64) int64 {
		return amount
	})
}

// AdjustGold appends an entry moving the user's gold by delta
func (r *PostgresGoldRepository) AdjustGold(ctx context.Context, discordID string, delta int64, note string) (*models.GoldEntry, error) {
	return r.write(ctx, discordID, note, func(current int64) int64 {
		return current + delta
	})
}

func (r *PostgresGoldRepository) write(ctx context.Context, discordID, note string, next func(current int64) int64) (*models.GoldEntry, error) {
	if err := r.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	var entry models.GoldEntry
	err := r.db.Transaction(ctx, func(ctx context.Context, tx *database.Conn) error {
		if err := lockKey(ctx, tx, "gold", discordID); err != nil {
			return err
		}
		current, err := r.currentGold(ctx, discordID)
		if err != nil {
			return err
		}
		amount := next(current)

		// Stamped after the lock, never before the entry it follows, so
		// ("timestamp", id) order matches write order.
		return tx.Get(ctx, &entry, fmt.Sprintf(`
			INSERT INTO gold_history (discord_id, %s, change_amount, notes, "timestamp")
			VALUES ($1, $2, $3, $4, GREATEST(clock_timestamp()::timestamp,
				(SELECT MAX("timestamp") FROM gold_history WHERE discord_id = $1)))
			RETURNING %s`, r.amountColumn, r.entryColumns()),
			discordID, amount, amount-current, nullString(note))
	})
	if err != nil {
		return nil, fmt.Errorf("error updating gold: %w", err)
	}
	return &entry, nil
}

// GoldHistory returns the user's latest entries, newest first
func (r *PostgresGoldRepository) GoldHistory(ctx context.Context, discordID string, limit int) ([]models.GoldEntry, error) {
	if err := r.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	entries := []models.GoldEntry{}
	err := r.db.Select(ctx, &entries, fmt.Sprintf(`
		SELECT %s FROM gold_history
		WHERE discord_id = $1
		ORDER BY "timestamp" DESC, id DESC
		LIMIT $2`, r.entryColumns()), discordID, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("error getting gold history: %w", err)
	}
	return entries, nil
}

// Leaderboard ranks users by the amount of their latest entry
func (r *PostgresGoldRepository) Leaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	if err := r.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	entries := []models.LeaderboardEntry{}
	err := r.db.Select(ctx, &entries, fmt.Sprintf(`
		SELECT latest.discord_id, latest.current_gold,
			COALESCE(u.username, latest.discord_id) AS username
		FROM (
			SELECT DISTINCT ON (discord_id) discord_id, COALESCE(%s, 0) AS current_gold
			FROM gold_history
			ORDER BY discord_id, "timestamp" DESC, id DESC
		) latest
		LEFT JOIN users u ON u.discord_id = latest.discord_id
		ORDER BY latest.current_gold DESC, latest.discord_id
		LIMIT $1`, r.amountColumn), normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("error getting leaderboard: %w", err)
	}
	return entries, nil
}

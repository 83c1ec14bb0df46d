package migrations

import (
	"context"

	"github.com/rongwang/sot-gold-tracker/internal/database"
	"github.com/rongwang/sot-gold-tracker/internal/schema"
	"github.com/rongwang/sot-gold-tracker/internal/utils"
)

// All returns the application's migrations in version order
func All(logger *utils.Logger) []Migration {
	return []Migration{
		{
			Version:     "0.1.0",
			Description: "Ensure users and gold_history table structure",
			Apply: func(ctx context.Context, tx *database.Conn) error {
				if err := schema.CreateTable(ctx, tx, schema.Users); err != nil {
					return err
				}
				_, err := schema.EnsureGoldHistory(ctx, tx, logger)
				return err
			},
		},
		{
			Version:     "0.2.0",
			Description: "Create session tables",
			Apply: func(ctx context.Context, tx *database.Conn) error {
				return schema.CreateTables(ctx, tx, schema.Sessions, schema.CashIns)
			},
		},
		{
			Version:     "0.3.0",
			Description: "Create crew tables",
			Apply: func(ctx context.Context, tx *database.Conn) error {
				return schema.CreateTables(ctx, tx,
					schema.Crews, schema.CrewMembers, schema.CrewSessions, schema.CrewCashIns)
			},
		},
		{
			Version:     "0.4.0",
			Description: "Enforce one open session per user",
			Apply: func(ctx context.Context, tx *database.Conn) error {
				return schema.EnsureOneOpenSession(ctx, tx, logger)
			},
		},
	}
}

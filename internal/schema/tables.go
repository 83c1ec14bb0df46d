package schema

import (
	"context"

	"github.com/rongwang/sot-gold-tracker/internal/database"
)

// Querier is the query surface shared by *database.Manager and
// *database.Conn, so schema work runs either on the pool or inside a
// migration transaction.
type Querier interface {
	Select(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	Get(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	Run(ctx context.Context, query string, args ...interface{}) (database.RunResult, error)
}

// Table is the full target shape of one table
type Table struct {
	Name    string
	Create  string
	Indexes []string
}

// OneOpenSessionIndex enforces at most one session per user with no end time.
const OneOpenSessionIndex = "uq_sessions_one_open"

// CreateOneOpenSessionIndex fails while any user still has two open
// sessions; EnsureOneOpenSession closes such duplicates first.
const CreateOneOpenSessionIndex = `CREATE UNIQUE INDEX IF NOT EXISTS ` + OneOpenSessionIndex +
	` ON sessions (discord_id) WHERE end_time IS NULL`

// CrewNameConstraint is the unique constraint on crews.name
const CrewNameConstraint = "crews_name_key"

var (
	Users = Table{
		Name: "users",
		Create: `
			CREATE TABLE IF NOT EXISTS users (
				discord_id VARCHAR(50) PRIMARY KEY,
				username VARCHAR(100) NOT NULL,
				created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
			)`,
	}

	// change_amount stays nullable: NULL marks rows that predate the column
	// and still need a backfilled delta.
	GoldHistory = Table{
		Name: "gold_history",
		Create: `
			CREATE TABLE IF NOT EXISTS gold_history (
				id SERIAL PRIMARY KEY,
				discord_id VARCHAR(50) NOT NULL,
				gold_amount BIGINT NOT NULL,
				change_amount BIGINT,
				"timestamp" TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
				notes TEXT
			)`,
		Indexes: []string{
			`CREATE INDEX IF NOT EXISTS idx_gold_history_user_time ON gold_history (discord_id, "timestamp" DESC, id DESC)`,
		},
	}

	Sessions = Table{
		Name: "sessions",
		Create: `
			CREATE TABLE IF NOT EXISTS sessions (
				id SERIAL PRIMARY KEY,
				discord_id VARCHAR(50) NOT NULL REFERENCES users(discord_id),
				session_name VARCHAR(100) NOT NULL,
				starting_gold BIGINT NOT NULL,
				ending_gold BIGINT,
				earned_gold BIGINT,
				start_time TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
				end_time TIMESTAMP,
				notes TEXT
			)`,
		Indexes: []string{
			`CREATE INDEX IF NOT EXISTS idx_sessions_user_start ON sessions (discord_id, start_time DESC)`,
		},
	}

	CashIns = Table{
		Name: "cash_ins",
		Create: `
			CREATE TABLE IF NOT EXISTS cash_ins (
				id SERIAL PRIMARY KEY,
				session_id INT NOT NULL REFERENCES sessions(id),
				amount BIGINT NOT NULL,
				"timestamp" TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
				notes TEXT
			)`,
		Indexes: []string{
			`CREATE INDEX IF NOT EXISTS idx_cash_ins_session ON cash_ins (session_id)`,
		},
	}

	Crews = Table{
		Name: "crews",
		Create: `
			CREATE TABLE IF NOT EXISTS crews (
				id SERIAL PRIMARY KEY,
				name VARCHAR(100) NOT NULL,
				created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
				created_by VARCHAR(50) NOT NULL,
				password VARCHAR(100),
				CONSTRAINT ` + CrewNameConstraint + ` UNIQUE (name)
			)`,
	}

	CrewMembers = Table{
		Name: "crew_members",
		Create: `
			CREATE TABLE IF NOT EXISTS crew_members (
				crew_id INT NOT NULL REFERENCES crews(id) ON DELETE CASCADE,
				discord_id VARCHAR(50) NOT NULL,
				role VARCHAR(20) NOT NULL DEFAULT 'member',
				joined_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
				starting_gold BIGINT NOT NULL DEFAULT 0,
				current_gold BIGINT NOT NULL DEFAULT 0,
				PRIMARY KEY (crew_id, discord_id)
			)`,
	}

	CrewSessions = Table{
		Name: "crew_sessions",
		Create: `
			CREATE TABLE IF NOT EXISTS crew_sessions (
				session_id INT PRIMARY KEY REFERENCES sessions(id) ON DELETE CASCADE,
				crew_id INT NOT NULL REFERENCES crews(id) ON DELETE CASCADE
			)`,
		Indexes: []string{
			`CREATE INDEX IF NOT EXISTS idx_crew_sessions_crew ON crew_sessions (crew_id)`,
		},
	}

	CrewCashIns = Table{
		Name: "crew_cash_ins",
		Create: `
			CREATE TABLE IF NOT EXISTS crew_cash_ins (
				cash_in_id INT PRIMARY KEY REFERENCES cash_ins(id) ON DELETE CASCADE,
				discord_id VARCHAR(50) NOT NULL
			)`,
	}

	SchemaVersions = Table{
		Name: "schema_versions",
		Create: `
			CREATE TABLE IF NOT EXISTS schema_versions (
				id SERIAL PRIMARY KEY,
				version VARCHAR(20) NOT NULL,
				applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
				description TEXT,
				CONSTRAINT schema_versions_version_key UNIQUE (version)
			)`,
	}
)

// CreateTable creates t and its indexes if they do not exist
func CreateTable(ctx context.Context, q Querier, t Table) error {
	if _, err := q.Run(ctx, t.Create); err != nil {
		return wrap(t.Name, "create table", err)
	}
	for _, idx := range t.Indexes {
		if _, err := q.Run(ctx, idx); err != nil {
			return wrap(t.Name, "create index", err)
		}
	}
	return nil
}

// CreateTables creates each table in order
func CreateTables(ctx context.Context, q Querier, tables ...Table) error {
	for _, t := range tables {
		if err := CreateTable(ctx, q, t); err != nil {
			return err
		}
	}
	return nil
}

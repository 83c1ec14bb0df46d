package testutils

import (
	"context"
	"testing"
	"time"

	"github.com/rongwang/sot-gold-tracker/internal/config"
	"github.com/rongwang/sot-gold-tracker/internal/database"
	"github.com/rongwang/sot-gold-tracker/internal/utils"
	"github.com/stretchr/testify/require"
)

// AllTables lists every application table, dependents first
var AllTables = []string{
	"crew_cash_ins", "crew_sessions", "crew_members", "crews",
	"cash_ins", "sessions", "gold_history", "users", "schema_versions",
}

// SetupTestDB connects to a throwaway database named after TEST_DB_NAME
// and suffix, dropping every application table first. Each test package
// passes its own suffix so packages can run in parallel. The test is
// skipped when PostgreSQL is unreachable.
func SetupTestDB(t *testing.T, suffix string) *database.Manager {
	t.Helper()

	cfg, err := config.LoadConfig("")
	require.NoError(t, err)

	dbCfg := cfg.Database
	dbCfg.DBName = dbCfg.TestDBName + "_" + suffix
	dbCfg.MaxOpenConns = 10

	m := database.New(dbCfg, utils.NopLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.Init(ctx); err != nil {
		t.Skipf("PostgreSQL not available: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })

	DropTables(t, m)
	return m
}

// DropTables removes every application table
func DropTables(t *testing.T, m *database.Manager) {
	t.Helper()
	for _, table := range AllTables {
		_, err := m.Run(context.Background(), "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err, "failed to drop %s", table)
	}
}

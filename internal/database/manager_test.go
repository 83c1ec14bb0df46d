package database

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rongwang/sot-gold-tracker/internal/config"
	"github.com/rongwang/sot-gold-tracker/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failingManager(openErr error) (*Manager, *int) {
	calls := 0
	m := New(config.DatabaseConfig{Host: "db.invalid", DBName: "sotc"}, utils.NopLogger())
	m.open = func(ctx context.Context, cfg *config.DatabaseConfig) (*sqlx.DB, error) {
		calls++
		return nil, openErr
	}
	return m, &calls
}

func TestInitFailureIsRetried(t *testing.T) {
	m, calls := failingManager(errors.New("dial tcp: connection refused"))
	ctx := context.Background()

	err := m.Init(ctx)
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)

	// Every query retries the open
	var one int
	err = m.Get(ctx, &one, "SELECT 1")
	assert.ErrorAs(t, err, &connErr)
	assert.Equal(t, 2, *calls)

	st := m.Status()
	assert.False(t, st.IsConnected)
	assert.Equal(t, int64(2), st.Stats.ErrorsEncountered)
	require.NotNil(t, st.LastError)
	assert.Equal(t, "CONNECTION", st.LastError.Code)
}

func TestHealthCheckReportsFailure(t *testing.T) {
	m, _ := failingManager(errors.New("no route to host"))

	hc := m.HealthCheck(context.Background())
	assert.Equal(t, "error", hc.Status)
	assert.Contains(t, hc.Error, "no route to host")

	st := m.Status()
	require.NotNil(t, st.Stats.LastHealthCheck)
	assert.Equal(t, "error", st.Stats.LastHealthCheck.Status)
}

func TestTransactionWithoutConnection(t *testing.T) {
	m, _ := failingManager(errors.New("refused"))

	called := false
	err := m.Transaction(context.Background(), func(ctx context.Context, tx *Conn) error {
		called = true
		return nil
	})
	assert.Error(t, err)
	assert.False(t, called)
}

func TestConnInTx(t *testing.T) {
	assert.False(t, (&Conn{}).InTx())
	assert.True(t, (&Conn{tx: true}).InTx())
}

func TestCloseIsIdempotent(t *testing.T) {
	m, _ := failingManager(errors.New("refused"))
	assert.NoError(t, m.Close())
	assert.NoError(t, m.Close())
}

func TestErrorClassification(t *testing.T) {
	unique := &pq.Error{Code: "23505", Constraint: "crews_name_key"}
	name, ok := UniqueViolation(fmt.Errorf("insert: %w", unique))
	assert.True(t, ok)
	assert.Equal(t, "crews_name_key", name)

	_, ok = UniqueViolation(errors.New("other"))
	assert.False(t, ok)

	fk := &pq.Error{Code: "23503", Constraint: "crew_sessions_crew_id_fkey"}
	name, ok = ForeignKeyViolation(fk)
	assert.True(t, ok)
	assert.Equal(t, "crew_sessions_crew_id_fkey", name)

	assert.True(t, isConnectionLoss(driver.ErrBadConn))
	assert.True(t, isConnectionLoss(&pq.Error{Code: "08006"}))
	assert.False(t, isConnectionLoss(unique))

	assert.Equal(t, "23505", errorCode(unique))
	assert.Equal(t, "", errorCode(errors.New("plain")))
}

func TestLogHelpers(t *testing.T) {
	assert.Equal(t, "SELECT 1 FROM users WHERE id = $1", compactSQL("\n\tSELECT 1\n\t\tFROM users\n WHERE id = $1  "))

	args := []interface{}{"crew", "secret"}
	assert.Equal(t, args, redactParams("SELECT * FROM crews WHERE name = $1", args))
	assert.Equal(t, []interface{}{"[redacted]", "[redacted]"},
		redactParams("INSERT INTO crews (name, password) VALUES ($1, $2)", args))
}

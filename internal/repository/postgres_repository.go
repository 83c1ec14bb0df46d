package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rongwang/sot-gold-tracker/internal/database"
	"github.com/rongwang/sot-gold-tracker/internal/models"
	"github.com/rongwang/sot-gold-tracker/internal/utils"
)

// UserRepository stores chat users
type UserRepository interface {
	EnsureSchema(ctx context.Context) error
	UpsertUser(ctx context.Context, discordID, username string) (*models.User, error)
	GetUserByID(ctx context.Context, discordID string) (*models.User, error)
	GetAllUsers(ctx context.Context) ([]models.User, error)
}

// GoldRepository is the append-only gold ledger
type GoldRepository interface {
	EnsureSchema(ctx context.Context) error
	CurrentGold(ctx context.Context, discordID string) (int64, error)
	UpdateGold(ctx context.Context, discordID string, amount int64, note string) (*models.GoldEntry, error)
	AdjustGold(ctx context.Context, discordID string, delta int64, note string) (*models.GoldEntry, error)
	GoldHistory(ctx context.Context, discordID string, limit int) ([]models.GoldEntry, error)
	Leaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error)
}

// SessionRepository tracks play sessions and their cash-ins
type SessionRepository interface {
	EnsureSchema(ctx context.Context) error

	// Lifecycle
	StartSession(ctx context.Context, discordID, name string, startingGold int64) (*models.Session, error)
	StartCrewSession(ctx context.Context, discordID string, crewID int64, name string, startingGold int64) (*models.Session, error)
	EndSession(ctx context.Context, sessionID, endingGold int64) (*models.Session, error)
	EndCrewSession(ctx context.Context, sessionID, endingGold int64) (*models.Session, error)
	AddSessionNotes(ctx context.Context, sessionID int64, notes string) (*models.Session, error)
	AddCashIn(ctx context.Context, sessionID, amount int64, note string) (*models.CashIn, error)
	AddCrewCashIn(ctx context.Context, sessionID int64, discordID string, amount int64, note string) (*models.CrewCashIn, error)

	// Lookups
	GetSessionByID(ctx context.Context, sessionID int64) (*models.Session, error)
	IsCrewSession(ctx context.Context, sessionID int64) (bool, error)
	GetSessionCrewID(ctx context.Context, sessionID int64) (int64, bool, error)
	GetActiveSession(ctx context.Context, discordID string) (*models.Session, error)
	GetActiveCrewSession(ctx context.Context, crewID int64) (*models.Session, error)
	GetUserSessions(ctx context.Context, discordID string, limit int) ([]models.Session, error)
	GetCrewSessions(ctx context.Context, crewID int64, limit int) ([]models.Session, error)
	GetSessionCashIns(ctx context.Context, sessionID int64) ([]models.CashIn, error)
	GetCrewSessionCashIns(ctx context.Context, sessionID int64) ([]models.CrewCashIn, error)

	// Aggregates
	GetCrewSessionSummary(ctx context.Context, sessionID int64) (*models.CrewSessionSummary, error)
	GetUserSessionStats(ctx context.Context, discordID string) (*models.SessionStats, error)
	GetCrewSessionStats(ctx context.Context, crewID int64) (*models.SessionStats, error)
	GetUserTotalEarnings(ctx context.Context, discordID string) (int64, error)
}

// CrewRepository is the crew registry. It does not enforce membership
// rules beyond the table keys; callers combine its checks.
type CrewRepository interface {
	EnsureSchema(ctx context.Context) error
	CreateCrew(ctx context.Context, name, createdBy, password string) (*models.Crew, error)
	GetCrewByID(ctx context.Context, crewID int64) (*models.Crew, error)
	GetCrewByName(ctx context.Context, name string) (*models.Crew, error)
	ListCrews(ctx context.Context) ([]models.CrewListing, error)
	AddCrewMember(ctx context.Context, crewID int64, discordID, role string, startingGold int64) error
	RemoveCrewMember(ctx context.Context, crewID int64, discordID string) error
	UpdateCrewMemberGold(ctx context.Context, crewID int64, discordID string, gold int64) error
	SetMemberRole(ctx context.Context, crewID int64, discordID, role string) (bool, error)
	GetCrewMembers(ctx context.Context, crewID int64) ([]models.CrewMember, error)
	GetUserCrews(ctx context.Context, discordID string) ([]models.UserCrew, error)
	IsUserInCrew(ctx context.Context, crewID int64, discordID string) (bool, error)
	IsUserCrewCaptain(ctx context.Context, crewID int64, discordID string) (bool, error)
}

// Repositories bundles the PostgreSQL repositories over one Manager
type Repositories struct {
	Users    *PostgresUserRepository
	Gold     *PostgresGoldRepository
	Sessions *PostgresSessionRepository
	Crews    *PostgresCrewRepository
}

// NewPostgresRepositories creates every repository over db
func NewPostgresRepositories(db *database.Manager, logger *utils.Logger) *Repositories {
	return &Repositories{
		Users:    NewPostgresUserRepository(db, logger),
		Gold:     NewPostgresGoldRepository(db, logger),
		Sessions: NewPostgresSessionRepository(db, logger),
		Crews:    NewPostgresCrewRepository(db, logger),
	}
}

// schemaGuard runs a repository's schema work once per process. A failed
// attempt is retried by the next caller; concurrent first callers wait for
// the one doing the work. The work never joins a transaction carried by
// the caller's ctx: it commits on its own before ready is set, so a caller
// rolling back cannot undo it.
type schemaGuard struct {
	mu    sync.Mutex
	ready bool
}

func (g *schemaGuard) ensure(ctx context.Context, fn func(ctx context.Context) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ready {
		return nil
	}
	if err := fn(database.WithoutTx(ctx)); err != nil {
		return err
	}
	g.ready = true
	return nil
}

// nullString stores empty strings as NULL
func nullString(s string) sql.NullString {
	s = strings.TrimSpace(s)
	return sql.NullString{String: s, Valid: s != ""}
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 10
	}
	return limit
}

// lockKey serializes work on one key until the surrounding transaction ends.
func lockKey(ctx context.Context, tx *database.Conn, scope, key string) error {
	if !tx.InTx() {
		return fmt.Errorf("lock %s:%s requires a transaction", scope, key)
	}
	_, err := tx.Run(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, scope+":"+key)
	return err
}

var (
	_ UserRepository    = (*PostgresUserRepository)(nil)
	_ GoldRepository    = (*PostgresGoldRepository)(nil)
	_ SessionRepository = (*PostgresSessionRepository)(nil)
	_ CrewRepository    = (*PostgresCrewRepository)(nil)
)

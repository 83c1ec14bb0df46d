package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/rongwang/sot-gold-tracker/internal/database"
	"github.com/rongwang/sot-gold-tracker/internal/models"
	"github.com/rongwang/sot-gold-tracker/internal/schema"
	"github.com/rongwang/sot-gold-tracker/internal/utils"
)

const sessionColumns = `id, discord_id, session_name, starting_gold, ending_gold, earned_gold, start_time, end_time, notes`

// crewSessionCrewFK is PostgreSQL's default name for crew_sessions.crew_id's reference
const crewSessionCrewFK = "crew_sessions_crew_id_fkey"

const cashInColumns = `id, session_id, amount, "timestamp", notes`

// sessionColumnsOf qualifies sessionColumns with a table alias
func sessionColumnsOf(alias string) string {
	cols := strings.Split(sessionColumns, ", ")
	for i, c := range cols {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

// PostgresSessionRepository implements SessionRepository.
// At most one open session per user is guaranteed by the partial unique
// index on sessions; starts for one user are also serialized so the
// common case reports ErrActiveSessionExists before hitting the index.
type PostgresSessionRepository struct {
	db     *database.Manager
	logger *utils.Logger
	schema schemaGuard
}

// NewPostgresSessionRepository creates a new session repository
func NewPostgresSessionRepository(db *database.Manager, logger *utils.Logger) *PostgresSessionRepository {
	return &PostgresSessionRepository{db: db, logger: logger}
}

// EnsureSchema creates the session tables and the one-open-session index
func (r *PostgresSessionRepository) EnsureSchema(ctx context.Context) error {
	return r.schema.ensure(ctx, func(ctx context.Context) error {
		return r.db.Transaction(ctx, func(ctx context.Context, tx *database.Conn) error {
			err := schema.CreateTables(ctx, tx,
				schema.Users, schema.Sessions, schema.CashIns,
				schema.Crews, schema.CrewSessions, schema.CrewCashIns)
			if err != nil {
				return err
			}
			if err := schema.EnsureOneOpenSession(ctx, tx, r.logger); err != nil {
				return err
			}
			r.logger.Debug("Session model initialized")
			return nil
		})
	})
}

// StartSession opens a session for the user. It fails with
// ErrActiveSessionExists while another session is open.
func (r *PostgresSessionRepository) StartSession(ctx context.Context, discordID, name string, startingGold int64) (*models.Session, error) {
	return r.start(ctx, discordID, name, startingGold, 0)
}

// StartCrewSession opens a session linked to a crew; the session and the
// link are written together or not at all. It fails with
// ErrActiveSessionExists while the member or the crew has one open.
func (r *PostgresSessionRepository) StartCrewSession(ctx context.Context, discordID string, crewID int64, name string, startingGold int64) (*models.Session, error) {
	return r.start(ctx, discordID, name, startingGold, crewID)
}

func (r *PostgresSessionRepository) start(ctx context.Context, discordID, name string, startingGold, crewID int64) (*models.Session, error) {
	if err := r.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	var session models.Session
	err := r.db.Transaction(ctx, func(ctx context.Context, tx *database.Conn) error {
		if err := lockKey(ctx, tx, "session", discordID); err != nil {
			return err
		}
		active, err := r.getActiveSession(ctx, discordID)
		if err != nil {
			return err
		}
		if active != nil {
			return ErrActiveSessionExists
		}
		if crewID != 0 {
			// one open session per crew, across all of its members
			if err := lockKey(ctx, tx, "crew", fmt.Sprint(crewID)); err != nil {
				return err
			}
			crewActive, err := r.GetActiveCrewSession(ctx, crewID)
			if err != nil {
				return err
			}
			if crewActive != nil {
				return ErrActiveSessionExists
			}
		}

		err = tx.Get(ctx, &session, `
			INSERT INTO sessions (discord_id, session_name, starting_gold)
			VALUES ($1, $2, $3)
			RETURNING `+sessionColumns, discordID, name, startingGold)
		if err != nil {
			return err
		}

		if crewID != 0 {
			_, err = tx.Run(ctx,
				`INSERT INTO crew_sessions (session_id, crew_id) VALUES ($1, $2)`,
				session.ID, crewID)
		}
		return err
	})
	if err != nil {
		return nil, mapSessionError(err)
	}

	r.logger.Info("Session started", "session_id", session.ID, "discord_id", discordID, "crew_id", crewID)
	return &session, nil
}

func mapSessionError(err error) error {
	if constraint, ok := database.UniqueViolation(err); ok && constraint == schema.OneOpenSessionIndex {
		return ErrActiveSessionExists
	}
	if constraint, ok := database.ForeignKeyViolation(err); ok && constraint == crewSessionCrewFK {
		return ErrCrewNotFound
	}
	return err
}

// lockSession loads the session and holds its row lock until the
// surrounding transaction ends.
func (r *PostgresSessionRepository) lockSession(ctx context.Context, tx *database.Conn, sessionID int64) (*models.Session, error) {
	var session models.Session
	err := tx.Get(ctx, &session,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1 FOR UPDATE`, sessionID)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &session, nil
}

// EndSession closes an open session and records its earnings, which may
// be negative. Closing a closed session fails with ErrSessionAlreadyClosed.
func (r *PostgresSessionRepository) EndSession(ctx context.Context, sessionID, endingGold int64) (*models.Session, error) {
	if err := r.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	var session models.Session
	err := r.db.Transaction(ctx, func(ctx context.Context, tx *database.Conn) error {
		current, err := r.lockSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if !current.IsActive() {
			return ErrSessionAlreadyClosed
		}
		return tx.Get(ctx, &session, `
			UPDATE sessions
			SET ending_gold = $1, earned_gold = $1 - starting_gold, end_time = CURRENT_TIMESTAMP
			WHERE id = $2
			RETURNING `+sessionColumns, endingGold, sessionID)
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("Session ended", "session_id", session.ID, "earned_gold", *session.EarnedGold)
	return &session, nil
}

// EndCrewSession is EndSession restricted to crew sessions
func (r *PostgresSessionRepository) EndCrewSession(ctx context.Context, sessionID, endingGold int64) (*models.Session, error) {
	if err := r.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	var session *models.Session
	err := r.db.Transaction(ctx, func(ctx context.Context, tx *database.Conn) error {
		isCrew, err := r.IsCrewSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if !isCrew {
			if _, err := r.lockSession(ctx, tx, sessionID); err != nil {
				return err
			}
			return ErrNotCrewSession
		}
		session, err = r.EndSession(ctx, sessionID, endingGold)
		return err
	})
	return session, err
}

// AddSessionNotes replaces the session's notes
func (r *PostgresSessionRepository) AddSessionNotes(ctx context.Context, sessionID int64, notes string) (*models.Session, error) {
	if err := r.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	var session models.Session
	err := r.db.Get(ctx, &session,
		`UPDATE sessions SET notes = $1 WHERE id = $2 RETURNING `+sessionColumns,
		nullString(notes), sessionID)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &session, nil
}

// AddCashIn records an amount against an open session. Negative amounts
// are corrections. It does not touch the gold ledger.
func (r *PostgresSessionRepository) AddCashIn(ctx context.Context, sessionID, amount int64, note string) (*models.CashIn, error) {
	if err := r.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	var cashIn models.CashIn
	err := r.db.Transaction(ctx, func(ctx context.Context, tx *database.Conn) error {
		if err := r.lockOpenSession(ctx, tx, sessionID); err != nil {
			return err
		}
		return r.insertCashIn(ctx, tx, &cashIn, sessionID, amount, note)
	})
	if err != nil {
		return nil, err
	}
	return &cashIn, nil
}

// AddCrewCashIn records a cash-in on an open crew session, attributed to
// the contributing member.
func (r *PostgresSessionRepository) AddCrewCashIn(ctx context.Context, sessionID int64, discordID string, amount int64, note string) (*models.CrewCashIn, error) {
	if err := r.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	var cashIn models.CrewCashIn
	err := r.db.Transaction(ctx, func(ctx context.Context, tx *database.Conn) error {
		if err := r.lockOpenSession(ctx, tx, sessionID); err != nil {
			return err
		}
		isCrew, err := r.IsCrewSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if !isCrew {
			return ErrNotCrewSession
		}
		if err := r.insertCashIn(ctx, tx, &cashIn.CashIn, sessionID, amount, note); err != nil {
			return err
		}
		_, err = tx.Run(ctx,
			`INSERT INTO crew_cash_ins (cash_in_id, discord_id) VALUES ($1, $2)`,
			cashIn.ID, discordID)
		cashIn.DiscordID = &discordID
		return err
	})
	if err != nil {
		return nil, err
	}
	return &cashIn, nil
}

func (r *PostgresSessionRepository) lockOpenSession(ctx context.Context, tx *database.Conn, sessionID int64) error {
	session, err := r.lockSession(ctx, tx, sessionID)
	if err != nil {
		return err
	}
	if !session.IsActive() {
		return ErrSessionClosed
	}
	return nil
}

func (r *PostgresSessionRepository) insertCashIn(ctx context.Context, tx *database.Conn, dest *models.CashIn, sessionID, amount int64, note string) error {
	return tx.Get(ctx, dest, `
		INSERT INTO cash_ins (session_id, amount, notes)
		VALUES ($1, $2, $3)
		RETURNING `+cashInColumns, sessionID, amount, nullString(note))
}

func (r *PostgresSessionRepository) GetSessionByID(ctx context.Context, sessionID int64) (*models.Session, error) {
	if err := r.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	var session models.Session
	err := r.db.Get(ctx, &session, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, sessionID)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return &session, nil
}

// IsCrewSession reports whether the session is linked to a crew
func (r *PostgresSessionRepository) IsCrewSession(ctx context.Context, sessionID int64) (bool, error) {
	_, ok, err := r.GetSessionCrewID(ctx, sessionID)
	return ok, err
}

// GetSessionCrewID returns the crew the session belongs to, if any
func (r *PostgresSessionRepository) GetSessionCrewID(ctx context.Context, sessionID int64) (int64, bool, error) {
	if err := r.EnsureSchema(ctx); err != nil {
		return 0, false, err
	}

	var crewID int64
	err := r.db.Get(ctx, &crewID, `SELECT crew_id FROM crew_sessions WHERE session_id = $1`, sessionID)
	if err != nil {
		if isNoRows(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return crewID, true, nil
}

// GetActiveSession returns the user's open session, or nil when there is none
func (r *PostgresSessionRepository) GetActiveSession(ctx context.Context, discordID string) (*models.Session, error) {
	if err := r.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return r.getActiveSession(ctx, discordID)
}

func (r *PostgresSessionRepository) getActiveSession(ctx context.Context, discordID string) (*models.Session, error) {
	var session models.Session
	err := r.db.Get(ctx, &session, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE discord_id = $1 AND end_time IS NULL
		ORDER BY start_time DESC, id DESC
		LIMIT 1`, discordID)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("error getting active session: %w", err)
	}
	return &session, nil
}

// GetActiveCrewSession returns the crew's open session, or nil
func (r *PostgresSessionRepository) GetActiveCrewSession(ctx context.Context, crewID int64) (*models.Session, error) {
	if err := r.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	var session models.Session
	err := r.db.Get(ctx, &session, `
		SELECT `+sessionColumnsOf("s")+`
		FROM sessions s
		JOIN crew_sessions cs ON cs.session_id = s.id
		WHERE cs.crew_id = $1 AND s.end_time IS NULL
		ORDER BY s.start_time DESC, s.id DESC
		LIMIT 1`, crewID)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("error getting active crew session: %w", err)
	}
	return &session, nil
}

// GetUserSessions returns the user's sessions, newest first
func (r *PostgresSessionRepository) GetUserSessions(ctx context.Context, discordID string, limit int) ([]models.Session, error) {
	if err := r.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	sessions := []models.Session{}
	err := r.db.Select(ctx, &sessions, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE discord_id = $1
		ORDER BY start_time DESC, id DESC
		LIMIT $2`, discordID, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("error getting user sessions: %w", err)
	}
	return sessions, nil
}

// GetCrewSessions returns the crew's sessions, newest first
func (r *PostgresSessionRepository) GetCrewSessions(ctx context.Context, crewID int64, limit int) ([]models.Session, error) {
	if err := r.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	sessions := []models.Session{}
	err := r.db.Select(ctx, &sessions, `
		SELECT `+sessionColumnsOf("s")+`
		FROM sessions s
		JOIN crew_sessions cs ON cs.session_id = s.id
		WHERE cs.crew_id = $1
		ORDER BY s.start_time DESC, s.id DESC
		LIMIT $2`, crewID, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("error getting crew sessions: %w", err)
	}
	return sessions, nil
}

// GetSessionCashIns returns the session's cash-ins in the order recorded
func (r *PostgresSessionRepository) GetSessionCashIns(ctx context.Context, sessionID int64) ([]models.CashIn, error) {
	if err := r.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	cashIns := []models.CashIn{}
	err := r.db.Select(ctx, &cashIns, `
		SELECT `+cashInColumns+` FROM cash_ins
		WHERE session_id = $1
		ORDER BY "timestamp", id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("error getting session cash-ins: %w", err)
	}
	return cashIns, nil
}

// GetCrewSessionCashIns is GetSessionCashIns with the contributing member
func (r *PostgresSessionRepository) GetCrewSessionCashIns(ctx context.Context, sessionID int64) ([]models.CrewCashIn, error) {
	if err := r.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	cashIns := []models.CrewCashIn{}
	err := r.db.Select(ctx, &cashIns, `
		SELECT ci.id, ci.session_id, ci.amount, ci."timestamp", ci.notes, cci.discord_id
		FROM cash_ins ci
		LEFT JOIN crew_cash_ins cci ON cci.cash_in_id = ci.id
		WHERE ci.session_id = $1
		ORDER BY ci."timestamp", ci.id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("error getting crew session cash-ins: %w", err)
	}
	return cashIns, nil
}

// GetCrewSessionSummary groups a crew session's cash-ins by member
func (r *PostgresSessionRepository) GetCrewSessionSummary(ctx context.Context, sessionID int64) (*models.CrewSessionSummary, error) {
	session, err := r.GetSessionByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	crewID, ok, err := r.GetSessionCrewID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotCrewSession
	}

	cashIns, err := r.GetCrewSessionCashIns(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return summarizeCrewSession(*session, crewID, cashIns), nil
}

func summarizeCrewSession(session models.Session, crewID int64, cashIns []models.CrewCashIn) *models.CrewSessionSummary {
	summary := &models.CrewSessionSummary{
		Session: session,
		CrewID:  crewID,
		Members: make(map[string]*models.MemberCashIns),
	}
	for _, ci := range cashIns {
		member := "unknown"
		if ci.DiscordID != nil && *ci.DiscordID != "" {
			member = *ci.DiscordID
		}
		group, ok := summary.Members[member]
		if !ok {
			group = &models.MemberCashIns{}
			summary.Members[member] = group
		}
		group.Total += ci.Amount
		group.CashIns = append(group.CashIns, ci)
		summary.TotalCashIn += ci.Amount
	}
	return summary
}

type statsRow struct {
	TotalSessions     int64 `db:"total_sessions"`
	CompletedSessions int64 `db:"completed_sessions"`
	TotalEarnings     int64 `db:"total_earnings"`
	TotalTime         int64 `db:"total_time"`
}

const statsSelect = `
	SELECT
		COUNT(*) AS total_sessions,
		COUNT(*) FILTER (WHERE s.end_time IS NOT NULL) AS completed_sessions,
		COALESCE(SUM(s.earned_gold) FILTER (WHERE s.end_time IS NOT NULL), 0)::BIGINT AS total_earnings,
		COALESCE(SUM(FLOOR(EXTRACT(EPOCH FROM (s.end_time - s.start_time))))
			FILTER (WHERE s.end_time IS NOT NULL), 0)::BIGINT AS total_time`

// GetUserSessionStats aggregates the user's sessions
func (r *PostgresSessionRepository) GetUserSessionStats(ctx context.Context, discordID string) (*models.SessionStats, error) {
	if err := r.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	var row statsRow
	err := r.db.Get(ctx, &row, statsSelect+`
		FROM sessions s
		WHERE s.discord_id = $1`, discordID)
	if err != nil {
		return nil, fmt.Errorf("error getting user session stats: %w", err)
	}
	return row.stats(), nil
}

// GetCrewSessionStats aggregates the crew's sessions
func (r *PostgresSessionRepository) GetCrewSessionStats(ctx context.Context, crewID int64) (*models.SessionStats, error) {
	if err := r.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	var row statsRow
	err := r.db.Get(ctx, &row, statsSelect+`
		FROM sessions s
		JOIN crew_sessions cs ON cs.session_id = s.id
		WHERE cs.crew_id = $1`, crewID)
	if err != nil {
		return nil, fmt.Errorf("error getting crew session stats: %w", err)
	}
	return row.stats(), nil
}

func (row statsRow) stats() *models.SessionStats {
	return &models.SessionStats{
		TotalSessions:     row.TotalSessions,
		CompletedSessions: row.CompletedSessions,
		TotalEarnings:     row.TotalEarnings,
		AverageEarnings:   floorDiv(row.TotalEarnings, row.CompletedSessions),
		TotalTime:         row.TotalTime,
		AverageTime:       floorDiv(row.TotalTime, row.CompletedSessions),
	}
}

// floorDiv divides rounding toward negative infinity; zero when d is zero
func floorDiv(n, d int64) int64 {
	if d == 0 {
		return 0
	}
	q := n / d
	if (n%d != 0) && ((n < 0) != (d < 0)) {
		q--
	}
	return q
}

// GetUserTotalEarnings sums earnings over the user's closed sessions
func (r *PostgresSessionRepository) GetUserTotalEarnings(ctx context.Context, discordID string) (int64, error) {
	if err := r.EnsureSchema(ctx); err != nil {
		return 0, err
	}

	var total int64
	err := r.db.Get(ctx, &total, `
		SELECT COALESCE(SUM(earned_gold), 0)::BIGINT FROM sessions
		WHERE discord_id = $1 AND end_time IS NOT NULL`, discordID)
	if err != nil {
		return 0, fmt.Errorf("error getting user total earnings: %w", err)
	}
	return total, nil
}

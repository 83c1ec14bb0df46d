package repository

import (
	"context"
	"fmt"

	"github.com/rongwang/sot-gold-tracker/internal/database"
	"github.com/rongwang/sot-gold-tracker/internal/models"
	"github.com/rongwang/sot-gold-tracker/internal/schema"
	"github.com/rongwang/sot-gold-tracker/internal/utils"
)

const crewColumns = `id, name, created_at, created_by, password`

const crewMemberColumns = `crew_id, discord_id, role, joined_at, starting_gold, current_gold`

// PostgresCrewRepository implements CrewRepository
type PostgresCrewRepository struct {
	db     *database.Manager
	logger *utils.Logger
	schema schemaGuard
}

// NewPostgresCrewRepository creates a new crew repository
func NewPostgresCrewRepository(db *database.Manager, logger *utils.Logger) *PostgresCrewRepository {
	return &PostgresCrewRepository{db: db, logger: logger}
}

// EnsureSchema creates the crew tables on first use
func (r *PostgresCrewRepository) EnsureSchema(ctx context.Context) error {
	return r.schema.ensure(ctx, func(ctx context.Context) error {
		return r.db.Transaction(ctx, func(ctx context.Context, tx *database.Conn) error {
			err := schema.CreateTables(ctx, tx,
				schema.Users, schema.Sessions, schema.CashIns,
				schema.Crews, schema.CrewMembers, schema.CrewSessions, schema.CrewCashIns)
			if err != nil {
				return err
			}
			r.logger.Debug("Crew model initialized")
			return nil
		})
	})
}

// CreateCrew inserts a crew. An empty password leaves the crew open.
func (r *PostgresCrewRepository) CreateCrew(ctx context.Context, name, createdBy, password string) (*models.Crew, error) {
	if err := r.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	var crew models.Crew
	err := r.db.Get(ctx, &crew, `
		INSERT INTO crews (name, created_by, password)
		VALUES ($1, $2, $3)
		RETURNING `+crewColumns, name, createdBy, nullString(password))
	if err != nil {
		if constraint, ok := database.UniqueViolation(err); ok && constraint == schema.CrewNameConstraint {
			return nil, ErrDuplicateCrewName
		}
		return nil, fmt.Errorf("error creating crew: %w", err)
	}
	return &crew, nil
}

func (r *PostgresCrewRepository) GetCrewByID(ctx context.Context, crewID int64) (*models.Crew, error) {
	return r.getCrew(ctx, `SELECT `+crewColumns+` FROM crews WHERE id = $1`, crewID)
}

func (r *PostgresCrewRepository) GetCrewByName(ctx context.Context, name string) (*models.Crew, error) {
	return r.getCrew(ctx, `SELECT `+crewColumns+` FROM crews WHERE name = $1`, name)
}

func (r *PostgresCrewRepository) getCrew(ctx context.Context, query string, arg interface{}) (*models.Crew, error) {
	if err := r.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	var crew models.Crew
	err := r.db.Get(ctx, &crew, query, arg)
	if err != nil {
		if isNoRows(err) {
			return nil, nil // Crew not found
		}
		return nil, err
	}
	return &crew, nil
}

// ListCrews returns every crew with its member count, by name
func (r *PostgresCrewRepository) ListCrews(ctx context.Context) ([]models.CrewListing, error) {
	if err := r.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	crews := []models.CrewListing{}
	err := r.db.Select(ctx, &crews, `
		SELECT c.id, c.name, c.created_at, c.created_by, c.password,
			COUNT(cm.discord_id) AS member_count
		FROM crews c
		LEFT JOIN crew_members cm ON cm.crew_id = c.id
		GROUP BY c.id
		ORDER BY c.name`)
	if err != nil {
		return nil, fmt.Errorf("error listing crews: %w", err)
	}
	return crews, nil
}

// AddCrewMember inserts the membership or, when it exists, resets its role
// and gold snapshot.
func (r *PostgresCrewRepository) AddCrewMember(ctx context.Context, crewID int64, discordID, role string, startingGold int64) error {
	if err := r.EnsureSchema(ctx); err != nil {
		return err
	}

	_, err := r.db.Run(ctx, `
		INSERT INTO crew_members (crew_id, discord_id, role, starting_gold, current_gold)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (crew_id, discord_id) DO UPDATE
		SET role = EXCLUDED.role,
			starting_gold = EXCLUDED.starting_gold,
			current_gold = EXCLUDED.current_gold`,
		crewID, discordID, role, startingGold)
	if err != nil {
		if _, ok := database.ForeignKeyViolation(err); ok {
			return ErrCrewNotFound
		}
		return fmt.Errorf("error adding crew member: %w", err)
	}
	return nil
}

// RemoveCrewMember deletes the membership. Removing a captain is allowed
// here; the leave rules live with the caller.
func (r *PostgresCrewRepository) RemoveCrewMember(ctx context.Context, crewID int64, discordID string) error {
	if err := r.EnsureSchema(ctx); err != nil {
		return err
	}

	_, err := r.db.Run(ctx,
		`DELETE FROM crew_members WHERE crew_id = $1 AND discord_id = $2`, crewID, discordID)
	if err != nil {
		return fmt.Errorf("error removing crew member: %w", err)
	}
	return nil
}

func (r *PostgresCrewRepository) UpdateCrewMemberGold(ctx context.Context, crewID int64, discordID string, gold int64) error {
	if err := r.EnsureSchema(ctx); err != nil {
		return err
	}

	_, err := r.db.Run(ctx,
		`UPDATE crew_members SET current_gold = $1 WHERE crew_id = $2 AND discord_id = $3`,
		gold, crewID, discordID)
	if err != nil {
		return fmt.Errorf("error updating crew member gold: %w", err)
	}
	return nil
}

// SetMemberRole changes a member's role and reports whether the member exists
func (r *PostgresCrewRepository) SetMemberRole(ctx context.Context, crewID int64, discordID, role string) (bool, error) {
	if err := r.EnsureSchema(ctx); err != nil {
		return false, err
	}

	res, err := r.db.Run(ctx,
		`UPDATE crew_members SET role = $1 WHERE crew_id = $2 AND discord_id = $3`,
		role, crewID, discordID)
	if err != nil {
		return false, fmt.Errorf("error setting crew member role: %w", err)
	}
	return res.AffectedRows > 0, nil
}

// GetCrewMembers returns the crew's members in join order
func (r *PostgresCrewRepository) GetCrewMembers(ctx context.Context, crewID int64) ([]models.CrewMember, error) {
	if err := r.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	members := []models.CrewMember{}
	err := r.db.Select(ctx, &members, `
		SELECT `+crewMemberColumns+` FROM crew_members
		WHERE crew_id = $1
		ORDER BY joined_at, discord_id`, crewID)
	if err != nil {
		return nil, fmt.Errorf("error getting crew members: %w", err)
	}
	return members, nil
}

// GetUserCrews returns the crews the user belongs to with their role
func (r *PostgresCrewRepository) GetUserCrews(ctx context.Context, discordID string) ([]models.UserCrew, error) {
	if err := r.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	crews := []models.UserCrew{}
	err := r.db.Select(ctx, &crews, `
		SELECT c.id, c.name, c.created_at, c.created_by, c.password, cm.role
		FROM crews c
		JOIN crew_members cm ON cm.crew_id = c.id
		WHERE cm.discord_id = $1
		ORDER BY c.name`, discordID)
	if err != nil {
		return nil, fmt.Errorf("error getting user crews: %w", err)
	}
	return crews, nil
}

func (r *PostgresCrewRepository) IsUserInCrew(ctx context.Context, crewID int64, discordID string) (bool, error) {
	return r.exists(ctx, `
		SELECT EXISTS(SELECT 1 FROM crew_members WHERE crew_id = $1 AND discord_id = $2)`,
		crewID, discordID)
}

func (r *PostgresCrewRepository) IsUserCrewCaptain(ctx context.Context, crewID int64, discordID string) (bool, error) {
	return r.exists(ctx, `
		SELECT EXISTS(SELECT 1 FROM crew_members WHERE crew_id = $1 AND discord_id = $2 AND role = $3)`,
		crewID, discordID, models.RoleCaptain)
}

func (r *PostgresCrewRepository) exists(ctx context.Context, query string, args ...interface{}) (bool, error) {
	if err := r.EnsureSchema(ctx); err != nil {
		return false, err
	}

	var ok bool
	if err := r.db.Get(ctx, &ok, query, args...); err != nil {
		return false, err
	}
	return ok, nil
}

package repository

import (
	"context"
	"fmt"

	"github.com/rongwang/sot-gold-tracker/internal/database"
	"github.com/rongwang/sot-gold-tracker/internal/models"
	"github.com/rongwang/sot-gold-tracker/internal/schema"
	"github.com/rongwang/sot-gold-tracker/internal/utils"
)

const userColumns = `discord_id, username, created_at, updated_at`

// PostgresUserRepository implements UserRepository
type PostgresUserRepository struct {
	db     *database.Manager
	logger *utils.Logger
	schema schemaGuard
}

// NewPostgresUserRepository creates a new user repository
func NewPostgresUserRepository(db *database.Manager, logger *utils.Logger) *PostgresUserRepository {
	return &PostgresUserRepository{db: db, logger: logger}
}

// EnsureSchema creates the users table on first use
func (r *PostgresUserRepository) EnsureSchema(ctx context.Context) error {
	return r.schema.ensure(ctx, func(ctx context.Context) error {
		if err := schema.CreateTable(ctx, r.db, schema.Users); err != nil {
			return err
		}
		r.logger.Debug("User model initialized")
		return nil
	})
}

// UpsertUser creates the user or refreshes their display name
func (r *PostgresUserRepository) UpsertUser(ctx context.Context, discordID, username string) (*models.User, error) {
	if err := r.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	var user models.User
	err := r.db.Get(ctx, &user, `
		INSERT INTO users (discord_id, username)
		VALUES ($1, $2)
		ON CONFLICT (discord_id) DO UPDATE
		SET username = EXCLUDED.username, updated_at = CURRENT_TIMESTAMP
		RETURNING `+userColumns, discordID, username)
	if err != nil {
		return nil, fmt.Errorf("error upserting user: %w", err)
	}
	return &user, nil
}

func (r *PostgresUserRepository) GetUserByID(ctx context.Context, discordID string) (*models.User, error) {
	if err := r.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	var user models.User
	err := r.db.Get(ctx, &user, `SELECT `+userColumns+` FROM users WHERE discord_id = $1`, discordID)
	if err != nil {
		if isNoRows(err) {
			return nil, nil // User not found
		}
		return nil, err
	}
	return &user, nil
}

func (r *PostgresUserRepository) GetAllUsers(ctx context.Context) ([]models.User, error) {
	if err := r.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	users := []models.User{}
	err := r.db.Select(ctx, &users, `SELECT `+userColumns+` FROM users ORDER BY username, discord_id`)
	if err != nil {
		return nil, err
	}
	return users, nil
}

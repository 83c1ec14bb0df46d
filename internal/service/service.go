package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/rongwang/sot-gold-tracker/internal/config"
	"github.com/rongwang/sot-gold-tracker/internal/database"
	"github.com/rongwang/sot-gold-tracker/internal/models"
	"github.com/rongwang/sot-gold-tracker/internal/repository"
	"github.com/rongwang/sot-gold-tracker/internal/utils"
)

// Service defines the operations the chat commands and the read API use.
// Informational reads (gold, history, leaderboard, crew lists and checks)
// have no error return: failures are logged and a zero value is returned.
// Everything else reports its errors.
type Service interface {
	Init(ctx context.Context) error

	// Users
	EnsureUser(ctx context.Context, discordID, username string) (*models.User, error)
	GetUser(ctx context.Context, discordID string) (*models.User, error)
	GetAllUsers(ctx context.Context) ([]models.User, error)

	// Gold
	GetCurrentGold(ctx context.Context, discordID string) int64
	GetGoldHistory(ctx context.Context, discordID string, limit int) []models.GoldEntry
	GetLeaderboard(ctx context.Context, limit int) []models.LeaderboardEntry
	SetGold(ctx context.Context, discordID string, amount int64, note string) (*models.GoldEntry, error)

	// Sessions
	StartSessionWithGold(ctx context.Context, discordID, name string, startingGold int64) (*models.Session, error)
	RecordCashIn(ctx context.Context, discordID string, amount int64, note string) (*CashInResult, error)
	FinishSession(ctx context.Context, discordID string, endingGold int64) (*models.Session, error)
	AddSessionNotes(ctx context.Context, discordID, notes string) (*models.Session, error)
	GetActiveSession(ctx context.Context, discordID string) (*models.Session, error)
	GetUserSessions(ctx context.Context, discordID string, limit int) ([]models.Session, error)
	GetUserSessionStats(ctx context.Context, discordID string) (*models.SessionStats, error)
	GetSessionCashIns(ctx context.Context, sessionID int64) ([]models.CashIn, error)

	// Crews
	CreateCrew(ctx context.Context, discordID, name, password string) (*models.Crew, error)
	JoinCrew(ctx context.Context, discordID, name, password string) (*models.Crew, error)
	LeaveCrew(ctx context.Context, discordID, name string) error
	TransferCaptaincy(ctx context.Context, discordID, name, newCaptainID string) error
	StartCrewSession(ctx context.Context, discordID, crewName string, startingGold int64) (*models.Session, error)
	GetCrewInfo(ctx context.Context, name string) (*CrewInfo, error)
	RecordCrewCashIn(ctx context.Context, discordID, crewName string, amount int64, note string) (*CashInResult, error)
	GetCrewSessionSummary(ctx context.Context, crewName string) (*models.CrewSessionSummary, error)
	ListCrews(ctx context.Context) []models.CrewListing
	GetUserCrews(ctx context.Context, discordID string) []models.UserCrew
	IsCrewMember(ctx context.Context, crewID int64, discordID string) bool
	IsCrewCaptain(ctx context.Context, crewID int64, discordID string) bool
	VerifyCrewPassword(ctx context.Context, crewID int64, password string) (bool, error)

	// Access
	IsAdmin(discordID string) bool
	ValidateFeatureAccess(feature, password string) bool

	// Monitoring
	DatabaseStatus() database.Status
	HealthCheck(ctx context.Context) database.HealthCheck
}

// Database is the part of *database.Manager the service needs
type Database interface {
	Transaction(ctx context.Context, fn func(ctx context.Context, tx *database.Conn) error) error
	Status() database.Status
	HealthCheck(ctx context.Context) database.HealthCheck
}

// Dependencies are the collaborators of DefaultService
type Dependencies struct {
	DB       Database
	Users    repository.UserRepository
	Gold     repository.GoldRepository
	Sessions repository.SessionRepository
	Crews    repository.CrewRepository
	Access   config.AccessConfig
	Logger   *utils.Logger
}

// DefaultService implements the Service interface
type DefaultService struct {
	db       Database
	users    repository.UserRepository
	gold     repository.GoldRepository
	sessions repository.SessionRepository
	crews    repository.CrewRepository
	access   config.AccessConfig
	logger   *utils.Logger

	initMu      sync.Mutex
	initialized bool
}

// NewDefaultService creates a new DefaultService
func NewDefaultService(deps Dependencies) *DefaultService {
	logger := deps.Logger
	if logger == nil {
		logger = utils.NopLogger()
	}
	return &DefaultService{
		db:       deps.DB,
		users:    deps.Users,
		gold:     deps.Gold,
		sessions: deps.Sessions,
		crews:    deps.Crews,
		access:   deps.Access,
		logger:   logger,
	}
}

// NewPostgresService wires a DefaultService to the PostgreSQL repositories
func NewPostgresService(db *database.Manager, access config.AccessConfig, logger *utils.Logger) *DefaultService {
	repos := repository.NewPostgresRepositories(db, logger)
	return NewDefaultService(Dependencies{
		DB:       db,
		Users:    repos.Users,
		Gold:     repos.Gold,
		Sessions: repos.Sessions,
		Crews:    repos.Crews,
		Access:   access,
		Logger:   logger,
	})
}

// Init verifies every model's schema in dependency order. serve calls it
// at startup; writes that open a transaction call it first as well, so
// schema work never runs while one of their transactions holds locks.
// After one success it is a no-op.
func (s *DefaultService) Init(ctx context.Context) error {
	s.initMu.Lock()
	defer s.initMu.Unlock()
	if s.initialized {
		return nil
	}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"users", s.users.EnsureSchema},
		{"gold", s.gold.EnsureSchema},
		{"sessions", s.sessions.EnsureSchema},
		{"crews", s.crews.EnsureSchema},
	}
	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			return fmt.Errorf("error initializing %s model: %w", step.name, err)
		}
	}
	s.initialized = true
	s.logger.Info("Models initialized")
	return nil
}

// softRead runs an informational read. On failure it logs and returns
// fallback instead of an error.
func softRead[T any](s *DefaultService, op string, fallback T, fn func() (T, error)) T {
	v, err := fn()
	if err != nil {
		s.logger.Error("Read failed, returning default", "op", op, "error", err)
		return fallback
	}
	return v
}

// User operations
func (s *DefaultService) EnsureUser(ctx context.Context, discordID, username string) (*models.User, error) {
	if username == "" {
		username = discordID
	}
	user, err := s.users.UpsertUser(ctx, discordID, username)
	if err != nil {
		return nil, fmt.Errorf("error ensuring user: %w", err)
	}
	return user, nil
}

func (s *DefaultService) GetUser(ctx context.Context, discordID string) (*models.User, error) {
	return s.users.GetUserByID(ctx, discordID)
}

func (s *DefaultService) GetAllUsers(ctx context.Context) ([]models.User, error) {
	return s.users.GetAllUsers(ctx)
}

// Gold operations
func (s *DefaultService) GetCurrentGold(ctx context.Context, discordID string) int64 {
	return softRead(s, "current gold", int64(0), func() (int64, error) {
		return s.gold.CurrentGold(ctx, discordID)
	})
}

func (s *DefaultService) GetGoldHistory(ctx context.Context, discordID string, limit int) []models.GoldEntry {
	return softRead(s, "gold history", []models.GoldEntry{}, func() ([]models.GoldEntry, error) {
		return s.gold.GoldHistory(ctx, discordID, limit)
	})
}

func (s *DefaultService) GetLeaderboard(ctx context.Context, limit int) []models.LeaderboardEntry {
	return softRead(s, "leaderboard", []models.LeaderboardEntry{}, func() ([]models.LeaderboardEntry, error) {
		return s.gold.Leaderboard(ctx, limit)
	})
}

// SetGold records the user's absolute gold amount
func (s *DefaultService) SetGold(ctx context.Context, discordID string, amount int64, note string) (*models.GoldEntry, error) {
	if amount < 0 {
		return nil, ErrInvalidAmount
	}
	return s.gold.UpdateGold(ctx, discordID, amount, note)
}

// Access checks
func (s *DefaultService) IsAdmin(discordID string) bool {
	return s.access.IsAdmin(discordID)
}

// ValidateFeatureAccess checks the shared password of a gated feature.
// Unknown features are denied.
func (s *DefaultService) ValidateFeatureAccess(feature, password string) bool {
	switch feature {
	case FeatureAdmin:
		return PasswordMatches(s.access.AdminPassword, password)
	case FeatureCrewTracking:
		return PasswordMatches(s.access.CrewPassword, password)
	default:
		return false
	}
}

// Monitoring
func (s *DefaultService) DatabaseStatus() database.Status {
	return s.db.Status()
}

func (s *DefaultService) HealthCheck(ctx context.Context) database.HealthCheck {
	return s.db.HealthCheck(ctx)
}

var _ Service = (*DefaultService)(nil)

package service

import (
	"context"

	"github.com/rongwang/sot-gold-tracker/internal/database"
	"github.com/rongwang/sot-gold-tracker/internal/models"
	"github.com/rongwang/sot-gold-tracker/internal/repository"
)

// crewInfoSessions is how many recent sessions GetCrewInfo includes
const crewInfoSessions = 5

// CrewInfo is a crew with its members and latest sessions
type CrewInfo struct {
	Crew     models.Crew         `json:"crew"`
	Members  []models.CrewMember `json:"members"`
	Sessions []models.Session    `json:"sessions"`
}

// Captain returns the crew's captain id, or "" when it has none
func (c *CrewInfo) Captain() string {
	for _, m := range c.Members {
		if m.IsCaptain() {
			return m.DiscordID
		}
	}
	return ""
}

// CreateCrew creates a crew led by its creator, whose crew gold starts at
// their current gold.
func (s *DefaultService) CreateCrew(ctx context.Context, discordID, name, password string) (*models.Crew, error) {
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	current := s.GetCurrentGold(ctx, discordID)

	var crew *models.Crew
	err := s.db.Transaction(ctx, func(ctx context.Context, tx *database.Conn) error {
		var err error
		crew, err = s.crews.CreateCrew(ctx, name, discordID, password)
		if err != nil {
			return err
		}
		return s.crews.AddCrewMember(ctx, crew.ID, discordID, models.RoleCaptain, current)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Crew created", "crew_id", crew.ID, "name", crew.Name, "captain", discordID)
	return crew, nil
}

func (s *DefaultService) crewByName(ctx context.Context, name string) (*models.Crew, error) {
	crew, err := s.crews.GetCrewByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if crew == nil {
		return nil, repository.ErrCrewNotFound
	}
	return crew, nil
}

// JoinCrew adds the user to the named crew after checking its password
func (s *DefaultService) JoinCrew(ctx context.Context, discordID, name, password string) (*models.Crew, error) {
	crew, err := s.crewByName(ctx, name)
	if err != nil {
		return nil, err
	}

	member, err := s.crews.IsUserInCrew(ctx, crew.ID, discordID)
	if err != nil {
		return nil, err
	}
	if member {
		return nil, ErrAlreadyCrewMember
	}

	stored := ""
	if crew.Password != nil {
		stored = *crew.Password
	}
	if !PasswordMatches(stored, password) {
		return nil, ErrIncorrectPassword
	}

	current := s.GetCurrentGold(ctx, discordID)
	if err := s.crews.AddCrewMember(ctx, crew.ID, discordID, models.RoleMember, current); err != nil {
		return nil, err
	}
	return crew, nil
}

// LeaveCrew removes the user from the named crew. A captain cannot leave
// while other members remain; the last member may always leave.
func (s *DefaultService) LeaveCrew(ctx context.Context, discordID, name string) error {
	crew, err := s.crewByName(ctx, name)
	if err != nil {
		return err
	}

	if err := s.Init(ctx); err != nil {
		return err
	}
	return s.db.Transaction(ctx, func(ctx context.Context, tx *database.Conn) error {
		members, err := s.crews.GetCrewMembers(ctx, crew.ID)
		if err != nil {
			return err
		}

		var self *models.CrewMember
		for i := range members {
			if members[i].DiscordID == discordID {
				self = &members[i]
			}
		}
		if self == nil {
			return ErrNotCrewMember
		}
		if self.IsCaptain() && len(members) > 1 {
			return ErrCaptainMustTransfer
		}

		return s.crews.RemoveCrewMember(ctx, crew.ID, discordID)
	})
}

// TransferCaptaincy hands the named crew from its captain to another member
func (s *DefaultService) TransferCaptaincy(ctx context.Context, discordID, name, newCaptainID string) error {
	crew, err := s.crewByName(ctx, name)
	if err != nil {
		return err
	}

	if err := s.Init(ctx); err != nil {
		return err
	}
	return s.db.Transaction(ctx, func(ctx context.Context, tx *database.Conn) error {
		captain, err := s.crews.IsUserCrewCaptain(ctx, crew.ID, discordID)
		if err != nil {
			return err
		}
		if !captain {
			return ErrNotCaptain
		}
		if newCaptainID == discordID {
			return nil
		}

		found, err := s.crews.SetMemberRole(ctx, crew.ID, newCaptainID, models.RoleCaptain)
		if err != nil {
			return err
		}
		if !found {
			return ErrNotCrewMember
		}
		_, err = s.crews.SetMemberRole(ctx, crew.ID, discordID, models.RoleMember)
		return err
	})
}

// StartCrewSession opens a session for a member on behalf of the named
// crew. A crew runs one session at a time.
func (s *DefaultService) StartCrewSession(ctx context.Context, discordID, crewName string, startingGold int64) (*models.Session, error) {
	if startingGold < 0 {
		return nil, ErrInvalidAmount
	}
	crew, err := s.crewByName(ctx, crewName)
	if err != nil {
		return nil, err
	}

	member, err := s.crews.IsUserInCrew(ctx, crew.ID, discordID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, ErrNotCrewMember
	}

	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	name := crew.Name + " Session"
	var session *models.Session
	err = s.db.Transaction(ctx, func(ctx context.Context, tx *database.Conn) error {
		var err error
		session, err = s.sessions.StartCrewSession(ctx, discordID, crew.ID, name, startingGold)
		if err != nil {
			return err
		}
		if _, err := s.gold.UpdateGold(ctx, discordID, startingGold, "Crew session start: "+crew.Name); err != nil {
			return err
		}
		return s.crews.UpdateCrewMemberGold(ctx, crew.ID, discordID, startingGold)
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// GetCrewInfo returns the named crew, its members and its recent sessions
func (s *DefaultService) GetCrewInfo(ctx context.Context, name string) (*CrewInfo, error) {
	crew, err := s.crewByName(ctx, name)
	if err != nil {
		return nil, err
	}
	members, err := s.crews.GetCrewMembers(ctx, crew.ID)
	if err != nil {
		return nil, err
	}
	sessions := softRead(s, "crew sessions", []models.Session{}, func() ([]models.Session, error) {
		return s.sessions.GetCrewSessions(ctx, crew.ID, crewInfoSessions)
	})
	return &CrewInfo{Crew: *crew, Members: members, Sessions: sessions}, nil
}

// RecordCrewCashIn adds a member's cash-in to the named crew's open
// session and moves that member's gold by the same amount. Any member may
// contribute, whoever started the session.
func (s *DefaultService) RecordCrewCashIn(ctx context.Context, discordID, crewName string, amount int64, note string) (*CashInResult, error) {
	if amount == 0 {
		return nil, ErrInvalidAmount
	}
	crew, err := s.crewByName(ctx, crewName)
	if err != nil {
		return nil, err
	}
	member, err := s.crews.IsUserInCrew(ctx, crew.ID, discordID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, ErrNotCrewMember
	}

	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	result := CashInResult{CrewSession: true}
	err = s.db.Transaction(ctx, func(ctx context.Context, tx *database.Conn) error {
		session, err := s.sessions.GetActiveCrewSession(ctx, crew.ID)
		if err != nil {
			return err
		}
		if session == nil {
			return ErrNoActiveCrewSession
		}

		cashIn, err := s.sessions.AddCrewCashIn(ctx, session.ID, discordID, amount, note)
		if err != nil {
			return err
		}
		result.CashIn = cashIn.CashIn

		entry, err := s.gold.AdjustGold(ctx, discordID, amount, cashInNote(session, note))
		if err != nil {
			return err
		}
		result.Gold = *entry
		return s.crews.UpdateCrewMemberGold(ctx, crew.ID, discordID, entry.GoldAmount)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// GetCrewSessionSummary summarizes the named crew's open session, with
// cash-ins grouped by contributing member.
func (s *DefaultService) GetCrewSessionSummary(ctx context.Context, crewName string) (*models.CrewSessionSummary, error) {
	crew, err := s.crewByName(ctx, crewName)
	if err != nil {
		return nil, err
	}
	session, err := s.sessions.GetActiveCrewSession(ctx, crew.ID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrNoActiveCrewSession
	}
	return s.sessions.GetCrewSessionSummary(ctx, session.ID)
}

func (s *DefaultService) ListCrews(ctx context.Context) []models.CrewListing {
	return softRead(s, "list crews", []models.CrewListing{}, func() ([]models.CrewListing, error) {
		return s.crews.ListCrews(ctx)
	})
}

func (s *DefaultService) GetUserCrews(ctx context.Context, discordID string) []models.UserCrew {
	return softRead(s, "user crews", []models.UserCrew{}, func() ([]models.UserCrew, error) {
		return s.crews.GetUserCrews(ctx, discordID)
	})
}

func (s *DefaultService) IsCrewMember(ctx context.Context, crewID int64, discordID string) bool {
	return softRead(s, "crew membership", false, func() (bool, error) {
		return s.crews.IsUserInCrew(ctx, crewID, discordID)
	})
}

func (s *DefaultService) IsCrewCaptain(ctx context.Context, crewID int64, discordID string) bool {
	return softRead(s, "crew captaincy", false, func() (bool, error) {
		return s.crews.IsUserCrewCaptain(ctx, crewID, discordID)
	})
}

// VerifyCrewPassword checks password against the crew's stored one
func (s *DefaultService) VerifyCrewPassword(ctx context.Context, crewID int64, password string) (bool, error) {
	crew, err := s.crews.GetCrewByID(ctx, crewID)
	if err != nil {
		return false, err
	}
	if crew == nil {
		return false, repository.ErrCrewNotFound
	}
	stored := ""
	if crew.Password != nil {
		stored = *crew.Password
	}
	return PasswordMatches(stored, password), nil
}

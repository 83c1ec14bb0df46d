package service

import (
	"context"
	"fmt"

	"github.com/rongwang/sot-gold-tracker/internal/database"
	"github.com/rongwang/sot-gold-tracker/internal/models"
)

// DefaultSessionName is used when a session is started without a name
const DefaultSessionName = "Gold Session"

// CashInResult is a recorded cash-in and the gold entry it produced
type CashInResult struct {
	CashIn      models.CashIn    `json:"cashIn"`
	Gold        models.GoldEntry `json:"gold"`
	CrewSession bool             `json:"crewSession"`
}

// StartSessionWithGold opens a session and records the starting gold in
// the ledger, together or not at all.
func (s *DefaultService) StartSessionWithGold(ctx context.Context, discordID, name string, startingGold int64) (*models.Session, error) {
	if startingGold < 0 {
		return nil, ErrInvalidAmount
	}
	if name == "" {
		name = DefaultSessionName
	}

	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	var session *models.Session
	err := s.db.Transaction(ctx, func(ctx context.Context, tx *database.Conn) error {
		var err error
		session, err = s.sessions.StartSession(ctx, discordID, name, startingGold)
		if err != nil {
			return err
		}
		_, err = s.gold.UpdateGold(ctx, discordID, startingGold, "Session start: "+name)
		return err
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// RecordCashIn adds a cash-in to the user's open session and moves their
// gold by the same amount. Negative amounts are corrections.
func (s *DefaultService) RecordCashIn(ctx context.Context, discordID string, amount int64, note string) (*CashInResult, error) {
	if amount == 0 {
		return nil, ErrInvalidAmount
	}

	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	var result CashInResult
	err := s.db.Transaction(ctx, func(ctx context.Context, tx *database.Conn) error {
		session, err := s.requireActiveSession(ctx, discordID)
		if err != nil {
			return err
		}

		crewID, isCrew, err := s.sessions.GetSessionCrewID(ctx, session.ID)
		if err != nil {
			return err
		}
		if isCrew {
			cashIn, err := s.sessions.AddCrewCashIn(ctx, session.ID, discordID, amount, note)
			if err != nil {
				return err
			}
			result.CashIn = cashIn.CashIn
		} else {
			cashIn, err := s.sessions.AddCashIn(ctx, session.ID, amount, note)
			if err != nil {
				return err
			}
			result.CashIn = *cashIn
		}
		result.CrewSession = isCrew

		entry, err := s.gold.AdjustGold(ctx, discordID, amount, cashInNote(session, note))
		if err != nil {
			return err
		}
		result.Gold = *entry

		if isCrew {
			return s.crews.UpdateCrewMemberGold(ctx, crewID, discordID, entry.GoldAmount)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func cashInNote(session *models.Session, note string) string {
	ledgerNote := fmt.Sprintf("Cash-in: %s", session.SessionName)
	if note != "" {
		ledgerNote += " - " + note
	}
	return ledgerNote
}

// FinishSession closes the user's open session and records the ending
// gold in the ledger.
func (s *DefaultService) FinishSession(ctx context.Context, discordID string, endingGold int64) (*models.Session, error) {
	if endingGold < 0 {
		return nil, ErrInvalidAmount
	}

	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	var ended *models.Session
	err := s.db.Transaction(ctx, func(ctx context.Context, tx *database.Conn) error {
		session, err := s.requireActiveSession(ctx, discordID)
		if err != nil {
			return err
		}

		crewID, isCrew, err := s.sessions.GetSessionCrewID(ctx, session.ID)
		if err != nil {
			return err
		}
		if isCrew {
			ended, err = s.sessions.EndCrewSession(ctx, session.ID, endingGold)
		} else {
			ended, err = s.sessions.EndSession(ctx, session.ID, endingGold)
		}
		if err != nil {
			return err
		}

		if _, err := s.gold.UpdateGold(ctx, discordID, endingGold, "Session end: "+session.SessionName); err != nil {
			return err
		}
		if isCrew {
			return s.crews.UpdateCrewMemberGold(ctx, crewID, discordID, endingGold)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ended, nil
}

// AddSessionNotes sets the notes of the user's open session
func (s *DefaultService) AddSessionNotes(ctx context.Context, discordID, notes string) (*models.Session, error) {
	session, err := s.requireActiveSession(ctx, discordID)
	if err != nil {
		return nil, err
	}
	return s.sessions.AddSessionNotes(ctx, session.ID, notes)
}

func (s *DefaultService) requireActiveSession(ctx context.Context, discordID string) (*models.Session, error) {
	session, err := s.sessions.GetActiveSession(ctx, discordID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrNoActiveSession
	}
	return session, nil
}

// GetActiveSession returns the user's open session, or nil
func (s *DefaultService) GetActiveSession(ctx context.Context, discordID string) (*models.Session, error) {
	return s.sessions.GetActiveSession(ctx, discordID)
}

func (s *DefaultService) GetUserSessions(ctx context.Context, discordID string, limit int) ([]models.Session, error) {
	return s.sessions.GetUserSessions(ctx, discordID, limit)
}

func (s *DefaultService) GetUserSessionStats(ctx context.Context, discordID string) (*models.SessionStats, error) {
	return s.sessions.GetUserSessionStats(ctx, discordID)
}

func (s *DefaultService) GetSessionCashIns(ctx context.Context, sessionID int64) ([]models.CashIn, error) {
	return s.sessions.GetSessionCashIns(ctx, sessionID)
}

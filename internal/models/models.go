package models

import (
	"time"
)

// Crew member roles
const (
	RoleCaptain = "captain"
	RoleMember  = "member"
)

// User is a chat-platform user, refreshed on every command
type User struct {
	DiscordID string    `db:"discord_id" json:"discordId"`
	Username  string    `db:"username" json:"username"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// GoldEntry is one immutable row of a user's gold ledger
type GoldEntry struct {
	ID           int64     `db:"id" json:"id"`
	DiscordID    string    `db:"discord_id" json:"discordId"`
	GoldAmount   int64     `db:"gold_amount" json:"goldAmount"`
	ChangeAmount int64     `db:"change_amount" json:"changeAmount"`
	Timestamp    time.Time `db:"timestamp" json:"timestamp"`
	Notes        *string   `db:"notes" json:"notes,omitempty"`
}

// Session is a play session. EndTime is nil while it is open.
type Session struct {
	ID           int64      `db:"id" json:"id"`
	DiscordID    string     `db:"discord_id" json:"discordId"`
	SessionName  string     `db:"session_name" json:"sessionName"`
	StartingGold int64      `db:"starting_gold" json:"startingGold"`
	EndingGold   *int64     `db:"ending_gold" json:"endingGold,omitempty"`
	EarnedGold   *int64     `db:"earned_gold" json:"earnedGold,omitempty"`
	StartTime    time.Time  `db:"start_time" json:"startTime"`
	EndTime      *time.Time `db:"end_time" json:"endTime,omitempty"`
	Notes        *string    `db:"notes" json:"notes,omitempty"`
}

// IsActive reports whether the session is still open
func (s *Session) IsActive() bool {
	return s.EndTime == nil
}

// CashIn is an earnings event recorded against a session
type CashIn struct {
	ID        int64     `db:"id" json:"id"`
	SessionID int64     `db:"session_id" json:"sessionId"`
	Amount    int64     `db:"amount" json:"amount"`
	Timestamp time.Time `db:"timestamp" json:"timestamp"`
	Notes     *string   `db:"notes" json:"notes,omitempty"`
}

// CrewCashIn is a cash-in on a crew session with its contributing member
type CrewCashIn struct {
	CashIn
	DiscordID *string `db:"discord_id" json:"discordId,omitempty"`
}

// Crew is a named group of users
type Crew struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	CreatedBy string    `db:"created_by" json:"createdBy"`
	Password  *string   `db:"password" json:"-"`
}

// HasPassword reports whether joining the crew requires a password
func (c *Crew) HasPassword() bool {
	return c.Password != nil && *c.Password != ""
}

// CrewListing is a crew with its member count
type CrewListing struct {
	Crew
	MemberCount int64 `db:"member_count" json:"memberCount"`
}

// UserCrew is a crew as seen by one of its members
type UserCrew struct {
	Crew
	Role string `db:"role" json:"role"`
}

// CrewMember links a user to a crew
type CrewMember struct {
	CrewID       int64     `db:"crew_id" json:"crewId"`
	DiscordID    string    `db:"discord_id" json:"discordId"`
	Role         string    `db:"role" json:"role"`
	JoinedAt     time.Time `db:"joined_at" json:"joinedAt"`
	StartingGold int64     `db:"starting_gold" json:"startingGold"`
	CurrentGold  int64     `db:"current_gold" json:"currentGold"`
}

// IsCaptain reports whether the member leads the crew
func (m *CrewMember) IsCaptain() bool {
	return m.Role == RoleCaptain
}

// SchemaVersion is one applied migration
type SchemaVersion struct {
	ID          int64     `db:"id" json:"id"`
	Version     string    `db:"version" json:"version"`
	AppliedAt   time.Time `db:"applied_at" json:"appliedAt"`
	Description *string   `db:"description" json:"description,omitempty"`
}

// LeaderboardEntry is one user's latest gold
type LeaderboardEntry struct {
	DiscordID   string `db:"discord_id" json:"discordId"`
	CurrentGold int64  `db:"current_gold" json:"currentGold"`
	Username    string `db:"username" json:"username"`
}

// SessionStats aggregates closed sessions. Times are in seconds; averages
// are floor-divided by CompletedSessions and zero when there are none.
type SessionStats struct {
	TotalSessions     int64 `json:"totalSessions"`
	CompletedSessions int64 `json:"completedSessions"`
	TotalEarnings     int64 `json:"totalEarnings"`
	AverageEarnings   int64 `json:"averageEarnings"`
	TotalTime         int64 `json:"totalTime"`
	AverageTime       int64 `json:"averageTime"`
}

// MemberCashIns groups one member's cash-ins on a crew session
type MemberCashIns struct {
	Total   int64        `json:"total"`
	CashIns []CrewCashIn `json:"cashIns"`
}

// CrewSessionSummary is a crew session with cash-ins grouped by member.
// Cash-ins with no recorded member are grouped under "unknown".
type CrewSessionSummary struct {
	Session     Session                   `json:"session"`
	CrewID      int64                     `json:"crewId"`
	Members     map[string]*MemberCashIns `json:"memberCashIns"`
	TotalCashIn int64                     `json:"totalCashIn"`
}

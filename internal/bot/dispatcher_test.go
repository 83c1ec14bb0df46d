package bot

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rongwang/sot-gold-tracker/internal/database"
	"github.com/rongwang/sot-gold-tracker/internal/models"
	"github.com/rongwang/sot-gold-tracker/internal/repository"
	"github.com/rongwang/sot-gold-tracker/internal/service"
	"github.com/rongwang/sot-gold-tracker/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeService overrides the methods the tests exercise. Calling anything
// else panics on the nil embedded interface.
type fakeService struct {
	service.Service

	ensured   []string
	ensureErr error
	gold      map[string]int64
	lastSet   int64
	active    *models.Session
	startErr  error
	admins    map[string]bool
	leaveErr  error
	board     []models.LeaderboardEntry
	lastLimit int

	crewSession *models.Session
	crewCash    []models.CrewCashIn
}

func newFakeService() *fakeService {
	return &fakeService{gold: map[string]int64{}, admins: map[string]bool{}}
}

func (f *fakeService) EnsureUser(ctx context.Context, discordID, username string) (*models.User, error) {
	f.ensured = append(f.ensured, discordID)
	if f.ensureErr != nil {
		return nil, f.ensureErr
	}
	return &models.User{DiscordID: discordID, Username: username}, nil
}

func (f *fakeService) GetCurrentGold(ctx context.Context, discordID string) int64 {
	return f.gold[discordID]
}

func (f *fakeService) SetGold(ctx context.Context, discordID string, amount int64, note string) (*models.GoldEntry, error) {
	f.lastSet = amount
	change := amount - f.gold[discordID]
	f.gold[discordID] = amount
	return &models.GoldEntry{DiscordID: discordID, GoldAmount: amount, ChangeAmount: change}, nil
}

func (f *fakeService) StartSessionWithGold(ctx context.Context, discordID, name string, startingGold int64) (*models.Session, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	if name == "" {
		name = service.DefaultSessionName
	}
	f.active = &models.Session{ID: 1, DiscordID: discordID, SessionName: name, StartingGold: startingGold, StartTime: time.Now()}
	return f.active, nil
}

func (f *fakeService) RecordCashIn(ctx context.Context, discordID string, amount int64, note string) (*service.CashInResult, error) {
	if f.active == nil {
		return nil, service.ErrNoActiveSession
	}
	f.gold[discordID] += amount
	return &service.CashInResult{
		CashIn: models.CashIn{SessionID: f.active.ID, Amount: amount},
		Gold:   models.GoldEntry{GoldAmount: f.gold[discordID], ChangeAmount: amount},
	}, nil
}

func (f *fakeService) FinishSession(ctx context.Context, discordID string, endingGold int64) (*models.Session, error) {
	if f.active == nil {
		return nil, service.ErrNoActiveSession
	}
	s := *f.active
	end := s.StartTime.Add(90 * time.Minute)
	earned := endingGold - s.StartingGold
	s.EndTime, s.EndingGold, s.EarnedGold = &end, &endingGold, &earned
	f.active = nil
	return &s, nil
}

func (f *fakeService) LeaveCrew(ctx context.Context, discordID, name string) error {
	return f.leaveErr
}

func (f *fakeService) RecordCrewCashIn(ctx context.Context, discordID, crewName string, amount int64, note string) (*service.CashInResult, error) {
	if crewName != "Blackbeards" {
		return nil, repository.ErrCrewNotFound
	}
	if f.crewSession == nil {
		return nil, service.ErrNoActiveCrewSession
	}
	id := discordID
	cashIn := models.CrewCashIn{CashIn: models.CashIn{SessionID: f.crewSession.ID, Amount: amount}, DiscordID: &id}
	f.crewCash = append(f.crewCash, cashIn)
	f.gold[discordID] += amount
	return &service.CashInResult{
		CashIn:      cashIn.CashIn,
		Gold:        models.GoldEntry{DiscordID: discordID, GoldAmount: f.gold[discordID], ChangeAmount: amount},
		CrewSession: true,
	}, nil
}

func (f *fakeService) GetCrewSessionSummary(ctx context.Context, crewName string) (*models.CrewSessionSummary, error) {
	if f.crewSession == nil {
		return nil, service.ErrNoActiveCrewSession
	}
	summary := &models.CrewSessionSummary{Session: *f.crewSession, Members: map[string]*models.MemberCashIns{}}
	for _, ci := range f.crewCash {
		m, ok := summary.Members[*ci.DiscordID]
		if !ok {
			m = &models.MemberCashIns{}
			summary.Members[*ci.DiscordID] = m
		}
		m.Total += ci.Amount
		m.CashIns = append(m.CashIns, ci)
		summary.TotalCashIn += ci.Amount
	}
	return summary, nil
}

func (f *fakeService) GetCrewInfo(ctx context.Context, name string) (*service.CrewInfo, error) {
	created := time.Date(2024, 5, 1, 18, 0, 0, 0, time.UTC)
	earned := int64(1200)
	return &service.CrewInfo{
		Crew:    models.Crew{ID: 1, Name: name, CreatedAt: created},
		Members: []models.CrewMember{{DiscordID: "cap", Role: models.RoleCaptain, CurrentGold: 3000}},
		Sessions: []models.Session{
			{SessionName: "Night run", StartTime: created.Add(2 * time.Hour)},
			{SessionName: "Forts", StartTime: created.Add(time.Hour), EarnedGold: &earned},
		},
	}, nil
}

func (f *fakeService) GetLeaderboard(ctx context.Context, limit int) []models.LeaderboardEntry {
	f.lastLimit = limit
	return f.board
}

func (f *fakeService) IsAdmin(discordID string) bool {
	return f.admins[discordID]
}

func (f *fakeService) ValidateFeatureAccess(feature, password string) bool {
	return feature == service.FeatureAdmin && password == "adminpass"
}

func (f *fakeService) DatabaseStatus() database.Status {
	return database.Status{IsConnected: true, Stats: database.Stats{QueriesExecuted: 12}}
}

func (f *fakeService) HealthCheck(ctx context.Context) database.HealthCheck {
	return database.HealthCheck{Status: "healthy", Timestamp: time.Now()}
}

type recordingContext struct {
	id, name string
	replies  []string
}

func (r *recordingContext) UserID() string   { return r.id }
func (r *recordingContext) Username() string { return r.name }
func (r *recordingContext) Reply(text string) error {
	r.replies = append(r.replies, text)
	return nil
}

func (r *recordingContext) last() string {
	if len(r.replies) == 0 {
		return ""
	}
	return r.replies[len(r.replies)-1]
}

func run(d *Dispatcher, c *recordingContext, name string, args ...string) string {
	d.Execute(context.Background(), c, name, args)
	return c.last()
}

func TestExecuteRegistersUserFirst(t *testing.T) {
	svc := newFakeService()
	d := NewDispatcher(svc, utils.NopLogger())
	c := &recordingContext{id: "u1", name: "anne"}

	run(d, c, "gold")
	assert.Equal(t, []string{"u1"}, svc.ensured)

	// Unknown commands still register the user and get a reply
	reply := run(d, c, "teleport")
	assert.Contains(t, reply, "Unknown command")
	assert.Len(t, svc.ensured, 2)
}

func TestExecuteReportsRegistrationFailure(t *testing.T) {
	svc := newFakeService()
	svc.ensureErr = &database.ConnectionError{Err: errors.New("dial tcp: refused")}
	d := NewDispatcher(svc, utils.NopLogger())
	c := &recordingContext{id: "u1", name: "anne"}

	reply := run(d, c, "gold")
	assert.Contains(t, reply, "database is unavailable")
	require.Len(t, c.replies, 1)
}

func TestExecuteRecoversFromPanics(t *testing.T) {
	svc := newFakeService()
	d := NewDispatcher(svc, utils.NopLogger())
	c := &recordingContext{id: "u1", name: "anne"}

	// GetGoldHistory is not overridden, so the embedded nil interface panics
	assert.NotPanics(t, func() {
		run(d, c, "gold", "history")
	})
	assert.Equal(t, genericErrorMessage, c.last())
}

func TestGoldCommands(t *testing.T) {
	svc := newFakeService()
	d := NewDispatcher(svc, utils.NopLogger())
	c := &recordingContext{id: "u1", name: "anne"}

	svc.gold["u1"] = 1500
	assert.Equal(t, "anne has 1,500 gold.", run(d, c, "gold"))

	assert.Equal(t, "Gold set to 12,000 (+10,500).", run(d, c, "gold", "set", "12,000", "after", "voyage"))
	assert.Equal(t, int64(12000), svc.lastSet)

	assert.Equal(t, UserMessage(service.ErrInvalidAmount), run(d, c, "gold", "set", "lots"))
	assert.Contains(t, run(d, c, "gold", "set"), "Usage: gold")
}

func TestSessionFlow(t *testing.T) {
	svc := newFakeService()
	d := NewDispatcher(svc, utils.NopLogger())
	c := &recordingContext{id: "u1", name: "anne"}

	assert.Equal(t, UserMessage(service.ErrNoActiveSession), run(d, c, "session", "cashin", "100"))

	assert.Equal(t, `Started "Gold Session" with 5,000 gold.`, run(d, c, "session", "start", "5000"))

	svc.gold["u1"] = 5000
	assert.Equal(t, "Cashed in 1,500 gold. You now have 6,500 gold.", run(d, c, "session", "cashin", "1,500"))

	reply := run(d, c, "session", "end", "9000")
	assert.Equal(t, `Ended "Gold Session" after 1h 30m. Earned +4,000 gold (5,000 to 9,000).`, reply)

	svc.startErr = repository.ErrActiveSessionExists
	assert.Equal(t, UserMessage(repository.ErrActiveSessionExists), run(d, c, "session", "start", "100"))
}

func TestCrewLeaveMessages(t *testing.T) {
	svc := newFakeService()
	d := NewDispatcher(svc, utils.NopLogger())
	c := &recordingContext{id: "u1", name: "anne"}

	svc.leaveErr = fmt.Errorf("leave: %w", service.ErrCaptainMustTransfer)
	assert.Contains(t, run(d, c, "crew", "leave", "Blackbeards"), "transfer captaincy")

	svc.leaveErr = nil
	assert.Equal(t, `You left "Blackbeards".`, run(d, c, "crew", "leave", "Blackbeards"))
}

func TestCrewCashInFromAnyMember(t *testing.T) {
	svc := newFakeService()
	d := NewDispatcher(svc, utils.NopLogger())
	captain := &recordingContext{id: "cap", name: "cap"}
	mate := &recordingContext{id: "mate", name: "mate"}

	assert.Equal(t, UserMessage(service.ErrNoActiveCrewSession), run(d, mate, "crew", "cashin", "Blackbeards", "100"))
	assert.Contains(t, run(d, mate, "crew", "cashin", "100"), "Usage: crew")
	assert.Equal(t, UserMessage(service.ErrInvalidAmount), run(d, mate, "crew", "cashin", "Blackbeards", "lots"))

	svc.crewSession = &models.Session{ID: 7, SessionName: "Blackbeards Session"}
	svc.gold["mate"] = 1000
	assert.Equal(t, "Crew cash-in of 500 gold recorded. You now have 1,500 gold.",
		run(d, mate, "crew", "cashin", "Blackbeards", "500", "chest"))
	run(d, captain, "crew", "cashin", "Blackbeards", "300")
	run(d, mate, "crew", "cashin", "Blackbeards", "250")

	assert.Equal(t, "\"Blackbeards Session\": 1,050 gold cashed in\ncap  300 (1)\nmate  750 (2)",
		run(d, captain, "crew", "summary", "Blackbeards"))
	assert.Contains(t, run(d, captain, "crew", "summary"), "Usage: crew")
}

func TestCrewInfoListsSessions(t *testing.T) {
	svc := newFakeService()
	d := NewDispatcher(svc, utils.NopLogger())
	c := &recordingContext{id: "u1", name: "anne"}

	assert.Equal(t, "Blackbeards, created 2024-05-01 18:00\n"+
		"cap  captain  3,000 gold\n"+
		"Recent sessions:\n"+
		"2024-05-01 20:00  Night run  active\n"+
		"2024-05-01 19:00  Forts  +1,200",
		run(d, c, "crew", "info", "Blackbeards"))
}

func TestLeaderboardCommand(t *testing.T) {
	svc := newFakeService()
	svc.board = []models.LeaderboardEntry{
		{DiscordID: "b", CurrentGold: 500, Username: "Bea"},
		{DiscordID: "c", CurrentGold: 300},
	}
	d := NewDispatcher(svc, utils.NopLogger())
	c := &recordingContext{id: "u1", name: "anne"}

	assert.Equal(t, "Leaderboard:\n1. Bea  500\n2. c  300", run(d, c, "leaderboard", "2"))
	assert.Equal(t, 2, svc.lastLimit)

	run(d, c, "leaderboard", "500")
	assert.Equal(t, maxListSize, svc.lastLimit)

	svc.board = nil
	assert.Equal(t, "The leaderboard is empty.", run(d, c, "leaderboard"))
}

func TestDBStatusRequiresAdmin(t *testing.T) {
	svc := newFakeService()
	d := NewDispatcher(svc, utils.NopLogger())
	c := &recordingContext{id: "u1", name: "anne"}

	assert.Contains(t, run(d, c, "dbstatus"), "permission")
	assert.Contains(t, run(d, c, "dbstatus", "adminpass"), "Database: healthy")

	svc.admins["u1"] = true
	reply := run(d, c, "dbstatus")
	assert.Contains(t, reply, "Connected: true")
	assert.Contains(t, reply, "Queries: 12")
}

func TestHelpListsCommands(t *testing.T) {
	d := NewDispatcher(newFakeService(), utils.NopLogger())
	c := &recordingContext{id: "u1", name: "anne"}

	reply := run(d, c, "HELP")
	for _, name := range d.Commands() {
		assert.Contains(t, reply, name)
	}
}

func TestParseGold(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"1000", 1000, false},
		{"1,234,567", 1234567, false},
		{" 42 ", 42, false},
		{"-300", -300, false},
		{"12.5", 0, true},
		{"abc", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := parseGold(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, service.ErrInvalidAmount, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "0", formatGold(0))
	assert.Equal(t, "999", formatGold(999))
	assert.Equal(t, "1,000", formatGold(1000))
	assert.Equal(t, "-1,234,567", formatGold(-1234567))
	assert.Equal(t, "+500", formatSigned(500))
	assert.Equal(t, "-300", formatSigned(-300))

	assert.Equal(t, "0m", formatDuration(-time.Minute))
	assert.Equal(t, "45m", formatDuration(45*time.Minute))
	assert.Equal(t, "2h 5m", formatDuration(2*time.Hour+5*time.Minute))
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "", UserMessage(nil))
	assert.Equal(t, genericErrorMessage, UserMessage(errors.New("boom")))
	assert.Equal(t, "Incorrect password.", UserMessage(fmt.Errorf("join: %w", service.ErrIncorrectPassword)))
	assert.Contains(t, UserMessage(repository.ErrDuplicateCrewName), "already exists")
}

type fakeTelegram struct {
	updates chan tgbotapi.Update
	sent    []tgbotapi.MessageConfig
	stopped bool
}

func (f *fakeTelegram) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeTelegram) StopReceivingUpdates() {
	f.stopped = true
}

func (f *fakeTelegram) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{}, nil
}

func commandUpdate(text string, userID int64) tgbotapi.Update {
	cmdLen := len(text)
	for i, r := range text {
		if r == ' ' {
			cmdLen = i
			break
		}
	}
	return tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 9,
		From:      &tgbotapi.User{ID: userID, UserName: "anne"},
		Chat:      &tgbotapi.Chat{ID: 77},
		Text:      text,
		Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: cmdLen}},
	}}
}

func TestRunTelegram(t *testing.T) {
	svc := newFakeService()
	svc.gold["42"] = 2500
	d := NewDispatcher(svc, utils.NopLogger())

	api := &fakeTelegram{updates: make(chan tgbotapi.Update, 3)}
	api.updates <- commandUpdate("/gold", 42)
	api.updates <- tgbotapi.Update{Message: &tgbotapi.Message{From: &tgbotapi.User{ID: 42}, Chat: &tgbotapi.Chat{ID: 77}, Text: "just chatting"}}
	api.updates <- tgbotapi.Update{}
	close(api.updates)

	RunTelegram(context.Background(), api, d, utils.NopLogger())

	require.Len(t, api.sent, 1)
	assert.Equal(t, int64(77), api.sent[0].ChatID)
	assert.Equal(t, 9, api.sent[0].ReplyToMessageID)
	assert.Equal(t, "anne has 2,500 gold.", api.sent[0].Text)
	assert.Equal(t, []string{"42"}, svc.ensured)
}

func TestRunTelegramStopsOnCancel(t *testing.T) {
	api := &fakeTelegram{updates: make(chan tgbotapi.Update)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	RunTelegram(ctx, api, NewDispatcher(newFakeService(), utils.NopLogger()), utils.NopLogger())
	assert.True(t, api.stopped)
}

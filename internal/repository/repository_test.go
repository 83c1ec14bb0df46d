package repository_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rongwang/sot-gold-tracker/internal/database"
	"github.com/rongwang/sot-gold-tracker/internal/models"
	"github.com/rongwang/sot-gold-tracker/internal/repository"
	"github.com/rongwang/sot-gold-tracker/internal/testutils"
	"github.com/rongwang/sot-gold-tracker/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRepos(t *testing.T) *repository.Repositories {
	t.Helper()
	db := testutils.SetupTestDB(t, "repository")
	return repository.NewPostgresRepositories(db, utils.NopLogger())
}

func createUsers(t *testing.T, repos *repository.Repositories, ids ...string) {
	t.Helper()
	for _, id := range ids {
		_, err := repos.Users.UpsertUser(context.Background(), id, "user-"+id)
		require.NoError(t, err)
	}
}

func TestUpsertUser(t *testing.T) {
	repos := setupRepos(t)
	ctx := context.Background()

	created, err := repos.Users.UpsertUser(ctx, "u1", "anne")
	require.NoError(t, err)
	assert.Equal(t, "anne", created.Username)

	updated, err := repos.Users.UpsertUser(ctx, "u1", "anne_b")
	require.NoError(t, err)
	assert.Equal(t, "anne_b", updated.Username)
	assert.True(t, created.CreatedAt.Equal(updated.CreatedAt))

	missing, err := repos.Users.GetUserByID(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)

	all, err := repos.Users.GetAllUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestGoldLedgerDeltas(t *testing.T) {
	repos := setupRepos(t)
	ctx := context.Background()

	current, err := repos.Gold.CurrentGold(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), current)

	first, err := repos.Gold.UpdateGold(ctx, "u1", 1000, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), first.ChangeAmount)
	assert.Nil(t, first.Notes)

	second, err := repos.Gold.UpdateGold(ctx, "u1", 1500, "sold loot")
	require.NoError(t, err)
	assert.Equal(t, int64(500), second.ChangeAmount)
	require.NotNil(t, second.Notes)
	assert.Equal(t, "sold loot", *second.Notes)

	third, err := repos.Gold.AdjustGold(ctx, "u1", -300, "repairs")
	require.NoError(t, err)
	assert.Equal(t, int64(1200), third.GoldAmount)
	assert.Equal(t, int64(-300), third.ChangeAmount)

	current, err = repos.Gold.CurrentGold(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1200), current)

	history, err := repos.Gold.GoldHistory(ctx, "u1", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(1200), history[0].GoldAmount)
	assert.Equal(t, int64(1500), history[1].GoldAmount)
}

func TestLeaderboardUsesLatestEntry(t *testing.T) {
	repos := setupRepos(t)
	ctx := context.Background()
	createUsers(t, repos, "a", "b", "c")

	for id, amounts := range map[string][]int64{
		"a": {900, 100},
		"b": {500},
		"c": {50, 300},
	} {
		for _, amount := range amounts {
			_, err := repos.Gold.UpdateGold(ctx, id, amount, "")
			require.NoError(t, err)
		}
	}

	board, err := repos.Gold.Leaderboard(ctx, 10)
	require.NoError(t, err)
	require.Len(t, board, 3)
	assert.Equal(t, []string{"b", "c", "a"}, []string{board[0].DiscordID, board[1].DiscordID, board[2].DiscordID})
	assert.Equal(t, []int64{500, 300, 100}, []int64{board[0].CurrentGold, board[1].CurrentGold, board[2].CurrentGold})
	assert.Equal(t, "user-b", board[0].Username)

	top, err := repos.Gold.Leaderboard(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, top, 1)
}

func TestConcurrentAdjustmentsAreSerialized(t *testing.T) {
	repos := setupRepos(t)
	ctx := context.Background()

	const writers = 20
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repos.Gold.AdjustGold(ctx, "u1", 10, "")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	current, err := repos.Gold.CurrentGold(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(writers*10), current)

	// Every delta matches its predecessor
	history, err := repos.Gold.GoldHistory(ctx, "u1", writers)
	require.NoError(t, err)
	for _, e := range history {
		assert.Equal(t, int64(10), e.ChangeAmount)
	}
}

func TestSessionLifecycle(t *testing.T) {
	repos := setupRepos(t)
	ctx := context.Background()
	createUsers(t, repos, "u1")

	session, err := repos.Sessions.StartSession(ctx, "u1", "Friday Voyage", 5000)
	require.NoError(t, err)
	assert.True(t, session.IsActive())

	_, err = repos.Sessions.StartSession(ctx, "u1", "Second", 5000)
	assert.ErrorIs(t, err, repository.ErrActiveSessionExists)

	_, err = repos.Sessions.AddCashIn(ctx, session.ID, 1500, "")
	require.NoError(t, err)
	_, err = repos.Sessions.AddCashIn(ctx, session.ID, 2500, "athena chest")
	require.NoError(t, err)

	cashIns, err := repos.Sessions.GetSessionCashIns(ctx, session.ID)
	require.NoError(t, err)
	assert.Len(t, cashIns, 2)

	noted, err := repos.Sessions.AddSessionNotes(ctx, session.ID, "good run")
	require.NoError(t, err)
	require.NotNil(t, noted.Notes)

	ended, err := repos.Sessions.EndSession(ctx, session.ID, 9000)
	require.NoError(t, err)
	require.NotNil(t, ended.EarnedGold)
	assert.Equal(t, int64(4000), *ended.EarnedGold)
	assert.False(t, ended.IsActive())

	_, err = repos.Sessions.EndSession(ctx, session.ID, 9500)
	assert.ErrorIs(t, err, repository.ErrSessionAlreadyClosed)

	_, err = repos.Sessions.AddCashIn(ctx, session.ID, 100, "")
	assert.ErrorIs(t, err, repository.ErrSessionClosed)

	_, err = repos.Sessions.EndSession(ctx, 999999, 1)
	assert.ErrorIs(t, err, repository.ErrSessionNotFound)

	active, err := repos.Sessions.GetActiveSession(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, active)

	// A new session may start once the old one is closed
	_, err = repos.Sessions.StartSession(ctx, "u1", "Saturday", 9000)
	require.NoError(t, err)
}

func TestSessionEarningsCanBeNegative(t *testing.T) {
	repos := setupRepos(t)
	ctx := context.Background()
	createUsers(t, repos, "u1")

	session, err := repos.Sessions.StartSession(ctx, "u1", "Rough seas", 5000)
	require.NoError(t, err)
	ended, err := repos.Sessions.EndSession(ctx, session.ID, 3500)
	require.NoError(t, err)
	assert.Equal(t, int64(-1500), *ended.EarnedGold)

	stats, err := repos.Sessions.GetUserSessionStats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalSessions)
	assert.Equal(t, int64(1), stats.CompletedSessions)
	assert.Equal(t, int64(-1500), stats.TotalEarnings)
	assert.Equal(t, int64(-1500), stats.AverageEarnings)

	total, err := repos.Sessions.GetUserTotalEarnings(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(-1500), total)
}

func TestConcurrentSessionStarts(t *testing.T) {
	repos := setupRepos(t)
	ctx := context.Background()
	createUsers(t, repos, "u1")

	const starters = 8
	var wg sync.WaitGroup
	results := make(chan error, starters)
	for i := 0; i < starters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repos.Sessions.StartSession(ctx, "u1", "Race", 100)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, repository.ErrActiveSessionExists)
	}
	assert.Equal(t, 1, succeeded)
}

func TestConcurrentCrewSessionStarts(t *testing.T) {
	repos := setupRepos(t)
	ctx := context.Background()
	ids := []string{"u1", "u2", "u3", "u4", "u5", "u6"}
	createUsers(t, repos, ids...)

	crew, err := repos.Crews.CreateCrew(ctx, "Racers", "u1", "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan error, len(ids))
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := repos.Sessions.StartCrewSession(ctx, id, crew.ID, "Race", 100)
			results <- err
		}(id)
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, repository.ErrActiveSessionExists)
	}
	assert.Equal(t, 1, succeeded)
}

func TestSchemaSurvivesRolledBackTransaction(t *testing.T) {
	db := testutils.SetupTestDB(t, "repository")
	repos := repository.NewPostgresRepositories(db, utils.NopLogger())
	ctx := context.Background()

	// The first use happens inside a transaction that is rolled back
	rollback := errors.New("rollback")
	err := db.Transaction(ctx, func(ctx context.Context, tx *database.Conn) error {
		active, err := repos.Sessions.GetActiveSession(ctx, "u1")
		require.NoError(t, err)
		assert.Nil(t, active)
		return rollback
	})
	require.ErrorIs(t, err, rollback)

	createUsers(t, repos, "u1")
	_, err = repos.Sessions.StartSession(ctx, "u1", "After", 100)
	require.NoError(t, err)
	active, err := repos.Sessions.GetActiveSession(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, active)
}

func TestSessionTimesAreUTC(t *testing.T) {
	repos := setupRepos(t)
	ctx := context.Background()
	createUsers(t, repos, "u1")

	session, err := repos.Sessions.StartSession(ctx, "u1", "Clock", 0)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), session.StartTime, time.Minute)
}

func TestEmptyStats(t *testing.T) {
	repos := setupRepos(t)

	stats, err := repos.Sessions.GetUserSessionStats(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, models.SessionStats{}, *stats)
}

func TestCrewSessions(t *testing.T) {
	repos := setupRepos(t)
	ctx := context.Background()
	createUsers(t, repos, "cap", "mate")

	crew, err := repos.Crews.CreateCrew(ctx, "Blackbeards", "cap", "")
	require.NoError(t, err)
	assert.False(t, crew.HasPassword())

	_, err = repos.Crews.CreateCrew(ctx, "Blackbeards", "mate", "")
	assert.ErrorIs(t, err, repository.ErrDuplicateCrewName)

	require.NoError(t, repos.Crews.AddCrewMember(ctx, crew.ID, "cap", models.RoleCaptain, 1000))
	require.NoError(t, repos.Crews.AddCrewMember(ctx, crew.ID, "mate", models.RoleMember, 200))

	_, err = repos.Sessions.StartCrewSession(ctx, "cap", 424242, "Ghost", 0)
	assert.ErrorIs(t, err, repository.ErrCrewNotFound)

	session, err := repos.Sessions.StartCrewSession(ctx, "cap", crew.ID, "Blackbeards Session", 1000)
	require.NoError(t, err)

	isCrew, err := repos.Sessions.IsCrewSession(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, isCrew)

	active, err := repos.Sessions.GetActiveCrewSession(ctx, crew.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, session.ID, active.ID)

	// One open session per crew, whichever member starts it
	_, err = repos.Sessions.StartCrewSession(ctx, "mate", crew.ID, "Second", 0)
	assert.ErrorIs(t, err, repository.ErrActiveSessionExists)

	_, err = repos.Sessions.AddCrewCashIn(ctx, session.ID, "cap", 500, "")
	require.NoError(t, err)
	_, err = repos.Sessions.AddCrewCashIn(ctx, session.ID, "mate", 300, "")
	require.NoError(t, err)
	_, err = repos.Sessions.AddCrewCashIn(ctx, session.ID, "cap", 200, "")
	require.NoError(t, err)

	summary, err := repos.Sessions.GetCrewSessionSummary(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, crew.ID, summary.CrewID)
	assert.Equal(t, int64(1000), summary.TotalCashIn)
	assert.Equal(t, int64(700), summary.Members["cap"].Total)
	assert.Len(t, summary.Members["cap"].CashIns, 2)
	assert.Equal(t, int64(300), summary.Members["mate"].Total)

	ended, err := repos.Sessions.EndCrewSession(ctx, session.ID, 2000)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), *ended.EarnedGold)

	stats, err := repos.Sessions.GetCrewSessionStats(ctx, crew.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.CompletedSessions)

	crewSessions, err := repos.Sessions.GetCrewSessions(ctx, crew.ID, 10)
	require.NoError(t, err)
	require.Len(t, crewSessions, 1)
	assert.Equal(t, session.ID, crewSessions[0].ID)

	// Personal sessions are not crew sessions
	personal, err := repos.Sessions.StartSession(ctx, "mate", "Solo", 0)
	require.NoError(t, err)
	_, err = repos.Sessions.AddCrewCashIn(ctx, personal.ID, "mate", 10, "")
	assert.ErrorIs(t, err, repository.ErrNotCrewSession)
	_, err = repos.Sessions.EndCrewSession(ctx, personal.ID, 10)
	assert.ErrorIs(t, err, repository.ErrNotCrewSession)
	_, err = repos.Sessions.GetCrewSessionSummary(ctx, personal.ID)
	assert.ErrorIs(t, err, repository.ErrNotCrewSession)
}

func TestCrewMembership(t *testing.T) {
	repos := setupRepos(t)
	ctx := context.Background()

	crew, err := repos.Crews.CreateCrew(ctx, "Reapers", "cap", "hunter2")
	require.NoError(t, err)
	assert.True(t, crew.HasPassword())

	require.NoError(t, repos.Crews.AddCrewMember(ctx, crew.ID, "cap", models.RoleCaptain, 0))
	require.NoError(t, repos.Crews.AddCrewMember(ctx, crew.ID, "mate", models.RoleMember, 0))

	err = repos.Crews.AddCrewMember(ctx, 987654, "mate", models.RoleMember, 0)
	assert.ErrorIs(t, err, repository.ErrCrewNotFound)

	captain, err := repos.Crews.IsUserCrewCaptain(ctx, crew.ID, "cap")
	require.NoError(t, err)
	assert.True(t, captain)

	found, err := repos.Crews.SetMemberRole(ctx, crew.ID, "ghost", models.RoleCaptain)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, repos.Crews.UpdateCrewMemberGold(ctx, crew.ID, "mate", 750))
	members, err := repos.Crews.GetCrewMembers(ctx, crew.ID)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "cap", members[0].DiscordID)
	assert.Equal(t, int64(750), members[1].CurrentGold)

	listing, err := repos.Crews.ListCrews(ctx)
	require.NoError(t, err)
	require.Len(t, listing, 1)
	assert.Equal(t, int64(2), listing[0].MemberCount)

	userCrews, err := repos.Crews.GetUserCrews(ctx, "mate")
	require.NoError(t, err)
	require.Len(t, userCrews, 1)
	assert.Equal(t, models.RoleMember, userCrews[0].Role)

	// The registry removes members without checking roles
	require.NoError(t, repos.Crews.RemoveCrewMember(ctx, crew.ID, "cap"))
	in, err := repos.Crews.IsUserInCrew(ctx, crew.ID, "cap")
	require.NoError(t, err)
	assert.False(t, in)

	missing, err := repos.Crews.GetCrewByName(ctx, "Nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

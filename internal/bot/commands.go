package bot

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rongwang/sot-gold-tracker/internal/models"
	"github.com/rongwang/sot-gold-tracker/internal/service"
)

const (
	defaultListSize = 10
	maxListSize     = 25
)

func (d *Dispatcher) help(ctx context.Context, c Context, args []string) (string, error) {
	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, name := range d.Commands() {
		b.WriteString("  " + d.commands[name].usage + "\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// parseCount reads an optional list size, clamped to [1, maxListSize]
func parseCount(args []string, i int) int {
	if len(args) <= i {
		return defaultListSize
	}
	n, err := strconv.Atoi(args[i])
	if err != nil {
		return defaultListSize
	}
	if n < 1 {
		return 1
	}
	if n > maxListSize {
		return maxListSize
	}
	return n
}

func joinFrom(args []string, i int) string {
	if len(args) <= i {
		return ""
	}
	return strings.TrimSpace(strings.Join(args[i:], " "))
}

func (d *Dispatcher) gold(ctx context.Context, c Context, args []string) (string, error) {
	if len(args) == 0 {
		gold := d.svc.GetCurrentGold(ctx, c.UserID())
		return fmt.Sprintf("%s has %s gold.", c.Username(), formatGold(gold)), nil
	}

	switch strings.ToLower(args[0]) {
	case "set":
		if len(args) < 2 {
			return "", d.usage("gold")
		}
		amount, err := parseGold(args[1])
		if err != nil {
			return "", err
		}
		entry, err := d.svc.SetGold(ctx, c.UserID(), amount, joinFrom(args, 2))
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Gold set to %s (%s).", formatGold(entry.GoldAmount), formatSigned(entry.ChangeAmount)), nil

	case "history":
		history := d.svc.GetGoldHistory(ctx, c.UserID(), parseCount(args, 1))
		if len(history) == 0 {
			return "No gold history yet.", nil
		}
		var b strings.Builder
		b.WriteString("Gold history:")
		for _, e := range history {
			fmt.Fprintf(&b, "\n%s  %s (%s)", formatTime(e.Timestamp), formatGold(e.GoldAmount), formatSigned(e.ChangeAmount))
			if e.Notes != nil && *e.Notes != "" {
				b.WriteString("  " + *e.Notes)
			}
		}
		return b.String(), nil

	default:
		return "", d.usage("gold")
	}
}

func (d *Dispatcher) session(ctx context.Context, c Context, args []string) (string, error) {
	sub := "status"
	if len(args) > 0 {
		sub = strings.ToLower(args[0])
	}

	switch sub {
	case "start":
		if len(args) < 2 {
			return "", d.usage("session")
		}
		gold, err := parseGold(args[1])
		if err != nil {
			return "", err
		}
		session, err := d.svc.StartSessionWithGold(ctx, c.UserID(), joinFrom(args, 2), gold)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Started %q with %s gold.", session.SessionName, formatGold(session.StartingGold)), nil

	case "cashin":
		if len(args) < 2 {
			return "", d.usage("session")
		}
		amount, err := parseGold(args[1])
		if err != nil {
			return "", err
		}
		result, err := d.svc.RecordCashIn(ctx, c.UserID(), amount, joinFrom(args, 2))
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Cashed in %s gold. You now have %s gold.", formatGold(result.CashIn.Amount), formatGold(result.Gold.GoldAmount)), nil

	case "end":
		if len(args) < 2 {
			return "", d.usage("session")
		}
		gold, err := parseGold(args[1])
		if err != nil {
			return "", err
		}
		session, err := d.svc.FinishSession(ctx, c.UserID(), gold)
		if err != nil {
			return "", err
		}
		return describeEnded(session), nil

	case "notes":
		notes := joinFrom(args, 1)
		if notes == "" {
			return "", d.usage("session")
		}
		if _, err := d.svc.AddSessionNotes(ctx, c.UserID(), notes); err != nil {
			return "", err
		}
		return "Session notes saved.", nil

	case "status":
		session, err := d.svc.GetActiveSession(ctx, c.UserID())
		if err != nil {
			return "", err
		}
		if session == nil {
			return "", service.ErrNoActiveSession
		}
		cashIns, err := d.svc.GetSessionCashIns(ctx, session.ID)
		if err != nil {
			return "", err
		}
		var total int64
		for _, ci := range cashIns {
			total += ci.Amount
		}
		return fmt.Sprintf("%q running for %s. Started with %s gold; %d cash-ins totalling %s.",
			session.SessionName, formatDuration(time.Since(session.StartTime)),
			formatGold(session.StartingGold), len(cashIns), formatGold(total)), nil

	case "stats":
		stats, err := d.svc.GetUserSessionStats(ctx, c.UserID())
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Sessions: %d (%d completed)\nTotal earned: %s\nAverage earned: %s\nTotal time: %s\nAverage time: %s",
			stats.TotalSessions, stats.CompletedSessions,
			formatGold(stats.TotalEarnings), formatGold(stats.AverageEarnings),
			formatDuration(time.Duration(stats.TotalTime)*time.Second),
			formatDuration(time.Duration(stats.AverageTime)*time.Second)), nil

	case "history":
		sessions, err := d.svc.GetUserSessions(ctx, c.UserID(), parseCount(args, 1))
		if err != nil {
			return "", err
		}
		if len(sessions) == 0 {
			return "No sessions yet.", nil
		}
		var b strings.Builder
		b.WriteString("Sessions:")
		for i := range sessions {
			s := &sessions[i]
			if s.IsActive() {
				fmt.Fprintf(&b, "\n%s  %s  active", formatTime(s.StartTime), s.SessionName)
				continue
			}
			fmt.Fprintf(&b, "\n%s  %s  %s gold in %s", formatTime(s.StartTime), s.SessionName,
				formatSigned(deref(s.EarnedGold)), formatDuration(s.EndTime.Sub(s.StartTime)))
		}
		return b.String(), nil

	default:
		return "", d.usage("session")
	}
}

func describeEnded(s *models.Session) string {
	var duration time.Duration
	if s.EndTime != nil {
		duration = s.EndTime.Sub(s.StartTime)
	}
	return fmt.Sprintf("Ended %q after %s. Earned %s gold (%s to %s).",
		s.SessionName, formatDuration(duration), formatSigned(deref(s.EarnedGold)),
		formatGold(s.StartingGold), formatGold(deref(s.EndingGold)))
}

func deref(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

func (d *Dispatcher) crew(ctx context.Context, c Context, args []string) (string, error) {
	if len(args) == 0 {
		return d.myCrews(ctx, c)
	}

	sub := strings.ToLower(args[0])
	switch sub {
	case "create", "join":
		if len(args) < 2 {
			return "", d.usage("crew")
		}
		name, password := args[1], joinFrom(args, 2)
		if sub == "create" {
			crew, err := d.svc.CreateCrew(ctx, c.UserID(), name, password)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Crew %q created. You are its captain.", crew.Name), nil
		}
		crew, err := d.svc.JoinCrew(ctx, c.UserID(), name, password)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("You joined %q.", crew.Name), nil

	case "leave":
		if len(args) < 2 {
			return "", d.usage("crew")
		}
		if err := d.svc.LeaveCrew(ctx, c.UserID(), args[1]); err != nil {
			return "", err
		}
		return fmt.Sprintf("You left %q.", args[1]), nil

	case "list":
		crews := d.svc.ListCrews(ctx)
		if len(crews) == 0 {
			return "No crews yet.", nil
		}
		var b strings.Builder
		b.WriteString("Crews:")
		for _, cr := range crews {
			lock := ""
			if cr.HasPassword() {
				lock = " (password)"
			}
			fmt.Fprintf(&b, "\n%s  %d members%s", cr.Name, cr.MemberCount, lock)
		}
		return b.String(), nil

	case "info":
		if len(args) < 2 {
			return "", d.usage("crew")
		}
		info, err := d.svc.GetCrewInfo(ctx, args[1])
		if err != nil {
			return "", err
		}
		var b strings.Builder
		fmt.Fprintf(&b, "%s, created %s", info.Crew.Name, formatTime(info.Crew.CreatedAt))
		for _, m := range info.Members {
			fmt.Fprintf(&b, "\n%s  %s  %s gold", m.DiscordID, m.Role, formatGold(m.CurrentGold))
		}
		if len(info.Sessions) > 0 {
			b.WriteString("\nRecent sessions:")
			for _, sess := range info.Sessions {
				earned := "active"
				if sess.EarnedGold != nil {
					earned = formatSigned(*sess.EarnedGold)
				}
				fmt.Fprintf(&b, "\n%s  %s  %s", formatTime(sess.StartTime), sess.SessionName, earned)
			}
		}
		return b.String(), nil

	case "captain":
		if len(args) < 3 {
			return "", d.usage("crew")
		}
		if err := d.svc.TransferCaptaincy(ctx, c.UserID(), args[1], args[2]); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s is now captain of %q.", args[2], args[1]), nil

	case "session":
		if len(args) < 3 {
			return "", d.usage("crew")
		}
		gold, err := parseGold(args[2])
		if err != nil {
			return "", err
		}
		session, err := d.svc.StartCrewSession(ctx, c.UserID(), args[1], gold)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Started %q with %s gold.", session.SessionName, formatGold(session.StartingGold)), nil

	case "cashin":
		if len(args) < 3 {
			return "", d.usage("crew")
		}
		amount, err := parseGold(args[2])
		if err != nil {
			return "", err
		}
		result, err := d.svc.RecordCrewCashIn(ctx, c.UserID(), args[1], amount, joinFrom(args, 3))
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Crew cash-in of %s gold recorded. You now have %s gold.", formatGold(result.CashIn.Amount), formatGold(result.Gold.GoldAmount)), nil

	case "summary":
		if len(args) < 2 {
			return "", d.usage("crew")
		}
		summary, err := d.svc.GetCrewSessionSummary(ctx, args[1])
		if err != nil {
			return "", err
		}
		return describeSummary(summary), nil

	default:
		return "", d.usage("crew")
	}
}

func (d *Dispatcher) myCrews(ctx context.Context, c Context) (string, error) {
	crews := d.svc.GetUserCrews(ctx, c.UserID())
	if len(crews) == 0 {
		return "You are not in any crew.", nil
	}
	var b strings.Builder
	b.WriteString("Your crews:")
	for _, cr := range crews {
		fmt.Fprintf(&b, "\n%s  %s", cr.Name, cr.Role)
	}
	return b.String(), nil
}

func describeSummary(s *models.CrewSessionSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%q: %s gold cashed in", s.Session.SessionName, formatGold(s.TotalCashIn))

	members := make([]string, 0, len(s.Members))
	for id := range s.Members {
		members = append(members, id)
	}
	sort.Strings(members)
	for _, id := range members {
		m := s.Members[id]
		fmt.Fprintf(&b, "\n%s  %s (%d)", id, formatGold(m.Total), len(m.CashIns))
	}
	return b.String()
}

func (d *Dispatcher) leaderboard(ctx context.Context, c Context, args []string) (string, error) {
	entries := d.svc.GetLeaderboard(ctx, parseCount(args, 0))
	if len(entries) == 0 {
		return "The leaderboard is empty.", nil
	}
	var b strings.Builder
	b.WriteString("Leaderboard:")
	for i, e := range entries {
		name := e.Username
		if name == "" {
			name = e.DiscordID
		}
		fmt.Fprintf(&b, "\n%d. %s  %s", i+1, name, formatGold(e.CurrentGold))
	}
	return b.String(), nil
}

func (d *Dispatcher) dbStatus(ctx context.Context, c Context, args []string) (string, error) {
	if !d.svc.IsAdmin(c.UserID()) && !d.svc.ValidateFeatureAccess(service.FeatureAdmin, joinFrom(args, 0)) {
		return "You don't have permission to view the database status.", nil
	}

	status := d.svc.DatabaseStatus()
	health := d.svc.HealthCheck(ctx)

	var b strings.Builder
	fmt.Fprintf(&b, "Database: %s", health.Status)
	if health.Error != "" {
		b.WriteString(" (" + health.Error + ")")
	}
	fmt.Fprintf(&b, "\nConnected: %t\nQueries: %d\nErrors: %d\nReconnections: %d",
		status.IsConnected, status.Stats.QueriesExecuted, status.Stats.ErrorsEncountered, status.Stats.Reconnections)
	if status.LastError != nil {
		fmt.Fprintf(&b, "\nLast error: %s at %s", status.LastError.Message, formatTime(status.LastError.Timestamp))
	}
	return b.String(), nil
}

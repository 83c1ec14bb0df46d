package bot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rongwang/sot-gold-tracker/internal/database"
	"github.com/rongwang/sot-gold-tracker/internal/repository"
	"github.com/rongwang/sot-gold-tracker/internal/schema"
	"github.com/rongwang/sot-gold-tracker/internal/service"
)

const genericErrorMessage = "An unexpected error occurred. Please try again later."

var userMessages = []struct {
	err error
	msg string
}{
	{repository.ErrActiveSessionExists, "You already have an active session. End it before starting a new one."},
	{repository.ErrSessionNotFound, "That session could not be found."},
	{repository.ErrSessionAlreadyClosed, "That session has already ended."},
	{repository.ErrSessionClosed, "That session has ended; cash-ins can only be added to an active session."},
	{repository.ErrNotCrewSession, "Your active session is not a crew session."},
	{repository.ErrDuplicateCrewName, "A crew with that name already exists."},
	{repository.ErrCrewNotFound, "No crew with that name exists."},
	{service.ErrNotCrewMember, "You are not a member of that crew."},
	{service.ErrAlreadyCrewMember, "You are already a member of that crew."},
	{service.ErrNotCaptain, "Only the crew captain can do that."},
	{service.ErrCaptainMustTransfer, "Captains must transfer captaincy before leaving a crew with other members."},
	{service.ErrIncorrectPassword, "Incorrect password."},
	{service.ErrInvalidAmount, "Please enter a valid gold amount."},
	{service.ErrNoActiveSession, "You don't have an active session. Start one with: session start <gold>"},
	{service.ErrNoActiveCrewSession, "That crew has no active session. Start one with: crew session <name> <gold>"},
}

// UserMessage maps an error to a short reply. Domain errors get their own
// wording; infrastructure failures get a generic retry message.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var usage *usageError
	if errors.As(err, &usage) {
		return usage.Error()
	}
	for _, m := range userMessages {
		if errors.Is(err, m.err) {
			return m.msg
		}
	}

	var connErr *database.ConnectionError
	if errors.As(err, &connErr) {
		return "The database is unavailable right now. Please try again later."
	}
	var schemaErr *schema.SchemaError
	if errors.As(err, &schemaErr) {
		return "There was a database error. Please try again later."
	}
	return genericErrorMessage
}

// parseGold parses a gold amount, accepting thousands separators
func parseGold(s string) (int64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, service.ErrInvalidAmount
	}
	return n, nil
}

// formatGold renders 1234567 as "1,234,567"
func formatGold(n int64) string {
	sign := ""
	if n < 0 {
		sign = "-"
		n = -n
	}
	digits := strconv.FormatInt(n, 10)
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return sign + b.String()
}

// formatSigned renders a change with an explicit sign
func formatSigned(n int64) string {
	if n > 0 {
		return "+" + formatGold(n)
	}
	return formatGold(n)
}

// formatDuration renders whole hours and minutes
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}

func formatTime(t time.Time) string {
	return t.Format("2006-01-02 15:04")
}

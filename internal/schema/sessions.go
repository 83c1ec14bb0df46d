package schema

import (
	"context"

	"github.com/rongwang/sot-gold-tracker/internal/utils"
)

const closeDuplicateOpenSessions = `
	UPDATE sessions s
	SET end_time = s.start_time,
		ending_gold = s.starting_gold,
		earned_gold = 0,
		notes = COALESCE(s.notes || E'\n', '') || 'Closed automatically: a newer session was open'
	WHERE s.end_time IS NULL
	AND EXISTS (
		SELECT 1 FROM sessions newer
		WHERE newer.discord_id = s.discord_id
		AND newer.end_time IS NULL
		AND (newer.start_time, newer.id) > (s.start_time, s.id)
	)`

// CloseDuplicateOpenSessions leaves each user with at most one open
// session, the newest. Older open ones are closed with zero length and
// zero earnings. It returns how many were closed.
func CloseDuplicateOpenSessions(ctx context.Context, q Querier) (int64, error) {
	res, err := q.Run(ctx, closeDuplicateOpenSessions)
	if err != nil {
		return 0, wrap(Sessions.Name, "close duplicate open sessions", err)
	}
	return res.AffectedRows, nil
}

// EnsureOneOpenSession installs the partial unique index on open sessions,
// closing duplicates left behind by older versions first.
func EnsureOneOpenSession(ctx context.Context, q Querier, logger *utils.Logger) error {
	exists, err := NewCatalog(q).IndexExists(ctx, Sessions.Name, OneOpenSessionIndex)
	if err != nil || exists {
		return err
	}

	closed, err := CloseDuplicateOpenSessions(ctx, q)
	if err != nil {
		return err
	}
	if closed > 0 {
		logger.Warn("Closed duplicate open sessions", "count", closed)
	}

	if _, err := q.Run(ctx, CreateOneOpenSessionIndex); err != nil {
		return wrap(Sessions.Name, "create index "+OneOpenSessionIndex, err)
	}
	return nil
}

package migrations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rongwang/sot-gold-tracker/internal/database"
	"github.com/rongwang/sot-gold-tracker/internal/models"
	"github.com/rongwang/sot-gold-tracker/internal/schema"
	"github.com/rongwang/sot-gold-tracker/internal/utils"
)

// Migration is one versioned, apply-once schema or data change
type Migration struct {
	Version     string
	Description string
	Apply       func(ctx context.Context, tx *database.Conn) error
}

// Report lists what a Run did
type Report struct {
	Applied []string `json:"applied"`
	Skipped []string `json:"skipped"`
}

// Runner applies migrations in version order, recording each in
// schema_versions inside the same transaction as its changes.
type Runner struct {
	db         *database.Manager
	logger     *utils.Logger
	migrations []Migration
}

// NewRunner creates a Runner over the given migrations. It fails when a
// version is malformed or repeated.
func NewRunner(db *database.Manager, logger *utils.Logger, migrations []Migration) (*Runner, error) {
	sorted := make([]Migration, len(migrations))
	copy(sorted, migrations)

	for _, m := range sorted {
		if _, err := parseVersion(m.Version); err != nil {
			return nil, err
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return CompareVersions(sorted[i].Version, sorted[j].Version) < 0
	})
	for i := 1; i < len(sorted); i++ {
		if CompareVersions(sorted[i-1].Version, sorted[i].Version) == 0 {
			return nil, fmt.Errorf("duplicate migration version %s", sorted[i].Version)
		}
	}

	return &Runner{db: db, logger: logger, migrations: sorted}, nil
}

// Migrations returns the runner's migrations in application order
func (r *Runner) Migrations() []Migration {
	return r.migrations
}

func (r *Runner) ensureLedger(ctx context.Context) error {
	return schema.CreateTable(ctx, r.db, schema.SchemaVersions)
}

// GetCurrentVersion returns the most recently applied version, or false
// when nothing has been applied yet.
func (r *Runner) GetCurrentVersion(ctx context.Context) (string, bool, error) {
	if err := r.ensureLedger(ctx); err != nil {
		return "", false, err
	}

	var version string
	err := r.db.Get(ctx, &version, `SELECT version FROM schema_versions ORDER BY id DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("error getting current schema version: %w", err)
	}
	return version, true, nil
}

// Applied lists the recorded migrations in the order they were applied
func (r *Runner) Applied(ctx context.Context) ([]models.SchemaVersion, error) {
	if err := r.ensureLedger(ctx); err != nil {
		return nil, err
	}

	versions := []models.SchemaVersion{}
	err := r.db.Select(ctx, &versions,
		`SELECT id, version, applied_at, description FROM schema_versions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("error listing schema versions: %w", err)
	}
	return versions, nil
}

// ApplyMigration runs fn and records version in one transaction. It
// returns false without running fn when version is already recorded.
// Any failure rolls back both, so the migration is retried next time.
func (r *Runner) ApplyMigration(ctx context.Context, version, description string, fn func(ctx context.Context, tx *database.Conn) error) (bool, error) {
	if err := r.ensureLedger(ctx); err != nil {
		return false, err
	}

	var applied bool
	err := r.db.Get(ctx, &applied,
		`SELECT EXISTS(SELECT 1 FROM schema_versions WHERE version = $1)`, version)
	if err != nil {
		return false, fmt.Errorf("error checking migration %s: %w", version, err)
	}
	if applied {
		r.logger.Info("Migration already applied, skipping", "version", version)
		return false, nil
	}

	err = r.db.Transaction(ctx, func(ctx context.Context, tx *database.Conn) error {
		if err := fn(ctx, tx); err != nil {
			return err
		}
		res, err := r.db.Insert(ctx,
			`INSERT INTO schema_versions (version, description) VALUES ($1, $2) RETURNING id`,
			version, description)
		if err != nil {
			return err
		}
		r.logger.Debug("Recorded schema version", "version", version, "id", res.InsertedID)
		return nil
	})
	if err != nil {
		r.logger.Error("Failed to apply migration", "version", version, "error", err)
		return false, fmt.Errorf("failed to apply migration %s: %w", version, err)
	}

	r.logger.Info("Applied schema migration", "version", version, "description", description)
	return true, nil
}

// Run applies every pending migration in order and stops at the first
// failure; later migrations assume the earlier ones are in place.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	var report Report

	current, ok, err := r.GetCurrentVersion(ctx)
	if err != nil {
		return report, err
	}
	if !ok {
		current = "none"
	}
	r.logger.Info("Starting database migrations", "current_version", current, "count", len(r.migrations))

	for _, m := range r.migrations {
		applied, err := r.ApplyMigration(ctx, m.Version, m.Description, m.Apply)
		if err != nil {
			return report, err
		}
		if applied {
			report.Applied = append(report.Applied, m.Version)
		} else {
			report.Skipped = append(report.Skipped, m.Version)
		}
	}

	r.logger.Info("Migrations completed successfully",
		"applied", len(report.Applied), "skipped", len(report.Skipped))
	return report, nil
}

func parseVersion(v string) ([]int, error) {
	if v == "" {
		return nil, fmt.Errorf("empty migration version")
	}
	parts := strings.Split(v, ".")
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid migration version %q", v)
		}
		out[i] = n
	}
	return out, nil
}

// CompareVersions orders dotted numeric versions segment by segment;
// missing segments count as zero. Malformed versions fall back to
// string comparison.
func CompareVersions(a, b string) int {
	pa, errA := parseVersion(a)
	pb, errB := parseVersion(b)
	if errA != nil || errB != nil {
		return strings.Compare(a, b)
	}
	for i := 0; i < len(pa) || i < len(pb); i++ {
		var x, y int
		if i < len(pa) {
			x = pa[i]
		}
		if i < len(pb) {
			y = pb[i]
		}
		if x != y {
			if x < y {
				return -1
			}
			return 1
		}
	}
	return 0
}

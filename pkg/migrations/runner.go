package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"time"

	"github.com/openctemio/membership/pkg/logger"
)

// Runner applies migrations and tracks them in schema_migrations.
type Runner struct {
	db     *sql.DB
	fsys   fs.FS
	logger *logger.Logger
}

// NewRunner creates a new migration runner over fsys, usually Files().
func NewRunner(db *sql.DB, fsys fs.FS, log *logger.Logger) *Runner {
	return &Runner{
		db:     db,
		fsys:   fsys,
		logger: log.With("component", "migrations"),
	}
}

// Record is an applied migration.
type Record struct {
	Version   string
	AppliedAt time.Time
}

// Status is one migration and whether it was applied.
type Status struct {
	Migration
	Applied   bool
	AppliedAt *time.Time
}

// EnsureMigrationTable creates the schema_migrations table if it doesn't exist.
func (r *Runner) EnsureMigrationTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(14) PRIMARY KEY,
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`
	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to ensure migration table: %w", err)
	}
	return nil
}

// Applied returns all applied migrations, oldest first.
func (r *Runner) Applied(ctx context.Context) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT version, applied_at FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("failed to read applied migrations: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.Version, &rec.AppliedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Pending returns the up migrations not yet applied.
func (r *Runner) Pending(ctx context.Context) ([]Migration, error) {
	available, err := Load(r.fsys, Up)
	if err != nil {
		return nil, err
	}
	applied, err := r.Applied(ctx)
	if err != nil {
		return nil, err
	}

	done := make(map[string]bool, len(applied))
	for _, rec := range applied {
		done[rec.Version] = true
	}
	var pending []Migration
	for _, m := range available {
		if !done[m.Version] {
			pending = append(pending, m)
		}
	}
	return pending, nil
}

// Up runs all pending migrations and returns them.
func (r *Runner) Up(ctx context.Context) ([]Migration, error) {
	if err := r.EnsureMigrationTable(ctx); err != nil {
		return nil, err
	}
	pending, err := r.Pending(ctx)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		r.logger.Info("no pending migrations")
		return nil, nil
	}

	for _, m := range pending {
		if err := r.run(ctx, m); err != nil {
			return nil, fmt.Errorf("migration %s failed: %w", m.Version, err)
		}
		r.logger.Info("migration applied", "version", m.Version, "name", m.Name)
	}
	return pending, nil
}

// Down rolls back the last applied migration. It returns nil when nothing
// was applied.
func (r *Runner) Down(ctx context.Context) (*Migration, error) {
	applied, err := r.Applied(ctx)
	if err != nil {
		return nil, err
	}
	if len(applied) == 0 {
		r.logger.Info("no migrations to roll back")
		return nil, nil
	}
	last := applied[len(applied)-1].Version

	downs, err := Load(r.fsys, Down)
	if err != nil {
		return nil, err
	}
	for _, m := range downs {
		if m.Version != last {
			continue
		}
		if err := r.run(ctx, m); err != nil {
			return nil, fmt.Errorf("rollback %s failed: %w", m.Version, err)
		}
		r.logger.Info("migration rolled back", "version", m.Version, "name", m.Name)
		return &m, nil
	}
	return nil, fmt.Errorf("down migration not found for version %s", last)
}

// Status lists every known migration with its applied state.
func (r *Runner) Status(ctx context.Context) ([]Status, error) {
	if err := r.EnsureMigrationTable(ctx); err != nil {
		return nil, err
	}
	applied, err := r.Applied(ctx)
	if err != nil {
		return nil, err
	}
	available, err := Load(r.fsys, Up)
	if err != nil {
		return nil, err
	}

	at := make(map[string]time.Time, len(applied))
	for _, rec := range applied {
		at[rec.Version] = rec.AppliedAt
	}
	out := make([]Status, 0, len(available))
	for _, m := range available {
		st := Status{Migration: m}
		if t, ok := at[m.Version]; ok {
			st.Applied = true
			st.AppliedAt = &t
		}
		out = append(out, st)
	}
	return out, nil
}

// run executes one migration file and updates schema_migrations in the same
// transaction.
func (r *Runner) run(ctx context.Context, m Migration) error {
	content, err := fs.ReadFile(r.fsys, m.Path)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		return err
	}
	switch m.Direction {
	case Up:
		_, err = tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", m.Version)
	case Down:
		_, err = tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = $1", m.Version)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

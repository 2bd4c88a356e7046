package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/openctemio/membership/pkg/domain/organization"
	"github.com/openctemio/membership/pkg/domain/shared"
)

// OrganizationRepository implements organization.Repository using PostgreSQL.
// It also applies subscription seat changes, recording each one in the
// seat_adjustments ledger.
type OrganizationRepository struct {
	db  *DB
	now func() time.Time
}

// NewOrganizationRepository creates a new OrganizationRepository.
func NewOrganizationRepository(db *DB) *OrganizationRepository {
	return &OrganizationRepository{db: db, now: time.Now}
}

// GetByID retrieves an organization by ID.
func (r *OrganizationRepository) GetByID(ctx context.Context, id shared.ID) (*organization.Organization, error) {
	query := `SELECT ` + organizationColumns + `
		FROM organizations
		WHERE id = $1
	`
	return r.scanOrganization(r.db.QueryRowContext(ctx, query, id.String()))
}

// ListIDs returns every organization ID.
func (r *OrganizationRepository) ListIDs(ctx context.Context) ([]shared.ID, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM organizations ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()

	var ids []shared.ID
	for rows.Next() {
		var id shared.ID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan organization id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkOwnersNotified stamps the first autoscaling notice.
func (r *OrganizationRepository) MarkOwnersNotified(ctx context.Context, id shared.ID, at time.Time) error {
	query := `
		UPDATE organizations
		SET owners_notified_of_autoscaling = $2, updated_at = $3
		WHERE id = $1
	`
	return r.execOne(ctx, "mark owners notified", query, id.String(), at, r.now().UTC())
}

// SetMaxAutoscaleSeats changes the autoscale ceiling. nil removes it.
func (r *OrganizationRepository) SetMaxAutoscaleSeats(ctx context.Context, id shared.ID, max *int) error {
	query := `
		UPDATE organizations
		SET max_autoscale_seats = $2, updated_at = $3
		WHERE id = $1
	`
	return r.execOne(ctx, "set max autoscale seats", query, id.String(), nullInt(max), r.now().UTC())
}

// UpdateSeats applies a signed seat delta and returns the new totals.
// Unlimited (NULL) counts stay unlimited. The change and the resulting
// totals are appended to seat_adjustments in the same transaction.
func (r *OrganizationRepository) UpdateSeats(ctx context.Context, orgID shared.ID, delta organization.SeatDelta) (organization.SeatTotals, error) {
	var totals organization.SeatTotals
	err := r.db.Transaction(ctx, func(tx *sql.Tx) error {
		now := r.now().UTC()
		var seats, smSeats sql.NullInt64
		err := tx.QueryRowContext(ctx, `
			UPDATE organizations
			SET seats = CASE WHEN seats IS NULL THEN NULL ELSE seats + $2 END,
				sm_seats = CASE WHEN sm_seats IS NULL THEN NULL ELSE sm_seats + $3 END,
				updated_at = $4
			WHERE id = $1
			RETURNING seats, sm_seats
		`, orgID.String(), delta.PasswordManager, delta.SecretsManager, now).Scan(&seats, &smSeats)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return shared.ErrNotFound
			}
			return fmt.Errorf("failed to update seats: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO seat_adjustments (id, organization_id, pm_delta, sm_delta, seats_after, sm_seats_after, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, shared.NewID().String(), orgID.String(), delta.PasswordManager, delta.SecretsManager, seats, smSeats, now)
		if err != nil {
			return fmt.Errorf("failed to record seat adjustment: %w", err)
		}

		totals = organization.SeatTotals{Seats: nullIntValue(seats), SmSeats: nullIntValue(smSeats)}
		return nil
	})
	if err != nil {
		return organization.SeatTotals{}, err
	}
	return totals, nil
}

func (r *OrganizationRepository) execOne(ctx context.Context, op, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *OrganizationRepository) scanOrganization(row *sql.Row) (*organization.Organization, error) {
	var (
		s                                    organization.State
		plan                                 string
		seats, maxSeats, smSeats, maxSmSeats sql.NullInt64
		notifiedAt                           sql.NullTime
	)
	err := row.Scan(
		&s.ID, &s.Name, &s.BillingEmail, &plan, &seats, &maxSeats,
		&s.UseSecretsManager, &smSeats, &maxSmSeats,
		&s.UsesDirectory, &s.UsesSso, &s.UsesPolicies, &s.UsesCustomPermissions,
		&s.ManagedByProvider, &notifiedAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: organization not found", shared.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to scan organization: %w", err)
	}

	s.PlanType = organization.PlanType(plan)
	s.Seats = nullIntValue(seats)
	s.MaxAutoscaleSeats = nullIntValue(maxSeats)
	s.SmSeats = nullIntValue(smSeats)
	s.MaxAutoscaleSmSeats = nullIntValue(maxSmSeats)
	s.OwnersNotifiedOfAutoscaling = nullTimeValue(notifiedAt)
	return organization.Reconstitute(s), nil
}

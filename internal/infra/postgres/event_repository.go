package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/openctemio/membership/pkg/domain/organization"
	"github.com/openctemio/membership/pkg/domain/shared"
)

// EventRepository implements organization.EventRepository using PostgreSQL.
type EventRepository struct {
	db *DB
}

// NewEventRepository creates a new EventRepository.
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{db: db}
}

// CreateMany inserts the events, one statement per bind parameter limit.
func (r *EventRepository) CreateMany(ctx context.Context, events []organization.MembershipEvent) error {
	if len(events) == 0 {
		return nil
	}
	const cols = 7
	args := make([]any, 0, len(events)*cols)
	for _, e := range events {
		var system sql.NullString
		if e.SystemUser != organization.SystemUserNone {
			system = sql.NullString{String: e.SystemUser.String(), Valid: true}
		}
		args = append(args,
			shared.NewID().String(),
			e.Type.String(),
			e.OrganizationID.String(),
			e.MembershipID.String(),
			nullID(e.ActingUserID),
			system,
			e.OccurredAt,
		)
	}

	head := `INSERT INTO organization_user_events (id, ` + eventColumns + `)
		VALUES `
	if err := insertRows(ctx, r.db, head, cols, rowsPerInsert(cols), args); err != nil {
		return fmt.Errorf("failed to create membership events: %w", err)
	}
	return nil
}

// ListByMembership returns a membership's events, oldest first.
func (r *EventRepository) ListByMembership(ctx context.Context, membershipID shared.ID) ([]organization.MembershipEvent, error) {
	query := `SELECT ` + eventColumns + `
		FROM organization_user_events
		WHERE organization_user_id = $1
		ORDER BY occurred_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query, membershipID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list membership events: %w", err)
	}
	defer rows.Close()

	var events []organization.MembershipEvent
	for rows.Next() {
		var (
			e              organization.MembershipEvent
			eventType      string
			acting, system sql.NullString
		)
		if err := rows.Scan(&eventType, &e.OrganizationID, &e.MembershipID, &acting, &system, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan membership event: %w", err)
		}
		e.Type = organization.EventType(eventType)
		e.ActingUserID = parseNullID(acting)
		if system.Valid {
			e.SystemUser = organization.SystemUser(system.String)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openctemio/membership/pkg/domain/organization"
	"github.com/openctemio/membership/pkg/domain/shared"
)

// MembershipRepository implements organization.MembershipRepository using PostgreSQL.
type MembershipRepository struct {
	db  *DB
	now func() time.Time
}

// NewMembershipRepository creates a new MembershipRepository.
func NewMembershipRepository(db *DB) *MembershipRepository {
	return &MembershipRepository{db: db, now: time.Now}
}

type rowScanner interface {
	Scan(dest ...any) error
}

// =============================================================================
// Reads
// =============================================================================

// GetByID retrieves a membership by ID.
func (r *MembershipRepository) GetByID(ctx context.Context, id shared.ID) (*organization.Membership, error) {
	query := `SELECT ` + membershipColumns + `
		FROM organization_users
		WHERE id = $1
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id.String()))
}

// GetMany returns the memberships that exist among ids.
func (r *MembershipRepository) GetMany(ctx context.Context, ids []shared.ID) ([]*organization.Membership, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + membershipColumns + `
		FROM organization_users
		WHERE id = ANY($1::uuid[])
	` + orderByCreatedAtAsc
	return r.query(ctx, query, idArray(ids))
}

// GetByOrganizationAndUser retrieves the membership of a user in an organization.
func (r *MembershipRepository) GetByOrganizationAndUser(ctx context.Context, orgID, userID shared.ID) (*organization.Membership, error) {
	query := `SELECT ` + membershipColumns + `
		FROM organization_users
		WHERE organization_id = $1 AND user_id = $2
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, orgID.String(), userID.String()))
}

// ListByOrganization lists an organization's memberships, optionally
// filtered by role and status.
func (r *MembershipRepository) ListByOrganization(ctx context.Context, orgID shared.ID, filter organization.MembershipFilter) ([]*organization.Membership, error) {
	conditions := []string{"organization_id = $1"}
	args := []any{orgID.String()}
	if filter.Role != nil {
		args = append(args, filter.Role.String())
		conditions = append(conditions, fmt.Sprintf("role = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, filter.Status.String())
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + membershipColumns + `
		FROM organization_users
		WHERE ` + strings.Join(conditions, " AND ") + orderByCreatedAtAsc
	return r.query(ctx, query, args...)
}

// ListByUsers returns the memberships of the users across all organizations.
func (r *MembershipRepository) ListByUsers(ctx context.Context, userIDs []shared.ID) ([]*organization.Membership, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	query := `SELECT ` + membershipColumns + `
		FROM organization_users
		WHERE user_id = ANY($1::uuid[])
	` + orderByCreatedAtAsc
	return r.query(ctx, query, idArray(userIDs))
}

// SelectKnownEmails returns the candidates already invited to, or belonging
// to an account that is a member of, the organization.
func (r *MembershipRepository) SelectKnownEmails(ctx context.Context, orgID shared.ID, candidates []string) ([]string, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	lowered := make([]string, len(candidates))
	for i, c := range candidates {
		lowered[i] = strings.ToLower(strings.TrimSpace(c))
	}

	query := `
		SELECT ou.email
		FROM organization_users ou
		WHERE ou.organization_id = $1 AND ou.email IS NOT NULL AND lower(ou.email) = ANY($2)
		UNION
		SELECT u.email
		FROM organization_users ou
		JOIN users u ON u.id = ou.user_id
		WHERE ou.organization_id = $1 AND lower(u.email) = ANY($2)
	`
	rows, err := r.db.QueryContext(ctx, query, orgID.String(), stringArray(lowered))
	if err != nil {
		return nil, fmt.Errorf("failed to select known emails: %w", err)
	}
	defer rows.Close()

	var known []string
	for rows.Next() {
		var e string
		if err := rows.Scan(&e); err != nil {
			return nil, fmt.Errorf("failed to scan email: %w", err)
		}
		known = append(known, e)
	}
	return known, rows.Err()
}

// CountOccupiedSeats counts the memberships holding a seat: every status but
// revoked. Secrets manager seats also require access to secrets manager.
func (r *MembershipRepository) CountOccupiedSeats(ctx context.Context, orgID shared.ID) (organization.OccupiedSeats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status <> 'revoked'),
			COUNT(*) FILTER (WHERE status <> 'revoked' AND access_secrets_manager)
		FROM organization_users
		WHERE organization_id = $1
	`
	var seats organization.OccupiedSeats
	if err := r.db.QueryRowContext(ctx, query, orgID.String()).Scan(&seats.PasswordManager, &seats.SecretsManager); err != nil {
		return organization.OccupiedSeats{}, fmt.Errorf("failed to count occupied seats: %w", err)
	}
	return seats, nil
}

// HasConfirmedOwnersExcept reports whether a confirmed owner remains outside excluded.
func (r *MembershipRepository) HasConfirmedOwnersExcept(ctx context.Context, orgID shared.ID, excluded []shared.ID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM organization_users
			WHERE organization_id = $1
				AND role = 'owner'
				AND status = 'confirmed'
				AND NOT (id = ANY($2::uuid[]))
		)
	`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, orgID.String(), idArray(excluded)).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check confirmed owners: %w", err)
	}
	return exists, nil
}

// =============================================================================
// Writes
// =============================================================================

// CreateMany inserts memberships, splitting batches that exceed the bind
// parameter limit across statements of one transaction. A duplicate
// invitation fails the whole batch.
func (r *MembershipRepository) CreateMany(ctx context.Context, memberships []*organization.Membership) error {
	if len(memberships) == 0 {
		return nil
	}
	const cols = 12
	args := make([]any, 0, len(memberships)*cols)
	for _, m := range memberships {
		row, err := membershipArgs(m)
		if err != nil {
			return err
		}
		args = append(args, row...)
	}

	head := `INSERT INTO organization_users (` + membershipColumns + `)
		VALUES `
	if err := insertRows(ctx, r.db, head, cols, rowsPerInsert(cols), args); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", shared.ErrStateConflict, organization.MsgAlreadyInvited)
		}
		return fmt.Errorf("failed to create memberships: %w", err)
	}
	return nil
}

// Upsert inserts or fully replaces a membership.
func (r *MembershipRepository) Upsert(ctx context.Context, m *organization.Membership) error {
	args, err := membershipArgs(m)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO organization_users (` + membershipColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			email = EXCLUDED.email,
			role = EXCLUDED.role,
			permissions = EXCLUDED.permissions,
			status = EXCLUDED.status,
			external_id = EXCLUDED.external_id,
			access_secrets_manager = EXCLUDED.access_secrets_manager,
			key = EXCLUDED.key,
			revision_date = EXCLUDED.revision_date
	`
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", shared.ErrStateConflict, organization.MsgAlreadyInvited)
		}
		return fmt.Errorf("failed to upsert membership: %w", err)
	}
	return nil
}

// DeleteMany hard-deletes memberships.
func (r *MembershipRepository) DeleteMany(ctx context.Context, ids []shared.ID) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM organization_users WHERE id = ANY($1::uuid[])`, idArray(ids)); err != nil {
		return fmt.Errorf("failed to delete memberships: %w", err)
	}
	return nil
}

// SetStatus writes a membership's status.
func (r *MembershipRepository) SetStatus(ctx context.Context, id shared.ID, status organization.Status) error {
	query := `
		UPDATE organization_users
		SET status = $2, revision_date = $3
		WHERE id = $1
	`
	result, err := r.db.ExecContext(ctx, query, id.String(), status.String(), r.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set membership status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", shared.ErrNotFound, organization.MsgMembershipMissing)
	}
	return nil
}

// =============================================================================
// Scanning
// =============================================================================

func membershipArgs(m *organization.Membership) ([]any, error) {
	s := m.Snapshot()
	perms, err := toJSONB(s.Permissions)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal permissions: %w", err)
	}
	return []any{
		s.ID.String(),
		s.OrganizationID.String(),
		nullID(s.UserID),
		nullString(s.Email),
		s.Role.String(),
		perms,
		s.Status.String(),
		s.ExternalID,
		s.AccessSecretsManager,
		s.Key,
		s.CreatedAt,
		s.RevisionDate,
	}, nil
}

func (r *MembershipRepository) query(ctx context.Context, query string, args ...any) ([]*organization.Membership, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query memberships: %w", err)
	}
	defer rows.Close()

	var out []*organization.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *MembershipRepository) scanOne(row *sql.Row) (*organization.Membership, error) {
	m, err := scanMembership(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", shared.ErrNotFound, organization.MsgMembershipMissing)
		}
		return nil, err
	}
	return m, nil
}

func scanMembership(row rowScanner) (*organization.Membership, error) {
	var (
		s             organization.MembershipState
		userID, email sql.NullString
		role, status  string
		perms         []byte
	)
	err := row.Scan(
		&s.ID, &s.OrganizationID, &userID, &email, &role, &perms, &status,
		&s.ExternalID, &s.AccessSecretsManager, &s.Key, &s.CreatedAt, &s.RevisionDate,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan membership: %w", err)
	}

	s.UserID = parseNullID(userID)
	s.Email = nullStringValue(email)
	s.Role = organization.Role(role)
	s.Status = organization.Status(status)
	if err := fromJSONB(perms, &s.Permissions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal permissions: %w", err)
	}
	return organization.ReconstituteMembership(s), nil
}

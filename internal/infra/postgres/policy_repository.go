package postgres

import (
	"context"
	"fmt"

	"github.com/openctemio/membership/pkg/domain/organization"
	"github.com/openctemio/membership/pkg/domain/shared"
)

// PolicyRepository implements organization.PolicyRepository using PostgreSQL.
type PolicyRepository struct {
	db *DB
}

// NewPolicyRepository creates a new PolicyRepository.
func NewPolicyRepository(db *DB) *PolicyRepository {
	return &PolicyRepository{db: db}
}

// ListApplicable joins the enabled policies of policyType with the
// memberships of the users. A user is a provider user of an organization when
// they are a confirmed member of the provider that manages it.
func (r *PolicyRepository) ListApplicable(ctx context.Context, userIDs []shared.ID, policyType organization.PolicyType) ([]organization.PolicyDetail, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT
			p.organization_id,
			ou.user_id,
			p.type,
			p.enabled,
			ou.status,
			ou.role,
			EXISTS (
				SELECT 1
				FROM provider_users pu
				JOIN provider_organizations po ON po.provider_id = pu.provider_id
				WHERE po.organization_id = p.organization_id
					AND pu.user_id = ou.user_id
					AND pu.status = 'confirmed'
			) AS is_provider
		FROM policies p
		JOIN organization_users ou ON ou.organization_id = p.organization_id
		WHERE p.type = $2
			AND p.enabled
			AND ou.user_id = ANY($1::uuid[])
	`
	rows, err := r.db.QueryContext(ctx, query, idArray(userIDs), policyType.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list applicable policies: %w", err)
	}
	defer rows.Close()

	var details []organization.PolicyDetail
	for rows.Next() {
		var (
			d                   organization.PolicyDetail
			pType, status, role string
		)
		if err := rows.Scan(&d.OrganizationID, &d.UserID, &pType, &d.Enabled, &status, &role, &d.IsProvider); err != nil {
			return nil, fmt.Errorf("failed to scan policy detail: %w", err)
		}
		d.PolicyType = organization.PolicyType(pType)
		d.MembershipStatus = organization.Status(status)
		d.MembershipRole = organization.Role(role)
		details = append(details, d)
	}
	return details, rows.Err()
}

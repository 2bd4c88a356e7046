package postgres

import (
	"context"
	"fmt"

	"github.com/openctemio/membership/pkg/domain/shared"
)

// UserRepository implements organization.UserDirectory using PostgreSQL.
type UserRepository struct {
	db *DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

// EmailsByIDs returns the account email of each user. Unknown IDs are absent
// from the result.
func (r *UserRepository) EmailsByIDs(ctx context.Context, userIDs []shared.ID) (map[shared.ID]string, error) {
	out := make(map[shared.ID]string, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, email
		FROM users
		WHERE id = ANY($1::uuid[])
	`, idArray(userIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to query user emails: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id    shared.ID
			email string
		)
		if err := rows.Scan(&id, &email); err != nil {
			return nil, fmt.Errorf("failed to scan user email: %w", err)
		}
		out[id] = email
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return out, nil
}

// TwoFactorEnabled reports, per user, whether two-step login is on. Unknown
// IDs are absent from the result.
func (r *UserRepository) TwoFactorEnabled(ctx context.Context, userIDs []shared.ID) (map[shared.ID]bool, error) {
	out := make(map[shared.ID]bool, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, two_factor_enabled
		FROM users
		WHERE id = ANY($1::uuid[])
	`, idArray(userIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to query two-factor status: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id      shared.ID
			enabled bool
		)
		if err := rows.Scan(&id, &enabled); err != nil {
			return nil, fmt.Errorf("failed to scan two-factor status: %w", err)
		}
		out[id] = enabled
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return out, nil
}

package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Column lists shared by the SELECT statements of each table.
const (
	organizationColumns = `id, name, billing_email, plan_type, seats, max_autoscale_seats,
		use_secrets_manager, sm_seats, max_autoscale_sm_seats,
		uses_directory, uses_sso, uses_policies, uses_custom_permissions,
		managed_by_provider, owners_notified_of_autoscaling, created_at, updated_at`

	membershipColumns = `id, organization_id, user_id, email, role, permissions, status,
		external_id, access_secrets_manager, key, created_at, revision_date`

	eventColumns = `type, organization_id, organization_user_id, acting_user_id, system_user, occurred_at`
)

// Order by clause constants
const orderByCreatedAtAsc = " ORDER BY created_at ASC"

// placeholders renders the VALUES tuples of a multi-row insert:
// placeholders(2, 3) returns "($1, $2, $3), ($4, $5, $6)".
func placeholders(rows, cols int) string {
	var b strings.Builder
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := 0; c < cols; c++ {
			if c > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", r*cols+c+1)
		}
		b.WriteByte(')')
	}
	return b.String()
}

// maxBindParams is the PostgreSQL limit on bind parameters per statement.
const maxBindParams = 65535

// rowsPerInsert is the largest number of rows of cols columns one INSERT can bind.
func rowsPerInsert(cols int) int {
	return maxBindParams / cols
}

// insertRows runs head followed by VALUES tuples for args, rowsPer rows per
// statement. A batch needing more than one statement runs in a transaction.
func insertRows(ctx context.Context, db *DB, head string, cols, rowsPer int, args []any) error {
	rows := len(args) / cols
	if rows <= rowsPer {
		_, err := db.ExecContext(ctx, head+placeholders(rows, cols), args...)
		return err
	}
	return db.Transaction(ctx, func(tx *sql.Tx) error {
		for start := 0; start < rows; start += rowsPer {
			n := min(rowsPer, rows-start)
			chunk := args[start*cols : (start+n)*cols]
			if _, err := tx.ExecContext(ctx, head+placeholders(n, cols), chunk...); err != nil {
				return err
			}
		}
		return nil
	})
}

package postgres

import (
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/membership/pkg/domain/shared"
)

func TestUserRepository_EmailsByIDs(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)
	a, b := shared.NewID(), shared.NewID()

	mock.ExpectQuery(`SELECT id, email FROM users WHERE id = ANY`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email"}).AddRow(a.String(), "a@example.com"))

	emails, err := repo.EmailsByIDs(t.Context(), []shared.ID{a, b})
	require.NoError(t, err)
	assert.Equal(t, map[shared.ID]string{a: "a@example.com"}, emails)
}

func TestUserRepository_TwoFactorEnabled(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)
	a, b := shared.NewID(), shared.NewID()

	mock.ExpectQuery(`SELECT id, two_factor_enabled FROM users`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "two_factor_enabled"}).
			AddRow(a.String(), true).
			AddRow(b.String(), false))

	status, err := repo.TwoFactorEnabled(t.Context(), []shared.ID{a, b})
	require.NoError(t, err)
	assert.True(t, status[a])
	assert.False(t, status[b])
	assert.Len(t, status, 2)
}

func TestUserRepository_QueryError(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)

	mock.ExpectQuery(`FROM users`).WillReturnError(errors.New("connection reset"))

	_, err := repo.TwoFactorEnabled(t.Context(), []shared.ID{shared.NewID()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to query two-factor status")
}

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/and161185/tokenguard/internal/errs"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

func newDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return &DB{Pool: mock}, mock
}

var principalColNames = []string{"id", "email", "username", "pwd_hash", "roles", "verified", "totp_secret", "created_at"}

func TestPrincipalRepo_GetByEmail(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewPrincipalRepo(db)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())
	now := time.Now()

	mock.ExpectQuery(`SELECT id, email, username, pwd_hash, roles, verified, totp_secret, created_at FROM principals WHERE email=\$1`).
		WithArgs("a@b.com").
		WillReturnRows(pgxmock.NewRows(principalColNames).
			AddRow(id, "a@b.com", "alice", []byte("h"), []string{"user"}, true, []byte{}, now))
	p, err := r.GetByEmail(ctx, "a@b.com")
	require.NoError(t, err)
	require.Equal(t, id, p.ID)
	require.Equal(t, "alice", p.Username)
	require.True(t, p.Verified)
	require.False(t, p.TwoFactorEnabled())

	mock.ExpectQuery(`FROM principals WHERE email=\$1`).
		WithArgs("nobody@b.com").
		WillReturnError(pgx.ErrNoRows)
	_, err = r.GetByEmail(ctx, "nobody@b.com")
	require.ErrorIs(t, err, errs.ErrNotFound)

	mock.ExpectQuery(`FROM principals WHERE email=\$1`).
		WithArgs("a@b.com").
		WillReturnError(errors.New("conn reset"))
	_, err = r.GetByEmail(ctx, "a@b.com")
	require.Error(t, err)
	require.NotErrorIs(t, err, errs.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPrincipalRepo_GetByIDAndLogin(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewPrincipalRepo(db)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())

	mock.ExpectQuery(`FROM principals WHERE id=\$1`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(principalColNames).
			AddRow(id, "a@b.com", "alice", []byte("h"), []string{"user"}, true, []byte("s"), time.Now()))
	p, err := r.GetByID(ctx, id)
	require.NoError(t, err)
	require.True(t, p.TwoFactorEnabled())

	mock.ExpectQuery(`FROM principals WHERE email=\$1 OR username=\$1 ORDER BY \(email=\$1\) DESC LIMIT 1`).
		WithArgs("alice").
		WillReturnRows(pgxmock.NewRows(principalColNames).
			AddRow(id, "a@b.com", "alice", []byte("h"), []string{"user"}, true, []byte{}, time.Now()))
	p, err = r.GetByLogin(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "a@b.com", p.Email)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPrincipalRepo_SetTOTPSecretAndDelete(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewPrincipalRepo(db)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())

	mock.ExpectExec(`UPDATE principals SET totp_secret=\$2 WHERE id=\$1`).
		WithArgs(id, []byte("sec")).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, r.SetTOTPSecret(ctx, id, []byte("sec")))

	mock.ExpectExec(`UPDATE principals SET totp_secret`).
		WithArgs(id, []byte("sec")).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.ErrorIs(t, r.SetTOTPSecret(ctx, id, []byte("sec")), errs.ErrNotFound)

	mock.ExpectExec(`DELETE FROM principals WHERE id=\$1`).
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, r.Delete(ctx, id))

	mock.ExpectExec(`DELETE FROM principals WHERE id=\$1`).
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	require.ErrorIs(t, r.Delete(ctx, id), errs.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

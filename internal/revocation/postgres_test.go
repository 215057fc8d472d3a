package revocation

import (
	"context"
	"errors"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

func TestPostgres_Revoke(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	s := NewPostgres(mock)

	exp := time.Now().Add(time.Hour)
	mock.ExpectExec(`INSERT INTO revoked_tokens \(token_id, revoked_at, expires_at\) VALUES \(\$1, now\(\), \$2\) ON CONFLICT \(token_id\) DO NOTHING`).
		WithArgs("jti", exp.Add(Grace)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	created, err := s.Revoke(context.Background(), "jti", exp)
	require.NoError(t, err)
	require.True(t, created)

	// conflict: the row already exists, so this caller did not win
	mock.ExpectExec(`INSERT INTO revoked_tokens`).
		WithArgs("jti", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	created, err = s.Revoke(context.Background(), "jti", exp)
	require.NoError(t, err)
	require.False(t, created)

	mock.ExpectExec(`INSERT INTO revoked_tokens`).
		WithArgs("jti", pgxmock.AnyArg()).
		WillReturnError(errors.New("db down"))
	_, err = s.Revoke(context.Background(), "jti", exp)
	require.Error(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_IsRevoked(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	s := NewPostgres(mock)

	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM revoked_tokens WHERE token_id=\$1\)`).
		WithArgs("jti").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	ok, err := s.IsRevoked(context.Background(), "jti")
	require.NoError(t, err)
	require.True(t, ok)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("other").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	ok, err = s.IsRevoked(context.Background(), "other")
	require.NoError(t, err)
	require.False(t, ok)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("jti").
		WillReturnError(errors.New("conn reset"))
	_, err = s.IsRevoked(context.Background(), "jti")
	require.Error(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Prune(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	s := NewPostgres(mock)
	now := time.Now()

	mock.ExpectExec(`DELETE FROM revoked_tokens WHERE expires_at < \$1`).
		WithArgs(now).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	n, err := s.Prune(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, int64(3), n)

	require.NoError(t, mock.ExpectationsWereMet())
}

package storage

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"

	"gitlab.com/voxline/api/voxline-call-engine/internal/apperrors"
)

const (
	reserveQuery = `UPDATE clients SET reserved_minutes = reserved_minutes + $1, updated_at = $2 WHERE id = $3 AND total_minutes - reserved_minutes - consumed_minutes >= $4`
	consumeQuery = `UPDATE clients SET reserved_minutes = reserved_minutes - $1, consumed_minutes = consumed_minutes + $2, updated_at = $3 WHERE id = $4 AND reserved_minutes >= $5`
	refundQuery  = `UPDATE clients SET reserved_minutes = reserved_minutes - $1, updated_at = $2 WHERE id = $3 AND reserved_minutes >= $4`
)

func TestPostgresRepo_ReserveClientCredits_Success(t *testing.T) {
	repo, mock, teardown := newMockRepo(t)
	defer teardown()

	mock.ExpectExec(reserveQuery).
		WithArgs(int64(600), AnyTime{}, "client-1", int64(600)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.ReserveClientCredits(context.Background(), "client-1", 600)
	assert.NoError(t, err)
}

func TestPostgresRepo_ReserveClientCredits_Insufficient(t *testing.T) {
	repo, mock, teardown := newMockRepo(t)
	defer teardown()

	mock.ExpectExec(reserveQuery).
		WithArgs(int64(600), AnyTime{}, "client-1", int64(600)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	// The guard failed, so the repo re-reads the row to disambiguate.
	rows := sqlmock.NewRows([]string{"id", "name", "total_minutes", "reserved_minutes", "consumed_minutes"}).
		AddRow("client-1", "Acme", int64(500), int64(100), int64(50))
	mock.ExpectQuery(`SELECT * FROM "clients" WHERE id = $1 ORDER BY "clients"."id" LIMIT $2`).
		WithArgs("client-1", 1).
		WillReturnRows(rows)

	err := repo.ReserveClientCredits(context.Background(), "client-1", 600)
	assert.ErrorIs(t, err, apperrors.ErrInsufficientCredits)
}

func TestPostgresRepo_ReserveClientCredits_ClientNotFound(t *testing.T) {
	repo, mock, teardown := newMockRepo(t)
	defer teardown()

	mock.ExpectExec(reserveQuery).
		WithArgs(int64(200), AnyTime{}, "missing", int64(200)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT * FROM "clients" WHERE id = $1 ORDER BY "clients"."id" LIMIT $2`).
		WithArgs("missing", 1).
		WillReturnError(gorm.ErrRecordNotFound)

	err := repo.ReserveClientCredits(context.Background(), "missing", 200)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestPostgresRepo_ReserveClientCredits_RejectsNonPositive(t *testing.T) {
	repo, _, teardown := newMockRepo(t)
	defer teardown()

	err := repo.ReserveClientCredits(context.Background(), "client-1", 0)
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)

	err = repo.ReserveClientCredits(context.Background(), "client-1", -5)
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)
}

func TestPostgresRepo_ConsumeClientCredits_Success(t *testing.T) {
	repo, mock, teardown := newMockRepo(t)
	defer teardown()

	mock.ExpectExec(consumeQuery).
		WithArgs(int64(600), int64(427), AnyTime{}, "client-1", int64(600)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.ConsumeClientCredits(context.Background(), "client-1", 600, 427)
	assert.NoError(t, err)
}

func TestPostgresRepo_ConsumeClientCredits_AlreadySettled(t *testing.T) {
	repo, mock, teardown := newMockRepo(t)
	defer teardown()

	// A second settlement finds the reservation already released.
	mock.ExpectExec(consumeQuery).
		WithArgs(int64(600), int64(427), AnyTime{}, "client-1", int64(600)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.ConsumeClientCredits(context.Background(), "client-1", 600, 427)
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)
}

func TestPostgresRepo_RefundClientCredits_Shortfall(t *testing.T) {
	repo, mock, teardown := newMockRepo(t)
	defer teardown()

	mock.ExpectExec(refundQuery).
		WithArgs(int64(173), AnyTime{}, "client-1", int64(173)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.RefundClientCredits(context.Background(), "client-1", 173)
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)
}

func TestPostgresRepo_RefundClientCredits_Success(t *testing.T) {
	repo, mock, teardown := newMockRepo(t)
	defer teardown()

	mock.ExpectExec(refundQuery).
		WithArgs(int64(173), AnyTime{}, "client-1", int64(173)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.RefundClientCredits(context.Background(), "client-1", 173)
	assert.NoError(t, err)
}

func TestPostgresRepo_RefundClientCredits_ZeroIsNoop(t *testing.T) {
	repo, _, teardown := newMockRepo(t)
	defer teardown()

	err := repo.RefundClientCredits(context.Background(), "client-1", 0)
	assert.NoError(t, err)
}

package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/RegistryAccord/registryaccord-phigital-go/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (pgxmock.PgxPoolIface, Store) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return mock, NewPostgresFromPool(mock)
}

func TestPostgres_GetQRRecord(t *testing.T) {
	mock, s := newMockStore(t)

	mock.ExpectQuery("SELECT verification_hash, token_id").
		WithArgs("h1").
		WillReturnRows(pgxmock.NewRows([]string{"verification_hash", "token_id", "contract_address", "network_id", "created_at", "metadata"}).
			AddRow("h1", int64(7), "0xabc", int64(1), created, []byte(`{"name":"Asset"}`)))

	rec, err := s.GetQRRecord(context.Background(), "h1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), rec.TokenID)
	assert.Equal(t, "Asset", rec.Metadata.Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetQRRecordNotFound(t *testing.T) {
	mock, s := newMockStore(t)

	mock.ExpectQuery("SELECT verification_hash, token_id").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetQRRecord(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_PutTagIsTransactional(t *testing.T) {
	mock, s := newMockStore(t)
	rec := tagRecord("nfc-1", 7)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO nfc_tags").
		WithArgs("nfc-1", int64(7), "0xabc", int64(1), "h-nfc-1", created, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO nfc_tag_keys").
		WithArgs("nfc-1", "key-nfc-1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, s.PutTag(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_PutTagRollsBackOnKeyFailure(t *testing.T) {
	mock, s := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO nfc_tags").
		WithArgs("nfc-1", int64(7), "0xabc", int64(1), "h-nfc-1", created, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO nfc_tag_keys").
		WithArgs("nfc-1", "key-nfc-1").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := s.PutTag(context.Background(), tagRecord("nfc-1", 7))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "put tag key")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_DeleteTag(t *testing.T) {
	mock, s := newMockStore(t)

	mock.ExpectExec("DELETE FROM nfc_tags").
		WithArgs("nfc-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("DELETE FROM nfc_tags").
		WithArgs("nfc-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	existed, err := s.DeleteTag(context.Background(), "nfc-1")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = s.DeleteTag(context.Background(), "nfc-1")
	require.NoError(t, err)
	assert.False(t, existed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpdateTagMetadataNotFound(t *testing.T) {
	mock, s := newMockStore(t)

	mock.ExpectExec("UPDATE nfc_tags SET metadata").
		WithArgs(pgxmock.AnyArg(), "nfc-x").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateTagMetadata(context.Background(), "nfc-x", &model.Metadata{Name: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_HasQRRecordForToken(t *testing.T) {
	mock, s := newMockStore(t)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := s.HasQRRecordForToken(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_AppendVerificationConflict(t *testing.T) {
	mock, s := newMockStore(t)
	res := model.PhysicalVerificationResult{ID: "dup", VerificationMethod: model.MethodNone, Timestamp: created}

	mock.ExpectExec("INSERT INTO verification_history").
		WithArgs("dup", pgxmock.AnyArg(), false, "none", pgxmock.AnyArg(), created).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := s.AppendVerification(context.Background(), res)
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ListVerificationsForAsset(t *testing.T) {
	mock, s := newMockStore(t)

	mock.ExpectQuery("SELECT result FROM verification_history WHERE token_id").
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"result"}).
			AddRow([]byte(`{"id":"a","verified":true,"verificationMethod":"nfc","tokenId":7,"securityLevel":"high","confidence":0.85,"details":{},"warnings":[],"timestamp":"2024-03-01T12:00:00Z"}`)))

	list, err := s.ListVerificationsForAsset(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, model.MethodNFC, list[0].VerificationMethod)
	assert.Equal(t, 0.85, list[0].Confidence)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CountTags(t *testing.T) {
	mock, s := newMockStore(t)

	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(3)))

	n, err := s.CountTags(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

package postgres

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	pg "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"metalink/internal/app/apperr"
	"metalink/internal/app/model"
	"metalink/internal/app/storage"
)

var columns = []string{"id", "sender_id", "receiver_id", "amount", "currency", "status", "created_at", "transaction_hash", "metadata"}

func newRepo(t *testing.T) (*TransactionRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	r, err := NewTransactionRepository(db)
	require.NoError(t, err)
	return r, mock
}

func TestBuildWhere(t *testing.T) {
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	where, args := buildWhere(storage.TransactionQuery{
		OwnerID:  "A",
		Status:   model.StatusCompleted,
		Currency: model.USD,
		Since:    &since,
	})

	assert.Equal(t, " WHERE (sender_id=$1 OR receiver_id=$1) AND status=$2 AND currency=$3 AND created_at>=$4", where)
	assert.Equal(t, []interface{}{"A", "completed", "USD", since}, args)

	where, args = buildWhere(storage.TransactionQuery{OwnerID: "A", TransactionHash: "0xabc"})
	assert.Equal(t, " WHERE (sender_id=$1 OR receiver_id=$1) AND transaction_hash=$2", where)
	assert.Equal(t, []interface{}{"A", "0xabc"}, args)

	where, args = buildWhere(storage.TransactionQuery{})
	assert.Empty(t, where)
	assert.Nil(t, args)
}

func TestTransactionRepository_Insert(t *testing.T) {
	r, mock := newRepo(t)
	m := &model.Transaction{
		ID:         uuid.New(),
		SenderID:   "A",
		ReceiverID: "B",
		Amount:     decimal.NewFromInt(100),
		Currency:   model.USD,
		Status:     model.StatusPending,
		Timestamp:  time.Now().UTC(),
		Metadata:   &model.Metadata{Category: "rent", Tags: []string{"home"}},
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO transactions")).
		WithArgs(m.ID, "A", "B", m.Amount, model.USD, model.StatusPending, m.Timestamp, "", `{"category":"rent","tags":["home"]}`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	id, err := r.Insert(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, m.ID, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepository_InsertConflict(t *testing.T) {
	r, mock := newRepo(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO transactions")).
		WillReturnError(&pg.Error{Code: "23505"})

	_, err := r.Insert(context.Background(), &model.Transaction{ID: uuid.New()})
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestTransactionRepository_FindMany(t *testing.T) {
	r, mock := newRepo(t)
	id := uuid.New()
	ts := time.Date(2024, 4, 10, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(
		"FROM transactions WHERE (sender_id=$1 OR receiver_id=$1) AND status=$2 ORDER BY created_at DESC, id ASC LIMIT $3 OFFSET $4")).
		WithArgs("A", "completed", 10, 20).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(id.String(), "A", "B", "100.5", "USD", "completed", ts, "0xabc", []byte(`{"description":"rent"}`)))

	res, err := r.FindMany(context.Background(), storage.TransactionQuery{OwnerID: "A", Status: model.StatusCompleted}, storage.SortNewestFirst, 20, 10)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, id, res[0].ID)
	assert.True(t, decimal.RequireFromString("100.5").Equal(res[0].Amount))
	assert.Equal(t, "0xabc", res[0].TransactionHash)
	require.NotNil(t, res[0].Metadata)
	assert.Equal(t, "rent", res[0].Metadata.Description)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepository_FindManyOldestFirst(t *testing.T) {
	r, mock := newRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM transactions ORDER BY created_at ASC, id ASC")).
		WillReturnRows(sqlmock.NewRows(columns))

	res, err := r.FindMany(context.Background(), storage.TransactionQuery{}, storage.SortOldestFirst, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, res)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepository_Count(t *testing.T) {
	r, mock := newRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT count(*) FROM transactions WHERE (sender_id=$1 OR receiver_id=$1) AND receiver_id=$2")).
		WithArgs("A", "A").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	n, err := r.Count(context.Background(), storage.TransactionQuery{OwnerID: "A", ReceiverID: "A"})
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestTransactionRepository_UpdateByID(t *testing.T) {
	r, mock := newRepo(t)
	id := uuid.New()
	ts := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE id=$3 AND status=$4")).
		WithArgs(model.StatusCompleted, "0xabc", id, model.StatusPending).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(id.String(), "A", "B", "1", "USD", "completed", ts, "0xabc", nil))

	m, err := r.UpdateByID(context.Background(), id, storage.TransactionPatch{
		ExpectStatus:    model.StatusPending,
		Status:          model.StatusCompleted,
		TransactionHash: "0xabc",
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, m.Status)
	assert.Nil(t, m.Metadata)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE id=$3 AND status=$4")).
		WillReturnError(sql.ErrNoRows)

	_, err = r.UpdateByID(context.Background(), id, storage.TransactionPatch{
		ExpectStatus: model.StatusPending,
		Status:       model.StatusFailed,
	})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestTransactionRepository_ReadNotFound(t *testing.T) {
	r, mock := newRepo(t)
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE id=$1")).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(columns))

	_, err := r.Read(context.Background(), id)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

package calls

import (
	"context"
	"database/sql/driver"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onboarding-calls/internal/riders"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresStore(sqlx.NewDb(db, "postgres")), mock
}

var riderCols = []string{
	"id", "external_id", "name", "phone", "city", "signup_date", "flow_type", "documents_uploaded",
	"license_country", "residency_status", "document_details", "last_contact_at", "last_contact_status",
	"urgent_flag", "legal_issue_flag", "human_requested_flag", "created_at", "updated_at",
}

var callCols = []string{
	"id", "rider_id", "initiated_by", "run_id", "status", "contact_status", "contacted_at",
	"transcript", "summary", "sentiment", "attempts", "urgent_flag", "legal_issue_flag", "human_requested_flag",
	"metadata", "error_message", "created_at", "updated_at", "completed_at",
}

func riderRow(id string, ext int64, now time.Time) []driver.Value {
	return []driver.Value{
		id, ext, "Ana", "+34600111222", nil, nil, nil, "PARTIAL",
		nil, nil, []byte(`{"dni":true}`), nil, nil,
		true, false, false, now, now,
	}
}

func callRow(id, riderID string, now time.Time) []driver.Value {
	return []driver.Value{
		id, riderID, nil, "run_1", "RUNNING", nil, nil,
		nil, "ok", nil, int64(1), false, false, false,
		[]byte(`{"source":"trigger"}`), nil, now, now, nil,
	}
}

func TestPgTx_LockRiderByExternalID(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM riders WHERE external_id = \$1 FOR UPDATE`).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows(riderCols).AddRow(riderRow("r1", 42, now)...))
	mock.ExpectCommit()

	var got riders.Rider
	err := store.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
		var err error
		got, err = tx.LockRiderByExternalID(ctx, 42)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "r1", got.ID)
	require.NotNil(t, got.ExternalID)
	assert.Equal(t, int64(42), *got.ExternalID)
	require.NotNil(t, got.DocumentsUploaded)
	assert.Equal(t, riders.DocumentsPartial, *got.DocumentsUploaded)
	assert.Equal(t, true, got.DocumentDetails["dni"])
	assert.True(t, got.UrgentFlag)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgTx_NoRowsMapsToNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM calls WHERE run_id = \$1`).
		WithArgs("run_x").
		WillReturnRows(sqlmock.NewRows(callCols))
	mock.ExpectRollback()

	err := store.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
		_, err := tx.FindCallByRunID(ctx, "run_x")
		return err
	})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgTx_FindCallScansFields(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM calls WHERE id = \$1 FOR UPDATE`).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows(callCols).AddRow(callRow("c1", "r1", now)...))
	mock.ExpectCommit()

	var got Call
	err := store.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
		var err error
		got, err = tx.LockCall(ctx, "c1")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, CallStatusRunning, got.Status)
	require.NotNil(t, got.RunID)
	assert.Equal(t, "run_1", *got.RunID)
	require.NotNil(t, got.Summary)
	assert.Equal(t, "ok", *got.Summary)
	assert.Nil(t, got.CompletedAt)
	assert.Equal(t, SourceTrigger, got.Metadata[metaSource])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgTx_UpdateCallZeroRowsIsNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`run_id = COALESCE(run_id, $1)`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.UpdateCall(ctx, Call{ID: "missing", Status: CallStatusRunning})
	})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgTx_InsertCallRollsBackWithRider(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO riders`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO calls`).WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := store.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
		if err := tx.InsertRider(ctx, riders.Rider{ID: "r1", Name: "Ana", Phone: "+34600111222", CreatedAt: now, UpdatedAt: now}); err != nil {
			return err
		}
		return tx.InsertCall(ctx, Call{ID: "c1", RiderID: "r1", Status: CallStatusPending, CreatedAt: now, UpdatedAt: now})
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListCalls_FiltersAndPaging(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	status := CallStatusRunning

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM calls c JOIN riders r ON r.id = c.rider_id WHERE (r.name ILIKE $1 OR r.phone ILIKE $1 OR c.run_id ILIKE $1) AND c.status = $2`)).
		WithArgs(`%ana\_%`, "RUNNING").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(3)))

	cols := append([]string{}, callCols...)
	for _, c := range riderCols {
		cols = append(cols, "rider."+c)
	}
	row := append(callRow("c1", "r1", now), riderRow("r1", 42, now)...)
	mock.ExpectQuery(regexp.QuoteMeta(`ORDER BY c.created_at DESC, c.id DESC
LIMIT $3 OFFSET $4`)).
		WithArgs(`%ana\_%`, "RUNNING", 2, 2).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(row...))

	page, err := store.ListCalls(context.Background(), CallFilter{Search: " ana_ ", Status: &status, Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 2, page.Page)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "c1", page.Items[0].ID)
	assert.Equal(t, "Ana", page.Items[0].Rider.Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPendingRiders_DefaultLimit(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`ORDER BY urgent_flag DESC, updated_at DESC, id DESC`)).
		WithArgs(25, 0).
		WillReturnRows(sqlmock.NewRows(riderCols).AddRow(riderRow("r1", 7, now)...))

	out, err := store.PendingRiders(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "r1", out[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCallFilter_Normalize(t *testing.T) {
	f := CallFilter{Page: 0, PageSize: 1000}.Normalize()
	assert.Equal(t, 1, f.Page)
	assert.Equal(t, 200, f.PageSize)
	assert.Equal(t, 0, f.Offset())

	f = CallFilter{Page: 3}.Normalize()
	assert.Equal(t, 25, f.PageSize)
	assert.Equal(t, 50, f.Offset())
}

package calls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"onboarding-calls/internal/riders"
	"onboarding-calls/pkg/utils"
)

// NOTE: This repository assumes the tables from migrations/ exist:
// - riders (UNIQUE external_id)
// - calls (UNIQUE run_id, FK rider_id ON DELETE CASCADE)

const riderColumns = `id, external_id, name, phone, city, signup_date, flow_type, documents_uploaded,
license_country, residency_status, document_details, last_contact_at, last_contact_status,
urgent_flag, legal_issue_flag, human_requested_flag, created_at, updated_at`

const callColumns = `id, rider_id, initiated_by, run_id, status, contact_status, contacted_at,
transcript, summary, sentiment, attempts, urgent_flag, legal_issue_flag, human_requested_flag,
metadata, error_message, created_at, updated_at, completed_at`

// callWithRiderColumns selects c.* and r.* aliased for sqlx nested scanning into CallWithRider.
const callWithRiderColumns = `c.id, c.rider_id, c.initiated_by, c.run_id, c.status, c.contact_status,
c.contacted_at, c.transcript, c.summary, c.sentiment, c.attempts, c.urgent_flag, c.legal_issue_flag,
c.human_requested_flag, c.metadata, c.error_message, c.created_at, c.updated_at, c.completed_at,
r.id AS "rider.id", r.external_id AS "rider.external_id", r.name AS "rider.name",
r.phone AS "rider.phone", r.city AS "rider.city", r.signup_date AS "rider.signup_date",
r.flow_type AS "rider.flow_type", r.documents_uploaded AS "rider.documents_uploaded",
r.license_country AS "rider.license_country", r.residency_status AS "rider.residency_status",
r.document_details AS "rider.document_details", r.last_contact_at AS "rider.last_contact_at",
r.last_contact_status AS "rider.last_contact_status", r.urgent_flag AS "rider.urgent_flag",
r.legal_issue_flag AS "rider.legal_issue_flag", r.human_requested_flag AS "rider.human_requested_flag",
r.created_at AS "rider.created_at", r.updated_at AS "rider.updated_at"`

// PostgresStore is the Store backed by Postgres through sqlx.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sqlx.Tx) error {
		return fn(ctx, &pgTx{tx: tx})
	})
}

func (s *PostgresStore) GetCall(ctx context.Context, id string) (CallWithRider, error) {
	q := `SELECT ` + callWithRiderColumns + `
FROM calls c
JOIN riders r ON r.id = c.rider_id
WHERE c.id = $1`
	var out CallWithRider
	if err := s.db.GetContext(ctx, &out, q, id); err != nil {
		return CallWithRider{}, notFound(err)
	}
	return out, nil
}

func (s *PostgresStore) ListCalls(ctx context.Context, f CallFilter) (CallPage, error) {
	f = f.Normalize()

	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if q := strings.TrimSpace(f.Search); q != "" {
		p := arg("%" + escapeLike(q) + "%")
		where = append(where, fmt.Sprintf("(r.name ILIKE %[1]s OR r.phone ILIKE %[1]s OR c.run_id ILIKE %[1]s)", p))
	}
	if f.Status != nil {
		where = append(where, "c.status = "+arg(string(*f.Status)))
	}
	if f.ContactStatus != nil {
		where = append(where, "c.contact_status = "+arg(string(*f.ContactStatus)))
	}
	cond := ""
	if len(where) > 0 {
		cond = "WHERE " + strings.Join(where, " AND ")
	}

	page := CallPage{Items: []CallWithRider{}, Page: f.Page, PageSize: f.PageSize}

	countQ := `SELECT COUNT(*) FROM calls c JOIN riders r ON r.id = c.rider_id ` + cond
	if err := s.db.GetContext(ctx, &page.Total, countQ, args...); err != nil {
		return CallPage{}, fmt.Errorf("count calls: %w", err)
	}

	limit := arg(f.PageSize)
	offset := arg(f.Offset())
	listQ := `SELECT ` + callWithRiderColumns + `
FROM calls c
JOIN riders r ON r.id = c.rider_id
` + cond + `
ORDER BY c.created_at DESC, c.id DESC
LIMIT ` + limit + ` OFFSET ` + offset
	if err := s.db.SelectContext(ctx, &page.Items, listQ, args...); err != nil {
		return CallPage{}, fmt.Errorf("list calls: %w", err)
	}
	return page, nil
}

func (s *PostgresStore) PendingRiders(ctx context.Context, limit, offset int) ([]riders.Rider, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	q := `SELECT ` + riderColumns + `
FROM riders
WHERE last_contact_status IS NULL OR last_contact_status = 'PENDING'
ORDER BY urgent_flag DESC, updated_at DESC, id DESC
LIMIT $1 OFFSET $2`
	out := []riders.Rider{}
	if err := s.db.SelectContext(ctx, &out, q, limit, offset); err != nil {
		return nil, fmt.Errorf("pending riders: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) CountPendingRiders(ctx context.Context) (int, error) {
	const q = `SELECT COUNT(*) FROM riders WHERE last_contact_status IS NULL OR last_contact_status = 'PENDING'`
	var n int
	if err := s.db.GetContext(ctx, &n, q); err != nil {
		return 0, fmt.Errorf("count pending riders: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) CallsBetween(ctx context.Context, from, to time.Time) ([]Call, error) {
	q := `SELECT ` + callColumns + `
FROM calls
WHERE created_at >= $1 AND created_at < $2
ORDER BY created_at DESC, id DESC`
	out := []Call{}
	if err := s.db.SelectContext(ctx, &out, q, from, to); err != nil {
		return nil, fmt.Errorf("calls between: %w", err)
	}
	return out, nil
}

type pgTx struct {
	tx *sqlx.Tx
}

func (t *pgTx) getCall(ctx context.Context, q string, args ...any) (Call, error) {
	var c Call
	if err := t.tx.GetContext(ctx, &c, q, args...); err != nil {
		return Call{}, notFound(err)
	}
	return c, nil
}

func (t *pgTx) getRider(ctx context.Context, q string, args ...any) (riders.Rider, error) {
	var r riders.Rider
	if err := t.tx.GetContext(ctx, &r, q, args...); err != nil {
		return riders.Rider{}, notFound(err)
	}
	return r, nil
}

func (t *pgTx) FindCallByID(ctx context.Context, id string) (Call, error) {
	return t.getCall(ctx, `SELECT `+callColumns+` FROM calls WHERE id = $1`, id)
}

func (t *pgTx) FindCallByRunID(ctx context.Context, runID string) (Call, error) {
	return t.getCall(ctx, `SELECT `+callColumns+` FROM calls WHERE run_id = $1`, runID)
}

func (t *pgTx) LockCall(ctx context.Context, id string) (Call, error) {
	return t.getCall(ctx, `SELECT `+callColumns+` FROM calls WHERE id = $1 FOR UPDATE`, id)
}

func (t *pgTx) LockRider(ctx context.Context, id string) (riders.Rider, error) {
	return t.getRider(ctx, `SELECT `+riderColumns+` FROM riders WHERE id = $1 FOR UPDATE`, id)
}

func (t *pgTx) LockRiderByExternalID(ctx context.Context, externalID int64) (riders.Rider, error) {
	return t.getRider(ctx, `SELECT `+riderColumns+` FROM riders WHERE external_id = $1 FOR UPDATE`, externalID)
}

func (t *pgTx) FindRiderByIdentity(ctx context.Context, id riders.Identity) (riders.Rider, error) {
	q := `SELECT ` + riderColumns + `
FROM riders
WHERE lower(btrim(name)) = lower(btrim($1))
  AND phone = $2
  AND lower(btrim(coalesce(city, ''))) = lower(btrim(coalesce($3, '')))
  AND (city IS NULL) = ($3::text IS NULL)
ORDER BY updated_at DESC, id DESC
LIMIT 1
FOR UPDATE`
	return t.getRider(ctx, q, id.Name, id.Phone, id.City)
}

func (t *pgTx) LatestOpenCall(ctx context.Context, riderID string) (Call, error) {
	q := `SELECT ` + callColumns + `
FROM calls
WHERE rider_id = $1
  AND (status IN ('PENDING', 'RUNNING') OR contact_status IS NULL OR contact_status = 'PENDING')
ORDER BY created_at DESC, id DESC
LIMIT 1
FOR UPDATE`
	return t.getCall(ctx, q, riderID)
}

func (t *pgTx) LatestCall(ctx context.Context, riderID string) (Call, error) {
	q := `SELECT ` + callColumns + `
FROM calls
WHERE rider_id = $1
ORDER BY created_at DESC, id DESC
LIMIT 1
FOR UPDATE`
	return t.getCall(ctx, q, riderID)
}

func (t *pgTx) InsertRider(ctx context.Context, r riders.Rider) error {
	const q = `
INSERT INTO riders (
	id, external_id, name, phone, city, signup_date, flow_type, documents_uploaded,
	license_country, residency_status, document_details, last_contact_at, last_contact_status,
	urgent_flag, legal_issue_flag, human_requested_flag, created_at, updated_at
) VALUES (
	:id, :external_id, :name, :phone, :city, :signup_date, :flow_type, :documents_uploaded,
	:license_country, :residency_status, :document_details, :last_contact_at, :last_contact_status,
	:urgent_flag, :legal_issue_flag, :human_requested_flag, :created_at, :updated_at
)`
	if _, err := t.tx.NamedExecContext(ctx, q, r); err != nil {
		return fmt.Errorf("insert rider: %w", err)
	}
	return nil
}

// UpdateRider writes every mutable rider column. id and created_at are immutable.
func (t *pgTx) UpdateRider(ctx context.Context, r riders.Rider) error {
	const q = `
UPDATE riders SET
	external_id = :external_id, name = :name, phone = :phone, city = :city,
	signup_date = :signup_date, flow_type = :flow_type, documents_uploaded = :documents_uploaded,
	license_country = :license_country, residency_status = :residency_status,
	document_details = :document_details, last_contact_at = :last_contact_at,
	last_contact_status = :last_contact_status, urgent_flag = :urgent_flag,
	legal_issue_flag = :legal_issue_flag, human_requested_flag = :human_requested_flag,
	updated_at = :updated_at
WHERE id = :id`
	return execOne(t.tx.NamedExecContext(ctx, q, r))
}

func (t *pgTx) InsertCall(ctx context.Context, c Call) error {
	const q = `
INSERT INTO calls (
	id, rider_id, initiated_by, run_id, status, contact_status, contacted_at,
	transcript, summary, sentiment, attempts, urgent_flag, legal_issue_flag, human_requested_flag,
	metadata, error_message, created_at, updated_at, completed_at
) VALUES (
	:id, :rider_id, :initiated_by, :run_id, :status, :contact_status, :contacted_at,
	:transcript, :summary, :sentiment, :attempts, :urgent_flag, :legal_issue_flag, :human_requested_flag,
	:metadata, :error_message, :created_at, :updated_at, :completed_at
)`
	if _, err := t.tx.NamedExecContext(ctx, q, c); err != nil {
		return fmt.Errorf("insert call: %w", err)
	}
	return nil
}

// UpdateCall never clears a stored run_id or completed_at; COALESCE keeps the
// existing value even if a caller passes nil.
func (t *pgTx) UpdateCall(ctx context.Context, c Call) error {
	const q = `
UPDATE calls SET
	run_id = COALESCE(run_id, :run_id), status = :status, contact_status = :contact_status,
	contacted_at = :contacted_at, transcript = :transcript, summary = :summary,
	sentiment = :sentiment, attempts = :attempts, urgent_flag = :urgent_flag,
	legal_issue_flag = :legal_issue_flag, human_requested_flag = :human_requested_flag,
	metadata = :metadata, error_message = :error_message, updated_at = :updated_at,
	completed_at = COALESCE(completed_at, :completed_at)
WHERE id = :id`
	return execOne(t.tx.NamedExecContext(ctx, q, c))
}

func execOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-authz/internal/platform/db"
	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

// PgStore keeps governance envelopes in PostgreSQL. The business payload
// stays with its owning service.
type PgStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewStore constructs a PgStore.
func NewStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool, now: time.Now}
}

const uniqueViolation = "23505"

const recordColumns = `id, tenant_id, resource, resource_id, state, created_by, approved_by, created_at, updated_at`

// Create inserts a new envelope.
func (s *PgStore) Create(ctx context.Context, rec Record) (Record, error) {
	id, err := uuid.Parse(rec.ID)
	if err != nil {
		return Record{}, shared.ValidationError{Field: "id", Reason: "must be a uuid"}
	}
	now := s.now().UTC()
	approvedBy := ""
	if rec.State == StateApproved {
		approvedBy = rec.CreatedBy
	}
	row := db.Conn(ctx, s.pool).QueryRow(ctx, `INSERT INTO governed_records (`+recordColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)
RETURNING `+recordColumns, id, rec.TenantID, rec.Resource, rec.ResourceID, string(rec.State), rec.CreatedBy, approvedBy, now)
	out, err := scanRecord(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Record{}, fmt.Errorf("workflow: create %s: %w", rec.ID, shared.ErrVersionConflict)
		}
		return Record{}, shared.StorageError("workflow: create", err)
	}
	return out, nil
}

// Get loads an envelope of tenantID.
func (s *PgStore) Get(ctx context.Context, tenantID, id string) (Record, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return Record{}, shared.ErrNotFound
	}
	row := db.Conn(ctx, s.pool).QueryRow(ctx, `SELECT `+recordColumns+` FROM governed_records WHERE tenant_id=$1 AND id=$2`, tenantID, uid)
	out, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, shared.ErrNotFound
		}
		return Record{}, shared.StorageError("workflow: get", err)
	}
	return out, nil
}

// Transition applies from -> to as a compare-and-set on the stored state.
func (s *PgStore) Transition(ctx context.Context, tenantID, id string, from, to State, actorID string) (Record, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return Record{}, shared.ErrNotFound
	}
	row := db.Conn(ctx, s.pool).QueryRow(ctx, `UPDATE governed_records
SET state=$4,
    approved_by=CASE WHEN $4='approved' THEN $5 ELSE approved_by END,
    updated_at=$6
WHERE tenant_id=$1 AND id=$2 AND state=$3
RETURNING `+recordColumns, tenantID, uid, string(from), string(to), actorID, s.now().UTC())
	out, err := scanRecord(row)
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Record{}, shared.StorageError("workflow: transition", err)
	}
	if _, getErr := s.Get(ctx, tenantID, id); getErr != nil {
		return Record{}, getErr
	}
	return Record{}, fmt.Errorf("workflow: record %s left %s concurrently: %w", id, from, shared.ErrInvalidTransition)
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec   Record
		id    uuid.UUID
		state string
	)
	if err := row.Scan(&id, &rec.TenantID, &rec.Resource, &rec.ResourceID, &state, &rec.CreatedBy, &rec.ApprovedBy, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return Record{}, err
	}
	rec.ID = id.String()
	rec.State = State(state)
	return rec, nil
}

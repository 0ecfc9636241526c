package audit

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-authz/internal/platform/db"
	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

// PgSink stores audit entries in PostgreSQL. The table rejects UPDATE and
// DELETE at the database level.
type PgSink struct {
	pool *pgxpool.Pool
}

// NewPgSink constructs a PgSink.
func NewPgSink(pool *pgxpool.Pool) *PgSink {
	return &PgSink{pool: pool}
}

// Insert writes a single entry in one statement.
func (s *PgSink) Insert(ctx context.Context, e Entry) error {
	id, err := uuid.Parse(e.ID)
	if err != nil {
		return err
	}
	changes, err := marshalJSON(e.Changes)
	if err != nil {
		return err
	}
	metadata, err := marshalJSON(e.Metadata)
	if err != nil {
		return err
	}
	_, err = db.Conn(ctx, s.pool).Exec(ctx, `INSERT INTO audit_log_entries
(id, tenant_id, user_id, role, action, resource, resource_id, changes, metadata, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		id, e.TenantID, e.UserID, e.Role, e.Action, e.Resource, e.ResourceID, changes, metadata, e.Timestamp)
	return err
}

const auditFilter = `tenant_id = $1
  AND ($2::text IS NULL OR user_id = $2)
  AND ($3::text IS NULL OR resource = $3)
  AND ($4::text IS NULL OR action = $4)
  AND ($5::timestamptz IS NULL OR (occurred_at, id) < ($5::timestamptz, $6::uuid))`

// Query returns one page, most recent first, plus the total match count. The
// count and the page are read from one snapshot.
func (s *PgSink) Query(ctx context.Context, tenantID string, filters Filters, limit, offset int) ([]Entry, int, error) {
	userID := optionalText(filters.UserID)
	resource := optionalText(filters.Resource)
	action := optionalText(filters.Action)
	beforeAt, beforeID, err := cursorArgs(filters.Before)
	if err != nil {
		return nil, 0, err
	}

	var (
		total   int
		entries []Entry
	)
	err = db.WithReadTx(ctx, s.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM audit_log_entries WHERE `+auditFilter,
			tenantID, userID, resource, action, beforeAt, beforeID).Scan(&total); err != nil {
			return err
		}
		if total == 0 {
			return nil
		}

		rows, err := tx.Query(ctx, `SELECT id::text, tenant_id, user_id, role, action, resource, resource_id, changes, metadata, occurred_at
FROM audit_log_entries WHERE `+auditFilter+`
ORDER BY occurred_at DESC, id DESC
LIMIT $7 OFFSET $8`, tenantID, userID, resource, action, beforeAt, beforeID, int32(limit), int32(offset))
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			e, err := scanEntry(rows)
			if err != nil {
				return err
			}
			entries = append(entries, e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		e        Entry
		changes  []byte
		metadata []byte
		at       pgtype.Timestamptz
	)
	if err := row.Scan(&e.ID, &e.TenantID, &e.UserID, &e.Role, &e.Action, &e.Resource, &e.ResourceID, &changes, &metadata, &at); err != nil {
		return Entry{}, err
	}
	var err error
	if e.Changes, err = unmarshalJSON(changes); err != nil {
		return Entry{}, err
	}
	if e.Metadata, err = unmarshalJSON(metadata); err != nil {
		return Entry{}, err
	}
	if at.Valid {
		e.Timestamp = at.Time.UTC()
	}
	return e, nil
}

func cursorArgs(c *Cursor) (pgtype.Timestamptz, pgtype.UUID, error) {
	if c == nil {
		return pgtype.Timestamptz{}, pgtype.UUID{}, nil
	}
	id, err := uuid.Parse(c.ID)
	if err != nil {
		return pgtype.Timestamptz{}, pgtype.UUID{}, shared.ValidationError{Field: "cursor", Reason: "must reference an entry id"}
	}
	return pgtype.Timestamptz{Time: c.At, Valid: true}, pgtype.UUID{Bytes: id, Valid: true}, nil
}

func optionalText(value string) pgtype.Text {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: trimmed, Valid: true}
}

func marshalJSON(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func unmarshalJSON(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}

package overrides

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-authz/internal/platform/db"
	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

// Repository persists overrides. Every method is scoped to one tenant.
type Repository interface {
	Get(ctx context.Context, tenantID, permission string) (PermissionOverride, error)
	List(ctx context.Context, tenantID string) ([]PermissionOverride, error)
	Insert(ctx context.Context, o PermissionOverride) (PermissionOverride, error)
	Update(ctx context.Context, o PermissionOverride, expectedVersion int64) (PermissionOverride, error)
}

// PgRepository implements Repository on PostgreSQL.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PgRepository.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const overrideColumns = `tenant_id, permission_name, roles_required, auto_approve_roles, active, version, created_at, updated_at`

// Get returns the override or shared.ErrNotFound.
func (r *PgRepository) Get(ctx context.Context, tenantID, permission string) (PermissionOverride, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+overrideColumns+`
FROM permission_overrides WHERE tenant_id=$1 AND permission_name=$2`, tenantID, permission)
	o, err := scanOverride(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PermissionOverride{}, shared.ErrNotFound
		}
		return PermissionOverride{}, shared.StorageError("overrides: get", err)
	}
	return o, nil
}

// List returns all overrides of a tenant ordered by permission name.
func (r *PgRepository) List(ctx context.Context, tenantID string) ([]PermissionOverride, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+overrideColumns+`
FROM permission_overrides WHERE tenant_id=$1 ORDER BY permission_name`, tenantID)
	if err != nil {
		return nil, shared.StorageError("overrides: list", err)
	}
	defer rows.Close()
	var out []PermissionOverride
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, shared.StorageError("overrides: list scan", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.StorageError("overrides: list", err)
	}
	return out, nil
}

// Insert creates the override at version 1. An existing row for the same
// (tenant, permission) yields shared.ErrVersionConflict.
func (r *PgRepository) Insert(ctx context.Context, o PermissionOverride) (PermissionOverride, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `INSERT INTO permission_overrides
(tenant_id, permission_name, roles_required, auto_approve_roles, active, version, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, 1, NOW(), NOW())
ON CONFLICT (tenant_id, permission_name) DO NOTHING
RETURNING `+overrideColumns,
		o.TenantID, o.PermissionName, roleStrings(o.RolesRequired), roleStrings(o.AutoApproveRoles), o.Active)
	created, err := scanOverride(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PermissionOverride{}, fmt.Errorf("overrides: insert %s: %w", o.PermissionName, shared.ErrVersionConflict)
		}
		return PermissionOverride{}, shared.StorageError("overrides: insert", err)
	}
	return created, nil
}

// Update replaces the override when its stored version equals expectedVersion.
func (r *PgRepository) Update(ctx context.Context, o PermissionOverride, expectedVersion int64) (PermissionOverride, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `UPDATE permission_overrides
SET roles_required=$3, auto_approve_roles=$4, active=$5, version=version+1, updated_at=NOW()
WHERE tenant_id=$1 AND permission_name=$2 AND version=$6
RETURNING `+overrideColumns,
		o.TenantID, o.PermissionName, roleStrings(o.RolesRequired), roleStrings(o.AutoApproveRoles), o.Active, expectedVersion)
	updated, err := scanOverride(row)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return PermissionOverride{}, shared.StorageError("overrides: update", err)
	}
	if _, getErr := r.Get(ctx, o.TenantID, o.PermissionName); getErr != nil {
		return PermissionOverride{}, getErr
	}
	return PermissionOverride{}, fmt.Errorf("overrides: update %s at version %d: %w", o.PermissionName, expectedVersion, shared.ErrVersionConflict)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOverride(row scanner) (PermissionOverride, error) {
	var (
		o        PermissionOverride
		required []string
		auto     []string
		created  time.Time
		updated  time.Time
	)
	if err := row.Scan(&o.TenantID, &o.PermissionName, &required, &auto, &o.Active, &o.Version, &created, &updated); err != nil {
		return PermissionOverride{}, err
	}
	o.RolesRequired = storedRoles(required)
	o.AutoApproveRoles = storedRoles(auto)
	o.CreatedAt = created.UTC()
	o.UpdatedAt = updated.UTC()
	return o, nil
}

// storedRoles drops values that are no longer part of the role enumeration so
// a stale row can never grant an unknown role.
func storedRoles(raw []string) []rbac.Role {
	roles := make([]rbac.Role, 0, len(raw))
	for _, r := range raw {
		role, err := rbac.ParseRole(r)
		if err != nil {
			continue
		}
		roles = append(roles, role)
	}
	return roles
}

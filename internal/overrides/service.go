package overrides

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-authz/internal/audit"
	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

// AuditAppender records mutating administration actions.
type AuditAppender interface {
	Append(ctx context.Context, rec audit.Record) (audit.Entry, error)
}

// Audit actions emitted by the administration surface.
const (
	ActionCreate     = "override.create"
	ActionUpdate     = "override.update"
	ActionDeactivate = "override.deactivate"
	auditResource    = "permission_override"
)

// Transactor runs fn so that the override write and its audit entry commit
// or roll back together.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Service implements the override administration surface.
type Service struct {
	repo     Repository
	cache    *Cache
	recorder AuditAppender
	tx       Transactor
	logger   *slog.Logger
	validate *validator.Validate
}

// NewService constructs Service.
func NewService(repo Repository, cache *Cache, recorder AuditAppender, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, recorder: recorder, logger: logger, validate: validator.New()}
}

// WithTransactor makes every override write and its audit entry one unit of
// work.
func (s *Service) WithTransactor(tx Transactor) *Service {
	s.tx = tx
	return s
}

// List returns every override of the actor's tenant, active or not.
func (s *Service) List(ctx context.Context, actor rbac.Principal) ([]PermissionOverride, error) {
	return s.repo.List(ctx, actor.TenantID)
}

// Get returns one override of the actor's tenant.
func (s *Service) Get(ctx context.Context, actor rbac.Principal, permission string) (PermissionOverride, error) {
	return s.repo.Get(ctx, actor.TenantID, rbac.NormalizePermission(permission))
}

// Upsert creates (ExpectedVersion 0) or updates an override for the actor's
// tenant. The write and its audit entry must both succeed for the call to
// succeed.
func (s *Service) Upsert(ctx context.Context, actor rbac.Principal, in UpsertInput) (PermissionOverride, error) {
	in.TenantID = actor.TenantID
	candidate, err := s.build(in)
	if err != nil {
		return PermissionOverride{}, err
	}

	var saved PermissionOverride
	err = s.atomically(ctx, func(ctx context.Context) error {
		var (
			before *PermissionOverride
			action string
			err    error
		)
		if in.ExpectedVersion == 0 {
			action = ActionCreate
			saved, err = s.repo.Insert(ctx, candidate)
		} else {
			current, getErr := s.repo.Get(ctx, candidate.TenantID, candidate.PermissionName)
			if getErr != nil {
				return getErr
			}
			before = &current
			action = ActionUpdate
			saved, err = s.repo.Update(ctx, candidate, in.ExpectedVersion)
		}
		if err != nil {
			return err
		}
		return s.audit(ctx, actor, action, before, saved)
	})
	if err != nil {
		return PermissionOverride{}, err
	}
	s.invalidate(ctx, saved)
	return saved, nil
}

// Deactivate marks an override inactive so resolution falls back to the static
// matrix. History is kept.
func (s *Service) Deactivate(ctx context.Context, actor rbac.Principal, permission string, expectedVersion int64) (PermissionOverride, error) {
	permission = rbac.NormalizePermission(permission)
	if permission == "" {
		return PermissionOverride{}, shared.ValidationError{Field: "permission_name", Reason: "is required"}
	}
	if expectedVersion <= 0 {
		return PermissionOverride{}, shared.ValidationError{Field: "version", Reason: "must be positive"}
	}
	var saved PermissionOverride
	err := s.atomically(ctx, func(ctx context.Context) error {
		current, err := s.repo.Get(ctx, actor.TenantID, permission)
		if err != nil {
			return err
		}
		next := current
		next.Active = false
		saved, err = s.repo.Update(ctx, next, expectedVersion)
		if err != nil {
			return err
		}
		return s.audit(ctx, actor, ActionDeactivate, &current, saved)
	})
	if err != nil {
		return PermissionOverride{}, err
	}
	s.invalidate(ctx, saved)
	return saved, nil
}

func (s *Service) atomically(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.tx == nil {
		return fn(ctx)
	}
	return s.tx.InTx(ctx, fn)
}

// invalidate must run after commit. Deleting earlier lets a concurrent miss
// cache the previous row again.
func (s *Service) invalidate(ctx context.Context, o PermissionOverride) {
	if err := s.cache.Invalidate(ctx, o.TenantID, o.PermissionName); err != nil {
		s.logger.Warn("override cache invalidate",
			slog.String("tenant_id", o.TenantID),
			slog.String("permission", o.PermissionName),
			slog.Any("error", err))
	}
}

func (s *Service) audit(ctx context.Context, actor rbac.Principal, action string, before *PermissionOverride, after PermissionOverride) error {
	if s.recorder == nil {
		return shared.StorageError("overrides: audit", errors.New("recorder not configured"))
	}
	_, err := s.recorder.Append(ctx, audit.Record{
		TenantID:   actor.TenantID,
		UserID:     actor.UserID,
		Role:       string(actor.Role),
		Action:     action,
		Resource:   auditResource,
		ResourceID: after.PermissionName,
		Changes:    changeMap(before, &after),
		Metadata:   map[string]any{"version": after.Version},
	})
	if err != nil {
		return fmt.Errorf("overrides: audit %s %s: %w", action, after.PermissionName, err)
	}
	return nil
}

func (s *Service) build(in UpsertInput) (PermissionOverride, error) {
	in.TenantID = strings.TrimSpace(in.TenantID)
	in.PermissionName = rbac.NormalizePermission(in.PermissionName)
	if err := s.validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return PermissionOverride{}, shared.ValidationError{Field: verrs[0].Field(), Reason: "failed " + verrs[0].Tag()}
		}
		return PermissionOverride{}, shared.ValidationError{Reason: err.Error()}
	}
	if strings.ContainsAny(in.PermissionName, " \t\n") {
		return PermissionOverride{}, shared.ValidationError{Field: "PermissionName", Reason: "must not contain whitespace"}
	}
	required, err := rbac.ParseRoles(in.RolesRequired)
	if err != nil {
		return PermissionOverride{}, err
	}
	auto, err := rbac.ParseRoles(in.AutoApproveRoles)
	if err != nil {
		return PermissionOverride{}, err
	}
	return PermissionOverride{
		TenantID:         in.TenantID,
		PermissionName:   in.PermissionName,
		RolesRequired:    required,
		AutoApproveRoles: auto,
		Active:           in.Active,
	}, nil
}

func changeMap(before, after *PermissionOverride) map[string]any {
	out := make(map[string]any, 2)
	if before != nil {
		out["before"] = snapshot(*before)
	}
	if after != nil {
		out["after"] = snapshot(*after)
	}
	return out
}

func snapshot(o PermissionOverride) map[string]any {
	return map[string]any{
		"roles_required":     roleStrings(o.RolesRequired),
		"auto_approve_roles": roleStrings(o.AutoApproveRoles),
		"active":             o.Active,
		"version":            o.Version,
	}
}

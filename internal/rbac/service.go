package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

// OverrideSource returns the active override for a tenant permission, if any.
type OverrideSource interface {
	ActiveOverride(ctx context.Context, tenantID, permission string) (Override, bool, error)
}

// DecisionObserver records resolution outcomes, e.g. as metrics.
type DecisionObserver interface {
	ObserveDecision(outcome string)
}

// Outcome labels a resolution result for observers.
func Outcome(decision Decision, err error) string {
	switch {
	case err != nil && errors.Is(err, shared.ErrPermissionDenied):
		return "denied"
	case err != nil:
		return "error"
	case !decision.Allowed:
		return "denied"
	case decision.RequiresApproval:
		return "approval_required"
	default:
		return "allowed"
	}
}

// Service resolves permissions against tenant overrides and the static matrix.
type Service struct {
	matrix    Matrix
	overrides OverrideSource
	logger    *slog.Logger
	observer  DecisionObserver
}

// NewService constructs a resolver. A nil source means no tenant has overrides.
func NewService(matrix Matrix, overrides OverrideSource, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{matrix: matrix, overrides: overrides, logger: logger}
}

// WithObserver reports every decision the service makes to o.
func (s *Service) WithObserver(o DecisionObserver) *Service {
	s.observer = o
	return s
}

// Resolve decides whether principal may perform permission. When the override
// source cannot be consulted the decision is a denial and the error wraps
// shared.ErrStorage.
func (s *Service) Resolve(ctx context.Context, principal Principal, permission string) (Decision, error) {
	decision, err := s.resolve(ctx, principal, permission)
	if s.observer != nil {
		s.observer.ObserveDecision(Outcome(decision, err))
	}
	return decision, err
}

func (s *Service) resolve(ctx context.Context, principal Principal, permission string) (Decision, error) {
	if principal.Role.IsSuper() {
		return Decision{Allowed: true, Reason: ReasonSuperRole}, nil
	}
	if principal.TenantID == "" {
		return Decision{Reason: ReasonNotGranted}, fmt.Errorf("rbac: resolve: %w: principal has no tenant", shared.ErrUnauthenticated)
	}
	permission = NormalizePermission(permission)
	if permission == "" {
		return Decision{Reason: ReasonNotGranted}, nil
	}

	if s.overrides != nil {
		override, found, err := s.overrides.ActiveOverride(ctx, principal.TenantID, permission)
		if err != nil {
			s.logger.Error("rbac resolve override lookup",
				slog.String("tenant_id", principal.TenantID),
				slog.String("permission", permission),
				slog.Any("error", err))
			if !errors.Is(err, shared.ErrStorage) {
				err = shared.StorageError("rbac: resolve", err)
			}
			return Decision{Reason: ReasonStorageUnavailable}, err
		}
		if found && override.Active {
			return evaluateOverride(override, principal.Role), nil
		}
	}

	allowed, reason := s.matrix.Grants(principal.Role, permission)
	return Decision{Allowed: allowed, Reason: reason}, nil
}

// Require resolves permission and converts a denial into shared.ErrPermissionDenied.
func (s *Service) Require(ctx context.Context, principal Principal, permission string) (Decision, error) {
	decision, err := s.Resolve(ctx, principal, permission)
	if err != nil {
		return decision, err
	}
	if !decision.Allowed {
		return decision, fmt.Errorf("rbac: %s: %w", NormalizePermission(permission), shared.ErrPermissionDenied)
	}
	return decision, nil
}

// Matrix exposes the static table backing the resolver.
func (s *Service) Matrix() Matrix {
	return s.matrix
}

// evaluateOverride applies the approval policy: a role listed in
// AutoApproveRoles may act without sign-off and is permitted even when absent
// from RolesRequired; a role only in RolesRequired may act pending approval.
func evaluateOverride(o Override, role Role) Decision {
	autoApprove := containsRole(o.AutoApproveRoles, role)
	listed := autoApprove || containsRole(o.RolesRequired, role)
	if !listed {
		return Decision{Reason: ReasonOverrideNotListed}
	}
	return Decision{Allowed: true, RequiresApproval: !autoApprove, Reason: ReasonOverride}
}

func containsRole(roles []Role, role Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

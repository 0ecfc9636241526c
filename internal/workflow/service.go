package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-authz/internal/audit"
	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

// Resolver decides permissions for a principal.
type Resolver interface {
	Resolve(ctx context.Context, principal rbac.Principal, permission string) (rbac.Decision, error)
}

// AuditAppender records successful transitions.
type AuditAppender interface {
	Append(ctx context.Context, rec audit.Record) (audit.Entry, error)
}

// Store persists governance envelopes. Implementations must scope every read
// and write to tenantID and apply Transition only when the stored state equals
// from, returning shared.ErrInvalidTransition otherwise.
type Store interface {
	Create(ctx context.Context, rec Record) (Record, error)
	Get(ctx context.Context, tenantID, id string) (Record, error)
	Transition(ctx context.Context, tenantID, id string, from, to State, actorID string) (Record, error)
}

// Transactor runs fn so that the store and audit writes it makes commit or
// roll back together.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Service drives governed records through their lifecycle.
type Service struct {
	resolver Resolver
	recorder AuditAppender
	store    Store
	tx       Transactor
	logger   *slog.Logger
}

// NewService constructs Service.
func NewService(resolver Resolver, recorder AuditAppender, store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{resolver: resolver, recorder: recorder, store: store, logger: logger}
}

// WithTransactor makes every state change and its audit entry one unit of
// work.
func (s *Service) WithTransactor(tx Transactor) *Service {
	s.tx = tx
	return s
}

// Create registers a record. Unless saved as draft it lands in
// pending_approval when the create decision requires approval and approved
// otherwise.
func (s *Service) Create(ctx context.Context, actor rbac.Principal, in CreateInput) (Record, rbac.Decision, error) {
	resource := rbac.NormalizePermission(in.Resource)
	if resource == "" || strings.Contains(resource, " ") {
		return Record{}, rbac.Decision{}, shared.ValidationError{Field: "resource", Reason: "is required"}
	}
	decision, err := s.require(ctx, actor, createPermission(resource))
	if err != nil {
		return Record{}, decision, err
	}

	state := StateDraft
	if !in.Draft {
		state = initialState(decision)
	}
	var rec Record
	err = s.atomically(ctx, func(ctx context.Context) error {
		created, err := s.store.Create(ctx, Record{
			ID:         uuid.NewString(),
			TenantID:   actor.TenantID,
			Resource:   resource,
			ResourceID: strings.TrimSpace(in.ResourceID),
			State:      state,
			CreatedBy:  actor.UserID,
		})
		if err != nil {
			return err
		}
		changes := map[string]any{"state": map[string]any{"to": string(created.State)}}
		if err := s.audit(ctx, actor, "record.create", created, changes, in.Metadata); err != nil {
			return err
		}
		rec = created
		return nil
	})
	if err != nil {
		return Record{}, decision, err
	}
	return rec, decision, nil
}

// Submit moves a draft forward using a fresh create decision.
func (s *Service) Submit(ctx context.Context, actor rbac.Principal, id string) (Record, error) {
	current, err := s.store.Get(ctx, actor.TenantID, id)
	if err != nil {
		return Record{}, err
	}
	if current.State != StateDraft {
		return Record{}, fmt.Errorf("workflow: submit from %s: %w", current.State, shared.ErrInvalidTransition)
	}
	decision, err := s.require(ctx, actor, createPermission(current.Resource))
	if err != nil {
		return Record{}, err
	}
	return s.transition(ctx, actor, current, initialState(decision), "record.submit")
}

// Approve moves a pending record to approved. The approver must independently
// resolve "<resource>.approve" without itself needing sign-off.
func (s *Service) Approve(ctx context.Context, actor rbac.Principal, id string) (Record, error) {
	current, err := s.store.Get(ctx, actor.TenantID, id)
	if err != nil {
		return Record{}, err
	}
	if current.State != StatePendingApproval {
		return Record{}, checkTransition(current.State, StateApproved)
	}
	decision, err := s.require(ctx, actor, approvePermission(current.Resource))
	if err != nil {
		return Record{}, err
	}
	if decision.RequiresApproval {
		return Record{}, fmt.Errorf("workflow: approving %s itself requires approval: %w", current.Resource, shared.ErrPermissionDenied)
	}
	return s.transition(ctx, actor, current, StateApproved, "record.approve")
}

// Reject returns a pending record to draft. It carries the same authority as
// Approve.
func (s *Service) Reject(ctx context.Context, actor rbac.Principal, id string) (Record, error) {
	current, err := s.store.Get(ctx, actor.TenantID, id)
	if err != nil {
		return Record{}, err
	}
	if current.State != StatePendingApproval {
		return Record{}, checkTransition(current.State, StateDraft)
	}
	decision, err := s.require(ctx, actor, approvePermission(current.Resource))
	if err != nil {
		return Record{}, err
	}
	if decision.RequiresApproval {
		return Record{}, fmt.Errorf("workflow: rejecting %s itself requires approval: %w", current.Resource, shared.ErrPermissionDenied)
	}
	return s.transition(ctx, actor, current, StateDraft, "record.reject")
}

// Archive retires a pending or approved record.
func (s *Service) Archive(ctx context.Context, actor rbac.Principal, id string) (Record, error) {
	current, err := s.store.Get(ctx, actor.TenantID, id)
	if err != nil {
		return Record{}, err
	}
	if _, err := s.require(ctx, actor, archivePermission(current.Resource)); err != nil {
		return Record{}, err
	}
	return s.transition(ctx, actor, current, StateArchived, "record.archive")
}

// Get returns a record of the actor's tenant.
func (s *Service) Get(ctx context.Context, actor rbac.Principal, id string) (Record, error) {
	return s.store.Get(ctx, actor.TenantID, id)
}

func initialState(d rbac.Decision) State {
	if d.RequiresApproval {
		return StatePendingApproval
	}
	return StateApproved
}

func (s *Service) require(ctx context.Context, actor rbac.Principal, permission string) (rbac.Decision, error) {
	decision, err := s.resolver.Resolve(ctx, actor, permission)
	if err != nil {
		return decision, err
	}
	if !decision.Allowed {
		return decision, fmt.Errorf("workflow: %s: %w", permission, shared.ErrPermissionDenied)
	}
	return decision, nil
}

func (s *Service) transition(ctx context.Context, actor rbac.Principal, current Record, to State, action string) (Record, error) {
	if err := checkTransition(current.State, to); err != nil {
		return Record{}, err
	}
	var updated Record
	err := s.atomically(ctx, func(ctx context.Context) error {
		next, err := s.store.Transition(ctx, actor.TenantID, current.ID, current.State, to, actor.UserID)
		if err != nil {
			return err
		}
		changes := map[string]any{"state": map[string]any{"from": string(current.State), "to": string(next.State)}}
		if err := s.audit(ctx, actor, action, next, changes, nil); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	return updated, nil
}

func (s *Service) atomically(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.tx == nil {
		return fn(ctx)
	}
	return s.tx.InTx(ctx, fn)
}

func (s *Service) audit(ctx context.Context, actor rbac.Principal, action string, rec Record, changes, metadata map[string]any) error {
	_, err := s.recorder.Append(ctx, audit.Record{
		TenantID:   actor.TenantID,
		UserID:     actor.UserID,
		Role:       string(actor.Role),
		Action:     action,
		Resource:   rec.Resource,
		ResourceID: rec.ID,
		Changes:    changes,
		Metadata:   metadata,
	})
	if err != nil {
		s.logger.Error("workflow audit append",
			slog.String("tenant_id", actor.TenantID),
			slog.String("record_id", rec.ID),
			slog.String("action", action),
			slog.Any("error", err))
		return fmt.Errorf("workflow: %s %s: %w", action, rec.ID, err)
	}
	return nil
}

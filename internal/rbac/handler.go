package rbac

import (
	"log/slog"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-authz/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

// Handler exposes resolution to external collaborators that enforce decisions.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers decision routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.authorize)
	r.Get("/matrix", h.matrix)
}

type authorizeRequest struct {
	Permission string `json:"permission"`
}

type authorizeResponse struct {
	TenantID   string `json:"tenant_id"`
	UserID     string `json:"user_id"`
	Role       Role   `json:"role"`
	Permission string `json:"permission"`
	Decision
}

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	var req authorizeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	permission := NormalizePermission(req.Permission)
	if permission == "" {
		httpx.RespondError(w, shared.ValidationError{Field: "permission", Reason: "is required"})
		return
	}
	decision, err := h.service.Resolve(r.Context(), principal, permission)
	if err != nil {
		h.logger.Error("rbac authorize", slog.String("permission", permission), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, authorizeResponse{
		TenantID:   principal.TenantID,
		UserID:     principal.UserID,
		Role:       principal.Role,
		Permission: permission,
		Decision:   decision,
	})
}

func (h *Handler) matrix(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	perms := h.service.Matrix().Permissions(principal.Role)
	slices.Sort(perms)
	if principal.Role.IsSuper() {
		perms = []string{"*"}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"role":        principal.Role,
		"permissions": perms,
	})
}

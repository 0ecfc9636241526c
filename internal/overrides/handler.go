package overrides

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-authz/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

// Handler exposes the override administration surface.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbacMW rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbacMW}
}

// MountRoutes registers override routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(shared.PermOverridesManage))
		r.Get("/", h.list)
		r.Get("/{permission}", h.get)
		r.Put("/{permission}", h.put)
		r.Delete("/{permission}", h.deactivate)
	})
}

type upsertRequest struct {
	RolesRequired    []string `json:"roles_required"`
	AutoApproveRoles []string `json:"auto_approve_roles"`
	Active           *bool    `json:"active"`
	Version          int64    `json:"version"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, ok := rbac.PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	items, err := h.service.List(r.Context(), actor)
	if err != nil {
		h.fail(w, "list overrides", err)
		return
	}
	if items == nil {
		items = []PermissionOverride{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"overrides": items})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	actor, ok := rbac.PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	item, err := h.service.Get(r.Context(), actor, chi.URLParam(r, "permission"))
	if err != nil {
		h.fail(w, "get override", err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) put(w http.ResponseWriter, r *http.Request) {
	actor, ok := rbac.PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	var req upsertRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	saved, err := h.service.Upsert(r.Context(), actor, UpsertInput{
		PermissionName:   chi.URLParam(r, "permission"),
		RolesRequired:    req.RolesRequired,
		AutoApproveRoles: req.AutoApproveRoles,
		Active:           active,
		ExpectedVersion:  req.Version,
	})
	if err != nil {
		h.fail(w, "upsert override", err)
		return
	}
	status := http.StatusOK
	if req.Version == 0 {
		status = http.StatusCreated
	}
	httpx.JSON(w, status, saved)
}

func (h *Handler) deactivate(w http.ResponseWriter, r *http.Request) {
	actor, ok := rbac.PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	version, err := strconv.ParseInt(strings.TrimSpace(r.URL.Query().Get("version")), 10, 64)
	if err != nil {
		httpx.RespondError(w, shared.ValidationError{Field: "version", Reason: "query parameter is required"})
		return
	}
	saved, err := h.service.Deactivate(r.Context(), actor, chi.URLParam(r, "permission"), version)
	if err != nil {
		h.fail(w, "deactivate override", err)
		return
	}
	httpx.JSON(w, http.StatusOK, saved)
}

func (h *Handler) fail(w http.ResponseWriter, message string, err error) {
	if errors.Is(err, shared.ErrStorage) {
		h.logger.Error(message, slog.Any("error", err))
	} else {
		h.logger.Warn(message, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

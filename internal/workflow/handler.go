package workflow

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-authz/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

// Handler exposes governed record transitions over HTTP.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers record routes. Permissions depend on the record's
// resource, so they are resolved by the service instead of route middleware.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Post("/{id}/submit", h.step("submit record", h.service.Submit))
	r.Post("/{id}/approve", h.step("approve record", h.service.Approve))
	r.Post("/{id}/reject", h.step("reject record", h.service.Reject))
	r.Post("/{id}/archive", h.step("archive record", h.service.Archive))
}

type createRequest struct {
	Resource   string         `json:"resource"`
	ResourceID string         `json:"resource_id"`
	Draft      bool           `json:"draft"`
	Metadata   map[string]any `json:"metadata"`
}

type createResponse struct {
	Record   Record        `json:"record"`
	Decision rbac.Decision `json:"decision"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, ok := rbac.PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	rec, decision, err := h.service.Create(r.Context(), actor, CreateInput{
		Resource:   req.Resource,
		ResourceID: req.ResourceID,
		Draft:      req.Draft,
		Metadata:   req.Metadata,
	})
	if err != nil {
		h.fail(w, "create record", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, createResponse{Record: rec, Decision: decision})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	actor, ok := rbac.PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	rec, err := h.service.Get(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "get record", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

type stepFunc func(ctx context.Context, actor rbac.Principal, id string) (Record, error)

func (h *Handler) step(message string, fn stepFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := rbac.PrincipalFromContext(r.Context())
		if !ok {
			httpx.RespondError(w, shared.ErrUnauthenticated)
			return
		}
		rec, err := fn(r.Context(), actor, chi.URLParam(r, "id"))
		if err != nil {
			h.fail(w, message, err)
			return
		}
		httpx.JSON(w, http.StatusOK, rec)
	}
}

func (h *Handler) fail(w http.ResponseWriter, message string, err error) {
	if errors.Is(err, shared.ErrStorage) {
		h.logger.Error(message, slog.Any("error", err))
	} else {
		h.logger.Warn(message, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

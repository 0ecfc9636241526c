package audithttp

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-authz/internal/audit"
	"github.com/odyssey-erp/odyssey-authz/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

const (
	defaultPageSize = shared.DefaultPageSize
	exportPageSize  = 200
	maxExportRows   = 10000
)

// QueryService defines the read contract for the audit trail.
type QueryService interface {
	Query(ctx context.Context, tenantID string, filters audit.Filters, limit, offset int) (audit.Page, error)
}

// Authorizer resolves permissions for the current principal.
type Authorizer interface {
	Require(ctx context.Context, principal rbac.Principal, permission string) (rbac.Decision, error)
}

// Handler serves the tenant-scoped audit query surface.
type Handler struct {
	logger  *slog.Logger
	service QueryService
	authz   Authorizer
}

// NewHandler builds an audit handler.
func NewHandler(logger *slog.Logger, service QueryService, authz Authorizer) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, authz: authz}
}

func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	principal, err := h.authorize(r, shared.PermAuditView)
	if err != nil {
		h.respondError(w, "authorize audit query", err)
		return
	}
	filters, limit, offset, err := parseQuery(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	page, err := h.service.Query(r.Context(), principal.TenantID, filters, limit, offset)
	if err != nil {
		h.respondError(w, "query audit trail", err)
		return
	}
	if page.Entries == nil {
		page.Entries = []audit.Entry{}
	}
	httpx.JSON(w, http.StatusOK, struct {
		audit.Page
		Pagination shared.Pagination `json:"pagination"`
	}{Page: page, Pagination: shared.NewPagination(page.Limit, page.Offset, page.Total)})
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	principal, err := h.authorize(r, shared.PermAuditView)
	if err != nil {
		h.respondError(w, "authorize audit export", err)
		return
	}
	if _, err := h.authz.Require(r.Context(), principal, shared.PermReportsExport); err != nil {
		h.respondError(w, "authorize audit export", err)
		return
	}
	filters, _, _, err := parseQuery(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	// Page by cursor so entries appended mid-export neither shift nor repeat rows.
	var rows []audit.Entry
	for len(rows) < maxExportRows {
		page, err := h.service.Query(r.Context(), principal.TenantID, filters, exportPageSize, 0)
		if err != nil {
			h.respondError(w, "export audit trail", err)
			return
		}
		rows = append(rows, page.Entries...)
		if len(page.Entries) < exportPageSize {
			break
		}
		filters.Before = audit.CursorOf(page.Entries[len(page.Entries)-1])
	}
	if len(rows) > maxExportRows {
		rows = rows[:maxExportRows]
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=\"audit-trail.csv\"")
	if err := writeCSV(w, rows); err != nil {
		h.logger.Warn("write csv", slog.Any("error", err))
	}
}

func (h *Handler) authorize(r *http.Request, permission string) (rbac.Principal, error) {
	principal, ok := rbac.PrincipalFromContext(r.Context())
	if !ok {
		return rbac.Principal{}, shared.ErrUnauthenticated
	}
	if h.authz == nil {
		return rbac.Principal{}, errors.New("audit: authorizer not configured")
	}
	if _, err := h.authz.Require(r.Context(), principal, permission); err != nil {
		return rbac.Principal{}, err
	}
	return principal, nil
}

func (h *Handler) respondError(w http.ResponseWriter, message string, err error) {
	if !errors.Is(err, shared.ErrPermissionDenied) && !errors.Is(err, shared.ErrUnauthenticated) {
		h.logger.Error(message, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func parseQuery(r *http.Request) (audit.Filters, int, int, error) {
	q := r.URL.Query()
	limit := defaultPageSize
	if v := strings.TrimSpace(q.Get("limit")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return audit.Filters{}, 0, 0, shared.ValidationError{Field: "limit", Reason: "must be a positive integer"}
		}
		limit = parsed
	}
	offset := 0
	if v := strings.TrimSpace(q.Get("offset")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			return audit.Filters{}, 0, 0, shared.ValidationError{Field: "offset", Reason: "must be a non-negative integer"}
		}
		offset = parsed
	}
	return audit.Filters{
		UserID:   strings.TrimSpace(q.Get("user_id")),
		Resource: strings.TrimSpace(q.Get("resource")),
		Action:   strings.TrimSpace(q.Get("action")),
	}, limit, offset, nil
}

func writeCSV(w http.ResponseWriter, rows []audit.Entry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "timestamp", "user_id", "role", "action", "resource", "resource_id", "changes", "metadata"}); err != nil {
		return err
	}
	for _, e := range rows {
		changes, _ := json.Marshal(e.Changes)
		metadata, _ := json.Marshal(e.Metadata)
		if err := cw.Write([]string{
			e.ID,
			e.Timestamp.UTC().Format(time.RFC3339Nano),
			e.UserID,
			e.Role,
			e.Action,
			e.Resource,
			e.ResourceID,
			string(changes),
			string(metadata),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

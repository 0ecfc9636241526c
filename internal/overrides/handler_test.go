package overrides

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
)

func newTestRouter(repo *memRepo, recorder *stubRecorder) http.Handler {
	resolver := rbac.NewService(rbac.DefaultMatrix(), NewStore(repo, nil, nil, nil), nil)
	h := NewHandler(nil, NewService(repo, nil, recorder, nil), rbac.Middleware{Service: resolver})
	r := chi.NewRouter()
	r.Route("/v1/overrides", h.MountRoutes)
	return r
}

func do(t *testing.T, router http.Handler, p rbac.Principal, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req = req.WithContext(rbac.ContextWithPrincipal(req.Context(), p))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestHandlerLifecycle(t *testing.T) {
	repo := newMemRepo()
	router := newTestRouter(repo, &stubRecorder{})

	rr := do(t, router, tenantAdmin, http.MethodPut, "/v1/overrides/data.delete", map[string]any{
		"roles_required":     []string{"director"},
		"auto_approve_roles": []string{"admin"},
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created PermissionOverride
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	assert.True(t, created.Active)
	assert.Equal(t, int64(1), created.Version)

	rr = do(t, router, tenantAdmin, http.MethodPut, "/v1/overrides/data.delete", map[string]any{
		"roles_required": []string{"coordinator"},
		"version":        0,
	})
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = do(t, router, tenantAdmin, http.MethodGet, "/v1/overrides/", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "data.delete")

	rr = do(t, router, tenantAdmin, http.MethodDelete, "/v1/overrides/data.delete?version=1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var deactivated PermissionOverride
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &deactivated))
	assert.False(t, deactivated.Active)
	assert.Equal(t, int64(2), deactivated.Version)
}

func TestHandlerRejectsNonAdministrators(t *testing.T) {
	router := newTestRouter(newMemRepo(), &stubRecorder{})
	teacher := rbac.Principal{UserID: "t1", TenantID: "T1", Role: rbac.RoleTeacher}

	rr := do(t, router, teacher, http.MethodPut, "/v1/overrides/data.delete", map[string]any{"roles_required": []string{"teacher"}})
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestHandlerValidation(t *testing.T) {
	router := newTestRouter(newMemRepo(), &stubRecorder{})

	rr := do(t, router, tenantAdmin, http.MethodPut, "/v1/overrides/data.delete", map[string]any{"roles_required": []string{"pilot"}})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, router, tenantAdmin, http.MethodPut, "/v1/overrides/data.delete", map[string]any{"unexpected": true})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, router, tenantAdmin, http.MethodDelete, "/v1/overrides/data.delete", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

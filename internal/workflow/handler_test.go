package workflow

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
)

func newTestRouter(svc *Service, principal *rbac.Principal) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if principal != nil {
				req = req.WithContext(rbac.ContextWithPrincipal(req.Context(), *principal))
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Route("/v1/records", NewHandler(nil, svc).MountRoutes)
	return r
}

func TestHandlerCreateAndApprove(t *testing.T) {
	svc, _, _ := newTestService(lessonsNeedSignOff())

	req := httptest.NewRequest(http.MethodPost, "/v1/records/", strings.NewReader(`{"resource":"lessons","resource_id":"plan-1"}`))
	rec := httptest.NewRecorder()
	newTestRouter(svc, &teacher).ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created createResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, StatePendingApproval, created.Record.State)
	assert.True(t, created.Decision.RequiresApproval)

	req = httptest.NewRequest(http.MethodPost, "/v1/records/"+created.Record.ID+"/approve", nil)
	rec = httptest.NewRecorder()
	newTestRouter(svc, &teacher).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	newTestRouter(svc, &coordinator).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/records/"+created.Record.ID+"/approve", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	newTestRouter(svc, &coordinator).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/records/"+created.Record.ID+"/approve", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandlerRequiresPrincipal(t *testing.T) {
	svc, _, _ := newTestService(nil)

	rec := httptest.NewRecorder()
	newTestRouter(svc, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/records/", strings.NewReader(`{"resource":"lessons"}`)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandlerUnknownRecord(t *testing.T) {
	svc, _, _ := newTestService(nil)

	rec := httptest.NewRecorder()
	newTestRouter(svc, &admin).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/records/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

type payload struct {
	Permission string `json:"permission"`
}

func TestDecodeJSON(t *testing.T) {
	var p payload
	require.NoError(t, DecodeJSON(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"permission":"a.b"}`)), &p))
	assert.Equal(t, "a.b", p.Permission)

	for _, body := range []string{`{"permission":`, `{"other":1}`, `{"permission":"a"} {}`, ``} {
		err := DecodeJSON(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)), &payload{})
		assert.ErrorIs(t, err, shared.ErrValidation, body)
	}
}

func TestRespondErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{shared.ErrExpired, http.StatusUnauthorized},
		{fmt.Errorf("x: %w", shared.ErrPermissionDenied), http.StatusForbidden},
		{shared.ValidationError{Field: "f", Reason: "bad"}, http.StatusBadRequest},
		{shared.ErrVersionConflict, http.StatusConflict},
		{shared.ErrInvalidTransition, http.StatusConflict},
		{shared.ErrNotFound, http.StatusNotFound},
		{shared.StorageError("op", errors.New("down")), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		RespondError(rr, tc.err)
		assert.Equal(t, tc.code, rr.Code, tc.err.Error())
		assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
	}

	rr := httptest.NewRecorder()
	RespondError(rr, shared.ErrInvalidSignature)
	assert.Contains(t, rr.Header().Get("WWW-Authenticate"), "Bearer")

	rr = httptest.NewRecorder()
	RespondError(rr, shared.StorageError("op", errors.New("dial tcp 10.0.0.5:5432")))
	assert.NotContains(t, rr.Body.String(), "10.0.0.5", "storage causes are not leaked")
}

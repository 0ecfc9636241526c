package auth

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-authz/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", fmt.Errorf("auth: %w: authorization header missing", shared.ErrUnauthenticated)
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", fmt.Errorf("auth: %w: bearer scheme required", shared.ErrUnauthenticated)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", fmt.Errorf("auth: %w: empty bearer token", shared.ErrUnauthenticated)
	}
	return token, nil
}

// Authenticator turns bearer tokens into principals on the request context.
type Authenticator struct {
	validator *Validator
	logger    *slog.Logger
	now       func() time.Time
}

// NewAuthenticator constructs an Authenticator.
func NewAuthenticator(validator *Validator, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{validator: validator, logger: logger, now: time.Now}
}

// Middleware rejects requests without a valid bearer token.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := BearerToken(r.Header.Get("Authorization"))
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		principal, err := a.validator.Validate(token, a.now())
		if err != nil {
			a.logger.Warn("bearer token rejected",
				slog.String("path", r.URL.Path),
				slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(rbac.ContextWithPrincipal(r.Context(), principal)))
	})
}

package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

var validMethods = []string{"HS256", "HS384", "HS512"}

// Claims is the token payload issued by the identity provider.
type Claims struct {
	TenantID  string   `json:"tenantId"`
	UserID    string   `json:"userId"`
	Role      string   `json:"role"`
	Locations []string `json:"locations,omitempty"`
	jwtlib.RegisteredClaims
}

// Validator verifies HMAC-signed bearer tokens.
type Validator struct {
	secret []byte
	issuer string
}

// NewValidator constructs a Validator. When issuer is non-empty the iss claim
// must match it.
func NewValidator(secret []byte, issuer string) *Validator {
	key := make([]byte, len(secret))
	copy(key, secret)
	return &Validator{secret: key, issuer: strings.TrimSpace(issuer)}
}

// Validate verifies rawToken under the configured secret as of now.
func (v *Validator) Validate(rawToken string, now time.Time) (rbac.Principal, error) {
	principal, err := Validate(rawToken, v.secret, now)
	if err != nil {
		return rbac.Principal{}, err
	}
	if v.issuer != "" {
		claims, _ := parseUnverified(rawToken)
		if claims == nil || claims.Issuer != v.issuer {
			return rbac.Principal{}, fmt.Errorf("auth: %w: unexpected issuer", shared.ErrUnauthenticated)
		}
	}
	return principal, nil
}

// Validate verifies rawToken under secret as of now and returns the principal
// it carries. Expiry is judged before the signature so that an expired token
// is reported as shared.ErrExpired whatever its signature.
func Validate(rawToken string, secret []byte, now time.Time) (rbac.Principal, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return rbac.Principal{}, fmt.Errorf("auth: %w: token missing", shared.ErrUnauthenticated)
	}
	claims, err := parseUnverified(rawToken)
	if err != nil {
		return rbac.Principal{}, fmt.Errorf("auth: %w: malformed token", shared.ErrUnauthenticated)
	}
	if claims.ExpiresAt == nil {
		return rbac.Principal{}, fmt.Errorf("auth: %w: exp claim missing", shared.ErrUnauthenticated)
	}
	if now.After(claims.ExpiresAt.Time) {
		return rbac.Principal{}, fmt.Errorf("auth: %w", shared.ErrExpired)
	}

	if len(secret) == 0 {
		return rbac.Principal{}, fmt.Errorf("auth: %w: no signing secret", shared.ErrInvalidSignature)
	}
	verified := &Claims{}
	_, err = jwtlib.ParseWithClaims(rawToken, verified, func(*jwtlib.Token) (any, error) {
		return secret, nil
	}, jwtlib.WithValidMethods(validMethods), jwtlib.WithoutClaimsValidation())
	if err != nil {
		switch {
		case errors.Is(err, jwtlib.ErrTokenSignatureInvalid), errors.Is(err, jwtlib.ErrTokenUnverifiable):
			return rbac.Principal{}, fmt.Errorf("auth: %w", shared.ErrInvalidSignature)
		default:
			return rbac.Principal{}, fmt.Errorf("auth: %w: malformed token", shared.ErrUnauthenticated)
		}
	}
	return principalFromClaims(verified)
}

func parseUnverified(rawToken string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwtlib.NewParser().ParseUnverified(rawToken, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func principalFromClaims(c *Claims) (rbac.Principal, error) {
	tenantID := strings.TrimSpace(c.TenantID)
	userID := strings.TrimSpace(c.UserID)
	if tenantID == "" || userID == "" {
		return rbac.Principal{}, fmt.Errorf("auth: %w: tenantId and userId claims are required", shared.ErrUnauthenticated)
	}
	role, err := rbac.ParseRole(c.Role)
	if err != nil {
		return rbac.Principal{}, fmt.Errorf("auth: %w: %v", shared.ErrUnauthenticated, err)
	}
	if c.IssuedAt == nil {
		return rbac.Principal{}, fmt.Errorf("auth: %w: iat claim missing", shared.ErrUnauthenticated)
	}
	var locations []string
	if len(c.Locations) > 0 {
		locations = make([]string, 0, len(c.Locations))
		for _, l := range c.Locations {
			if l = strings.TrimSpace(l); l != "" {
				locations = append(locations, l)
			}
		}
	}
	return rbac.Principal{
		UserID:    userID,
		TenantID:  tenantID,
		Role:      role,
		Locations: locations,
		IssuedAt:  c.IssuedAt.Time,
		ExpiresAt: c.ExpiresAt.Time,
	}, nil
}

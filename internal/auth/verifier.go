// Package auth resolves the calling tenant and role from a request.
package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pauly7610/ai-evaluation-platform-sub002/internal/config"
)

var ErrUnauthenticated = errors.New("unauthenticated")

type Principal struct {
	Tenant string
	Role   string // admin, service, viewer
}

// IsAdmin reports whether the principal has the admin role.
func (p Principal) IsAdmin() bool { return p.Role == "admin" }

// CanTrigger reports whether the principal may raise events.
func (p Principal) CanTrigger() bool { return p.Role == "admin" || p.Role == "service" }

// Verifier validates bearer tokens and extracts tenant/role claims.
// Modes: dev (no verification), hmac (HS256), rsa (RS256 with a PEM key).
type Verifier struct {
	Mode        string
	HMACSecret  []byte
	RSAKey      *rsa.PublicKey
	TenantClaim string
	RoleClaim   string
}

func NewVerifier(cfg config.Auth) (*Verifier, error) {
	v := &Verifier{
		Mode:        strings.ToLower(strings.TrimSpace(cfg.Mode)),
		HMACSecret:  []byte(cfg.HMACSecret),
		TenantClaim: cfg.TenantClaim,
		RoleClaim:   cfg.RoleClaim,
	}
	if v.Mode == "" {
		v.Mode = "dev"
	}
	if v.TenantClaim == "" {
		v.TenantClaim = "org_id"
	}
	if v.RoleClaim == "" {
		v.RoleClaim = "role"
	}
	if v.Mode == "rsa" {
		pem, err := os.ReadFile(cfg.RSAPublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read rsa public key: %w", err)
		}
		if v.RSAKey, err = jwt.ParseRSAPublicKeyFromPEM(pem); err != nil {
			return nil, fmt.Errorf("parse rsa public key: %w", err)
		}
	}
	return v, nil
}

// FromRequest resolves the principal of r. Dev mode also accepts the
// X-Tenant-Id and X-Role headers.
func (v *Verifier) FromRequest(r *http.Request) (Principal, error) {
	authz := r.Header.Get("Authorization")
	if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
		return v.Verify(strings.TrimSpace(authz[7:]))
	}
	if v.Mode == "dev" {
		tenant := strings.TrimSpace(r.Header.Get("X-Tenant-Id"))
		if tenant == "" {
			return Principal{}, fmt.Errorf("missing tenant: %w", ErrUnauthenticated)
		}
		role := strings.ToLower(strings.TrimSpace(r.Header.Get("X-Role")))
		if role == "" {
			role = "admin"
		}
		return Principal{Tenant: tenant, Role: role}, nil
	}
	return Principal{}, fmt.Errorf("missing bearer token: %w", ErrUnauthenticated)
}

func (v *Verifier) Verify(token string) (Principal, error) {
	if v.Mode == "dev" {
		// token format: tenant:role
		tenant, role, ok := strings.Cut(token, ":")
		if !ok || tenant == "" {
			return Principal{}, fmt.Errorf("invalid dev token; expected tenant:role: %w", ErrUnauthenticated)
		}
		return Principal{Tenant: tenant, Role: strings.ToLower(role)}, nil
	}

	var (
		method string
		key    any
	)
	switch v.Mode {
	case "hmac":
		method, key = "HS256", v.HMACSecret
	case "rsa":
		method, key = "RS256", v.RSAKey
	default:
		return Principal{}, fmt.Errorf("unsupported auth mode %q", v.Mode)
	}
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{method}))
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	tenant, _ := claims[v.TenantClaim].(string)
	role, _ := claims[v.RoleClaim].(string)
	if tenant == "" {
		return Principal{}, fmt.Errorf("missing tenant claim: %w", ErrUnauthenticated)
	}
	if role == "" {
		role = "viewer"
	}
	return Principal{Tenant: tenant, Role: strings.ToLower(role)}, nil
}

package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pauly7610/ai-evaluation-platform-sub002/internal/config"
)

func TestDevModeHeadersAndToken(t *testing.T) {
	v, err := NewVerifier(config.Auth{Mode: "dev"})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	r := httptest.NewRequest("GET", "/v1/webhooks", nil)
	r.Header.Set("X-Tenant-Id", "org_1")
	p, err := v.FromRequest(r)
	if err != nil || p.Tenant != "org_1" || !p.IsAdmin() {
		t.Fatalf("headers: %+v %v", p, err)
	}

	r = httptest.NewRequest("GET", "/v1/webhooks", nil)
	r.Header.Set("Authorization", "Bearer org_2:service")
	p, err = v.FromRequest(r)
	if err != nil || p.Tenant != "org_2" || p.IsAdmin() || !p.CanTrigger() {
		t.Fatalf("bearer: %+v %v", p, err)
	}

	r = httptest.NewRequest("GET", "/v1/webhooks", nil)
	if _, err := v.FromRequest(r); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("missing tenant: want ErrUnauthenticated, got %v", err)
	}
	if _, err := v.Verify("no-colon"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("bad dev token: %v", err)
	}
}

func signHS(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestHMACMode(t *testing.T) {
	v, _ := NewVerifier(config.Auth{Mode: "hmac", HMACSecret: "k", TenantClaim: "org_id", RoleClaim: "role"})
	tok := signHS(t, "k", jwt.MapClaims{"org_id": "org_1", "role": "Admin", "exp": time.Now().Add(time.Hour).Unix()})
	p, err := v.Verify(tok)
	if err != nil || p.Tenant != "org_1" || p.Role != "admin" {
		t.Fatalf("valid token: %+v %v", p, err)
	}

	bad := []string{
		signHS(t, "other", jwt.MapClaims{"org_id": "org_1"}),
		signHS(t, "k", jwt.MapClaims{"org_id": "org_1", "exp": time.Now().Add(-time.Hour).Unix()}),
		signHS(t, "k", jwt.MapClaims{"role": "admin"}),
		"not.a.jwt",
	}
	for i, tok := range bad {
		if _, err := v.Verify(tok); !errors.Is(err, ErrUnauthenticated) {
			t.Fatalf("case %d: want ErrUnauthenticated, got %v", i, err)
		}
	}

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Tenant-Id", "org_1")
	if _, err := v.FromRequest(r); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("headers must not authenticate outside dev mode: %v", err)
	}
}

func TestRSAMode(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "pub.pem")
	if err := os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), 0o600); err != nil {
		t.Fatal(err)
	}
	v, err := NewVerifier(config.Auth{Mode: "rsa", RSAPublicKeyFile: path})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	tok, _ := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{"org_id": "org_9", "role": "service"}).SignedString(key)
	r := httptest.NewRequest("POST", "/v1/events", nil)
	r.Header.Set("Authorization", "Bearer "+tok)
	p, err := v.FromRequest(r)
	if err != nil || p.Tenant != "org_9" || !p.CanTrigger() {
		t.Fatalf("rsa token: %+v %v", p, err)
	}

	// HS256 signed with the public key bytes must be refused.
	forged := signHS(t, string(der), jwt.MapClaims{"org_id": "org_9"})
	if _, err := v.Verify(forged); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("alg confusion accepted: %v", err)
	}

	if _, err := NewVerifier(config.Auth{Mode: "rsa", RSAPublicKeyFile: filepath.Join(t.TempDir(), "missing.pem")}); err == nil {
		t.Fatalf("missing key file accepted")
	}
}

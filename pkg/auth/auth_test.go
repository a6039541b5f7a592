package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestService(t *testing.T) *AuthService {
	t.Helper()
	priv, pub, err := GenerateKeyPair(2048)
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}
	cfg := &Config{Issuer: "fin-desk", Audience: "fin-desk-api", Expiration: time.Hour}
	return NewAuthServiceWithKeys(cfg, priv, pub)
}

func TestGenerateAndValidateToken(t *testing.T) {
	svc := newTestService(t)

	token, err := svc.GenerateToken("acct_1", "alice", []string{RoleFeeder})
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.AccountID != "acct_1" {
		t.Errorf("AccountID = %q", claims.AccountID)
	}
	if !claims.HasRole(RoleFeeder) || claims.HasRole("admin") {
		t.Errorf("Roles = %v", claims.Roles)
	}
}

func TestGenerateTokenRequiresAccount(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.GenerateToken("", "alice", nil); err == nil {
		t.Error("GenerateToken() should require an account id")
	}
}

func TestValidateTokenRejects(t *testing.T) {
	svc := newTestService(t)
	other := newTestService(t)

	foreign, err := other.GenerateToken("acct_1", "alice", nil)
	if err != nil {
		t.Fatal(err)
	}

	wrongAudience := NewAuthServiceWithKeys(
		&Config{Issuer: "fin-desk", Audience: "elsewhere", Expiration: time.Hour},
		svc.privateKey, svc.publicKey)
	otherAud, err := wrongAudience.GenerateToken("acct_1", "alice", nil)
	if err != nil {
		t.Fatal(err)
	}

	expiredSvc := NewAuthServiceWithKeys(
		&Config{Issuer: "fin-desk", Audience: "fin-desk-api", Expiration: -time.Minute},
		svc.privateKey, svc.publicKey)
	expired, err := expiredSvc.GenerateToken("acct_1", "alice", nil)
	if err != nil {
		t.Fatal(err)
	}

	hmac, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{AccountID: "acct_1"}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"signed by another key", foreign},
		{"wrong audience", otherAud},
		{"expired", expired},
		{"hmac signed", hmac},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.ValidateToken(tt.token); err == nil {
				t.Error("ValidateToken() should fail")
			}
		})
	}
}

func TestAuthMiddleware(t *testing.T) {
	svc := newTestService(t)
	token, err := svc.GenerateToken("acct_1", "alice", nil)
	if err != nil {
		t.Fatal(err)
	}

	var seen string
	handler := svc.AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = AccountIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid", "Bearer " + token, http.StatusNoContent},
		{"missing", "", http.StatusUnauthorized},
		{"basic scheme", "Basic abc", http.StatusUnauthorized},
		{"empty bearer", "Bearer ", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusNoContent && seen != "acct_1" {
				t.Errorf("account in context = %q", seen)
			}
		})
	}
}

func TestRoleMiddleware(t *testing.T) {
	svc := newTestService(t)
	handler := svc.RoleMiddleware(RoleFeeder)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name   string
		claims *Claims
		want   int
	}{
		{"no claims", nil, http.StatusUnauthorized},
		{"missing role", &Claims{AccountID: "a", Roles: []string{"viewer"}}, http.StatusForbidden},
		{"has role", &Claims{AccountID: "a", Roles: []string{"viewer", RoleFeeder}}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.claims != nil {
				req = req.WithContext(WithClaims(req.Context(), tt.claims))
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestAccountIDFromContextEmpty(t *testing.T) {
	if got := AccountIDFromContext(context.Background()); got != "" {
		t.Errorf("AccountIDFromContext() = %q, want empty", got)
	}
}

func TestKeyFilesRoundTrip(t *testing.T) {
	dir := t.TempDir()
	priv, pub, err := GenerateKeyPair(2048)
	if err != nil {
		t.Fatal(err)
	}

	privPath := filepath.Join(dir, "keys", "private.pem")
	pubPath := filepath.Join(dir, "keys", "public.pem")
	if err := SavePrivateKey(priv, privPath); err != nil {
		t.Fatalf("SavePrivateKey() error = %v", err)
	}
	if err := SavePublicKey(pub, pubPath); err != nil {
		t.Fatalf("SavePublicKey() error = %v", err)
	}

	svc, err := NewAuthService(&Config{
		PrivateKeyPath: privPath,
		PublicKeyPath:  pubPath,
		Issuer:         "fin-desk",
		Audience:       "fin-desk-api",
		Expiration:     time.Hour,
	})
	if err != nil {
		t.Fatalf("NewAuthService() error = %v", err)
	}

	token, err := svc.GenerateToken("acct_1", "alice", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.ValidateToken(token); err != nil {
		t.Errorf("ValidateToken() error = %v", err)
	}

	if _, err := NewAuthService(&Config{PrivateKeyPath: filepath.Join(dir, "missing.pem")}); err == nil {
		t.Error("NewAuthService() should fail for a missing key file")
	}
}

func TestClaimsRoles(t *testing.T) {
	claims := &Claims{AccountID: "a", Roles: []string{"viewer", RoleFeeder}}

	tests := []struct {
		name  string
		roles []string
		want  bool
	}{
		{"held role", []string{RoleFeeder}, true},
		{"one of several", []string{RoleAdmin, "viewer"}, true},
		{"not held", []string{RoleAdmin}, false},
		{"none asked", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := claims.HasAnyRole(tt.roles...); got != tt.want {
				t.Errorf("HasAnyRole(%v) = %v, want %v", tt.roles, got, tt.want)
			}
			if len(tt.roles) == 1 {
				if got := claims.HasRole(tt.roles[0]); got != tt.want {
					t.Errorf("HasRole(%s) = %v, want %v", tt.roles[0], got, tt.want)
				}
			}
		})
	}
}

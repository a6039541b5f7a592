package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/alim08/fin_desk/pkg/logger"
	"github.com/alim08/fin_desk/pkg/metrics"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	// RoleFeeder may push watchlist rows through the API.
	RoleFeeder = "feeder"
	// RoleAdmin may read operational endpoints such as migration status.
	RoleAdmin = "admin"
)

// Claims represents JWT claims. AccountID scopes every payment method call.
type Claims struct {
	AccountID string   `json:"account_id"`
	Username  string   `json:"username"`
	Roles     []string `json:"roles"`
	jwt.RegisteredClaims
}

type contextKey struct{}

var claimsKey contextKey

// AuthService handles JWT authentication
type AuthService struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	issuer     string
	audience   string
	expiration time.Duration
}

// Config holds authentication configuration
type Config struct {
	PrivateKeyPath string
	PublicKeyPath  string
	Issuer         string
	Audience       string
	Expiration     time.Duration
}

// NewConfig creates a new auth configuration from environment variables
func NewConfig() *Config {
	return &Config{
		PrivateKeyPath: envOr("JWT_PRIVATE_KEY_PATH", "keys/private.pem"),
		PublicKeyPath:  envOr("JWT_PUBLIC_KEY_PATH", "keys/public.pem"),
		Issuer:         envOr("JWT_ISSUER", "fin-desk"),
		Audience:       envOr("JWT_AUDIENCE", "fin-desk-api"),
		Expiration:     envDurationOr("JWT_EXPIRATION", 24*time.Hour),
	}
}

// NewAuthService loads the RS256 key pair named by config.
func NewAuthService(config *Config) (*AuthService, error) {
	privateKey, err := loadPrivateKey(config.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load private key: %w", err)
	}

	publicKey, err := loadPublicKey(config.PublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load public key: %w", err)
	}

	return NewAuthServiceWithKeys(config, privateKey, publicKey), nil
}

// NewAuthServiceWithKeys creates an authentication service from in-memory keys.
// privateKey may be nil for a verify-only service.
func NewAuthServiceWithKeys(config *Config, privateKey *rsa.PrivateKey, publicKey *rsa.PublicKey) *AuthService {
	return &AuthService{
		privateKey: privateKey,
		publicKey:  publicKey,
		issuer:     config.Issuer,
		audience:   config.Audience,
		expiration: config.Expiration,
	}
}

// GenerateToken generates a new JWT token for an account
func (a *AuthService) GenerateToken(accountID, username string, roles []string) (token string, err error) {
	start := time.Now()
	defer func() {
		metrics.AuthOperationDuration.WithLabelValues("generate_token", metrics.Status(err)).Observe(time.Since(start).Seconds())
	}()

	if a.privateKey == nil {
		return "", errors.New("auth service has no signing key")
	}
	if accountID == "" {
		return "", errors.New("account id is required")
	}

	now := time.Now()
	claims := Claims{
		AccountID: accountID,
		Username:  username,
		Roles:     roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			Issuer:    a.issuer,
			Audience:  []string{a.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.expiration)),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token, err = jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(a.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// ValidateToken validates a JWT token and returns the claims
func (a *AuthService) ValidateToken(tokenString string) (claims *Claims, err error) {
	start := time.Now()
	defer func() {
		metrics.AuthOperationDuration.WithLabelValues("validate_token", metrics.Status(err)).Observe(time.Since(start).Seconds())
	}()

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.publicKey, nil
	},
		jwt.WithIssuer(a.issuer),
		jwt.WithAudience(a.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.AccountID == "" {
		return nil, errors.New("token has no account id")
	}
	return claims, nil
}

// HasRole reports whether the caller holds role.
func (c *Claims) HasRole(role string) bool {
	return slices.Contains(c.Roles, role)
}

// HasAnyRole reports whether the caller holds at least one of roles.
func (c *Claims) HasAnyRole(roles ...string) bool {
	return slices.ContainsFunc(roles, c.HasRole)
}

// AuthMiddleware requires a valid bearer token and stores its claims in the
// request context.
func (a *AuthService) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			metrics.AuthMiddlewareErrors.WithLabelValues("missing_header").Inc()
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || tokenString == "" {
			metrics.AuthMiddlewareErrors.WithLabelValues("invalid_format").Inc()
			http.Error(w, "Invalid authorization format", http.StatusUnauthorized)
			return
		}

		claims, err := a.ValidateToken(tokenString)
		if err != nil {
			logger.Log.Warn("token validation failed", zap.Error(err), zap.String("ip", r.RemoteAddr))
			metrics.AuthMiddlewareErrors.WithLabelValues("invalid_token").Inc()
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// RoleMiddleware requires the authenticated caller to hold one of requiredRoles
func (a *AuthService) RoleMiddleware(requiredRoles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				metrics.AuthMiddlewareErrors.WithLabelValues("no_user_context").Inc()
				http.Error(w, "Authentication required", http.StatusUnauthorized)
				return
			}

			if !claims.HasAnyRole(requiredRoles...) {
				logger.Log.Warn("insufficient permissions",
					zap.String("account_id", claims.AccountID),
					zap.Strings("roles", claims.Roles),
					zap.Strings("required_roles", requiredRoles))
				metrics.AuthMiddlewareErrors.WithLabelValues("insufficient_permissions").Inc()
				http.Error(w, "Insufficient permissions", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// WithClaims returns a copy of ctx carrying claims
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// ClaimsFromContext extracts caller claims from context
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*Claims)
	return claims, ok && claims != nil
}

// AccountIDFromContext returns the caller's account id, or "" when unauthenticated
func AccountIDFromContext(ctx context.Context) string {
	if claims, ok := ClaimsFromContext(ctx); ok {
		return claims.AccountID
	}
	return ""
}

func envOr(key, def string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return def
}

func envDurationOr(key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d <= 0 {
		return def
	}
	return d
}

package auth

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jgoulah/plugshare/internal/config"
)

const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

// Claims represents JWT claims
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

type contextKey string

const claimsKey contextKey = "claims"

// Verifier validates tokens signed with either a shared secret or an RSA key
type Verifier struct {
	key    any
	method string
}

// NewVerifier builds a verifier from config. A public key path takes precedence over
// the shared secret.
func NewVerifier(cfg config.AuthConfig) (*Verifier, error) {
	if cfg.JWTPublicKeyPath != "" {
		pub, err := LoadRSAPublicKey(cfg.JWTPublicKeyPath)
		if err != nil {
			return nil, fmt.Errorf("loading jwt public key: %w", err)
		}
		return &Verifier{key: pub, method: jwt.SigningMethodRS256.Alg()}, nil
	}
	if cfg.JWTSecret != "" {
		return &Verifier{key: []byte(cfg.JWTSecret), method: jwt.SigningMethodHS256.Alg()}, nil
	}
	return nil, errors.New("no jwt secret or public key configured")
}

// LoadRSAPublicKey reads a PEM encoded RSA public key
func LoadRSAPublicKey(path string) (*rsa.PublicKey, error) {
	keyData, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return jwt.ParseRSAPublicKeyFromPEM(keyData)
}

// Parse validates a token string and returns its claims
func (v *Verifier) Parse(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return v.key, nil
	}, jwt.WithValidMethods([]string{v.method}))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	claims.Email = strings.ToLower(strings.TrimSpace(claims.Email))
	claims.Role = strings.TrimSpace(claims.Role)
	return claims, nil
}

// Middleware attaches claims to the request context when a valid token is present.
// Requests without one pass through unauthenticated; RequireRole or the handler decides.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := extractToken(r)
		if tokenStr == "" {
			next.ServeHTTP(w, r)
			return
		}
		claims, err := v.Parse(tokenStr)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// RequireRole enforces a minimum role
func RequireRole(required string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaims(r.Context())
			if claims == nil {
				writeJSONError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			if !RoleAtLeast(required, claims.Role) {
				writeJSONError(w, http.StatusForbidden, "Forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetClaims extracts claims from context
func GetClaims(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsKey).(*Claims)
	return claims
}

// WithClaims returns a context carrying claims
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

// RoleAtLeast reports whether actual ranks at or above required. Unknown roles rank lowest.
func RoleAtLeast(required, actual string) bool {
	roleRank := map[string]int{
		RoleMember: 1,
		RoleAdmin:  2,
	}
	reqRank, ok := roleRank[required]
	if !ok {
		return false
	}
	return roleRank[strings.ToLower(actual)] >= reqRank
}

// Mint signs an HS256 token for local development and scripting
func Mint(secret, email, role string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is required to mint tokens")
	}
	now := time.Now()
	claims := Claims{
		Email: email,
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func extractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.HasPrefix(auth, "Bearer ") {
		return auth[7:]
	}
	if cookie, err := r.Cookie("auth_token"); err == nil {
		return cookie.Value
	}
	return ""
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": message})
}

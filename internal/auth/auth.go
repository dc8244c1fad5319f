package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"calendar-service/internal/common/errors"
)

const (
	issuer          = "calendar-service"
	defaultTokenTTL = 24 * time.Hour

	// InternalKeyHeader carries the shared key on service-to-service calls.
	InternalKeyHeader = "X-Internal-API-Key"

	// UserIDHeader identifies the acting user on internal agent calls,
	// where no end-user JWT is present.
	UserIDHeader = "X-User-ID"
)

type contextKey string

const userIDContextKey contextKey = "auth.user_id"

// Claims are the JWT claims carried by user-facing API tokens.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Service validates user JWTs and guards internal endpoints with a shared
// API key.
type Service struct {
	jwtSecret   []byte
	internalKey string
	tokenTTL    time.Duration
}

func New(jwtSecret, internalKey string) (*Service, error) {
	if jwtSecret == "" {
		return nil, errors.ConfigError("JWT secret is required")
	}
	if internalKey == "" {
		return nil, errors.ConfigError("internal API key is required")
	}
	return &Service{
		jwtSecret:   []byte(jwtSecret),
		internalKey: internalKey,
		tokenTTL:    defaultTokenTTL,
	}, nil
}

// GenerateJWT issues a signed token for a user.
func (s *Service) GenerateJWT(userID string) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", errors.InternalError("failed to sign token", err)
	}
	return signed, nil
}

// ValidateJWT parses and verifies a token, returning its claims.
func (s *Service) ValidateJWT(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.AuthError("unexpected signing method")
		}
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, errors.AuthError("invalid or expired token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.AuthError("invalid token claims")
	}
	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	if claims.UserID == "" {
		return nil, errors.AuthError("token carries no user identity")
	}
	return claims, nil
}

// RequireUser authenticates the request with a bearer JWT and stashes the
// user ID in the request context.
func (s *Service) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			unauthorized(w, "authentication required")
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			unauthorized(w, "authorization header must be a bearer token")
			return
		}

		claims, err := s.ValidateJWT(parts[1])
		if err != nil {
			unauthorized(w, "invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), claims.UserID)))
	})
}

// RequireInternalKey authenticates service-to-service requests. The acting
// user comes from the X-User-ID header and is placed in the context.
func (s *Service) RequireInternalKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(InternalKeyHeader)
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.internalKey)) != 1 {
			unauthorized(w, "invalid internal API key")
			return
		}

		ctx := r.Context()
		if userID := r.Header.Get(UserIDHeader); userID != "" {
			ctx = WithUserID(ctx, userID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// WithUserID returns a context carrying the authenticated user.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// UserIDFromContext extracts the authenticated user, if any.
func UserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	return userID, ok && userID != ""
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"success": false, "error": "` + message + `"}`))
}

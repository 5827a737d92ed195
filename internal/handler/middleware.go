package handler

import (
	"context"
	"crypto/sha256"
	"net/http"
	"strings"

	"github.com/trampoja/trampoja-api/internal/domain"
	"github.com/trampoja/trampoja-api/internal/service"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type contextKey string

const (
	userIDKey  contextKey = "userID"
	profileKey contextKey = "profile"
)

// JWTAuthMiddleware validates Supabase access tokens (HS256, signed with the
// project JWT secret) and injects the user id into the request context.
func JWTAuthMiddleware(jwtSecret string, logger *zap.Logger) func(http.Handler) http.Handler {
	secret := []byte(jwtSecret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Warn("auth: missing token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeError(w, http.StatusUnauthorized, "Token de autenticação não fornecido")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				logger.Warn("auth: invalid token format",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeError(w, http.StatusUnauthorized, "Formato de token inválido")
				return
			}

			token, err := jwt.Parse(parts[1], func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return secret, nil
			}, jwt.WithValidMethods([]string{"HS256"}))
			if err != nil || !token.Valid {
				logger.Warn("auth: invalid or expired token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
					zap.Error(err),
				)
				writeError(w, http.StatusUnauthorized, "Sessão expirada. Entre novamente.")
				return
			}

			sub, err := token.Claims.GetSubject()
			if err != nil || sub == "" {
				writeError(w, http.StatusUnauthorized, "Token sem identificação de usuário")
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, sub)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext extracts the authenticated user id from context.
func UserIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(userIDKey).(string)
	return v
}

// RequireRole resolves the caller's profile and rejects roles outside the
// allowed set. The resolved profile goes into context so handlers do not
// resolve twice.
func RequireRole(resolver *service.ProfileResolver, logger *zap.Logger, roles ...domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := UserIDFromContext(r.Context())
			if userID == "" {
				writeError(w, http.StatusUnauthorized, "Token de autenticação não fornecido")
				return
			}

			res := resolver.Resolve(r.Context(), userID)
			switch res.Outcome {
			case service.OutcomeError:
				handleServiceError(w, res.Err, logger)
				return
			case service.OutcomeMissing:
				writeError(w, http.StatusForbidden, "Perfil não encontrado")
				return
			}

			role := res.Profile.Profile.Role
			allowed := len(roles) == 0
			for _, allowedRole := range roles {
				if role == allowedRole {
					allowed = true
					break
				}
			}
			if !allowed {
				logger.Warn("role not allowed for route",
					zap.String("user_id", userID),
					zap.String("role", string(role)),
					zap.String("path", r.URL.Path),
				)
				writeError(w, http.StatusForbidden, "Acesso não permitido para seu perfil")
				return
			}

			ctx := context.WithValue(r.Context(), profileKey, res.Profile)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ProfileFromContext returns the profile resolved by RequireRole, nil when
// the middleware did not run.
func ProfileFromContext(ctx context.Context) *domain.ResolvedProfile {
	v, _ := ctx.Value(profileKey).(*domain.ResolvedProfile)
	return v
}

// OpsTokenMiddleware guards operational endpoints with a shared token whose
// bcrypt hash lives in config. No hash configured means no ops access.
func OpsTokenMiddleware(opsTokenHash string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if opsTokenHash == "" {
				writeError(w, http.StatusServiceUnavailable, "endpoint operacional desabilitado")
				return
			}

			token := r.Header.Get("X-Ops-Token")
			if token == "" {
				writeError(w, http.StatusUnauthorized, "token operacional não fornecido")
				return
			}

			// bcrypt caps input at 72 bytes; hashing first keeps long
			// tokens usable and comparison constant-shape.
			digest := sha256.Sum256([]byte(token))
			if err := bcrypt.CompareHashAndPassword([]byte(opsTokenHash), digest[:]); err != nil {
				logger.Warn("ops: invalid token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeError(w, http.StatusUnauthorized, "token operacional inválido")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

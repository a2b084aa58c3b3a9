package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/itchan-dev/itchat/shared/domain"
	jwt_internal "github.com/itchan-dev/itchat/shared/jwt"
	"github.com/itchan-dev/itchat/shared/logger"
	"github.com/itchan-dev/itchat/shared/utils"
)

type key int

const ActorKey key = 0

// AuthCookie carries the access token for browser clients.
const AuthCookie = "accessToken"

// Auth resolves the current actor from the access token.
type Auth struct {
	jwtService jwt_internal.JwtService
}

func NewAuth(jwtService jwt_internal.JwtService) *Auth {
	return &Auth{jwtService: jwtService}
}

// NeedAuth rejects requests without a valid token and stores the actor id
// in the request context.
func (a *Auth) NeedAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := extractToken(r)
			if tokenString == "" {
				http.Error(w, "Please sign-in", http.StatusUnauthorized)
				return
			}

			actor, err := a.jwtService.ActorId(tokenString)
			if err != nil {
				logger.Log.Debug("rejected token", "component", "http", "path", r.URL.Path, "error", err)
				utils.WriteErrorAndStatusCode(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), ActorKey, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// cookie first (browser clients), then Authorization header
func extractToken(r *http.Request) string {
	if c, err := r.Cookie(AuthCookie); err == nil && c.Value != "" {
		return c.Value
	}
	if token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); found {
		return token
	}
	// EventSource cannot set headers
	return r.URL.Query().Get("access_token")
}

// GetActorFromContext returns "" when the request was not authenticated.
func GetActorFromContext(r *http.Request) domain.UserId {
	actor, _ := r.Context().Value(ActorKey).(domain.UserId)
	return actor
}

// WithActor is used by tests and internal callers to bypass token decoding.
func WithActor(ctx context.Context, actor domain.UserId) context.Context {
	return context.WithValue(ctx, ActorKey, actor)
}

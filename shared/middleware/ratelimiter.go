package middleware

import (
	"fmt"
	"net"
	"net/http"

	"github.com/itchan-dev/itchat/shared/logger"
	"github.com/itchan-dev/itchat/shared/middleware/ratelimiter"
	"github.com/itchan-dev/itchat/shared/utils"
)

// RateLimit rejects requests with 429 once the identity's bucket is empty.
func RateLimit(rl *ratelimiter.Limiter, getIdentity func(r *http.Request) (string, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := getIdentity(r)
			if err != nil {
				utils.WriteErrorAndStatusCode(w, err)
				return
			}
			if !rl.Allow(identity) {
				logger.Log.Debug("rate limited", "component", "http", "identity", identity, "path", r.URL.Path)
				http.Error(w, "Rate limit exceeded, try again later", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetActor keys on the authenticated actor, so it must run after NeedAuth.
func GetActor(r *http.Request) (string, error) {
	actor := GetActorFromContext(r)
	if actor == "" {
		return "", fmt.Errorf("no actor in request context")
	}
	return actor, nil
}

// GetIP extracts the client IP from RemoteAddr. Forwarding headers are
// ignored since they can be spoofed.
func GetIP(r *http.Request) (string, error) {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	if net.ParseIP(ip) == nil {
		return "", fmt.Errorf("invalid IP address: %s", ip)
	}
	return ip, nil
}

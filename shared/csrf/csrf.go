package csrf

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"net/http"

	"github.com/itchan-dev/itchat/shared/logger"
)

const (
	TokenLength = 32 // bytes
	CookieName  = "csrfToken"
	HeaderName  = "X-CSRF-Token"
)

// GenerateToken creates a cryptographically secure random token
func GenerateToken() (string, error) {
	bytes := make([]byte, TokenLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(bytes), nil
}

// ValidateToken compares the cookie token with the header token
func ValidateToken(cookieToken, headerToken string) bool {
	if cookieToken == "" || headerToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(cookieToken), []byte(headerToken)) == 1
}

// Issue sets a fresh token cookie. Scripts must be able to read it to echo it
// back in HeaderName, so it is not HttpOnly.
func Issue(w http.ResponseWriter, secure bool) (string, error) {
	token, err := GenerateToken()
	if err != nil {
		return "", err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
	return token, nil
}

// Protect enforces the double-submit check on unsafe requests that carry the
// authCookie. Bearer-token clients are not exposed to cross-site requests
// and pass through.
func Protect(authCookie string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}
			if c, err := r.Cookie(authCookie); err != nil || c.Value == "" {
				next.ServeHTTP(w, r)
				return
			}
			var cookieToken string
			if c, err := r.Cookie(CookieName); err == nil {
				cookieToken = c.Value
			}
			if !ValidateToken(cookieToken, r.Header.Get(HeaderName)) {
				logger.Log.Debug("csrf check failed", "component", "http", "path", r.URL.Path)
				http.Error(w, "Invalid CSRF token", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

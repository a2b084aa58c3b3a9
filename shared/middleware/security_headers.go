package middleware

import (
	"net/http"
)

// apiCSP allows nothing: the API only serves JSON, event streams and media.
const apiCSP = "default-src 'none'; img-src 'self'; frame-ancestors 'none'"

// SecurityHeaders sets the browser hardening headers. HSTS is only sent when
// the server sits behind TLS.
func SecurityHeaders(hsts bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			headers := w.Header()
			headers.Set("X-Frame-Options", "DENY")
			headers.Set("X-Content-Type-Options", "nosniff")
			headers.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			headers.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=(), payment=()")
			headers.Set("Content-Security-Policy", apiCSP)
			if hsts {
				headers.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}

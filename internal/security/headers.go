package security

import (
	"net/http"
	"strconv"
	"time"
)

// Headers attaches response headers suited to a register API that returns
// prices and receipts.
type Headers struct {
	Disable               bool
	HSTSMaxAge            time.Duration
	HSTSIncludeSubdomains bool
}

// Middleware sets the headers on every response. HSTS is only sent over TLS.
func (h Headers) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Disable {
			next.ServeHTTP(w, r)
			return
		}
		headers := w.Header()
		headers.Set("X-Content-Type-Options", "nosniff")
		headers.Set("X-Frame-Options", "DENY")
		headers.Set("Referrer-Policy", "no-referrer")
		headers.Set("Cache-Control", "no-store")
		if r.TLS != nil {
			maxAge := h.HSTSMaxAge
			if maxAge <= 0 {
				maxAge = 365 * 24 * time.Hour
			}
			value := "max-age=" + strconv.FormatInt(int64(maxAge/time.Second), 10)
			if h.HSTSIncludeSubdomains {
				value += "; includeSubDomains"
			}
			headers.Set("Strict-Transport-Security", value)
		}
		next.ServeHTTP(w, r)
	})
}

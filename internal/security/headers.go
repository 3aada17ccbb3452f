package security

import (
	"net/http"
	"strconv"
	"time"
)

// apiHeaders are set on every response. The API only serves JSON, so
// nothing may be framed, sniffed, cached or loaded from it.
var apiHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Referrer-Policy", "no-referrer"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	{"Cache-Control", "no-store"},
}

// Headers adds the API security headers. HSTS is sent only over TLS and
// only when HSTSMaxAge is positive.
type Headers struct {
	Enable                bool
	HSTSMaxAge            time.Duration
	HSTSIncludeSubdomains bool
}

func (h Headers) hsts() string {
	if h.HSTSMaxAge <= 0 {
		return ""
	}
	value := "max-age=" + strconv.FormatInt(int64(h.HSTSMaxAge/time.Second), 10)
	if h.HSTSIncludeSubdomains {
		value += "; includeSubDomains"
	}
	return value
}

// Middleware sets the headers before the handler writes.
func (h Headers) Middleware(next http.Handler) http.Handler {
	if !h.Enable {
		return next
	}
	hsts := h.hsts()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers := w.Header()
		for _, kv := range apiHeaders {
			headers.Set(kv[0], kv[1])
		}
		if hsts != "" && r.TLS != nil {
			headers.Set("Strict-Transport-Security", hsts)
		}
		next.ServeHTTP(w, r)
	})
}

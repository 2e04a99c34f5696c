package shield

import "net/http"

// HeaderConfig lists the security headers set on every response. Empty
// fields are not sent.
type HeaderConfig struct {
	CSP                 string
	XFrameOptions       string
	XContentTypeOptions string
	ReferrerPolicy      string
	CacheControl        string
}

// DefaultHeaders returns the header set for a JSON API: nothing may be
// framed, sniffed or cached, and responses load no sub-resources.
func DefaultHeaders() HeaderConfig {
	return HeaderConfig{
		CSP:                 "default-src 'none'; frame-ancestors 'none'",
		XFrameOptions:       "DENY",
		XContentTypeOptions: "nosniff",
		ReferrerPolicy:      "no-referrer",
		CacheControl:        "no-store",
	}
}

func (c HeaderConfig) pairs() [][2]string {
	all := [][2]string{
		{"Content-Security-Policy", c.CSP},
		{"X-Frame-Options", c.XFrameOptions},
		{"X-Content-Type-Options", c.XContentTypeOptions},
		{"Referrer-Policy", c.ReferrerPolicy},
		{"Cache-Control", c.CacheControl},
	}
	out := all[:0]
	for _, p := range all {
		if p[1] != "" {
			out = append(out, p)
		}
	}
	return out
}

// SecurityHeaders returns middleware that sets cfg's headers before the
// handler runs, so error responses carry them too.
func SecurityHeaders(cfg HeaderConfig) func(http.Handler) http.Handler {
	set := cfg.pairs()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			for _, p := range set {
				h.Set(p[0], p[1])
			}
			next.ServeHTTP(w, r)
		})
	}
}

package shield

import "net/http"

// MaxBody returns middleware that caps every request body at maxBytes.
// Reads past the cap fail with *http.MaxBytesError. maxBytes <= 0 disables
// the cap.
func MaxBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if maxBytes > 0 && r.Body != nil {
				if r.ContentLength > maxBytes {
					w.Header().Set("Connection", "close")
					http.Error(w, `{"status":"error","message":"request body too large"}`, http.StatusRequestEntityTooLarge)
					return
				}
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

package httpmw

import (
	"net/http"
)

// MaxBody caps request bodies at limit bytes. A declared Content-Length over
// the cap is refused with 413 before the handler runs, so an oversized
// archive upload is not streamed to disk first. Chunked bodies are cut off by
// http.MaxBytesReader, and the handler sees *http.MaxBytesError on read.
func MaxBody(limit int64) Middleware {
	return func(next http.Handler) http.Handler {
		if limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				WriteJSONError(w, http.StatusRequestEntityTooLarge)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}

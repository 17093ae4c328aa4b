package httpmw

import "net/http"

// Middleware wraps a handler.
type Middleware = func(http.Handler) http.Handler

// Chain wraps h so that mws[0] sees the request first. Nil entries are
// skipped, which lets callers list optional middleware inline.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := range mws {
		mw := mws[len(mws)-1-i]
		if mw != nil {
			h = mw(h)
		}
	}
	return h
}

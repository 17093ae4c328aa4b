package health

import "net/http"

// HealthzHandler answers 200 "ok" when p passes, 503 with the reason otherwise.
// A nil checker always passes.
func HealthzHandler(p Checker) http.HandlerFunc {
	return handler(p, "ok\n")
}

// ReadyzHandler answers 200 "ready" when p passes, 503 with the reason otherwise.
func ReadyzHandler(p Checker) http.HandlerFunc {
	return handler(p, "ready\n")
}

func handler(p Checker, okBody string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		if p != nil {
			if err := p.Check(r.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(okBody))
	}
}

package httpmw

import (
	"net/http"
	"strconv"
)

// WriteJSONError writes {"error":"<status text>"}, the body every
// middleware-generated failure shares with the API's own errors.
func WriteJSONError(w http.ResponseWriter, status int) {
	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":` + strconv.Quote(http.StatusText(status)) + "}\n"))
}

package httpmw

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientIPWithOptions(t *testing.T) {
	tests := []struct {
		name       string
		remote     string
		xff        string
		hops       int
		want       string
		keepHeader bool
	}{
		{"public peer ignores xff", "203.0.113.9:4000", "198.51.100.1", 1, "203.0.113.9", false},
		{"no hops ignores xff", "10.0.0.2:4000", "198.51.100.1", 0, "10.0.0.2", false},
		{"one hop takes last entry", "10.0.0.2:4000", "198.51.100.7, 198.51.100.1", 1, "198.51.100.1", true},
		{"two hops takes second from end", "10.0.0.2:4000", "198.51.100.7, 198.51.100.1", 2, "198.51.100.7", true},
		{"short chain fails closed", "10.0.0.2:4000", "198.51.100.1", 3, "10.0.0.2", false},
		{"garbage entry falls back to peer", "10.0.0.2:4000", "not-an-ip", 1, "10.0.0.2", true},
		{"malformed remote", "nonsense", "", 1, "nonsense", false},
		{"unparseable host", "host.internal:80", "", 1, "0.0.0.0", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got, gotXFF string
			h := ClientIPWithOptions(ClientIPOptions{TrustedHops: tt.hops})(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				got = ClientIPFromContext(r.Context())
				gotXFF = r.Header.Get("X-Forwarded-For")
			}))
			req := httptest.NewRequest(http.MethodPost, "/unzip", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
				req.Header.Set("X-Forwarded-Proto", "https")
			}
			h.ServeHTTP(httptest.NewRecorder(), req)

			if got != tt.want {
				t.Fatalf("client ip = %q, want %q", got, tt.want)
			}
			if tt.xff != "" && (gotXFF != "") != tt.keepHeader {
				t.Fatalf("X-Forwarded-For kept = %v, want %v", gotXFF != "", tt.keepHeader)
			}
		})
	}
}

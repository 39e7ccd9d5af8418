package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/JonMunkholm/helios/internal/core"
)

func TestTrustedRealIP(t *testing.T) {
	tests := []struct {
		name    string
		trusted []string
		remote  string
		headers map[string]string
		want    string
	}{
		{
			name:   "no proxies strips port",
			remote: "203.0.113.9:5555",
			want:   "203.0.113.9",
		},
		{
			name:    "untrusted source ignores header",
			trusted: []string{"10.0.0.0/8"},
			remote:  "203.0.113.9:5555",
			headers: map[string]string{"X-Real-IP": "1.2.3.4"},
			want:    "203.0.113.9",
		},
		{
			name:    "trusted proxy real ip",
			trusted: []string{"10.0.0.0/8"},
			remote:  "10.1.2.3:4444",
			headers: map[string]string{"X-Real-IP": "198.51.100.7"},
			want:    "198.51.100.7",
		},
		{
			name:    "trusted proxy forwarded chain takes first hop",
			trusted: []string{"10.0.0.1"},
			remote:  "10.0.0.1:80",
			headers: map[string]string{"X-Forwarded-For": "198.51.100.8, 10.0.0.1"},
			want:    "198.51.100.8",
		},
		{
			name:    "invalid header keeps remote",
			trusted: []string{"10.0.0.0/8"},
			remote:  "10.1.2.3:4444",
			headers: map[string]string{"X-Real-IP": "not-an-ip"},
			want:    "10.1.2.3",
		},
		{
			name:    "invalid real ip falls back to forwarded chain",
			trusted: []string{"10.0.0.0/8"},
			remote:  "10.1.2.3:4444",
			headers: map[string]string{"X-Real-IP": "not-an-ip", "X-Forwarded-For": "198.51.100.9, 10.1.2.3"},
			want:    "198.51.100.9",
		},
		{
			name:    "real ip wins over forwarded chain",
			trusted: []string{"10.0.0.0/8"},
			remote:  "10.1.2.3:4444",
			headers: map[string]string{"X-Real-IP": "198.51.100.7", "X-Forwarded-For": "198.51.100.9"},
			want:    "198.51.100.7",
		},
		{
			name:    "both headers invalid keeps remote",
			trusted: []string{"10.0.0.0/8"},
			remote:  "10.1.2.3:4444",
			headers: map[string]string{"X-Real-IP": "nope", "X-Forwarded-For": "also-nope"},
			want:    "10.1.2.3",
		},
		{
			name:    "invalid trusted entry is skipped",
			trusted: []string{"bogus", "10.0.0.0/8"},
			remote:  "10.9.9.9:1",
			headers: map[string]string{"X-Forwarded-For": "192.0.2.1"},
			want:    "192.0.2.1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotAddr, gotCtx string
			h := TrustedRealIP(tt.trusted)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotAddr = r.RemoteAddr
				gotCtx = core.GetIPAddressFromContext(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)

			assert.Equal(t, tt.want, gotAddr)
			assert.Equal(t, tt.want, gotCtx)
		})
	}
}

func TestLogger_CapturesStatusAndBytes(t *testing.T) {
	var rw *responseWriter
	h := Logger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw = w.(*responseWriter)
		w.WriteHeader(http.StatusCreated)
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("hello"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/upload-file-data", nil))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, http.StatusCreated, rw.status)
	assert.Equal(t, 5, rw.bytes)
	assert.Equal(t, rec, rw.Unwrap())
}

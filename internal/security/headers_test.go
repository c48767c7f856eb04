package security

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(mw gin.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	router := gin.New()
	router.Use(mw)
	router.GET("/t", func(c *gin.Context) { c.String(200, "ok") })
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHardeningHeaders(t *testing.T) {
	w := serve(HeadersMiddleware(), httptest.NewRequest("GET", "/t", nil))

	want := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"X-XSS-Protection":       "1; mode=block",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
	}
	for header, expected := range want {
		if got := w.Header().Get(header); got != expected {
			t.Errorf("%s = %q, want %q", header, got, expected)
		}
	}

	csp := w.Header().Get("Content-Security-Policy")
	if !strings.Contains(csp, "frame-ancestors 'none'") {
		t.Errorf("CSP missing frame-ancestors: %q", csp)
	}
	if !strings.Contains(csp, "wss:") {
		t.Errorf("CSP must allow websocket connections: %q", csp)
	}
}

func TestCORSOriginMatrix(t *testing.T) {
	tests := []struct {
		name         string
		allowed      []string
		origin       string
		expectAllow  bool
		expectCreds  bool
	}{
		{"explicit origin allowed", []string{"https://app.example.com"}, "https://app.example.com", true, true},
		{"explicit origin rejected", []string{"https://app.example.com"}, "https://evil.test", false, false},
		{"wildcard allows anything", []string{"*"}, "https://anything.test", true, false},
		{"empty list allows anything", nil, "https://anything.test", true, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/t", nil)
			req.Header.Set("Origin", tc.origin)
			w := serve(CORSMiddleware(tc.allowed), req)

			gotAllow := w.Header().Get("Access-Control-Allow-Origin") != ""
			if gotAllow != tc.expectAllow {
				t.Errorf("Allow-Origin present = %v, want %v", gotAllow, tc.expectAllow)
			}
			gotCreds := w.Header().Get("Access-Control-Allow-Credentials") == "true"
			if gotCreds != tc.expectCreds {
				t.Errorf("Allow-Credentials = %v, want %v", gotCreds, tc.expectCreds)
			}
		})
	}
}

func TestCORSPreflightShortCircuits(t *testing.T) {
	req := httptest.NewRequest("OPTIONS", "/t", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := serve(CORSMiddleware([]string{"*"}), req)

	if w.Code != http.StatusNoContent {
		t.Errorf("Preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if w.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Error("Access-Control-Allow-Methods not set on preflight")
	}
}

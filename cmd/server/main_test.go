package main

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/tariel-x/meshcall/internal/auth"
	"github.com/tariel-x/meshcall/internal/handlers"
)

func TestNormalizeDomain(t *testing.T) {
	if got := normalizeDomain("  WWW.Example.COM "); got != "example.com" {
		t.Fatalf("unexpected %q", got)
	}
}

func TestGenerateSelfSignedCert(t *testing.T) {
	certPEM, keyPEM, err := generateSelfSignedCert([]string{"127.0.0.1:8443", "calls.local"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := tls.X509KeyPair(certPEM, keyPEM); err != nil {
		t.Fatalf("key pair: %v", err)
	}
}

func TestSlogGinLoggerRedactsToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	r := gin.New()
	r.Use(slogGinLogger(logger))
	r.GET("/api/ws", func(c *gin.Context) { c.Status(http.StatusUnauthorized) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/ws?token=secret", nil))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("bad log line %q: %v", buf.String(), err)
	}
	if strings.Contains(buf.String(), "secret") || entry["status"] != float64(http.StatusUnauthorized) {
		t.Fatalf("unexpected log entry %v", entry)
	}
}

func TestSlogGinLoggerTagsWebSocketSessions(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	r := gin.New()
	r.Use(slogGinLogger(logger))
	r.GET("/api/ws", func(c *gin.Context) {
		c.Set(auth.ContextUserID, "alice")
		c.Set(handlers.ContextConnID, "conn-1")
		c.Status(http.StatusSwitchingProtocols)
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/ws?token=secret", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected only the ws session at info, got %q", buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("bad log line %q: %v", lines[0], err)
	}
	if entry["msg"] != "ws session" || entry["conn_id"] != "conn-1" || entry["user_id"] != "alice" {
		t.Fatalf("unexpected log entry %v", entry)
	}
}

func TestTLSErrorFilter(t *testing.T) {
	var buf bytes.Buffer
	f := &tlsErrorFilter{writer: &buf}
	_, _ = f.Write([]byte(`http: TLS handshake error from 1.2.3.4: acme/autocert: host "x" not configured`))
	if buf.Len() != 0 {
		t.Fatalf("refused-host handshake error should be dropped")
	}
	_, _ = f.Write([]byte("http: Accept error"))
	if buf.Len() == 0 {
		t.Fatalf("other errors should pass through")
	}
}

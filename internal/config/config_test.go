package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("JWT_SECRET", "")
	t.Setenv("HTTP_PORT", "")
	t.Setenv("RING_TIMEOUT", "90")
	t.Setenv("DIRECTORY_TIMEOUT", "500ms")

	cfg := load(dir, Flags{}, quiet())

	if cfg.HTTPPort != "8080" || cfg.HTTPSPort != "8443" {
		t.Fatalf("unexpected ports %s/%s", cfg.HTTPPort, cfg.HTTPSPort)
	}
	if cfg.RingTimeout != 90*time.Second || cfg.DirectoryTimeout != 500*time.Millisecond {
		t.Fatalf("unexpected timeouts %v %v", cfg.RingTimeout, cfg.DirectoryTimeout)
	}
	if cfg.DatabasePath != filepath.Join(dir, "meshcall.db") {
		t.Fatalf("unexpected database path %s", cfg.DatabasePath)
	}
	if cfg.JWTSecret == "" {
		t.Fatalf("expected generated JWT secret")
	}
	if cfg.VAPIDKeys == nil || cfg.VAPIDKeys.PublicKey == "" {
		t.Fatalf("expected generated VAPID keys")
	}

	again := load(dir, Flags{}, quiet())
	if again.JWTSecret != cfg.JWTSecret || again.VAPIDKeys.PrivateKey != cfg.VAPIDKeys.PrivateKey {
		t.Fatalf("secrets should persist across loads")
	}
}

func TestLoadFromJSONAndFlags(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("JWT_SECRET", "s3cret")
	body := `{"http_port":"9000","domain":"calls.example.com","send_buffer":8}`
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(body), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	httpOnly := true
	frontend := "http://localhost:5173"
	cfg := load(dir, Flags{HTTPOnly: &httpOnly, FrontendURI: &frontend}, quiet())

	if cfg.HTTPPort != "9000" || cfg.Domain != "calls.example.com" || cfg.SendBuffer != 8 {
		t.Fatalf("config.json values not applied: %+v", cfg)
	}
	if !cfg.HTTPOnly || cfg.FrontendURI != frontend {
		t.Fatalf("flags not applied: %+v", cfg)
	}
	if cfg.JWTSecret != "s3cret" {
		t.Fatalf("env secret not used")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"bogus": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

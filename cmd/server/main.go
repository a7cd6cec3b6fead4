package main

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/acme/autocert"

	"github.com/tariel-x/meshcall/internal/auth"
	"github.com/tariel-x/meshcall/internal/calls"
	"github.com/tariel-x/meshcall/internal/config"
	"github.com/tariel-x/meshcall/internal/database"
	"github.com/tariel-x/meshcall/internal/directory"
	"github.com/tariel-x/meshcall/internal/handlers"
	"github.com/tariel-x/meshcall/internal/presence"
	"github.com/tariel-x/meshcall/internal/push"
	"github.com/tariel-x/meshcall/internal/registry"
	"github.com/tariel-x/meshcall/internal/signaling"
	"github.com/tariel-x/meshcall/internal/transport"
)

const AppVersion = "1.0.0"

// Build timestamp - set at compile time or use current time
var buildTimestamp = time.Now().Unix()

func main() {
	httpOnly := flag.Bool("http-only", false, "Serve plain HTTP (no Let's Encrypt), for running behind a proxy")
	selfSigned := flag.Bool("self-signed", false, "Enable HTTPS using a generated self-signed certificate")
	frontendURI := flag.String("frontend-uri", "", "Allowed CORS origin in --http-only mode")
	flag.Parse()

	bootLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	cfg := config.Load(config.Flags{HTTPOnly: httpOnly, FrontendURI: frontendURI}, bootLogger)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: config.ParseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	logger.Info(fmt.Sprintf("Meshcall Server v%s (build: %d)", AppVersion, buildTimestamp))

	if cfg.HTTPOnly && cfg.FrontendURI == "" {
		logger.Error("FRONTEND_URI is required when --http-only is specified")
		return
	}

	db, err := database.Initialize(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.DatabasePath, "error", err)
		return
	}

	users := directory.NewStore(db)
	names := directory.NewResolver(users, cfg.DirectoryTimeout, logger.With("component", "directory"))
	pushes := push.New(db, cfg.VAPIDKeys, logger.With("component", "push"))

	online := presence.New()
	reg := registry.New()
	hub := transport.NewHub()
	router := signaling.New(online, reg, hub, logger.With("component", "signaling"))
	service := calls.NewService(reg, online, router, names, logger.With("component", "calls"),
		calls.WithNotifier(pushes),
		calls.WithRingTimeout(cfg.RingTimeout),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go service.RunSweeper(ctx)

	h := handlers.New(handlers.Deps{
		Config:   cfg,
		Tokens:   auth.NewTokens(cfg.JWTSecret, 30*24*time.Hour),
		Users:    users,
		Names:    names,
		Presence: online,
		Registry: reg,
		Calls:    service,
		Router:   router,
		Hub:      hub,
		Push:     pushes,
		Logger:   logger.With("component", "http"),
	})

	startServer(ctx, setupRouter(h, cfg, logger), cfg, *selfSigned, logger)
}

func setupRouter(h *handlers.Handlers, cfg *config.Config, logger *slog.Logger) *gin.Engine {
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery(), slogGinLogger(logger))

	router.Use(func(c *gin.Context) {
		origin := "*"
		if cfg.HTTPOnly && cfg.FrontendURI != "" {
			origin = cfg.FrontendURI
		}
		c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	h.Routes(router)
	return router
}

func newServer(addr string, handler http.Handler, logger *slog.Logger) *http.Server {
	return &http.Server{
		Addr:        addr,
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
		ErrorLog:    log.New(newTLSErrorWriter(logger), "", 0),
	}
}

// serve runs srv until ctx is cancelled, then drains it.
func serve(ctx context.Context, srv *http.Server, listen func() error, logger *slog.Logger) {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := listen(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "addr", srv.Addr, "error", err)
	}
}

func startServer(ctx context.Context, router *gin.Engine, cfg *config.Config, selfSigned bool, logger *slog.Logger) {
	if cfg.HTTPOnly {
		srv := newServer(":"+cfg.HTTPPort, router, logger)
		logger.Info("Starting HTTP server", "port", cfg.HTTPPort, "frontend_uri", cfg.FrontendURI)
		serve(ctx, srv, srv.ListenAndServe, logger)
		return
	}

	if selfSigned {
		startSelfSignedHTTPS(ctx, router, cfg, logger)
		return
	}

	certsDir := getCertsDirectory()
	if err := os.MkdirAll(certsDir, 0700); err != nil {
		logger.Error("Failed to create certs directory", "error", err)
		return
	}

	domain := normalizeDomain(cfg.Domain)
	m := &autocert.Manager{
		Prompt: autocert.AcceptTOS,
		HostPolicy: func(ctx context.Context, host string) error {
			if normalizeDomain(host) != domain {
				return fmt.Errorf("host %q not configured (expected %q)", host, domain)
			}
			return nil
		},
		Cache: autocert.DirCache(certsDir),
	}

	// ACME challenges on the plain port, everything else redirected.
	redirect := newServer(":"+cfg.HTTPPort, m.HTTPHandler(nil), logger)
	go serve(ctx, redirect, redirect.ListenAndServe, logger)

	srv := newServer(":"+cfg.HTTPSPort, router, logger)
	srv.TLSConfig = m.TLSConfig()

	logger.Info("HTTPS server starting", "port", cfg.HTTPSPort, "domain", domain, "certs_dir", certsDir)
	if domain == "localhost" || domain == "127.0.0.1" {
		logger.Warn("Let's Encrypt will not work for localhost. Use --self-signed for local development.")
	}
	serve(ctx, srv, func() error { return srv.ListenAndServeTLS("", "") }, logger)
}

func startSelfSignedHTTPS(ctx context.Context, router *gin.Engine, cfg *config.Config, logger *slog.Logger) {
	hosts := []string{"localhost"}
	if cfg.Domain != "" {
		hosts = []string{cfg.Domain}
	}
	certPEM, keyPEM, err := generateSelfSignedCert(hosts)
	if err != nil {
		logger.Error("Failed to generate self-signed certificate", "error", err)
		return
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		logger.Error("Failed to load self-signed certificate", "error", err)
		return
	}

	srv := newServer(":"+cfg.HTTPSPort, router, logger)
	srv.TLSConfig = &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	redirect := newServer(":"+cfg.HTTPPort, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if idx := strings.Index(host, ":"); idx != -1 {
			host = host[:idx]
		}
		target := "https://" + host + ":" + cfg.HTTPSPort + r.URL.RequestURI()
		http.Redirect(w, r, target, http.StatusMovedPermanently)
	}), logger)
	go serve(ctx, redirect, redirect.ListenAndServe, logger)

	logger.Info("HTTPS server (self-signed) starting", "port", cfg.HTTPSPort, "hosts", hosts)
	serve(ctx, srv, func() error { return srv.ListenAndServeTLS("", "") }, logger)
}

func getCertsDirectory() string {
	execPath, err := os.Executable()
	if err != nil {
		return "certs"
	}
	return filepath.Join(filepath.Dir(execPath), "certs")
}

// normalizeDomain lowercases and strips a leading "www.".
func normalizeDomain(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	return strings.TrimPrefix(domain, "www.")
}

func generateSelfSignedCert(hosts []string) (certPEM, keyPEM []byte, err error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	var dnsNames []string
	var ipAddrs []net.IP
	for _, h := range hosts {
		h = strings.TrimSpace(h)
		if idx := strings.Index(h, ":"); idx != -1 {
			h = h[:idx]
		}
		if h == "" {
			continue
		}
		if ip := net.ParseIP(h); ip != nil {
			ipAddrs = append(ipAddrs, ip)
			continue
		}
		dnsNames = append(dnsNames, h)
	}
	if len(dnsNames) == 0 && len(ipAddrs) == 0 {
		dnsNames = []string{"localhost"}
	}
	var commonName string
	if len(dnsNames) > 0 {
		commonName = dnsNames[0]
	} else {
		commonName = ipAddrs[0].String()
	}

	notBefore := time.Now()
	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"Meshcall Development"},
			CommonName:   commonName,
		},
		NotBefore:             notBefore,
		NotAfter:              notBefore.Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              dnsNames,
		IPAddresses:           ipAddrs,
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create certificate: %w", err)
	}
	privBytes, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	certBuffer := new(bytes.Buffer)
	if err := pem.Encode(certBuffer, &pem.Block{Type: "CERTIFICATE", Bytes: derBytes}); err != nil {
		return nil, nil, fmt.Errorf("failed to encode certificate: %w", err)
	}
	keyBuffer := new(bytes.Buffer)
	if err := pem.Encode(keyBuffer, &pem.Block{Type: "EC PRIVATE KEY", Bytes: privBytes}); err != nil {
		return nil, nil, fmt.Errorf("failed to encode private key: %w", err)
	}
	return certBuffer.Bytes(), keyBuffer.Bytes(), nil
}

package config

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
)

type Config struct {
	HTTPPort     string `json:"http_port"`
	HTTPSPort    string `json:"https_port"`
	Domain       string `json:"domain"`
	HTTPOnly     bool   `json:"http_only"`
	FrontendURI  string `json:"frontend_uri"`
	DatabasePath string `json:"database_path"`
	LogLevel     string `json:"log_level"`

	DirectoryTimeout time.Duration `json:"-"`
	RingTimeout      time.Duration `json:"-"`
	SendBuffer       int           `json:"send_buffer"`

	JWTSecret string     `json:"-"`
	VAPIDKeys *VAPIDKeys `json:"-"`
}

type VAPIDKeys struct {
	PublicKey  string
	PrivateKey string
	Subject    string
}

// Flags carries command-line overrides; nil fields are left alone.
type Flags struct {
	HTTPOnly    *bool
	FrontendURI *string
}

const defaultVAPIDSubject = "mailto:admin@meshcall.local"

// LoadConfigFromJSON loads configuration from config.json next to the executable.
func LoadConfigFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config.json: %w", err)
	}
	return &cfg, nil
}

// Load reads config.json (if present), fills the gaps from the environment and
// applies command-line overrides. Secrets never come from config.json.
func Load(flags Flags, logger *slog.Logger) *Config {
	return load(executableDir(), flags, logger)
}

func load(baseDir string, flags Flags, logger *slog.Logger) *Config {
	cfg, err := LoadConfigFromJSON(filepath.Join(baseDir, "config.json"))
	if err == nil {
		logger.Info("custom configuration loaded", "path", filepath.Join(baseDir, "config.json"))
	} else {
		cfg = &Config{}
	}

	if cfg.HTTPPort == "" {
		cfg.HTTPPort = getEnv("HTTP_PORT", "8080")
	}
	if cfg.HTTPSPort == "" {
		cfg.HTTPSPort = getEnv("HTTPS_PORT", "8443")
	}
	if cfg.Domain == "" {
		cfg.Domain = getEnv("DOMAIN", "localhost")
	}
	if !cfg.HTTPOnly {
		cfg.HTTPOnly = getEnvBool("HTTP_ONLY", false)
	}
	if cfg.FrontendURI == "" {
		cfg.FrontendURI = os.Getenv("FRONTEND_URI")
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = getEnv("DATABASE_PATH", filepath.Join(baseDir, "meshcall.db"))
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = getEnvInt("SEND_BUFFER", 256)
	}
	cfg.DirectoryTimeout = getEnvDuration("DIRECTORY_TIMEOUT", 2*time.Second)
	cfg.RingTimeout = getEnvDuration("RING_TIMEOUT", 60*time.Second)

	if flags.HTTPOnly != nil && *flags.HTTPOnly {
		cfg.HTTPOnly = true
	}
	if flags.FrontendURI != nil && *flags.FrontendURI != "" {
		cfg.FrontendURI = *flags.FrontendURI
	}

	keysDir := filepath.Join(baseDir, "keys")
	cfg.JWTSecret = loadOrGenerateJWTSecret(keysDir, logger)
	cfg.VAPIDKeys = loadVAPIDKeys(keysDir, logger)
	return cfg
}

// ParseLevel maps LOG_LEVEL onto slog levels, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s") or plain seconds ("90").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func executableDir() string {
	execPath, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(execPath)
}

func generateRandomSecret() string {
	bytes := make([]byte, 32)
	_, _ = rand.Read(bytes)
	return base64.URLEncoding.EncodeToString(bytes)
}

func loadOrGenerateJWTSecret(keysDir string, logger *slog.Logger) string {
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		return secret
	}

	secretFile := filepath.Join(keysDir, "jwt-secret.key")
	if data, err := os.ReadFile(secretFile); err == nil {
		if secret := strings.TrimSpace(string(data)); secret != "" {
			return secret
		}
	}

	secret := generateRandomSecret()
	if err := writeKeyFile(keysDir, "jwt-secret.key", secret); err != nil {
		logger.Warn("failed to persist JWT secret, it will change on restart", "error", err)
	} else {
		logger.Info("JWT secret generated", "path", secretFile)
	}
	return secret
}

func loadVAPIDKeys(keysDir string, logger *slog.Logger) *VAPIDKeys {
	subject := getEnv("VAPID_SUBJECT", defaultVAPIDSubject)

	publicKey := os.Getenv("VAPID_PUBLIC_KEY")
	privateKey := os.Getenv("VAPID_PRIVATE_KEY")
	if publicKey != "" && privateKey != "" {
		return &VAPIDKeys{PublicKey: publicKey, PrivateKey: privateKey, Subject: subject}
	}

	pub, errPub := os.ReadFile(filepath.Join(keysDir, "vapid-public.key"))
	priv, errPriv := os.ReadFile(filepath.Join(keysDir, "vapid-private.key"))
	if errPub == nil && errPriv == nil {
		privateKey = strings.TrimSpace(string(priv))
		// webpush expects the raw 32-byte scalar
		if raw, err := base64.RawURLEncoding.DecodeString(privateKey); err == nil && len(raw) == 32 {
			return &VAPIDKeys{PublicKey: strings.TrimSpace(string(pub)), PrivateKey: privateKey, Subject: subject}
		}
		logger.Warn("stored VAPID key is malformed, regenerating", "dir", keysDir)
	}

	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		logger.Error("failed to generate VAPID keys, push disabled", "error", err)
		return nil
	}
	if err := writeKeyFile(keysDir, "vapid-public.key", publicKey); err == nil {
		err = writeKeyFile(keysDir, "vapid-private.key", privateKey)
	}
	if err != nil {
		logger.Warn("failed to persist VAPID keys, they will change on restart", "error", err)
	}
	return &VAPIDKeys{PublicKey: publicKey, PrivateKey: privateKey, Subject: subject}
}

func writeKeyFile(dir, name, value string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create keys directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(value), 0600); err != nil {
		return fmt.Errorf("failed to save %s: %w", name, err)
	}
	return nil
}

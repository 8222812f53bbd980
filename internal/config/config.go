package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	ModeLocal     = "local"
	ModeFederated = "federated"

	DefaultJWKSURL = "https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com"
)

// Config is built once at startup and passed down explicitly.
type Config struct {
	Addr     string
	LogLevel string

	DatabaseURL string

	JWTAccessSecret  []byte
	JWTRefreshSecret []byte
	AccessTTL        time.Duration
	RefreshTTL       time.Duration
	BcryptCost       int

	AuthMode         string
	CredentialsFile  string
	FederatedProject string
	JWKSURL          string

	KafkaBrokers []string
	KafkaTopic   string

	RedisURL string
}

// Load reads .env when present and then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("notice: .env file not loaded: %v. Using system environment variables", err)
	}

	cfg := Config{
		Addr:     EnvDefault("AUTH_ADDR", ":8080"),
		LogLevel: EnvDefault("LOG_LEVEL", "info"),

		DatabaseURL: os.Getenv("DATABASE_URL"),

		JWTAccessSecret:  []byte(os.Getenv("JWT_SECRET")),
		JWTRefreshSecret: []byte(os.Getenv("JWT_REFRESH_SECRET")),
		AccessTTL:        time.Duration(EnvIntDefault("ACCESS_TOKEN_EXPIRE_MINUTES", 30)) * time.Minute,
		RefreshTTL:       time.Duration(EnvIntDefault("REFRESH_TOKEN_EXPIRE_DAYS", 7)) * 24 * time.Hour,
		BcryptCost:       EnvIntDefault("BCRYPT_COST", 0),

		AuthMode:        strings.ToLower(EnvDefault("AUTH_MODE", ModeLocal)),
		CredentialsFile: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		JWKSURL:         EnvDefault("FEDERATED_JWKS_URL", DefaultJWKSURL),

		KafkaBrokers: CSV(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:   EnvDefault("KAFKA_USER_TOPIC", "user_events"),

		RedisURL: os.Getenv("REDIS_URL"),
	}

	switch cfg.AuthMode {
	case ModeLocal:
		if len(cfg.JWTAccessSecret) > 0 && bytes.Equal(cfg.JWTAccessSecret, cfg.JWTRefreshSecret) {
			return Config{}, fmt.Errorf("JWT_SECRET and JWT_REFRESH_SECRET must differ")
		}
	case ModeFederated:
		project, err := ProjectIDFromCredentials(cfg.CredentialsFile)
		if err != nil {
			return Config{}, err
		}
		cfg.FederatedProject = project
	default:
		return Config{}, fmt.Errorf("AUTH_MODE must be %q or %q, got %q", ModeLocal, ModeFederated, cfg.AuthMode)
	}

	return cfg, nil
}

// Federated reports whether identity comes from the external provider.
func (c Config) Federated() bool { return c.AuthMode == ModeFederated }

// ProjectIDFromCredentials reads project_id from a service account JSON file.
func ProjectIDFromCredentials(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("GOOGLE_APPLICATION_CREDENTIALS is required in federated mode")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read credentials: %w", err)
	}
	var creds struct {
		ProjectID string `json:"project_id"`
	}
	if err := json.Unmarshal(data, &creds); err != nil {
		return "", fmt.Errorf("parse credentials: %w", err)
	}
	if creds.ProjectID == "" {
		return "", fmt.Errorf("credentials file %s has no project_id", path)
	}
	return creds.ProjectID, nil
}

func CSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func EnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func EnvIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func MustNonEmpty(value []byte, envName string) {
	if len(value) == 0 {
		log.Fatalf("missing required env %s", envName)
	}
}

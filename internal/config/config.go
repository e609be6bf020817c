// Package config loads application configuration from environment variables.
package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/quantrail/trade-gateway/internal/cryptox"
)

// Config holds all runtime configuration values. Each field corresponds to
// an environment variable. Secrets are loaded once at startup; a malformed
// secret is a deployment error and aborts the process rather than surfacing
// per-request.
type Config struct {
	Env  string // application environment (e.g. "dev", "prod")
	Port string // HTTP port to listen on

	DBUser string // database username
	DBPass string // database password (optional)
	DBHost string // database host address
	DBPort string // database port number
	DBName string // database name

	AccessSecret   string // secret signing access tokens
	RefreshSecret  string // secret signing refresh tokens (must differ)
	AccessTTLMin   int    // access token time-to-live in minutes
	RefreshTTLDays int    // refresh token time-to-live in days
	BcryptCost     int    // bcrypt cost for password hashing

	AlgoURL string // base URL of the external trading engine
	AlgoKey string // pre-shared HMAC key for engine calls

	MasterKey []byte // 32-byte key encrypting broker credentials at rest

	CookieSecure bool   // mark the refresh cookie Secure
	CookieDomain string // optional cookie domain

	AuthRateMax    int           // max auth requests per window per IP+route
	AuthRateWindow time.Duration // rate limit window for auth endpoints
}

// Load reads configuration values from environment variables and returns a
// Config. Required variables are enforced by must() and missing or invalid
// values cause the program to exit with a fatal log message.
func Load() Config {
	masterKey, err := cryptox.ParseMasterKey(must("BROKER_KEY_MASTER_KEY"))
	if err != nil {
		log.Fatalf("invalid BROKER_KEY_MASTER_KEY: %v", err)
	}
	cfg := Config{
		Env:            must("APP_ENV"),
		Port:           must("APP_PORT"),
		DBUser:         must("DB_USER"),
		DBPass:         os.Getenv("DB_PASS"), // empty allowed
		DBHost:         must("DB_HOST"),
		DBPort:         must("DB_PORT"),
		DBName:         must("DB_NAME"),
		AccessSecret:   must("JWT_ACCESS_SECRET"),
		RefreshSecret:  must("JWT_REFRESH_SECRET"),
		AccessTTLMin:   mustInt("ACCESS_TOKEN_TTL_MIN"),
		RefreshTTLDays: mustInt("REFRESH_TOKEN_TTL_DAYS"),
		BcryptCost:     mustInt("BCRYPT_COST"),
		AlgoURL:        must("ALGO_BACKEND_URL"),
		AlgoKey:        must("ALGO_BACKEND_KEY"),
		MasterKey:      masterKey,
		CookieSecure:   os.Getenv("COOKIE_SECURE") == "true",
		CookieDomain:   os.Getenv("COOKIE_DOMAIN"),
		AuthRateMax:    envInt("RATE_LIMIT_AUTH_MAX", 20),
		AuthRateWindow: envDur("RATE_LIMIT_AUTH_WINDOW", 15*time.Minute),
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		log.Fatal("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ")
	}
	return cfg
}

// AccessTTL returns the access token lifetime as a duration.
func (c Config) AccessTTL() time.Duration {
	return time.Duration(c.AccessTTLMin) * time.Minute
}

// RefreshTTL returns the refresh token lifetime as a duration.
func (c Config) RefreshTTL() time.Duration {
	return time.Duration(c.RefreshTTLDays) * 24 * time.Hour
}

// must retrieves the value of a required environment variable. If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

// mustInt is like must() but converts the retrieved string into an integer.
func mustInt(key string) int {
	s := must(key)
	n, err := strconv.Atoi(s)
	if err != nil {
		log.Fatalf("invalid int for %s: %q", key, s)
	}
	return n
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return def
}

func envDur(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return def
}

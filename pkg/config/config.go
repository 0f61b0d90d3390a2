package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	SessionStorageRedis    = "redis"
	SessionStoragePostgres = "postgres"
)

type Config struct {
	AppEnv         string
	HTTPAddr       string
	MigrationsPath string

	// PublicBaseURL is the externally reachable URL for this backend (required for webhook registration).
	// Example: https://your-ngrok-subdomain.ngrok-free.app
	PublicBaseURL string

	// SessionStorage selects where Shopify OAuth sessions live: "redis" (default) or "postgres".
	SessionStorage string

	// StoreTimeout bounds every single key-value store call.
	StoreTimeout time.Duration

	// DatabaseURL is only needed when SessionStorage is "postgres".
	// DIRECT_URL is preferred for migrations when set.
	DatabaseURL string
	DirectURL   string

	DB DBConfig

	Redis RedisConfig

	Shopify ShopifyConfig

	Identity IdentityConfig

	// AllowedOrigins is a comma-separated allowlist of origins allowed to call /api from a browser.
	AllowedOrigins []string
}

type DBConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	SSLMode  string
}

type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type ShopifyConfig struct {
	APIKey      string
	APISecret   string
	Scopes      string
	RedirectURL string

	// WebhookSecret defaults to APISecret; Shopify signs app webhooks with the app secret.
	WebhookSecret string

	APIVersion string

	// OnlineAccess requests per-user tokens (grant_options[]=per-user).
	OnlineAccess bool

	// SuccessPath is where the OAuth callback redirects after a successful install.
	SuccessPath string
}

type IdentityConfig struct {
	// CookieName carries the application session token (the identity provider's JWT).
	CookieName string

	// JWTSecret verifies HS256 tokens; JWTPublicKeyPEM verifies RS256 tokens. One is required.
	JWTSecret       string
	JWTPublicKeyPEM string
	Issuer          string

	// ProviderAPIURL and ProviderSecretKey enable a server-side session lookup
	// (GET {url}/v1/sessions/{sid}) after the token signature checks out.
	ProviderAPIURL    string
	ProviderSecretKey string
}

func Load() Config {
	// Convenience for local dev: load variables from .env if present.
	// In production, rely on real environment variables.
	_ = godotenv.Load()

	// Cloud Run sets PORT. Prefer it when HTTP_ADDR isn't explicitly set.
	httpAddr := os.Getenv("HTTP_ADDR")
	if httpAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			httpAddr = ":" + port
		} else {
			httpAddr = ":8081"
		}
	}

	apiSecret := os.Getenv("SHOPIFY_API_SECRET")

	return Config{
		AppEnv:         env("APP_ENV", "dev"),
		HTTPAddr:       httpAddr,
		MigrationsPath: os.Getenv("MIGRATIONS_PATH"),
		PublicBaseURL:  os.Getenv("PUBLIC_BASE_URL"),
		SessionStorage: strings.ToLower(env("SESSION_STORAGE", SessionStorageRedis)),
		StoreTimeout:   envDuration("STORE_TIMEOUT", 2*time.Second),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		DirectURL:      os.Getenv("DIRECT_URL"),
		DB: DBConfig{
			Host:     env("DB_HOST", "localhost"),
			Port:     env("DB_PORT", "5432"),
			Name:     env("DB_NAME", "shopauth"),
			User:     env("DB_USER", "shopauth"),
			Password: env("DB_PASSWORD", "shopauth"),
			SSLMode:  env("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			URL:          env("REDIS_URL", "redis://localhost:6379/0"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Shopify: ShopifyConfig{
			APIKey:        os.Getenv("SHOPIFY_API_KEY"),
			APISecret:     apiSecret,
			Scopes:        os.Getenv("SHOPIFY_SCOPES"),
			RedirectURL:   os.Getenv("SHOPIFY_REDIRECT_URL"),
			WebhookSecret: env("SHOPIFY_WEBHOOK_SECRET", apiSecret),
			APIVersion:    env("SHOPIFY_API_VERSION", "2025-10"),
			OnlineAccess:  envBool("SHOPIFY_ONLINE_ACCESS", true),
			SuccessPath:   env("SHOPIFY_SUCCESS_PATH", "/shopify/auth/success"),
		},
		Identity: IdentityConfig{
			CookieName:        env("IDENTITY_COOKIE_NAME", "__session"),
			JWTSecret:         os.Getenv("IDENTITY_JWT_SECRET"),
			JWTPublicKeyPEM:   os.Getenv("IDENTITY_JWT_PUBLIC_KEY"),
			Issuer:            os.Getenv("IDENTITY_ISSUER"),
			ProviderAPIURL:    os.Getenv("IDENTITY_API_URL"),
			ProviderSecretKey: os.Getenv("IDENTITY_SECRET_KEY"),
		},

		AllowedOrigins: envList("ALLOWED_ORIGINS", "http://localhost:3000"),
	}
}

func env(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envList(key, fallbackCSV string) []string {
	v := os.Getenv(key)
	if v == "" {
		v = fallbackCSV
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

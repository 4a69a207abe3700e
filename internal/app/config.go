package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
)

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds the complete application configuration, loadable from
// environment variables (SHOP_ prefix), a .env file, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (SHOP_DATABASE_URL or DATABASE_URL)"`
	Storage     StorageConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	Auth        AuthConfig
	Checkout    CheckoutConfig
	Cart        CartConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// StorageConfig selects the repository implementation.
type StorageConfig struct {
	Driver string `default:"postgres" usage:"Storage driver: postgres or memory"`
	// Seed loads the demo catalog and discounts. Always on for memory.
	Seed bool `default:"false" usage:"Load the demo dataset on startup"`
}

// RedisConfig enables the catalog cache when Addr is set.
type RedisConfig struct {
	Addr     string        `default:"" usage:"Redis address for the catalog cache; empty disables it"`
	Password string        `default:"" usage:"Redis password"`
	DB       int           `default:"0" usage:"Redis database"`
	TTL      time.Duration `default:"1m" usage:"Catalog cache entry TTL"`
}

// KafkaConfig enables order events when Brokers is set.
type KafkaConfig struct {
	Brokers string `default:"" usage:"Comma-separated Kafka brokers; empty disables events"`
	Topic   string `default:"orders.settled" usage:"Topic for order settled events"`
}

// AuthConfig holds the secrets for staff API keys and customer tokens.
type AuthConfig struct {
	APIKeyPepper string        `usage:"HMAC pepper for API key hashing"`
	JWTSecret    string        `usage:"HS256 secret for customer tokens"`
	TokenTTL     time.Duration `default:"24h" usage:"Customer token lifetime"`
	// SeedAPIKey is stored as the default staff key with the memory driver.
	SeedAPIKey string `default:"" usage:"Staff API key seeded with the memory driver"`
}

// CheckoutConfig tunes settlement.
type CheckoutConfig struct {
	CurrencyExponent int32         `default:"0" usage:"Minor-unit decimals amounts are rounded to"`
	ReserveRetries   int           `default:"5" usage:"Usage reservation attempts on version conflicts"`
	ReserveBackoff   time.Duration `default:"5ms" usage:"Initial backoff between reservation attempts"`
	RPS              float64       `default:"1" usage:"Checkout attempts per second per identity; 0 disables"`
	Burst            int           `default:"5" usage:"Checkout burst per identity"`
	// HoldTTL is how long a usage reservation may stay unsettled before the
	// sweep returns it to the counter.
	HoldTTL time.Duration `default:"15m" usage:"Unsettled usage reservations older than this are released; 0 disables"`
}

// CartConfig controls the expiry sweep of idle items. The same sweep releases
// stale usage reservations.
type CartConfig struct {
	IdleTTL       time.Duration `default:"72h" usage:"Active items idle for longer are expired; 0 disables"`
	SweepInterval time.Duration `default:"10m" usage:"How often idle items are swept"`
	SweepBatch    int           `default:"500" usage:"Max items expired per sweep"`
}

// RateLimitConfig controls the per-client token bucket rate limiter.
type RateLimitConfig struct {
	RPS   float64 `default:"20" usage:"Sustained requests per second per client"`
	Burst int     `default:"100" usage:"Burst size per client"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration"`
}

// LoadConfig loads .env, then configuration from environment variables and
// YAML config files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, errors.Wrap(err, "load .env")
	}

	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "SHOP",
		SkipFlags: true,
		Files:     []string{"config.yaml", "/etc/shop/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that depend on each other.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("database URL is required: set SHOP_DATABASE_URL or DATABASE_URL")
		}
	case DriverMemory:
	default:
		return errors.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Checkout.CurrencyExponent < 0 {
		return errors.New("currency exponent must not be negative")
	}
	if c.Checkout.ReserveRetries < 1 {
		return errors.New("reserve retries must be at least 1")
	}
	if c.Checkout.HoldTTL < 0 {
		return errors.New("hold TTL must not be negative")
	}
	if (c.Cart.IdleTTL > 0 || c.Checkout.HoldTTL > 0) && c.Cart.SweepInterval <= 0 {
		return errors.New("cart sweep interval must be positive")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's SHOP_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}

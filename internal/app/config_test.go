package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SHOP_STORAGE_DRIVER", "memory")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PORT", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr)
	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.Equal(t, time.Minute, cfg.Redis.TTL)
	assert.Equal(t, "orders.settled", cfg.Kafka.Topic)
	assert.Equal(t, 5, cfg.Checkout.ReserveRetries)
	assert.Equal(t, 72*time.Hour, cfg.Cart.IdleTTL)
	assert.Equal(t, 15*time.Minute, cfg.Checkout.HoldTTL)
	assert.Equal(t, []string{"*"}, cfg.CORS.Origins)
}

func TestLoadConfig_PlatformDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DATABASE_URL", "postgres://localhost/shop")
	t.Setenv("PORT", "9000")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, cfg.Storage.Driver)
	assert.Equal(t, "postgres://localhost/shop", cfg.DatabaseURL)
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			Storage:  StorageConfig{Driver: DriverMemory},
			Checkout: CheckoutConfig{ReserveRetries: 3},
			Cart:     CartConfig{IdleTTL: time.Hour, SweepInterval: time.Minute},
		}
	}
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "memory", mutate: func(*Config) {}},
		{name: "postgres without url", mutate: func(c *Config) { c.Storage.Driver = DriverPostgres }, wantErr: "database URL is required"},
		{name: "postgres with url", mutate: func(c *Config) {
			c.Storage.Driver = DriverPostgres
			c.DatabaseURL = "postgres://db"
		}},
		{name: "unknown driver", mutate: func(c *Config) { c.Storage.Driver = "sqlite" }, wantErr: "unknown storage driver"},
		{name: "negative exponent", mutate: func(c *Config) { c.Checkout.CurrencyExponent = -1 }, wantErr: "currency exponent"},
		{name: "no retries", mutate: func(c *Config) { c.Checkout.ReserveRetries = 0 }, wantErr: "reserve retries"},
		{name: "sweep without interval", mutate: func(c *Config) { c.Cart.SweepInterval = 0 }, wantErr: "sweep interval"},
		{name: "sweep disabled", mutate: func(c *Config) {
			c.Cart.IdleTTL = 0
			c.Cart.SweepInterval = 0
		}},
		{name: "hold sweep without interval", mutate: func(c *Config) {
			c.Cart.IdleTTL = 0
			c.Checkout.HoldTTL = time.Minute
			c.Cart.SweepInterval = 0
		}, wantErr: "sweep interval"},
		{name: "negative hold ttl", mutate: func(c *Config) { c.Checkout.HoldTTL = -time.Second }, wantErr: "hold TTL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

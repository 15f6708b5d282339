package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PLATFORM_SECRET", "SDUMMY")
	t.Setenv("CUSTODY_LOCAL_KEY", "a2V5")
	t.Setenv("PRICE_CACHE_TTL", "8s")
	t.Setenv("RECONCILE_ENABLED", "FALSE")
	t.Setenv("DB_MAX_OPEN_CONNS", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 8*time.Second, cfg.Pricing.CacheTTL)
	assert.False(t, cfg.Reconcile.Enabled)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
	assert.Equal(t, "local", cfg.Custody.Provider)
	assert.Equal(t, int64(300), cfg.Ledger.EnvelopeTimeout)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Environment: "development",
			JWT:         JWTConfig{SecretKey: "secret"},
			Ledger:      LedgerConfig{PlatformSecret: "SDUMMY", Timeout: time.Second},
			Oracle:      OracleConfig{Timeout: time.Second},
			Custody:     CustodyConfig{Provider: "local", LocalKey: "a2V5"},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing platform secret", func(c *Config) { c.Ledger.PlatformSecret = "" }},
		{"local custody without key", func(c *Config) { c.Custody.LocalKey = "" }},
		{"local custody in production", func(c *Config) {
			c.Environment = "production"
			c.Database.Password = "pw"
		}},
		{"kms without key id", func(c *Config) { c.Custody = CustodyConfig{Provider: "kms"} }},
		{"unknown provider", func(c *Config) { c.Custody.Provider = "vault" }},
		{"default jwt secret in production", func(c *Config) {
			c.Environment = "production"
			c.JWT.SecretKey = "your-secret-key-change-in-production"
		}},
		{"zero oracle timeout", func(c *Config) { c.Oracle.Timeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	prod := valid()
	prod.Environment = "production"
	prod.Database.Password = "pw"
	prod.Custody = CustodyConfig{Provider: "kms", KMSKeyID: "alias/settlement"}
	assert.NoError(t, prod.Validate())
}

// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string
	Server      ServerConfig
	Database    DatabaseConfig
	JWT         JWTConfig
	Redis       RedisConfig
	AWS         AWSConfig
	Ledger      LedgerConfig
	Pricing     PricingConfig
	Oracle      OracleConfig
	Custody     CustodyConfig
	Payment     PaymentConfig
	Reconcile   ReconcileConfig
	I18n        I18nConfig
	Frontend    FrontendConfig
}

type FrontendConfig struct {
	BaseURL string
}

type ServerConfig struct {
	Port         string
	Host         string
	ReadTimeout  int
	WriteTimeout int
	IdleTimeout  int
}

type DatabaseConfig struct {
	Host         string
	Port         string
	User         string
	Password     string
	Database     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  int
	LogLevel     string
}

type JWTConfig struct {
	SecretKey string
}

// RedisConfig is optional; an empty Host keeps the price cache in process.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

type LedgerConfig struct {
	HorizonURL        string
	NetworkPassphrase string
	Timeout           time.Duration
	EnvelopeTimeout   int64 // seconds an unsigned envelope stays valid
	PlatformSecret    string
	BaseReserve       string // XLM per ledger entry
	StartingBalance   string // XLM funded into a new storage account
}

type PricingConfig struct {
	PlatformAssetCode   string
	PlatformAssetIssuer string
	USDCCode            string
	USDCIssuer          string
	BaseFee             string // platform-asset units
	TrustlineSurcharge  string // XLM
	CacheTTL            time.Duration
}

// OracleConfig holds one URL plus gjson path per quoted rate.
type OracleConfig struct {
	XLMUSDURL       string
	XLMUSDPath      string
	PlatformUSDURL  string
	PlatformUSDPath string
	USDCRateURL     string
	USDCRatePath    string
	Timeout         time.Duration
}

type CustodyConfig struct {
	Provider string // "local" or "kms"
	LocalKey string // base64, 32 bytes
	KMSKeyID string
}

type PaymentConfig struct {
	StripeSecretKey      string
	StripePublishableKey string
	Currency             string
}

type ReconcileConfig struct {
	Enabled  bool
	Schedule string
	Lookback int // payments inspected per custodial account
}

type I18nConfig struct {
	DefaultLocale string
	LocalesPath   string
}

func Load() (*Config, error) {
	// Load .env file if it exists
	godotenv.Load()

	config := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			Host:         getEnv("SERVER_HOST", "localhost"),
			ReadTimeout:  getEnvAsInt("SERVER_READ_TIMEOUT", 15),
			WriteTimeout: getEnvAsInt("SERVER_WRITE_TIMEOUT", 30),
			IdleTimeout:  getEnvAsInt("SERVER_IDLE_TIMEOUT", 60),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", ""),
			Database:     getEnv("DB_NAME", "asset_settlement"),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  getEnvAsInt("DB_MAX_LIFETIME", 300),
			LogLevel:     getEnv("DB_LOG_LEVEL", "silent"),
		},
		JWT: JWTConfig{
			SecretKey: getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", ""),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		},
		Ledger: LedgerConfig{
			HorizonURL:        getEnv("HORIZON_URL", "https://horizon-testnet.stellar.org/"),
			NetworkPassphrase: getEnv("NETWORK_PASSPHRASE", "Test SDF Network ; September 2015"),
			Timeout:           getEnvAsDuration("LEDGER_TIMEOUT", 10*time.Second),
			EnvelopeTimeout:   int64(getEnvAsInt("ENVELOPE_TIMEOUT_SECONDS", 300)),
			PlatformSecret:    getEnv("PLATFORM_SECRET", ""),
			BaseReserve:       getEnv("LEDGER_BASE_RESERVE", "0.5"),
			StartingBalance:   getEnv("STORAGE_STARTING_BALANCE", "5"),
		},
		Pricing: PricingConfig{
			PlatformAssetCode:   getEnv("PLATFORM_ASSET_CODE", "WADZZO"),
			PlatformAssetIssuer: getEnv("PLATFORM_ASSET_ISSUER", ""),
			USDCCode:            getEnv("USDC_ASSET_CODE", "USDC"),
			USDCIssuer:          getEnv("USDC_ASSET_ISSUER", ""),
			BaseFee:             getEnv("PLATFORM_BASE_FEE", "1"),
			TrustlineSurcharge:  getEnv("TRUSTLINE_SURCHARGE_XLM", "0.5"),
			CacheTTL:            getEnvAsDuration("PRICE_CACHE_TTL", 5*time.Second),
		},
		Oracle: OracleConfig{
			XLMUSDURL:       getEnv("ORACLE_XLM_USD_URL", "https://api.coingecko.com/api/v3/simple/price?ids=stellar&vs_currencies=usd"),
			XLMUSDPath:      getEnv("ORACLE_XLM_USD_PATH", "stellar.usd"),
			PlatformUSDURL:  getEnv("ORACLE_PLATFORM_USD_URL", ""),
			PlatformUSDPath: getEnv("ORACLE_PLATFORM_USD_PATH", "price"),
			USDCRateURL:     getEnv("ORACLE_USDC_RATE_URL", ""),
			USDCRatePath:    getEnv("ORACLE_USDC_RATE_PATH", "price"),
			Timeout:         getEnvAsDuration("ORACLE_TIMEOUT", 10*time.Second),
		},
		Custody: CustodyConfig{
			Provider: getEnv("CUSTODY_PROVIDER", "local"),
			LocalKey: getEnv("CUSTODY_LOCAL_KEY", ""),
			KMSKeyID: getEnv("CUSTODY_KMS_KEY_ID", ""),
		},
		Payment: PaymentConfig{
			StripeSecretKey:      getEnv("STRIPE_SECRET_KEY", ""),
			StripePublishableKey: getEnv("STRIPE_PUBLISHABLE_KEY", ""),
			Currency:             getEnv("PAYMENT_CURRENCY", "usd"),
		},
		Reconcile: ReconcileConfig{
			Enabled:  getEnvAsBool("RECONCILE_ENABLED", true),
			Schedule: getEnv("RECONCILE_SCHEDULE", "@every 5m"),
			Lookback: getEnvAsInt("RECONCILE_LOOKBACK", 200),
		},
		I18n: I18nConfig{
			DefaultLocale: getEnv("DEFAULT_LOCALE", "en"),
			LocalesPath:   getEnv("LOCALES_PATH", "./internal/i18n/locales"),
		},
		Frontend: FrontendConfig{
			BaseURL: getEnv("FRONTEND_URL", "http://localhost:3000"),
		},
	}

	return config, config.Validate()
}

func (c *Config) Validate() error {
	if c.JWT.SecretKey == "your-secret-key-change-in-production" && c.Environment == "production" {
		return fmt.Errorf("JWT secret key must be changed in production")
	}

	if c.Database.Password == "" && c.Environment == "production" {
		return fmt.Errorf("database password is required in production")
	}

	if c.Ledger.PlatformSecret == "" {
		return fmt.Errorf("PLATFORM_SECRET is required")
	}

	switch c.Custody.Provider {
	case "local":
		if c.Custody.LocalKey == "" {
			return fmt.Errorf("CUSTODY_LOCAL_KEY is required for the local custody provider")
		}
		if c.Environment == "production" {
			return fmt.Errorf("local custody provider is not allowed in production")
		}
	case "kms":
		if c.Custody.KMSKeyID == "" {
			return fmt.Errorf("CUSTODY_KMS_KEY_ID is required for the kms custody provider")
		}
	default:
		return fmt.Errorf("unknown custody provider %q", c.Custody.Provider)
	}

	if c.Ledger.Timeout <= 0 || c.Oracle.Timeout <= 0 {
		return fmt.Errorf("ledger and oracle timeouts must be positive")
	}

	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(strings.ToLower(value)); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

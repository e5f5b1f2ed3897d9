package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Config holds the complete application configuration, loadable from
// environment variables (TILL_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (TILL_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Currency     string `default:"ZAR" usage:"Store currency (ISO 4217)"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (TILL_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Laybye       LaybyeConfig
	CashSession  CashSessionConfig `flag:"cash-session"`
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// LaybyeConfig controls the laybye deposit policy and the expiry sweep.
type LaybyeConfig struct {
	MinDepositPercent int           `default:"20" usage:"Minimum laybye deposit as a percentage of the order total" flag:"min-deposit-percent"`
	MinimumLeadTime   time.Duration `default:"168h" usage:"Minimum time between laybye creation and due date" flag:"minimum-lead-time"`
	RequireCustomer   bool          `default:"true" usage:"Reject anonymous laybye orders" flag:"require-customer"`
	ExpiryInterval    time.Duration `default:"1h" usage:"How often overdue laybye orders are expired" flag:"expiry-interval"`
}

// CashSessionConfig controls cash-session reconciliation.
type CashSessionConfig struct {
	VarianceThreshold int64 `default:"500" usage:"Minor/significant variance boundary in minor units" flag:"variance-threshold"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// MinDepositPercentage returns the laybye deposit policy percentage as a
// decimal for policy math.
func (c LaybyeConfig) MinDepositPercentage() decimal.Decimal {
	return decimal.NewFromInt(int64(c.MinDepositPercent))
}

// LoadConfig loads configuration from environment variables, YAML config
// files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "TILL",
		Files:     []string{"config.yaml", "/etc/till/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set TILL_DATABASE_URL or DATABASE_URL")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables that use
// standard names like DATABASE_URL and PORT to the application's
// TILL_-prefixed configuration.
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

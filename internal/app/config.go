package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (SHOP_ prefix), flags, or YAML config files.
type Config struct {
	Addr           string        `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL    string        `usage:"PostgreSQL connection URL (SHOP_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisURL       string        `usage:"Redis URL for the cart store (SHOP_REDIS_URL or REDIS_URL)" flag:"redis-url"`
	ClientOrigin   string        `default:"http://localhost:5173" usage:"Storefront origin used for payment callback URLs" flag:"client-origin"`
	Currency       string        `default:"usd" usage:"ISO currency code for card payments"`
	ImageBaseURL   string        `default:"" usage:"Base URL for product images" flag:"image-base-url"`
	APIKeyPepper   string        `usage:"HMAC pepper for API key hashing" flag:"api-key-pepper"`
	SnapshotSecret string        `usage:"HMAC secret sealing card session snapshots" flag:"snapshot-secret"`
	CartTTL        time.Duration `default:"168h" usage:"Idle time after which carts expire" flag:"cart-ttl"`
	Debug          bool          `default:"false" usage:"Expose internal error details in responses"`

	Auth      AuthConfig
	Kafka     KafkaConfig
	Reward    RewardConfig
	Mobile    MobileConfig
	Stripe    StripeConfig
	Timeouts  TimeoutsConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Graceful  GracefulConfig
}

// AuthConfig controls bearer token verification.
type AuthConfig struct {
	JWTSecret string        `usage:"HS256 secret for user bearer tokens" flag:"jwt-secret"`
	TokenTTL  time.Duration `default:"24h" usage:"Lifetime of issued tokens" flag:"token-ttl"`
}

// KafkaConfig controls domain event publishing. No brokers disables it.
type KafkaConfig struct {
	Brokers []string `usage:"Kafka bootstrap brokers"`
	Topic   string   `default:"storefront.events" usage:"Topic for order and coupon events"`
}

// RewardConfig controls reward coupons issued after large orders.
type RewardConfig struct {
	Threshold    string `default:"200.00" usage:"Order total (major units) that earns a reward coupon; 0 disables"`
	Percentage   string `default:"10" usage:"Discount percentage of reward coupons"`
	ValidityDays int    `default:"30" usage:"Days a reward coupon stays redeemable"`
}

// MobileConfig controls the mobile-money rail.
type MobileConfig struct {
	MerchantPhone string `default:"0911000000" usage:"Merchant phone shown in payment instructions"`
	BaseURL       string `usage:"Mobile-money provider API base URL"`
	Token         string `usage:"Mobile-money provider API token"`
	Simulate      bool   `default:"false" usage:"Use the in-process provider simulator (development only)"`
}

// StripeConfig controls the card rail.
type StripeConfig struct {
	SecretKey     string `usage:"Stripe secret API key"`
	WebhookSecret string `usage:"Stripe webhook signing secret"`
	BaseURL       string `usage:"Override the Stripe API URL (stripe-mock)"`
}

// TimeoutsConfig bounds every external call made during checkout.
type TimeoutsConfig struct {
	Provider time.Duration `default:"10s" usage:"Payment provider call timeout"`
	Store    time.Duration `default:"3s" usage:"Database and cache call timeout"`
}

// RateLimitConfig controls the per-client token bucket limiter.
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

// LoadConfig loads configuration from environment variables, YAML config
// files and platform defaults, then validates it.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "SHOP",
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

// Validate reports the first missing or malformed setting.
func (c *Config) Validate() error {
	switch {
	case c.DatabaseURL == "":
		return errors.New("database URL is required: set SHOP_DATABASE_URL or DATABASE_URL")
	case c.Auth.JWTSecret == "":
		return errors.New("auth.jwt_secret is required")
	case c.SnapshotSecret == "":
		return errors.New("snapshot_secret is required")
	case !c.Mobile.Simulate && c.Mobile.BaseURL == "":
		return errors.New("mobile.base_url is required unless mobile.simulate is set")
	case c.Stripe.SecretKey == "":
		return errors.New("stripe.secret_key is required")
	}
	if _, err := c.RewardThreshold(); err != nil {
		return err
	}
	if _, err := c.RewardPercentage(); err != nil {
		return err
	}
	return nil
}

// RewardThreshold parses Reward.Threshold.
func (c *Config) RewardThreshold() (decimal.Decimal, error) {
	v, err := decimal.NewFromString(c.Reward.Threshold)
	if err != nil || v.IsNegative() {
		return decimal.Decimal{}, errors.Errorf("reward.threshold %q must be a non-negative decimal", c.Reward.Threshold)
	}
	return v, nil
}

// RewardPercentage parses Reward.Percentage.
func (c *Config) RewardPercentage() (decimal.Decimal, error) {
	v, err := decimal.NewFromString(c.Reward.Percentage)
	if err != nil || !v.IsPositive() || v.GreaterThan(decimal.NewFromInt(100)) {
		return decimal.Decimal{}, errors.Errorf("reward.percentage %q must be in (0, 100]", c.Reward.Percentage)
	}
	return v, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's SHOP_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.RedisURL == "" {
		c.RedisURL = os.Getenv("REDIS_URL")
	}
	if c.RedisURL == "" {
		c.RedisURL = "redis://localhost:6379/0"
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Identity   IdentityConfig   `mapstructure:"identity"`
	Log        LogConfig        `mapstructure:"log"`
	Payout     PayoutConfig     `mapstructure:"payout"`
	Processors ProcessorsConfig `mapstructure:"processors"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// IdentityConfig describes how tokens minted by the identity service are validated.
type IdentityConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// PayoutConfig holds the business rules of the payout core.
// Amounts are in the settlement currency's minor unit.
type PayoutConfig struct {
	Currency              string        `mapstructure:"currency"`
	MinAmount             int64         `mapstructure:"min_amount"`
	DefaultCommissionRate string        `mapstructure:"default_commission_rate"` // decimal fraction, "0.15" = 15%
	SubmitTimeout         time.Duration `mapstructure:"submit_timeout"`
	SubmitDeadline        time.Duration `mapstructure:"submit_deadline"`
	StaleAfter            time.Duration `mapstructure:"stale_after"`
	ReservedRetryAfter    time.Duration `mapstructure:"reserved_retry_after"`
}

type ProcessorsConfig struct {
	Stripe StripeConfig `mapstructure:"stripe"`
	PayPal PayPalConfig `mapstructure:"paypal"`
	Bank   BankConfig   `mapstructure:"bank"`
}

// FeeConfig is a processor's payout fee schedule.
type FeeConfig struct {
	Percent string `mapstructure:"fee_percent"` // decimal fraction of the gross amount
	Fixed   int64  `mapstructure:"fee_fixed"`   // minor units
}

type StripeConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	SecretKey     string        `mapstructure:"secret_key"`
	WebhookSecret string        `mapstructure:"webhook_secret"`
	Timeout       time.Duration `mapstructure:"timeout"`
	FeeConfig     `mapstructure:",squash"`
}

type PayPalConfig struct {
	Mode          string        `mapstructure:"mode"` // sandbox, live
	BaseURL       string        `mapstructure:"base_url"`
	ClientID      string        `mapstructure:"client_id"`
	ClientSecret  string        `mapstructure:"client_secret"`
	WebhookSecret string        `mapstructure:"webhook_secret"`
	Timeout       time.Duration `mapstructure:"timeout"`
	FeeConfig     `mapstructure:",squash"`
}

// URL returns the configured base URL or the PayPal endpoint for the mode.
func (p PayPalConfig) URL() string {
	if p.BaseURL != "" {
		return p.BaseURL
	}
	if p.Mode == "live" {
		return "https://api-m.paypal.com"
	}
	return "https://api-m.sandbox.paypal.com"
}

type BankConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	APIKey        string        `mapstructure:"api_key"`
	WebhookSecret string        `mapstructure:"webhook_secret"`
	Timeout       time.Duration `mapstructure:"timeout"`
	FeeConfig     `mapstructure:",squash"`
}

type SchedulerConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	AutoPayoutInterval time.Duration `mapstructure:"auto_payout_interval"`
	ReconcileInterval  time.Duration `mapstructure:"reconcile_interval"`
	BatchSize          int           `mapstructure:"batch_size"`
	LockTTL            time.Duration `mapstructure:"lock_ttl"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	GroupID string   `mapstructure:"group_id"`
	Topic   string   `mapstructure:"topic"`
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: VP_ (Vendor Payouts).
// Nested keys use underscore: VP_DATABASE_HOST, VP_PROCESSORS_STRIPE_SECRET_KEY, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "vendor_payouts")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("identity.secret", "")
	v.SetDefault("identity.issuer", "identity-service")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("payout.currency", "USD")
	v.SetDefault("payout.min_amount", 1000)
	v.SetDefault("payout.default_commission_rate", "0.15")
	v.SetDefault("payout.submit_timeout", "15s")
	v.SetDefault("payout.submit_deadline", "72h")
	v.SetDefault("payout.stale_after", "30m")
	v.SetDefault("payout.reserved_retry_after", "5m")

	v.SetDefault("processors.stripe.base_url", "https://api.stripe.com")
	v.SetDefault("processors.stripe.secret_key", "")
	v.SetDefault("processors.stripe.webhook_secret", "")
	v.SetDefault("processors.stripe.timeout", "10s")
	v.SetDefault("processors.stripe.fee_percent", "0")
	v.SetDefault("processors.stripe.fee_fixed", 0)
	v.SetDefault("processors.paypal.mode", "sandbox")
	v.SetDefault("processors.paypal.base_url", "")
	v.SetDefault("processors.paypal.client_id", "")
	v.SetDefault("processors.paypal.client_secret", "")
	v.SetDefault("processors.paypal.webhook_secret", "")
	v.SetDefault("processors.paypal.timeout", "10s")
	v.SetDefault("processors.paypal.fee_percent", "0")
	v.SetDefault("processors.paypal.fee_fixed", 25)
	v.SetDefault("processors.bank.base_url", "")
	v.SetDefault("processors.bank.api_key", "")
	v.SetDefault("processors.bank.webhook_secret", "")
	v.SetDefault("processors.bank.timeout", "10s")
	v.SetDefault("processors.bank.fee_percent", "0")
	v.SetDefault("processors.bank.fee_fixed", 0)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.auto_payout_interval", "1h")
	v.SetDefault("scheduler.reconcile_interval", "5m")
	v.SetDefault("scheduler.batch_size", 100)
	v.SetDefault("scheduler.lock_ttl", "4m")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.group_id", "vendor-payouts")
	v.SetDefault("kafka.topic", "sales.settled")

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: VP_DATABASE_HOST -> database.host
	v.SetEnvPrefix("VP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required, env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

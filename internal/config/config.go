// Package config loads service settings from config.toml and STOREFRONT_* env vars.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"

	TransportRedis = "redis"
	TransportKafka = "kafka"
	TransportLog   = "log"
)

type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Storage   StorageConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Outbox    OutboxConfig
	Broadcast BroadcastConfig
	Stripe    StripeConfig
	Auth      AuthConfig
	Checkout  CheckoutConfig
}

type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

type LogConfig struct {
	Level  string
	Format string
	Output string
}

type StorageConfig struct {
	Driver   string // memory or postgres
	Postgres PostgresConfig
	Mongo    MongoConfig
	SQLite   SQLiteConfig
}

type PostgresConfig struct {
	Host          string
	Port          int
	User          string
	Password      string
	DBName        string
	MigrationsDir string
}

type MongoConfig struct {
	URI      string
	Database string
}

type SQLiteConfig struct {
	Path          string
	MigrationsDir string
}

// RedisConfig leaves Addr empty to run with in-process caches.
type RedisConfig struct {
	Addr           string
	Password       string
	DB             int
	CartTTL        time.Duration
	IdempotencyTTL time.Duration
}

type KafkaConfig struct {
	Brokers       []string
	OutboxTopic   string
	RealtimeTopic string
}

type OutboxConfig struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
}

type BroadcastConfig struct {
	Transport   string // redis, kafka or log
	MaxAttempts int
}

type StripeConfig struct {
	SecretKey          string
	WebhookSecret      string
	SuccessURL         string
	CancelURL          string
	SessionExpiry      time.Duration
	MaxRetries         int
	InitialBackoff     time.Duration
	MaxBackoff         time.Duration
	BreakerFailures    uint32
	BreakerOpenTimeout time.Duration
}

type AuthConfig struct {
	JWTSecret string
}

type CheckoutConfig struct {
	Currency       string
	HoldTTL        time.Duration
	SweepInterval  time.Duration
	PaymentTimeout time.Duration
	GiftThreshold  int64 // cents
	GiftPercent    int
	GiftValidity   time.Duration
}

// Load reads config in this order, highest first:
// STOREFRONT_* env vars (STOREFRONT_STRIPE_SECRET_KEY), config.toml, built-in defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	return load(v)
}

// LoadFile is Load with an explicit config file.
func LoadFile(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file: %w", err)
	}
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("STOREFRONT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		Server: ServerConfig{
			Port:            v.GetString("server.port"),
			ReadTimeout:     v.GetDuration("server.read_timeout"),
			WriteTimeout:    v.GetDuration("server.write_timeout"),
			IdleTimeout:     v.GetDuration("server.idle_timeout"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Storage: StorageConfig{
			Driver: v.GetString("storage.driver"),
			Postgres: PostgresConfig{
				Host:          v.GetString("storage.postgres.host"),
				Port:          v.GetInt("storage.postgres.port"),
				User:          v.GetString("storage.postgres.user"),
				Password:      v.GetString("storage.postgres.password"),
				DBName:        v.GetString("storage.postgres.dbname"),
				MigrationsDir: v.GetString("storage.postgres.migrations_dir"),
			},
			Mongo: MongoConfig{
				URI:      v.GetString("storage.mongo.uri"),
				Database: v.GetString("storage.mongo.database"),
			},
			SQLite: SQLiteConfig{
				Path:          v.GetString("storage.sqlite.path"),
				MigrationsDir: v.GetString("storage.sqlite.migrations_dir"),
			},
		},
		Redis: RedisConfig{
			Addr:           v.GetString("redis.addr"),
			Password:       v.GetString("redis.password"),
			DB:             v.GetInt("redis.db"),
			CartTTL:        v.GetDuration("redis.cart_ttl"),
			IdempotencyTTL: v.GetDuration("redis.idempotency_ttl"),
		},
		Kafka: KafkaConfig{
			Brokers:       brokers(v.GetStringSlice("kafka.brokers")),
			OutboxTopic:   v.GetString("kafka.outbox_topic"),
			RealtimeTopic: v.GetString("kafka.realtime_topic"),
		},
		Outbox: OutboxConfig{
			Interval:    v.GetDuration("outbox.interval"),
			BatchSize:   v.GetInt("outbox.batch_size"),
			MaxAttempts: v.GetInt("outbox.max_attempts"),
		},
		Broadcast: BroadcastConfig{
			Transport:   v.GetString("broadcast.transport"),
			MaxAttempts: v.GetInt("broadcast.max_attempts"),
		},
		Stripe: StripeConfig{
			SecretKey:          v.GetString("stripe.secret_key"),
			WebhookSecret:      v.GetString("stripe.webhook_secret"),
			SuccessURL:         v.GetString("stripe.success_url"),
			CancelURL:          v.GetString("stripe.cancel_url"),
			SessionExpiry:      v.GetDuration("stripe.session_expiry"),
			MaxRetries:         v.GetInt("stripe.max_retries"),
			InitialBackoff:     v.GetDuration("stripe.initial_backoff"),
			MaxBackoff:         v.GetDuration("stripe.max_backoff"),
			BreakerFailures:    v.GetUint32("stripe.breaker_failures"),
			BreakerOpenTimeout: v.GetDuration("stripe.breaker_open_timeout"),
		},
		Auth: AuthConfig{
			JWTSecret: v.GetString("auth.jwt_secret"),
		},
		Checkout: CheckoutConfig{
			Currency:       v.GetString("checkout.currency"),
			HoldTTL:        v.GetDuration("checkout.hold_ttl"),
			SweepInterval:  v.GetDuration("checkout.sweep_interval"),
			PaymentTimeout: v.GetDuration("checkout.payment_timeout"),
			GiftThreshold:  v.GetInt64("checkout.gift_threshold"),
			GiftPercent:    v.GetInt("checkout.gift_percent"),
			GiftValidity:   v.GetDuration("checkout.gift_validity"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// brokers splits "a:9092,b:9092" coming from a single env var.
func brokers(raw []string) []string {
	var out []string
	for _, item := range raw {
		for _, b := range strings.Split(item, ",") {
			if b = strings.TrimSpace(b); b != "" {
				out = append(out, b)
			}
		}
	}
	return out
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 10 * time.Second
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 60 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = DriverMemory
	}
	pg := &cfg.Storage.Postgres
	if pg.Host == "" {
		pg.Host = "localhost"
	}
	if pg.Port == 0 {
		pg.Port = 5432
	}
	if pg.DBName == "" {
		pg.DBName = "storefront"
	}
	if pg.MigrationsDir == "" {
		pg.MigrationsDir = "internal/repository/migrations/postgres"
	}
	if cfg.Storage.Mongo.URI == "" {
		cfg.Storage.Mongo.URI = "mongodb://localhost:27017"
	}
	if cfg.Storage.Mongo.Database == "" {
		cfg.Storage.Mongo.Database = "storefront"
	}
	if cfg.Storage.SQLite.Path == "" {
		cfg.Storage.SQLite.Path = "catalog.db"
	}
	if cfg.Storage.SQLite.MigrationsDir == "" {
		cfg.Storage.SQLite.MigrationsDir = "internal/repository/migrations/sqlite"
	}

	if cfg.Redis.CartTTL == 0 {
		cfg.Redis.CartTTL = 15 * time.Minute
	}
	if cfg.Redis.IdempotencyTTL == 0 {
		cfg.Redis.IdempotencyTTL = 72 * time.Hour
	}

	if cfg.Kafka.OutboxTopic == "" {
		cfg.Kafka.OutboxTopic = "order-status-events"
	}
	if cfg.Kafka.RealtimeTopic == "" {
		cfg.Kafka.RealtimeTopic = "order-status-realtime"
	}

	if cfg.Outbox.Interval == 0 {
		cfg.Outbox.Interval = time.Second
	}
	if cfg.Outbox.BatchSize == 0 {
		cfg.Outbox.BatchSize = 100
	}
	if cfg.Outbox.MaxAttempts == 0 {
		cfg.Outbox.MaxAttempts = 5
	}

	if cfg.Broadcast.Transport == "" {
		cfg.Broadcast.Transport = TransportLog
	}
	if cfg.Broadcast.MaxAttempts == 0 {
		cfg.Broadcast.MaxAttempts = 2
	}

	if cfg.Checkout.Currency == "" {
		cfg.Checkout.Currency = "usd"
	}
	if cfg.Stripe.SuccessURL == "" {
		cfg.Stripe.SuccessURL = "http://localhost:8080/api/v1/checkout/success"
	}
	if cfg.Stripe.CancelURL == "" {
		cfg.Stripe.CancelURL = "http://localhost:8080/cart"
	}
	if cfg.Stripe.SessionExpiry == 0 {
		cfg.Stripe.SessionExpiry = 30 * time.Minute
	}
	if cfg.Stripe.MaxRetries == 0 {
		cfg.Stripe.MaxRetries = 3
	}
	if cfg.Stripe.InitialBackoff == 0 {
		cfg.Stripe.InitialBackoff = 200 * time.Millisecond
	}
	if cfg.Stripe.MaxBackoff == 0 {
		cfg.Stripe.MaxBackoff = 2 * time.Second
	}
	if cfg.Stripe.BreakerFailures == 0 {
		cfg.Stripe.BreakerFailures = 5
	}
	if cfg.Stripe.BreakerOpenTimeout == 0 {
		cfg.Stripe.BreakerOpenTimeout = 30 * time.Second
	}

	// Stripe keeps sessions open for at least 30 minutes, so the hold must outlive it.
	if cfg.Checkout.HoldTTL == 0 {
		cfg.Checkout.HoldTTL = cfg.Stripe.SessionExpiry + 15*time.Minute
	}
	if cfg.Checkout.SweepInterval == 0 {
		cfg.Checkout.SweepInterval = time.Minute
	}
	if cfg.Checkout.PaymentTimeout == 0 {
		cfg.Checkout.PaymentTimeout = 10 * time.Second
	}
	if cfg.Checkout.GiftThreshold == 0 {
		cfg.Checkout.GiftThreshold = 20000
	}
	if cfg.Checkout.GiftPercent == 0 {
		cfg.Checkout.GiftPercent = 10
	}
	if cfg.Checkout.GiftValidity == 0 {
		cfg.Checkout.GiftValidity = 720 * time.Hour
	}
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Storage.Postgres.User == "" {
			return errors.New("storage.postgres.user is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	switch c.Broadcast.Transport {
	case TransportLog:
	case TransportRedis:
		if c.Redis.Addr == "" {
			return errors.New("redis.addr is required for the redis broadcast transport")
		}
	case TransportKafka:
		if len(c.Kafka.Brokers) == 0 {
			return errors.New("kafka.brokers is required for the kafka broadcast transport")
		}
	default:
		return fmt.Errorf("unknown broadcast transport %q", c.Broadcast.Transport)
	}

	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	if c.Checkout.GiftPercent < 0 || c.Checkout.GiftPercent > 100 {
		return fmt.Errorf("checkout.gift_percent must be within 0..100, got %d", c.Checkout.GiftPercent)
	}
	if c.Outbox.MaxAttempts < 1 {
		return errors.New("outbox.max_attempts must be positive")
	}
	// both drive tickers
	if c.Checkout.SweepInterval <= 0 {
		return fmt.Errorf("checkout.sweep_interval must be positive, got %s", c.Checkout.SweepInterval)
	}
	if c.Outbox.Interval <= 0 {
		return fmt.Errorf("outbox.interval must be positive, got %s", c.Outbox.Interval)
	}
	return c.Stripe.Validate()
}

// Validate checks the key format only. A missing key is allowed so the service
// can run without payments in local setups.
func (c *StripeConfig) Validate() error {
	if c.SecretKey == "" {
		return nil
	}
	if !strings.HasPrefix(c.SecretKey, "sk_test_") && !strings.HasPrefix(c.SecretKey, "sk_live_") {
		return errors.New("stripe: secret key must start with sk_test_ or sk_live_")
	}
	if c.WebhookSecret == "" {
		return errors.New("stripe: webhook secret is required when a secret key is set")
	}
	return nil
}

// Enabled reports whether a Stripe key is configured.
func (c *StripeConfig) Enabled() bool {
	return c.SecretKey != ""
}

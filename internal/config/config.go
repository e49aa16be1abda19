package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	HTTP       HTTPConfig      `mapstructure:"http"`
	Log        LogConfig       `mapstructure:"log"`
	MySQL      DatabaseConfig  `mapstructure:"mysql"`
	ClickHouse DatabaseConfig  `mapstructure:"clickhouse"`
	Redis      RedisConfig     `mapstructure:"redis"`
	Kafka      KafkaConfig     `mapstructure:"kafka"`
	Device     DeviceConfig    `mapstructure:"device"`
	Cache      CacheConfig     `mapstructure:"cache"`
	Billing    BillingConfig   `mapstructure:"billing"`
	Payments   PaymentsConfig  `mapstructure:"payments"`
	Auth       AuthConfig      `mapstructure:"auth"`
	RateLimit  RateLimitConfig `mapstructure:"rate_limit"`
	Schedule   ScheduleConfig  `mapstructure:"schedule"`
}

// ---- Leaf structs ----

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json | console
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type KafkaConfig struct {
	Brokers            []string `mapstructure:"brokers"`
	GroupID            string   `mapstructure:"group_id"`
	CommandsTopic      string   `mapstructure:"commands_topic"`
	NotificationsTopic string   `mapstructure:"notifications_topic"`
	MinBytes           int      `mapstructure:"min_bytes"`
	MaxBytes           int      `mapstructure:"max_bytes"`
	CommitInterval     int      `mapstructure:"commit_interval_ms"`
}

type BreakerConfig struct {
	FailThreshold int `mapstructure:"fail_threshold" yaml:"fail_threshold"`
	OpenForMs     int `mapstructure:"open_for_ms"    yaml:"open_for_ms"`
}

type DeviceConfig struct {
	Driver      string        `mapstructure:"driver"` // rest | mock
	Scheme      string        `mapstructure:"scheme"` // http | https
	Timeout     time.Duration `mapstructure:"timeout"`
	InsecureTLS bool          `mapstructure:"insecure_tls"`
	Breaker     BreakerConfig `mapstructure:"breaker"`
}

type CacheConfig struct {
	Backend   string        `mapstructure:"backend"` // memory | redis
	TTL       time.Duration `mapstructure:"ttl"`
	KeyPrefix string        `mapstructure:"key_prefix"`
}

type BillingConfig struct {
	SuspendAfterDays int           `mapstructure:"suspend_after_days"`
	OverdueLookback  time.Duration `mapstructure:"overdue_lookback"` // 0 = unbounded
	InvoiceDueDays   int           `mapstructure:"invoice_due_days"`
	WarningInterval  time.Duration `mapstructure:"warning_interval"`
}

type GatewayConfig struct {
	Gateway     string  `mapstructure:"gateway"` // manual | simulated
	Label       string  `mapstructure:"label"`
	Description string  `mapstructure:"description"`
	Prefix      string  `mapstructure:"prefix"`
	FailureRate float64 `mapstructure:"failure_rate"`
	DeclineCode string  `mapstructure:"decline_code"`
}

type PaymentsConfig struct {
	Methods map[string]GatewayConfig `mapstructure:"methods"`
}

type APIKey struct {
	Name string `mapstructure:"name"`
	Key  string `mapstructure:"key"`
	Role string `mapstructure:"role"` // isp_owner | operator
}

type AuthConfig struct {
	APIKeys []APIKey `mapstructure:"api_keys"`
}

type RateLimitConfig struct {
	RPS   int `mapstructure:"rps"`
	Burst int `mapstructure:"burst"`
}

type ScheduleConfig struct {
	SyncInterval     time.Duration `mapstructure:"sync_interval"`
	BillingInterval  time.Duration `mapstructure:"billing_interval"`
	InvoiceInterval  time.Duration `mapstructure:"invoice_interval"`
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval"`
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (ISPBILL_*).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		_ = v.MergeInConfig()
	}

	// env override (ISPBILL_MYSQL_DSN -> mysql.dsn)
	v.SetEnvPrefix("ISPBILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	// viper lower-cases map keys; payment methods are upper-case enums
	methods := make(map[string]GatewayConfig, len(cfg.Payments.Methods))
	for k, m := range cfg.Payments.Methods {
		methods[strings.ToUpper(k)] = m
	}
	cfg.Payments.Methods = methods

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the services cannot run with.
func (c Config) Validate() error {
	switch c.Device.Driver {
	case "rest", "mock":
	default:
		return fmt.Errorf("device.driver: unknown driver %q", c.Device.Driver)
	}
	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("cache.backend: unknown backend %q", c.Cache.Backend)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}
	if c.Billing.SuspendAfterDays < 1 {
		return fmt.Errorf("billing.suspend_after_days must be >= 1")
	}
	if c.Billing.InvoiceDueDays < 1 {
		return fmt.Errorf("billing.invoice_due_days must be >= 1")
	}
	if c.Billing.OverdueLookback < 0 {
		return fmt.Errorf("billing.overdue_lookback must not be negative")
	}
	if c.Billing.WarningInterval < 0 {
		return fmt.Errorf("billing.warning_interval must not be negative")
	}
	for name, m := range c.Payments.Methods {
		switch m.Gateway {
		case "manual", "simulated":
		default:
			return fmt.Errorf("payments.methods.%s: unknown gateway %q", name, m.Gateway)
		}
		if m.FailureRate < 0 || m.FailureRate > 1 {
			return fmt.Errorf("payments.methods.%s: failure_rate out of range", name)
		}
	}
	return nil
}

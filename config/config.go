package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Booking  BookingConfig  `yaml:"booking"`
	Payment  PaymentConfig  `yaml:"payment"`
	Worker   WorkerConfig   `yaml:"worker"`
	Log      LogConfig      `yaml:"log"`
}

type HTTPConfig struct {
	Address             string   `yaml:"address"`
	AllowedOrigins      []string `yaml:"allowed_origins"`
	RateLimitPerMinute  int      `yaml:"rate_limit_per_minute"`
	RateLimitBurst      int      `yaml:"rate_limit_burst"`
	ShutdownTimeoutSecs int      `yaml:"shutdown_timeout_seconds"`
	RequestTimeoutSecs  int      `yaml:"request_timeout_seconds"`
}

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
	// ApplySchema creates the bookings table on startup.
	ApplySchema bool `yaml:"apply_schema"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s", d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type RedisConfig struct {
	Addr             string `yaml:"addr"`
	Password         string `yaml:"password"`
	DB               int    `yaml:"db"`
	EventDedupeHours int    `yaml:"event_dedupe_hours"`
}

func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

type KafkaConfig struct {
	Brokers            []string `yaml:"brokers"`
	BookingEventsTopic string   `yaml:"booking_events_topic"`
	PaymentEventsTopic string   `yaml:"payment_events_topic"`
	GroupID            string   `yaml:"group_id"`
}

func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

const (
	// AdmissionHoldPending lets PENDING bookings younger than pending_hold_minutes block
	// overlapping admissions.
	AdmissionHoldPending = "hold_pending"
	// AdmissionConfirmedOnly admits against CONFIRMED bookings only.
	AdmissionConfirmedOnly = "confirmed_only"
)

type BookingConfig struct {
	Currency             string `yaml:"currency"`
	Admission            string `yaml:"admission"`
	PendingHoldMinutes   int    `yaml:"pending_hold_minutes"`
	StatsCacheTTLSeconds int    `yaml:"stats_cache_ttl_seconds"`
}

func (b BookingConfig) HoldsPending() bool {
	return b.Admission == AdmissionHoldPending
}

type PaymentConfig struct {
	StripeSecretKey     string `yaml:"stripe_secret_key"`
	StripeWebhookSecret string `yaml:"stripe_webhook_secret"`
	ReturnURL           string `yaml:"return_url"`
}

type WorkerConfig struct {
	SweepIntervalMinutes int `yaml:"sweep_interval_minutes"`
	StalePendingMinutes  int `yaml:"stale_pending_minutes"`
	SweepBatchSize       int `yaml:"sweep_batch_size"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// LoadConfig reads a YAML file. ${VAR} references are expanded from the environment first.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.HTTP.Address == "" {
		c.HTTP.Address = ":8080"
	}
	if c.HTTP.RateLimitPerMinute == 0 {
		c.HTTP.RateLimitPerMinute = 200
	}
	if c.HTTP.RateLimitBurst == 0 {
		c.HTTP.RateLimitBurst = 50
	}
	if c.HTTP.ShutdownTimeoutSecs == 0 {
		c.HTTP.ShutdownTimeoutSecs = 5
	}
	if c.HTTP.RequestTimeoutSecs == 0 {
		c.HTTP.RequestTimeoutSecs = 15
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverPostgres
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Redis.EventDedupeHours == 0 {
		c.Redis.EventDedupeHours = 24
	}
	if c.Kafka.BookingEventsTopic == "" {
		c.Kafka.BookingEventsTopic = "booking_events"
	}
	if c.Kafka.PaymentEventsTopic == "" {
		c.Kafka.PaymentEventsTopic = "payment_events"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "roombooking-worker"
	}
	if c.Booking.Currency == "" {
		c.Booking.Currency = "inr"
	}
	c.Booking.Currency = strings.ToLower(c.Booking.Currency)
	if c.Booking.Admission == "" {
		c.Booking.Admission = AdmissionHoldPending
	}
	if c.Booking.PendingHoldMinutes == 0 {
		c.Booking.PendingHoldMinutes = 15
	}
	if c.Worker.SweepIntervalMinutes == 0 {
		c.Worker.SweepIntervalMinutes = 5
	}
	if c.Worker.StalePendingMinutes == 0 {
		c.Worker.StalePendingMinutes = 30
	}
	if c.Worker.SweepBatchSize == 0 {
		c.Worker.SweepBatchSize = 100
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.Host == "" || c.Database.Name == "" {
			errs = append(errs, errors.New("database.host and database.name are required for the postgres driver"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not supported", c.Database.Driver))
	}
	if len(c.Booking.Currency) != 3 {
		errs = append(errs, fmt.Errorf("booking.currency %q must be a 3-letter code", c.Booking.Currency))
	}
	switch c.Booking.Admission {
	case AdmissionHoldPending, AdmissionConfirmedOnly:
	default:
		errs = append(errs, fmt.Errorf("booking.admission %q is not supported", c.Booking.Admission))
	}
	if c.Booking.HoldsPending() && c.Worker.StalePendingMinutes < c.Booking.PendingHoldMinutes {
		errs = append(errs, errors.New("worker.stale_pending_minutes must not be shorter than booking.pending_hold_minutes"))
	}
	if c.Booking.StatsCacheTTLSeconds < 0 {
		errs = append(errs, errors.New("booking.stats_cache_ttl_seconds must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the dispatch pipeline.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	SES         SESConfig         `yaml:"ses"`
	Worker      WorkerConfig      `yaml:"worker"`
	Unsubscribe UnsubscribeConfig `yaml:"unsubscribe"`
	SMTP        SMTPConfig        `yaml:"smtp"`
	Billing     BillingConfig     `yaml:"billing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	BaseURL     string   `yaml:"base_url"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// DatabaseConfig holds the queue/data backing store connection.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds the shared rate-limit/dedupe store connection.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// SESConfig holds provider credentials. EndpointURL overrides the regional
// endpoint for local emulation.
type SESConfig struct {
	AccessKey      string `yaml:"access_key"`
	SecretKey      string `yaml:"secret_key"`
	DefaultRegion  string `yaml:"default_region"`
	EndpointURL    string `yaml:"endpoint_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// WorkerConfig holds dispatch worker pool settings.
type WorkerConfig struct {
	NumWorkers     int `yaml:"num_workers"`
	BatchSize      int `yaml:"batch_size"`
	PollIntervalMS int `yaml:"poll_interval_ms"`
	MaxSendRetries int `yaml:"max_send_retries"`
}

// UnsubscribeConfig holds the link-signing secret and landing page base.
type UnsubscribeConfig struct {
	Secret  string `yaml:"secret"`
	BaseURL string `yaml:"base_url"`
}

// SMTPConfig holds the SMTP gateway settings. SNICerts maps hostname to
// cert/key paths; DefaultCert is used when no SNI entry matches.
type SMTPConfig struct {
	Hostname      string            `yaml:"hostname"`
	AuthUsername  string            `yaml:"auth_username"`
	PlainPorts    []int             `yaml:"plain_ports"`
	TLSPorts      []int             `yaml:"tls_ports"`
	DefaultCert   string            `yaml:"default_cert"`
	DefaultKey    string            `yaml:"default_key"`
	SNICerts      map[string]SNIPair `yaml:"sni_certs"`
	MaxMessageMB  int               `yaml:"max_message_mb"`
	APIBaseURL    string            `yaml:"api_base_url"`
}

// SNIPair is one hostname's certificate and key paths.
type SNIPair struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

// BillingConfig holds the billing-unit parameters. TransactionalRatio is
// how many transactional emails make one billable unit.
type BillingConfig struct {
	UnitPriceCents     int `yaml:"unit_price_cents"`
	TransactionalRatio int `yaml:"transactional_ratio"`
}

// Load reads and parses the configuration file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 50
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 10
	}
	if cfg.Redis.URL == "" {
		cfg.Redis.URL = "redis://localhost:6379"
	}
	if cfg.SES.DefaultRegion == "" {
		cfg.SES.DefaultRegion = "us-east-1"
	}
	if cfg.SES.TimeoutSeconds == 0 {
		cfg.SES.TimeoutSeconds = 30
	}
	if cfg.Worker.NumWorkers == 0 {
		cfg.Worker.NumWorkers = 10
	}
	if cfg.Worker.BatchSize == 0 {
		cfg.Worker.BatchSize = 50
	}
	if cfg.Worker.PollIntervalMS == 0 {
		cfg.Worker.PollIntervalMS = 200
	}
	if cfg.Worker.MaxSendRetries == 0 {
		cfg.Worker.MaxSendRetries = 3
	}
	if cfg.SMTP.Hostname == "" {
		cfg.SMTP.Hostname = "smtp.localhost"
	}
	if cfg.SMTP.AuthUsername == "" {
		cfg.SMTP.AuthUsername = "dispatch"
	}
	if len(cfg.SMTP.PlainPorts) == 0 {
		cfg.SMTP.PlainPorts = []int{25, 587, 2587}
	}
	if len(cfg.SMTP.TLSPorts) == 0 {
		cfg.SMTP.TLSPorts = []int{465, 2465}
	}
	if cfg.SMTP.MaxMessageMB == 0 {
		cfg.SMTP.MaxMessageMB = 10
	}
	if cfg.Billing.UnitPriceCents == 0 {
		cfg.Billing.UnitPriceCents = 1
	}
	if cfg.Billing.TransactionalRatio == 0 {
		cfg.Billing.TransactionalRatio = 4
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// A .env file (if present) is loaded first so secrets can live in .env
// locally and in real env vars in production.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		// No config file: environment-only setup.
		cfg = &Config{}
		cfg.applyDefaults()
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
	}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		cfg.Redis.URL = redisURL
	}
	if accessKey := os.Getenv("AWS_SES_ACCESS_KEY"); accessKey != "" {
		cfg.SES.AccessKey = accessKey
	}
	if secretKey := os.Getenv("AWS_SES_SECRET_KEY"); secretKey != "" {
		cfg.SES.SecretKey = secretKey
	}
	if region := os.Getenv("AWS_DEFAULT_REGION"); region != "" {
		cfg.SES.DefaultRegion = region
	}
	if endpoint := os.Getenv("AWS_SES_ENDPOINT_URL"); endpoint != "" {
		cfg.SES.EndpointURL = endpoint
	}
	if secret := os.Getenv("UNSUBSCRIBE_SECRET"); secret != "" {
		cfg.Unsubscribe.Secret = secret
	}
	if baseURL := os.Getenv("BASE_URL"); baseURL != "" {
		cfg.Server.BaseURL = baseURL
		if cfg.Unsubscribe.BaseURL == "" {
			cfg.Unsubscribe.BaseURL = baseURL
		}
	}
	if apiBase := os.Getenv("DISPATCH_API_URL"); apiBase != "" {
		cfg.SMTP.APIBaseURL = apiBase
	}
	if user := os.Getenv("SMTP_AUTH_USERNAME"); user != "" {
		cfg.SMTP.AuthUsername = user
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}

	return cfg, nil
}

// Validate checks settings that have no workable default.
func (cfg *Config) Validate() error {
	if cfg.Database.URL == "" {
		return fmt.Errorf("database url is required (config database.url or DATABASE_URL)")
	}
	if cfg.Unsubscribe.Secret == "" {
		return fmt.Errorf("unsubscribe secret is required (config unsubscribe.secret or UNSUBSCRIBE_SECRET)")
	}
	return nil
}

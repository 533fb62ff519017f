package config

import (
	"io/ioutil"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config top-level struct
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Provider  ProviderConfig  `yaml:"provider"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Publisher PublisherConfig `yaml:"publisher"`
	Payments  PaymentsConfig  `yaml:"payments"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type ProviderConfig struct {
	BaseURL   string        `yaml:"base_url"`
	APIKey    string        `yaml:"api_key"`
	TimeoutMS int           `yaml:"timeout_ms"`
	Breaker   BreakerConfig `yaml:"breaker"`
}

func (p ProviderConfig) Timeout() time.Duration { return time.Duration(p.TimeoutMS) * time.Millisecond }

type BreakerConfig struct {
	WindowSec     int     `yaml:"window_sec"`
	OpenWaitSec   int     `yaml:"open_wait_sec"`
	FailureRatio  float64 `yaml:"failure_ratio"`
	MinRequests   uint32  `yaml:"min_requests"`
	ProbeRequests uint32  `yaml:"probe_requests"`
	SlowCallMS    int     `yaml:"slow_call_ms"`
}

type WebhookConfig struct {
	Secret       string `yaml:"secret"`
	ToleranceSec int64  `yaml:"tolerance_sec"`
}

type PublisherConfig struct {
	IntervalMS int `yaml:"interval_ms"`
	BatchSize  int `yaml:"batch_size"`
}

type PaymentsConfig struct {
	Currencies    []string `yaml:"currencies"`
	StaleAfterMin int      `yaml:"stale_after_min"`
}

type RateLimitConfig struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

// Load reads yaml file
func Load(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	// secret material comes from env in deployed environments
	if pw := os.Getenv("POSTGRES_PASSWORD"); pw != "" {
		cfg.Postgres.DSN = cfg.Postgres.DSN + " password=" + pw
	}
	if key := os.Getenv("PSP_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if secret := os.Getenv("PSP_WEBHOOK_SECRET"); secret != "" {
		cfg.Webhook.Secret = secret
	}
	return &cfg, nil
}

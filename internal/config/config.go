// File: internal/config/config.go
package config

import (
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	MinGatewayTimeout = 15 * time.Second
	MaxGatewayTimeout = 30 * time.Second
)

type RuntimeConfig struct {
	Dev bool
}

type HTTPConfig struct {
	Port           int           `yaml:"port"`
	BaseURL        string        `yaml:"base_url"` // public URL used to build callback/return links
	RequestTimeout time.Duration `yaml:"request_timeout"`
	Locale         string        `yaml:"locale"` // payment page language
	// TrustedProxies lists the CIDRs of reverse proxies whose
	// X-Forwarded-For is believed. Empty means the peer address is the client.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type AdminConfig struct {
	APIKey       string        `yaml:"api_key"` // exchanged for a session token at /admin/api/login
	JWTSecret    string        `yaml:"jwt_secret"`
	SessionTTL   time.Duration `yaml:"session_ttl"`
	SecureCookie bool          `yaml:"secure_cookie"`
	CookieDomain string        `yaml:"cookie_domain"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
}

type AMQPConfig struct {
	URL      string `yaml:"url"` // empty disables event publishing
	Exchange string `yaml:"exchange"`
}

type PaymentConfig struct {
	HTTPTimeout       time.Duration `yaml:"http_timeout"`       // per outbound gateway call
	ReconcileInterval time.Duration `yaml:"reconcile_interval"` // stale sweeper period
	StaleAfter        time.Duration `yaml:"stale_after"`
	SweepBatch        int           `yaml:"sweep_batch"`
	Workers           int           `yaml:"workers"`
	CallbackRateLimit int           `yaml:"callback_rate_limit"` // per gateway and source IP, per minute
}

type SecurityConfig struct {
	EncryptionKey string `yaml:"encryption_key"`
}

// GatewaySeed is a gateway instance declared in the config file and
// seeded into the database by `gatewayctl gateways seed`.
type GatewaySeed struct {
	Name        string            `yaml:"name"`
	Title       string            `yaml:"title"`
	Enabled     bool              `yaml:"enabled"`
	TestMode    bool              `yaml:"test_mode"`
	Credentials map[string]string `yaml:"credentials"`
}

type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Log      LogConfig      `yaml:"log"`
	Admin    AdminConfig    `yaml:"admin"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	AMQP     AMQPConfig     `yaml:"amqp"`
	Payment  PaymentConfig  `yaml:"payment"`
	Security SecurityConfig `yaml:"security"`
	Gateways []GatewaySeed  `yaml:"gateways"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig parses -config and -dev from the command line and loads the file.
func LoadConfig() (*Config, error) {
	var configPath string
	var dev bool
	flag.StringVar(&configPath, "config", "config.yaml", "path to config yaml")
	flag.BoolVar(&dev, "dev", false, "development mode")
	flag.Parse()
	return Load(configPath, dev)
}

func Load(configPath string, dev bool) (*Config, error) {
	b, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b, dev)
}

func Parse(b []byte, dev bool) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	// defaults
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.HTTP.Locale == "" {
		cfg.HTTP.Locale = "en"
	}
	if cfg.HTTP.RequestTimeout <= 0 {
		cfg.HTTP.RequestTimeout = 45 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.Redis.LockTTL <= 0 {
		cfg.Redis.LockTTL = time.Minute
	}
	if cfg.AMQP.Exchange == "" {
		cfg.AMQP.Exchange = "payments"
	}
	if cfg.Admin.SessionTTL <= 0 {
		cfg.Admin.SessionTTL = 30 * time.Minute
	}
	cfg.Payment.HTTPTimeout = ClampGatewayTimeout(cfg.Payment.HTTPTimeout)
	if cfg.Payment.ReconcileInterval <= 0 {
		cfg.Payment.ReconcileInterval = 5 * time.Minute
	}
	if cfg.Payment.StaleAfter <= 0 {
		cfg.Payment.StaleAfter = 30 * time.Minute
	}
	if cfg.Payment.SweepBatch <= 0 {
		cfg.Payment.SweepBatch = 100
	}
	if cfg.Payment.Workers <= 0 {
		cfg.Payment.Workers = 4
	}
	if cfg.Payment.CallbackRateLimit <= 0 {
		cfg.Payment.CallbackRateLimit = 120
	}

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}
	if cfg.HTTP.BaseURL == "" {
		return nil, errors.New("http.base_url is required")
	}
	if cfg.Admin.APIKey != "" && len(cfg.Admin.JWTSecret) < 16 {
		return nil, errors.New("admin.jwt_secret must be at least 16 bytes when admin.api_key is set")
	}
	for _, cidr := range cfg.HTTP.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return nil, fmt.Errorf("http.trusted_proxies: %w", err)
		}
	}
	if k := cfg.Security.EncryptionKey; k != "" && !validKey(k) {
		return nil, fmt.Errorf("security.encryption_key must be 16, 24 or 32 bytes, raw or base64; got %d", len(k))
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func validKey(k string) bool {
	switch len(k) {
	case 16, 24, 32:
		return true
	}
	b, err := base64.StdEncoding.DecodeString(k)
	if err != nil {
		return false
	}
	n := len(b)
	return n == 16 || n == 24 || n == 32
}

// ClampGatewayTimeout keeps outbound gateway calls within 15s..30s.
func ClampGatewayTimeout(d time.Duration) time.Duration {
	if d < MinGatewayTimeout {
		return MinGatewayTimeout
	}
	if d > MaxGatewayTimeout {
		return MaxGatewayTimeout
	}
	return d
}

// Package config loads service configuration from YAML with HRMS_*
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/token"
)

const envPrefix = "HRMS_"

type Config struct {
	App struct {
		// dev | staging | prod
		Env      string `yaml:"env"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"app"`

	Server struct {
		Addr            string        `yaml:"addr"`
		BaseDomains     []string      `yaml:"base_domains"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	} `yaml:"server"`

	Storage struct {
		DSN string `yaml:"dsn"`
	} `yaml:"storage"`

	Token struct {
		Algorithm      string        `yaml:"algorithm"`
		Secret         string        `yaml:"secret"`
		PrivateKeyFile string        `yaml:"private_key_file"`
		PublicKeyFile  string        `yaml:"public_key_file"`
		KeyID          string        `yaml:"key_id"`
		Issuer         string        `yaml:"issuer"`
		Audience       string        `yaml:"audience"`
		AccessTTL      time.Duration `yaml:"access_ttl"`
	} `yaml:"token"`

	Session struct {
		RefreshTTL    time.Duration `yaml:"refresh_ttl"`
		SweepInterval time.Duration `yaml:"sweep_interval"`
		Retention     time.Duration `yaml:"retention"`
	} `yaml:"session"`

	RateLimit struct {
		// memory | redis | off
		Kind      string        `yaml:"kind"`
		PerSecond float64       `yaml:"per_second"`
		Burst     int           `yaml:"burst"`
		Window    time.Duration `yaml:"window"`
		Redis     struct {
			Addr   string `yaml:"addr"`
			DB     int    `yaml:"db"`
			Prefix string `yaml:"prefix"`
		} `yaml:"redis"`
	} `yaml:"rate_limit"`
}

// Load reads path (optional) then applies defaults and environment overrides.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	c.applyEnvOverrides()
	c.applyDefaults()
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 15 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 1 << 20
	}
	if c.Token.Algorithm == "" {
		c.Token.Algorithm = token.AlgHS256
	}
	if c.Token.AccessTTL == 0 {
		c.Token.AccessTTL = 15 * time.Minute
	}
	if c.Session.RefreshTTL == 0 {
		c.Session.RefreshTTL = 14 * 24 * time.Hour
	}
	if c.Session.SweepInterval == 0 {
		c.Session.SweepInterval = time.Hour
	}
	if c.Session.Retention == 0 {
		c.Session.Retention = 7 * 24 * time.Hour
	}
	if c.RateLimit.Kind == "" {
		c.RateLimit.Kind = "memory"
	}
	if c.RateLimit.PerSecond == 0 {
		c.RateLimit.PerSecond = 1
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 10
	}
	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = time.Minute
	}
}

func (c *Config) applyEnvOverrides() {
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.App.LogLevel = v
	}

	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvCSV("BASE_DOMAINS"); ok {
		c.Server.BaseDomains = v
	}

	if v, ok := getEnvStr("PG_DSN"); ok {
		c.Storage.DSN = v
	}

	if v, ok := getEnvStr("TOKEN_ALGORITHM"); ok {
		c.Token.Algorithm = strings.ToUpper(v)
	}
	if v, ok := getEnvStr("TOKEN_SECRET"); ok {
		c.Token.Secret = v
	}
	if v, ok := getEnvStr("TOKEN_PRIVATE_KEY_FILE"); ok {
		c.Token.PrivateKeyFile = v
	}
	if v, ok := getEnvStr("TOKEN_PUBLIC_KEY_FILE"); ok {
		c.Token.PublicKeyFile = v
	}
	if v, ok := getEnvStr("TOKEN_KEY_ID"); ok {
		c.Token.KeyID = v
	}
	if v, ok := getEnvStr("TOKEN_ISSUER"); ok {
		c.Token.Issuer = v
	}
	if v, ok := getEnvStr("TOKEN_AUDIENCE"); ok {
		c.Token.Audience = v
	}
	if v, ok := getEnvDur("ACCESS_TTL"); ok {
		c.Token.AccessTTL = v
	}

	if v, ok := getEnvDur("REFRESH_TTL"); ok {
		c.Session.RefreshTTL = v
	}
	if v, ok := getEnvDur("SWEEP_INTERVAL"); ok {
		c.Session.SweepInterval = v
	}

	if v, ok := getEnvStr("RATE_LIMIT_KIND"); ok {
		c.RateLimit.Kind = strings.ToLower(v)
	}
	if v, ok := getEnvInt("RATE_LIMIT_BURST"); ok {
		c.RateLimit.Burst = v
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.RateLimit.Redis.Addr = v
	}
}

// Validate rejects configurations that would start the service with
// authentication silently disabled.
func (c *Config) Validate() error {
	var errs []error
	switch c.Token.Algorithm {
	case token.AlgHS256:
		if strings.TrimSpace(c.Token.Secret) == "" {
			errs = append(errs, fmt.Errorf("%w: token.secret is required for HS256", token.ErrMissingSigningMaterial))
		}
	case token.AlgRS256:
		if c.Token.PrivateKeyFile == "" || c.Token.PublicKeyFile == "" {
			errs = append(errs, fmt.Errorf("%w: token key files are required for RS256", token.ErrMissingSigningMaterial))
		}
	default:
		errs = append(errs, fmt.Errorf("token.algorithm %q is not supported", c.Token.Algorithm))
	}
	if strings.TrimSpace(c.Token.Issuer) == "" {
		errs = append(errs, errors.New("token.issuer is required"))
	}
	if strings.TrimSpace(c.Token.Audience) == "" {
		errs = append(errs, errors.New("token.audience is required"))
	}
	if strings.TrimSpace(c.Storage.DSN) == "" {
		errs = append(errs, errors.New("storage.dsn is required"))
	}
	if c.Token.AccessTTL <= 0 {
		errs = append(errs, errors.New("token.access_ttl must be positive"))
	}
	if c.Session.RefreshTTL <= 0 {
		errs = append(errs, errors.New("session.refresh_ttl must be positive"))
	}
	switch c.RateLimit.Kind {
	case "memory", "off":
	case "redis":
		if c.RateLimit.Redis.Addr == "" {
			errs = append(errs, errors.New("rate_limit.redis.addr is required for the redis limiter"))
		}
	default:
		errs = append(errs, fmt.Errorf("rate_limit.kind %q is not supported", c.RateLimit.Kind))
	}
	return errors.Join(errs...)
}

// IssuerConfig assembles token.Config, reading PEM files when configured.
func (c *Config) IssuerConfig() (token.Config, error) {
	out := token.Config{
		Algorithm: c.Token.Algorithm,
		Secret:    c.Token.Secret,
		KeyID:     c.Token.KeyID,
		Issuer:    c.Token.Issuer,
		Audience:  c.Token.Audience,
		TTL:       c.Token.AccessTTL,
	}
	if c.Token.Algorithm != token.AlgRS256 {
		return out, nil
	}
	priv, err := os.ReadFile(c.Token.PrivateKeyFile)
	if err != nil {
		return token.Config{}, fmt.Errorf("read private key: %w", err)
	}
	pub, err := os.ReadFile(c.Token.PublicKeyFile)
	if err != nil {
		return token.Config{}, fmt.Errorf("read public key: %w", err)
	}
	out.PrivateKeyPEM = string(priv)
	out.PublicKeyPEM = string(pub)
	return out, nil
}

func (c *Config) IsProd() bool { return c.App.Env == "prod" }

func getEnvStr(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(envPrefix + key))
	return v, v != ""
}

func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(s); err == nil {
			return i, true
		}
	}
	return 0, false
}

func getEnvDur(key string) (time.Duration, bool) {
	if s, ok := getEnvStr(key); ok {
		if d, err := time.ParseDuration(s); err == nil {
			return d, true
		}
	}
	return 0, false
}

func getEnvCSV(key string) ([]string, bool) {
	s, ok := getEnvStr(key)
	if !ok {
		return nil, false
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out, true
}

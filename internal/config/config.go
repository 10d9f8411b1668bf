package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrMisconfigured is returned when required settings are missing or invalid.
var ErrMisconfigured = errors.New("config: misconfigured")

const envPrefix = "MAINTENIX"

// Config is the full runtime configuration shared by the gateway and the core service.
type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`

	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Core     CoreConfig     `mapstructure:"core"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Tenancy  TenancyConfig  `mapstructure:"tenancy"`
	Database DatabaseConfig `mapstructure:"database"`
	Sessions SessionConfig  `mapstructure:"sessions"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
}

type GatewayConfig struct {
	Addr            string        `mapstructure:"addr"`
	UpstreamURL     string        `mapstructure:"upstream_url"`
	DecisionURL     string        `mapstructure:"decision_url"`
	DecisionTimeout time.Duration `mapstructure:"decision_timeout"`
	PermissionsFile string        `mapstructure:"permissions_file"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	RateBurst       int           `mapstructure:"rate_burst"`
	RatePerSecond   int           `mapstructure:"rate_per_second"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
	// CoreHealthAddr is the core gRPC address probed by /readyz. Empty skips the probe.
	CoreHealthAddr string `mapstructure:"core_health_addr"`
}

type CoreConfig struct {
	Addr     string `mapstructure:"addr"`
	GRPCAddr string `mapstructure:"grpc_addr"`
	// MetricsAddr serves /metrics for scrapers outside the trust boundary. Empty disables it.
	MetricsAddr string `mapstructure:"metrics_addr"`
}

type AuthConfig struct {
	AccessSecret   string        `mapstructure:"access_secret"`
	RefreshSecret  string        `mapstructure:"refresh_secret"`
	TokenPepper    string        `mapstructure:"token_pepper"`
	InternalSecret string        `mapstructure:"internal_secret"`
	Issuer         string        `mapstructure:"issuer"`
	AccessTTL      time.Duration `mapstructure:"access_ttl"`
	RefreshTTL     time.Duration `mapstructure:"refresh_ttl"`
	// PlatformSeedKey guards tenant provisioning. Empty disables it.
	PlatformSeedKey string `mapstructure:"platform_seed_key"`
}

// TenancyConfig controls host to tenant resolution. FallbackSlug is only valid in dev.
type TenancyConfig struct {
	BaseDomain   string `mapstructure:"base_domain"`
	FallbackSlug string `mapstructure:"fallback_slug"`
}

type DatabaseConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// SessionConfig selects the refresh-session backend: "postgres" or "redis".
type SessionConfig struct {
	Backend   string `mapstructure:"backend"`
	RedisAddr string `mapstructure:"redis_addr"`
	RedisDB   int    `mapstructure:"redis_db"`
}

type TracingConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Stdout   bool   `mapstructure:"stdout"`
}

type JobsConfig struct {
	AMQPURL     string `mapstructure:"amqp_url"`
	Exchange    string `mapstructure:"exchange"`
	RuleSpec    string `mapstructure:"rule_spec"`
	AISpec      string `mapstructure:"ai_spec"`
	PageSize    int    `mapstructure:"page_size"`
	Concurrency int    `mapstructure:"concurrency"`
}

// Dev reports whether cookies should stay host-only and skip the Secure flag.
func (c *Config) Dev() bool {
	return c.Environment == "dev"
}

// Role selects which required keys Validate checks.
type Role int

const (
	RoleGateway Role = iota
	RoleCore
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "prod")
	v.SetDefault("log_level", "info")

	v.SetDefault("gateway.addr", ":8080")
	v.SetDefault("gateway.decision_timeout", 3*time.Second)
	v.SetDefault("gateway.rate_burst", 40)
	v.SetDefault("gateway.rate_per_second", 20)
	v.SetDefault("gateway.max_body_bytes", int64(1<<20))

	v.SetDefault("core.addr", ":8081")
	v.SetDefault("core.grpc_addr", ":9091")
	v.SetDefault("core.metrics_addr", ":9102")

	v.SetDefault("auth.issuer", "maintenix")
	v.SetDefault("auth.access_ttl", 15*time.Minute)
	v.SetDefault("auth.refresh_ttl", 7*24*time.Hour)

	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 25)

	v.SetDefault("sessions.backend", "postgres")

	v.SetDefault("jobs.exchange", "maintenix.jobs")
	v.SetDefault("jobs.rule_spec", "*/15 * * * *")
	v.SetDefault("jobs.ai_spec", "0 3 * * *")
	v.SetDefault("jobs.page_size", 200)
	v.SetDefault("jobs.concurrency", 10)
}

// New returns a viper instance with defaults and MAINTENIX_* env binding applied.
// Nested keys map to env vars with dots replaced by underscores.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads an optional YAML file and env overrides, then validates for role.
func Load(path string, role Role) (*Config, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	return FromViper(v, role)
}

// FromViper decodes v and validates it.
func FromViper(v *viper.Viper, role Role) (*Config, error) {
	bindEnv(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(role); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate fails fast listing every missing key.
func (c *Config) Validate(role Role) error {
	var missing []string
	need := func(key, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, key)
		}
	}

	need("auth.access_secret", c.Auth.AccessSecret)
	need("auth.internal_secret", c.Auth.InternalSecret)
	need("tenancy.base_domain", c.Tenancy.BaseDomain)
	need("database.dsn", c.Database.DSN)

	switch role {
	case RoleGateway:
		need("gateway.upstream_url", c.Gateway.UpstreamURL)
		need("gateway.decision_url", c.Gateway.DecisionURL)
	case RoleCore:
		need("auth.refresh_secret", c.Auth.RefreshSecret)
		need("auth.token_pepper", c.Auth.TokenPepper)
		if c.Sessions.Backend == "redis" {
			need("sessions.redis_addr", c.Sessions.RedisAddr)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrMisconfigured, strings.Join(missing, ", "))
	}
	if c.Auth.AccessSecret == c.Auth.RefreshSecret {
		return fmt.Errorf("%w: access and refresh secrets must differ", ErrMisconfigured)
	}
	if c.Tenancy.FallbackSlug != "" && !c.Dev() {
		return fmt.Errorf("%w: tenancy.fallback_slug is only allowed when environment is dev", ErrMisconfigured)
	}
	switch c.Sessions.Backend {
	case "postgres", "redis":
	default:
		return fmt.Errorf("%w: unsupported sessions.backend %q", ErrMisconfigured, c.Sessions.Backend)
	}
	return nil
}

// AutomaticEnv only resolves keys viper already knows; register the ones without defaults.
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"gateway.upstream_url", "gateway.decision_url", "gateway.permissions_file", "gateway.allowed_origins",
		"gateway.core_health_addr",
		"auth.access_secret", "auth.refresh_secret", "auth.token_pepper", "auth.internal_secret", "auth.platform_seed_key",
		"tenancy.base_domain", "tenancy.fallback_slug",
		"database.dsn",
		"sessions.redis_addr", "sessions.redis_db",
		"tracing.endpoint", "tracing.stdout",
		"jobs.amqp_url",
	} {
		_ = v.BindEnv(key)
	}
}

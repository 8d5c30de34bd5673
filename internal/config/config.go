package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Version information - set by GoReleaser during build
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// GetVersionInfo returns a formatted version string
func GetVersionInfo() string {
	return fmt.Sprintf("siteorg-auth version %s, commit %s, built at %s", version, commit, date)
}

type Config struct {
	Provider ProviderConfig `mapstructure:"provider"`
	Profile  ProfileConfig  `mapstructure:"profile"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ProviderConfig points the client at the external identity provider.
type ProviderConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	AnonKey        string        `mapstructure:"anon_key"`
	ProjectRef     string        `mapstructure:"project_ref"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ProfileConfig points at the profile service used for display enrichment.
type ProfileConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// CacheBackend selects the durable storage implementation for tokens.
type CacheBackend string

const (
	CacheBackendMemory CacheBackend = "memory"
	CacheBackendFile   CacheBackend = "file"
	CacheBackendRedis  CacheBackend = "redis"
)

type CacheConfig struct {
	Backend       CacheBackend `mapstructure:"backend"`
	Dir           string       `mapstructure:"dir"`
	RedisAddr     string       `mapstructure:"redis_addr"`
	RedisPassword string       `mapstructure:"redis_password"`
	RedisDB       int          `mapstructure:"redis_db"`
}

// AuthConfig carries every timing and budget the session/MFA core races
// its network calls against. Each value has a working default; config only
// exists to tune them.
type AuthConfig struct {
	AcquireAttempts         int           `mapstructure:"acquire_attempts"`
	AcquireBackoff          time.Duration `mapstructure:"acquire_backoff"`
	HydrateTimeout          time.Duration `mapstructure:"hydrate_timeout"`
	SignInTimeout           time.Duration `mapstructure:"sign_in_timeout"`
	StartupTimeout          time.Duration `mapstructure:"startup_timeout"`
	SoftVerifyTimeout       time.Duration `mapstructure:"soft_verify_timeout"`
	HardVerifyTimeout       time.Duration `mapstructure:"hard_verify_timeout"`
	MFAMaxAttempts          int           `mapstructure:"mfa_max_attempts"`
	FactorDiscoveryAttempts int           `mapstructure:"factor_discovery_attempts"`
	FactorDiscoveryBackoff  time.Duration `mapstructure:"factor_discovery_backoff"`
}

type LoggingConfig struct {
	Level             string `mapstructure:"level"`
	Format            string `mapstructure:"format"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

// InitFlags initializes command line flags (without parsing)
func InitFlags() {
	pflag.String("provider-url", "", "Base URL of the identity provider")
	pflag.String("profile-url", "", "Base URL of the profile service")
	pflag.String("cache-backend", "", "Token cache backend (memory|file|redis)")
	// Note: no pflag.Parse() here as it's called in main.go
}

func setDefaults() {
	viper.SetDefault("provider.request_timeout", 30*time.Second)
	viper.SetDefault("profile.timeout", 3*time.Second)

	viper.SetDefault("cache.backend", string(CacheBackendFile))
	viper.SetDefault("cache.dir", ".siteorg")
	viper.SetDefault("cache.redis_addr", "localhost:6379")

	viper.SetDefault("auth.acquire_attempts", 4)
	viper.SetDefault("auth.acquire_backoff", 150*time.Millisecond)
	viper.SetDefault("auth.hydrate_timeout", 10*time.Second)
	viper.SetDefault("auth.sign_in_timeout", 10*time.Second)
	viper.SetDefault("auth.startup_timeout", 15*time.Second)
	viper.SetDefault("auth.soft_verify_timeout", 8*time.Second)
	viper.SetDefault("auth.hard_verify_timeout", 60*time.Second)
	viper.SetDefault("auth.mfa_max_attempts", 5)
	viper.SetDefault("auth.factor_discovery_attempts", 4)
	viper.SetDefault("auth.factor_discovery_backoff", 200*time.Millisecond)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "console")
}

func Load() (*Config, error) {
	viper.Reset() // Ensure clean state

	viper.SetEnvPrefix("SITEORG_AUTH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.BindPFlags(pflag.CommandLine); err != nil {
		return nil, err
	}

	// Load ./config.yaml first
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/siteorg-auth")

	// The file is optional: env vars plus defaults are a complete config.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if url := viper.GetString("provider-url"); url != "" {
		config.Provider.BaseURL = url
	}
	if url := viper.GetString("profile-url"); url != "" {
		config.Profile.BaseURL = url
	}
	if backend := viper.GetString("cache-backend"); backend != "" {
		config.Cache.Backend = CacheBackend(backend)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate rejects configurations the core cannot run with.
func (c *Config) Validate() error {
	switch c.Cache.Backend {
	case CacheBackendMemory, CacheBackendFile, CacheBackendRedis:
	default:
		return fmt.Errorf("unsupported cache backend: %s", c.Cache.Backend)
	}
	if c.Auth.AcquireAttempts < 1 {
		return fmt.Errorf("auth.acquire_attempts must be at least 1")
	}
	if c.Auth.MFAMaxAttempts < 1 {
		return fmt.Errorf("auth.mfa_max_attempts must be at least 1")
	}
	if c.Auth.SoftVerifyTimeout >= c.Auth.HardVerifyTimeout {
		return fmt.Errorf("auth.soft_verify_timeout must be below auth.hard_verify_timeout")
	}
	return nil
}

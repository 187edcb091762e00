// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shrinkix/quotagate/domain/credit"
	"github.com/shrinkix/quotagate/domain/plan"
	"github.com/shrinkix/quotagate/domain/quota"
)

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Redis     RedisConfig     `yaml:"redis"`
	Auth      AuthConfig      `yaml:"auth"`
	Quota     QuotaConfig     `yaml:"quota"`
	Guest     GuestConfig     `yaml:"guest"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Engine    EngineConfig    `yaml:"engine"`
	Plans     []PlanConfig    `yaml:"plans"`
	Addons    AddonsConfig    `yaml:"addons"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	OpenAPI   OpenAPIConfig   `yaml:"openapi"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	// TrustedProxies lists the addresses or CIDR ranges of reverse proxies
	// whose X-Forwarded-For entries are believed. Empty means none.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// TrustedPrefixes parses TrustedProxies. Bare addresses become single-host
// prefixes.
func (s ServerConfig) TrustedPrefixes() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(s.TrustedProxies))
	for i, raw := range s.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("server.trusted_proxies[%d]: %w", i, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("server.trusted_proxies[%d]: %w", i, err)
		}
		out = append(out, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
	}
	return out, nil
}

// StorageConfig selects the account and credential store.
type StorageConfig struct {
	Driver string `yaml:"driver"` // "sqlite", "postgres" or "memory"
	DSN    string `yaml:"dsn"`
}

// RedisConfig configures the shared Redis used by the guest ledger and
// rate-limit windows when they are set to "redis".
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password,omitempty"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// AuthConfig configures credential issuance.
type AuthConfig struct {
	KeyPrefix  string `yaml:"key_prefix"`
	BcryptCost int    `yaml:"bcrypt_cost"`
}

// QuotaConfig configures quota enforcement.
type QuotaConfig struct {
	// APIMode is the enforcement mode of the versioned API: "soft" or "hard".
	// The legacy web endpoint always enforces hard.
	APIMode       string        `yaml:"api_mode"`
	SweepInterval time.Duration `yaml:"sweep_interval"` // 0 disables the background sweep
	SweepBatch    int           `yaml:"sweep_batch"`
}

// GuestConfig configures the anonymous allowance.
type GuestConfig struct {
	DailyLimit int    `yaml:"daily_limit"`
	Store      string `yaml:"store"` // "memory" or "redis"
}

// RateLimitConfig configures rate-limit annotation.
type RateLimitConfig struct {
	Store string `yaml:"store"` // "memory" or "redis"
}

// EngineConfig selects the image processor.
type EngineConfig struct {
	Mode            string        `yaml:"mode"` // "local" or "remote"
	URL             string        `yaml:"url"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

// PlanConfig configures a pricing tier.
type PlanConfig struct {
	ID             string   `yaml:"id"`
	Name           string   `yaml:"name"`
	Tier           string   `yaml:"tier"`    // "web" or "api"
	Cadence        string   `yaml:"cadence"` // "daily" or "monthly"
	MonthlyLimit   int64    `yaml:"monthly_limit"`
	WebLimit       int64    `yaml:"web_limit"`
	MaxFileSize    int64    `yaml:"max_file_size"`
	MaxPixels      int64    `yaml:"max_pixels"`
	AllowedFormats []string `yaml:"allowed_formats"`
	MaxOperations  int      `yaml:"max_operations"`
	RateLimit      float64  `yaml:"rate_limit"`
	Features       []string `yaml:"features"`
	AddonsEnabled  bool     `yaml:"addons_enabled"`
	Default        bool     `yaml:"default"` // fallback for unknown plan ids and guests
}

// AddonsConfig configures the add-on credit catalog.
type AddonsConfig struct {
	Cap     int64         `yaml:"cap"`
	Bundles []AddonConfig `yaml:"bundles"`
}

// AddonConfig configures one purchasable bundle.
type AddonConfig struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	Credits    int64  `yaml:"credits"`
	PriceCents int64  `yaml:"price_cents"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"` // Enable /metrics endpoint
}

// OpenAPIConfig configures OpenAPI/Swagger documentation.
type OpenAPIConfig struct {
	Enabled bool `yaml:"enabled"` // Enable OpenAPI endpoints
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse builds a configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(&cfg)

	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
// This is useful for container deployments where no config file is needed.
//
// Environment variables:
//
//	QUOTAGATE_SERVER_HOST        - Server host (default: 0.0.0.0)
//	QUOTAGATE_SERVER_PORT        - Server port (default: 8080)
//	QUOTAGATE_SERVER_TRUSTED_PROXIES - Comma-separated proxy addresses or CIDRs
//	QUOTAGATE_STORAGE_DRIVER     - sqlite, postgres or memory (default: sqlite)
//	QUOTAGATE_STORAGE_DSN        - Database path or URL (default: quotagate.db)
//	QUOTAGATE_REDIS_ADDR         - Redis address for shared guest/rate-limit state
//	QUOTAGATE_QUOTA_API_MODE     - soft or hard (default: soft)
//	QUOTAGATE_GUEST_DAILY_LIMIT  - Anonymous requests per day (default: 25)
//	QUOTAGATE_GUEST_STORE        - memory or redis (default: memory)
//	QUOTAGATE_ENGINE_MODE        - local or remote (default: local)
//	QUOTAGATE_ENGINE_URL         - Remote engine base URL
//	QUOTAGATE_LOG_LEVEL          - debug, info, warn, error (default: info)
//	QUOTAGATE_LOG_FORMAT         - json or console (default: json)
//	QUOTAGATE_METRICS_ENABLED    - Enable /metrics endpoint
//	QUOTAGATE_OPENAPI_ENABLED    - Enable OpenAPI/Swagger
func LoadFromEnv() (*Config, error) {
	var cfg Config

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadWithFallback loads from file when it exists and from the environment
// otherwise.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return LoadFromEnv()
}

// applyEnvOverrides applies QUOTAGATE_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	// Server configuration
	if v := os.Getenv("QUOTAGATE_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("QUOTAGATE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("QUOTAGATE_SERVER_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Server.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("QUOTAGATE_SERVER_TRUSTED_PROXIES"); v != "" {
		cfg.Server.TrustedProxies = strings.Split(v, ",")
	}

	// Storage configuration
	if v := os.Getenv("QUOTAGATE_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("QUOTAGATE_STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}

	// Redis configuration
	if v := os.Getenv("QUOTAGATE_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("QUOTAGATE_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}

	// Auth configuration
	if v := os.Getenv("QUOTAGATE_AUTH_KEY_PREFIX"); v != "" {
		cfg.Auth.KeyPrefix = v
	}

	// Quota configuration
	if v := os.Getenv("QUOTAGATE_QUOTA_API_MODE"); v != "" {
		cfg.Quota.APIMode = v
	}
	if v := os.Getenv("QUOTAGATE_QUOTA_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Quota.SweepInterval = d
		}
	}

	// Guest configuration
	if v := os.Getenv("QUOTAGATE_GUEST_DAILY_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Guest.DailyLimit = n
		}
	}
	if v := os.Getenv("QUOTAGATE_GUEST_STORE"); v != "" {
		cfg.Guest.Store = v
	}
	if v := os.Getenv("QUOTAGATE_RATELIMIT_STORE"); v != "" {
		cfg.RateLimit.Store = v
	}

	// Engine configuration
	if v := os.Getenv("QUOTAGATE_ENGINE_MODE"); v != "" {
		cfg.Engine.Mode = v
	}
	if v := os.Getenv("QUOTAGATE_ENGINE_URL"); v != "" {
		cfg.Engine.URL = v
	}
	if v := os.Getenv("QUOTAGATE_ENGINE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Engine.Timeout = d
		}
	}

	// Logging configuration
	if v := os.Getenv("QUOTAGATE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("QUOTAGATE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Metrics configuration
	if v := os.Getenv("QUOTAGATE_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}

	// OpenAPI configuration
	if v := os.Getenv("QUOTAGATE_OPENAPI_ENABLED"); v != "" {
		cfg.OpenAPI.Enabled = parseBool(v)
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 60 * time.Second
	}
	if cfg.Server.MaxUploadBytes == 0 {
		cfg.Server.MaxUploadBytes = 50 << 20
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.DSN == "" && cfg.Storage.Driver == "sqlite" {
		cfg.Storage.DSN = "quotagate.db"
	}

	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "quotagate:"
	}

	if cfg.Auth.KeyPrefix == "" {
		cfg.Auth.KeyPrefix = "shx_"
	}
	if cfg.Auth.BcryptCost == 0 {
		cfg.Auth.BcryptCost = 10
	}

	if cfg.Quota.APIMode == "" {
		cfg.Quota.APIMode = string(quota.EnforceSoft)
	}
	if cfg.Quota.SweepBatch == 0 {
		cfg.Quota.SweepBatch = 500
	}

	if cfg.Guest.DailyLimit == 0 {
		cfg.Guest.DailyLimit = 25
	}
	if cfg.Guest.Store == "" {
		cfg.Guest.Store = "memory"
	}
	if cfg.RateLimit.Store == "" {
		cfg.RateLimit.Store = "memory"
	}

	if cfg.Engine.Mode == "" {
		cfg.Engine.Mode = "local"
	}
	if cfg.Engine.Timeout == 0 {
		cfg.Engine.Timeout = 30 * time.Second
	}

	if cfg.Addons.Cap == 0 {
		cfg.Addons.Cap = credit.DefaultCap
	}
	if len(cfg.Addons.Bundles) == 0 {
		for _, a := range credit.Defaults() {
			cfg.Addons.Bundles = append(cfg.Addons.Bundles, AddonConfig{
				ID: a.ID, Name: a.Name, Credits: a.Credits, PriceCents: a.PriceCents,
			})
		}
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	for i := range cfg.Plans {
		p := &cfg.Plans[i]
		if p.Tier == "" {
			p.Tier = string(plan.TierAPI)
		}
		if p.Cadence == "" {
			p.Cadence = string(plan.CadenceMonthly)
			if p.Tier == string(plan.TierWeb) {
				p.Cadence = string(plan.CadenceDaily)
			}
		}
		if p.Name == "" {
			p.Name = p.ID
		}
	}
	if len(cfg.Plans) > 0 && !hasDefaultPlan(cfg.Plans) {
		cfg.Plans[0].Default = true
	}

	// Published plans if none configured
	if len(cfg.Plans) == 0 {
		for _, p := range plan.Defaults() {
			cfg.Plans = append(cfg.Plans, PlanConfig{
				ID:             p.ID,
				Name:           p.Name,
				Tier:           string(p.Tier),
				Cadence:        string(p.Cadence),
				MonthlyLimit:   p.MonthlyLimit,
				WebLimit:       p.WebLimit,
				MaxFileSize:    p.MaxFileSize,
				MaxPixels:      p.MaxPixels,
				AllowedFormats: p.AllowedFormats,
				MaxOperations:  p.MaxOperations,
				RateLimit:      p.RateLimit,
				Features:       p.Features,
				AddonsEnabled:  p.AddonsEnabled,
				Default:        p.ID == "free",
			})
		}
	}
}

func validate(cfg *Config) error {
	if _, err := cfg.Server.TrustedPrefixes(); err != nil {
		return err
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "memory": true}
	if !validDrivers[cfg.Storage.Driver] {
		return fmt.Errorf("storage.driver must be 'sqlite', 'postgres' or 'memory', got %q", cfg.Storage.Driver)
	}
	if cfg.Storage.Driver == "postgres" && cfg.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn is required when storage.driver is 'postgres'")
	}

	if m := quota.EnforceMode(cfg.Quota.APIMode); m != quota.EnforceSoft && m != quota.EnforceHard {
		return fmt.Errorf("quota.api_mode must be 'soft' or 'hard', got %q", cfg.Quota.APIMode)
	}
	if cfg.Quota.SweepInterval < 0 {
		return fmt.Errorf("quota.sweep_interval must not be negative")
	}

	if cfg.Guest.DailyLimit < 0 {
		return fmt.Errorf("guest.daily_limit must not be negative")
	}
	for name, store := range map[string]string{"guest.store": cfg.Guest.Store, "rate_limit.store": cfg.RateLimit.Store} {
		if store != "memory" && store != "redis" {
			return fmt.Errorf("%s must be 'memory' or 'redis', got %q", name, store)
		}
		if store == "redis" && cfg.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required when %s is 'redis'", name)
		}
	}

	switch cfg.Engine.Mode {
	case "local":
	case "remote":
		if cfg.Engine.URL == "" {
			return fmt.Errorf("engine.url is required when engine.mode is 'remote'")
		}
	default:
		return fmt.Errorf("engine.mode must be 'local' or 'remote', got %q", cfg.Engine.Mode)
	}

	if err := validatePlans(cfg.Plans); err != nil {
		return err
	}

	seen := make(map[string]bool, len(cfg.Addons.Bundles))
	for i, a := range cfg.Addons.Bundles {
		if a.ID == "" {
			return fmt.Errorf("addons.bundles[%d].id is required", i)
		}
		if seen[a.ID] {
			return fmt.Errorf("addons.bundles[%d]: duplicate id %q", i, a.ID)
		}
		seen[a.ID] = true
		if a.Credits <= 0 {
			return fmt.Errorf("addons.bundles[%d].credits must be positive", i)
		}
		if a.Credits > cfg.Addons.Cap {
			return fmt.Errorf("addons.bundles[%d].credits exceeds addons.cap", i)
		}
	}

	return nil
}

func validatePlans(plans []PlanConfig) error {
	seen := make(map[string]bool, len(plans))
	defaults := 0
	for i, p := range plans {
		if p.ID == "" {
			return fmt.Errorf("plans[%d].id is required", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("plans[%d]: duplicate id %q", i, p.ID)
		}
		seen[p.ID] = true

		if plan.Tier(p.Tier) != plan.TierWeb && plan.Tier(p.Tier) != plan.TierAPI {
			return fmt.Errorf("plans[%d].tier must be 'web' or 'api', got %q", i, p.Tier)
		}
		if plan.Cadence(p.Cadence) != plan.CadenceDaily && plan.Cadence(p.Cadence) != plan.CadenceMonthly {
			return fmt.Errorf("plans[%d].cadence must be 'daily' or 'monthly', got %q", i, p.Cadence)
		}
		if p.MonthlyLimit < plan.Unlimited || p.WebLimit < plan.Unlimited {
			return fmt.Errorf("plans[%d]: limits must be -1 (unlimited) or non-negative", i)
		}
		if p.Default {
			defaults++
		}
	}
	if defaults > 1 {
		return fmt.Errorf("only one plan may be marked default, found %d", defaults)
	}
	return nil
}

func hasDefaultPlan(plans []PlanConfig) bool {
	for _, p := range plans {
		if p.Default {
			return true
		}
	}
	return false
}

// PlanCatalog builds the plan catalog.
func (c *Config) PlanCatalog() *plan.Catalog {
	plans := make([]plan.Plan, len(c.Plans))
	defaultID := ""
	for i, p := range c.Plans {
		plans[i] = plan.Plan{
			ID:             p.ID,
			Name:           p.Name,
			Tier:           plan.Tier(p.Tier),
			Cadence:        plan.Cadence(p.Cadence),
			MonthlyLimit:   p.MonthlyLimit,
			WebLimit:       p.WebLimit,
			MaxFileSize:    p.MaxFileSize,
			MaxPixels:      p.MaxPixels,
			AllowedFormats: p.AllowedFormats,
			MaxOperations:  p.MaxOperations,
			RateLimit:      p.RateLimit,
			Features:       p.Features,
			AddonsEnabled:  p.AddonsEnabled,
		}
		if p.Default {
			defaultID = p.ID
		}
	}
	return plan.NewCatalog(plans, defaultID)
}

// AddonCatalog builds the add-on catalog.
func (c *Config) AddonCatalog() credit.Catalog {
	addons := make([]credit.Addon, len(c.Addons.Bundles))
	for i, a := range c.Addons.Bundles {
		addons[i] = credit.Addon{ID: a.ID, Name: a.Name, Credits: a.Credits, PriceCents: a.PriceCents}
	}
	return credit.NewCatalog(addons, c.Addons.Cap)
}

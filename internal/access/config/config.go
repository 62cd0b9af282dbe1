package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// envPrefix is stripped from every environment variable before mapping.
const envPrefix = "GRACE_"

// AppConfig holds the gracegate daemon configuration.
type AppConfig struct {
	// Env is the runtime environment, either "dev" or "prod".
	Env string `koanf:"env" validate:"required,oneof=dev prod"`

	Log        LogConfig        `koanf:"log"`
	HTTP       HTTPConfig       `koanf:"http"`
	Store      StoreConfig      `koanf:"store"`
	Grace      GraceConfig      `koanf:"grace"`
	Navigation NavigationConfig `koanf:"navigation"`
	Matcher    MatcherConfig    `koanf:"matcher"`
	Rules      RulesConfig      `koanf:"rules"`
	RateLimit  RateLimitConfig  `koanf:"ratelimit"`
}

type LogConfig struct {
	// Level controls log verbosity: "debug", "info", "warn", or "error".
	Level string `koanf:"level" validate:"required,oneof=debug info warn error"`
}

type HTTPConfig struct {
	// Addr is the listen address of the API and WebSocket hub, e.g. ":8088".
	Addr string `koanf:"addr" validate:"required,listen_addr"`
}

// StoreConfig selects the key-value backend holding the persisted state.
type StoreConfig struct {
	Backend   string `koanf:"backend" validate:"required,oneof=bolt redis memory"`
	Path      string `koanf:"path" validate:"required_if=Backend bolt"`
	RedisAddr string `koanf:"redis_addr" validate:"required_if=Backend redis"`
	RedisDB   int    `koanf:"redis_db" validate:"gte=0"`
	// Key is the fixed storage key of the state record.
	Key string `koanf:"key" validate:"required"`
}

// GraceConfig bounds grace period issuance.
type GraceConfig struct {
	HourlyQuota   int           `koanf:"hourly_quota" validate:"gte=1"`
	MinDuration   time.Duration `koanf:"min_duration" validate:"gt=0s"`
	MaxDuration   time.Duration `koanf:"max_duration" validate:"gtefield=MinDuration"`
	SweepInterval time.Duration `koanf:"sweep_interval" validate:"gt=0s"`
	// Location names the time zone used for hour buckets ("Local" or an IANA name).
	Location string `koanf:"location" validate:"required,location"`
}

// NavigationConfig tunes duplicate suppression and enforcement delivery.
type NavigationConfig struct {
	DedupeWindow  time.Duration `koanf:"dedupe_window" validate:"gt=0s"`
	DedupeSize    int           `koanf:"dedupe_size" validate:"gte=1"`
	DeliveryDelay time.Duration `koanf:"delivery_delay" validate:"gte=0s"`
	RetryDelay    time.Duration `koanf:"retry_delay" validate:"gte=0s"`
}

type MatcherConfig struct {
	// PatternCacheSize bounds the compiled pattern cache.
	PatternCacheSize int `koanf:"pattern_cache_size" validate:"gte=1"`
	// DecisionCacheSize bounds the URL -> rule cache; 0 disables it.
	DecisionCacheSize int     `koanf:"decision_cache_size" validate:"gte=0"`
	BloomFPRate       float64 `koanf:"bloom_fp_rate" validate:"gt=0,lt=1"`
}

// RulesConfig points at an optional rule seed file.
type RulesConfig struct {
	SeedFile string `koanf:"seed_file"`
	Watch    bool   `koanf:"watch"`
}

// RateLimitConfig limits API requests per client IP. PerMinute 0 disables it.
type RateLimitConfig struct {
	PerMinute int `koanf:"per_minute" validate:"gte=0"`
	Burst     int `koanf:"burst" validate:"gte=1"`
}

// DEFAULT_APP_CONFIG mirrors the behavior of the browser extension this
// daemon replaces: three grants per hour, 30s-9m durations, a one minute
// sweep and a two second duplicate navigation window.
var DEFAULT_APP_CONFIG = AppConfig{
	Env:  "prod",
	Log:  LogConfig{Level: "info"},
	HTTP: HTTPConfig{Addr: ":8088"},
	Store: StoreConfig{
		Backend: "bolt",
		Path:    "/var/lib/gracegate/state.db",
		Key:     "website_blocker_data",
	},
	Grace: GraceConfig{
		HourlyQuota:   3,
		MinDuration:   30 * time.Second,
		MaxDuration:   9 * time.Minute,
		SweepInterval: time.Minute,
		Location:      "Local",
	},
	Navigation: NavigationConfig{
		DedupeWindow:  2 * time.Second,
		DedupeSize:    1024,
		DeliveryDelay: 100 * time.Millisecond,
		RetryDelay:    100 * time.Millisecond,
	},
	Matcher: MatcherConfig{
		PatternCacheSize:  512,
		DecisionCacheSize: 4096,
		BloomFPRate:       0.01,
	},
	RateLimit: RateLimitConfig{
		PerMinute: 600,
		Burst:     60,
	},
}

// sections lists the nested config sections. Env keys beginning with one of
// these (plus "_") are mapped into that section, e.g. GRACE_GRACE_HOURLY_QUOTA
// becomes grace.hourly_quota.
var sections = []string{"log", "http", "store", "grace", "navigation", "matcher", "rules", "ratelimit"}

// envKey maps a raw environment variable name onto a koanf path.
func envKey(raw string) string {
	key := strings.ToLower(strings.TrimPrefix(raw, envPrefix))
	for _, s := range sections {
		if strings.HasPrefix(key, s+"_") {
			return s + "." + strings.TrimPrefix(key, s+"_")
		}
	}
	return key
}

// validListenAddr accepts "host:port" or ":port" with a port in 1..65535.
func validListenAddr(fl validator.FieldLevel) bool {
	_, port, err := net.SplitHostPort(fl.Field().String())
	if err != nil || port == "" {
		return false
	}
	n, err := strconv.ParseUint(port, 10, 16)
	return err == nil && n > 0
}

// validLocation accepts "Local" in addition to anything time.LoadLocation resolves.
func validLocation(fl validator.FieldLevel) bool {
	name := fl.Field().String()
	if name == "" {
		return false
	}
	if strings.EqualFold(name, "local") {
		return true
	}
	_, err := time.LoadLocation(name)
	return err == nil
}

// envLoader loads GRACE_* environment variables and can be mocked in tests.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			return envKey(key), strings.TrimSpace(value)
		},
	}), nil)
}

// defaultLoader loads DEFAULT_APP_CONFIG through the structs provider.
var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DEFAULT_APP_CONFIG, "koanf"), nil)
}

// registerValidation registers the custom "listen_addr" and "location" tags.
var registerValidation = func(v *validator.Validate) error {
	if err := v.RegisterValidation("listen_addr", validListenAddr); err != nil {
		return err
	}
	return v.RegisterValidation("location", validLocation)
}

// Load builds an AppConfig from defaults and the environment, then validates it.
func Load() (*AppConfig, error) {
	k := koanf.New(".")

	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("error loading default config: %w", err)
	}
	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := registerValidation(validate); err != nil {
		return nil, fmt.Errorf("error registering validation: %w", err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return &cfg, nil
}

// TimeLocation resolves Grace.Location.
func (c *AppConfig) TimeLocation() (*time.Location, error) {
	if strings.EqualFold(c.Grace.Location, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(c.Grace.Location)
}

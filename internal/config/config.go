package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the daemon
type Config struct {
	DBPath    string
	Log       LogConfig
	Providers ProvidersConfig
	Poll      PollConfig
	Policy    PolicyConfig
	Cache     CacheConfig
	Watch     []WatchConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string
	Format string
}

// ProvidersConfig holds the upstream flight and traffic source endpoints
type ProvidersConfig struct {
	FlightBaseURL  string
	FlightAPIKey   string
	TrafficBaseURL string
	TrafficAPIKey  string
}

// PollConfig holds the adaptive polling and recomputation cadence
type PollConfig struct {
	NearInterval time.Duration // cadence within NearWindow of departure
	FarInterval  time.Duration // cadence before that
	NearWindow   time.Duration
	StaleAfter   time.Duration // snapshot age beyond which windows are low confidence
	Debounce     time.Duration // coalescing window for recomputation
	ExpiryGrace  time.Duration // slack past the deadline before forcing expiry
}

// PolicyConfig holds the buffer constants the window calculator works with.
// These vary by airport and airline class and are deliberately not code.
type PolicyConfig struct {
	CheckinBuffers        map[string]time.Duration // keyed by route class
	FallbackCheckinBuffer time.Duration
	DefaultGateClose      time.Duration
	Alpha                 float64
	ComfortMargin         time.Duration
	WidenFactor           float64 // pessimistic multiplier for depart-now estimates
}

// CacheConfig holds the provider response cache TTLs
type CacheConfig struct {
	FlightTTL       time.Duration
	RouteTTL        time.Duration
	RouteTimeBucket time.Duration
}

// WatchConfig describes one flight to monitor at startup
type WatchConfig struct {
	ID         string  `mapstructure:"id"`
	Carrier    string  `mapstructure:"carrier"`
	Number     string  `mapstructure:"number"`
	Date       string  `mapstructure:"date"`
	OriginLat  float64 `mapstructure:"origin_lat"`
	OriginLon  float64 `mapstructure:"origin_lon"`
	AirportLat float64 `mapstructure:"airport_lat"`
	AirportLon float64 `mapstructure:"airport_lon"`
	RouteClass string  `mapstructure:"route_class"`
}

// Load loads configuration from config file and environment variables
func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("db_path", "departly.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("providers.flight_base_url", "")
	v.SetDefault("providers.flight_api_key", "")
	v.SetDefault("providers.traffic_base_url", "")
	v.SetDefault("providers.traffic_api_key", "")
	v.SetDefault("poll.near_interval", "90s")
	v.SetDefault("poll.far_interval", "10m")
	v.SetDefault("poll.near_window", "3h")
	v.SetDefault("poll.stale_after", "10m")
	v.SetDefault("poll.debounce", "2s")
	v.SetDefault("poll.expiry_grace", "45m")
	v.SetDefault("policy.checkin_buffers", map[string]string{
		"domestic":      "45m",
		"international": "90m",
	})
	v.SetDefault("policy.fallback_checkin_buffer", "90m")
	v.SetDefault("policy.default_gate_close", "30m")
	v.SetDefault("policy.alpha", 0.3)
	v.SetDefault("policy.comfort_margin", "15m")
	v.SetDefault("policy.widen_factor", 1.35)
	v.SetDefault("cache.flight_ttl", "10m")
	v.SetDefault("cache.route_ttl", "30m")
	v.SetDefault("cache.route_time_bucket", "30m")

	// Set config file name and type
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// Set config file search paths
	v.AddConfigPath("/etc/departly")
	v.AddConfigPath(".")

	// Check for config file path from environment variable
	if configPath := os.Getenv("DEPARTLY_CONFIG_PATH"); configPath != "" {
		v.SetConfigFile(configPath)
	}

	// Read config file (if it exists)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error occurred
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults + env vars
	}

	// Set environment variable prefix
	v.SetEnvPrefix("DEPARTLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	buffers, err := parseBuffers(v.GetStringMapString("policy.checkin_buffers"))
	if err != nil {
		return nil, fmt.Errorf("invalid policy.checkin_buffers: %w", err)
	}

	// Build config struct
	cfg := &Config{
		DBPath: v.GetString("db_path"),
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Providers: ProvidersConfig{
			FlightBaseURL:  v.GetString("providers.flight_base_url"),
			FlightAPIKey:   v.GetString("providers.flight_api_key"),
			TrafficBaseURL: v.GetString("providers.traffic_base_url"),
			TrafficAPIKey:  v.GetString("providers.traffic_api_key"),
		},
		Poll: PollConfig{
			NearInterval: v.GetDuration("poll.near_interval"),
			FarInterval:  v.GetDuration("poll.far_interval"),
			NearWindow:   v.GetDuration("poll.near_window"),
			StaleAfter:   v.GetDuration("poll.stale_after"),
			Debounce:     v.GetDuration("poll.debounce"),
			ExpiryGrace:  v.GetDuration("poll.expiry_grace"),
		},
		Policy: PolicyConfig{
			CheckinBuffers:        buffers,
			FallbackCheckinBuffer: v.GetDuration("policy.fallback_checkin_buffer"),
			DefaultGateClose:      v.GetDuration("policy.default_gate_close"),
			Alpha:                 v.GetFloat64("policy.alpha"),
			ComfortMargin:         v.GetDuration("policy.comfort_margin"),
			WidenFactor:           v.GetFloat64("policy.widen_factor"),
		},
		Cache: CacheConfig{
			FlightTTL:       v.GetDuration("cache.flight_ttl"),
			RouteTTL:        v.GetDuration("cache.route_ttl"),
			RouteTimeBucket: v.GetDuration("cache.route_time_bucket"),
		},
	}

	if err := v.UnmarshalKey("watch", &cfg.Watch); err != nil {
		return nil, fmt.Errorf("invalid watch list: %w", err)
	}

	// Validate configuration
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func parseBuffers(raw map[string]string) (map[string]time.Duration, error) {
	out := make(map[string]time.Duration, len(raw))
	for class, val := range raw {
		d, err := time.ParseDuration(val)
		if err != nil {
			return nil, fmt.Errorf("route class %q: %w", class, err)
		}
		out[class] = d
	}
	return out, nil
}

// validate validates the configuration values
func validate(cfg *Config) error {
	if cfg.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}

	if cfg.Poll.NearInterval <= 0 || cfg.Poll.FarInterval <= 0 {
		return fmt.Errorf("poll intervals must be greater than 0")
	}

	if cfg.Poll.NearInterval > cfg.Poll.FarInterval {
		return fmt.Errorf("poll.near_interval must not exceed poll.far_interval")
	}

	if cfg.Poll.Debounce < 0 {
		return fmt.Errorf("poll.debounce must not be negative")
	}

	if cfg.Policy.Alpha < 0 || cfg.Policy.Alpha > 1 {
		return fmt.Errorf("policy.alpha must be between 0 and 1")
	}

	if cfg.Policy.FallbackCheckinBuffer <= 0 {
		return fmt.Errorf("policy.fallback_checkin_buffer must be greater than 0")
	}

	if cfg.Policy.DefaultGateClose <= 0 {
		return fmt.Errorf("policy.default_gate_close must be greater than 0")
	}

	for class, d := range cfg.Policy.CheckinBuffers {
		if d <= 0 {
			return fmt.Errorf("policy.checkin_buffers[%s] must be greater than 0", class)
		}
	}

	for i, w := range cfg.Watch {
		if w.Carrier == "" || w.Number == "" || w.Date == "" {
			return fmt.Errorf("watch[%d]: carrier, number and date are required", i)
		}
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(cfg.Log.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", cfg.Log.Level)
	}

	validLogFormats := map[string]bool{
		"text": true,
		"json": true,
	}
	if !validLogFormats[strings.ToLower(cfg.Log.Format)] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", cfg.Log.Format)
	}

	return nil
}

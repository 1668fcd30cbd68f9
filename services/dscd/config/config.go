package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StorageLevelDB = "leveldb"
	StorageMemory  = "memory"

	defaultListen = ":8547"
)

// Config captures the runtime settings for the stablecoin engine daemon.
type Config struct {
	ListenAddress   string              `yaml:"listen"`
	Environment     string              `yaml:"env"`
	ReadTimeout     time.Duration       `yaml:"readTimeout"`
	WriteTimeout    time.Duration       `yaml:"writeTimeout"`
	IdleTimeout     time.Duration       `yaml:"idleTimeout"`
	ShutdownTimeout time.Duration       `yaml:"shutdownTimeout"`
	Storage         string              `yaml:"storage"`
	DataDir         string              `yaml:"dataDir"`
	EngineConfig    string              `yaml:"engineConfig"`
	EventBuffer     int                 `yaml:"eventBuffer"`
	Log             LogConfig           `yaml:"log"`
	Auth            AuthConfig          `yaml:"auth"`
	RateLimits      RateLimitsConfig    `yaml:"rateLimits"`
	Observability   ObservabilityConfig `yaml:"observability"`
	CORS            CORSConfig          `yaml:"cors"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

// AuthConfig configures bearer token verification. The token subject is the
// account that acts on the engine.
type AuthConfig struct {
	Enabled          bool          `yaml:"enabled"`
	HMACSecret       string        `yaml:"hmacSecret"`
	Issuer           string        `yaml:"issuer"`
	Audience         string        `yaml:"audience"`
	ScopeClaim       string        `yaml:"scopeClaim"`
	ClockSkew        time.Duration `yaml:"clockSkew"`
	ReplayProtection bool          `yaml:"replayProtection"`
	ReplayWindow     time.Duration `yaml:"replayWindow"`
}

// RateLimit is a token bucket expressed per minute.
type RateLimit struct {
	RequestsPerMinute float64 `yaml:"requestsPerMinute"`
	Burst             int     `yaml:"burst"`
}

// RateLimitsConfig splits limits between read and state changing routes.
type RateLimitsConfig struct {
	Read  RateLimit `yaml:"read"`
	Write RateLimit `yaml:"write"`
}

// ObservabilityConfig toggles metrics, tracing and request logs.
type ObservabilityConfig struct {
	ServiceName string            `yaml:"serviceName"`
	Metrics     bool              `yaml:"metrics"`
	Tracing     bool              `yaml:"tracing"`
	LogRequests bool              `yaml:"logRequests"`
	Endpoint    string            `yaml:"endpoint"`
	Insecure    bool              `yaml:"insecure"`
	Headers     map[string]string `yaml:"headers"`
	SampleRatio float64           `yaml:"sampleRatio"`
}

// CORSConfig lists the browser origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

// Default returns the configuration applied before the file is decoded.
func Default() Config {
	return Config{
		ListenAddress:   defaultListen,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 5 * time.Second,
		Storage:         StorageLevelDB,
		DataDir:         "./dscd-data",
		EngineConfig:    "./engine.toml",
		EventBuffer:     1024,
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Auth: AuthConfig{
			Enabled:      true,
			ScopeClaim:   "scope",
			ClockSkew:    2 * time.Minute,
			ReplayWindow: 10 * time.Minute,
		},
		RateLimits: RateLimitsConfig{
			Read:  RateLimit{RequestsPerMinute: 600, Burst: 60},
			Write: RateLimit{RequestsPerMinute: 120, Burst: 20},
		},
		Observability: ObservabilityConfig{
			ServiceName: "dscd",
			Metrics:     true,
			LogRequests: true,
			Insecure:    true,
		},
	}
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// IsDev reports whether the daemon runs in the development environment.
func (cfg Config) IsDev() bool {
	return strings.EqualFold(cfg.Environment, "dev")
}

func (cfg *Config) normalize() {
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListen
	}
	cfg.Environment = strings.TrimSpace(cfg.Environment)
	cfg.Storage = strings.ToLower(strings.TrimSpace(cfg.Storage))
	if cfg.Storage == "" {
		cfg.Storage = StorageLevelDB
	}
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	cfg.EngineConfig = strings.TrimSpace(cfg.EngineConfig)
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	cfg.Log.File = strings.TrimSpace(cfg.Log.File)
	cfg.Auth.HMACSecret = strings.TrimSpace(cfg.Auth.HMACSecret)
	cfg.Auth.Issuer = strings.TrimSpace(cfg.Auth.Issuer)
	cfg.Auth.Audience = strings.TrimSpace(cfg.Auth.Audience)
	if cfg.Auth.ScopeClaim = strings.TrimSpace(cfg.Auth.ScopeClaim); cfg.Auth.ScopeClaim == "" {
		cfg.Auth.ScopeClaim = "scope"
	}
	if cfg.Observability.ServiceName = strings.TrimSpace(cfg.Observability.ServiceName); cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "dscd"
	}
	origins := make([]string, 0, len(cfg.CORS.AllowedOrigins))
	for _, origin := range cfg.CORS.AllowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	cfg.CORS.AllowedOrigins = origins
}

func (cfg *Config) validate() error {
	var errs []error
	switch cfg.Storage {
	case StorageLevelDB:
		if cfg.DataDir == "" {
			errs = append(errs, errors.New("dataDir is required for leveldb storage"))
		}
	case StorageMemory:
	default:
		errs = append(errs, fmt.Errorf("storage: unsupported backend %q", cfg.Storage))
	}
	if cfg.EngineConfig == "" {
		errs = append(errs, errors.New("engineConfig is required"))
	}
	if cfg.EventBuffer < 0 {
		errs = append(errs, errors.New("eventBuffer must not be negative"))
	}
	if err := cfg.Auth.validate(cfg.IsDev()); err != nil {
		errs = append(errs, fmt.Errorf("auth: %w", err))
	}
	for name, limit := range map[string]RateLimit{"read": cfg.RateLimits.Read, "write": cfg.RateLimits.Write} {
		if limit.RequestsPerMinute < 0 || limit.Burst < 0 {
			errs = append(errs, fmt.Errorf("rateLimits.%s: values must not be negative", name))
		}
	}
	if r := cfg.Observability.SampleRatio; r < 0 || r > 1 {
		errs = append(errs, errors.New("observability.sampleRatio must be within [0,1]"))
	}
	return errors.Join(errs...)
}

func (a AuthConfig) validate(dev bool) error {
	if !a.Enabled {
		if !dev {
			return errors.New("authentication may only be disabled when env=dev")
		}
		return nil
	}
	if len(a.HMACSecret) < 16 {
		return errors.New("hmacSecret must be at least 16 characters")
	}
	if a.ClockSkew < 0 {
		return errors.New("clockSkew must not be negative")
	}
	if a.ReplayProtection && a.ReplayWindow <= 0 {
		return errors.New("replayWindow must be positive when replay protection is enabled")
	}
	return nil
}

// Package config loads aprstrack configuration. Values come from an optional
// YAML file, then APRSTRACK_* environment variables (a .env file in the
// working directory is loaded first), and the result is validated.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Observer is the fixed ground station.
type Observer struct {
	Latitude  float64 `yaml:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `yaml:"longitude" validate:"gte=-180,lte=180"`
	Elevation float64 `yaml:"elevation" validate:"gte=-500,lte=9000"`
}

// Device is one tracked APRS station.
type Device struct {
	Name     string `yaml:"name" validate:"required"`
	Callsign string `yaml:"callsign" validate:"required"`
	Dialect  string `yaml:"dialect" validate:"oneof=light eagle"`
}

// APRS configures the aprs.fi client.
type APRS struct {
	BaseURL string        `yaml:"base_url" validate:"omitempty,url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

// Poll configures the loop driver's wait between cycles.
type Poll struct {
	BaseWait time.Duration `yaml:"base_wait" validate:"gt=0"`
	MaxWait  time.Duration `yaml:"max_wait" validate:"gte=0"`
}

// History configures retention and on-disk snapshots.
type History struct {
	MaxRecords   int           `yaml:"max_records" validate:"gte=0"`
	MaxAge       time.Duration `yaml:"max_age" validate:"gte=0"`
	ArchiveDir   string        `yaml:"archive_dir"`
	ArchiveFiles int           `yaml:"archive_files" validate:"gte=0"`
}

// HTTP configures the API listener and bearer auth.
type HTTP struct {
	Addr        string `yaml:"addr" validate:"required"`
	TrustProxy  bool   `yaml:"trust_proxy"`
	AuthEnabled bool   `yaml:"auth_enabled"`
	AuthToken   string `yaml:"auth_token" validate:"required_if=AuthEnabled true"`
}

// Stream configures the SSE update feed.
type Stream struct {
	MaxConcurrentPerIP int           `yaml:"max_concurrent_per_ip" validate:"gte=0"`
	MaxConcurrent      int           `yaml:"max_concurrent" validate:"gte=0"`
	KeepaliveInterval  time.Duration `yaml:"keepalive_interval" validate:"gte=0"`
	CheckInterval      time.Duration `yaml:"check_interval" validate:"gte=0"`
}

// Tracing configures OpenTelemetry spans.
type Tracing struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name"`
	Exporter    string  `yaml:"exporter" validate:"oneof=stdout otlp"`
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio" validate:"gte=0,lte=1"`
}

// Config is the complete process configuration.
type Config struct {
	Observer Observer `yaml:"observer"`
	APRS     APRS     `yaml:"aprs"`
	Devices  []Device `yaml:"devices" validate:"required,min=1,dive"`
	Poll     Poll     `yaml:"poll"`
	History  History  `yaml:"history"`
	HTTP     HTTP     `yaml:"http"`
	Stream   Stream   `yaml:"stream"`
	Tracing  Tracing  `yaml:"tracing"`
}

// Default returns the configuration used when nothing overrides it: the
// original ground station and the two balloon payloads.
func Default() Config {
	return Config{
		Observer: Observer{
			Latitude:  34.1391719,
			Longitude: -118.12713268,
			Elevation: 235.70712838,
		},
		APRS: APRS{
			BaseURL: "https://api.aprs.fi/api/get",
			Timeout: 30 * time.Second,
		},
		Devices: []Device{
			{Name: "light", Callsign: "KQ4AOR-11", Dialect: "light"},
			{Name: "eagle", Callsign: "KO6DNK-11", Dialect: "eagle"},
		},
		Poll: Poll{
			BaseWait: 120 * time.Second,
			MaxWait:  time.Hour,
		},
		History: History{
			MaxRecords:   50000,
			MaxAge:       7 * 24 * time.Hour,
			ArchiveDir:   "/tmp/aprstrack/history",
			ArchiveFiles: 5,
		},
		HTTP: HTTP{
			Addr: ":8080",
		},
		Stream: Stream{
			MaxConcurrentPerIP: 10,
			MaxConcurrent:      1000,
			KeepaliveInterval:  30 * time.Second,
			CheckInterval:      time.Second,
		},
		Tracing: Tracing{
			ServiceName: "aprstrack",
			Exporter:    "stdout",
			SampleRatio: 1.0,
		},
	}
}

var validate = validator.New()

// Load builds the configuration. path may be empty to skip the YAML file.
// Invalid environment values are logged and ignored; an invalid final
// configuration is an error.
func Load(path string, logger *slog.Logger) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("could not load .env file", "error", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg, logger)

	if err := Validate(cfg); err != nil {
		return cfg, err
	}

	logger.Info("config loaded",
		"config_file", path,
		"observer_lat", cfg.Observer.Latitude,
		"observer_lon", cfg.Observer.Longitude,
		"observer_elev", cfg.Observer.Elevation,
		"devices", len(cfg.Devices),
		"base_wait_seconds", cfg.Poll.BaseWait.Seconds(),
		"archive_dir", cfg.History.ArchiveDir,
		"auth_enabled", cfg.HTTP.AuthEnabled,
	)
	return cfg, nil
}

// Validate checks cfg against its struct constraints.
func Validate(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	seen := make(map[string]bool, len(cfg.Devices))
	for _, d := range cfg.Devices {
		if seen[d.Name] {
			return fmt.Errorf("invalid config: duplicate device name %q", d.Name)
		}
		seen[d.Name] = true
	}
	return nil
}

func applyEnv(cfg *Config, logger *slog.Logger) {
	envFloat(logger, "APRSTRACK_OBSERVER_LAT", &cfg.Observer.Latitude)
	envFloat(logger, "APRSTRACK_OBSERVER_LON", &cfg.Observer.Longitude)
	envFloat(logger, "APRSTRACK_OBSERVER_ELEVATION", &cfg.Observer.Elevation)

	envString("APRSTRACK_APRS_BASE_URL", &cfg.APRS.BaseURL)
	envString("APRSTRACK_APRS_API_KEY", &cfg.APRS.APIKey)
	envDuration(logger, "APRSTRACK_APRS_TIMEOUT", &cfg.APRS.Timeout)

	// name:callsign:dialect, comma separated.
	if v := os.Getenv("APRSTRACK_DEVICES"); v != "" {
		devices, err := parseDevices(v)
		if err != nil {
			logger.Warn("invalid APRSTRACK_DEVICES value, keeping configured devices", "value", v, "error", err)
		} else {
			cfg.Devices = devices
		}
	}

	envDuration(logger, "APRSTRACK_POLL_BASE_WAIT", &cfg.Poll.BaseWait)
	envDuration(logger, "APRSTRACK_POLL_MAX_WAIT", &cfg.Poll.MaxWait)

	envInt(logger, "APRSTRACK_HISTORY_MAX_RECORDS", &cfg.History.MaxRecords)
	envDuration(logger, "APRSTRACK_HISTORY_MAX_AGE", &cfg.History.MaxAge)
	envString("APRSTRACK_ARCHIVE_DIR", &cfg.History.ArchiveDir)
	envInt(logger, "APRSTRACK_ARCHIVE_FILES", &cfg.History.ArchiveFiles)

	envString("APRSTRACK_HTTP_ADDR", &cfg.HTTP.Addr)
	envBool(logger, "APRSTRACK_TRUST_PROXY", &cfg.HTTP.TrustProxy)
	envBool(logger, "APRSTRACK_AUTH_ENABLED", &cfg.HTTP.AuthEnabled)
	envString("APRSTRACK_AUTH_TOKEN", &cfg.HTTP.AuthToken)

	envInt(logger, "APRSTRACK_STREAM_MAX_CONCURRENT", &cfg.Stream.MaxConcurrentPerIP)
	envDuration(logger, "APRSTRACK_STREAM_KEEPALIVE_INTERVAL", &cfg.Stream.KeepaliveInterval)

	envBool(logger, "APRSTRACK_TRACING_ENABLED", &cfg.Tracing.Enabled)
	envString("APRSTRACK_TRACING_EXPORTER", &cfg.Tracing.Exporter)
	envString("APRSTRACK_OTLP_ENDPOINT", &cfg.Tracing.Endpoint)
	envFloat(logger, "APRSTRACK_TRACING_SAMPLE_RATIO", &cfg.Tracing.SampleRatio)
}

func parseDevices(v string) ([]Device, error) {
	var devices []Device
	for _, item := range strings.Split(v, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		parts := strings.Split(item, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("device %q: want name:callsign:dialect", item)
		}
		devices = append(devices, Device{Name: parts[0], Callsign: parts[1], Dialect: parts[2]})
	}
	if len(devices) == 0 {
		return nil, errors.New("no devices")
	}
	return devices, nil
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(logger *slog.Logger, key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		logger.Warn("invalid "+key+" value, using default", "value", v, "default", *dst)
		return
	}
	*dst = n
}

func envFloat(logger *slog.Logger, key string, dst *float64) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		logger.Warn("invalid "+key+" value, using default", "value", v, "default", *dst)
		return
	}
	*dst = f
}

func envBool(logger *slog.Logger, key string, dst *bool) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		logger.Warn("invalid "+key+" value, must be a boolean (true/false/1/0)", "value", v, "default", *dst)
		return
	}
	*dst = b
}

// envDuration accepts Go durations ("90s") or plain seconds ("90").
func envDuration(logger *slog.Logger, key string, dst *time.Duration) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil && n >= 0 {
		*dst = time.Duration(n) * time.Second
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		logger.Warn("invalid "+key+" value, using default", "value", v, "default", dst.String())
		return
	}
	*dst = d
}

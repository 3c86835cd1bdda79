// Package config manages application configuration loading and validation.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata" // monitor timezone must resolve on hosts without zoneinfo

	"gopkg.in/yaml.v3"
)

// SiteConfig describes the monitored storefront and how to talk to it.
type SiteConfig struct {
	BaseURL           string        `yaml:"baseURL"`
	CategoryURL       string        `yaml:"categoryURL"`
	PageSize          int           `yaml:"pageSize"`
	Impersonate       bool          `yaml:"impersonate"`
	Profiles          []string      `yaml:"profiles"`
	RequestTimeout    time.Duration `yaml:"requestTimeout"`
	WarmupTimeout     time.Duration `yaml:"warmupTimeout"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond"`
}

// MonitorConfig controls the polling cycle.
type MonitorConfig struct {
	PageWorkers   int           `yaml:"pageWorkers"`
	VerifyWorkers int           `yaml:"verifyWorkers"`
	CycleDelayMin time.Duration `yaml:"cycleDelayMin"`
	CycleDelayMax time.Duration `yaml:"cycleDelayMax"`
	EmptyBackoff  time.Duration `yaml:"emptyBackoff"`
	ResetHour     int           `yaml:"resetHour"`
	Timezone      string        `yaml:"timezone"`
}

// RedisConfig points the state store at a Redis instance.
type RedisConfig struct {
	URL      string `yaml:"url"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

// StateConfig selects the snapshot backend.
type StateConfig struct {
	Backend StateBackend `yaml:"backend"`
	Path    string       `yaml:"path"`
	Redis   RedisConfig  `yaml:"redis"`
}

// Destination holds one Telegram bot/chat pair.
type Destination struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatID"`
}

// Configured reports whether both credentials are present.
func (d Destination) Configured() bool {
	return d.BotToken != "" && d.ChatID != ""
}

// NotifyConfig configures delivery through the Telegram Bot API.
type NotifyConfig struct {
	APIBaseURL   string                 `yaml:"apiBaseURL"`
	Timeout      time.Duration          `yaml:"timeout"`
	CaptionLimit int                    `yaml:"captionLimit"`
	Destinations map[string]Destination `yaml:"destinations"`
}

// ServerConfig configures the status HTTP surface.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// TelemetryConfig configures OTLP exporters (metrics only).
type TelemetryConfig struct {
	OTLPEndpoint  string `yaml:"otlpEndpoint"`
	ServiceName   string `yaml:"serviceName"`
	OTLPInsecure  bool   `yaml:"otlpInsecure"`
	EnableMetrics bool   `yaml:"enableMetrics"`
}

// AppConfig is the unified stockwatch configuration sourced from YAML and the environment.
type AppConfig struct {
	Environment Environment     `yaml:"environment"`
	Site        SiteConfig      `yaml:"site"`
	Filters     []string        `yaml:"filters"`
	Monitor     MonitorConfig   `yaml:"monitor"`
	State       StateConfig     `yaml:"state"`
	Notify      NotifyConfig    `yaml:"notify"`
	Server      ServerConfig    `yaml:"server"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
}

// Default returns the configuration used when no file is supplied.
func Default() AppConfig {
	return AppConfig{
		Environment: EnvProd,
		Site: SiteConfig{
			BaseURL:           "https://www.sheinindia.in",
			CategoryURL:       "https://www.sheinindia.in/api/category/sverse-5939-37961",
			PageSize:          40,
			Impersonate:       true,
			Profiles:          []string{"chrome_110", "safari_15_6_1"},
			RequestTimeout:    60 * time.Second,
			WarmupTimeout:     15 * time.Second,
			RequestsPerSecond: 0,
		},
		Filters: []string{"Men", "Women"},
		Monitor: MonitorConfig{
			PageWorkers:   5,
			VerifyWorkers: 5,
			CycleDelayMin: 45 * time.Second,
			CycleDelayMax: 90 * time.Second,
			EmptyBackoff:  60 * time.Second,
			ResetHour:     7,
			Timezone:      "Asia/Kolkata",
		},
		State: StateConfig{
			Backend: BackendFile,
			Path:    "stock_state.json",
			Redis:   RedisConfig{URL: "", Addr: "", Password: "", DB: 0, Key: "stockwatch:state"},
		},
		Notify: NotifyConfig{
			APIBaseURL:   "https://api.telegram.org",
			Timeout:      30 * time.Second,
			CaptionLimit: 1024,
			Destinations: map[string]Destination{},
		},
		Server: ServerConfig{Addr: ":8080"},
		Telemetry: TelemetryConfig{
			OTLPEndpoint:  "",
			ServiceName:   "stockwatch",
			OTLPInsecure:  true,
			EnableMetrics: true,
		},
	}
}

// Load reads and validates an AppConfig from the provided YAML file, then applies
// environment overrides.
func Load(ctx context.Context, configPath string) (AppConfig, error) {
	_ = ctx

	reader, closer, err := openConfigFile(configPath)
	if err != nil {
		return AppConfig{}, err
	}
	defer closer()

	bytes, err := io.ReadAll(reader)
	if err != nil {
		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(bytes, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return finish(cfg)
}

// LoadOrDefault loads the file when it exists and falls back to defaults otherwise.
// The boolean reports whether the file was used.
func LoadOrDefault(ctx context.Context, configPath string) (AppConfig, bool, error) {
	cfg, err := Load(ctx, configPath)
	if err == nil {
		return cfg, true, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return AppConfig{}, false, err
	}
	cfg, err = finish(Default())
	if err != nil {
		return AppConfig{}, false, err
	}
	return cfg, false, nil
}

func finish(cfg AppConfig) (AppConfig, error) {
	cfg.applyEnv(os.LookupEnv)
	if err := cfg.normalise(); err != nil {
		return AppConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (c *AppConfig) normalise() error {
	c.Environment = Environment(strings.ToLower(strings.TrimSpace(string(c.Environment))))
	c.Site.BaseURL = strings.TrimRight(strings.TrimSpace(c.Site.BaseURL), "/")
	c.Site.CategoryURL = strings.TrimSpace(c.Site.CategoryURL)
	c.Notify.APIBaseURL = strings.TrimRight(strings.TrimSpace(c.Notify.APIBaseURL), "/")
	c.Server.Addr = strings.TrimSpace(c.Server.Addr)
	c.Telemetry.OTLPEndpoint = strings.TrimSpace(c.Telemetry.OTLPEndpoint)
	c.Telemetry.ServiceName = strings.TrimSpace(c.Telemetry.ServiceName)
	c.Monitor.Timezone = strings.TrimSpace(c.Monitor.Timezone)
	c.State.Backend = StateBackend(strings.ToLower(strings.TrimSpace(string(c.State.Backend))))
	c.State.Path = strings.TrimSpace(c.State.Path)
	if c.State.Path != "" {
		c.State.Path = filepath.Clean(c.State.Path)
	}

	filters := make([]string, 0, len(c.Filters))
	seen := make(map[string]struct{}, len(c.Filters))
	for _, f := range c.Filters {
		trimmed := strings.TrimSpace(f)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			return fmt.Errorf("duplicate filter %q", trimmed)
		}
		seen[trimmed] = struct{}{}
		filters = append(filters, trimmed)
	}
	c.Filters = filters

	profiles := make([]string, 0, len(c.Site.Profiles))
	for _, p := range c.Site.Profiles {
		if trimmed := strings.ToLower(strings.TrimSpace(p)); trimmed != "" {
			profiles = append(profiles, trimmed)
		}
	}
	c.Site.Profiles = profiles

	dests := make(map[string]Destination, len(c.Notify.Destinations))
	for name, d := range c.Notify.Destinations {
		dests[strings.TrimSpace(name)] = Destination{
			BotToken: strings.TrimSpace(d.BotToken),
			ChatID:   strings.TrimSpace(d.ChatID),
		}
	}
	c.Notify.Destinations = dests
	return nil
}

// Validate performs semantic validation on the configuration.
func (c AppConfig) Validate() error {
	switch c.Environment {
	case EnvDev, EnvStaging, EnvProd:
	default:
		return fmt.Errorf("environment must be one of dev, staging, prod")
	}

	if c.Site.BaseURL == "" {
		return fmt.Errorf("site baseURL required")
	}
	if c.Site.CategoryURL == "" {
		return fmt.Errorf("site categoryURL required")
	}
	if c.Site.PageSize <= 0 {
		return fmt.Errorf("site pageSize must be >0")
	}
	if c.Site.Impersonate && len(c.Site.Profiles) == 0 {
		return fmt.Errorf("site profiles required when impersonate is enabled")
	}
	if c.Site.RequestTimeout <= 0 {
		return fmt.Errorf("site requestTimeout must be >0")
	}
	if c.Site.WarmupTimeout <= 0 {
		return fmt.Errorf("site warmupTimeout must be >0")
	}
	if c.Site.RequestsPerSecond < 0 {
		return fmt.Errorf("site requestsPerSecond must be >=0")
	}

	if len(c.Filters) == 0 {
		return fmt.Errorf("at least one filter required")
	}

	if c.Monitor.PageWorkers <= 0 {
		return fmt.Errorf("monitor pageWorkers must be >0")
	}
	if c.Monitor.VerifyWorkers <= 0 {
		return fmt.Errorf("monitor verifyWorkers must be >0")
	}
	if c.Monitor.CycleDelayMin < 0 || c.Monitor.CycleDelayMax < c.Monitor.CycleDelayMin {
		return fmt.Errorf("monitor cycleDelayMin must be >=0 and <= cycleDelayMax")
	}
	if c.Monitor.EmptyBackoff < 0 {
		return fmt.Errorf("monitor emptyBackoff must be >=0")
	}
	if c.Monitor.ResetHour < 0 || c.Monitor.ResetHour > 23 {
		return fmt.Errorf("monitor resetHour must be within 0-23")
	}
	if _, err := time.LoadLocation(c.Monitor.Timezone); err != nil {
		return fmt.Errorf("monitor timezone: %w", err)
	}

	switch c.State.Backend {
	case BackendFile:
		if c.State.Path == "" {
			return fmt.Errorf("state path required for file backend")
		}
	case BackendRedis:
		if strings.TrimSpace(c.State.Redis.Addr) == "" && strings.TrimSpace(c.State.Redis.URL) == "" {
			return fmt.Errorf("state redis url or addr required for redis backend")
		}
		if strings.TrimSpace(c.State.Redis.Key) == "" {
			return fmt.Errorf("state redis key required for redis backend")
		}
	default:
		return fmt.Errorf("state backend must be one of file, redis")
	}

	if c.Notify.APIBaseURL == "" {
		return fmt.Errorf("notify apiBaseURL required")
	}
	if c.Notify.Timeout <= 0 {
		return fmt.Errorf("notify timeout must be >0")
	}
	if c.Notify.CaptionLimit <= 0 {
		return fmt.Errorf("notify captionLimit must be >0")
	}

	if c.Server.Addr == "" {
		return fmt.Errorf("server addr required")
	}
	if c.Telemetry.ServiceName == "" {
		return fmt.Errorf("telemetry serviceName required")
	}
	return nil
}

// MissingCredentials lists the filters whose notification destination lacks a bot token or chat id.
func (c AppConfig) MissingCredentials() []string {
	var missing []string
	for _, f := range c.Filters {
		if !c.Notify.Destinations[f].Configured() {
			missing = append(missing, f)
		}
	}
	return missing
}

func openConfigFile(path string) (io.Reader, func(), error) {
	candidate := strings.TrimSpace(path)
	candidate = filepath.Clean(candidate)

	file, err := os.Open(candidate) // #nosec G304 -- path is operator controlled.
	if err != nil {
		return nil, nil, fmt.Errorf("open app config: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}
